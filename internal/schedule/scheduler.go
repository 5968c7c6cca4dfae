// Package schedule runs the agent's periodic jobs on a one-minute tick:
// health heartbeat, weekday morning briefing, Monday digest, nightly backup,
// and audit retention pruning. Cron lines are evaluated with gronx; a job
// that fails logs and audits the failure but never stops the loop.
package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/ian/internal/audit"
	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
	"github.com/nextlevelbuilder/ian/internal/memory"
	"github.com/nextlevelbuilder/ian/internal/providers"
	"github.com/nextlevelbuilder/ian/internal/store"
)

// Fallback cron lines when config leaves one empty, plus the fixed audit
// prune slot (after the backup window so pruning never races a copy).
const (
	defaultBriefingCron = "0 8 * * 1-5"
	defaultDigestCron   = "0 9 * * 1"
	defaultBackupCron   = "0 2 * * *"
	auditPruneCron      = "30 2 * * *"

	backupRetentionDays = 30
	briefingMaxTokens   = 300
)

// Scheduler owns the tick loop. All collaborators are shared with the
// dispatcher; the scheduler only ever posts to the control channel.
type Scheduler struct {
	cfg      *config.Config
	client   chat.Client
	db       *sql.DB
	provider providers.Provider
	notes    *store.NoteStore
	md       *memory.Markdown
	audit    *audit.Logger

	gron          *gronx.Gronx
	briefingCron  string
	digestCron    string
	backupCron    string
	lastHeartbeat time.Time
	now           func() time.Time
}

// New wires the scheduler. client must be the cheap-model identity — every
// scheduled post is routine traffic.
func New(cfg *config.Config, client chat.Client, db *sql.DB, provider providers.Provider,
	notes *store.NoteStore, md *memory.Markdown, auditLog *audit.Logger) *Scheduler {
	s := &Scheduler{
		cfg:          cfg,
		client:       client,
		db:           db,
		provider:     provider,
		notes:        notes,
		md:           md,
		audit:        auditLog,
		gron:         gronx.New(),
		briefingCron: cfg.Scheduler.DailyBriefingCron,
		digestCron:   cfg.Scheduler.WeeklyDigestCron,
		backupCron:   cfg.Scheduler.NightlyBackupCron,
		now:          time.Now,
	}
	if s.briefingCron == "" {
		s.briefingCron = defaultBriefingCron
	}
	if s.digestCron == "" {
		s.digestCron = defaultDigestCron
	}
	if s.backupCron == "" {
		s.backupCron = defaultBackupCron
	}
	return s
}

// Run ticks once a minute until ctx is canceled. Returns immediately when
// the scheduler is disabled in config.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Scheduler.Enabled {
		slog.Info("scheduler disabled via config")
		return
	}

	for _, expr := range []string{s.briefingCron, s.digestCron, s.backupCron} {
		if !s.gron.IsValid(expr) {
			slog.Warn("invalid cron expression, job will never fire", "cron", expr)
		}
	}

	s.lastHeartbeat = s.now()
	slog.Info("scheduler started",
		"heartbeat_hours", s.cfg.Heartbeat.IntervalHours,
		"briefing", s.briefingCron,
		"digest", s.digestCron,
		"backup", s.backupCron)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.heartbeatDue(now) {
		s.lastHeartbeat = now
		s.runJob(ctx, "heartbeat", s.heartbeat)
	}
	if s.due(s.briefingCron, now) {
		s.runJob(ctx, "daily_briefing", s.dailyBriefing)
	}
	if s.due(s.digestCron, now) {
		s.runJob(ctx, "weekly_digest", s.weeklyDigest)
	}
	if s.due(s.backupCron, now) {
		s.runJob(ctx, "nightly_backup", s.nightlyBackup)
	}
	if s.due(auditPruneCron, now) {
		s.runJob(ctx, "audit_prune", s.pruneAudit)
	}
}

func (s *Scheduler) due(expr string, now time.Time) bool {
	ok, err := s.gron.IsDue(expr, now)
	if err != nil {
		slog.Warn("cron evaluation failed", "cron", expr, "error", err)
		return false
	}
	return ok
}

func (s *Scheduler) heartbeatDue(now time.Time) bool {
	hours := s.cfg.Heartbeat.IntervalHours
	if hours <= 0 {
		hours = 6
	}
	return now.Sub(s.lastHeartbeat) >= time.Duration(hours)*time.Hour
}

// runJob isolates one job run: a panic or error is logged and audited,
// never propagated to the tick loop.
func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled job panicked", "job", name, "panic", r)
			s.audit.Error(fmt.Sprintf("scheduled job %s panicked", name), fmt.Errorf("%v", r))
		}
	}()
	if err := job(ctx); err != nil {
		slog.Error("scheduled job failed", "job", name, "error", err)
		s.audit.Error(fmt.Sprintf("scheduled job %s failed", name), err)
	}
}

// heartbeat is the zero-cost self check: platform auth, one DB read, one
// audit record. A failure alerts the control channel.
func (s *Scheduler) heartbeat(ctx context.Context) error {
	ok := true
	details := map[string]any{"ts": s.now().UTC().Format(time.RFC3339)}

	if info, err := s.client.AuthTest(ctx); err != nil {
		details["slack"] = "ERROR: " + err.Error()
		ok = false
	} else {
		details["slack"] = info.User
	}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		details["db"] = "ERROR: " + err.Error()
		ok = false
	} else {
		details["db"] = "ok"
	}

	s.audit.Heartbeat(ok, details)
	slog.Info("heartbeat", "ok", ok, "slack", details["slack"], "db", details["db"])

	if !ok {
		if _, err := s.client.PostMessage(ctx, s.cfg.Slack.ControlChannelID,
			fmt.Sprintf(":red_circle: IAN heartbeat failed: %v", details), ""); err != nil {
			return fmt.Errorf("post heartbeat alert: %w", err)
		}
	}
	return nil
}

// dailyBriefing asks the cheap model for a morning summary built from
// today's note and recent memory, and posts it to the control channel.
func (s *Scheduler) dailyBriefing(ctx context.Context) error {
	today := s.now().Format("Monday, January 2 2006")

	dailyNote, found, err := s.md.TodayNote()
	if err != nil || !found || strings.TrimSpace(dailyNote) == "" {
		dailyNote = "No notes yet today."
	}

	recent, err := s.notes.Search(ctx, "project status", 3)
	if err != nil {
		slog.Warn("briefing note search failed", "error", err)
	}
	var noteLines []string
	for _, n := range recent {
		noteLines = append(noteLines, "- "+truncate(n.Content, 100))
	}

	prompt := fmt.Sprintf(
		"Today is %s. Write a short morning briefing for the owner (3-5 bullet points).\n"+
			"Today's notes: %s\n"+
			"Recent memory: %s\n"+
			"Be concise and actionable.",
		today, truncate(dailyNote, 500), strings.Join(noteLines, "\n"))

	briefing, err := s.modelCall(ctx, prompt)
	if err != nil {
		return fmt.Errorf("briefing model call: %w", err)
	}
	if _, err := s.client.PostMessage(ctx, s.cfg.Slack.ControlChannelID,
		":sunrise: *Good morning!*\n"+briefing, ""); err != nil {
		return fmt.Errorf("post briefing: %w", err)
	}
	return nil
}

// weeklyDigest posts a Monday recap.
func (s *Scheduler) weeklyDigest(ctx context.Context) error {
	prompt := "Write a brief weekly digest for the owner (3-5 bullets).\n" +
		"Cover: what was accomplished, what's next, any blockers.\n" +
		"Be concise."

	digest, err := s.modelCall(ctx, prompt)
	if err != nil {
		return fmt.Errorf("digest model call: %w", err)
	}
	if _, err := s.client.PostMessage(ctx, s.cfg.Slack.ControlChannelID,
		":calendar: *Weekly Digest*\n"+digest, ""); err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	return nil
}

func (s *Scheduler) modelCall(ctx context.Context, prompt string) (string, error) {
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model:     s.cfg.Anthropic.ModelDefault,
		MaxTokens: briefingMaxTokens,
		Messages:  []providers.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// nightlyBackup snapshots the database and the markdown tree into a dated
// directory next to the DB, then prunes snapshots past retention.
func (s *Scheduler) nightlyBackup(ctx context.Context) error {
	dest := filepath.Join(s.backupRoot(), s.now().Format("2006-01-02"))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	// VACUUM INTO writes a consistent snapshot even while workers keep the
	// WAL busy; it refuses to overwrite, so clear any partial copy first.
	dbCopy := filepath.Join(dest, filepath.Base(s.cfg.Memory.DBPath))
	if err := os.Remove(dbCopy); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale db snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dbCopy); err != nil {
		return fmt.Errorf("snapshot db: %w", err)
	}

	mdDest := filepath.Join(dest, "markdown")
	if err := os.RemoveAll(mdDest); err != nil {
		return fmt.Errorf("clear stale markdown copy: %w", err)
	}
	if err := os.CopyFS(mdDest, os.DirFS(s.md.Root())); err != nil {
		return fmt.Errorf("copy markdown: %w", err)
	}

	slog.Info("backup complete", "dest", dest)
	return s.pruneBackups()
}

func (s *Scheduler) backupRoot() string {
	return filepath.Join(filepath.Dir(s.cfg.Memory.DBPath), "backups")
}

func (s *Scheduler) pruneBackups() error {
	entries, err := os.ReadDir(s.backupRoot())
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	cutoff := s.now().AddDate(0, 0, -backupRetentionDays)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(s.backupRoot(), e.Name())
			if err := os.RemoveAll(path); err != nil {
				slog.Warn("backup prune failed", "path", path, "error", err)
				continue
			}
			slog.Info("backup pruned", "path", path)
		}
	}
	return nil
}

func (s *Scheduler) pruneAudit(context.Context) error {
	if s.cfg.Audit.RetentionDays <= 0 {
		return nil
	}
	pruned, err := s.audit.Prune(s.cfg.Audit.RetentionDays)
	if err != nil {
		return fmt.Errorf("prune audit transcripts: %w", err)
	}
	if pruned > 0 {
		slog.Info("audit transcripts pruned", "files", pruned)
	}
	return nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
