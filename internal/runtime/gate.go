// Package runtime exposes the remote on/off switch for the agent. A master
// dashboard owns the desired state; the gate polls its control endpoint and
// the dispatcher consults Enabled() before doing any work. Unreachable or
// unconfigured control plane means enabled — the agent must not brick itself
// because a dashboard is down.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/ian/internal/config"
)

const defaultPollSeconds = 30

// State is the last control-plane answer.
type State struct {
	Enabled      bool
	DesiredState string
	UpdatedAt    string
	Note         string
}

// Gate polls /master/ian-control and mirrors the answer into an atomic flag.
type Gate struct {
	cfg        config.ControlConfig
	httpClient *http.Client

	enabled atomic.Bool

	mu    sync.Mutex
	state State
}

// NewGate builds a gate that starts enabled. Call Run to keep it synced.
func NewGate(cfg config.ControlConfig) *Gate {
	g := &Gate{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		state:      State{Enabled: true, DesiredState: "on"},
	}
	g.enabled.Store(true)
	return g
}

// Enabled reports whether the agent may process assignments. Lock-free; safe
// from any goroutine.
func (g *Gate) Enabled() bool { return g.enabled.Load() }

// State returns a copy of the last control answer.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) configured() bool {
	return g.cfg.SyncEnabled && g.cfg.APIURL != "" && g.cfg.APIKey != ""
}

func (g *Gate) apiBase() string { return strings.TrimRight(g.cfg.APIURL, "/") }

// controlResponse mirrors the dashboard payload. Enabled is a pointer so an
// absent field still means on.
type controlResponse struct {
	Enabled      *bool  `json:"enabled"`
	DesiredState string `json:"desired_state"`
	UpdatedAt    string `json:"updated_at"`
	Note         string `json:"note"`
}

// Refresh fetches the control state once. Any failure keeps the previous
// state — transient dashboard errors never flip the switch.
func (g *Gate) Refresh(ctx context.Context) State {
	if !g.configured() {
		return g.State()
	}

	var resp controlResponse
	if err := g.get(ctx, "/master/ian-control", &resp); err != nil {
		slog.Warn("runtime control refresh failed", "error", err)
		return g.State()
	}

	enabled := true
	if resp.Enabled != nil {
		enabled = *resp.Enabled
	}
	desired := resp.DesiredState
	if desired == "" {
		desired = "on"
	}

	g.mu.Lock()
	g.state = State{
		Enabled:      enabled,
		DesiredState: desired,
		UpdatedAt:    resp.UpdatedAt,
		Note:         resp.Note,
	}
	g.mu.Unlock()
	g.enabled.Store(enabled)
	return g.State()
}

// heartbeatBody is what the dashboard expects on /master/ian-heartbeat.
type heartbeatBody struct {
	AgentType   string            `json:"agent_type"`
	WorkState   string            `json:"work_state"`
	Status      string            `json:"status"`
	CurrentTask *string           `json:"current_task"`
	Metadata    map[string]string `json:"metadata"`
}

// PushHeartbeat reports the agent's work state upstream. Best-effort.
func (g *Gate) PushHeartbeat(ctx context.Context, workState string) {
	if !g.configured() {
		return
	}
	status := "online"
	if workState == "off" {
		status = "offline"
	}
	body := heartbeatBody{
		AgentType: "ian",
		WorkState: workState,
		Status:    status,
		Metadata:  map[string]string{"source": "runtime_control_poll"},
	}
	if err := g.post(ctx, "/master/ian-heartbeat", body); err != nil {
		slog.Warn("runtime control heartbeat failed", "work_state", workState, "error", err)
	}
}

// Run polls the control endpoint until ctx is canceled. Unconfigured gates
// return immediately and stay enabled.
func (g *Gate) Run(ctx context.Context) {
	if !g.configured() {
		slog.Info("runtime control sync disabled")
		return
	}

	interval := time.Duration(g.cfg.PollSeconds) * time.Second
	if interval <= 0 {
		interval = defaultPollSeconds * time.Second
	}
	slog.Info("runtime control loop started", "poll_interval", interval)

	g.tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("runtime control loop stopped")
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

func (g *Gate) tick(ctx context.Context) {
	state := g.Refresh(ctx)
	if state.Enabled {
		g.PushHeartbeat(ctx, "idle")
	} else {
		g.PushHeartbeat(ctx, "off")
	}
}

func (g *Gate) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase()+path, nil)
	if err != nil {
		return fmt.Errorf("build control request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode control response: %w", err)
	}
	return nil
}

func (g *Gate) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal control body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase()+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build control request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("control POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("control POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func (g *Gate) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.cfg.APIKey)
}
