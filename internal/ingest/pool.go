// Package ingest polls watched channels and feeds new messages, one bounded
// queue and one worker per channel, into the dispatcher. Per-channel FIFO
// order is the delivery guarantee; channels never block each other.
//
// Polling replaces any push transport on purpose: the agent runs on user
// tokens with no public URL, and a short fixed interval is enough for a
// single-owner assistant.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/ian/internal/chat"
	"github.com/nextlevelbuilder/ian/internal/config"
)

const (
	// queueSize bounds each channel queue so a stalled worker applies
	// backpressure to its poller instead of growing without limit.
	queueSize = 100

	historyLimit = 20

	workerJoinTimeout = 10 * time.Second
)

// Subtypes that are never user input: the agent's own posts, edits,
// deletions, and join notices.
var droppedSubtypes = map[string]bool{
	"bot_message":     true,
	"message_changed": true,
	"message_deleted": true,
	"channel_join":    true,
}

// Handler consumes one admitted message.
type Handler interface {
	Dispatch(ctx context.Context, msg chat.Message)
}

// Pool owns the pollers, queues, and workers for every watched channel:
// the control channel plus each configured client channel.
type Pool struct {
	cfg      *config.Config
	client   chat.Client
	handler  Handler
	selfIDs  map[string]bool
	channels []string
	queues   map[string]chan chat.Message
	interval time.Duration
	now      func() time.Time
}

// New builds the pool. selfIDs are the agent's own account user ids; their
// messages are always dropped so the agent never answers itself.
func New(cfg *config.Config, client chat.Client, handler Handler, selfIDs []string) *Pool {
	ids := make(map[string]bool, len(selfIDs))
	for _, id := range selfIDs {
		if id != "" {
			ids[id] = true
		}
	}

	channels := []string{cfg.Slack.ControlChannelID}
	seen := map[string]bool{cfg.Slack.ControlChannelID: true}
	for _, ch := range cfg.Slack.ClientChannels {
		if ch == "" {
			continue
		}
		if seen[ch] {
			slog.Warn("channel listed twice in config, polling once", "channel", ch)
			continue
		}
		seen[ch] = true
		channels = append(channels, ch)
	}

	queues := make(map[string]chan chat.Message, len(channels))
	for _, ch := range channels {
		queues[ch] = make(chan chat.Message, queueSize)
	}

	interval := cfg.Slack.PollInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Pool{
		cfg:      cfg,
		client:   client,
		handler:  handler,
		selfIDs:  ids,
		channels: channels,
		queues:   queues,
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is canceled, then closes the queues and gives the
// workers a bounded window to drain in-flight messages.
func (p *Pool) Run(ctx context.Context) error {
	// Workers keep processing after shutdown starts; detach them from the
	// poller cancellation and bound the drain with the join timeout instead.
	workCtx := context.WithoutCancel(ctx)
	var workers sync.WaitGroup
	for _, ch := range p.channels {
		workers.Add(1)
		go func(channelID string, q <-chan chat.Message) {
			defer workers.Done()
			p.work(workCtx, channelID, q)
		}(ch, p.queues[ch])
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, ch := range p.channels {
		g.Go(func() error { return p.pollChannel(ctx, ch) })
	}
	err := g.Wait()

	for _, q := range p.queues {
		close(q)
	}
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(workerJoinTimeout):
		slog.Warn("channel workers did not exit within join timeout", "timeout", workerJoinTimeout)
	}
	return err
}

// Enqueue hands a synthetic message to its channel's worker, preserving the
// same FIFO path that polled messages take. Workflows use this to chain
// steps (for example an approved brainstorm triggering a plan). Channels the
// pool does not watch fall back to the control queue.
func (p *Pool) Enqueue(msg chat.Message) {
	q, ok := p.queues[msg.Channel]
	if !ok {
		q = p.queues[p.cfg.Slack.ControlChannelID]
	}
	q <- msg
}

// pollChannel is the sleep-then-fetch loop for one channel. The cursor
// starts at startup time so only messages arriving afterwards are handled;
// it advances over every fetched message, admitted or not.
func (p *Pool) pollChannel(ctx context.Context, channelID string) error {
	cursor := formatTS(p.now())
	slog.Info("poller started", "channel", channelID, "interval", p.interval)

	delay := p.interval
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller stopped", "channel", channelID)
			return nil
		case <-time.After(delay):
		}
		delay = p.interval

		msgs, err := p.client.History(ctx, channelID, cursor, historyLimit)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("poller stopped", "channel", channelID)
				return nil
			}
			var rl *chat.RateLimitedError
			if errors.As(err, &rl) {
				delay = rl.RetryAfter
				if delay <= 0 {
					delay = time.Minute
				}
				slog.Warn("rate limited, backing off", "channel", channelID, "retry_after", delay)
			} else {
				slog.Error("history poll failed", "channel", channelID, "error", err)
			}
			continue
		}

		// Newest first from the API; deliver oldest first.
		for i := len(msgs) - 1; i >= 0; i-- {
			msg := msgs[i]
			if msg.TS > cursor {
				cursor = msg.TS
			}
			if !p.admit(channelID, msg) {
				continue
			}
			select {
			case p.queues[channelID] <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// admit applies the channel's sender policy. The control channel (and any
// other non-client channel) is owner-only; client channels accept any real
// user except the owner, who talks to clients directly without the agent
// answering over them. The agent's own accounts are dropped everywhere.
func (p *Pool) admit(channelID string, msg chat.Message) bool {
	if droppedSubtypes[msg.Subtype] {
		return false
	}
	if p.selfIDs[msg.User] {
		return false
	}
	if p.cfg.Slack.IsClientChannel(channelID) {
		return msg.User != "" && msg.User != p.cfg.Slack.OwnerUserID
	}
	return msg.User == p.cfg.Slack.OwnerUserID
}

func (p *Pool) work(ctx context.Context, channelID string, q <-chan chat.Message) {
	for msg := range q {
		p.handler.Dispatch(ctx, msg)
	}
	slog.Debug("worker drained", "channel", channelID)
}

// formatTS renders a time as a Slack-style seconds.micros timestamp.
func formatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
