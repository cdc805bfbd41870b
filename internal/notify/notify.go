// Package notify delivers scan and sync summaries to webhooks and Telegram.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"v20-scanner/internal/config"
	"v20-scanner/internal/models"
	"v20-scanner/internal/store"
)

// Channel is one notification destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

type NotificationType string

const (
	NotificationCandidates NotificationType = "candidates"
	NotificationSync       NotificationType = "sync"
	NotificationError      NotificationType = "error"
)

// Notification is the channel-neutral message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationLevel selects which notification types are delivered.
type NotificationLevel string

const (
	LevelAll            NotificationLevel = "all"
	LevelCandidatesOnly NotificationLevel = "candidates_only"
	LevelErrorsOnly     NotificationLevel = "errors_only"
)

// allowed lists the types passed by each restrictive level; LevelAll passes
// everything.
var allowed = map[NotificationLevel]NotificationType{
	LevelCandidatesOnly: NotificationCandidates,
	LevelErrorsOnly:     NotificationError,
}

const maxListed = 25

// MultiNotifier fans a notification out to every enabled channel.
type MultiNotifier struct {
	level NotificationLevel

	mu       sync.RWMutex
	channels []Channel
}

// NewMultiNotifier builds the channels enabled in cfg. A notifier with no
// channels accepts and drops everything.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{level: NotificationLevel(cfg.Level)}
	if cfg.Webhook.Enabled {
		mn.AddChannel(NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.AddChannel(NewTelegramNotifier(cfg.Telegram))
	}
	return mn
}

func (mn *MultiNotifier) AddChannel(ch Channel) {
	mn.mu.Lock()
	mn.channels = append(mn.channels, ch)
	mn.mu.Unlock()
}

// Enabled reports whether any channel would deliver.
func (mn *MultiNotifier) Enabled() bool {
	return len(mn.active()) > 0
}

func (mn *MultiNotifier) active() []Channel {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	var out []Channel
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			out = append(out, ch)
		}
	}
	return out
}

func (mn *MultiNotifier) passes(t NotificationType) bool {
	only, restricted := allowed[mn.level]
	return !restricted || only == t
}

// Send delivers n to all enabled channels concurrently. A failing channel
// does not stop the others; all failures are returned joined.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.passes(n.Type) {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	p := pool.New().WithErrors().WithContext(ctx)
	for _, ch := range mn.active() {
		p.Go(func(ctx context.Context) error {
			if err := ch.Send(ctx, n); err != nil {
				return fmt.Errorf("%s: %w", ch.Name(), err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("notification errors: %w", err)
	}
	return nil
}

// SendCandidates lists a scan's candidates, at most maxListed lines. Empty
// scans are not reported.
func (mn *MultiNotifier) SendCandidates(ctx context.Context, scanID string, candidates []models.BreakoutCandidate) error {
	if len(candidates) == 0 {
		return nil
	}

	shown := candidates
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	lines := make([]string, 0, len(shown)+1)
	for _, c := range shown {
		lines = append(lines, c.String())
	}
	if extra := len(candidates) - len(shown); extra > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more", extra))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationCandidates,
		Title:   fmt.Sprintf("V20: %d breakout candidate(s) in %s", len(candidates), strings.Join(distinctSymbols(candidates), ", ")),
		Message: strings.Join(lines, "\n"),
		Data: map[string]interface{}{
			"scan_id":    scanID,
			"candidates": candidates,
		},
	})
}

func distinctSymbols(candidates []models.BreakoutCandidate) []string {
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		if _, dup := seen[c.Symbol]; !dup {
			seen[c.Symbol] = struct{}{}
			out = append(out, c.Symbol)
		}
	}
	return out
}

// SendCycle summarises a sync run. A run with failed symbols goes out as an
// error notification.
func (mn *MultiNotifier) SendCycle(ctx context.Context, run store.SyncRun) error {
	st := run.Stats
	failed := st.Failed + st.FileError

	n := Notification{
		Type:  NotificationSync,
		Title: fmt.Sprintf("V20 sync: %d symbols up to %s", st.Total, run.Target.Format(models.DisplayDateLayout)),
		Message: fmt.Sprintf("fresh %d, updated %d, initial %d, no new data %d, failed %d, file errors %d, suspended %d",
			st.Fresh, st.Updated, st.InitialDownload, st.NoNewData, st.Failed, st.FileError, st.Suspended),
		Data:      map[string]interface{}{"run_id": run.ID, "stats": st},
		Timestamp: run.FinishedAt,
	}
	if failed > 0 {
		n.Type = NotificationError
		n.Title = fmt.Sprintf("V20 sync: %d of %d symbols failed", failed, st.Total)
	}
	return mn.Send(ctx, n)
}

// SendError reports an error that stopped a scheduled job.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, where string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "V20 error: " + where,
		Message: err.Error(),
	})
}
