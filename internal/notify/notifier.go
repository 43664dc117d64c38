// Package notify delivers session alerts to chat channels. Alerts go to every
// registered sender (Telegram, Discord) and are filtered by event type so
// operators receive only what they asked for.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types accepted by the notify.events setting.
const (
	EventSessionFailed    = "session_failed"
	EventSessionCompleted = "session_completed"
	EventGapDetected      = "gap_detected"
)

// KnownEvents lists every event type a Notifier can emit.
var KnownEvents = []string{EventSessionFailed, EventSessionCompleted, EventGapDetected}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the sender identifier (e.g. "telegram").
	Name() string
}

// Report summarizes one finished session.
type Report struct {
	RunID    string
	Session  string
	Status   string
	Packets  uint64
	Messages uint64
	Changes  uint64
	Gaps     int
	Elapsed  time.Duration
	Err      error
}

// Notifier dispatches notifications to one or more Senders. Only event types
// in its allowed set are forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to senders. An empty events
// slice allows every event type. A Notifier without senders is a no-op.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends a notification to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// SessionFinished emits the alerts that apply to r: session_failed or
// session_completed by status, plus gap_detected when gaps were seen.
func (n *Notifier) SessionFinished(ctx context.Context, r Report) error {
	if !n.Enabled() {
		return nil
	}

	event := EventSessionCompleted
	if r.Err != nil || r.Status == "failed" {
		event = EventSessionFailed
	}

	var errs []string
	title := fmt.Sprintf("cfebook: session %s %s", r.Session, r.Status)
	if err := n.Notify(ctx, event, title, formatReport(r)); err != nil {
		errs = append(errs, err.Error())
	}
	if r.Gaps > 0 {
		gapTitle := fmt.Sprintf("cfebook: %d sequence gap(s) in %s", r.Gaps, r.Session)
		if err := n.Notify(ctx, EventGapDetected, gapTitle, formatReport(r)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

func formatReport(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\n", r.RunID)
	fmt.Fprintf(&b, "packets %d, messages %d, bbo changes %d, gaps %d\n", r.Packets, r.Messages, r.Changes, r.Gaps)
	fmt.Fprintf(&b, "elapsed %s", r.Elapsed.Round(time.Millisecond))
	if r.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", r.Err)
	}
	return b.String()
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
