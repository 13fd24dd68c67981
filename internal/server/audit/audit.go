// Package audit provides the append-only access trail sink. Recording is
// best-effort: callers fire and continue, and no failure here may ever
// unwind past Record into the operation that triggered it.
package audit

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"coffer/internal/core"
	"coffer/internal/server/database"
)

// Action tags form a fixed closed set; Record drops anything else.
type Action string

const (
	ActionUpload     Action = "upload"
	ActionDownload   Action = "download"
	ActionDelete     Action = "delete"
	ActionShareUser  Action = "share_user"
	ActionShareLink  Action = "share_link"
	ActionRevoke     Action = "revoke"
	ActionLinkAccess Action = "link_access"
	ActionView       Action = "view"
)

var knownActions = map[Action]bool{
	ActionUpload:     true,
	ActionDownload:   true,
	ActionDelete:     true,
	ActionShareUser:  true,
	ActionShareLink:  true,
	ActionRevoke:     true,
	ActionLinkAccess: true,
	ActionView:       true,
}

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_audit_events_total",
			Help: "Audit entries written, by action",
		},
		[]string{"action"},
	)

	failuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_audit_failures_total",
			Help: "Audit entries dropped because the write failed",
		},
	)
)

// Origin carries request metadata onto the trail.
type Origin struct {
	IP        string
	UserAgent string
}

// Event is one access-relevant action to record.
type Event struct {
	Actor   string
	Action  Action
	FileID  string // optional
	ShareID string // optional
	Detail  string
	Origin  Origin
}

// Writer is the persistence seam; *database.AuditRepository satisfies it.
type Writer interface {
	Insert(ctx context.Context, entry *database.AuditEntry) error
}

// Sink records events. Write failures are logged and counted, never
// returned; panics from the writer are recovered.
type Sink struct {
	writer Writer
	clock  core.Clock
}

// NewSink creates a sink over the given writer and clock.
func NewSink(writer Writer, clock core.Clock) *Sink {
	return &Sink{writer: writer, clock: clock}
}

// Record appends one entry to the trail.
func (s *Sink) Record(ctx context.Context, e Event) {
	defer func() {
		if r := recover(); r != nil {
			failuresTotal.Inc()
			slog.Error("audit write panicked", "action", e.Action, "panic", r)
		}
	}()

	if !knownActions[e.Action] {
		failuresTotal.Inc()
		slog.Error("unknown audit action dropped", "action", e.Action, "actor", e.Actor)
		return
	}

	entry := &database.AuditEntry{
		ActorID:    e.Actor,
		Action:     string(e.Action),
		FileID:     optional(e.FileID),
		ShareID:    optional(e.ShareID),
		Detail:     e.Detail,
		IP:         e.Origin.IP,
		UserAgent:  e.Origin.UserAgent,
		RecordedAt: s.clock.Now().UTC(),
	}

	if err := s.writer.Insert(ctx, entry); err != nil {
		failuresTotal.Inc()
		slog.Error("audit write failed",
			"action", e.Action,
			"actor", e.Actor,
			"file_id", e.FileID,
			"error", err,
		)
		return
	}

	eventsTotal.WithLabelValues(string(e.Action)).Inc()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
