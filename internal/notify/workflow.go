package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Lifecycle actions reported to the workflow system.
const (
	ActionCreated      = "created"
	ActionUpdated      = "updated"
	ActionConfirmed    = "confirmed"
	ActionCanceled     = "canceled"
	ActionCheckedIn    = "checked_in"
	ActionCompleted    = "completed"
	ActionReminderSent = "reminder_sent"
	ActionSurveySent   = "survey_sent"
	ActionVoiceCall    = "voice_call"
)

// Event is the outbound workflow payload.
type Event struct {
	BookingID string         `json:"bookingId"`
	Action    string         `json:"action"`
	Status    string         `json:"status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Publisher delivers one encoded event.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Workflow fans lifecycle events out to every publisher. Failures are
// logged and never returned.
type Workflow struct {
	publishers []Publisher
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewWorkflow(logger zerolog.Logger, timeout time.Duration, publishers ...Publisher) *Workflow {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Workflow{
		publishers: publishers,
		timeout:    timeout,
		logger:     logger.With().Str("component", "notify.workflow").Logger(),
	}
}

func RoutingKey(action string) string {
	return "appointment." + action
}

// Notify publishes ev. It detaches from the caller's cancellation so a
// finished request does not drop the event.
func (w *Workflow) Notify(ctx context.Context, ev Event) {
	if w == nil || len(w.publishers) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error().Err(err).Str("booking_id", ev.BookingID).Msg("failed to encode workflow event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	for _, p := range w.publishers {
		if err := p.Publish(ctx, RoutingKey(ev.Action), payload); err != nil {
			w.logger.Warn().
				Err(err).
				Str("booking_id", ev.BookingID).
				Str("action", ev.Action).
				Msg("workflow notification failed")
		}
	}
}

func (w *Workflow) Close() error {
	if w == nil {
		return nil
	}
	var firstErr error
	for _, p := range w.publishers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
