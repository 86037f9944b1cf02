package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"example.com/presence/internal/domain"
	"example.com/presence/internal/events"
	"example.com/presence/internal/presence"
)

// TransitionRecorder is the slice of presence.Recorder the handler needs.
type TransitionRecorder interface {
	Apply(ctx context.Context, in presence.TransitionInput) (*domain.ActivityRecord, presence.Outcome, error)
}

// Triggerer starts a background dashboard pass for a group.
type Triggerer interface {
	Trigger(groupID string)
}

// TransitionHandler turns presence.changed messages into recorded transitions.
type TransitionHandler struct {
	recorder TransitionRecorder
	trigger  Triggerer
	logger   zerolog.Logger
}

// NewTransitionHandler constructs a TransitionHandler. A nil trigger disables
// on-demand dashboard passes.
func NewTransitionHandler(recorder TransitionRecorder, trigger Triggerer, logger zerolog.Logger) *TransitionHandler {
	return &TransitionHandler{recorder: recorder, trigger: trigger, logger: logger}
}

// Handle implements Handler.
func (h *TransitionHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != DefaultEventType {
		h.logger.Debug().Str("event_type", msg.EventType).Msg("ignoring unknown event type")
		recordOutcome(outcomeIgnored)
		return nil
	}

	var event events.PresenceChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("%w: %w", ErrDiscard, err)
	}

	record, outcome, err := h.recorder.Apply(ctx, presence.TransitionInput{
		GroupID:     event.GroupID,
		SubjectID:   event.SubjectID,
		DisplayName: event.DisplayName,
		GoingOnline: event.Online,
	})
	if err != nil {
		if errors.Is(err, presence.ErrInvalidTransition) || errors.Is(err, domain.ErrRecordCorrupt) {
			return fmt.Errorf("%w: %w", ErrDiscard, err)
		}
		return err
	}
	recordOutcome(string(outcome))
	recordLag(event.OccurredAt, record.UpdatedAt)

	h.logger.Debug().
		Str("group_id", record.GroupID).
		Str("subject_id", record.SubjectID).
		Str("outcome", string(outcome)).
		Str("status", string(record.Status)).
		Int64("version", record.Version).
		Msg("transition recorded")

	if h.trigger != nil {
		h.trigger.Trigger(record.GroupID)
	}
	return nil
}
