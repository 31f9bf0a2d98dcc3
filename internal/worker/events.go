package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/richxcame/konversi/pkg/eventbus"
	"go.uber.org/zap"
)

// Invalidator refreshes local watchers after another instance wrote to the
// shared store.
type Invalidator interface {
	Invalidate()
}

// Subscriber is the subscribing side of the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, subject, queue string, handler eventbus.Handler) error
}

// EventHandler reacts to sync events published by other instances.
type EventHandler struct {
	instanceID  string
	invalidator Invalidator
	logger      *zap.Logger
}

// NewEventHandler creates a handler that ignores events from instanceID.
func NewEventHandler(instanceID string, invalidator Invalidator, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		instanceID:  instanceID,
		invalidator: invalidator,
		logger:      logger.Named("sync_events"),
	}
}

// RegisterSubscriptions subscribes to sync events. Every instance needs its
// own copy, so no queue group is used.
func (h *EventHandler) RegisterSubscriptions(ctx context.Context, bus Subscriber) error {
	if err := bus.Subscribe(ctx, eventbus.SubjectSyncCompleted, "", h.handle); err != nil {
		return fmt.Errorf("subscribe to sync events: %w", err)
	}
	h.logger.Info("subscribed to sync events")
	return nil
}

func (h *EventHandler) handle(ctx context.Context, event *eventbus.Event) error {
	if event.Type != eventbus.TypeSyncCompleted {
		h.logger.Debug("ignoring unknown event type", zap.String("type", event.Type))
		return nil
	}
	if event.Source == h.instanceID {
		return nil
	}

	var data eventbus.SyncCompletedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal sync completed: %w", err)
	}

	h.logger.Info("remote sync completed, refreshing",
		zap.String("source", event.Source),
		zap.String("result", data.Result),
	)
	h.invalidator.Invalidate()
	return nil
}
