package subscription

import (
	"streampass/core/events"
	"streampass/core/types"
)

const (
	// EventTypeSubscriptionCreated is emitted when a subscription is accepted.
	EventTypeSubscriptionCreated = "subscription.created"
	// EventTypeSubscriptionUpdated is emitted on an incremental rate merge.
	EventTypeSubscriptionUpdated = "subscription.updated"
	// EventTypeSubscriptionTerminated is emitted on voluntary or forced end.
	EventTypeSubscriptionTerminated = "subscription.terminated"
	// EventTypeSubscriptionExpired is emitted when the scheduled expiry runs.
	EventTypeSubscriptionExpired = "subscription.expired"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// SubscriptionCreatedEvent announces an accepted subscription.
func SubscriptionCreatedEvent(sender, receiver, collection, duration string, remote bool) *types.Event {
	remoteAttr := "false"
	if remote {
		remoteAttr = "true"
	}
	return &types.Event{
		Type: EventTypeSubscriptionCreated,
		Attributes: map[string]string{
			"sender":     sender,
			"receiver":   receiver,
			"collection": collection,
			"duration":   duration,
			"remote":     remoteAttr,
		},
	}
}

// SubscriptionUpdatedEvent announces an incremental merge on an existing pair.
func SubscriptionUpdatedEvent(sender, receiver, gross string) *types.Event {
	return &types.Event{
		Type: EventTypeSubscriptionUpdated,
		Attributes: map[string]string{
			"sender":   sender,
			"receiver": receiver,
			"gross":    gross,
		},
	}
}

// SubscriptionTerminatedEvent announces a completed termination.
func SubscriptionTerminatedEvent(sender, receiver, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeSubscriptionTerminated,
		Attributes: map[string]string{
			"sender":   sender,
			"receiver": receiver,
			"reason":   reason,
		},
	}
}

// SubscriptionExpiredEvent announces a scheduler-driven expiry.
func SubscriptionExpiredEvent(sender, receiver string) *types.Event {
	return &types.Event{
		Type: EventTypeSubscriptionExpired,
		Attributes: map[string]string{
			"sender":   sender,
			"receiver": receiver,
		},
	}
}
