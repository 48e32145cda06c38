package replication

import (
	"streampass/core/events"
	"streampass/core/types"
)

const (
	// EventTypeIntentDispatched is emitted when an intent leaves the outbox.
	EventTypeIntentDispatched = "replication.intent.dispatched"
	// EventTypeIntentDelivered is emitted when an inbound intent is applied.
	EventTypeIntentDelivered = "replication.intent.delivered"
	// EventTypeDeliveryReplayed is emitted when a duplicate delivery id is
	// rejected.
	EventTypeDeliveryReplayed = "replication.delivery.replayed"
	// EventTypeBurnSkipped is emitted when a burn intent targets a holder
	// with no remembered local credential.
	EventTypeBurnSkipped = "replication.burn.skipped"
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

// IntentDispatchedEvent announces an outbound intent and its relay sequence.
func IntentDispatchedEvent(action, account, collection, domain, seq string) *types.Event {
	return &types.Event{
		Type: EventTypeIntentDispatched,
		Attributes: map[string]string{
			"action":     action,
			"account":    account,
			"collection": collection,
			"domain":     domain,
			"seq":        seq,
		},
	}
}

// IntentDeliveredEvent announces an applied inbound intent.
func IntentDeliveredEvent(action, account, collection, domain string) *types.Event {
	return &types.Event{
		Type: EventTypeIntentDelivered,
		Attributes: map[string]string{
			"action":     action,
			"account":    account,
			"collection": collection,
			"domain":     domain,
		},
	}
}

// DeliveryReplayedEvent announces a rejected duplicate delivery.
func DeliveryReplayedEvent(domain, deliveryID string) *types.Event {
	return &types.Event{
		Type: EventTypeDeliveryReplayed,
		Attributes: map[string]string{
			"domain":   domain,
			"delivery": deliveryID,
		},
	}
}

// BurnSkippedEvent announces a burn intent that found no local credential.
func BurnSkippedEvent(account, collection string) *types.Event {
	return &types.Event{
		Type: EventTypeBurnSkipped,
		Attributes: map[string]string{
			"account":    account,
			"collection": collection,
		},
	}
}
