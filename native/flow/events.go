package flow

import (
	"streampass/core/events"
	"streampass/core/types"
)

const (
	// EventTypeFlowCreated is emitted when a new split agreement is recorded.
	EventTypeFlowCreated = "flow.created"
	// EventTypeFlowUpdated is emitted when an existing agreement changes rate.
	EventTypeFlowUpdated = "flow.updated"
	// EventTypeFlowTerminated is emitted when a single agreement is removed.
	EventTypeFlowTerminated = "flow.terminated"
	// EventTypeSenderTerminated is emitted after a sender's full sweep.
	EventTypeSenderTerminated = "flow.sender.terminated"
	// EventTypeFeesWithdrawn is emitted when accrued fees leave the hub.
	EventTypeFeesWithdrawn = "flow.fees.withdrawn"
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

// FlowCreatedEvent announces a newly recorded split agreement.
func FlowCreatedEvent(sender, receiver, gross, net, fee string) *types.Event {
	return &types.Event{
		Type: EventTypeFlowCreated,
		Attributes: map[string]string{
			"sender":   sender,
			"receiver": receiver,
			"gross":    gross,
			"net":      net,
			"fee":      fee,
		},
	}
}

// FlowUpdatedEvent announces an incremental rate change on an agreement.
func FlowUpdatedEvent(sender, receiver, gross, net, fee string) *types.Event {
	return &types.Event{
		Type: EventTypeFlowUpdated,
		Attributes: map[string]string{
			"sender":   sender,
			"receiver": receiver,
			"gross":    gross,
			"net":      net,
			"fee":      fee,
		},
	}
}

// FlowTerminatedEvent announces the removal of one agreement.
func FlowTerminatedEvent(sender, receiver, net string) *types.Event {
	return &types.Event{
		Type: EventTypeFlowTerminated,
		Attributes: map[string]string{
			"sender":   sender,
			"receiver": receiver,
			"net":      net,
		},
	}
}

// FeesWithdrawnEvent announces a fee pot withdrawal.
func FeesWithdrawnEvent(to, amount string) *types.Event {
	return &types.Event{
		Type: EventTypeFeesWithdrawn,
		Attributes: map[string]string{
			"to":     to,
			"amount": amount,
		},
	}
}

// SenderTerminatedEvent announces a completed full-termination sweep.
func SenderTerminatedEvent(sender string, records string) *types.Event {
	return &types.Event{
		Type: EventTypeSenderTerminated,
		Attributes: map[string]string{
			"sender":  sender,
			"records": records,
		},
	}
}
