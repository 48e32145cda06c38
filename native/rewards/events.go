package rewards

import (
	"streampass/core/events"
	"streampass/core/types"
)

const (
	// EventTypeIndexCreated is emitted when a creator index is first registered.
	EventTypeIndexCreated = "rewards.index.created"
	// EventTypeUnitsUpdated is emitted when a subscriber's live units change.
	EventTypeUnitsUpdated = "rewards.units.updated"
	// EventTypeUnitsInterim is emitted when units accrue before a credential exists.
	EventTypeUnitsInterim = "rewards.units.interim"
	// EventTypeUnitsPorted is emitted when interim units activate into the live index.
	EventTypeUnitsPorted = "rewards.units.ported"
	// EventTypeDistributed is emitted after an instant pro-rata distribution.
	EventTypeDistributed = "rewards.distributed"
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

// IndexCreatedEvent announces a new creator index.
func IndexCreatedEvent(creator string) *types.Event {
	return &types.Event{
		Type:       EventTypeIndexCreated,
		Attributes: map[string]string{"creator": creator},
	}
}

// UnitsUpdatedEvent announces a live unit change for a subscriber.
func UnitsUpdatedEvent(creator, subscriber, units string) *types.Event {
	return &types.Event{
		Type: EventTypeUnitsUpdated,
		Attributes: map[string]string{
			"creator":    creator,
			"subscriber": subscriber,
			"units":      units,
		},
	}
}

// UnitsInterimEvent announces an interim accrual for a pre-credential holder.
func UnitsInterimEvent(creator, holder, collection, units string) *types.Event {
	return &types.Event{
		Type: EventTypeUnitsInterim,
		Attributes: map[string]string{
			"creator":    creator,
			"holder":     holder,
			"collection": collection,
			"units":      units,
		},
	}
}

// UnitsPortedEvent announces the activation of interim units on mint.
func UnitsPortedEvent(creator, holder, collection, ported, total string) *types.Event {
	return &types.Event{
		Type: EventTypeUnitsPorted,
		Attributes: map[string]string{
			"creator":    creator,
			"holder":     holder,
			"collection": collection,
			"ported":     ported,
			"total":      total,
		},
	}
}

// DistributedEvent announces a completed instant distribution.
func DistributedEvent(creator, requested, distributed, subscribers string) *types.Event {
	return &types.Event{
		Type: EventTypeDistributed,
		Attributes: map[string]string{
			"creator":     creator,
			"requested":   requested,
			"distributed": distributed,
			"subscribers": subscribers,
		},
	}
}
