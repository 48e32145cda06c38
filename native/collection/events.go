package collection

import (
	"streampass/core/events"
	"streampass/core/types"
)

const (
	// EventTypeCollectionCreated is emitted when a collection is registered.
	EventTypeCollectionCreated = "collection.created"
	// EventTypeWrappedCreated is emitted when a wrapped pointer is registered.
	EventTypeWrappedCreated = "collection.wrapped.created"
	// EventTypeCredentialMinted is emitted when a membership credential mints.
	EventTypeCredentialMinted = "collection.credential.minted"
	// EventTypeCredentialBurned is emitted when a membership credential burns.
	EventTypeCredentialBurned = "collection.credential.burned"
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

// CollectionCreatedEvent announces a newly registered collection.
func CollectionCreatedEvent(id, start, supply, creator string) *types.Event {
	return &types.Event{
		Type: EventTypeCollectionCreated,
		Attributes: map[string]string{
			"id":      id,
			"start":   start,
			"supply":  supply,
			"creator": creator,
		},
	}
}

// WrappedCreatedEvent announces a wrapped passthrough collection.
func WrappedCreatedEvent(id, source, kind string) *types.Event {
	return &types.Event{
		Type: EventTypeWrappedCreated,
		Attributes: map[string]string{
			"id":     id,
			"source": source,
			"kind":   kind,
		},
	}
}

// CredentialMintedEvent announces a minted membership credential.
func CredentialMintedEvent(collection, holder, tokenID string) *types.Event {
	return &types.Event{
		Type: EventTypeCredentialMinted,
		Attributes: map[string]string{
			"collection": collection,
			"holder":     holder,
			"tokenId":    tokenID,
		},
	}
}

// CredentialBurnedEvent announces a burned membership credential.
func CredentialBurnedEvent(collection, holder, tokenID string) *types.Event {
	return &types.Event{
		Type: EventTypeCredentialBurned,
		Attributes: map[string]string{
			"collection": collection,
			"holder":     holder,
			"tokenId":    tokenID,
		},
	}
}
