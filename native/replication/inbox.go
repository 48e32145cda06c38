package replication

import (
	"encoding/hex"
	"errors"
	"strconv"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
)

var (
	errNilInboxState    = errors.New("replication inbox: state not configured")
	errNilInboxRegistry = errors.New("replication inbox: registry not configured")
	errNilInboxRewards  = errors.New("replication inbox: reward ledger not configured")
	errNilInboxCaps     = errors.New("replication inbox: capability table not configured")

	// ErrUntrustedRelay rejects deliveries from callers without the relay
	// capability.
	ErrUntrustedRelay = errors.New("replication inbox: caller is not a trusted relay")
	// ErrUnknownRemote rejects deliveries whose source pair is not the
	// registered sender for the domain.
	ErrUnknownRemote = errors.New("replication inbox: unregistered remote sender")
	// ErrReplayedDelivery rejects a delivery id that was already consumed.
	ErrReplayedDelivery = errors.New("replication inbox: delivery already processed")
)

// CredentialRegistry is the slice of the collection registry the inbox
// drives for inbound intents.
type CredentialRegistry interface {
	Mint(caller, account [20]byte, collectionID uint64) (uint64, bool, error)
	Burn(caller, account [20]byte, collectionID uint64) error
	CreatorOf(collectionID uint64) ([32]byte, bool, error)
}

// RewardLedger is the slice of the reward engine the inbox zeroes on burn
// intents that find no local credential. Burns with a credential zero
// through the registry's own burn path.
type RewardLedger interface {
	ZeroUnits(creator [32]byte, holder [20]byte) error
}

// inboxState is the subset of state manager functionality the inbox
// requires: the consumed-delivery set, the remote credential memory and the
// registered sender per domain.
type inboxState interface {
	DeliverySeen(id [32]byte) (bool, error)
	DeliveryMark(id [32]byte) error
	RemoteCredentialGet(account [20]byte, collectionID uint64) (uint64, bool, error)
	RemoteCredentialPut(account [20]byte, collectionID uint64, tokenID uint64) error
	RemoteCredentialDelete(account [20]byte, collectionID uint64) error
	RemoteSenderGet(domain string) ([20]byte, bool, error)
	RemoteSenderPut(domain string, sender [20]byte) error
}

// Inbox applies replicated intents arriving from a remote domain. Every
// delivery id is consumed exactly once; duplicates are rejected before any
// mutation.
type Inbox struct {
	state    inboxState
	registry CredentialRegistry
	rewards  RewardLedger
	caps     *nativecommon.CapabilityTable
	operator [20]byte
	emitter  events.Emitter
	pauses   nativecommon.PauseView
}

// NewInbox constructs an inbox with default dependencies.
func NewInbox() *Inbox {
	return &Inbox{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the inbox.
func (in *Inbox) SetState(state inboxState) { in.state = state }

// SetRegistry configures the local collection registry.
func (in *Inbox) SetRegistry(registry CredentialRegistry) { in.registry = registry }

// SetRewards configures the reward ledger zeroed for credential-less burns.
func (in *Inbox) SetRewards(rewards RewardLedger) { in.rewards = rewards }

// SetCapabilities wires the capability table trusted relays are checked
// against.
func (in *Inbox) SetCapabilities(caps *nativecommon.CapabilityTable) { in.caps = caps }

// SetOperator configures the principal the inbox acts as against the
// registry. The operator must hold the relay capability.
func (in *Inbox) SetOperator(addr [20]byte) { in.operator = addr }

// SetEmitter configures the event emitter used by the inbox.
func (in *Inbox) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		in.emitter = events.NoopEmitter{}
		return
	}
	in.emitter = emitter
}

// SetPauses wires the administrative pause view.
func (in *Inbox) SetPauses(p nativecommon.PauseView) { in.pauses = p }

func (in *Inbox) emit(evt *types.Event) {
	if in == nil || evt == nil || in.emitter == nil {
		return
	}
	in.emitter.Emit(WrapEvent(evt))
}

// RegisterRemoteSender records the single sender address accepted for a
// domain.
func (in *Inbox) RegisterRemoteSender(domain string, sender [20]byte) error {
	if in == nil || in.state == nil {
		return errNilInboxState
	}
	return in.state.RemoteSenderPut(domain, sender)
}

// Deliver validates and applies one relayed intent. The caller must hold the
// relay capability and the (domain, sender) pair must match the registered
// remote. A replayed delivery id returns ErrReplayedDelivery with zero
// mutation.
func (in *Inbox) Deliver(caller [20]byte, domain string, sender [20]byte, deliveryID [32]byte, payload []byte) error {
	if in == nil || in.state == nil {
		return errNilInboxState
	}
	if in.registry == nil {
		return errNilInboxRegistry
	}
	if in.rewards == nil {
		return errNilInboxRewards
	}
	if in.caps == nil {
		return errNilInboxCaps
	}
	if err := nativecommon.Guard(in.pauses, moduleName); err != nil {
		return err
	}
	if !in.caps.Allowed(caller, nativecommon.CapRelay) {
		return ErrUntrustedRelay
	}
	registered, ok, err := in.state.RemoteSenderGet(domain)
	if err != nil {
		return err
	}
	if !ok || registered != sender {
		return ErrUnknownRemote
	}
	seen, err := in.state.DeliverySeen(deliveryID)
	if err != nil {
		return err
	}
	if seen {
		in.emit(DeliveryReplayedEvent(domain, "0x"+hex.EncodeToString(deliveryID[:])))
		return ErrReplayedDelivery
	}
	intent, err := DecodeIntent(payload)
	if err != nil {
		return err
	}
	if err := in.state.DeliveryMark(deliveryID); err != nil {
		return err
	}
	switch Action(intent.Action) {
	case ActionMint:
		err = in.applyMint(intent)
	case ActionBurn:
		err = in.applyBurn(intent)
	default:
		return ErrUnknownAction
	}
	if err != nil {
		return err
	}
	in.emit(IntentDeliveredEvent(
		Action(intent.Action).String(),
		"0x"+hex.EncodeToString(intent.Account[:]),
		strconv.FormatUint(intent.CollectionID, 10),
		domain,
	))
	return nil
}

func (in *Inbox) applyMint(intent *Intent) error {
	tokenID, minted, err := in.registry.Mint(in.operator, intent.Account, intent.CollectionID)
	if err != nil {
		return err
	}
	if !minted {
		// Duplicate or exhausted supply on this side: the delivery is still
		// consumed so the remote cannot retry it into a double mint.
		return nil
	}
	return in.state.RemoteCredentialPut(intent.Account, intent.CollectionID, tokenID)
}

func (in *Inbox) applyBurn(intent *Intent) error {
	_, ok, err := in.state.RemoteCredentialGet(intent.Account, intent.CollectionID)
	if err != nil {
		return err
	}
	if !ok {
		// No local credential to retire, but the reward entry is zeroed
		// regardless so an out-of-order burn cannot leave units dangling.
		creator, known, err := in.registry.CreatorOf(intent.CollectionID)
		if err != nil {
			return err
		}
		if known {
			if err := in.rewards.ZeroUnits(creator, intent.Account); err != nil {
				return err
			}
		}
		in.emit(BurnSkippedEvent(
			"0x"+hex.EncodeToString(intent.Account[:]),
			strconv.FormatUint(intent.CollectionID, 10),
		))
		return nil
	}
	if err := in.registry.Burn(in.operator, intent.Account, intent.CollectionID); err != nil {
		return err
	}
	return in.state.RemoteCredentialDelete(intent.Account, intent.CollectionID)
}

// RemoteCredential returns the locally minted credential remembered for a
// remote holder.
func (in *Inbox) RemoteCredential(account [20]byte, collectionID uint64) (uint64, bool, error) {
	if in == nil || in.state == nil {
		return 0, false, errNilInboxState
	}
	return in.state.RemoteCredentialGet(account, collectionID)
}
