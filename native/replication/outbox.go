package replication

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
)

const moduleName = "replication"

var (
	errNilRelay = errors.New("replication outbox: relay not configured")

	// ErrDomainNotSet rejects dispatch before the remote domain is
	// configured.
	ErrDomainNotSet = errors.New("replication outbox: remote domain not set")
)

// MessageRelay is the cross-domain transport the outbox hands intents to.
// Send is fire-and-forget: the relay sequence is the only acknowledgement.
type MessageRelay interface {
	Quote(domain string, payloadLen int) (*big.Int, error)
	Send(domain string, payload []byte, refund [20]byte) (uint64, error)
}

// Outbox serialises mint and burn intents and hands them to the relay for
// the configured remote domain. Delivery is not awaited.
type Outbox struct {
	relay   MessageRelay
	domain  string
	refund  [20]byte
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewOutbox constructs an outbox with default dependencies.
func NewOutbox() *Outbox {
	return &Outbox{emitter: events.NoopEmitter{}}
}

// SetRelay configures the transport used for dispatch.
func (o *Outbox) SetRelay(relay MessageRelay) { o.relay = relay }

// SetDomain configures the remote domain intents are addressed to.
func (o *Outbox) SetDomain(domain string) { o.domain = domain }

// SetRefund configures the account refunded for unused relay fees.
func (o *Outbox) SetRefund(refund [20]byte) { o.refund = refund }

// SetEmitter configures the event emitter used by the outbox.
func (o *Outbox) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		o.emitter = events.NoopEmitter{}
		return
	}
	o.emitter = emitter
}

// SetPauses wires the administrative pause view.
func (o *Outbox) SetPauses(p nativecommon.PauseView) { o.pauses = p }

func (o *Outbox) emit(evt *types.Event) {
	if o == nil || evt == nil || o.emitter == nil {
		return
	}
	o.emitter.Emit(WrapEvent(evt))
}

// Quote returns the relay fee for an intent-sized payload.
func (o *Outbox) Quote() (*big.Int, error) {
	if o == nil || o.relay == nil {
		return nil, errNilRelay
	}
	if o.domain == "" {
		return nil, ErrDomainNotSet
	}
	payload, err := EncodeIntent(ActionMint, [20]byte{}, 0)
	if err != nil {
		return nil, err
	}
	return o.relay.Quote(o.domain, len(payload))
}

// DispatchMint sends a mint intent for the holder and returns the relay
// sequence.
func (o *Outbox) DispatchMint(account [20]byte, collectionID uint64) (uint64, error) {
	return o.dispatch(ActionMint, account, collectionID)
}

// DispatchBurn sends a burn intent for the holder and returns the relay
// sequence.
func (o *Outbox) DispatchBurn(account [20]byte, collectionID uint64) (uint64, error) {
	return o.dispatch(ActionBurn, account, collectionID)
}

func (o *Outbox) dispatch(action Action, account [20]byte, collectionID uint64) (uint64, error) {
	if o == nil || o.relay == nil {
		return 0, errNilRelay
	}
	if err := nativecommon.Guard(o.pauses, moduleName); err != nil {
		return 0, err
	}
	if o.domain == "" {
		return 0, ErrDomainNotSet
	}
	payload, err := EncodeIntent(action, account, collectionID)
	if err != nil {
		return 0, err
	}
	seq, err := o.relay.Send(o.domain, payload, o.refund)
	if err != nil {
		return 0, err
	}
	o.emit(IntentDispatchedEvent(
		action.String(),
		"0x"+hex.EncodeToString(account[:]),
		strconv.FormatUint(collectionID, 10),
		o.domain,
		strconv.FormatUint(seq, 10),
	))
	return seq, nil
}
