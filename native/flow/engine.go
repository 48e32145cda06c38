package flow

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
)

const moduleName = "flow"

var (
	errNilState     = errors.New("flow engine: state not configured")
	errNilSubstrate = errors.New("flow engine: stream substrate not configured")

	// ErrInvalidRate rejects zero or negative stream rates.
	ErrInvalidRate = errors.New("flow engine: rate must be positive")
	// ErrMissingReceiver rejects create calls without a resolvable receiver.
	ErrMissingReceiver = errors.New("flow engine: receiver required")
	// ErrSelfStream rejects streams whose sender and receiver coincide.
	ErrSelfStream = errors.New("flow engine: sender cannot stream to itself")
	// ErrRecordExists rejects duplicate creates for an existing pair; rate
	// changes must arrive as updates.
	ErrRecordExists = errors.New("flow engine: record already exists for pair")
	// ErrRecordNotFound rejects updates against pairs with no agreement.
	ErrRecordNotFound = errors.New("flow engine: record not found")
	// ErrPartialCancel rejects canceling decreases that do not match the
	// stored gross rate exactly.
	ErrPartialCancel = errors.New("flow engine: canceling decrease must equal stored gross rate")
)

// engineState is the subset of state manager functionality the flow ledger
// requires.
type engineState interface {
	FlowRecordGet(sender, receiver [20]byte) (*Record, bool, error)
	FlowRecordPut(record *Record) error
	FlowRecordDelete(sender, receiver [20]byte) error
	FlowIndexGet(sender [20]byte) ([][20]byte, error)
	FlowIndexPut(sender [20]byte, receivers [][20]byte) error
	ReceiverRateGet(receiver [20]byte) (*big.Int, error)
	ReceiverRatePut(receiver [20]byte, rate *big.Int) error
	FeeRateGet() (*big.Int, error)
	FeeRatePut(rate *big.Int) error
}

// Engine maintains per-pair split agreements and keeps each receiver's
// aggregate outbound stream consistent with the stored records.
type Engine struct {
	state     engineState
	substrate StreamSubstrate
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	feeBps    uint32
	hub       [20]byte
}

// NewEngine constructs a flow engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetSubstrate configures the payment-stream facility driven by the engine.
func (e *Engine) SetSubstrate(s StreamSubstrate) { e.substrate = s }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetFeeBps configures the protocol fee in basis points, clamped to the 20%
// bound.
func (e *Engine) SetFeeBps(bps uint32) {
	if bps > MaxFeeBps {
		bps = MaxFeeBps
	}
	e.feeBps = bps
}

// SetHub configures the ledger's own account, the hub every inbound stream
// lands on and every outbound aggregate departs from.
func (e *Engine) SetHub(addr [20]byte) { e.hub = addr }

// FeeBps returns the configured protocol fee in basis points.
func (e *Engine) FeeBps() uint32 { return e.feeBps }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.substrate == nil {
		return errNilSubstrate
	}
	return nil
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

func rateValue(rate *big.Int) *big.Int {
	if rate == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(rate)
}

// CreateFlow records a new split agreement for the pair and merges its net
// rate into the receiver's aggregate outbound stream. Duplicate pairs are
// rejected; rate changes arrive through UpdateFlow.
func (e *Engine) CreateFlow(sender, receiver [20]byte, gross *big.Int) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if isZeroAddress(receiver) {
		return nil, ErrMissingReceiver
	}
	if receiver == sender {
		return nil, ErrSelfStream
	}
	if gross == nil || gross.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	if _, ok, err := e.state.FlowRecordGet(sender, receiver); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrRecordExists
	}
	net, fee := SplitRate(gross, e.feeBps)

	index, err := e.state.FlowIndexGet(sender)
	if err != nil {
		return nil, err
	}
	aggregate, err := e.state.ReceiverRateGet(receiver)
	if err != nil {
		return nil, err
	}
	aggregate = rateValue(aggregate)
	feeTotal, err := e.state.FeeRateGet()
	if err != nil {
		return nil, err
	}
	feeTotal = rateValue(feeTotal)

	record := &Record{
		Sender:    sender,
		Receiver:  receiver,
		NetRate:   net,
		GrossRate: new(big.Int).Set(gross),
		Position:  uint32(len(index)),
	}
	if err := e.state.FlowRecordPut(record); err != nil {
		return nil, err
	}
	if err := e.state.FlowIndexPut(sender, append(index, receiver)); err != nil {
		return nil, err
	}
	merged := new(big.Int).Add(aggregate, net)
	if err := e.state.ReceiverRatePut(receiver, merged); err != nil {
		return nil, err
	}
	if err := e.state.FeeRatePut(new(big.Int).Add(feeTotal, fee)); err != nil {
		return nil, err
	}

	// Local state is fully applied; only now touch the substrate, which may
	// call back into the ledger.
	if aggregate.Sign() == 0 {
		err = e.substrate.CreateStream(e.hub, receiver, merged)
	} else {
		err = e.substrate.UpdateStream(e.hub, receiver, merged)
	}
	if err != nil {
		return nil, err
	}
	e.emit(FlowCreatedEvent(hexAddr(sender), hexAddr(receiver), gross.String(), net.String(), fee.String()))
	return record.Clone(), nil
}

// UpdateFlow applies a rate change to an existing agreement. Increases are
// treated as incremental creates with the fee taken on the delta only. A
// decrease must cancel the agreement outright: the new gross rate must be
// zero, anything between is rejected without mutation.
func (e *Engine) UpdateFlow(sender, receiver [20]byte, newGross *big.Int) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	record, ok, err := e.state.FlowRecordGet(sender, receiver)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		return nil, ErrRecordNotFound
	}
	if newGross == nil || newGross.Sign() < 0 {
		return nil, ErrInvalidRate
	}
	switch newGross.Cmp(record.GrossRate) {
	case 0:
		return record.Clone(), nil
	case 1:
		return e.increaseFlow(record, newGross)
	default:
		if newGross.Sign() != 0 {
			return nil, ErrPartialCancel
		}
		if err := e.cancelRecord(record, true); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// TerminateFlow cancels the agreement for the pair, equivalent to an update
// whose decrease equals the stored gross rate.
func (e *Engine) TerminateFlow(sender, receiver [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	record, ok, err := e.state.FlowRecordGet(sender, receiver)
	if err != nil {
		return err
	}
	if !ok || record == nil {
		return ErrRecordNotFound
	}
	return e.cancelRecord(record, true)
}

func (e *Engine) increaseFlow(record *Record, newGross *big.Int) (*Record, error) {
	delta := new(big.Int).Sub(newGross, record.GrossRate)
	netDelta, feeDelta := SplitRate(delta, e.feeBps)

	aggregate, err := e.state.ReceiverRateGet(record.Receiver)
	if err != nil {
		return nil, err
	}
	aggregate = rateValue(aggregate)
	feeTotal, err := e.state.FeeRateGet()
	if err != nil {
		return nil, err
	}
	feeTotal = rateValue(feeTotal)

	record.GrossRate = new(big.Int).Set(newGross)
	record.NetRate = new(big.Int).Add(record.NetRate, netDelta)
	if err := e.state.FlowRecordPut(record); err != nil {
		return nil, err
	}
	merged := new(big.Int).Add(aggregate, netDelta)
	if err := e.state.ReceiverRatePut(record.Receiver, merged); err != nil {
		return nil, err
	}
	if err := e.state.FeeRatePut(new(big.Int).Add(feeTotal, feeDelta)); err != nil {
		return nil, err
	}
	if aggregate.Sign() == 0 {
		err = e.substrate.CreateStream(e.hub, record.Receiver, merged)
	} else {
		err = e.substrate.UpdateStream(e.hub, record.Receiver, merged)
	}
	if err != nil {
		return nil, err
	}
	e.emit(FlowUpdatedEvent(hexAddr(record.Sender), hexAddr(record.Receiver), newGross.String(), record.NetRate.String(), feeDelta.String()))
	return record.Clone(), nil
}

// cancelRecord removes the agreement and decrements the receiver's aggregate
// by the stored net rate. The stored record, not the observed substrate rate,
// is the canonical source for the decrement. When closeInbound is set and the
// sender holds no further records, the sender's inbound stream is terminated
// as well.
func (e *Engine) cancelRecord(record *Record, closeInbound bool) error {
	index, err := e.state.FlowIndexGet(record.Sender)
	if err != nil {
		return err
	}
	aggregate, err := e.state.ReceiverRateGet(record.Receiver)
	if err != nil {
		return err
	}
	aggregate = rateValue(aggregate)

	index, err = e.removeFromIndex(index, record)
	if err != nil {
		return err
	}
	if err := e.state.FlowIndexPut(record.Sender, index); err != nil {
		return err
	}
	if err := e.state.FlowRecordDelete(record.Sender, record.Receiver); err != nil {
		return err
	}
	remaining := new(big.Int).Sub(aggregate, record.NetRate)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	if err := e.state.ReceiverRatePut(record.Receiver, remaining); err != nil {
		return err
	}

	if remaining.Sign() == 0 {
		if err := e.substrate.DeleteStream(e.hub, record.Receiver); err != nil {
			return err
		}
	} else {
		if err := e.substrate.UpdateStream(e.hub, record.Receiver, remaining); err != nil {
			return err
		}
	}
	if closeInbound && len(index) == 0 {
		if err := e.substrate.DeleteStream(record.Sender, e.hub); err != nil {
			return err
		}
	}
	e.emit(FlowTerminatedEvent(hexAddr(record.Sender), hexAddr(record.Receiver), record.NetRate.String()))
	return nil
}

// removeFromIndex performs the swap-pop removal: the last entry moves into
// the freed slot and its record's stored position is rewritten to match.
func (e *Engine) removeFromIndex(index [][20]byte, record *Record) ([][20]byte, error) {
	pos := int(record.Position)
	if pos >= len(index) || index[pos] != record.Receiver {
		// The stored position is authoritative; a mismatch means the
		// index and records have diverged.
		return nil, ErrRecordNotFound
	}
	last := len(index) - 1
	if pos != last {
		moved := index[last]
		index[pos] = moved
		movedRecord, ok, err := e.state.FlowRecordGet(record.Sender, moved)
		if err != nil {
			return nil, err
		}
		if !ok || movedRecord == nil {
			return nil, ErrRecordNotFound
		}
		movedRecord.Position = uint32(pos)
		if err := e.state.FlowRecordPut(movedRecord); err != nil {
			return nil, err
		}
	}
	return index[:last], nil
}

// OnSenderTerminated reacts to the sender's whole inbound stream being closed
// externally. Every remaining record is fully terminated in strict reverse
// insertion order; any other order would let swap-pop removal skip or
// double-visit an entry.
func (e *Engine) OnSenderTerminated(sender [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	index, err := e.state.FlowIndexGet(sender)
	if err != nil {
		return err
	}
	swept := 0
	for i := len(index) - 1; i >= 0; i-- {
		record, ok, err := e.state.FlowRecordGet(sender, index[i])
		if err != nil {
			return err
		}
		if !ok || record == nil {
			return ErrRecordNotFound
		}
		// The inbound stream is already gone; the sweep only unwinds
		// the outbound side.
		if err := e.cancelRecord(record, false); err != nil {
			return err
		}
		swept++
	}
	e.emit(SenderTerminatedEvent(hexAddr(sender), strconv.Itoa(swept)))
	return nil
}

// RecordFor returns the stored agreement for the pair without mutating state.
func (e *Engine) RecordFor(sender, receiver [20]byte) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	record, ok, err := e.state.FlowRecordGet(sender, receiver)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record.Clone(), true, nil
}

// SenderRecords returns the sender's agreements in insertion order.
func (e *Engine) SenderRecords(sender [20]byte) ([]*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	index, err := e.state.FlowIndexGet(sender)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(index))
	for _, receiver := range index {
		record, ok, err := e.state.FlowRecordGet(sender, receiver)
		if err != nil {
			return nil, err
		}
		if !ok || record == nil {
			return nil, ErrRecordNotFound
		}
		records = append(records, record.Clone())
	}
	return records, nil
}

// ReceiverRate returns the receiver's aggregate outbound net rate as derived
// from stored records.
func (e *Engine) ReceiverRate(receiver [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rate, err := e.state.ReceiverRateGet(receiver)
	if err != nil {
		return nil, err
	}
	return rateValue(rate), nil
}

// FeeRate returns the aggregate protocol-fee rate retained by the ledger.
func (e *Engine) FeeRate() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rate, err := e.state.FeeRateGet()
	if err != nil {
		return nil, err
	}
	return rateValue(rate), nil
}
