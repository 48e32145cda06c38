package rewards

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
)

const moduleName = "rewards"

var (
	errNilState      = errors.New("rewards engine: state not configured")
	errNilMembership = errors.New("rewards engine: membership view not configured")

	// ErrIndexNotFound rejects operations against an unregistered creator.
	ErrIndexNotFound = errors.New("rewards engine: index not found")
	// ErrInvalidAmount rejects non-positive distribution amounts.
	ErrInvalidAmount = errors.New("rewards engine: amount must be positive")
	// ErrNegativeUnits rejects negative unit values.
	ErrNegativeUnits = errors.New("rewards engine: units must not be negative")
	// ErrInsufficientFunds rejects distributions the funder cannot cover.
	ErrInsufficientFunds = errors.New("rewards engine: insufficient balance")
)

// engineState is the subset of state manager functionality the reward ledger
// requires. CollectionInterimAdd keeps the per-collection interim aggregate
// equal to the sum of outstanding interim entries.
type engineState interface {
	RewardIndexGet(creator [32]byte) (*Index, bool, error)
	RewardIndexPut(index *Index) error
	RewardUnitsGet(creator [32]byte, subscriber [20]byte) (*big.Int, error)
	RewardUnitsPut(creator [32]byte, subscriber [20]byte, units *big.Int) error
	RewardUnitsDelete(creator [32]byte, subscriber [20]byte) error
	RewardSubscribers(creator [32]byte) ([][20]byte, error)
	InterimUnitsGet(holder [20]byte, collectionID uint64) (*big.Int, error)
	InterimUnitsPut(holder [20]byte, collectionID uint64, units *big.Int) error
	InterimUnitsDelete(holder [20]byte, collectionID uint64) error
	CollectionInterimAdd(collectionID uint64, delta *big.Int) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine maintains per-creator pro-rata reward indexes, interim accrual and
// instant distributions.
type Engine struct {
	state      engineState
	membership MembershipView
	emitter    events.Emitter
	pauses     nativecommon.PauseView
}

// NewEngine constructs a reward engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetMembership configures the credential view used for activation gating.
func (e *Engine) SetMembership(view MembershipView) { e.membership = view }

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

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func hexID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func unitsValue(units *big.Int) *big.Int {
	if units == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(units)
}

func newIndex(creator [32]byte) *Index {
	return &Index{
		CreatorID:     creator,
		ApprovedUnits: big.NewInt(0),
		PendingUnits:  big.NewInt(0),
		Distributed:   big.NewInt(0),
	}
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// CreateIndex registers the distribution index for a creator identity. The
// call is idempotent.
func (e *Engine) CreateIndex(creator [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, ok, err := e.state.RewardIndexGet(creator); err != nil {
		return err
	} else if ok {
		return nil
	}
	if err := e.state.RewardIndexPut(newIndex(creator)); err != nil {
		return err
	}
	e.emit(IndexCreatedEvent(hexID(creator)))
	return nil
}

// UpdateUnits upserts a subscriber's unit share. A zero value removes the
// entry entirely. When the holder has no active credential for the collection
// the write accrues as interim units instead, and the collection aggregate
// moves by the same delta.
func (e *Engine) UpdateUnits(creator [32]byte, collectionID uint64, subscriber [20]byte, units *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.membership == nil {
		return errNilMembership
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if units != nil && units.Sign() < 0 {
		return ErrNegativeUnits
	}
	units = unitsValue(units)
	index, ok, err := e.state.RewardIndexGet(creator)
	if err != nil {
		return err
	}
	if !ok || index == nil {
		return ErrIndexNotFound
	}
	active, err := e.membership.CredentialActive(subscriber, collectionID)
	if err != nil {
		return err
	}
	if active {
		return e.writeLive(index, subscriber, units)
	}
	return e.writeInterim(index, subscriber, collectionID, units)
}

func (e *Engine) writeLive(index *Index, subscriber [20]byte, units *big.Int) error {
	current, err := e.state.RewardUnitsGet(index.CreatorID, subscriber)
	if err != nil {
		return err
	}
	current = unitsValue(current)
	delta := new(big.Int).Sub(units, current)
	if units.Sign() == 0 {
		if err := e.state.RewardUnitsDelete(index.CreatorID, subscriber); err != nil {
			return err
		}
	} else {
		if err := e.state.RewardUnitsPut(index.CreatorID, subscriber, units); err != nil {
			return err
		}
	}
	index.ApprovedUnits = new(big.Int).Add(unitsValue(index.ApprovedUnits), delta)
	if err := e.state.RewardIndexPut(index); err != nil {
		return err
	}
	e.emit(UnitsUpdatedEvent(hexID(index.CreatorID), hexAddr(subscriber), units.String()))
	return nil
}

func (e *Engine) writeInterim(index *Index, holder [20]byte, collectionID uint64, units *big.Int) error {
	current, err := e.state.InterimUnitsGet(holder, collectionID)
	if err != nil {
		return err
	}
	current = unitsValue(current)
	delta := new(big.Int).Sub(units, current)
	if units.Sign() == 0 {
		if err := e.state.InterimUnitsDelete(holder, collectionID); err != nil {
			return err
		}
	} else {
		if err := e.state.InterimUnitsPut(holder, collectionID, units); err != nil {
			return err
		}
	}
	if err := e.state.CollectionInterimAdd(collectionID, delta); err != nil {
		return err
	}
	index.PendingUnits = new(big.Int).Add(unitsValue(index.PendingUnits), delta)
	if err := e.state.RewardIndexPut(index); err != nil {
		return err
	}
	e.emit(UnitsInterimEvent(hexID(index.CreatorID), hexAddr(holder), strconv.FormatUint(collectionID, 10), units.String()))
	return nil
}

// PortInterim activates the holder's interim units on credential mint: the
// accrued value joins any flat mint reward in the live index, the interim
// entry clears and the collection aggregate drops by the ported amount. It
// returns the total units now live for the holder.
func (e *Engine) PortInterim(creator [32]byte, collectionID uint64, holder [20]byte, flatReward *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	index, ok, err := e.state.RewardIndexGet(creator)
	if err != nil {
		return nil, err
	}
	if !ok || index == nil {
		return nil, ErrIndexNotFound
	}
	interim, err := e.state.InterimUnitsGet(holder, collectionID)
	if err != nil {
		return nil, err
	}
	interim = unitsValue(interim)
	live, err := e.state.RewardUnitsGet(creator, holder)
	if err != nil {
		return nil, err
	}
	live = unitsValue(live)

	total := new(big.Int).Add(live, interim)
	total = total.Add(total, unitsValue(flatReward))
	if total.Sign() > 0 {
		if err := e.state.RewardUnitsPut(creator, holder, total); err != nil {
			return nil, err
		}
	}
	if interim.Sign() > 0 {
		if err := e.state.InterimUnitsDelete(holder, collectionID); err != nil {
			return nil, err
		}
		if err := e.state.CollectionInterimAdd(collectionID, new(big.Int).Neg(interim)); err != nil {
			return nil, err
		}
		index.PendingUnits = new(big.Int).Sub(unitsValue(index.PendingUnits), interim)
	}
	added := new(big.Int).Add(interim, unitsValue(flatReward))
	index.ApprovedUnits = new(big.Int).Add(unitsValue(index.ApprovedUnits), added)
	if err := e.state.RewardIndexPut(index); err != nil {
		return nil, err
	}
	e.emit(UnitsPortedEvent(hexID(creator), hexAddr(holder), strconv.FormatUint(collectionID, 10), interim.String(), total.String()))
	return total, nil
}

// ZeroUnits deletes the holder's live entry outright, as happens on
// credential burn. No residual value survives.
func (e *Engine) ZeroUnits(creator [32]byte, holder [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	index, ok, err := e.state.RewardIndexGet(creator)
	if err != nil {
		return err
	}
	if !ok || index == nil {
		return ErrIndexNotFound
	}
	current, err := e.state.RewardUnitsGet(creator, holder)
	if err != nil {
		return err
	}
	current = unitsValue(current)
	if current.Sign() == 0 {
		return nil
	}
	if err := e.state.RewardUnitsDelete(creator, holder); err != nil {
		return err
	}
	index.ApprovedUnits = new(big.Int).Sub(unitsValue(index.ApprovedUnits), current)
	if err := e.state.RewardIndexPut(index); err != nil {
		return err
	}
	e.emit(UnitsUpdatedEvent(hexID(creator), hexAddr(holder), "0"))
	return nil
}

// Units returns the subscriber's live unit share.
func (e *Engine) Units(creator [32]byte, subscriber [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	units, err := e.state.RewardUnitsGet(creator, subscriber)
	if err != nil {
		return nil, err
	}
	return unitsValue(units), nil
}

// InterimUnits returns the holder's pre-credential accrual for a collection.
func (e *Engine) InterimUnits(holder [20]byte, collectionID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	units, err := e.state.InterimUnitsGet(holder, collectionID)
	if err != nil {
		return nil, err
	}
	return unitsValue(units), nil
}

// Totals returns the approved and pending unit totals for the creator index.
func (e *Engine) Totals(creator [32]byte) (approved, pending *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	index, ok, err := e.state.RewardIndexGet(creator)
	if err != nil {
		return nil, nil, err
	}
	if !ok || index == nil {
		return nil, nil, ErrIndexNotFound
	}
	return unitsValue(index.ApprovedUnits), unitsValue(index.PendingUnits), nil
}

// Distribute splits the amount pro-rata across every subscriber with nonzero
// live units at the instant of the call. Each receives
// floor(amount × units / total); the truncation remainder never leaves the
// funder, so nothing is fabricated or lost. Returns the amount actually
// moved.
func (e *Engine) Distribute(creator [32]byte, funder [20]byte, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	index, ok, err := e.state.RewardIndexGet(creator)
	if err != nil {
		return nil, err
	}
	if !ok || index == nil {
		return nil, ErrIndexNotFound
	}
	subscribers, err := e.state.RewardSubscribers(creator)
	if err != nil {
		return nil, err
	}
	total := unitsValue(index.ApprovedUnits)
	if total.Sign() == 0 || len(subscribers) == 0 {
		return big.NewInt(0), nil
	}

	// Decide phase: every share is computed against a read-only snapshot
	// before any balance moves.
	shares := make([]*big.Int, len(subscribers))
	distributed := big.NewInt(0)
	for i, subscriber := range subscribers {
		units, err := e.state.RewardUnitsGet(creator, subscriber)
		if err != nil {
			return nil, err
		}
		share := new(big.Int).Mul(amount, unitsValue(units))
		share = share.Div(share, total)
		shares[i] = share
		distributed.Add(distributed, share)
	}
	funderAccount, err := e.state.GetAccount(funder[:])
	if err != nil {
		return nil, err
	}
	funderAccount = ensureAccount(funderAccount)
	if funderAccount.Balance.Cmp(distributed) < 0 {
		return nil, ErrInsufficientFunds
	}

	// Apply phase.
	funderAccount.Balance = new(big.Int).Sub(funderAccount.Balance, distributed)
	if err := e.state.PutAccount(funder[:], funderAccount); err != nil {
		return nil, err
	}
	for i, subscriber := range subscribers {
		if shares[i].Sign() == 0 {
			continue
		}
		account, err := e.state.GetAccount(subscriber[:])
		if err != nil {
			return nil, err
		}
		account = ensureAccount(account)
		account.Balance = new(big.Int).Add(account.Balance, shares[i])
		if err := e.state.PutAccount(subscriber[:], account); err != nil {
			return nil, err
		}
	}
	index.Distributed = new(big.Int).Add(unitsValue(index.Distributed), distributed)
	if err := e.state.RewardIndexPut(index); err != nil {
		return nil, err
	}
	e.emit(DistributedEvent(hexID(creator), amount.String(), distributed.String(), strconv.Itoa(len(subscribers))))
	return distributed, nil
}
