package flow

import (
	"errors"
	"math/big"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
)

var (
	errNilPotState = errors.New("flow fee pot: state not configured")

	// ErrNotTreasurer rejects withdrawal calls from anyone but the
	// configured treasurer.
	ErrNotTreasurer = errors.New("flow fee pot: caller is not the treasurer")
	// ErrInvalidWithdrawal rejects zero or negative withdrawal amounts.
	ErrInvalidWithdrawal = errors.New("flow fee pot: amount must be positive")
	// ErrPotUnderfunded rejects withdrawals exceeding the accrued balance.
	ErrPotUnderfunded = errors.New("flow fee pot: insufficient accrued fees")
)

// potState is the subset of state manager functionality the fee pot
// requires.
type potState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// FeePot withdraws accrued protocol fees out of the hub account. Fees accrue
// into the hub as the gross/net spread of every split agreement settles.
type FeePot struct {
	state     potState
	hub       [20]byte
	treasurer [20]byte
	emitter   events.Emitter
	pauses    nativecommon.PauseView
}

// NewFeePot constructs a fee pot with default dependencies.
func NewFeePot() *FeePot {
	return &FeePot{emitter: events.NoopEmitter{}}
}

// SetState configures the account backend holding the hub balance.
func (p *FeePot) SetState(state potState) { p.state = state }

// SetHub configures the hub account the accrued fees sit on.
func (p *FeePot) SetHub(addr [20]byte) { p.hub = addr }

// SetTreasurer configures the only principal allowed to withdraw.
func (p *FeePot) SetTreasurer(addr [20]byte) { p.treasurer = addr }

// SetEmitter configures the event emitter used by the fee pot.
func (p *FeePot) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// SetPauses wires the administrative pause view.
func (p *FeePot) SetPauses(view nativecommon.PauseView) { p.pauses = view }

// Balance returns the hub account balance holding the accrued fees.
func (p *FeePot) Balance() (*big.Int, error) {
	if p == nil || p.state == nil {
		return nil, errNilPotState
	}
	account, err := p.state.GetAccount(p.hub[:])
	if err != nil {
		return nil, err
	}
	if account == nil || account.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(account.Balance), nil
}

// Withdraw moves accrued fees from the hub to the destination account. Only
// the treasurer may withdraw, and never more than the hub holds.
func (p *FeePot) Withdraw(caller, to [20]byte, amount *big.Int) error {
	if p == nil || p.state == nil {
		return errNilPotState
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if caller != p.treasurer {
		return ErrNotTreasurer
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidWithdrawal
	}
	hubAccount, err := p.state.GetAccount(p.hub[:])
	if err != nil {
		return err
	}
	balance := big.NewInt(0)
	if hubAccount != nil && hubAccount.Balance != nil {
		balance = hubAccount.Balance
	}
	if balance.Cmp(amount) < 0 {
		return ErrPotUnderfunded
	}
	destAccount, err := p.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if destAccount == nil {
		destAccount = &types.Account{Balance: big.NewInt(0)}
	}
	if destAccount.Balance == nil {
		destAccount.Balance = big.NewInt(0)
	}
	hubAccount.Balance = new(big.Int).Sub(balance, amount)
	destAccount.Balance = new(big.Int).Add(destAccount.Balance, amount)
	if err := p.state.PutAccount(p.hub[:], hubAccount); err != nil {
		return err
	}
	if err := p.state.PutAccount(to[:], destAccount); err != nil {
		return err
	}
	p.emit(FeesWithdrawnEvent(hexAddr(to), amount.String()))
	return nil
}

func (p *FeePot) emit(evt *types.Event) {
	if p == nil || evt == nil || p.emitter == nil {
		return
	}
	p.emitter.Emit(WrapEvent(evt))
}
