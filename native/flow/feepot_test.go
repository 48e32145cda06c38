package flow

import (
	"errors"
	"math/big"
	"testing"

	"streampass/core/types"
)

type mockPotState struct {
	accounts map[string]*types.Account
}

func newMockPotState() *mockPotState {
	return &mockPotState{accounts: make(map[string]*types.Account)}
}

func (m *mockPotState) GetAccount(addr []byte) (*types.Account, error) {
	if account, ok := m.accounts[string(addr)]; ok {
		return account.Copy(), nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (m *mockPotState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Copy()
	return nil
}

var (
	potHub       = [20]byte{0x02}
	potTreasurer = [20]byte{0x03}
	potDest      = [20]byte{0x04}
)

func newTestPot(t *testing.T) (*FeePot, *mockPotState) {
	t.Helper()
	state := newMockPotState()
	state.accounts[string(potHub[:])] = &types.Account{Balance: big.NewInt(1_000)}
	pot := NewFeePot()
	pot.SetState(state)
	pot.SetHub(potHub)
	pot.SetTreasurer(potTreasurer)
	return pot, state
}

func TestFeePotWithdraw(t *testing.T) {
	pot, state := newTestPot(t)
	if err := pot.Withdraw(potTreasurer, potDest, big.NewInt(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	hub := state.accounts[string(potHub[:])]
	if hub.Balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("hub balance = %s, want 600", hub.Balance)
	}
	dest := state.accounts[string(potDest[:])]
	if dest.Balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("destination balance = %s, want 400", dest.Balance)
	}
	balance, err := pot.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("pot balance = %s, want 600", balance)
	}
}

func TestFeePotRejectsStrangers(t *testing.T) {
	pot, state := newTestPot(t)
	stranger := [20]byte{0x05}
	if err := pot.Withdraw(stranger, potDest, big.NewInt(100)); !errors.Is(err, ErrNotTreasurer) {
		t.Fatalf("expected ErrNotTreasurer, got %v", err)
	}
	if state.accounts[string(potHub[:])].Balance.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("hub mutated by rejected withdrawal")
	}
}

func TestFeePotRejectsOverdraw(t *testing.T) {
	pot, _ := newTestPot(t)
	if err := pot.Withdraw(potTreasurer, potDest, big.NewInt(1_001)); !errors.Is(err, ErrPotUnderfunded) {
		t.Fatalf("expected ErrPotUnderfunded, got %v", err)
	}
	if err := pot.Withdraw(potTreasurer, potDest, big.NewInt(0)); !errors.Is(err, ErrInvalidWithdrawal) {
		t.Fatalf("expected ErrInvalidWithdrawal, got %v", err)
	}
}
