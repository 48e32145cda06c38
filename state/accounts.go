package state

import (
	"math/big"

	"streampass/core/types"
)

var accountPrefix = []byte("account/")

type storedAccount struct {
	Nonce    uint64
	Balance  *big.Int
	Username string
}

// GetAccount loads an account, returning a zero-balance account for unknown
// addresses so callers never handle a missing entry.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.getRLP(composeKey(accountPrefix, addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance, Username: stored.Username}, nil
}

// PutAccount stores an account record.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return m.putRLP(composeKey(accountPrefix, addr), &storedAccount{
		Nonce:    account.Nonce,
		Balance:  balance,
		Username: account.Username,
	})
}
