package types

import "math/big"

// Account tracks the settlement-asset balance for a platform participant.
// Balances are denominated in the single configured settlement asset; the
// ledger never touches any other asset.
type Account struct {
	Nonce    uint64   `json:"nonce"`
	Balance  *big.Int `json:"balance"`
	Username string   `json:"username,omitempty"`
}

// Copy returns a deep copy so callers cannot alias the balance pointer held
// by state.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return &clone
}
