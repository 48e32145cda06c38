package rewards

import "math/big"

// Index is the pro-rata distribution ledger for one creator identity.
// Approved units belong to subscribers holding an active credential; pending
// units aggregate the interim accruals waiting on a credential.
type Index struct {
	CreatorID     [32]byte `json:"creatorId"`
	ApprovedUnits *big.Int `json:"approvedUnits"`
	PendingUnits  *big.Int `json:"pendingUnits"`
	// Distributed is the cumulative amount settled through the index.
	Distributed *big.Int `json:"distributed"`
}

// Clone returns a deep copy of the index.
func (i *Index) Clone() *Index {
	if i == nil {
		return nil
	}
	clone := *i
	if i.ApprovedUnits != nil {
		clone.ApprovedUnits = new(big.Int).Set(i.ApprovedUnits)
	}
	if i.PendingUnits != nil {
		clone.PendingUnits = new(big.Int).Set(i.PendingUnits)
	}
	if i.Distributed != nil {
		clone.Distributed = new(big.Int).Set(i.Distributed)
	}
	return &clone
}

// MembershipView answers whether a holder's reward writes may land in the
// live index. Wrapped collections answer through their external balance
// source.
type MembershipView interface {
	CredentialActive(holder [20]byte, collectionID uint64) (bool, error)
}
