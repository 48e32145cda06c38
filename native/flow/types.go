package flow

import "math/big"

// Record captures one active sender→receiver split agreement. A record
// exists iff a live stream exists for the pair.
type Record struct {
	Sender    [20]byte `json:"sender"`
	Receiver  [20]byte `json:"receiver"`
	NetRate   *big.Int `json:"netRate"`
	GrossRate *big.Int `json:"grossRate"`
	// Position is the record's slot in the sender's flow index. It is kept
	// in sync by swap-pop removal.
	Position uint32 `json:"position"`
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.NetRate != nil {
		clone.NetRate = new(big.Int).Set(r.NetRate)
	}
	if r.GrossRate != nil {
		clone.GrossRate = new(big.Int).Set(r.GrossRate)
	}
	return &clone
}

// StreamSubstrate is the platform payment-stream facility the ledger drives.
// Rates are settlement-asset amounts per second.
type StreamSubstrate interface {
	RateBetween(from, to [20]byte) (*big.Int, error)
	CreateStream(from, to [20]byte, rate *big.Int) error
	UpdateStream(from, to [20]byte, rate *big.Int) error
	DeleteStream(from, to [20]byte) error
	// HasAuthority reports whether the operator holds delegated authority
	// to mutate the account's streams.
	HasAuthority(operator, account [20]byte) (bool, error)
}
