package collection

import "math/big"

// ExternalKind distinguishes the two wrapped-collection balance sources.
type ExternalKind uint8

const (
	// ExternalKindSingleOwner points at a source where every external id
	// has exactly one owner.
	ExternalKindSingleOwner ExternalKind = iota
	// ExternalKindMultiBalance points at a source keeping per-account
	// balances for each external id.
	ExternalKindMultiBalance
)

// Valid reports whether the kind is one of the two supported variants.
func (k ExternalKind) Valid() bool {
	switch k {
	case ExternalKindSingleOwner, ExternalKindMultiBalance:
		return true
	default:
		return false
	}
}

func (k ExternalKind) String() string {
	switch k {
	case ExternalKindSingleOwner:
		return "single-owner"
	case ExternalKindMultiBalance:
		return "multi-balance"
	default:
		return "unknown"
	}
}

// Collection describes one credential collection. Each collection owns a
// non-overlapping window of token ids starting at StartTokenID; burned slots
// count against the cap through TotalRedeemed and are never reissued.
type Collection struct {
	ID              uint64   `json:"id"`
	StartTokenID    uint64   `json:"startTokenId"`
	TotalSupply     uint64   `json:"totalSupply"`
	AvailableSupply uint64   `json:"availableSupply"`
	TotalRedeemed   uint64   `json:"totalRedeemed"`
	CreatorID       [32]byte `json:"creatorId"`
	InterimTotal    *big.Int `json:"interimTotal"`
	CreatorAddress  [20]byte `json:"creatorAddress"`
	MetadataURI     string   `json:"metadataUri"`
	Wrapped         bool     `json:"wrapped"`
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (c *Collection) Clone() *Collection {
	if c == nil {
		return nil
	}
	clone := *c
	if c.InterimTotal != nil {
		clone.InterimTotal = new(big.Int).Set(c.InterimTotal)
	}
	return &clone
}

// WrappedCollection is a passthrough pointer at an external credential or
// balance source. It never mints tokens of its own.
type WrappedCollection struct {
	Source    [20]byte     `json:"source"`
	Kind      ExternalKind `json:"kind"`
	PointedID *big.Int     `json:"pointedId"`
	LinkedID  uint64       `json:"linkedId"`
}

// Clone returns a deep copy of the wrapped pointer.
func (w *WrappedCollection) Clone() *WrappedCollection {
	if w == nil {
		return nil
	}
	clone := *w
	if w.PointedID != nil {
		clone.PointedID = new(big.Int).Set(w.PointedID)
	}
	return &clone
}

// IdentityRegistry resolves a creator identity to its controlling account.
type IdentityRegistry interface {
	Controller(creatorID [32]byte) ([20]byte, bool, error)
}

// ExternalSource answers balance queries for wrapped collections.
type ExternalSource interface {
	OwnerOf(source [20]byte, id *big.Int) ([20]byte, error)
	BalanceOf(source [20]byte, account [20]byte, id *big.Int) (*big.Int, error)
}

// RewardLedger is the slice of the reward engine the registry drives on
// mint and burn.
type RewardLedger interface {
	CreateIndex(creator [32]byte) error
	PortInterim(creator [32]byte, collectionID uint64, holder [20]byte, flatReward *big.Int) (*big.Int, error)
	ZeroUnits(creator [32]byte, holder [20]byte) error
}
