package subscription

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// Subscription records one accepted membership, keyed by (sender, receiver).
type Subscription struct {
	Sender         [20]byte `json:"sender"`
	Receiver       [20]byte `json:"receiver"`
	CollectionID   uint64   `json:"collectionId"`
	CredentialID   uint64   `json:"credentialId"`
	Duration       uint64   `json:"duration"`
	TaskID         string   `json:"taskId,omitempty"`
	ReplicationSeq uint64   `json:"replicationSeq,omitempty"`
	Remote         bool     `json:"remote"`
	Active         bool     `json:"active"`
	CreatedAt      int64    `json:"createdAt"`
}

// Clone returns a copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// CreatorPolicy is the per-receiver minimum policy, defaulted when unset.
type CreatorPolicy struct {
	MinRate           *big.Int `json:"minRate"`
	MinDuration       uint64   `json:"minDuration"`
	BurnOnUnsubscribe bool     `json:"burnOnUnsubscribe"`
}

// Clone returns a deep copy of the policy.
func (p *CreatorPolicy) Clone() *CreatorPolicy {
	if p == nil {
		return nil
	}
	clone := *p
	if p.MinRate != nil {
		clone.MinRate = new(big.Int).Set(p.MinRate)
	}
	return &clone
}

// ErrMissingPayload rejects flow events without the out-of-band payload that
// identifies the receiver and target collection.
var ErrMissingPayload = errors.New("subscription coordinator: payload required")

// Payload is the out-of-band context attached to a stream operation.
type Payload struct {
	Receiver     [20]byte
	CollectionID uint64
	Duration     uint64
}

// EncodePayload serialises the payload for transport alongside the stream
// operation.
func EncodePayload(p *Payload) ([]byte, error) {
	if p == nil {
		return nil, ErrMissingPayload
	}
	return rlp.EncodeToBytes(p)
}

// DecodePayload parses the out-of-band payload. An empty payload is a hard
// rejection, never coerced.
func DecodePayload(raw []byte) (*Payload, error) {
	if len(raw) == 0 {
		return nil, ErrMissingPayload
	}
	payload := new(Payload)
	if err := rlp.DecodeBytes(raw, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
