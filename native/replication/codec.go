package replication

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
)

// Action identifies the operation a replicated intent carries.
type Action uint8

const (
	// ActionMint requests a credential mint on the receiving domain.
	ActionMint Action = 1
	// ActionBurn requests a credential burn on the receiving domain.
	ActionBurn Action = 2
)

// Valid reports whether the action is one of the defined intents.
func (a Action) Valid() bool {
	return a == ActionMint || a == ActionBurn
}

// String implements fmt.Stringer for event attributes.
func (a Action) String() string {
	switch a {
	case ActionMint:
		return "mint"
	case ActionBurn:
		return "burn"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyPayload rejects deliveries without an intent body.
	ErrEmptyPayload = errors.New("replication: empty payload")
	// ErrUnknownAction rejects intents carrying an undefined action.
	ErrUnknownAction = errors.New("replication: unknown intent action")
)

// Intent is the wire form of a replicated mint or burn request.
type Intent struct {
	Action       uint8
	Account      [20]byte
	CollectionID uint64
}

// EncodeIntent serialises an intent for relay transport.
func EncodeIntent(action Action, account [20]byte, collectionID uint64) ([]byte, error) {
	if !action.Valid() {
		return nil, ErrUnknownAction
	}
	return rlp.EncodeToBytes(&Intent{Action: uint8(action), Account: account, CollectionID: collectionID})
}

// DecodeIntent parses a relayed payload and validates its action.
func DecodeIntent(raw []byte) (*Intent, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}
	intent := new(Intent)
	if err := rlp.DecodeBytes(raw, intent); err != nil {
		return nil, err
	}
	if !Action(intent.Action).Valid() {
		return nil, ErrUnknownAction
	}
	return intent, nil
}
