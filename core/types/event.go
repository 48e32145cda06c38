package types

// Event represents a typed state change emitted while applying a ledger
// operation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
