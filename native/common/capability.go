package common

import "sync"

// Capability names a single permission a principal may hold.
type Capability string

const (
	// CapVerifiedMinter allows minting credentials in collections the
	// principal does not own.
	CapVerifiedMinter Capability = "minter.verified"
	// CapCoordinator marks the subscription coordinator, which defers
	// reward crediting on its own mint/burn paths.
	CapCoordinator Capability = "subscription.coordinator"
	// CapRelay marks the trusted message relay allowed to deliver
	// replicated intents.
	CapRelay Capability = "replication.relay"
	// CapForceTerminate allows closing a sender's inbound stream on the
	// sender's behalf.
	CapForceTerminate Capability = "flow.force_terminate"
)

// CapabilityTable maps principals to the capabilities they hold. Operations
// receive the table explicitly; nothing consults ambient global state.
type CapabilityTable struct {
	mu     sync.RWMutex
	grants map[[20]byte]map[Capability]struct{}
}

// NewCapabilityTable returns an empty table.
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{grants: make(map[[20]byte]map[Capability]struct{})}
}

// Grant adds a capability to the principal's permission set.
func (t *CapabilityTable) Grant(principal [20]byte, cap Capability) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[principal]
	if !ok {
		set = make(map[Capability]struct{})
		t.grants[principal] = set
	}
	set[cap] = struct{}{}
}

// Revoke removes a capability from the principal's permission set.
func (t *CapabilityTable) Revoke(principal [20]byte, cap Capability) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.grants[principal]; ok {
		delete(set, cap)
		if len(set) == 0 {
			delete(t.grants, principal)
		}
	}
}

// Allowed reports whether the principal holds the capability. A nil table
// grants nothing.
func (t *CapabilityTable) Allowed(principal [20]byte, cap Capability) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.grants[principal]
	if !ok {
		return false
	}
	_, ok = set[cap]
	return ok
}
