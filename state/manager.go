package state

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/rlp"

	"streampass/storage"
)

// Manager persists ledger state in the underlying key-value store. It backs
// every native engine through the narrow per-engine interfaces they declare.
type Manager struct {
	db storage.Database
}

// NewManager constructs a manager bound to the provided storage backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var errNilDatabase = errors.New("state: database not configured")

func (m *Manager) ready() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	return nil
}

// getRLP loads and decodes the value at key. The boolean reports presence.
func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	if err := m.ready(); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

func (m *Manager) delete(key []byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.db.Delete(key)
}

func (m *Manager) has(key []byte) (bool, error) {
	if err := m.ready(); err != nil {
		return false, err
	}
	return m.db.Has(key)
}

func composeKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}

func uint64Key(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
