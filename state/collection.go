package state

import (
	"encoding/binary"
	"errors"

	"streampass/native/collection"
	"streampass/storage"
)

var (
	collectionRecordPrefix = []byte("collection/record/")
	collectionLastIDKey    = []byte("collection/lastid")
	collectionActivePrefix = []byte("collection/active/")
	wrappedRecordPrefix    = []byte("collection/wrapped/")
	credentialPrefix       = []byte("collection/credential/")
)

// CollectionGet loads a collection record by id.
func (m *Manager) CollectionGet(id uint64) (*collection.Collection, bool, error) {
	record := new(collection.Collection)
	ok, err := m.getRLP(composeKey(collectionRecordPrefix, uint64Key(id)), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// CollectionPut stores a collection record keyed by its id.
func (m *Manager) CollectionPut(record *collection.Collection) error {
	return m.putRLP(composeKey(collectionRecordPrefix, uint64Key(record.ID)), record)
}

// CollectionLastID returns the highest allocated collection id.
func (m *Manager) CollectionLastID() (uint64, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	raw, err := m.db.Get(collectionLastIDKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(raw), nil
}

// SetCollectionLastID stores the highest allocated collection id.
func (m *Manager) SetCollectionLastID(id uint64) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.db.Put(collectionLastIDKey, uint64Key(id))
}

// ActiveCollectionGet returns the creator's active collection pointer.
func (m *Manager) ActiveCollectionGet(creator [32]byte) (uint64, bool, error) {
	var id uint64
	ok, err := m.getRLP(composeKey(collectionActivePrefix, creator[:]), &id)
	return id, ok, err
}

// ActiveCollectionPut stores the creator's active collection pointer.
func (m *Manager) ActiveCollectionPut(creator [32]byte, id uint64) error {
	return m.putRLP(composeKey(collectionActivePrefix, creator[:]), id)
}

// WrappedGet loads the wrapped pointer linked to the collection id.
func (m *Manager) WrappedGet(id uint64) (*collection.WrappedCollection, bool, error) {
	record := new(collection.WrappedCollection)
	ok, err := m.getRLP(composeKey(wrappedRecordPrefix, uint64Key(id)), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// WrappedPut stores the wrapped pointer keyed by its linked collection id.
func (m *Manager) WrappedPut(wrapped *collection.WrappedCollection) error {
	return m.putRLP(composeKey(wrappedRecordPrefix, uint64Key(wrapped.LinkedID)), wrapped)
}

// CredentialGet returns the holder's token id in the collection.
func (m *Manager) CredentialGet(collectionID uint64, holder [20]byte) (uint64, bool, error) {
	var tokenID uint64
	ok, err := m.getRLP(composeKey(credentialPrefix, uint64Key(collectionID), holder[:]), &tokenID)
	return tokenID, ok, err
}

// CredentialPut stores the holder's token id in the collection.
func (m *Manager) CredentialPut(collectionID uint64, holder [20]byte, tokenID uint64) error {
	return m.putRLP(composeKey(credentialPrefix, uint64Key(collectionID), holder[:]), tokenID)
}

// CredentialDelete removes the holder's credential entry.
func (m *Manager) CredentialDelete(collectionID uint64, holder [20]byte) error {
	return m.delete(composeKey(credentialPrefix, uint64Key(collectionID), holder[:]))
}
