package state

var (
	deliveryPrefix         = []byte("replication/delivery/")
	remoteCredentialPrefix = []byte("replication/credential/")
	remoteSenderPrefix     = []byte("replication/sender/")
)

// DeliverySeen reports whether the delivery id was already consumed.
func (m *Manager) DeliverySeen(id [32]byte) (bool, error) {
	return m.has(composeKey(deliveryPrefix, id[:]))
}

// DeliveryMark consumes a delivery id.
func (m *Manager) DeliveryMark(id [32]byte) error {
	if err := m.ready(); err != nil {
		return err
	}
	return m.db.Put(composeKey(deliveryPrefix, id[:]), []byte{1})
}

// RemoteCredentialGet returns the locally minted token remembered for a
// remote holder.
func (m *Manager) RemoteCredentialGet(account [20]byte, collectionID uint64) (uint64, bool, error) {
	var tokenID uint64
	ok, err := m.getRLP(composeKey(remoteCredentialPrefix, account[:], uint64Key(collectionID)), &tokenID)
	return tokenID, ok, err
}

// RemoteCredentialPut remembers the locally minted token for a remote
// holder.
func (m *Manager) RemoteCredentialPut(account [20]byte, collectionID uint64, tokenID uint64) error {
	return m.putRLP(composeKey(remoteCredentialPrefix, account[:], uint64Key(collectionID)), tokenID)
}

// RemoteCredentialDelete forgets the remote holder's local token.
func (m *Manager) RemoteCredentialDelete(account [20]byte, collectionID uint64) error {
	return m.delete(composeKey(remoteCredentialPrefix, account[:], uint64Key(collectionID)))
}

// RemoteSenderGet returns the registered sender for a domain.
func (m *Manager) RemoteSenderGet(domain string) ([20]byte, bool, error) {
	var sender [20]byte
	ok, err := m.getRLP(composeKey(remoteSenderPrefix, []byte(domain)), &sender)
	return sender, ok, err
}

// RemoteSenderPut registers the accepted sender for a domain.
func (m *Manager) RemoteSenderPut(domain string, sender [20]byte) error {
	return m.putRLP(composeKey(remoteSenderPrefix, []byte(domain)), &sender)
}
