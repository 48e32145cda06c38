package state

var identityControllerPrefix = []byte("identity/controller/")

// IdentityControllerGet returns the account controlling a creator identity.
func (m *Manager) IdentityControllerGet(creator [32]byte) ([20]byte, bool, error) {
	var controller [20]byte
	ok, err := m.getRLP(composeKey(identityControllerPrefix, creator[:]), &controller)
	return controller, ok, err
}

// IdentityControllerPut registers the controlling account for a creator
// identity.
func (m *Manager) IdentityControllerPut(creator [32]byte, controller [20]byte) error {
	return m.putRLP(composeKey(identityControllerPrefix, creator[:]), &controller)
}
