package collection

import (
	"errors"
	"math/big"
	"testing"

	nativecommon "streampass/native/common"
)

type credentialKey struct {
	collection uint64
	holder     [20]byte
}

type mockState struct {
	collections map[uint64]*Collection
	lastID      uint64
	active      map[[32]byte]uint64
	wrapped     map[uint64]*WrappedCollection
	credentials map[credentialKey]uint64
}

func newMockState() *mockState {
	return &mockState{
		collections: make(map[uint64]*Collection),
		active:      make(map[[32]byte]uint64),
		wrapped:     make(map[uint64]*WrappedCollection),
		credentials: make(map[credentialKey]uint64),
	}
}

func (m *mockState) CollectionGet(id uint64) (*Collection, bool, error) {
	collection, ok := m.collections[id]
	if !ok {
		return nil, false, nil
	}
	return collection.Clone(), true, nil
}

func (m *mockState) CollectionPut(collection *Collection) error {
	if collection == nil {
		return nil
	}
	m.collections[collection.ID] = collection.Clone()
	return nil
}

func (m *mockState) CollectionLastID() (uint64, error) { return m.lastID, nil }

func (m *mockState) SetCollectionLastID(id uint64) error {
	m.lastID = id
	return nil
}

func (m *mockState) ActiveCollectionGet(creator [32]byte) (uint64, bool, error) {
	id, ok := m.active[creator]
	return id, ok, nil
}

func (m *mockState) ActiveCollectionPut(creator [32]byte, id uint64) error {
	m.active[creator] = id
	return nil
}

func (m *mockState) WrappedGet(id uint64) (*WrappedCollection, bool, error) {
	wrapped, ok := m.wrapped[id]
	if !ok {
		return nil, false, nil
	}
	return wrapped.Clone(), true, nil
}

func (m *mockState) WrappedPut(wrapped *WrappedCollection) error {
	if wrapped == nil {
		return nil
	}
	m.wrapped[wrapped.LinkedID] = wrapped.Clone()
	return nil
}

func (m *mockState) CredentialGet(collectionID uint64, holder [20]byte) (uint64, bool, error) {
	tokenID, ok := m.credentials[credentialKey{collectionID, holder}]
	return tokenID, ok, nil
}

func (m *mockState) CredentialPut(collectionID uint64, holder [20]byte, tokenID uint64) error {
	m.credentials[credentialKey{collectionID, holder}] = tokenID
	return nil
}

func (m *mockState) CredentialDelete(collectionID uint64, holder [20]byte) error {
	delete(m.credentials, credentialKey{collectionID, holder})
	return nil
}

type mockIdentity struct {
	controllers map[[32]byte][20]byte
}

func (m *mockIdentity) Controller(creatorID [32]byte) ([20]byte, bool, error) {
	controller, ok := m.controllers[creatorID]
	return controller, ok, nil
}

type portCall struct {
	creator    [32]byte
	collection uint64
	holder     [20]byte
	flat       *big.Int
}

type mockRewards struct {
	indexes []([32]byte)
	ports   []portCall
	zeroed  []([20]byte)
}

func (m *mockRewards) CreateIndex(creator [32]byte) error {
	m.indexes = append(m.indexes, creator)
	return nil
}

func (m *mockRewards) PortInterim(creator [32]byte, collectionID uint64, holder [20]byte, flat *big.Int) (*big.Int, error) {
	m.ports = append(m.ports, portCall{creator, collectionID, holder, flat})
	return new(big.Int).Set(flat), nil
}

func (m *mockRewards) ZeroUnits(creator [32]byte, holder [20]byte) error {
	m.zeroed = append(m.zeroed, holder)
	return nil
}

type mockExternal struct {
	owner    [20]byte
	balances map[[20]byte]*big.Int
}

func (m *mockExternal) OwnerOf(source [20]byte, id *big.Int) ([20]byte, error) {
	return m.owner, nil
}

func (m *mockExternal) BalanceOf(source [20]byte, account [20]byte, id *big.Int) (*big.Int, error) {
	balance, ok := m.balances[account]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

func newTestRegistry(t *testing.T) (*Registry, *mockState, *mockRewards, [20]byte, [32]byte) {
	t.Helper()
	state := newMockState()
	rewards := &mockRewards{}
	creator := addr(1)
	creatorID := DeriveCreatorID(creator, "studio")
	registry := NewRegistry(state)
	registry.SetIdentity(&mockIdentity{controllers: map[[32]byte][20]byte{creatorID: creator}})
	registry.SetRewards(rewards)
	registry.SetCapabilities(nativecommon.NewCapabilityTable())
	registry.SetMintReward(big.NewInt(100))
	return registry, state, rewards, creator, creatorID
}

func TestCreateCollectionAllocatesWindows(t *testing.T) {
	registry, _, _, creator, creatorID := newTestRegistry(t)

	first, err := registry.CreateCollection(creator, creatorID, 500, "ipfs://one")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.ID != 1 || first.StartTokenID != 1 || first.AvailableSupply != 500 {
		t.Fatalf("unexpected first collection: %+v", first)
	}
	second, err := registry.CreateCollection(creator, creatorID, 0, "ipfs://two")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ID != 2 || second.StartTokenID != 501 {
		t.Fatalf("window overlap: %+v", second)
	}
	if second.AvailableSupply != 10_000 {
		t.Fatalf("default supply not applied: %d", second.AvailableSupply)
	}
	active, ok, _ := registry.ActiveCollection(creatorID)
	if !ok || active != 2 {
		t.Fatalf("active pointer = %d, want 2", active)
	}
}

func TestCreateCollectionRequiresController(t *testing.T) {
	registry, _, _, _, creatorID := newTestRegistry(t)
	if _, err := registry.CreateCollection(addr(9), creatorID, 10, ""); !errors.Is(err, ErrNotController) {
		t.Fatalf("expected ErrNotController, got %v", err)
	}
}

func TestMintAllocatesWithinWindow(t *testing.T) {
	registry, _, rewards, creator, creatorID := newTestRegistry(t)
	created, err := registry.CreateCollection(creator, creatorID, 100, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	tokenID, minted, err := registry.Mint(creator, addr(5), created.ID)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !minted || tokenID != created.StartTokenID {
		t.Fatalf("mint = (%d,%v), want (%d,true)", tokenID, minted, created.StartTokenID)
	}
	if len(rewards.ports) != 1 || rewards.ports[0].flat.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("reward not credited on mint: %+v", rewards.ports)
	}
}

func TestMintSupplyExhaustionIsSentinel(t *testing.T) {
	registry, state, _, creator, creatorID := newTestRegistry(t)
	created, err := registry.CreateCollection(creator, creatorID, 1, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	tokenID, minted, err := registry.Mint(creator, addr(5), created.ID)
	if err != nil || !minted {
		t.Fatalf("first mint failed: (%d,%v,%v)", tokenID, minted, err)
	}
	if tokenID != created.StartTokenID {
		t.Fatalf("first token id = %d, want %d", tokenID, created.StartTokenID)
	}
	before := state.collections[created.ID].Clone()

	_, minted, err = registry.Mint(creator, addr(6), created.ID)
	if err != nil {
		t.Fatalf("second mint errored instead of no-op: %v", err)
	}
	if minted {
		t.Fatalf("second mint succeeded past the cap")
	}
	after := state.collections[created.ID]
	if after.TotalSupply != before.TotalSupply || after.TotalRedeemed != before.TotalRedeemed {
		t.Fatalf("sentinel mint mutated counters: %+v", after)
	}
}

func TestMintDuplicateIsSentinel(t *testing.T) {
	registry, _, rewards, creator, creatorID := newTestRegistry(t)
	created, err := registry.CreateCollection(creator, creatorID, 10, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, minted, err := registry.Mint(creator, addr(5), created.ID); err != nil || !minted {
		t.Fatalf("first mint: (%v,%v)", minted, err)
	}
	if _, minted, err := registry.Mint(creator, addr(5), created.ID); err != nil || minted {
		t.Fatalf("duplicate mint not a sentinel: (%v,%v)", minted, err)
	}
	if len(rewards.ports) != 1 {
		t.Fatalf("duplicate mint credited rewards again")
	}
}

func TestMintRequiresAuthorization(t *testing.T) {
	registry, _, _, creator, creatorID := newTestRegistry(t)
	created, err := registry.CreateCollection(creator, creatorID, 10, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, _, err := registry.Mint(addr(9), addr(5), created.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestBurnInvertsCountersAndZeroesRewards(t *testing.T) {
	registry, state, rewards, creator, creatorID := newTestRegistry(t)
	created, err := registry.CreateCollection(creator, creatorID, 10, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	holder := addr(5)
	if _, minted, err := registry.Mint(creator, holder, created.ID); err != nil || !minted {
		t.Fatalf("mint: (%v,%v)", minted, err)
	}
	if err := registry.Burn(creator, holder, created.ID); err != nil {
		t.Fatalf("burn: %v", err)
	}
	collection := state.collections[created.ID]
	if collection.TotalSupply != 0 || collection.TotalRedeemed != 1 {
		t.Fatalf("counters after burn: supply=%d redeemed=%d", collection.TotalSupply, collection.TotalRedeemed)
	}
	if len(rewards.zeroed) != 1 || rewards.zeroed[0] != holder {
		t.Fatalf("reward entry not zeroed on burn")
	}
	// Burned slots count against the cap; the freed slot is not reissued.
	tokenID, minted, err := registry.Mint(creator, addr(6), created.ID)
	if err != nil || !minted {
		t.Fatalf("mint after burn: (%v,%v)", minted, err)
	}
	if tokenID != created.StartTokenID+1 {
		t.Fatalf("burned token id reissued: got %d", tokenID)
	}
}

func TestCoordinatorPathsDeferRewardWork(t *testing.T) {
	registry, _, rewards, creator, creatorID := newTestRegistry(t)
	coordinator := addr(0xcc)
	caps := nativecommon.NewCapabilityTable()
	caps.Grant(coordinator, nativecommon.CapCoordinator)
	registry.SetCapabilities(caps)

	created, err := registry.CreateCollection(creator, creatorID, 10, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	holder := addr(5)
	if _, minted, err := registry.Mint(coordinator, holder, created.ID); err != nil || !minted {
		t.Fatalf("coordinator mint: (%v,%v)", minted, err)
	}
	if len(rewards.ports) != 0 {
		t.Fatalf("coordinator mint credited rewards inline")
	}
	if err := registry.Burn(coordinator, holder, created.ID); err != nil {
		t.Fatalf("coordinator burn: %v", err)
	}
	if len(rewards.zeroed) != 0 {
		t.Fatalf("coordinator burn zeroed rewards inline")
	}
}

func TestRelayPathsDoRewardWorkInline(t *testing.T) {
	registry, _, rewards, creator, creatorID := newTestRegistry(t)
	relay := addr(0xab)
	caps := nativecommon.NewCapabilityTable()
	caps.Grant(relay, nativecommon.CapRelay)
	registry.SetCapabilities(caps)

	created, err := registry.CreateCollection(creator, creatorID, 10, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	holder := addr(6)
	if _, minted, err := registry.Mint(relay, holder, created.ID); err != nil || !minted {
		t.Fatalf("relay mint: (%v,%v)", minted, err)
	}
	if len(rewards.ports) != 1 || rewards.ports[0].holder != holder {
		t.Fatalf("relay mint did not credit rewards: %+v", rewards.ports)
	}
	if err := registry.Burn(relay, holder, created.ID); err != nil {
		t.Fatalf("relay burn: %v", err)
	}
	if len(rewards.zeroed) != 1 || rewards.zeroed[0] != holder {
		t.Fatalf("relay burn did not zero rewards: %v", rewards.zeroed)
	}

	// A principal carrying the coordinator capability as well falls on the
	// deferred path, so relays must never share the coordinator identity.
	caps.Grant(relay, nativecommon.CapCoordinator)
	other := addr(7)
	if _, minted, err := registry.Mint(relay, other, created.ID); err != nil || !minted {
		t.Fatalf("dual-capability mint: (%v,%v)", minted, err)
	}
	if len(rewards.ports) != 1 {
		t.Fatalf("dual-capability mint credited rewards inline")
	}
}

func TestWrappedCollectionProxiesExternalBalances(t *testing.T) {
	registry, _, _, creator, creatorID := newTestRegistry(t)
	holder := addr(5)
	external := &mockExternal{
		owner:    holder,
		balances: map[[20]byte]*big.Int{holder: big.NewInt(3)},
	}
	registry.SetExternalSource(external)

	single, err := registry.CreateWrappedCollection(creator, creatorID, addr(0xee), ExternalKindSingleOwner, big.NewInt(7))
	if err != nil {
		t.Fatalf("create wrapped: %v", err)
	}
	if !single.Wrapped {
		t.Fatalf("collection not marked wrapped")
	}
	if _, minted, err := registry.Mint(creator, holder, single.ID); err != nil || minted {
		t.Fatalf("wrapped mint not a sentinel: (%v,%v)", minted, err)
	}
	active, err := registry.CredentialActive(holder, single.ID)
	if err != nil || !active {
		t.Fatalf("single-owner passthrough: (%v,%v)", active, err)
	}
	if active, _ := registry.CredentialActive(addr(6), single.ID); active {
		t.Fatalf("non-owner reported active")
	}

	multi, err := registry.CreateWrappedCollection(creator, creatorID, addr(0xee), ExternalKindMultiBalance, big.NewInt(7))
	if err != nil {
		t.Fatalf("create multi wrapped: %v", err)
	}
	active, err = registry.CredentialActive(holder, multi.ID)
	if err != nil || !active {
		t.Fatalf("multi-balance passthrough: (%v,%v)", active, err)
	}
	if active, _ := registry.CredentialActive(addr(6), multi.ID); active {
		t.Fatalf("zero-balance holder reported active")
	}
}

func TestWrappedCollectionKeepsWindowMonotonic(t *testing.T) {
	registry, _, _, creator, creatorID := newTestRegistry(t)
	if _, err := registry.CreateWrappedCollection(creator, creatorID, addr(0xee), ExternalKindSingleOwner, nil); err != nil {
		t.Fatalf("create wrapped: %v", err)
	}
	next, err := registry.CreateCollection(creator, creatorID, 10, "")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	// A wrapped collection owns no window, so the next start passes through.
	if next.StartTokenID != 1 {
		t.Fatalf("start token id = %d, want 1", next.StartTokenID)
	}
}
