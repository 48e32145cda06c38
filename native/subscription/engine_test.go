package subscription

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"streampass/core/types"
	"streampass/native/flow"
)

type mockCoordState struct {
	subs     map[string]*Subscription
	policies map[string]*CreatorPolicy
	accounts map[string]*types.Account
}

func newMockCoordState() *mockCoordState {
	return &mockCoordState{
		subs:     make(map[string]*Subscription),
		policies: make(map[string]*CreatorPolicy),
		accounts: make(map[string]*types.Account),
	}
}

func pairKey(sender, receiver [20]byte) string {
	return string(sender[:]) + string(receiver[:])
}

func (m *mockCoordState) SubscriptionGet(sender, receiver [20]byte) (*Subscription, bool, error) {
	sub, ok := m.subs[pairKey(sender, receiver)]
	return sub, ok, nil
}

func (m *mockCoordState) SubscriptionPut(sub *Subscription) error {
	m.subs[pairKey(sub.Sender, sub.Receiver)] = sub.Clone()
	return nil
}

func (m *mockCoordState) SubscriptionDelete(sender, receiver [20]byte) error {
	delete(m.subs, pairKey(sender, receiver))
	return nil
}

func (m *mockCoordState) CreatorPolicyGet(receiver [20]byte) (*CreatorPolicy, bool, error) {
	policy, ok := m.policies[string(receiver[:])]
	return policy, ok, nil
}

func (m *mockCoordState) CreatorPolicyPut(receiver [20]byte, policy *CreatorPolicy) error {
	m.policies[string(receiver[:])] = policy.Clone()
	return nil
}

func (m *mockCoordState) GetAccount(addr []byte) (*types.Account, error) {
	if account, ok := m.accounts[string(addr)]; ok {
		return account, nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

type mockFlowLedger struct {
	records map[string]*flow.Record
	order   []string
	ops     []string
}

func newMockFlowLedger() *mockFlowLedger {
	return &mockFlowLedger{records: make(map[string]*flow.Record)}
}

func (m *mockFlowLedger) CreateFlow(sender, receiver [20]byte, gross *big.Int) (*flow.Record, error) {
	key := pairKey(sender, receiver)
	if _, ok := m.records[key]; ok {
		return nil, flow.ErrRecordExists
	}
	record := &flow.Record{Sender: sender, Receiver: receiver, GrossRate: new(big.Int).Set(gross)}
	m.records[key] = record
	m.order = append(m.order, key)
	m.ops = append(m.ops, fmt.Sprintf("create:%s", gross))
	return record.Clone(), nil
}

func (m *mockFlowLedger) UpdateFlow(sender, receiver [20]byte, newGross *big.Int) (*flow.Record, error) {
	key := pairKey(sender, receiver)
	record, ok := m.records[key]
	if !ok {
		return nil, flow.ErrRecordNotFound
	}
	if newGross.Sign() == 0 {
		m.removeKey(key)
		m.ops = append(m.ops, "cancel")
		return nil, nil
	}
	record.GrossRate = new(big.Int).Set(newGross)
	m.ops = append(m.ops, fmt.Sprintf("update:%s", newGross))
	return record.Clone(), nil
}

func (m *mockFlowLedger) TerminateFlow(sender, receiver [20]byte) error {
	key := pairKey(sender, receiver)
	if _, ok := m.records[key]; !ok {
		return flow.ErrRecordNotFound
	}
	m.removeKey(key)
	m.ops = append(m.ops, "terminate")
	return nil
}

func (m *mockFlowLedger) OnSenderTerminated(sender [20]byte) error {
	for key, record := range m.records {
		if record.Sender == sender {
			m.removeKey(key)
		}
	}
	m.ops = append(m.ops, "sweep")
	return nil
}

func (m *mockFlowLedger) SenderRecords(sender [20]byte) ([]*flow.Record, error) {
	var records []*flow.Record
	for _, key := range m.order {
		record, ok := m.records[key]
		if !ok || record.Sender != sender {
			continue
		}
		records = append(records, record.Clone())
	}
	return records, nil
}

func (m *mockFlowLedger) removeKey(key string) {
	delete(m.records, key)
	for i, existing := range m.order {
		if existing == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

type mockRegistry struct {
	creator   [32]byte
	holders   map[string]uint64
	nextToken uint64
	exhausted bool
	mints     int
	burns     int
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{creator: [32]byte{0xcc}, holders: make(map[string]uint64), nextToken: 1}
}

func (m *mockRegistry) Mint(caller, account [20]byte, collectionID uint64) (uint64, bool, error) {
	if m.exhausted {
		return 0, false, nil
	}
	key := string(account[:])
	if _, ok := m.holders[key]; ok {
		return 0, false, nil
	}
	tokenID := m.nextToken
	m.nextToken++
	m.holders[key] = tokenID
	m.mints++
	return tokenID, true, nil
}

func (m *mockRegistry) Burn(caller, account [20]byte, collectionID uint64) error {
	key := string(account[:])
	if _, ok := m.holders[key]; !ok {
		return errors.New("not minted")
	}
	delete(m.holders, key)
	m.burns++
	return nil
}

func (m *mockRegistry) CreatorOf(collectionID uint64) ([32]byte, bool, error) {
	return m.creator, true, nil
}

type rewardCall struct {
	creator    [32]byte
	collection uint64
	holder     [20]byte
	flat       *big.Int
}

type mockRewardLedger struct {
	ports  []rewardCall
	zeroed []rewardCall
}

func (m *mockRewardLedger) PortInterim(creator [32]byte, collectionID uint64, holder [20]byte, flatReward *big.Int) (*big.Int, error) {
	m.ports = append(m.ports, rewardCall{creator: creator, collection: collectionID, holder: holder, flat: flatReward})
	return new(big.Int).Set(flatReward), nil
}

func (m *mockRewardLedger) ZeroUnits(creator [32]byte, holder [20]byte) error {
	m.zeroed = append(m.zeroed, rewardCall{creator: creator, holder: holder})
	return nil
}

type mockCoordSubstrate struct {
	authority bool
	updates   []string
}

func (m *mockCoordSubstrate) RateBetween(from, to [20]byte) (*big.Int, error) { return big.NewInt(0), nil }
func (m *mockCoordSubstrate) CreateStream(from, to [20]byte, rate *big.Int) error {
	return nil
}

func (m *mockCoordSubstrate) UpdateStream(from, to [20]byte, rate *big.Int) error {
	m.updates = append(m.updates, fmt.Sprintf("update:%x->%x:%s", from[:2], to[:2], rate))
	return nil
}

func (m *mockCoordSubstrate) DeleteStream(from, to [20]byte) error { return nil }

func (m *mockCoordSubstrate) HasAuthority(operator, account [20]byte) (bool, error) {
	return m.authority, nil
}

type mockReplicator struct {
	seq   uint64
	mints []uint64
	burns []uint64
}

func (m *mockReplicator) DispatchMint(account [20]byte, collectionID uint64) (uint64, error) {
	m.seq++
	m.mints = append(m.mints, collectionID)
	return m.seq, nil
}

func (m *mockReplicator) DispatchBurn(account [20]byte, collectionID uint64) (uint64, error) {
	m.seq++
	m.burns = append(m.burns, collectionID)
	return m.seq, nil
}

type coordFixture struct {
	engine    *Engine
	state     *mockCoordState
	flows     *mockFlowLedger
	registry  *mockRegistry
	rewards   *mockRewardLedger
	substrate *mockCoordSubstrate
	scheduler *MemoryScheduler
}

var (
	coordOperator = [20]byte{0x01}
	coordHub      = [20]byte{0x02}
	subSender     = [20]byte{0x11}
	subCreator    = [20]byte{0x21}
	otherCreator  = [20]byte{0x22}
)

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		state:     newMockCoordState(),
		flows:     newMockFlowLedger(),
		registry:  newMockRegistry(),
		rewards:   &mockRewardLedger{},
		substrate: &mockCoordSubstrate{authority: true},
		scheduler: NewMemoryScheduler(),
	}
	engine := NewEngine()
	engine.SetState(f.state)
	engine.SetFlows(f.flows)
	engine.SetSubstrate(f.substrate)
	engine.SetScheduler(f.scheduler)
	engine.SetOperator(coordOperator)
	engine.SetHub(coordHub)
	engine.SetNowFunc(func() int64 { return 1_000 })
	engine.SetActivation(&LocalActivationPolicy{
		Registry:   f.registry,
		Rewards:    f.rewards,
		Operator:   coordOperator,
		MintReward: big.NewInt(100),
	})
	f.engine = engine
	return f
}

func mustPayload(t *testing.T, receiver [20]byte, collectionID, duration uint64) []byte {
	t.Helper()
	raw, err := EncodePayload(&Payload{Receiver: receiver, CollectionID: collectionID, Duration: duration})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return raw
}

func TestHandleFlowCreatedMintsAndRewards(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(500)}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	payload := mustPayload(t, subCreator, 7, 0)
	sub, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload)
	if err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if sub.CredentialID == 0 {
		t.Fatalf("expected minted credential, got none")
	}
	if f.registry.mints != 1 {
		t.Fatalf("expected one mint, got %d", f.registry.mints)
	}
	if len(f.rewards.ports) != 1 {
		t.Fatalf("expected one reward port, got %d", len(f.rewards.ports))
	}
	port := f.rewards.ports[0]
	if port.flat.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected flat reward %s", port.flat)
	}
	if port.collection != 7 || port.holder != subSender {
		t.Fatalf("reward ported for wrong target: %+v", port)
	}
	stored, ok, err := f.engine.SubscriptionFor(subSender, subCreator)
	if err != nil || !ok {
		t.Fatalf("subscription not stored: ok=%v err=%v", ok, err)
	}
	if !stored.Active || stored.CollectionID != 7 {
		t.Fatalf("unexpected stored subscription: %+v", stored)
	}
}

func TestHandleFlowCreatedRejectsBelowMinimum(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(500)}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	payload := mustPayload(t, subCreator, 1, 0)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(499), payload); !errors.Is(err, ErrRateBelowMinimum) {
		t.Fatalf("expected ErrRateBelowMinimum, got %v", err)
	}
	if len(f.flows.ops) != 0 {
		t.Fatalf("flow ledger touched on rejection: %v", f.flows.ops)
	}
	if f.registry.mints != 0 {
		t.Fatalf("registry touched on rejection")
	}
}

func TestHandleFlowCreatedRejectsShortDuration(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(1), MinDuration: 3_600}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	payload := mustPayload(t, subCreator, 1, 60)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); !errors.Is(err, ErrDurationTooShort) {
		t.Fatalf("expected ErrDurationTooShort, got %v", err)
	}
	// An unbounded duration is never too short.
	payload = mustPayload(t, subCreator, 1, 0)
	f.state.accounts[string(subSender[:])] = &types.Account{Balance: big.NewInt(1_000_000)}
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("unbounded duration rejected: %v", err)
	}
}

func TestHandleFlowCreatedRejectsInsufficientBalance(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(10), MinDuration: 100}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	f.state.accounts[string(subSender[:])] = &types.Account{Balance: big.NewInt(999)}
	payload := mustPayload(t, subCreator, 1, 200)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(10), payload); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	f.state.accounts[string(subSender[:])] = &types.Account{Balance: big.NewInt(1_000)}
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(10), payload); err != nil {
		t.Fatalf("exact sustaining balance rejected: %v", err)
	}
}

func TestHandleFlowCreatedMissingPayload(t *testing.T) {
	f := newCoordFixture(t)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), nil); !errors.Is(err, ErrMissingPayload) {
		t.Fatalf("expected ErrMissingPayload, got %v", err)
	}
}

func TestMintSentinelDoesNotBlockSubscription(t *testing.T) {
	f := newCoordFixture(t)
	f.registry.exhausted = true
	payload := mustPayload(t, subCreator, 1, 0)
	sub, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload)
	if err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if sub.CredentialID != 0 {
		t.Fatalf("credential minted against exhausted supply")
	}
	if len(f.rewards.ports) != 0 {
		t.Fatalf("reward ported without a mint")
	}
	if _, ok, _ := f.engine.SubscriptionFor(subSender, subCreator); !ok {
		t.Fatalf("subscription dropped with mint sentinel")
	}
}

func TestHandleFlowUpdatedMerge(t *testing.T) {
	f := newCoordFixture(t)
	payload := mustPayload(t, subCreator, 1, 0)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if err := f.engine.HandleFlowUpdated(subSender, big.NewInt(2_000), payload); err != nil {
		t.Fatalf("handle update: %v", err)
	}
	record := f.flows.records[pairKey(subSender, subCreator)]
	if record == nil || record.GrossRate.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("gross rate not merged: %+v", record)
	}
}

func TestHandleFlowUpdatedReappliesFullPolicy(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(10), MinDuration: 100}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	f.state.accounts[string(subSender[:])] = &types.Account{Balance: big.NewInt(1_000)}
	payload := mustPayload(t, subCreator, 1, 200)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(10), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	opsBefore := len(f.flows.ops)
	// The sender's balance drained below the sustaining requirement, so a
	// rate increase fails the same gate a fresh subscription would.
	f.state.accounts[string(subSender[:])] = &types.Account{Balance: big.NewInt(500)}
	if err := f.engine.HandleFlowUpdated(subSender, big.NewInt(20), payload); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(f.flows.ops) != opsBefore {
		t.Fatalf("flow ledger touched on rejection: %v", f.flows.ops)
	}
	// A short remaining commitment is rejected on the duration prong too.
	f.state.accounts[string(subSender[:])] = &types.Account{Balance: big.NewInt(1_000)}
	shortPayload := mustPayload(t, subCreator, 1, 60)
	if err := f.engine.HandleFlowUpdated(subSender, big.NewInt(20), shortPayload); !errors.Is(err, ErrDurationTooShort) {
		t.Fatalf("expected ErrDurationTooShort, got %v", err)
	}
}

func TestHandleFlowUpdatedZeroTerminatesAndBurns(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(1), BurnOnUnsubscribe: true}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	payload := mustPayload(t, subCreator, 1, 0)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if err := f.engine.HandleFlowUpdated(subSender, big.NewInt(0), payload); err != nil {
		t.Fatalf("handle cancel: %v", err)
	}
	if _, ok, _ := f.engine.SubscriptionFor(subSender, subCreator); ok {
		t.Fatalf("subscription survived cancel")
	}
	if f.registry.burns != 1 {
		t.Fatalf("expected credential burn, got %d", f.registry.burns)
	}
	if len(f.rewards.zeroed) != 1 {
		t.Fatalf("expected reward zeroing, got %d", len(f.rewards.zeroed))
	}
	if _, ok := f.flows.records[pairKey(subSender, subCreator)]; ok {
		t.Fatalf("flow record survived cancel")
	}
}

func TestHandleFlowUpdatedZeroKeepsCredentialWithoutBurnPolicy(t *testing.T) {
	f := newCoordFixture(t)
	payload := mustPayload(t, subCreator, 1, 0)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if err := f.engine.HandleFlowUpdated(subSender, big.NewInt(0), payload); err != nil {
		t.Fatalf("handle cancel: %v", err)
	}
	if f.registry.burns != 0 {
		t.Fatalf("credential burned without burn-on-unsubscribe")
	}
}

func TestHandleSenderTerminatedUnwindsAll(t *testing.T) {
	f := newCoordFixture(t)
	if err := f.engine.SetCreatorPolicy(subCreator, &CreatorPolicy{MinRate: big.NewInt(1), BurnOnUnsubscribe: true}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	for i, receiver := range [][20]byte{subCreator, otherCreator} {
		payload := mustPayload(t, receiver, uint64(i+1), 0)
		if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
			t.Fatalf("handle create %d: %v", i, err)
		}
	}
	if err := f.engine.HandleSenderTerminated(subSender); err != nil {
		t.Fatalf("handle sender terminated: %v", err)
	}
	if len(f.state.subs) != 0 {
		t.Fatalf("subscriptions survived sender sweep: %d", len(f.state.subs))
	}
	if len(f.flows.records) != 0 {
		t.Fatalf("flow records survived sender sweep")
	}
	// Only the creator with a burn policy loses the credential.
	if f.registry.burns != 1 {
		t.Fatalf("expected one burn, got %d", f.registry.burns)
	}
}

func TestExpireSubscriptionDecrementsBothSides(t *testing.T) {
	f := newCoordFixture(t)
	payloadA := mustPayload(t, subCreator, 1, 120)
	payloadB := mustPayload(t, otherCreator, 2, 0)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payloadA); err != nil {
		t.Fatalf("handle create A: %v", err)
	}
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(400), payloadB); err != nil {
		t.Fatalf("handle create B: %v", err)
	}
	if f.scheduler.Pending() != 1 {
		t.Fatalf("expected one scheduled expiry, got %d", f.scheduler.Pending())
	}
	if err := f.engine.ExpireSubscription(subSender, subCreator); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, ok, _ := f.engine.SubscriptionFor(subSender, subCreator); ok {
		t.Fatalf("subscription survived expiry")
	}
	if len(f.substrate.updates) != 1 {
		t.Fatalf("expected one inbound decrement, got %v", f.substrate.updates)
	}
	want := fmt.Sprintf("update:%x->%x:400", subSender[:2], coordHub[:2])
	if f.substrate.updates[0] != want {
		t.Fatalf("inbound decrement = %q, want %q", f.substrate.updates[0], want)
	}
	// The other subscription keeps flowing.
	if _, ok := f.flows.records[pairKey(subSender, otherCreator)]; !ok {
		t.Fatalf("unrelated flow removed by expiry")
	}
}

func TestExpireSubscriptionLastRecordSkipsInboundUpdate(t *testing.T) {
	f := newCoordFixture(t)
	payload := mustPayload(t, subCreator, 1, 120)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if err := f.engine.ExpireSubscription(subSender, subCreator); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(f.substrate.updates) != 0 {
		t.Fatalf("inbound updated with no remaining obligation: %v", f.substrate.updates)
	}
}

func TestExpireSubscriptionRequiresAuthority(t *testing.T) {
	f := newCoordFixture(t)
	payload := mustPayload(t, subCreator, 1, 120)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	f.substrate.authority = false
	if err := f.engine.ExpireSubscription(subSender, subCreator); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, ok, _ := f.engine.SubscriptionFor(subSender, subCreator); !ok {
		t.Fatalf("subscription mutated without authority")
	}
}

func TestScheduledExpiryRunsViaTick(t *testing.T) {
	f := newCoordFixture(t)
	payload := mustPayload(t, subCreator, 1, 300)
	if _, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload); err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if err := f.scheduler.Tick(1_100); err != nil {
		t.Fatalf("early tick: %v", err)
	}
	if _, ok, _ := f.engine.SubscriptionFor(subSender, subCreator); !ok {
		t.Fatalf("subscription expired before its deadline")
	}
	if err := f.scheduler.Tick(1_300); err != nil {
		t.Fatalf("due tick: %v", err)
	}
	if _, ok, _ := f.engine.SubscriptionFor(subSender, subCreator); ok {
		t.Fatalf("subscription survived due tick")
	}
	if f.scheduler.Pending() != 0 {
		t.Fatalf("expired task still pending")
	}
}

func TestRemoteActivationDispatchesIntents(t *testing.T) {
	f := newCoordFixture(t)
	outbox := &mockReplicator{}
	f.engine.SetActivation(&RemoteReplicationPolicy{Outbox: outbox})
	payload := mustPayload(t, subCreator, 9, 0)
	sub, err := f.engine.HandleFlowCreated(subSender, big.NewInt(1_000), payload)
	if err != nil {
		t.Fatalf("handle create: %v", err)
	}
	if !sub.Remote || sub.ReplicationSeq != 1 {
		t.Fatalf("remote dispatch not recorded: %+v", sub)
	}
	if len(outbox.mints) != 1 || outbox.mints[0] != 9 {
		t.Fatalf("unexpected mint dispatches: %v", outbox.mints)
	}
	if err := f.engine.HandleFlowUpdated(subSender, big.NewInt(0), payload); err != nil {
		t.Fatalf("handle cancel: %v", err)
	}
	if len(outbox.burns) != 1 || outbox.burns[0] != 9 {
		t.Fatalf("unexpected burn dispatches: %v", outbox.burns)
	}
}
