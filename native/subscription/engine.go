package subscription

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"time"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
	"streampass/native/flow"
)

const moduleName = "subscription"

var (
	errNilState      = errors.New("subscription coordinator: state not configured")
	errNilFlows      = errors.New("subscription coordinator: flow ledger not configured")
	errNilActivation = errors.New("subscription coordinator: activation policy not configured")
	errNilScheduler  = errors.New("subscription coordinator: scheduler not configured")
	errNilSubstrate  = errors.New("subscription coordinator: stream substrate not configured")

	// ErrRateBelowMinimum rejects offers under the creator's minimum rate.
	ErrRateBelowMinimum = errors.New("subscription coordinator: rate below creator minimum")
	// ErrDurationTooShort rejects bounded durations under the creator's minimum.
	ErrDurationTooShort = errors.New("subscription coordinator: duration below creator minimum")
	// ErrInsufficientBalance rejects senders that cannot sustain the minimum
	// rate for the minimum duration.
	ErrInsufficientBalance = errors.New("subscription coordinator: balance cannot sustain policy")
	// ErrSubscriptionNotFound rejects operations against unknown pairs.
	ErrSubscriptionNotFound = errors.New("subscription coordinator: subscription not found")
	// ErrNotAuthorized rejects expiry execution without delegated authority
	// over the sender's stream.
	ErrNotAuthorized = errors.New("subscription coordinator: delegated authority required")
)

// FlowLedger is the slice of the flow engine the coordinator wraps.
type FlowLedger interface {
	CreateFlow(sender, receiver [20]byte, gross *big.Int) (*flow.Record, error)
	UpdateFlow(sender, receiver [20]byte, newGross *big.Int) (*flow.Record, error)
	TerminateFlow(sender, receiver [20]byte) error
	OnSenderTerminated(sender [20]byte) error
	SenderRecords(sender [20]byte) ([]*flow.Record, error)
}

// CollectionRegistry is the slice of the registry the activation policies
// drive.
type CollectionRegistry interface {
	Mint(caller, account [20]byte, collectionID uint64) (uint64, bool, error)
	Burn(caller, account [20]byte, collectionID uint64) error
	CreatorOf(collectionID uint64) ([32]byte, bool, error)
}

// RewardLedger is the slice of the reward engine the coordinator credits
// once the payment context has settled.
type RewardLedger interface {
	PortInterim(creator [32]byte, collectionID uint64, holder [20]byte, flatReward *big.Int) (*big.Int, error)
	ZeroUnits(creator [32]byte, holder [20]byte) error
}

// Replicator dispatches mint/burn intents toward the remote ledger copy.
type Replicator interface {
	DispatchMint(account [20]byte, collectionID uint64) (uint64, error)
	DispatchBurn(account [20]byte, collectionID uint64) (uint64, error)
}

// ActivationPolicy decides how an accepted subscription obtains its
// credential and how a terminated one lets go of it. Variants are selected
// at construction time, one per deployment.
type ActivationPolicy interface {
	Activate(sub *Subscription) error
	Deactivate(sub *Subscription, burn bool) error
}

// LocalActivationPolicy mints and burns through the local collection
// registry. Reward crediting runs here rather than inside the registry so it
// stays clear of the in-flight payment context.
type LocalActivationPolicy struct {
	Registry   CollectionRegistry
	Rewards    RewardLedger
	Operator   [20]byte
	MintReward *big.Int
}

// Activate mints the credential and ports the holder's interim units.
func (p *LocalActivationPolicy) Activate(sub *Subscription) error {
	if p == nil || p.Registry == nil || p.Rewards == nil {
		return errNilActivation
	}
	tokenID, minted, err := p.Registry.Mint(p.Operator, sub.Sender, sub.CollectionID)
	if err != nil {
		return err
	}
	if !minted {
		// Duplicate or exhausted supply: the sentinel must not block the
		// surrounding payment flow.
		return nil
	}
	sub.CredentialID = tokenID
	creator, ok, err := p.Registry.CreatorOf(sub.CollectionID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = p.Rewards.PortInterim(creator, sub.CollectionID, sub.Sender, p.MintReward)
	return err
}

// Deactivate burns the credential when the creator policy demands it and
// zeroes the holder's reward entry.
func (p *LocalActivationPolicy) Deactivate(sub *Subscription, burn bool) error {
	if p == nil || p.Registry == nil || p.Rewards == nil {
		return errNilActivation
	}
	if !burn || sub.CredentialID == 0 {
		return nil
	}
	if err := p.Registry.Burn(p.Operator, sub.Sender, sub.CollectionID); err != nil {
		return err
	}
	creator, ok, err := p.Registry.CreatorOf(sub.CollectionID)
	if err != nil || !ok {
		return err
	}
	return p.Rewards.ZeroUnits(creator, sub.Sender)
}

// RemoteReplicationPolicy dispatches mint/burn intents through the
// replication outbox when the reward ledger lives on another domain.
type RemoteReplicationPolicy struct {
	Outbox Replicator
}

// Activate dispatches a replicated mint intent and records the relay
// sequence for later burn correlation.
func (p *RemoteReplicationPolicy) Activate(sub *Subscription) error {
	if p == nil || p.Outbox == nil {
		return errNilActivation
	}
	seq, err := p.Outbox.DispatchMint(sub.Sender, sub.CollectionID)
	if err != nil {
		return err
	}
	sub.ReplicationSeq = seq
	sub.Remote = true
	return nil
}

// Deactivate dispatches a replicated burn intent for remote subscriptions.
// The remote side owns the credential, so the dispatch happens regardless of
// the local burn flag.
func (p *RemoteReplicationPolicy) Deactivate(sub *Subscription, burn bool) error {
	if p == nil || p.Outbox == nil {
		return errNilActivation
	}
	if !sub.Remote {
		return nil
	}
	_, err := p.Outbox.DispatchBurn(sub.Sender, sub.CollectionID)
	return err
}

// engineState is the subset of state manager functionality the coordinator
// requires.
type engineState interface {
	SubscriptionGet(sender, receiver [20]byte) (*Subscription, bool, error)
	SubscriptionPut(sub *Subscription) error
	SubscriptionDelete(sender, receiver [20]byte) error
	CreatorPolicyGet(receiver [20]byte) (*CreatorPolicy, bool, error)
	CreatorPolicyPut(receiver [20]byte, policy *CreatorPolicy) error
	GetAccount(addr []byte) (*types.Account, error)
}

// Engine wraps the flow ledger with per-creator policy enforcement,
// credential lifecycle and timed auto-expiry.
type Engine struct {
	state         engineState
	flows         FlowLedger
	substrate     flow.StreamSubstrate
	scheduler     TaskScheduler
	activation    ActivationPolicy
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	operator      [20]byte
	hub           [20]byte
	defaultPolicy CreatorPolicy
	nowFn         func() int64
}

// NewEngine constructs a coordinator with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		defaultPolicy: CreatorPolicy{
			MinRate: big.NewInt(0),
		},
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the coordinator.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFlows configures the wrapped flow ledger.
func (e *Engine) SetFlows(flows FlowLedger) { e.flows = flows }

// SetSubstrate configures the stream substrate consulted for delegated
// authority and symmetric inbound decrements.
func (e *Engine) SetSubstrate(s flow.StreamSubstrate) { e.substrate = s }

// SetScheduler configures the auto-expiry task scheduler.
func (e *Engine) SetScheduler(s TaskScheduler) { e.scheduler = s }

// SetActivation selects the credential activation strategy.
func (e *Engine) SetActivation(p ActivationPolicy) { e.activation = p }

// SetEmitter configures the event emitter used by the coordinator.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetOperator configures the coordinator's own principal, the caller
// identity used against the collection registry and the capability table.
func (e *Engine) SetOperator(addr [20]byte) { e.operator = addr }

// SetHub configures the ledger hub account inbound streams land on.
func (e *Engine) SetHub(addr [20]byte) { e.hub = addr }

// SetDefaultPolicy configures the platform fallback policy.
func (e *Engine) SetDefaultPolicy(policy CreatorPolicy) {
	if policy.MinRate == nil {
		policy.MinRate = big.NewInt(0)
	}
	e.defaultPolicy = *policy.Clone()
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.flows == nil {
		return errNilFlows
	}
	if e.activation == nil {
		return errNilActivation
	}
	return nil
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// ResolvePolicy returns the receiver's creator policy or the platform
// default when none is set.
func (e *Engine) ResolvePolicy(receiver [20]byte) (*CreatorPolicy, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	policy, ok, err := e.state.CreatorPolicyGet(receiver)
	if err != nil {
		return nil, err
	}
	if !ok || policy == nil {
		return e.defaultPolicy.Clone(), nil
	}
	if policy.MinRate == nil {
		policy.MinRate = big.NewInt(0)
	}
	return policy, nil
}

// SetCreatorPolicy stores the per-receiver minimum policy.
func (e *Engine) SetCreatorPolicy(receiver [20]byte, policy *CreatorPolicy) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if policy == nil || policy.MinRate == nil || policy.MinRate.Sign() < 0 {
		return ErrRateBelowMinimum
	}
	return e.state.CreatorPolicyPut(receiver, policy.Clone())
}

func (e *Engine) checkPolicy(sender [20]byte, gross *big.Int, duration uint64, policy *CreatorPolicy) error {
	if gross == nil || gross.Cmp(policy.MinRate) < 0 {
		return ErrRateBelowMinimum
	}
	if duration != 0 && duration < policy.MinDuration {
		return ErrDurationTooShort
	}
	if policy.MinDuration > 0 && policy.MinRate.Sign() > 0 {
		required := new(big.Int).Mul(policy.MinRate, new(big.Int).SetUint64(policy.MinDuration))
		account, err := e.state.GetAccount(sender[:])
		if err != nil {
			return err
		}
		balance := big.NewInt(0)
		if account != nil && account.Balance != nil {
			balance = account.Balance
		}
		if balance.Cmp(required) < 0 {
			return ErrInsufficientBalance
		}
	}
	return nil
}

// HandleFlowCreated processes a stream creation event. Policy rejection
// aborts the entire operation before any ledger mutation.
func (e *Engine) HandleFlowCreated(sender [20]byte, gross *big.Int, rawPayload []byte) (*Subscription, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	payload, err := DecodePayload(rawPayload)
	if err != nil {
		return nil, err
	}
	policy, err := e.ResolvePolicy(payload.Receiver)
	if err != nil {
		return nil, err
	}
	if err := e.checkPolicy(sender, gross, payload.Duration, policy); err != nil {
		return nil, err
	}
	if _, err := e.flows.CreateFlow(sender, payload.Receiver, gross); err != nil {
		return nil, err
	}
	sub := &Subscription{
		Sender:       sender,
		Receiver:     payload.Receiver,
		CollectionID: payload.CollectionID,
		Duration:     payload.Duration,
		Active:       true,
		CreatedAt:    e.now(),
	}
	if err := e.activation.Activate(sub); err != nil {
		return nil, err
	}
	if payload.Duration > 0 {
		if e.scheduler == nil {
			return nil, errNilScheduler
		}
		receiver := payload.Receiver
		taskID, err := e.scheduler.Schedule(
			e.now()+int64(payload.Duration),
			func() (bool, error) { return e.canExpire(sender) },
			func() error { return e.ExpireSubscription(sender, receiver) },
		)
		if err != nil {
			return nil, err
		}
		sub.TaskID = taskID
	}
	if err := e.state.SubscriptionPut(sub); err != nil {
		return nil, err
	}
	e.emit(SubscriptionCreatedEvent(hexAddr(sender), hexAddr(payload.Receiver), strconv.FormatUint(payload.CollectionID, 10), strconv.FormatUint(payload.Duration, 10), sub.Remote))
	return sub.Clone(), nil
}

// HandleFlowUpdated processes a stream rate change. A zero gross rate is the
// canceling form and terminates the subscription; anything else is an
// incremental merge validated against the creator policy.
func (e *Engine) HandleFlowUpdated(sender [20]byte, newGross *big.Int, rawPayload []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	payload, err := DecodePayload(rawPayload)
	if err != nil {
		return err
	}
	if newGross != nil && newGross.Sign() == 0 {
		return e.terminate(sender, payload.Receiver, "unsubscribed")
	}
	policy, err := e.ResolvePolicy(payload.Receiver)
	if err != nil {
		return err
	}
	// The merged rate passes the same gate as a fresh subscription, using
	// the stored commitment when the payload omits one.
	duration := payload.Duration
	if sub, ok, err := e.state.SubscriptionGet(sender, payload.Receiver); err != nil {
		return err
	} else if ok && duration == 0 {
		duration = sub.Duration
	}
	if err := e.checkPolicy(sender, newGross, duration, policy); err != nil {
		return err
	}
	if _, err := e.flows.UpdateFlow(sender, payload.Receiver, newGross); err != nil {
		return err
	}
	e.emit(SubscriptionUpdatedEvent(hexAddr(sender), hexAddr(payload.Receiver), newGross.String()))
	return nil
}

// HandleSenderTerminated reacts to the sender's inbound stream being closed
// externally: the flow ledger sweeps every record and the coordinator
// unwinds each subscription's bookkeeping.
func (e *Engine) HandleSenderTerminated(sender [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	records, err := e.flows.SenderRecords(sender)
	if err != nil {
		return err
	}
	if err := e.flows.OnSenderTerminated(sender); err != nil {
		return err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if err := e.cleanup(sender, records[i].Receiver, "forced"); err != nil {
			return err
		}
	}
	return nil
}

// terminate cancels the pair's flow and unwinds the subscription.
func (e *Engine) terminate(sender, receiver [20]byte, reason string) error {
	if _, err := e.flows.UpdateFlow(sender, receiver, big.NewInt(0)); err != nil {
		return err
	}
	return e.cleanup(sender, receiver, reason)
}

func (e *Engine) cleanup(sender, receiver [20]byte, reason string) error {
	sub, ok, err := e.state.SubscriptionGet(sender, receiver)
	if err != nil {
		return err
	}
	if !ok || sub == nil {
		return nil
	}
	if sub.TaskID != "" && e.scheduler != nil {
		if err := e.scheduler.Cancel(sub.TaskID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
	}
	if err := e.state.SubscriptionDelete(sender, receiver); err != nil {
		return err
	}
	policy, err := e.ResolvePolicy(receiver)
	if err != nil {
		return err
	}
	if err := e.activation.Deactivate(sub, policy.BurnOnUnsubscribe); err != nil {
		return err
	}
	e.emit(SubscriptionTerminatedEvent(hexAddr(sender), hexAddr(receiver), reason))
	return nil
}

func (e *Engine) canExpire(sender [20]byte) (bool, error) {
	if e.substrate == nil {
		return false, errNilSubstrate
	}
	return e.substrate.HasAuthority(e.operator, sender)
}

// ExpireSubscription is the scheduler-invoked expiry executor. It runs only
// while the coordinator holds delegated authority over the sender's stream,
// recomputes the sender's remaining obligations from stored records and
// decrements both stream sides symmetrically.
func (e *Engine) ExpireSubscription(sender, receiver [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.substrate == nil {
		return errNilSubstrate
	}
	authorized, err := e.substrate.HasAuthority(e.operator, sender)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrNotAuthorized
	}
	sub, ok, err := e.state.SubscriptionGet(sender, receiver)
	if err != nil {
		return err
	}
	if !ok || sub == nil {
		return ErrSubscriptionNotFound
	}
	// Remaining obligation toward the other receivers, derived from stored
	// records rather than the observed aggregate rate.
	records, err := e.flows.SenderRecords(sender)
	if err != nil {
		return err
	}
	remaining := big.NewInt(0)
	for _, record := range records {
		if record.Receiver == receiver {
			continue
		}
		remaining.Add(remaining, record.GrossRate)
	}
	if err := e.flows.TerminateFlow(sender, receiver); err != nil {
		return err
	}
	if remaining.Sign() > 0 {
		if err := e.substrate.UpdateStream(sender, e.hub, remaining); err != nil {
			return err
		}
	}
	if sub.TaskID != "" && e.scheduler != nil {
		if err := e.scheduler.Cancel(sub.TaskID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
	}
	if err := e.state.SubscriptionDelete(sender, receiver); err != nil {
		return err
	}
	policy, err := e.ResolvePolicy(receiver)
	if err != nil {
		return err
	}
	if err := e.activation.Deactivate(sub, policy.BurnOnUnsubscribe); err != nil {
		return err
	}
	e.emit(SubscriptionExpiredEvent(hexAddr(sender), hexAddr(receiver)))
	return nil
}

// SubscriptionFor returns the stored subscription for the pair.
func (e *Engine) SubscriptionFor(sender, receiver [20]byte) (*Subscription, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	sub, ok, err := e.state.SubscriptionGet(sender, receiver)
	if err != nil || !ok {
		return nil, ok, err
	}
	return sub.Clone(), true, nil
}
