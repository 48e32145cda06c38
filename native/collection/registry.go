package collection

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"streampass/core/events"
	"streampass/core/types"
	nativecommon "streampass/native/common"
)

const moduleName = "collection"

var (
	errNilState    = errors.New("collection registry: state not configured")
	errNilIdentity = errors.New("collection registry: identity registry not configured")
	errNilRewards  = errors.New("collection registry: reward ledger not configured")

	// ErrNotController rejects collection actions by accounts that do not
	// control the creator identity.
	ErrNotController = errors.New("collection registry: caller does not control creator identity")
	// ErrNotAuthorized rejects mint/burn calls from principals without the
	// required capability.
	ErrNotAuthorized = errors.New("collection registry: caller not authorized")
	// ErrCollectionNotFound rejects operations against unknown collections.
	ErrCollectionNotFound = errors.New("collection registry: collection not found")
	// ErrInvalidExternalKind rejects wrapped registrations with an unknown
	// source kind.
	ErrInvalidExternalKind = errors.New("collection registry: invalid external source kind")
	// ErrExternalSourceNotSet rejects wrapped balance queries without a
	// configured source client.
	ErrExternalSourceNotSet = errors.New("collection registry: external source not configured")
	// ErrNotMinted rejects burns for holders without a credential.
	ErrNotMinted = errors.New("collection registry: credential not minted")
)

// registryState is the subset of state manager functionality the registry
// requires.
type registryState interface {
	CollectionGet(id uint64) (*Collection, bool, error)
	CollectionPut(collection *Collection) error
	CollectionLastID() (uint64, error)
	SetCollectionLastID(id uint64) error
	ActiveCollectionGet(creator [32]byte) (uint64, bool, error)
	ActiveCollectionPut(creator [32]byte, id uint64) error
	WrappedGet(id uint64) (*WrappedCollection, bool, error)
	WrappedPut(wrapped *WrappedCollection) error
	CredentialGet(collectionID uint64, holder [20]byte) (uint64, bool, error)
	CredentialPut(collectionID uint64, holder [20]byte, tokenID uint64) error
	CredentialDelete(collectionID uint64, holder [20]byte) error
}

// Registry manages collection lifecycle, supply accounting and credential
// ownership.
type Registry struct {
	st            registryState
	identity      IdentityRegistry
	external      ExternalSource
	rewards       RewardLedger
	caps          *nativecommon.CapabilityTable
	emitter       events.Emitter
	pauses        nativecommon.PauseView
	defaultSupply uint64
	mintReward    *big.Int
}

// NewRegistry creates a registry backed by the provided state manager.
func NewRegistry(st registryState) *Registry {
	return &Registry{
		st:            st,
		emitter:       events.NoopEmitter{},
		defaultSupply: 10_000,
		mintReward:    big.NewInt(0),
	}
}

// SetIdentity configures the identity registry used to authorize collection
// creation.
func (r *Registry) SetIdentity(identity IdentityRegistry) { r.identity = identity }

// SetExternalSource configures the client answering wrapped balance queries.
func (r *Registry) SetExternalSource(source ExternalSource) { r.external = source }

// SetRewards configures the reward ledger driven on mint and burn.
func (r *Registry) SetRewards(rewards RewardLedger) { r.rewards = rewards }

// SetCapabilities wires the capability table consulted for mint and burn
// authorization.
func (r *Registry) SetCapabilities(caps *nativecommon.CapabilityTable) { r.caps = caps }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetPauses wires the administrative pause view.
func (r *Registry) SetPauses(p nativecommon.PauseView) { r.pauses = p }

// SetDefaultSupply configures the platform cap applied when a collection is
// created without an explicit supply.
func (r *Registry) SetDefaultSupply(supply uint64) {
	if supply == 0 {
		return
	}
	r.defaultSupply = supply
}

// SetMintReward configures the flat reward credited on first activation.
func (r *Registry) SetMintReward(reward *big.Int) {
	if reward == nil || reward.Sign() < 0 {
		r.mintReward = big.NewInt(0)
		return
	}
	r.mintReward = new(big.Int).Set(reward)
}

func (r *Registry) emit(evt *types.Event) {
	if r == nil || evt == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(WrapEvent(evt))
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func hexID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

// DeriveCreatorID computes the creator identity as keccak256 of the
// controlling account and the profile handle.
func DeriveCreatorID(controller [20]byte, handle string) [32]byte {
	var id [32]byte
	digest := ethcrypto.Keccak256(controller[:], []byte(strings.TrimSpace(strings.ToLower(handle))))
	copy(id[:], digest)
	return id
}

func (r *Registry) authorizeCreator(caller [20]byte, creatorID [32]byte) error {
	if r.identity == nil {
		return errNilIdentity
	}
	controller, ok, err := r.identity.Controller(creatorID)
	if err != nil {
		return err
	}
	if !ok || controller != caller {
		return ErrNotController
	}
	return nil
}

// nextWindow allocates the next collection id and the start of its token-id
// window: the previous collection's window end, 1-based.
func (r *Registry) nextWindow() (id uint64, start uint64, err error) {
	lastID, err := r.st.CollectionLastID()
	if err != nil {
		return 0, 0, err
	}
	if lastID == 0 {
		return 1, 1, nil
	}
	prev, ok, err := r.st.CollectionGet(lastID)
	if err != nil {
		return 0, 0, err
	}
	if !ok || prev == nil {
		return 0, 0, ErrCollectionNotFound
	}
	return lastID + 1, prev.StartTokenID + prev.AvailableSupply, nil
}

// CreateCollection registers a new collection for the creator identity,
// allocates its token-id window and repoints the identity's active
// collection. A zero supply takes the platform default cap.
func (r *Registry) CreateCollection(caller [20]byte, creatorID [32]byte, supply uint64, metadataURI string) (*Collection, error) {
	if r == nil || r.st == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := r.authorizeCreator(caller, creatorID); err != nil {
		return nil, err
	}
	if r.rewards == nil {
		return nil, errNilRewards
	}
	if supply == 0 {
		supply = r.defaultSupply
	}
	id, start, err := r.nextWindow()
	if err != nil {
		return nil, err
	}
	created := &Collection{
		ID:              id,
		StartTokenID:    start,
		AvailableSupply: supply,
		CreatorID:       creatorID,
		InterimTotal:    big.NewInt(0),
		CreatorAddress:  caller,
		MetadataURI:     strings.TrimSpace(metadataURI),
	}
	if err := r.st.CollectionPut(created); err != nil {
		return nil, err
	}
	if err := r.st.SetCollectionLastID(id); err != nil {
		return nil, err
	}
	if err := r.st.ActiveCollectionPut(creatorID, id); err != nil {
		return nil, err
	}
	if err := r.rewards.CreateIndex(creatorID); err != nil {
		return nil, err
	}
	r.emit(CollectionCreatedEvent(strconv.FormatUint(id, 10), strconv.FormatUint(start, 10), strconv.FormatUint(supply, 10), hexID(creatorID)))
	return created.Clone(), nil
}

// CreateWrappedCollection registers a passthrough collection pointing at an
// external credential or balance source. Wrapped collections own no token-id
// window and never mint.
func (r *Registry) CreateWrappedCollection(caller [20]byte, creatorID [32]byte, source [20]byte, kind ExternalKind, pointedID *big.Int) (*Collection, error) {
	if r == nil || r.st == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, ErrInvalidExternalKind
	}
	if err := r.authorizeCreator(caller, creatorID); err != nil {
		return nil, err
	}
	if r.rewards == nil {
		return nil, errNilRewards
	}
	id, start, err := r.nextWindow()
	if err != nil {
		return nil, err
	}
	created := &Collection{
		ID:             id,
		StartTokenID:   start,
		CreatorID:      creatorID,
		InterimTotal:   big.NewInt(0),
		CreatorAddress: caller,
		Wrapped:        true,
	}
	if err := r.st.CollectionPut(created); err != nil {
		return nil, err
	}
	if err := r.st.SetCollectionLastID(id); err != nil {
		return nil, err
	}
	wrapped := &WrappedCollection{
		Source:   source,
		Kind:     kind,
		LinkedID: id,
	}
	if pointedID != nil {
		wrapped.PointedID = new(big.Int).Set(pointedID)
	}
	if err := r.st.WrappedPut(wrapped); err != nil {
		return nil, err
	}
	if err := r.st.ActiveCollectionPut(creatorID, id); err != nil {
		return nil, err
	}
	if err := r.rewards.CreateIndex(creatorID); err != nil {
		return nil, err
	}
	r.emit(WrappedCreatedEvent(strconv.FormatUint(id, 10), hexAddr(source), kind.String()))
	return created.Clone(), nil
}

func (r *Registry) canMint(caller [20]byte, collection *Collection) bool {
	if caller == collection.CreatorAddress {
		return true
	}
	if r.caps.Allowed(caller, nativecommon.CapCoordinator) {
		return true
	}
	if r.caps.Allowed(caller, nativecommon.CapRelay) {
		return true
	}
	return r.caps.Allowed(caller, nativecommon.CapVerifiedMinter)
}

// Mint issues the membership credential for the account. Duplicate mints,
// wrapped collections and exhausted supply return the no-op sentinel
// (minted=false) rather than aborting, so triggered mint attempts never block
// the surrounding payment flow. Unless the caller is the coordinator, the
// reward ledger is credited immediately with the flat mint reward plus any
// pending interim units.
func (r *Registry) Mint(caller, account [20]byte, collectionID uint64) (tokenID uint64, minted bool, err error) {
	if r == nil || r.st == nil {
		return 0, false, errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return 0, false, err
	}
	collection, ok, err := r.st.CollectionGet(collectionID)
	if err != nil {
		return 0, false, err
	}
	if !ok || collection == nil {
		return 0, false, ErrCollectionNotFound
	}
	if !r.canMint(caller, collection) {
		return 0, false, ErrNotAuthorized
	}
	if collection.Wrapped {
		return 0, false, nil
	}
	if _, exists, err := r.st.CredentialGet(collectionID, account); err != nil {
		return 0, false, err
	} else if exists {
		return 0, false, nil
	}
	issued := collection.TotalSupply + collection.TotalRedeemed
	if issued >= collection.AvailableSupply {
		return 0, false, nil
	}

	tokenID = collection.StartTokenID + issued
	collection.TotalSupply++
	if err := r.st.CollectionPut(collection); err != nil {
		return 0, false, err
	}
	if err := r.st.CredentialPut(collectionID, account, tokenID); err != nil {
		return 0, false, err
	}
	// The coordinator defers reward crediting to keep it out of the
	// in-flight payment context.
	if !r.caps.Allowed(caller, nativecommon.CapCoordinator) {
		if r.rewards == nil {
			return 0, false, errNilRewards
		}
		if _, err := r.rewards.PortInterim(collection.CreatorID, collectionID, account, r.mintReward); err != nil {
			return 0, false, err
		}
	}
	r.emit(CredentialMintedEvent(strconv.FormatUint(collectionID, 10), hexAddr(account), strconv.FormatUint(tokenID, 10)))
	return tokenID, true, nil
}

// Burn redeems the account's credential: supply counters invert, the minted
// marker clears and the reward entry zeroes unless the coordinator's own burn
// path is driving the call.
func (r *Registry) Burn(caller, account [20]byte, collectionID uint64) error {
	if r == nil || r.st == nil {
		return errNilState
	}
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	collection, ok, err := r.st.CollectionGet(collectionID)
	if err != nil {
		return err
	}
	if !ok || collection == nil {
		return ErrCollectionNotFound
	}
	coordinator := r.caps.Allowed(caller, nativecommon.CapCoordinator)
	if !coordinator && !r.caps.Allowed(caller, nativecommon.CapRelay) && caller != collection.CreatorAddress {
		return ErrNotAuthorized
	}
	tokenID, exists, err := r.st.CredentialGet(collectionID, account)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotMinted
	}
	if collection.TotalSupply > 0 {
		collection.TotalSupply--
	}
	collection.TotalRedeemed++
	if err := r.st.CollectionPut(collection); err != nil {
		return err
	}
	if err := r.st.CredentialDelete(collectionID, account); err != nil {
		return err
	}
	if !coordinator {
		if r.rewards == nil {
			return errNilRewards
		}
		if err := r.rewards.ZeroUnits(collection.CreatorID, account); err != nil {
			return err
		}
	}
	r.emit(CredentialBurnedEvent(strconv.FormatUint(collectionID, 10), hexAddr(account), strconv.FormatUint(tokenID, 10)))
	return nil
}

// CredentialActive implements the reward ledger's membership view. Wrapped
// collections proxy transparently to their external source.
func (r *Registry) CredentialActive(holder [20]byte, collectionID uint64) (bool, error) {
	if r == nil || r.st == nil {
		return false, errNilState
	}
	collection, ok, err := r.st.CollectionGet(collectionID)
	if err != nil {
		return false, err
	}
	if !ok || collection == nil {
		return false, nil
	}
	if collection.Wrapped {
		wrapped, ok, err := r.st.WrappedGet(collectionID)
		if err != nil {
			return false, err
		}
		if !ok || wrapped == nil {
			return false, nil
		}
		if r.external == nil {
			return false, ErrExternalSourceNotSet
		}
		switch wrapped.Kind {
		case ExternalKindSingleOwner:
			owner, err := r.external.OwnerOf(wrapped.Source, wrapped.PointedID)
			if err != nil {
				return false, err
			}
			return owner == holder, nil
		case ExternalKindMultiBalance:
			balance, err := r.external.BalanceOf(wrapped.Source, holder, wrapped.PointedID)
			if err != nil {
				return false, err
			}
			return balance != nil && balance.Sign() > 0, nil
		default:
			return false, ErrInvalidExternalKind
		}
	}
	_, exists, err := r.st.CredentialGet(collectionID, holder)
	return exists, err
}

// CredentialOf returns the holder's token id within the collection.
func (r *Registry) CredentialOf(collectionID uint64, holder [20]byte) (uint64, bool, error) {
	if r == nil || r.st == nil {
		return 0, false, errNilState
	}
	return r.st.CredentialGet(collectionID, holder)
}

// CollectionByID returns the stored collection without mutating state.
func (r *Registry) CollectionByID(id uint64) (*Collection, bool, error) {
	if r == nil || r.st == nil {
		return nil, false, errNilState
	}
	collection, ok, err := r.st.CollectionGet(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return collection.Clone(), true, nil
}

// CreatorOf returns the creator identity owning the collection.
func (r *Registry) CreatorOf(collectionID uint64) ([32]byte, bool, error) {
	if r == nil || r.st == nil {
		return [32]byte{}, false, errNilState
	}
	collection, ok, err := r.st.CollectionGet(collectionID)
	if err != nil || !ok {
		return [32]byte{}, ok, err
	}
	return collection.CreatorID, true, nil
}

// ActiveCollection returns the creator identity's latest collection id.
func (r *Registry) ActiveCollection(creatorID [32]byte) (uint64, bool, error) {
	if r == nil || r.st == nil {
		return 0, false, errNilState
	}
	return r.st.ActiveCollectionGet(creatorID)
}
