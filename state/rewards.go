package state

import (
	"math/big"

	"streampass/native/rewards"
)

var (
	rewardIndexPrefix     = []byte("rewards/index/")
	rewardUnitsPrefix     = []byte("rewards/units/")
	rewardSubsPrefix      = []byte("rewards/subs/")
	rewardInterimPrefix   = []byte("rewards/interim/")
	collectionInterimPref = []byte("rewards/collinterim/")
)

// RewardIndexGet loads a creator's reward index.
func (m *Manager) RewardIndexGet(creator [32]byte) (*rewards.Index, bool, error) {
	index := new(rewards.Index)
	ok, err := m.getRLP(composeKey(rewardIndexPrefix, creator[:]), index)
	if err != nil || !ok {
		return nil, ok, err
	}
	return index, true, nil
}

// RewardIndexPut stores a creator's reward index.
func (m *Manager) RewardIndexPut(index *rewards.Index) error {
	return m.putRLP(composeKey(rewardIndexPrefix, index.CreatorID[:]), index)
}

// RewardUnitsGet returns a subscriber's live units under the creator.
func (m *Manager) RewardUnitsGet(creator [32]byte, subscriber [20]byte) (*big.Int, error) {
	units := new(big.Int)
	ok, err := m.getRLP(composeKey(rewardUnitsPrefix, creator[:], subscriber[:]), units)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return units, nil
}

// RewardUnitsPut stores a subscriber's live units and keeps the creator's
// subscriber index in sync.
func (m *Manager) RewardUnitsPut(creator [32]byte, subscriber [20]byte, units *big.Int) error {
	if units == nil || units.Sign() == 0 {
		return m.RewardUnitsDelete(creator, subscriber)
	}
	key := composeKey(rewardUnitsPrefix, creator[:], subscriber[:])
	existed, err := m.has(key)
	if err != nil {
		return err
	}
	if err := m.putRLP(key, units); err != nil {
		return err
	}
	if existed {
		return nil
	}
	subs, err := m.RewardSubscribers(creator)
	if err != nil {
		return err
	}
	subs = append(subs, subscriber)
	return m.putSubscribers(creator, subs)
}

// RewardUnitsDelete removes a subscriber's live units and their index slot.
func (m *Manager) RewardUnitsDelete(creator [32]byte, subscriber [20]byte) error {
	key := composeKey(rewardUnitsPrefix, creator[:], subscriber[:])
	existed, err := m.has(key)
	if err != nil {
		return err
	}
	if err := m.delete(key); err != nil {
		return err
	}
	if !existed {
		return nil
	}
	subs, err := m.RewardSubscribers(creator)
	if err != nil {
		return err
	}
	for i, existing := range subs {
		if existing == subscriber {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return m.putSubscribers(creator, subs)
}

type storedSubscribers struct {
	Subscribers [][20]byte
}

// RewardSubscribers returns the creator's subscribers in insertion order.
func (m *Manager) RewardSubscribers(creator [32]byte) ([][20]byte, error) {
	stored := new(storedSubscribers)
	ok, err := m.getRLP(composeKey(rewardSubsPrefix, creator[:]), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.Subscribers, nil
}

func (m *Manager) putSubscribers(creator [32]byte, subs [][20]byte) error {
	key := composeKey(rewardSubsPrefix, creator[:])
	if len(subs) == 0 {
		return m.delete(key)
	}
	return m.putRLP(key, &storedSubscribers{Subscribers: subs})
}

// InterimUnitsGet returns a holder's interim units for the collection.
func (m *Manager) InterimUnitsGet(holder [20]byte, collectionID uint64) (*big.Int, error) {
	units := new(big.Int)
	ok, err := m.getRLP(composeKey(rewardInterimPrefix, holder[:], uint64Key(collectionID)), units)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return units, nil
}

// InterimUnitsPut stores a holder's interim units for the collection.
func (m *Manager) InterimUnitsPut(holder [20]byte, collectionID uint64, units *big.Int) error {
	key := composeKey(rewardInterimPrefix, holder[:], uint64Key(collectionID))
	if units == nil || units.Sign() == 0 {
		return m.delete(key)
	}
	return m.putRLP(key, units)
}

// InterimUnitsDelete removes a holder's interim entry for the collection.
func (m *Manager) InterimUnitsDelete(holder [20]byte, collectionID uint64) error {
	return m.delete(composeKey(rewardInterimPrefix, holder[:], uint64Key(collectionID)))
}

// CollectionInterimAdd adjusts the collection's interim aggregate. The
// stored collection record carries the running total; holders accruing
// against a not-yet-registered collection fall back to a pending counter.
func (m *Manager) CollectionInterimAdd(collectionID uint64, delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	collection, ok, err := m.CollectionGet(collectionID)
	if err != nil {
		return err
	}
	if ok {
		if collection.InterimTotal == nil {
			collection.InterimTotal = big.NewInt(0)
		}
		collection.InterimTotal = new(big.Int).Add(collection.InterimTotal, delta)
		return m.CollectionPut(collection)
	}
	key := composeKey(collectionInterimPref, uint64Key(collectionID))
	total := new(big.Int)
	if _, err := m.getRLP(key, total); err != nil {
		return err
	}
	total.Add(total, delta)
	if total.Sign() == 0 {
		return m.delete(key)
	}
	return m.putRLP(key, total)
}

// CollectionInterim returns the collection's interim aggregate.
func (m *Manager) CollectionInterim(collectionID uint64) (*big.Int, error) {
	collection, ok, err := m.CollectionGet(collectionID)
	if err != nil {
		return nil, err
	}
	if ok && collection.InterimTotal != nil {
		return collection.InterimTotal, nil
	}
	total := new(big.Int)
	if _, err := m.getRLP(composeKey(collectionInterimPref, uint64Key(collectionID)), total); err != nil {
		return nil, err
	}
	return total, nil
}
