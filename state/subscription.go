package state

import (
	"streampass/native/subscription"
)

var (
	subscriptionPrefix  = []byte("subscription/record/")
	creatorPolicyPrefix = []byte("subscription/policy/")
)

type storedSubscription struct {
	Sender         [20]byte
	Receiver       [20]byte
	CollectionID   uint64
	CredentialID   uint64
	Duration       uint64
	TaskID         string
	ReplicationSeq uint64
	Remote         bool
	Active         bool
	CreatedAt      uint64
}

// SubscriptionGet loads the stored subscription for the pair.
func (m *Manager) SubscriptionGet(sender, receiver [20]byte) (*subscription.Subscription, bool, error) {
	stored := new(storedSubscription)
	ok, err := m.getRLP(composeKey(subscriptionPrefix, sender[:], receiver[:]), stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &subscription.Subscription{
		Sender:         stored.Sender,
		Receiver:       stored.Receiver,
		CollectionID:   stored.CollectionID,
		CredentialID:   stored.CredentialID,
		Duration:       stored.Duration,
		TaskID:         stored.TaskID,
		ReplicationSeq: stored.ReplicationSeq,
		Remote:         stored.Remote,
		Active:         stored.Active,
		CreatedAt:      int64(stored.CreatedAt),
	}, true, nil
}

// SubscriptionPut stores the subscription keyed by its pair.
func (m *Manager) SubscriptionPut(sub *subscription.Subscription) error {
	return m.putRLP(composeKey(subscriptionPrefix, sub.Sender[:], sub.Receiver[:]), &storedSubscription{
		Sender:         sub.Sender,
		Receiver:       sub.Receiver,
		CollectionID:   sub.CollectionID,
		CredentialID:   sub.CredentialID,
		Duration:       sub.Duration,
		TaskID:         sub.TaskID,
		ReplicationSeq: sub.ReplicationSeq,
		Remote:         sub.Remote,
		Active:         sub.Active,
		CreatedAt:      uint64(sub.CreatedAt),
	})
}

// SubscriptionDelete removes the pair's subscription.
func (m *Manager) SubscriptionDelete(sender, receiver [20]byte) error {
	return m.delete(composeKey(subscriptionPrefix, sender[:], receiver[:]))
}

// CreatorPolicyGet loads the receiver's minimum policy.
func (m *Manager) CreatorPolicyGet(receiver [20]byte) (*subscription.CreatorPolicy, bool, error) {
	policy := new(subscription.CreatorPolicy)
	ok, err := m.getRLP(composeKey(creatorPolicyPrefix, receiver[:]), policy)
	if err != nil || !ok {
		return nil, ok, err
	}
	return policy, true, nil
}

// CreatorPolicyPut stores the receiver's minimum policy.
func (m *Manager) CreatorPolicyPut(receiver [20]byte, policy *subscription.CreatorPolicy) error {
	return m.putRLP(composeKey(creatorPolicyPrefix, receiver[:]), policy)
}
