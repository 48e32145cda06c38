package state

import (
	"math/big"

	"streampass/native/flow"
)

var (
	flowRecordPrefix   = []byte("flow/record/")
	flowIndexPrefix    = []byte("flow/index/")
	flowReceiverPrefix = []byte("flow/receiver/")
	flowFeeRateKey     = []byte("flow/feerate")
)

// FlowRecordGet loads the split agreement stored for the pair.
func (m *Manager) FlowRecordGet(sender, receiver [20]byte) (*flow.Record, bool, error) {
	record := new(flow.Record)
	ok, err := m.getRLP(composeKey(flowRecordPrefix, sender[:], receiver[:]), record)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record, true, nil
}

// FlowRecordPut stores the split agreement keyed by its pair.
func (m *Manager) FlowRecordPut(record *flow.Record) error {
	return m.putRLP(composeKey(flowRecordPrefix, record.Sender[:], record.Receiver[:]), record)
}

// FlowRecordDelete removes the pair's agreement.
func (m *Manager) FlowRecordDelete(sender, receiver [20]byte) error {
	return m.delete(composeKey(flowRecordPrefix, sender[:], receiver[:]))
}

type storedFlowIndex struct {
	Receivers [][20]byte
}

// FlowIndexGet returns the sender's dense receiver index.
func (m *Manager) FlowIndexGet(sender [20]byte) ([][20]byte, error) {
	index := new(storedFlowIndex)
	ok, err := m.getRLP(composeKey(flowIndexPrefix, sender[:]), index)
	if err != nil || !ok {
		return nil, err
	}
	return index.Receivers, nil
}

// FlowIndexPut stores the sender's receiver index. An empty index removes
// the key.
func (m *Manager) FlowIndexPut(sender [20]byte, receivers [][20]byte) error {
	key := composeKey(flowIndexPrefix, sender[:])
	if len(receivers) == 0 {
		return m.delete(key)
	}
	return m.putRLP(key, &storedFlowIndex{Receivers: receivers})
}

// ReceiverRateGet returns the receiver's aggregate net inflow rate.
func (m *Manager) ReceiverRateGet(receiver [20]byte) (*big.Int, error) {
	rate := new(big.Int)
	ok, err := m.getRLP(composeKey(flowReceiverPrefix, receiver[:]), rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return rate, nil
}

// ReceiverRatePut stores the receiver's aggregate net inflow rate. A zero
// rate removes the key.
func (m *Manager) ReceiverRatePut(receiver [20]byte, rate *big.Int) error {
	key := composeKey(flowReceiverPrefix, receiver[:])
	if rate == nil || rate.Sign() == 0 {
		return m.delete(key)
	}
	return m.putRLP(key, rate)
}

// FeeRateGet returns the platform's aggregate fee accrual rate.
func (m *Manager) FeeRateGet() (*big.Int, error) {
	rate := new(big.Int)
	ok, err := m.getRLP(flowFeeRateKey, rate)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return rate, nil
}

// FeeRatePut stores the platform's aggregate fee accrual rate.
func (m *Manager) FeeRatePut(rate *big.Int) error {
	if rate == nil {
		rate = big.NewInt(0)
	}
	return m.putRLP(flowFeeRateKey, rate)
}
