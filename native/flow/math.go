package flow

import "math/big"

// MaxFeeBps bounds the protocol fee at 20%.
const MaxFeeBps = 2_000

var bpsDenominator = big.NewInt(10_000)

// SplitRate divides a gross rate into the protocol fee and the net rate
// forwarded to the receiver. The fee is computed on the supplied increment
// only; callers apply it once per incremental change so cumulative fee-taking
// stays monotonic.
func SplitRate(gross *big.Int, feeBps uint32) (net, fee *big.Int) {
	if gross == nil || gross.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	if feeBps > MaxFeeBps {
		feeBps = MaxFeeBps
	}
	fee = new(big.Int).Mul(gross, big.NewInt(int64(feeBps)))
	fee = fee.Div(fee, bpsDenominator)
	net = new(big.Int).Sub(gross, fee)
	return net, fee
}
