// Package abr implements bandwidth estimation and variant selection
// with switch hysteresis (spec §4.5, §9's EWMA design note).
//
// Grounded on the general shape of the teacher's downloadNextSegments
// ticking state machine (session.go) — a mutex-guarded estimate read
// by one goroutine and updated by another — but the estimate math
// itself, and the whole notion of an adaptive controller, is new: the
// teacher always downloads the single best-bandwidth representation
// and never re-evaluates it.
package abr

import "math"

// ewma is a single exponentially-weighted moving average with a
// configurable half-life, the building block for the fast/slow pair
// spec §9 calls for.
type ewma struct {
	halfLifeSeconds float64
	estimate        float64
	totalWeight     float64
}

func newEWMA(halfLifeSeconds float64) *ewma {
	return &ewma{halfLifeSeconds: halfLifeSeconds}
}

// sample folds in one weighted observation (bandwidth sample, weighted
// by the seconds it took to gather it), following the classic
// alpha = 0.5^(weight/halfLife) = exp(-weight * ln(2) / halfLife) EWMA
// update used by shaka-player-style estimators, where alpha is the share
// kept by the previous estimate and 1-alpha goes to the new sample.
func (e *ewma) sample(weightSeconds, value float64) {
	alpha := math.Pow(0.5, weightSeconds/e.halfLifeSeconds)
	e.estimate = value*(1-alpha) + alpha*e.estimate
	e.totalWeight += weightSeconds
}

func (e *ewma) getEstimate(defaultEstimate float64) float64 {
	if e.totalWeight <= 0 {
		return defaultEstimate
	}
	// Zero-weight prefix correction: estimate is biased toward the
	// default until enough samples have accumulated.
	zeroFactor := math.Pow(0.5, e.totalWeight/e.halfLifeSeconds)
	return e.estimate/(1-zeroFactor) // never divides by zero: totalWeight>0 implies zeroFactor<1
}

// BandwidthEstimator tracks a conservative bandwidth estimate using
// two EWMAs (fast and slow half-life) and taking their min, per spec
// §4.5/§9: "dominated by the slower estimate to resist single-segment
// spikes."
type BandwidthEstimator struct {
	fast              *ewma
	slow              *ewma
	defaultEstimate   float64
	minBytesThreshold int64
}

// NewBandwidthEstimator constructs an estimator with the given
// half-lives (seconds), default estimate (bits/s) and minimum-bytes
// filter.
func NewBandwidthEstimator(fastHalfLife, slowHalfLife float64, defaultEstimate float64, minBytesThreshold int64) *BandwidthEstimator {
	return &BandwidthEstimator{
		fast:              newEWMA(fastHalfLife),
		slow:              newEWMA(slowHalfLife),
		defaultEstimate:   defaultEstimate,
		minBytesThreshold: minBytesThreshold,
	}
}

// SegmentDownloaded folds in a completed segment fetch. Segments below
// the minimum byte threshold are ignored to avoid overfitting to tiny
// requests (spec §4.5).
func (b *BandwidthEstimator) SegmentDownloaded(deltaMs int64, numBytes int64) {
	if numBytes < b.minBytesThreshold {
		return
	}
	seconds := float64(deltaMs) / 1000
	if seconds <= 0 {
		return
	}
	bitsPerSecond := float64(numBytes) * 8 / seconds
	b.fast.sample(seconds, bitsPerSecond)
	b.slow.sample(seconds, bitsPerSecond)
}

// Estimate returns the conservative bandwidth estimate in bits/s: the
// minimum of the fast and slow EWMAs, per the spec's "min() combine."
func (b *BandwidthEstimator) Estimate() float64 {
	fast := b.fast.getEstimate(b.defaultEstimate)
	slow := b.slow.getEstimate(b.defaultEstimate)
	if fast < slow {
		return fast
	}
	return slow
}
