package abr

import (
	"time"

	"streamcore/internal/config"
	"streamcore/internal/manifest"
)

// Controller selects among playable variants using a bandwidth
// estimate and switch-interval hysteresis (spec §4.5).
type Controller struct {
	cfg       config.ABRConfig
	estimator *BandwidthEstimator
	now       func() time.Time

	enabled      bool
	variants     []*manifest.Variant
	lastSwitch   time.Time
	lastVariant  *manifest.Variant
	haveSwitched bool
}

// New constructs a Controller from config, wired to the ABR half-life
// and threshold settings (spec §9 EWMA design note).
func New(cfg config.ABRConfig, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:       cfg,
		estimator: NewBandwidthEstimator(cfg.FastHalfLife.Seconds(), cfg.SlowHalfLife.Seconds(), float64(cfg.DefaultBandwidthEstimate), cfg.MinBytesThreshold),
		now:       now,
		enabled:   cfg.Enabled,
	}
}

// Enable turns adaptation back on.
func (c *Controller) Enable() { c.enabled = true }

// Disable turns adaptation off; ChooseVariant then always returns the
// last chosen variant without re-evaluating (spec §4.5 "when disabled,
// emits no switch notifications").
func (c *Controller) Disable() { c.enabled = false }

// Enabled reports whether adaptation is currently active.
func (c *Controller) Enabled() bool { return c.enabled }

// SetVariants installs the candidate set the controller selects among
// (typically the playable variants of the current period).
func (c *Controller) SetVariants(variants []*manifest.Variant) {
	c.variants = variants
}

// SegmentDownloaded folds a completed fetch into the bandwidth
// estimate; wired as internal/net's Observer callback.
func (c *Controller) SegmentDownloaded(deltaMs int64, numBytes int64) {
	c.estimator.SegmentDownloaded(deltaMs, numBytes)
}

// GetBandwidthEstimate returns the current conservative estimate, bits/s.
func (c *Controller) GetBandwidthEstimate() float64 {
	return c.estimator.Estimate()
}

// ChooseVariant selects the highest-bandwidth playable variant within
// the downgrade/upgrade thresholds of the current estimate, applying
// switch_interval hysteresis (spec §4.5). Returns nil if no variant is
// playable.
func (c *Controller) ChooseVariant() *manifest.Variant {
	playable := make([]*manifest.Variant, 0, len(c.variants))
	for _, v := range c.variants {
		if v.Playable() {
			playable = append(playable, v)
		}
	}
	if len(playable) == 0 {
		return nil
	}

	if !c.enabled {
		if c.lastVariant != nil {
			return c.lastVariant
		}
		return bestByBandwidth(playable, 1<<62)
	}

	if c.haveSwitched && c.now().Sub(c.lastSwitch) < c.cfg.SwitchInterval {
		return c.lastVariant
	}

	estimate := c.estimator.Estimate()
	target := estimate * c.cfg.BandwidthUpgradeTarget
	if c.lastVariant != nil && float64(c.lastVariant.Bandwidth) > estimate*c.cfg.BandwidthDowngradeTarget {
		// Currently playing above the downgrade-safe ceiling: pick the
		// best variant under estimate * BandwidthDowngradeTarget instead.
		target = estimate * c.cfg.BandwidthDowngradeTarget
	}

	chosen := bestByBandwidth(playable, target)
	if chosen == nil {
		// Nothing fits under target; fall back to the cheapest playable
		// variant rather than stalling entirely.
		chosen = cheapest(playable)
	}

	if c.lastVariant == nil || chosen.ID != c.lastVariant.ID {
		c.lastVariant = chosen
		c.lastSwitch = c.now()
		c.haveSwitched = true
	}
	return c.lastVariant
}

func bestByBandwidth(variants []*manifest.Variant, ceiling float64) *manifest.Variant {
	var best *manifest.Variant
	for _, v := range variants {
		if float64(v.Bandwidth) > ceiling {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

func cheapest(variants []*manifest.Variant) *manifest.Variant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth < best.Bandwidth {
			best = v
		}
	}
	return best
}
