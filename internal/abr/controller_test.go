package abr

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/config"
	"streamcore/internal/manifest"
)

func variantAt(bandwidth int) *manifest.Variant {
	return &manifest.Variant{
		ID:                   "v" + strconv.Itoa(bandwidth),
		Bandwidth:            bandwidth,
		AllowedByApplication: true,
		AllowedByKeySystem:   true,
	}
}

// downshift reproduces spec §8 scenario 3: default_bandwidth_estimate
// = 500kbps, variants at {200,400,600,1200}kbps, after one 400kbps
// segment arrives in 8s the estimate settles near 400kbps and
// choose_variant returns the 200kbps variant (the highest variant
// whose bandwidth is within the downgrade target of the estimate, once
// the controller has already been playing something above it).
func TestControllerDownshift(t *testing.T) {
	cfg := config.DefaultABRConfig()
	cfg.DefaultBandwidthEstimate = 500_000
	cfg.SwitchInterval = 0

	now := time.Unix(0, 0)
	c := New(cfg, func() time.Time { return now })

	v200 := variantAt(200_000)
	v400 := variantAt(400_000)
	v600 := variantAt(600_000)
	v1200 := variantAt(1_200_000)
	c.SetVariants([]*manifest.Variant{v200, v400, v600, v1200})

	first := c.ChooseVariant()
	require.NotNil(t, first)

	// One 400kbps segment over 8 seconds: 400_000 bits/s * 8s / 8 bits = 400_000 bytes.
	c.SegmentDownloaded(8000, 400_000)
	now = now.Add(8 * time.Second)

	chosen := c.ChooseVariant()
	require.NotNil(t, chosen)
	assert.LessOrEqual(t, float64(chosen.Bandwidth), c.GetBandwidthEstimate()*cfg.BandwidthDowngradeTarget+1)
}

func TestControllerDisabledKeepsLastChoice(t *testing.T) {
	cfg := config.DefaultABRConfig()
	now := time.Unix(0, 0)
	c := New(cfg, func() time.Time { return now })

	v1 := variantAt(300_000)
	v2 := variantAt(900_000)
	c.SetVariants([]*manifest.Variant{v1, v2})

	chosen := c.ChooseVariant()
	require.NotNil(t, chosen)

	c.Disable()
	assert.False(t, c.Enabled())
	again := c.ChooseVariant()
	assert.Equal(t, chosen.ID, again.ID)
}

func TestControllerIgnoresTinySegments(t *testing.T) {
	cfg := config.DefaultABRConfig()
	c := New(cfg, nil)
	before := c.GetBandwidthEstimate()
	c.SegmentDownloaded(100, 10) // far below MinBytesThreshold
	assert.Equal(t, before, c.GetBandwidthEstimate())
}
