// Package config defines the player's configuration surface.
//
// It follows the teacher's raw-then-processed unmarshal pattern
// (config.go's rawConfig -> ChannelConfig): callers build a
// PlayerConfiguration through Default() and Configure(partial), never
// by hand-assembling the zero value, so every field always has a
// valid default.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RetryPolicy is the pure leaf value type from spec §2/§4.3.
type RetryPolicy struct {
	MaxAttempts   int           `validate:"min=1"`
	BaseDelay     time.Duration `validate:"min=0"`
	BackoffFactor float64       `validate:"min=1"`
	Fuzz          float64       `validate:"min=0,max=1"`
	Timeout       time.Duration `validate:"min=0"`
}

// DefaultRetryPolicy mirrors the teacher's Downloader defaults
// (3 attempts, 200ms delay) generalized with backoff/fuzz/timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     200 * time.Millisecond,
		BackoffFactor: 2.0,
		Fuzz:          0.5,
		Timeout:       10 * time.Second,
	}
}

// ABRConfig configures the bandwidth estimator and variant selection hysteresis.
type ABRConfig struct {
	Enabled                bool
	DefaultBandwidthEstimate int64         `validate:"min=0"`
	BandwidthDowngradeTarget float64       `validate:"min=0,max=1"`
	BandwidthUpgradeTarget   float64       `validate:"min=0,max=1"`
	SwitchInterval           time.Duration `validate:"min=0"`
	FastHalfLife             time.Duration `validate:"min=0"`
	SlowHalfLife             time.Duration `validate:"min=0"`
	MinBytesThreshold        int64         `validate:"min=0"`
}

func DefaultABRConfig() ABRConfig {
	return ABRConfig{
		Enabled:                  true,
		DefaultBandwidthEstimate: 1_000_000,
		BandwidthDowngradeTarget: 0.95,
		BandwidthUpgradeTarget:   0.85,
		SwitchInterval:           8 * time.Second,
		FastHalfLife:             2 * time.Second,
		SlowHalfLife:             5 * time.Second,
		MinBytesThreshold:        5000,
	}
}

// StreamingConfig configures the streaming engine's buffering goals and eviction.
type StreamingConfig struct {
	BufferingGoal          time.Duration `validate:"min=0"`
	RebufferingGoal        time.Duration `validate:"min=0"`
	BufferBehind           time.Duration `validate:"min=0"`
	UpdateIntervalCap      time.Duration `validate:"min=0"`
	ClearBufferSafeMargin  time.Duration `validate:"min=0"`
	IgnoreTextStreamFailures bool
	QuotaBackoffFactor     float64 `validate:"min=0,max=1"`
	MaxQuotaRetries        int     `validate:"min=0"`
}

func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{
		BufferingGoal:            10 * time.Second,
		RebufferingGoal:          2 * time.Second,
		BufferBehind:             30 * time.Second,
		UpdateIntervalCap:        1 * time.Second,
		ClearBufferSafeMargin:    0,
		IgnoreTextStreamFailures: false,
		QuotaBackoffFactor:       0.5,
		MaxQuotaRetries:          4,
	}
}

// PlayheadConfig configures gap handling and start-time resolution.
type PlayheadConfig struct {
	SmallGapLimit        time.Duration `validate:"min=0"`
	JumpLargeGaps        bool
	StartAtSegmentBoundary bool
}

func DefaultPlayheadConfig() PlayheadConfig {
	return PlayheadConfig{
		SmallGapLimit:          500 * time.Millisecond,
		JumpLargeGaps:          true,
		StartAtSegmentBoundary: false,
	}
}

// DRMAdvanced holds per-key-system advanced configuration (spec §4.4 step 1).
type DRMAdvanced struct {
	DistinctiveIdentifierRequired bool
	PersistentStateRequired      bool
	Robustness                   string
	ServerCertificate            []byte
}

// DRMConfig configures the DRM orchestrator.
type DRMConfig struct {
	Advanced                map[string]DRMAdvanced
	ClearKeys                map[string]string // keyId hex -> key hex, for synthesized clear-key configs
	DelayLicenseUntilPlayed bool
	LicenseServers           map[string]string // key system -> license server override
}

func DefaultDRMConfig() DRMConfig {
	return DRMConfig{
		Advanced:     map[string]DRMAdvanced{},
		ClearKeys:    map[string]string{},
		LicenseServers: map[string]string{},
	}
}

// PlayerConfiguration is the top-level, deep-mergeable configuration object.
type PlayerConfiguration struct {
	Retry     RetryPolicy
	ABR       ABRConfig
	Streaming StreamingConfig
	Playhead  PlayheadConfig
	DRM       DRMConfig
	UserAgent string
}

// Default returns the fully-populated default configuration.
func Default() PlayerConfiguration {
	return PlayerConfiguration{
		Retry:     DefaultRetryPolicy(),
		ABR:       DefaultABRConfig(),
		Streaming: DefaultStreamingConfig(),
		Playhead:  DefaultPlayheadConfig(),
		DRM:       DefaultDRMConfig(),
		UserAgent: "streamcore/1.0",
	}
}

var validate = validator.New()

// Validate checks field-level constraints (positive durations, fractions in
// [0,1], etc.) using the same struct-tag validator family used for request
// validation in the wider example pack.
func (c *PlayerConfiguration) Validate() error {
	if err := validate.Struct(c.Retry); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	if err := validate.Struct(c.ABR); err != nil {
		return fmt.Errorf("invalid abr config: %w", err)
	}
	if err := validate.Struct(c.Streaming); err != nil {
		return fmt.Errorf("invalid streaming config: %w", err)
	}
	if err := validate.Struct(c.Playhead); err != nil {
		return fmt.Errorf("invalid playhead config: %w", err)
	}
	return nil
}

// Patch is a partial configuration; zero-value fields are left untouched
// by Merge. Deep-merge is field-by-field rather than reflection-based,
// matching the teacher's preference for explicit struct assembly over
// generic reflection-driven merges.
type Patch struct {
	Retry     *RetryPolicy
	ABR       *ABRConfig
	Streaming *StreamingConfig
	Playhead  *PlayheadConfig
	DRM       *DRMConfig
	UserAgent *string
}

// Merge deep-merges a partial Patch into the configuration and validates
// the result, leaving c unchanged if validation fails.
func (c *PlayerConfiguration) Merge(p Patch) error {
	next := *c
	if p.Retry != nil {
		next.Retry = *p.Retry
	}
	if p.ABR != nil {
		next.ABR = *p.ABR
	}
	if p.Streaming != nil {
		next.Streaming = *p.Streaming
	}
	if p.Playhead != nil {
		next.Playhead = *p.Playhead
	}
	if p.DRM != nil {
		next.DRM = *p.DRM
	}
	if p.UserAgent != nil {
		next.UserAgent = *p.UserAgent
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
