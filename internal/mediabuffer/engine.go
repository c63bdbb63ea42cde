// Package mediabuffer defines the contract the streaming engine drives
// against a platform Media Source / Extended Media Engine buffer
// (spec §6) — decoding and rendering are delegated to the host
// platform; this package only states the shape of that collaborator
// and ships an in-memory fake for tests.
//
// Grounded on the teacher's internal/cache.SegmentCache (mutex + map +
// eviction worker, keyed by a single string) generalized from "one
// byte-blob cache shared by every representation" into "append/remove
// ranges tracked per content type," the shape spec §6 requires.
package mediabuffer

import (
	"context"
	"time"

	"streamcore/internal/manifest"
)

// StreamProperties describes a content type's MIME/codec pair, passed
// to Init.
type StreamProperties struct {
	MimeType string
	Codecs   string
}

// Range is a half-open buffered interval [Start, End) in presentation
// time.
type Range struct {
	Start, End time.Duration
}

// BufferedInfo is the result of get_buffered_info (spec §6).
type BufferedInfo struct {
	Total time.Duration
	Audio []Range
	Video []Range
	Text  []Range
}

// Engine is the platform media-buffer collaborator contract (spec §6).
// Every method may block (awaited); callers must re-check a destroyed
// flag at every suspension point per spec §5.
type Engine interface {
	Init(ctx context.Context, properties map[manifest.StreamType]StreamProperties) error
	SetDuration(ctx context.Context, d time.Duration) error
	AppendBuffer(ctx context.Context, t manifest.StreamType, data []byte, windowStart, windowEnd time.Duration) error
	Remove(ctx context.Context, t manifest.StreamType, start, end time.Duration) error
	Clear(ctx context.Context, t manifest.StreamType) error
	SetStreamProperties(ctx context.Context, t manifest.StreamType, timestampOffset, windowStart, windowEnd time.Duration) error
	EndOfStream(ctx context.Context, reason string) error

	BufferedAheadOf(t manifest.StreamType, at time.Duration) time.Duration
	BufferEnd(t manifest.StreamType) time.Duration
	IsBuffered(t manifest.StreamType, at time.Duration) bool
	ReinitText(mime string) error
	GetBufferedInfo() BufferedInfo
}
