// Package manifest is the format-agnostic in-memory presentation model
// that DASH and HLS parsers both produce and that the streaming engine,
// ABR controller and DRM orchestrator all consume.
//
// The shape mirrors the teacher's internal/dash wire structs
// (MPD/Period/AdaptationSet/Representation) but is deliberately not tied
// to XML: a Presentation can equally have been built from an HLS master
// playlist. Ownership is exclusive top-down (Presentation owns Periods
// owns Variants owns Streams); the streaming engine and ABR never hold
// onto a Stream pointer across a manifest update, only a (periodID,
// streamID) pair, reconciled by id on every update (spec §3 Ownership).
package manifest

import (
	"context"
	"fmt"
	"time"
)

// StreamType enumerates the three kinds of elementary stream.
type StreamType int

const (
	StreamTypeAudio StreamType = iota
	StreamTypeVideo
	StreamTypeText
)

func (t StreamType) String() string {
	switch t {
	case StreamTypeAudio:
		return "audio"
	case StreamTypeVideo:
		return "video"
	case StreamTypeText:
		return "text"
	default:
		return "unknown"
	}
}

// GapOverlapTolerance is the maximum allowed gap/overlap between adjacent
// periods and between adjacent segment references (spec §3 Period invariant).
const GapOverlapTolerance = 1 * time.Second

// ByteRange is an inclusive byte range used for HLS EXT-X-BYTERANGE and
// DASH SegmentBase/indexRange.
type ByteRange struct {
	Start, End int64
}

// InitData is a single DRM init-data entry carried by a DrmInfo.
type InitData struct {
	Bytes []byte
	Type  string
	KeyID string
}

// DrmInfo describes one key-system's configuration for a Variant.
type DrmInfo struct {
	KeySystem                     string
	LicenseServerURI              string
	DistinctiveIdentifierRequired bool
	PersistentStateRequired       bool
	Robustness                    string
	ServerCertificate             []byte
	InitData                      []InitData
	KeyIDs                        []string
}

// SegmentReference describes one fetchable media or init segment.
type SegmentReference struct {
	Position             int
	StartTime            time.Duration
	EndTime               time.Duration
	ResolveURIs           func() []string
	ByteRange             *ByteRange
	InitSegmentReference  *SegmentReference
}

// SegmentIndex is implemented per-Stream once CreateSegmentIndex resolves.
type SegmentIndex interface {
	FindSegmentPosition(presentationTimeInPeriod time.Duration) (int, bool)
	GetSegmentReference(position int) (*SegmentReference, bool)
}

// IndexBuilder lazily constructs a Stream's SegmentIndex. The DASH
// (SegmentTemplate/SegmentTimeline) and HLS converters both build their
// indexes synchronously and install them with SetIndex; DASH
// SegmentBase/SegmentList representations produce no Stream.
type IndexBuilder func(ctx context.Context) (SegmentIndex, error)

// Stream is the finest unit of selection: a single elementary audio,
// video or text stream.
type Stream struct {
	ID                     string
	Type                   StreamType
	MimeType               string
	Codecs                 string
	Bandwidth              int
	Width, Height          int
	FrameRate              float64
	ChannelsCount          int
	Language               string
	Label                  string
	Kind                   string
	Roles                  []string
	Primary                bool
	Encrypted              bool
	KeyID                  string
	InitSegmentReference   *SegmentReference
	PresentationTimeOffset time.Duration

	// TrickModeVideo is a stream id, never an owning pointer, so the
	// reference survives manifest reconciliation without pinning the old
	// tree in memory (spec §9 cyclic back-reference note).
	TrickModeVideo string

	buildIndex IndexBuilder
	index      SegmentIndex
}

// NewStream constructs a Stream with its lazy index builder. Tests and
// parsers that already know the full segment list can use
// NewStreamWithIndex instead.
func NewStream(id string, typ StreamType, buildIndex IndexBuilder) *Stream {
	return &Stream{ID: id, Type: typ, buildIndex: buildIndex}
}

// NewStreamWithIndex constructs a Stream whose index is already resolved.
func NewStreamWithIndex(id string, typ StreamType, index SegmentIndex) *Stream {
	return &Stream{ID: id, Type: typ, index: index, buildIndex: func(context.Context) (SegmentIndex, error) { return index, nil }}
}

// SetIndex installs an already-resolved SegmentIndex, used by parsers
// (like DASH SegmentTemplate/SegmentTimeline) that can build the full
// index synchronously while converting the wire format.
func (s *Stream) SetIndex(index SegmentIndex) {
	s.index = index
	s.buildIndex = func(context.Context) (SegmentIndex, error) { return index, nil }
}

// CreateSegmentIndex resolves the stream's segment index. It is safe to
// call more than once; subsequent calls are no-ops once resolved.
func (s *Stream) CreateSegmentIndex(ctx context.Context) error {
	if s.index != nil {
		return nil
	}
	if s.buildIndex == nil {
		return fmt.Errorf("stream %s has no index builder", s.ID)
	}
	idx, err := s.buildIndex(ctx)
	if err != nil {
		return fmt.Errorf("create segment index for stream %s: %w", s.ID, err)
	}
	s.index = idx
	return nil
}

// FindSegmentPosition returns the position of the segment covering
// presentationTimeInPeriod, or false if the index isn't ready or the
// time is out of range.
func (s *Stream) FindSegmentPosition(presentationTimeInPeriod time.Duration) (int, bool) {
	if s.index == nil {
		return 0, false
	}
	return s.index.FindSegmentPosition(presentationTimeInPeriod)
}

// GetSegmentReference returns the segment reference at the given position.
func (s *Stream) GetSegmentReference(position int) (*SegmentReference, bool) {
	if s.index == nil {
		return nil, false
	}
	return s.index.GetSegmentReference(position)
}

// Variant is a playable pairing of an optional audio and an optional
// video stream.
type Variant struct {
	ID                   string
	Audio                *Stream
	Video                *Stream
	Bandwidth            int
	Language             string
	Primary              bool
	DrmInfos             []DrmInfo
	AllowedByApplication bool
	AllowedByKeySystem   bool
}

// Playable reports whether the variant may currently be played: both
// allowance flags must be true (spec §3 Variant).
func (v *Variant) Playable() bool {
	return v.AllowedByApplication && v.AllowedByKeySystem
}

// Period is a contiguous presentation interval with its own track list.
type Period struct {
	ID          string
	StartTime   time.Duration
	Variants    []*Variant
	TextStreams []*Stream
}

// Presentation is the root container, owned exclusively by the loader
// that parsed it.
type Presentation struct {
	MinBufferTime     time.Duration
	OfflineSessionIDs []string
	Periods           []*Period

	// IsLive reports whether the presentation is still growing (DASH
	// type="dynamic", or an HLS media playlist with no EXT-X-ENDLIST).
	// A parser's Update merely reflects new content; this flag is what
	// the facade's timeline uses to decide VOD vs live seek-range rules.
	IsLive bool
}

// ValidatePeriodOrdering enforces strictly increasing period start times
// (spec §3 Period invariant). The gap/overlap between adjacent periods is
// not checked against GapOverlapTolerance, since a Period carries no end
// time.
func ValidatePeriodOrdering(periods []*Period) error {
	for i := 1; i < len(periods); i++ {
		prev, cur := periods[i-1], periods[i]
		if cur.StartTime <= prev.StartTime {
			return fmt.Errorf("period %q does not start after period %q (%v <= %v)", cur.ID, prev.ID, cur.StartTime, prev.StartTime)
		}
	}
	return nil
}

// FindPeriodByID returns the period with the given id, reconciliation
// key used across manifest updates (spec §4.2).
func FindPeriodByID(periods []*Period, id string) (*Period, bool) {
	for _, p := range periods {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// FindVariantByID returns the variant with the given id within a period.
func FindVariantByID(p *Period, id string) (*Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return nil, false
}
