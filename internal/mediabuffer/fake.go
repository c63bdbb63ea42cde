package mediabuffer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"streamcore/internal/manifest"
)

// FakeEngine is an in-memory Engine used by streaming-engine tests,
// the same role the teacher's SegmentCache.cache map[string][]byte
// plays for segment-fetch tests — here generalized from a single byte
// cache keyed by string into a per-content-type list of buffered
// ranges, since the streaming engine needs to reason about
// buffered_ahead_of/buffer_end/is_buffered, not just presence.
type FakeEngine struct {
	mu         sync.Mutex
	ranges     map[manifest.StreamType][]Range
	duration   time.Duration
	properties map[manifest.StreamType]StreamProperties

	// QuotaFailuresRemaining simulates the buffer engine rejecting
	// AppendBuffer with a quota-exceeded error this many more times,
	// exercising the streaming engine's eviction-and-retry path
	// (spec §4.7.3).
	QuotaFailuresRemaining int
}

// NewFakeEngine constructs an empty FakeEngine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		ranges:     make(map[manifest.StreamType][]Range),
		properties: make(map[manifest.StreamType]StreamProperties),
	}
}

func (f *FakeEngine) Init(ctx context.Context, properties map[manifest.StreamType]StreamProperties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for t, p := range properties {
		f.properties[t] = p
	}
	return nil
}

func (f *FakeEngine) SetDuration(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duration = d
	return nil
}

func (f *FakeEngine) AppendBuffer(ctx context.Context, t manifest.StreamType, data []byte, windowStart, windowEnd time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QuotaFailuresRemaining > 0 {
		f.QuotaFailuresRemaining--
		return fmt.Errorf("quota exceeded")
	}
	if len(data) == 0 {
		return nil
	}
	// The fake treats every appended buffer as covering exactly
	// [windowStart, windowEnd), whatever the data's length — good enough
	// for range-overlap assertions in tests without a real demuxer.
	start := windowStart
	end := windowEnd
	f.ranges[t] = mergeRange(f.ranges[t], Range{Start: start, End: end})
	return nil
}

func (f *FakeEngine) Remove(ctx context.Context, t manifest.StreamType, start, end time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges[t] = subtractRange(f.ranges[t], Range{Start: start, End: end})
	return nil
}

func (f *FakeEngine) Clear(ctx context.Context, t manifest.StreamType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges[t] = nil
	return nil
}

func (f *FakeEngine) SetStreamProperties(ctx context.Context, t manifest.StreamType, timestampOffset, windowStart, windowEnd time.Duration) error {
	return nil
}

func (f *FakeEngine) EndOfStream(ctx context.Context, reason string) error {
	return nil
}

func (f *FakeEngine) BufferedAheadOf(t manifest.StreamType, at time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.ranges[t] {
		if at >= r.Start && at < r.End {
			return r.End - at
		}
	}
	return 0
}

func (f *FakeEngine) BufferEnd(t manifest.StreamType) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs := f.ranges[t]
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].End
}

func (f *FakeEngine) IsBuffered(t manifest.StreamType, at time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.ranges[t] {
		if at >= r.Start && at < r.End {
			return true
		}
	}
	return false
}

func (f *FakeEngine) ReinitText(mime string) error { return nil }

func (f *FakeEngine) GetBufferedInfo() BufferedInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := BufferedInfo{Total: f.duration}
	info.Audio = append(info.Audio, f.ranges[manifest.StreamTypeAudio]...)
	info.Video = append(info.Video, f.ranges[manifest.StreamTypeVideo]...)
	info.Text = append(info.Text, f.ranges[manifest.StreamTypeText]...)
	return info
}

// mergeRange inserts r into rs, coalescing with any overlapping or
// adjacent range.
func mergeRange(rs []Range, r Range) []Range {
	rs = append(rs, r)
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	merged := rs[:1]
	for _, cur := range rs[1:] {
		last := &merged[len(merged)-1]
		if cur.Start <= last.End {
			if cur.End > last.End {
				last.End = cur.End
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// subtractRange removes the interval [cut.Start,cut.End) from rs.
func subtractRange(rs []Range, cut Range) []Range {
	var out []Range
	for _, r := range rs {
		if cut.End <= r.Start || cut.Start >= r.End {
			out = append(out, r)
			continue
		}
		if cut.Start > r.Start {
			out = append(out, Range{Start: r.Start, End: cut.Start})
		}
		if cut.End < r.End {
			out = append(out, Range{Start: cut.End, End: r.End})
		}
	}
	return out
}
