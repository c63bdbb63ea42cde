// Package timeline implements the presentation timeline: the
// authoritative source of truth for seek range, duration, liveness and
// the availability window (spec §4.1).
package timeline

import (
	"math"
	"sync"
	"time"
)

// PresentationTimeline tracks everything needed to compute the seek
// range for both VOD and live presentations.
type PresentationTimeline struct {
	mu sync.RWMutex

	presentationStartTime    time.Time // wall clock, live only
	duration                 time.Duration
	segmentAvailabilityDuration time.Duration
	maxSegmentDuration       time.Duration
	clockOffset              time.Duration
	presentationDelay        time.Duration
	durationBackoff          time.Duration
	isStatic                 bool

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time
}

// Option configures a PresentationTimeline at construction.
type Option func(*PresentationTimeline)

// WithClock overrides the wall-clock source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *PresentationTimeline) { t.now = now }
}

// New creates a PresentationTimeline. isStatic=true means VOD.
func New(isStatic bool, opts ...Option) *PresentationTimeline {
	t := &PresentationTimeline{
		isStatic: isStatic,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPresentationStartTime sets the live wall-clock anchor.
func (t *PresentationTimeline) SetPresentationStartTime(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presentationStartTime = start
}

// SetSegmentAvailabilityDuration sets the live availability window length.
func (t *PresentationTimeline) SetSegmentAvailabilityDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segmentAvailabilityDuration = d
}

// SetPresentationDelay sets the live-edge delay.
func (t *PresentationTimeline) SetPresentationDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presentationDelay = d
}

// SetDurationBackoff sets how far before the VOD duration seeking stops
// being permitted; 0 permits seeking to the exact duration (spec §4.1
// edge case).
func (t *PresentationTimeline) SetDurationBackoff(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durationBackoff = d
}

// SetDuration sets the presentation duration. For VOD it is
// monotone-decrease only: it never expands once set, matching the
// "EOS finalizes duration to observed maximum" edge case, where later
// (smaller, more accurate) observations refine but never grow it back
// up past an earlier finalization. A zero duration counts as unset, so
// the first non-zero value is always taken.
func (t *PresentationTimeline) SetDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isStatic && t.duration != 0 && !math.IsInf(float64(t.duration), 1) {
		if d < t.duration {
			t.duration = d
		}
		return
	}
	t.duration = d
}

// Duration returns the current duration.
func (t *PresentationTimeline) Duration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// NotifyMaxSegmentDuration widens the tracked maximum segment duration:
// max_segment_duration = max(current, d).
func (t *PresentationTimeline) NotifyMaxSegmentDuration(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d > t.maxSegmentDuration {
		t.maxSegmentDuration = d
	}
}

// SetClockOffset replaces the wall-clock offset used for the live window.
func (t *PresentationTimeline) SetClockOffset(delta time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clockOffset = delta
}

// IsLive reports whether this is a live (non-static) presentation.
func (t *PresentationTimeline) IsLive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.isStatic
}

// IsInProgress reports whether the presentation is a live event with a
// known (but still growing) duration, i.e. not static and a finite
// duration has been observed.
func (t *PresentationTimeline) IsInProgress() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.isStatic && t.duration > 0 && !math.IsInf(float64(t.duration), 1)
}

func (t *PresentationTimeline) wallNow() time.Duration {
	return t.now().Sub(t.presentationStartTime) + t.clockOffset
}

// SeekRangeStart implements the heuristic start-of-window calculation:
// max(0, availability_end - availability_duration) + max_segment_duration/2,
// ensuring a fetch starting at seek_range_start lands on a buffered
// segment (spec §4.1).
func (t *PresentationTimeline) SeekRangeStart() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seekRangeStartLocked()
}

func (t *PresentationTimeline) seekRangeStartLocked() time.Duration {
	availEnd := t.seekRangeEndLocked()
	start := availEnd - t.segmentAvailabilityDuration
	if start < 0 {
		start = 0
	}
	return start + t.maxSegmentDuration/2
}

// SeekRangeEnd implements: live ? (wall_now + offset) - presentation_delay
// : duration - duration_backoff.
func (t *PresentationTimeline) SeekRangeEnd() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seekRangeEndLocked()
}

func (t *PresentationTimeline) seekRangeEndLocked() time.Duration {
	if !t.isStatic {
		end := t.wallNow() - t.presentationDelay
		if end < 0 {
			end = 0
		}
		return end
	}
	end := t.duration - t.durationBackoff
	if end < 0 {
		end = 0
	}
	return end
}

// SeekRange returns (start, end), satisfying start <= end.
func (t *PresentationTimeline) SeekRange() (time.Duration, time.Duration) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start := t.seekRangeStartLocked()
	end := t.seekRangeEndLocked()
	if start > end {
		start = end
	}
	return start, end
}
