// Package playhead owns the current media time, gap detection and
// buffering-state transitions (spec §4.6).
//
// New package — the teacher has no playhead of its own beyond the
// session's currentTargetTime uint64 field that advances by segment
// duration on a fixed ticker (session.go's downloadNextSegments); this
// generalizes that single field into the full gap-jump /
// start-time-adjustment / buffering-state machine spec §4.6 describes,
// keeping the teacher's "advance, then clamp against the live edge"
// idiom.
package playhead

import (
	"sync"
	"time"

	"streamcore/internal/config"
	"streamcore/internal/manifest"
)

// GapObserver receives the gap and buffering events the playhead emits.
type GapObserver interface {
	// OnLargeGap is called when a gap larger than small_gap_limit is
	// found. Returning true ("prevent default") tells the playhead not
	// to jump even if jump_large_gaps is configured.
	OnLargeGap(currentTime, gapSize time.Duration) (preventDefault bool)
	OnBufferingStateChange(buffering bool)
}

// Range is a buffered presentation-time interval, mirroring
// mediabuffer.Range so this package stays free of a direct dependency
// on the buffer engine's types.
type Range struct {
	Start, End time.Duration
}

// Playhead tracks the current presentation time and the engine's
// buffering state. It is driven both by the player's own seek path and
// by a periodic poller (player.runPlayheadLoop), so all field access
// goes through mu; mu is never held while invoking observer, to avoid
// a lock-order inversion against Player.mu (the observer locks back
// into Player).
type Playhead struct {
	cfg      config.PlayheadConfig
	observer GapObserver

	mu        sync.Mutex
	current   time.Duration
	buffering bool
	ended     bool
}

// New constructs a Playhead starting at startTime.
func New(cfg config.PlayheadConfig, observer GapObserver, startTime time.Duration) *Playhead {
	return &Playhead{cfg: cfg, observer: observer, current: startTime}
}

// CurrentTime returns the playhead's current presentation time.
func (p *Playhead) CurrentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// SetCurrentTime forces the playhead to a new position, e.g. after a
// user seek (the caller is responsible for invoking the streaming
// engine's seeked() afterward).
func (p *Playhead) SetCurrentTime(t time.Duration) {
	p.mu.Lock()
	p.current = t
	p.mu.Unlock()
}

// ResolveStartTime implements the start_at_segment_boundary adjustment
// of spec §4.6: for each chosen stream, find the segment whose
// interval contains requestedStart and take its start_time; the final
// start is the max of those, since a smaller start would require
// buffering the whole preceding segment.
func ResolveStartTime(cfg config.PlayheadConfig, requestedStart time.Duration, streams ...*manifest.Stream) time.Duration {
	if !cfg.StartAtSegmentBoundary {
		return requestedStart
	}
	best := time.Duration(-1)
	for _, s := range streams {
		if s == nil {
			continue
		}
		pos, ok := s.FindSegmentPosition(requestedStart)
		if !ok {
			continue
		}
		ref, ok := s.GetSegmentReference(pos)
		if !ok {
			continue
		}
		if ref.StartTime > best {
			best = ref.StartTime
		}
	}
	if best < 0 {
		return requestedStart
	}
	return best
}

// CheckGap implements the gap policy of spec §4.6: given the streaming
// engine's buffered ranges for the content type driving timing (video,
// matching the teacher's session-timescale "master clock" convention),
// decides whether to jump silently, emit a large_gap event and jump,
// or stall (spec §8 scenario 6: buffered [0,10) and [10.3,20), playhead
// at 10.0 -> silent jump to 10.3, no event, since 0.3s < small_gap_limit).
func (p *Playhead) CheckGap(ranges []Range) {
	p.mu.Lock()
	current := p.current
	for _, r := range ranges {
		if current >= r.Start && current < r.End {
			p.mu.Unlock()
			return // already buffered
		}
	}
	var nextStart time.Duration
	found := false
	for _, r := range ranges {
		if r.Start > current && (!found || r.Start < nextStart) {
			nextStart = r.Start
			found = true
		}
	}
	if !found {
		p.mu.Unlock()
		return
	}
	gap := nextStart - current
	if gap <= 0 {
		p.mu.Unlock()
		return
	}
	if gap <= p.cfg.SmallGapLimit {
		p.current = nextStart
		p.mu.Unlock()
		return
	}
	jumpLargeGaps := p.cfg.JumpLargeGaps
	p.mu.Unlock()

	preventDefault := false
	if p.observer != nil {
		preventDefault = p.observer.OnLargeGap(current, gap)
	}
	if jumpLargeGaps && !preventDefault {
		p.mu.Lock()
		p.current = nextStart
		p.mu.Unlock()
	}
}

// UpdateBufferingState implements the buffering-state transitions of
// spec §4.6: enters "buffering" when buffered_ahead < rebuffering_goal
// and !ended; exits when buffered_ahead >= rebuffering_goal or ended.
// Transitions emit the event exactly on the edge.
func (p *Playhead) UpdateBufferingState(bufferedAhead, rebufferingGoal time.Duration, ended bool) {
	p.mu.Lock()
	p.ended = ended
	wantBuffering := bufferedAhead < rebufferingGoal && !ended
	if wantBuffering == p.buffering {
		p.mu.Unlock()
		return
	}
	p.buffering = wantBuffering
	p.mu.Unlock()
	if p.observer != nil {
		p.observer.OnBufferingStateChange(wantBuffering)
	}
}

// IsBuffering reports the current buffering state.
func (p *Playhead) IsBuffering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffering
}
