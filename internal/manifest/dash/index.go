package dash

import (
	"time"

	"streamcore/internal/manifest"
)

// timelineIndex implements manifest.SegmentIndex over a resolved
// SegmentTimeline, generalizing the teacher's
// findSegmentTimeForPlayhead (session.go) from "scan the timeline
// given a raw target time" into a positional index callers can query
// by position, as the manifest.SegmentIndex contract requires.
type timelineIndex struct {
	refs []*manifest.SegmentReference
}

// BuildTimelineIndex expands a SegmentTemplate's SegmentTimeline into a
// flat, monotonically-increasing list of segment references in
// in-period presentation time, one per <S> repeat expansion — the same
// expansion the teacher's findSegmentTimeForPlayhead walks ad hoc.
func BuildTimelineIndex(mpdLocationURL string, period *Period, tmpl *SegmentTemplate, rep *Representation, initRef *manifest.SegmentReference) *timelineIndex {
	timescale := uint64(tmpl.Timescale)
	if timescale == 0 {
		timescale = 1
	}

	var refs []*manifest.SegmentReference
	var timeCursor uint64
	position := 0
	for _, s := range tmpl.Timeline.Segments {
		if s.T > 0 {
			timeCursor = s.T
		}
		for i := 0; i <= s.R; i++ {
			start := timeCursor
			end := start + s.D
			segTime := start
			refs = append(refs, &manifest.SegmentReference{
				Position:  position,
				StartTime: durFromTimescale(start, timescale),
				EndTime:   durFromTimescale(end, timescale),
				ResolveURIs: func() []string {
					uri, err := BuildSegmentURL(mpdLocationURL, period, tmpl, rep, segTime)
					if err != nil {
						return nil
					}
					return []string{uri}
				},
				InitSegmentReference: initRef,
			})
			position++
			timeCursor += s.D
		}
	}
	return &timelineIndex{refs: refs}
}

func durFromTimescale(ticks, timescale uint64) time.Duration {
	return time.Duration(float64(ticks) / float64(timescale) * float64(time.Second))
}

// FindSegmentPosition returns the position of the segment whose
// [start,end) interval contains presentationTimeInPeriod, or the last
// segment if the playhead is past the known timeline (the live-edge
// fallback the teacher's findSegmentTimeForPlayhead implements).
func (idx *timelineIndex) FindSegmentPosition(presentationTimeInPeriod time.Duration) (int, bool) {
	if len(idx.refs) == 0 {
		return 0, false
	}
	for _, r := range idx.refs {
		if presentationTimeInPeriod >= r.StartTime && presentationTimeInPeriod < r.EndTime {
			return r.Position, true
		}
	}
	last := idx.refs[len(idx.refs)-1]
	if presentationTimeInPeriod >= last.EndTime {
		return last.Position, true
	}
	return 0, false
}

// GetSegmentReference returns the reference at the given position.
func (idx *timelineIndex) GetSegmentReference(position int) (*manifest.SegmentReference, bool) {
	if position < 0 || position >= len(idx.refs) {
		return nil, false
	}
	return idx.refs[position], true
}

// Extend appends newly-arrived segments (from a merged live timeline)
// without disturbing already-issued positions, used by the live MPD
// refresh path.
func (idx *timelineIndex) Extend(more []*manifest.SegmentReference) {
	idx.refs = append(idx.refs, more...)
}
