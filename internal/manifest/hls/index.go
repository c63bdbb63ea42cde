package hls

import (
	"time"

	"github.com/mogiioin/hls-m3u8/m3u8"

	"streamcore/internal/manifest"
)

// mediaIndex implements manifest.SegmentIndex over a decoded HLS media
// playlist, the HLS counterpart to dash.timelineIndex: a flat,
// positional list built once at parse time, since the m3u8 decoder
// already hands back a fully expanded segment list (no <S>/R repeat
// expansion needed, unlike DASH SegmentTimeline).
type mediaIndex struct {
	refs []*manifest.SegmentReference
}

// buildMediaIndex walks a MediaPlaylist's segments in presentation
// order, carrying EXT-X-BYTERANGE and the active EXT-X-MAP init
// section forward the way the HLS spec defines (a segment without its
// own BYTERANGE/Map is the same as the one before it).
func buildMediaIndex(playlistURL string, media *m3u8.MediaPlaylist) *mediaIndex {
	var refs []*manifest.SegmentReference
	var cursor time.Duration
	var lastInit *manifest.SegmentReference

	for i, seg := range media.GetAllSegments() {
		if seg == nil {
			continue
		}
		start := cursor
		dur := time.Duration(seg.Duration * float64(time.Second))
		end := start + dur
		cursor = end

		if seg.Map != nil {
			mapURI := resolveRelative(playlistURL, seg.Map.URI)
			lastInit = &manifest.SegmentReference{
				ResolveURIs: func() []string { return []string{mapURI} },
			}
			if seg.Map.Limit > 0 {
				lastInit.ByteRange = &manifest.ByteRange{Start: seg.Map.Offset, End: seg.Map.Offset + seg.Map.Limit - 1}
			}
		}

		segURI := resolveRelative(playlistURL, seg.URI)
		ref := &manifest.SegmentReference{
			Position:             i,
			StartTime:            start,
			EndTime:               end,
			ResolveURIs:           func() []string { return []string{segURI} },
			InitSegmentReference:  lastInit,
		}
		if seg.Limit > 0 {
			ref.ByteRange = &manifest.ByteRange{Start: seg.Offset, End: seg.Offset + seg.Limit - 1}
		}
		refs = append(refs, ref)
	}
	return &mediaIndex{refs: refs}
}

// FindSegmentPosition returns the position of the segment covering
// presentationTime, or the last segment once the playhead runs past
// the known window (the live-edge fallback dash.timelineIndex also
// implements).
func (idx *mediaIndex) FindSegmentPosition(presentationTime time.Duration) (int, bool) {
	if len(idx.refs) == 0 {
		return 0, false
	}
	for _, r := range idx.refs {
		if presentationTime >= r.StartTime && presentationTime < r.EndTime {
			return r.Position, true
		}
	}
	last := idx.refs[len(idx.refs)-1]
	if presentationTime >= last.EndTime {
		return last.Position, true
	}
	return 0, false
}

// GetSegmentReference returns the reference at the given position.
func (idx *mediaIndex) GetSegmentReference(position int) (*manifest.SegmentReference, bool) {
	if position < 0 || position >= len(idx.refs) {
		return nil, false
	}
	return idx.refs[position], true
}
