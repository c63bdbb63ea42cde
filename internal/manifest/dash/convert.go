package dash

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"streamcore/internal/manifest"
)

// ToPresentation converts a parsed MPD into the core's format-agnostic
// Presentation model, generalizing the teacher's selectRepresentations
// (session.go) — which picked one variant and all audio/text tracks for
// the *server's* forwarding decision — into a full track list the
// core's ABR controller chooses from itself.
func ToPresentation(mpdLocationURL string, mpd *MPD) (*manifest.Presentation, error) {
	if len(mpd.Periods) == 0 {
		return nil, fmt.Errorf("manifest has no periods")
	}

	periods := make([]*manifest.Period, 0, len(mpd.Periods))
	for i := range mpd.Periods {
		p := &mpd.Periods[i]
		start, err := p.GetStart()
		if err != nil {
			return nil, fmt.Errorf("period %s: invalid start: %w", p.ID, err)
		}

		mp := &manifest.Period{ID: p.ID, StartTime: start}

		var videoStreams, audioStreams []*manifest.Stream
		for j := range p.Sets {
			as := &p.Sets[j]
			streams, err := adaptationSetStreams(mpdLocationURL, p, as)
			if err != nil {
				return nil, err
			}
			switch as.ContentType {
			case "video":
				videoStreams = append(videoStreams, streams...)
			case "audio":
				audioStreams = append(audioStreams, streams...)
			case "text":
				mp.TextStreams = append(mp.TextStreams, streams...)
			}
		}

		normalVideo := linkTrickModeStreams(videoStreams)
		mp.Variants = pairIntoVariants(normalVideo, audioStreams)
		periods = append(periods, mp)
	}

	if err := manifest.ValidatePeriodOrdering(periods); err != nil {
		return nil, err
	}

	return &manifest.Presentation{Periods: periods, IsLive: mpd.Type == "dynamic"}, nil
}

// linkTrickModeStreams separates trick-mode representations from normal
// video streams and attaches each normal stream's TrickModeVideo id to
// its parallel low-bitrate sibling, generalizing the teacher's
// isTrickMode substring heuristic (session.go's initializeState) from
// "exclude trick mode from timing" into a back-reference per spec §3.
func linkTrickModeStreams(videoStreams []*manifest.Stream) []*manifest.Stream {
	var normal, trick []*manifest.Stream
	for _, s := range videoStreams {
		if strings.Contains(s.ID, "TrickMode") {
			trick = append(trick, s)
		} else {
			normal = append(normal, s)
		}
	}
	if len(trick) == 0 {
		return normal
	}
	// Heuristic: pair the single trick-mode track with every normal
	// stream when only one exists; with several, leave unlinked (the
	// source doesn't disambiguate which trick track maps to which
	// quality).
	if len(trick) == 1 {
		for _, s := range normal {
			s.TrickModeVideo = trick[0].ID
		}
	}
	return normal
}

// pairIntoVariants pairs every video stream with every audio stream, or
// keeps audio/video-only variants when one side is absent, mirroring
// the "optional audio, optional video" Variant shape of spec §3.
func pairIntoVariants(videoStreams, audioStreams []*manifest.Stream) []*manifest.Variant {
	var variants []*manifest.Variant
	if len(videoStreams) == 0 {
		for _, a := range audioStreams {
			variants = append(variants, &manifest.Variant{
				ID: "audio-" + a.ID, Audio: a, Bandwidth: a.Bandwidth,
				Language: a.Language, AllowedByApplication: true, AllowedByKeySystem: true,
			})
		}
		return variants
	}
	if len(audioStreams) == 0 {
		for _, v := range videoStreams {
			variants = append(variants, &manifest.Variant{
				ID: "video-" + v.ID, Video: v, Bandwidth: v.Bandwidth,
				AllowedByApplication: true, AllowedByKeySystem: true,
			})
		}
		return variants
	}
	for _, v := range videoStreams {
		for _, a := range audioStreams {
			variants = append(variants, &manifest.Variant{
				ID:                   v.ID + "+" + a.ID,
				Video:                v,
				Audio:                a,
				Bandwidth:            v.Bandwidth + a.Bandwidth,
				Language:             a.Language,
				AllowedByApplication: true,
				AllowedByKeySystem:   true,
			})
		}
	}
	return variants
}

func adaptationSetStreams(mpdLocationURL string, period *Period, as *AdaptationSet) ([]*manifest.Stream, error) {
	var streamType manifest.StreamType
	switch as.ContentType {
	case "video":
		streamType = manifest.StreamTypeVideo
	case "audio":
		streamType = manifest.StreamTypeAudio
	case "text":
		streamType = manifest.StreamTypeText
	default:
		return nil, fmt.Errorf("adaptation set %s has unrecognized contentType %q", as.ID, as.ContentType)
	}

	seen := map[string]bool{}
	var streams []*manifest.Stream
	for i := range as.Representations {
		rep := &as.Representations[i]
		if seen[rep.ID] {
			return nil, fmt.Errorf("duplicate representation id %q in adaptation set %s", rep.ID, as.ID)
		}
		seen[rep.ID] = true

		tmpl := rep.SegmentTemplate
		if tmpl == nil {
			tmpl = as.SegmentTemplate
		}
		if tmpl == nil {
			// SegmentBase/SegmentList representations have no timeline
			// to expand here; they are skipped and produce no Stream.
			continue
		}

		s := &manifest.Stream{
			ID:                     rep.ID,
			Type:                   streamType,
			MimeType:               as.MimeType,
			Codecs:                 rep.Codecs,
			Bandwidth:              rep.Bandwidth,
			Width:                  rep.Width,
			Height:                 rep.Height,
			FrameRate:              parseFrameRate(rep.FrameRate),
			Language:               as.Lang,
			PresentationTimeOffset: durFromTimescale(rep.PresentationTimeOffset, uint64(max1(tmpl.Timescale))),
		}
		for _, cp := range as.ContentProtections {
			if cp.DefaultKID != "" {
				s.Encrypted = true
				s.KeyID = strings.ToLower(strings.ReplaceAll(cp.DefaultKID, "-", ""))
			}
		}

		initRef := &manifest.SegmentReference{
			ResolveURIs: func() []string {
				uri, err := BuildInitSegmentURL(mpdLocationURL, period, tmpl, rep)
				if err != nil {
					return nil
				}
				return []string{uri}
			},
		}
		s.InitSegmentReference = initRef

		idx := BuildTimelineIndex(mpdLocationURL, period, tmpl, rep, initRef)
		s.SetIndex(idx)

		streams = append(streams, s)
	}
	return streams, nil
}

func max1(v int) int {
	if v <= 0 {
		return 1
	}
	return v
}

func parseFrameRate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) == 2 {
		num, _ := strconv.ParseFloat(parts[0], 64)
		den, _ := strconv.ParseFloat(parts[1], 64)
		if den != 0 {
			return num / den
		}
	}
	f, _ := strconv.ParseFloat(fr, 64)
	return f
}

// ResolveSegmentBase is the entry point for index-range (sidx)
// resolution of SegmentBase-addressed representations. It always
// returns an error: no sidx reader is implemented and nothing calls
// this function, so SegmentBase and SegmentList representations are
// skipped during conversion. SegmentTemplate+SegmentTimeline (the common
// live-streaming case, and the only addressing the teacher's MPDs use)
// is fully implemented above.
func ResolveSegmentBase(ctx context.Context) (manifest.SegmentIndex, error) {
	return nil, fmt.Errorf("SegmentBase index-range resolution requires a networking engine fetch; wire via manifest.IndexBuilder")
}
