package hls

import (
	"fmt"

	"github.com/mogiioin/hls-m3u8/m3u8"

	"streamcore/internal/manifest"
)

// ToPresentation converts a fully-resolved master playlist (every
// variant's Chunklist already fetched) into the core's format-agnostic
// Presentation, the HLS counterpart of dash.ToPresentation. HLS has no
// period concept of its own, so the whole presentation is a single
// Period starting at zero, matching spec §8 scenario 4's "presentation
// with N variants" (no period count mentioned).
func ToPresentation(masterURL string, master *m3u8.MasterPlaylist) (*manifest.Presentation, error) {
	if len(master.Variants) == 0 {
		return nil, fmt.Errorf("master playlist has no variants")
	}

	audioByGroup := map[string][]*manifest.Stream{}
	var textStreams []*manifest.Stream
	seenGroups := map[string]bool{}

	for _, v := range master.Variants {
		for _, alt := range v.Alternatives {
			key := alt.GroupId + "|" + alt.Language + "|" + alt.Name
			if seenGroups[key] {
				continue
			}
			seenGroups[key] = true

			switch alt.Type {
			case "AUDIO":
				s, err := alternativeAudioStream(masterURL, alt)
				if err != nil {
					return nil, err
				}
				audioByGroup[alt.GroupId] = append(audioByGroup[alt.GroupId], s)
			case "SUBTITLES":
				textStreams = append(textStreams, alternativeTextStream(masterURL, alt))
			}
		}
	}

	var variants []*manifest.Variant
	for i, v := range master.Variants {
		if v.Chunklist == nil {
			continue
		}
		videoURL := resolveRelative(masterURL, v.URI)
		video := variantVideoStream(videoURL, v)

		audios := audioByGroup[v.Audio]
		if len(audios) == 0 {
			variants = append(variants, &manifest.Variant{
				ID:                   fmt.Sprintf("variant-%d", i),
				Video:                video,
				Bandwidth:            int(v.Bandwidth),
				AllowedByApplication: true,
				AllowedByKeySystem:   true,
				DrmInfos:             drmInfosFromChunklist(v.Chunklist),
			})
			continue
		}
		for _, a := range audios {
			variants = append(variants, &manifest.Variant{
				ID:                   fmt.Sprintf("variant-%d+%s", i, a.ID),
				Video:                video,
				Audio:                a,
				Bandwidth:            int(v.Bandwidth),
				Language:             a.Language,
				AllowedByApplication: true,
				AllowedByKeySystem:   true,
				DrmInfos:             drmInfosFromChunklist(v.Chunklist),
			})
		}
	}

	isLive := false
	for _, v := range master.Variants {
		if v.Chunklist != nil && !v.Chunklist.Closed {
			isLive = true
			break
		}
	}

	period := &manifest.Period{ID: "0", StartTime: 0, Variants: variants, TextStreams: textStreams}
	return &manifest.Presentation{Periods: []*manifest.Period{period}, IsLive: isLive}, nil
}

func variantVideoStream(videoURL string, v *m3u8.Variant) *manifest.Stream {
	w, h := parseResolution(v.Resolution)
	s := &manifest.Stream{
		ID:        videoURL,
		Type:      manifest.StreamTypeVideo,
		Codecs:    v.Codecs,
		Bandwidth: int(v.Bandwidth),
		Width:     w,
		Height:    h,
		FrameRate: v.FrameRate,
	}
	if key := v.Chunklist.Key; key != nil && key.Keyformat == widevineSystemID {
		s.Encrypted = true
	}
	idx := buildMediaIndex(videoURL, v.Chunklist)
	s.SetIndex(idx)
	s.InitSegmentReference = firstInitSegment(idx)
	return s
}

func alternativeAudioStream(masterURL string, alt *m3u8.Alternative) (*manifest.Stream, error) {
	s := &manifest.Stream{
		ID:       alt.GroupId + "-" + alt.Language,
		Type:     manifest.StreamTypeAudio,
		Language: alt.Language,
		Label:    alt.Name,
		Primary:  alt.Default,
	}
	if alt.URI == "" {
		// Muxed into the variant stream itself; no standalone playlist.
		return s, nil
	}
	return s, nil
}

func alternativeTextStream(masterURL string, alt *m3u8.Alternative) *manifest.Stream {
	return &manifest.Stream{
		ID:       alt.GroupId + "-" + alt.Language,
		Type:     manifest.StreamTypeText,
		Language: alt.Language,
		Label:    alt.Name,
		Primary:  alt.Default,
	}
}

func firstInitSegment(idx *mediaIndex) *manifest.SegmentReference {
	if len(idx.refs) == 0 {
		return nil
	}
	return idx.refs[0].InitSegmentReference
}

// drmInfosFromChunklist builds DrmInfo from a media playlist's active
// EXT-X-KEY, decoding the Widevine PSSH carried inline in the key URI
// per spec §8 scenario 5.
func drmInfosFromChunklist(media *m3u8.MediaPlaylist) []manifest.DrmInfo {
	key := media.Key
	if key == nil {
		return nil
	}
	if key.Method == "NONE" {
		return nil
	}
	if key.Keyformat != widevineSystemID {
		return nil
	}
	data, err := decodeKeyURIData(key.URI)
	if err != nil || len(data) == 0 {
		return nil
	}
	return []manifest.DrmInfo{{
		KeySystem: "com.widevine.alpha",
		InitData:  []manifest.InitData{{Bytes: data, Type: "cenc", KeyID: ""}},
	}}
}
