package hls

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/mogiioin/hls-m3u8/m3u8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/manifest"
)

func vodMediaPlaylist(t *testing.T, n int) *m3u8.MediaPlaylist {
	t.Helper()
	media, err := m3u8.NewMediaPlaylist(0, uint(n+1))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, media.Append("seg.ts", 6, ""))
	}
	media.Close()
	return media
}

// TestToPresentationMultiVariantWithAudioAndSubtitles covers a master
// playlist with two video variants, two alternate audio renditions and
// two subtitle renditions, each video variant muxed against both
// renditions of the single audio group "aud".
func TestToPresentationMultiVariantWithAudioAndSubtitles(t *testing.T) {
	lowAudio := &m3u8.Alternative{Type: "AUDIO", GroupId: "aud", Language: "en", Name: "English", Default: true}
	esAudio := &m3u8.Alternative{Type: "AUDIO", GroupId: "aud", Language: "es", Name: "Spanish"}
	enSubs := &m3u8.Alternative{Type: "SUBTITLES", GroupId: "subs", Language: "en", Name: "English"}
	esSubs := &m3u8.Alternative{Type: "SUBTITLES", GroupId: "subs", Language: "es", Name: "Spanish"}

	low := &m3u8.Variant{
		URI:       "low/index.m3u8",
		Chunklist: vodMediaPlaylist(t, 3),
		VariantParams: m3u8.VariantParams{
			Bandwidth:    500_000,
			Codecs:       "avc1.42001e,mp4a.40.2",
			Resolution:   "640x360",
			Audio:        "aud",
			Subtitles:    "subs",
			Alternatives: []*m3u8.Alternative{lowAudio, esAudio, enSubs, esSubs},
		},
	}
	high := &m3u8.Variant{
		URI:       "high/index.m3u8",
		Chunklist: vodMediaPlaylist(t, 3),
		VariantParams: m3u8.VariantParams{
			Bandwidth:    3_000_000,
			Codecs:       "avc1.64001f,mp4a.40.2",
			Resolution:   "1920x1080",
			Audio:        "aud",
			Subtitles:    "subs",
			Alternatives: []*m3u8.Alternative{lowAudio, esAudio, enSubs, esSubs},
		},
	}
	master := &m3u8.MasterPlaylist{Variants: []*m3u8.Variant{low, high}}

	pres, err := ToPresentation("http://cdn.example/master.m3u8", master)
	require.NoError(t, err)

	assert.False(t, pres.IsLive)
	require.Len(t, pres.Periods, 1)
	period := pres.Periods[0]

	// Two video variants x two audio renditions = 4 variants.
	require.Len(t, period.Variants, 4)
	require.Len(t, period.TextStreams, 2)

	var langs []string
	for _, v := range period.Variants {
		langs = append(langs, v.Language)
	}
	assert.Contains(t, langs, "en")
	assert.Contains(t, langs, "es")

	for _, v := range period.Variants {
		assert.True(t, v.Playable())
		assert.NotNil(t, v.Video)
	}
}

func TestToPresentationSingleVariantIsLiveWithoutEndlist(t *testing.T) {
	media, err := m3u8.NewMediaPlaylist(3, 10)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, media.Append("seg.ts", 6, ""))
	}
	// No Close() call: no EXT-X-ENDLIST, so the playlist is sliding/live.

	variant := &m3u8.Variant{
		URI:           "index.m3u8",
		Chunklist:     media,
		VariantParams: m3u8.VariantParams{Bandwidth: 800_000, Codecs: "avc1.64001f"},
	}
	master := &m3u8.MasterPlaylist{Variants: []*m3u8.Variant{variant}}

	pres, err := ToPresentation("http://cdn.example/master.m3u8", master)
	require.NoError(t, err)
	assert.True(t, pres.IsLive)
}

// TestToPresentationWidevineKeyRoundTrip covers an EXT-X-KEY carrying an
// inline base64 Widevine PSSH, the HLS counterpart of the DASH
// ContentProtection scenario.
func TestToPresentationWidevineKeyRoundTrip(t *testing.T) {
	media := vodMediaPlaylist(t, 2)
	pssh := []byte{0xde, 0xad, 0xbe, 0xef}
	media.Key = &m3u8.Key{
		Method:    "SAMPLE-AES",
		Keyformat: widevineSystemID,
		URI:       "data:text/plain;base64," + base64.StdEncoding.EncodeToString(pssh),
	}

	variant := &m3u8.Variant{
		URI:           "index.m3u8",
		Chunklist:     media,
		VariantParams: m3u8.VariantParams{Bandwidth: 1_000_000, Codecs: "avc1.64001f"},
	}
	master := &m3u8.MasterPlaylist{Variants: []*m3u8.Variant{variant}}

	pres, err := ToPresentation("http://cdn.example/master.m3u8", master)
	require.NoError(t, err)

	require.Len(t, pres.Periods[0].Variants, 1)
	drmInfos := pres.Periods[0].Variants[0].DrmInfos
	require.Len(t, drmInfos, 1)
	assert.Equal(t, "com.widevine.alpha", drmInfos[0].KeySystem)
	require.Len(t, drmInfos[0].InitData, 1)
	assert.Equal(t, pssh, drmInfos[0].InitData[0].Bytes)
}

func TestToPresentationRejectsEmptyMaster(t *testing.T) {
	_, err := ToPresentation("http://cdn.example/master.m3u8", &m3u8.MasterPlaylist{})
	require.Error(t, err)
}

func TestToPresentationSkipsVariantWithoutChunklist(t *testing.T) {
	master := &m3u8.MasterPlaylist{Variants: []*m3u8.Variant{
		{URI: "broken.m3u8", VariantParams: m3u8.VariantParams{Bandwidth: 1}},
	}}
	pres, err := ToPresentation("http://cdn.example/master.m3u8", master)
	require.NoError(t, err)
	assert.Empty(t, pres.Periods[0].Variants)
}

func TestBuildMediaIndexCarriesByteRangeForward(t *testing.T) {
	media, err := m3u8.NewMediaPlaylist(0, 4)
	require.NoError(t, err)
	require.NoError(t, media.AppendSegment(&m3u8.MediaSegment{URI: "blob.mp4", Duration: 6, Limit: 1000, Offset: 0}))
	require.NoError(t, media.AppendSegment(&m3u8.MediaSegment{URI: "blob.mp4", Duration: 6, Limit: 1000, Offset: 1000}))
	media.Close()

	idx := buildMediaIndex("http://cdn.example/", media)
	ref0, ok := idx.GetSegmentReference(0)
	require.True(t, ok)
	require.NotNil(t, ref0.ByteRange)
	assert.Equal(t, int64(0), ref0.ByteRange.Start)
	assert.Equal(t, int64(999), ref0.ByteRange.End)

	ref1, ok := idx.GetSegmentReference(1)
	require.True(t, ok)
	assert.Equal(t, 6*time.Second, ref1.StartTime)
	require.NotNil(t, ref1.ByteRange)
	assert.Equal(t, int64(1000), ref1.ByteRange.Start)
	assert.Equal(t, int64(1999), ref1.ByteRange.End)
}
