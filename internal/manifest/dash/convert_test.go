package dash

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/manifest"
)

const twoPeriodVODManifest = `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT20S" minBufferTime="PT2S">
  <Period id="p0" start="PT0S">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v0" bandwidth="500000" codecs="avc1.64001e">
        <SegmentTemplate timescale="1" duration="10" startNumber="1" initialization="init-$RepresentationID$.mp4" media="seg-$RepresentationID$-$Time$.m4s">
          <SegmentTimeline>
            <S t="0" d="10" r="0"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      <Representation id="a0" bandwidth="128000" codecs="mp4a.40.2">
        <SegmentTemplate timescale="1" duration="10" startNumber="1" initialization="init-$RepresentationID$.mp4" media="seg-$RepresentationID$-$Time$.m4s">
          <SegmentTimeline>
            <S t="0" d="10" r="0"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
  <Period id="p1" start="PT10S">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v1" bandwidth="500000" codecs="avc1.64001e">
        <SegmentTemplate timescale="1" duration="10" startNumber="1" initialization="init-$RepresentationID$.mp4" media="seg-$RepresentationID$-$Time$.m4s">
          <SegmentTimeline>
            <S t="0" d="10" r="0"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

const liveSlidingWindowManifest = `<?xml version="1.0"?>
<MPD type="dynamic" minimumUpdatePeriod="PT5S" timeShiftBufferDepth="PT60S" availabilityStartTime="2026-01-01T00:00:00Z">
  <Period id="p0" start="PT0S">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <Representation id="v0" bandwidth="900000" codecs="avc1.64001f">
        <SegmentTemplate timescale="1" duration="4" startNumber="100" initialization="init.mp4" media="seg-$Time$.m4s">
          <SegmentTimeline>
            <S t="400" d="4" r="2"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

const encryptedManifest = `<?xml version="1.0"?>
<MPD type="static" mediaPresentationDuration="PT10S" minBufferTime="PT2S">
  <Period id="p0" start="PT0S">
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" cenc:default_KID="1A2B3C4D-0000-0000-0000-000000000000"/>
      <Representation id="v0" bandwidth="600000" codecs="avc1.64001e">
        <SegmentTemplate timescale="1" duration="10" startNumber="1" initialization="init.mp4" media="seg-$Time$.m4s">
          <SegmentTimeline>
            <S t="0" d="10" r="0"/>
          </SegmentTimeline>
        </SegmentTemplate>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func parseMPD(t *testing.T, raw string) *MPD {
	t.Helper()
	var mpd MPD
	require.NoError(t, xml.Unmarshal([]byte(raw), &mpd))
	return &mpd
}

func TestToPresentationTwoPeriodVOD(t *testing.T) {
	mpd := parseMPD(t, twoPeriodVODManifest)

	pres, err := ToPresentation("http://cdn.example/master.mpd", mpd)
	require.NoError(t, err)

	assert.False(t, pres.IsLive)
	require.Len(t, pres.Periods, 2)
	assert.Equal(t, "p0", pres.Periods[0].ID)
	assert.Equal(t, time.Duration(0), pres.Periods[0].StartTime)
	assert.Equal(t, "p1", pres.Periods[1].ID)
	assert.Equal(t, 10*time.Second, pres.Periods[1].StartTime)

	require.NoError(t, manifest.ValidatePeriodOrdering(pres.Periods))

	// Period 0 pairs its single video and audio stream into one variant.
	require.Len(t, pres.Periods[0].Variants, 1)
	v := pres.Periods[0].Variants[0]
	assert.Equal(t, "v0+a0", v.ID)
	assert.Equal(t, 500000+128000, v.Bandwidth)
	assert.Equal(t, "en", v.Language)
	assert.True(t, v.Playable())

	pos, ok := v.Video.FindSegmentPosition(5 * time.Second)
	require.True(t, ok)
	ref, ok := v.Video.GetSegmentReference(pos)
	require.True(t, ok)
	assert.Equal(t, []string{"http://cdn.example/seg-v0-0.m4s"}, ref.ResolveURIs())

	// Period 1 has video only, no audio pairing.
	require.Len(t, pres.Periods[1].Variants, 1)
	assert.Equal(t, "video-v1", pres.Periods[1].Variants[0].ID)
	assert.Nil(t, pres.Periods[1].Variants[0].Audio)
}

func TestToPresentationLiveManifestIsMarkedLive(t *testing.T) {
	mpd := parseMPD(t, liveSlidingWindowManifest)

	pres, err := ToPresentation("http://cdn.example/live.mpd", mpd)
	require.NoError(t, err)

	assert.True(t, pres.IsLive)
	require.Len(t, pres.Periods, 1)
	require.Len(t, pres.Periods[0].Variants, 1)

	video := pres.Periods[0].Variants[0].Video
	// S t="400" d="4" r="2" expands into 3 contiguous 4-tick segments.
	pos, ok := video.FindSegmentPosition(400 * time.Second)
	require.True(t, ok)
	assert.Equal(t, 0, pos)
	ref, _ := video.GetSegmentReference(pos)
	assert.Equal(t, 400*time.Second, ref.StartTime)
	assert.Equal(t, 404*time.Second, ref.EndTime)
}

func TestToPresentationPropagatesEncryptionFromContentProtection(t *testing.T) {
	mpd := parseMPD(t, encryptedManifest)

	pres, err := ToPresentation("http://cdn.example/enc.mpd", mpd)
	require.NoError(t, err)

	require.Len(t, pres.Periods[0].Variants, 1)
	video := pres.Periods[0].Variants[0].Video
	assert.True(t, video.Encrypted)
	assert.Equal(t, "1a2b3c4d000000000000000000000000", video.KeyID)
}

func TestToPresentationRejectsNoPeriods(t *testing.T) {
	_, err := ToPresentation("http://cdn.example/empty.mpd", &MPD{})
	require.Error(t, err)
}

func TestToPresentationRejectsDuplicateRepresentationID(t *testing.T) {
	mpd := &MPD{
		Type: "static",
		Periods: []Period{{
			ID:    "p0",
			Start: "PT0S",
			Sets: []AdaptationSet{{
				ID:          "as0",
				ContentType: "video",
				Representations: []Representation{
					{ID: "v0", Bandwidth: 1, SegmentTemplate: &SegmentTemplate{Timescale: 1, Initialization: "i.mp4", Media: "m-$Time$.mp4"}},
					{ID: "v0", Bandwidth: 2, SegmentTemplate: &SegmentTemplate{Timescale: 1, Initialization: "i.mp4", Media: "m-$Time$.mp4"}},
				},
			}},
		}},
	}
	_, err := ToPresentation("http://cdn.example/dup.mpd", mpd)
	require.Error(t, err)
}
