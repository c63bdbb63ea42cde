package player

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/config"
	"streamcore/internal/drm"
	"streamcore/internal/errors"
	"streamcore/internal/events"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	"streamcore/internal/mediabuffer"
)

// fixedIndex is a manifest.SegmentIndex backed by a plain slice, the
// same shape the streaming package's own tests use to build
// deterministic fixtures without a real manifest parser.
type fixedIndex struct {
	refs []*manifest.SegmentReference
}

func (f *fixedIndex) FindSegmentPosition(t time.Duration) (int, bool) {
	for i, r := range f.refs {
		if t >= r.StartTime && t < r.EndTime {
			return i, true
		}
	}
	return 0, false
}

func (f *fixedIndex) GetSegmentReference(pos int) (*manifest.SegmentReference, bool) {
	if pos < 0 || pos >= len(f.refs) {
		return nil, false
	}
	return f.refs[pos], true
}

func segmentedStream(id, segURL string, n int, segDur time.Duration) *manifest.Stream {
	var refs []*manifest.SegmentReference
	for i := 0; i < n; i++ {
		refs = append(refs, &manifest.SegmentReference{
			Position:    i,
			StartTime:   time.Duration(i) * segDur,
			EndTime:     time.Duration(i+1) * segDur,
			ResolveURIs: func() []string { return []string{segURL} },
		})
	}
	s := manifest.NewStreamWithIndex(id, manifest.StreamTypeVideo, &fixedIndex{refs: refs})
	s.MimeType = "video/mp4"
	return s
}

func singleVariantPresentation(segURL string) *manifest.Presentation {
	video := segmentedStream("v0", segURL, 4, 10*time.Second)
	variant := &manifest.Variant{ID: "v0", Video: video, Bandwidth: 500_000, AllowedByApplication: true, AllowedByKeySystem: true}
	period := &manifest.Period{ID: "0", StartTime: 0, Variants: []*manifest.Variant{variant}}
	return &manifest.Presentation{Periods: []*manifest.Period{period}}
}

func twoVariantPresentation(segURL string) *manifest.Presentation {
	lowVideo := segmentedStream("v0", segURL, 4, 10*time.Second)
	highVideo := segmentedStream("v1", segURL, 4, 10*time.Second)
	low := &manifest.Variant{ID: "v0", Video: lowVideo, Bandwidth: 500_000, AllowedByApplication: true, AllowedByKeySystem: true}
	high := &manifest.Variant{ID: "v1", Video: highVideo, Bandwidth: 2_000_000, AllowedByApplication: true, AllowedByKeySystem: true}
	period := &manifest.Period{ID: "0", StartTime: 0, Variants: []*manifest.Variant{low, high}}
	return &manifest.Presentation{Periods: []*manifest.Period{period}}
}

// fakeParser is a manifest.Parser test double that hands back a
// preconstructed Presentation instead of fetching and parsing a real
// manifest, mirroring the engine package's own fixedIndex/fakeCallbacks
// style of standing in for a collaborator.
type fakeParser struct {
	mu           sync.Mutex
	presentation *manifest.Presentation
	startErr     error
	stopped      bool
	playerIface  manifest.PlayerInterface
}

func (f *fakeParser) Configure(cfg manifest.ParserConfig) {}

func (f *fakeParser) Start(ctx context.Context, uri string, pi manifest.PlayerInterface) (*manifest.Presentation, error) {
	f.mu.Lock()
	f.playerIface = pi
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.presentation, nil
}

func (f *fakeParser) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeParser) Update(ctx context.Context) (*manifest.Presentation, error) {
	return f.presentation, nil
}

func (f *fakeParser) OnExpirationUpdated(keyID string, expirationMs int64) {}

func (f *fakeParser) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newTestPlayer(t *testing.T, parser *fakeParser) *Player {
	t.Helper()
	cfg := config.Default()
	cfg.Streaming.BufferingGoal = 40 * time.Second
	cfg.Streaming.UpdateIntervalCap = 20 * time.Millisecond
	buffer := mediabuffer.NewFakeEngine()
	platform := drm.NewFakePlatform()
	return New(cfg, buffer, platform, nil, logger.Nop(), func(uri string) manifest.Parser { return parser })
}

func waitForEvent(t *testing.T, ch <-chan events.Event, timeout time.Duration, typ events.Type) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s not received within %v", typ, timeout)
		}
	}
}

func TestPlayerLoadReachesStreamingEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	parser := &fakeParser{presentation: singleVariantPresentation(srv.URL)}
	p := newTestPlayer(t, parser)
	defer p.Destroy(context.Background())

	ch, id := p.Events(10)
	defer p.Unlisten(id)

	require.NoError(t, p.Load(context.Background(), "http://manifest.invalid/master", LoadOptions{}))
	waitForEvent(t, ch, 2*time.Second, events.TypeStreaming)

	assert.NotEmpty(t, p.GetVariantTracks())
	assert.Equal(t, "http://manifest.invalid/master", p.GetManifestURI())
}

func TestPlayerLoadWithNoParserReturnsError(t *testing.T) {
	cfg := config.Default()
	buffer := mediabuffer.NewFakeEngine()
	platform := drm.NewFakePlatform()
	p := New(cfg, buffer, platform, nil, logger.Nop(), func(uri string) manifest.Parser { return nil })
	defer p.Destroy(context.Background())

	err := p.Load(context.Background(), "http://manifest.invalid/master", LoadOptions{})
	require.Error(t, err)
	sErr, ok := err.(*errors.StreamingError)
	require.True(t, ok)
	assert.Equal(t, errors.CodeNoParserAvailable, sErr.Code)
}

func TestPlayerRetryStreamingDoesNotDeadlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	parser := &fakeParser{presentation: singleVariantPresentation(srv.URL)}
	p := newTestPlayer(t, parser)
	defer p.Destroy(context.Background())

	ch, id := p.Events(10)
	defer p.Unlisten(id)

	require.NoError(t, p.Load(context.Background(), "http://manifest.invalid/master", LoadOptions{}))
	waitForEvent(t, ch, 2*time.Second, events.TypeStreaming)

	done := make(chan bool, 1)
	go func() { done <- p.RetryStreaming() }()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("RetryStreaming did not return, likely deadlocked on p.mu")
	}
}

func TestPlayerRetryStreamingWithoutLoadReturnsFalse(t *testing.T) {
	p := newTestPlayer(t, &fakeParser{})
	defer p.Destroy(context.Background())
	assert.False(t, p.RetryStreaming())
}

func TestPlayerSelectVariantTrackPinsVariantAndRecordsSwitch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	presentation := twoVariantPresentation(srv.URL)
	parser := &fakeParser{presentation: presentation}
	p := newTestPlayer(t, parser)
	defer p.Destroy(context.Background())

	ch, id := p.Events(10)
	defer p.Unlisten(id)

	require.NoError(t, p.Load(context.Background(), "http://manifest.invalid/master", LoadOptions{}))
	waitForEvent(t, ch, 2*time.Second, events.TypeStreaming)

	highVariant := presentation.Periods[0].Variants[1]
	p.SelectVariantTrack(highVariant, false)

	stats := p.GetStats()
	require.Len(t, stats.SwitchHistory, 1)
	assert.Equal(t, "v1", stats.SwitchHistory[0].VariantID)
}

func TestPlayerUnloadIsIdempotentAndStopsParser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	parser := &fakeParser{presentation: singleVariantPresentation(srv.URL)}
	p := newTestPlayer(t, parser)

	ch, id := p.Events(10)
	defer p.Unlisten(id)

	require.NoError(t, p.Load(context.Background(), "http://manifest.invalid/master", LoadOptions{}))
	waitForEvent(t, ch, 2*time.Second, events.TypeStreaming)

	require.NoError(t, p.Unload(context.Background()))
	assert.True(t, parser.wasStopped())
	require.NoError(t, p.Unload(context.Background()))

	require.NoError(t, p.Destroy(context.Background()))
	_, stillOpen := <-ch
	assert.False(t, stillOpen, "event channel must be closed after Destroy")
}

func TestDRMObserverPropagatesKeyStatusAcrossVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	presentation := singleVariantPresentation(srv.URL)
	presentation.Periods[0].Variants[0].DrmInfos = []manifest.DrmInfo{{KeySystem: "org.w3.clearkey"}}
	presentation.Periods[0].Variants[0].AllowedByKeySystem = false

	p := newTestPlayer(t, &fakeParser{presentation: presentation})
	defer p.Destroy(context.Background())

	p.mu.Lock()
	p.presentation = presentation
	orch := drm.New(config.DefaultDRMConfig(), drm.NewFakePlatform("org.w3.clearkey"), p.netEngine, p.log, nil, &drmObserver{p: p}, func() bool { return false })
	p.drmOrch = orch
	p.mu.Unlock()

	obs := &drmObserver{p: p}
	obs.OnKeyStatusesChanged(map[string]drm.KeyStatus{})

	assert.True(t, presentation.Periods[0].Variants[0].AllowedByKeySystem)
}

func TestPlayerSetTextTrackVisibilityDispatchesEvent(t *testing.T) {
	p := newTestPlayer(t, &fakeParser{})
	defer p.Destroy(context.Background())

	ch, id := p.Events(5)
	defer p.Unlisten(id)

	require.False(t, p.IsTextTrackVisible())
	p.SetTextTrackVisibility(true)
	assert.True(t, p.IsTextTrackVisible())
	waitForEvent(t, ch, time.Second, events.TypeTextTrackVisibility)
}
