package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"streamcore/internal/config"
	"streamcore/internal/errors"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	"streamcore/internal/mediabuffer"
	netpkg "streamcore/internal/net"
)

// TestMain verifies that Engine.Destroy leaves no goroutine behind —
// the command loop started by New must exit once stop is closed.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedIndex is a manifest.SegmentIndex backed by a plain slice, used
// to build deterministic test streams without a real manifest parser.
type fixedIndex struct {
	refs []*manifest.SegmentReference
}

func (f *fixedIndex) FindSegmentPosition(t time.Duration) (int, bool) {
	for i, r := range f.refs {
		if t >= r.StartTime && t < r.EndTime {
			return i, true
		}
	}
	if len(f.refs) > 0 && t >= f.refs[len(f.refs)-1].EndTime {
		return 0, false
	}
	return 0, false
}

func (f *fixedIndex) GetSegmentReference(pos int) (*manifest.SegmentReference, bool) {
	if pos < 0 || pos >= len(f.refs) {
		return nil, false
	}
	return f.refs[pos], true
}

func segmentedStream(id string, typ manifest.StreamType, segURL string, n int, segDur time.Duration) *manifest.Stream {
	var refs []*manifest.SegmentReference
	for i := 0; i < n; i++ {
		i := i
		refs = append(refs, &manifest.SegmentReference{
			Position:    i,
			StartTime:   time.Duration(i) * segDur,
			EndTime:     time.Duration(i+1) * segDur,
			ResolveURIs: func() []string { return []string{segURL} },
		})
	}
	s := manifest.NewStreamWithIndex(id, typ, &fixedIndex{refs: refs})
	s.MimeType = "video/mp4"
	return s
}

type fakeCallbacks struct {
	mu       sync.Mutex
	variant  *manifest.Variant
	text     *manifest.Stream
	errs     []*errors.StreamingError
	setupN   int
	chooseN  int
}

func (f *fakeCallbacks) OnChooseStreams(period *manifest.Period) (*manifest.Variant, *manifest.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chooseN++
	return f.variant, f.text, nil
}

func (f *fakeCallbacks) OnInitialStreamsSetup() {
	f.mu.Lock()
	f.setupN++
	f.mu.Unlock()
}

func (f *fakeCallbacks) OnError(err *errors.StreamingError) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *fakeCallbacks) errCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

type fakeABR struct {
	mu      sync.Mutex
	enabled bool
}

func (a *fakeABR) Enable()       { a.mu.Lock(); a.enabled = true; a.mu.Unlock() }
func (a *fakeABR) Disable()      { a.mu.Lock(); a.enabled = false; a.mu.Unlock() }
func (a *fakeABR) Enabled() bool { a.mu.Lock(); defer a.mu.Unlock(); return a.enabled }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestEngineAppendsSegmentsAndReachesEndOfStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer srv.Close()

	video := segmentedStream("v0", manifest.StreamTypeVideo, srv.URL, 4, 10*time.Second)
	period := &manifest.Period{ID: "0", StartTime: 0, Variants: []*manifest.Variant{{ID: "v0", Video: video}}}

	variant := &manifest.Variant{ID: "v0", Video: video, AllowedByApplication: true, AllowedByKeySystem: true}
	callbacks := &fakeCallbacks{variant: variant}

	buffer := mediabuffer.NewFakeEngine()
	netEngine := netpkg.NewEngine(logger.Nop(), "test")
	abr := &fakeABR{enabled: true}

	playheadTime := 39 * time.Second // near the end, so buffering_goal covers remaining segments quickly
	cfg := config.DefaultStreamingConfig()
	cfg.BufferingGoal = 40 * time.Second
	cfg.UpdateIntervalCap = 50 * time.Millisecond

	eng := New(cfg, config.DefaultRetryPolicy(), buffer, netEngine, abr, callbacks, logger.Nop(),
		func() time.Duration { return playheadTime }, func() bool { return false })
	defer eng.Destroy()

	require.NoError(t, eng.Init(context.Background(), []*manifest.Period{period}))

	waitFor(t, 3*time.Second, func() bool {
		return buffer.BufferEnd(manifest.StreamTypeVideo) >= 40*time.Second
	})
	waitFor(t, 3*time.Second, eng.Ended)
	assert.Equal(t, 1, callbacks.setupN)
}

func TestEngineHaltsOnCriticalFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	video := segmentedStream("v0", manifest.StreamTypeVideo, srv.URL, 2, 10*time.Second)
	period := &manifest.Period{ID: "0", StartTime: 0, Variants: []*manifest.Variant{{ID: "v0", Video: video}}}
	variant := &manifest.Variant{ID: "v0", Video: video, AllowedByApplication: true, AllowedByKeySystem: true}
	callbacks := &fakeCallbacks{variant: variant}

	buffer := mediabuffer.NewFakeEngine()
	netEngine := netpkg.NewEngine(logger.Nop(), "test")

	cfg := config.DefaultStreamingConfig()
	retry := config.DefaultRetryPolicy()
	retry.MaxAttempts = 1

	eng := New(cfg, retry, buffer, netEngine, &fakeABR{}, callbacks, logger.Nop(),
		func() time.Duration { return 0 }, func() bool { return false }) // VOD: not live
	defer eng.Destroy()

	require.NoError(t, eng.Init(context.Background(), []*manifest.Period{period}))

	waitFor(t, 3*time.Second, func() bool { return callbacks.errCount() > 0 })
}

func TestEngineSeekedClearsUnbufferedStates(t *testing.T) {
	buffer := mediabuffer.NewFakeEngine()
	require.NoError(t, buffer.AppendBuffer(context.Background(), manifest.StreamTypeVideo, []byte{1}, 0, 5*time.Second))

	video := segmentedStream("v0", manifest.StreamTypeVideo, "http://example.invalid/seg", 1, 10*time.Second)
	period := &manifest.Period{ID: "0", StartTime: 0, Variants: []*manifest.Variant{{ID: "v0", Video: video}}}
	variant := &manifest.Variant{ID: "v0", Video: video, AllowedByApplication: true, AllowedByKeySystem: true}
	callbacks := &fakeCallbacks{variant: variant}
	netEngine := netpkg.NewEngine(logger.Nop(), "test")

	eng := New(config.DefaultStreamingConfig(), config.DefaultRetryPolicy(), buffer, netEngine, &fakeABR{}, callbacks, logger.Nop(),
		func() time.Duration { return 20 * time.Second }, func() bool { return false })
	defer eng.Destroy()

	require.NoError(t, eng.Init(context.Background(), []*manifest.Period{period}))
	eng.Seeked()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, buffer.IsBuffered(manifest.StreamTypeVideo, 2*time.Second))
}
