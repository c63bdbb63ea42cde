package drm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/config"
	"streamcore/internal/errors"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	netpkg "streamcore/internal/net"
)

type recordingDRMObserver struct {
	statusesCh chan map[string]KeyStatus
	expiredCh  chan struct{}
}

func newRecordingDRMObserver() *recordingDRMObserver {
	return &recordingDRMObserver{
		statusesCh: make(chan map[string]KeyStatus, 8),
		expiredCh:  make(chan struct{}, 8),
	}
}

func (o *recordingDRMObserver) OnKeyStatusesChanged(s map[string]KeyStatus) { o.statusesCh <- s }
func (o *recordingDRMObserver) OnExpired()                                 { o.expiredCh <- struct{}{} }
func (o *recordingDRMObserver) OnError(err *errors.StreamingError)          {}
func (o *recordingDRMObserver) OnSessionUpdate()                           {}

func TestOrchestratorWidevineLicenseRoundTrip(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = buf
		w.Write([]byte("license-bytes"))
	}))
	defer srv.Close()

	cfg := config.DefaultDRMConfig()
	platform := NewFakePlatform("com.widevine.alpha")
	engine := netpkg.NewEngine(logger.Nop(), "test")
	obs := newRecordingDRMObserver()

	orch := New(cfg, platform, engine, logger.Nop(), nil, obs, func() bool { return false })

	variant := &manifest.Variant{
		ID: "v0",
		DrmInfos: []manifest.DrmInfo{
			{
				KeySystem:         "com.widevine.alpha",
				LicenseServerURI: srv.URL,
				InitData:          []manifest.InitData{{Bytes: []byte{1, 2, 3, 4}, Type: "cenc", KeyID: "aabbccdd"}},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := orch.Initialize(ctx, []*manifest.Variant{variant})
	require.NoError(t, err)

	select {
	case statuses := <-obs.statusesCh:
		assert.NotEmpty(t, statuses)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for key status update")
	}
	assert.Contains(t, string(gotBody), "request:")
	assert.Equal(t, "com.widevine.alpha", orch.KeySystem())
}

func TestOrchestratorNoLicenseServerConfigured(t *testing.T) {
	cfg := config.DefaultDRMConfig()
	platform := NewFakePlatform("com.widevine.alpha")
	engine := netpkg.NewEngine(logger.Nop(), "test")
	obs := newRecordingDRMObserver()
	orch := New(cfg, platform, engine, logger.Nop(), nil, obs, nil)

	variant := &manifest.Variant{
		ID: "v0",
		DrmInfos: []manifest.DrmInfo{
			{KeySystem: "com.widevine.alpha", InitData: []manifest.InitData{{Bytes: []byte{1}, KeyID: "ab"}}},
		},
	}

	err := orch.Initialize(context.Background(), []*manifest.Variant{variant})
	require.Error(t, err)
}

func TestOrchestratorClearKeySynthesis(t *testing.T) {
	cfg := config.DefaultDRMConfig()
	cfg.ClearKeys = map[string]string{
		"aabbccdd00112233aabbccdd00112233": "00112233445566778899aabbccddeeff",
	}
	platform := NewFakePlatform(clearKeySystem)
	engine := netpkg.NewEngine(logger.Nop(), "test")
	obs := newRecordingDRMObserver()
	orch := New(cfg, platform, engine, logger.Nop(), nil, obs, nil)

	err := orch.Initialize(context.Background(), nil)
	require.NoError(t, err)

	select {
	case statuses := <-obs.statusesCh:
		assert.NotEmpty(t, statuses)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for clear-key status update")
	}
	assert.Equal(t, clearKeySystem, orch.KeySystem())
}

func TestOrchestratorDestroyIsIdempotent(t *testing.T) {
	cfg := config.DefaultDRMConfig()
	platform := NewFakePlatform("com.widevine.alpha")
	engine := netpkg.NewEngine(logger.Nop(), "test")
	orch := New(cfg, platform, engine, logger.Nop(), nil, nil, nil)

	require.NoError(t, orch.Destroy(context.Background()))
	require.NoError(t, orch.Destroy(context.Background()))
}
