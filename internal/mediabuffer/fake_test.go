package mediabuffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/manifest"
)

func TestFakeEngineAppendAndRemove(t *testing.T) {
	ctx := context.Background()
	eng := NewFakeEngine()
	require.NoError(t, eng.AppendBuffer(ctx, manifest.StreamTypeVideo, []byte{1}, 0, 10*time.Second))
	assert.True(t, eng.IsBuffered(manifest.StreamTypeVideo, 5*time.Second))
	assert.Equal(t, 10*time.Second, eng.BufferEnd(manifest.StreamTypeVideo))

	require.NoError(t, eng.Remove(ctx, manifest.StreamTypeVideo, 0, 4*time.Second))
	assert.False(t, eng.IsBuffered(manifest.StreamTypeVideo, 2*time.Second))
	assert.True(t, eng.IsBuffered(manifest.StreamTypeVideo, 5*time.Second))
}

func TestFakeEngineQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	eng := NewFakeEngine()
	eng.QuotaFailuresRemaining = 2
	err := eng.AppendBuffer(ctx, manifest.StreamTypeAudio, []byte{1}, 0, time.Second)
	assert.Error(t, err)
	err = eng.AppendBuffer(ctx, manifest.StreamTypeAudio, []byte{1}, 0, time.Second)
	assert.Error(t, err)
	err = eng.AppendBuffer(ctx, manifest.StreamTypeAudio, []byte{1}, 0, time.Second)
	assert.NoError(t, err)
}

func TestFakeEngineEndOfStream(t *testing.T) {
	ctx := context.Background()
	eng := NewFakeEngine()
	require.NoError(t, eng.AppendBuffer(ctx, manifest.StreamTypeVideo, []byte{1}, 0, time.Second))
	require.NoError(t, eng.EndOfStream(ctx, ""))
	info := eng.GetBufferedInfo()
	assert.Len(t, info.Video, 1)
}
