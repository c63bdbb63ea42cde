package playhead

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"streamcore/internal/config"
)

type recordingObserver struct {
	gapCalls       int
	preventDefault bool
	bufferingCalls []bool
}

func (r *recordingObserver) OnLargeGap(currentTime, gapSize time.Duration) bool {
	r.gapCalls++
	return r.preventDefault
}

func (r *recordingObserver) OnBufferingStateChange(buffering bool) {
	r.bufferingCalls = append(r.bufferingCalls, buffering)
}

// TestSmallGapJumpsSilently reproduces spec §8 scenario 6: buffered
// [0,10) and [10.3,20), playhead at 10.0 -> silent jump to 10.3, no
// large_gap event, since the 0.3s gap is below small_gap_limit.
func TestSmallGapJumpsSilently(t *testing.T) {
	cfg := config.DefaultPlayheadConfig()
	obs := &recordingObserver{}
	p := New(cfg, obs, 10*time.Second)

	ranges := []Range{
		{Start: 0, End: 10 * time.Second},
		{Start: 10*time.Second + 300*time.Millisecond, End: 20 * time.Second},
	}
	p.CheckGap(ranges)

	assert.Equal(t, 10*time.Second+300*time.Millisecond, p.CurrentTime())
	assert.Zero(t, obs.gapCalls)
}

func TestLargeGapEmitsEventAndJumps(t *testing.T) {
	cfg := config.DefaultPlayheadConfig()
	obs := &recordingObserver{}
	p := New(cfg, obs, 10*time.Second)

	ranges := []Range{
		{Start: 0, End: 10 * time.Second},
		{Start: 15 * time.Second, End: 20 * time.Second},
	}
	p.CheckGap(ranges)

	assert.Equal(t, 1, obs.gapCalls)
	assert.Equal(t, 15*time.Second, p.CurrentTime())
}

func TestLargeGapPreventDefaultStalls(t *testing.T) {
	cfg := config.DefaultPlayheadConfig()
	obs := &recordingObserver{preventDefault: true}
	p := New(cfg, obs, 10*time.Second)

	ranges := []Range{
		{Start: 0, End: 10 * time.Second},
		{Start: 15 * time.Second, End: 20 * time.Second},
	}
	p.CheckGap(ranges)

	assert.Equal(t, 10*time.Second, p.CurrentTime())
}

func TestBufferingStateTransitions(t *testing.T) {
	cfg := config.DefaultPlayheadConfig()
	obs := &recordingObserver{}
	p := New(cfg, obs, 0)

	p.UpdateBufferingState(time.Second, 2*time.Second, false)
	assert.True(t, p.IsBuffering())

	p.UpdateBufferingState(3*time.Second, 2*time.Second, false)
	assert.False(t, p.IsBuffering())

	assert.Equal(t, []bool{true, false}, obs.bufferingCalls)
}

func TestBufferingStateEndedSuppressesBuffering(t *testing.T) {
	cfg := config.DefaultPlayheadConfig()
	obs := &recordingObserver{}
	p := New(cfg, obs, 0)

	p.UpdateBufferingState(0, 2*time.Second, true)
	assert.False(t, p.IsBuffering())
	assert.Empty(t, obs.bufferingCalls)
}
