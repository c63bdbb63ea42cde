package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcore/internal/errors"
)

func TestBusDispatchesToAllListeners(t *testing.T) {
	bus := NewBus()
	ch1, _ := bus.Listen(4)
	ch2, _ := bus.Listen(4)

	bus.Dispatch(Event{Type: TypeLoading})

	select {
	case ev := <-ch1:
		assert.Equal(t, TypeLoading, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("listener 1 did not receive event")
	}
	select {
	case ev := <-ch2:
		assert.Equal(t, TypeLoading, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("listener 2 did not receive event")
	}
}

func TestBusUnlistenStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, id := bus.Listen(4)
	bus.Unlisten(id)

	bus.Dispatch(Event{Type: TypeStreaming})

	_, open := <-ch
	assert.False(t, open)
}

func TestBusCloseStopsFurtherDispatch(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Listen(4)
	bus.Close()

	bus.Dispatch(Event{Type: TypeError, Err: errors.New(errors.CRITICAL, errors.CategoryPlayer, errors.CodeLoadInterrupted, "boom")})

	_, open := <-ch
	assert.False(t, open)
}

func TestBusSlowListenerDoesNotBlockDispatch(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Listen(1)

	bus.Dispatch(Event{Type: TypeBuffering, Buffering: true})
	bus.Dispatch(Event{Type: TypeBuffering, Buffering: false}) // dropped, buffer full

	ev := <-ch
	assert.True(t, ev.Buffering)
}

func TestLargeGapDetailPreventDefault(t *testing.T) {
	d := &LargeGapDetail{CurrentTime: 10 * time.Second, GapSize: 2 * time.Second}
	require.False(t, d.DefaultPrevented())
	d.PreventDefault()
	require.True(t, d.DefaultPrevented())
}

func TestListenAfterCloseReturnsClosedChannel(t *testing.T) {
	bus := NewBus()
	bus.Close()
	ch, _ := bus.Listen(1)
	_, open := <-ch
	assert.False(t, open)
}
