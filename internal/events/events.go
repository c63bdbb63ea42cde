// Package events implements the typed event bus the player facade
// dispatches through (spec §6 Events). Events are small structs
// carrying a Type discriminant, delivered on a single buffered channel
// per listener, matching the teacher's preference for a concrete,
// inspectable value over an interface{} payload (internal/session's
// SessionEvent-by-struct style generalized from "one session's
// lifecycle" to the full event vocabulary the core surfaces).
package events

import (
	"sync"
	"time"

	"streamcore/internal/errors"
)

// Type discriminates the kind of event a Bus dispatches.
type Type int

const (
	TypeError Type = iota
	TypeBuffering
	TypeLoading
	TypeUnloading
	TypeStreaming
	TypeAdaptation
	TypeTracksChanged
	TypeTextTrackVisibility
	TypeExpirationUpdated
	TypeDRMSessionUpdate
	TypeTimelineRegionAdded
	TypeTimelineRegionEnter
	TypeTimelineRegionExit
	TypeLargeGap
	TypeEmsg
)

func (t Type) String() string {
	switch t {
	case TypeError:
		return "error"
	case TypeBuffering:
		return "buffering"
	case TypeLoading:
		return "loading"
	case TypeUnloading:
		return "unloading"
	case TypeStreaming:
		return "streaming"
	case TypeAdaptation:
		return "adaptation"
	case TypeTracksChanged:
		return "trackschanged"
	case TypeTextTrackVisibility:
		return "texttrackvisibility"
	case TypeExpirationUpdated:
		return "expirationupdated"
	case TypeDRMSessionUpdate:
		return "drmsessionupdate"
	case TypeTimelineRegionAdded:
		return "timelineregionadded"
	case TypeTimelineRegionEnter:
		return "timelineregionenter"
	case TypeTimelineRegionExit:
		return "timelineregionexit"
	case TypeLargeGap:
		return "largegap"
	case TypeEmsg:
		return "emsg"
	default:
		return "unknown"
	}
}

// TimelineRegionDetail is the payload of timelineregionadded/enter/exit.
type TimelineRegionDetail struct {
	SchemeIDURI string
	Value       string
	StartTime   time.Duration
	EndTime     time.Duration
	ID          string
}

// EmsgDetail is the payload of emsg.
type EmsgDetail struct {
	SchemeIDURI string
	Value       string
	MessageData []byte
}

// LargeGapDetail is the payload of largegap. It is cancellable: a
// listener calls PreventDefault() to stop the playhead from jumping
// even though jump_large_gaps is configured (spec §4.6).
type LargeGapDetail struct {
	CurrentTime time.Duration
	GapSize     time.Duration

	mu        sync.Mutex
	prevented bool
}

// PreventDefault suppresses the playhead's default gap-jump behavior
// for this occurrence.
func (d *LargeGapDetail) PreventDefault() {
	d.mu.Lock()
	d.prevented = true
	d.mu.Unlock()
}

// DefaultPrevented reports whether a listener called PreventDefault.
func (d *LargeGapDetail) DefaultPrevented() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prevented
}

// Event is the value dispatched to every listener. Only the field
// matching Type is meaningful; the rest are zero.
type Event struct {
	Type Type

	Err            *errors.StreamingError // TypeError
	Buffering      bool                   // TypeBuffering
	TimelineRegion TimelineRegionDetail   // TypeTimelineRegion{Added,Enter,Exit}
	Emsg           EmsgDetail             // TypeEmsg
	LargeGap       *LargeGapDetail        // TypeLargeGap
}

// Bus fans a sequence of Events out to every registered listener.
// Dispatch order within one Bus matches call order (spec §5 "events of
// the same kind from the same source are delivered in source order");
// cross-listener fan-out uses one buffered channel per listener so a
// slow listener cannot block another.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]chan Event
	nextID    int
	closed    bool
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]chan Event)}
}

// Listen registers a new listener and returns its channel and a
// deregistration token. The channel is closed when Close is called.
func (b *Bus) Listen(buffer int) (<-chan Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, id
	}
	b.listeners[id] = ch
	return ch, id
}

// Unlisten removes a listener registered via Listen.
func (b *Bus) Unlisten(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.listeners[id]; ok {
		delete(b.listeners, id)
		close(ch)
	}
}

// Dispatch sends ev to every current listener, dropping it for any
// listener whose buffer is full rather than blocking the dispatcher —
// a slow application listener must never stall the streaming engine.
func (b *Bus) Dispatch(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close stops dispatch and closes every listener channel. Safe to call
// more than once. After Close, no further event is dispatched (spec §8
// "after destroy(), no further event is dispatched").
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.listeners {
		delete(b.listeners, id)
		close(ch)
	}
}
