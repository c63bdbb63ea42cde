// Package streaming implements the streaming engine of spec §4.7: the
// per-content-type cooperative update cycle that keeps the media
// buffer fed, drives period transitions, variant/text switching,
// trick-play and seeks.
//
// New package — the teacher's closest analogue is
// internal/session.StreamSession/SessionManager, whose
// downloadLoop/playlistLoop/resultLoop goroutines driven by tickers and
// channels this generalizes into a single cooperative command loop per
// Engine (one goroutine draining a channel of closures) standing in for
// the spec's "single logical task queue," with per-content-type timers
// posting back onto that same channel instead of the teacher's fixed
// ticker cadence.
package streaming

import (
	"context"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"streamcore/internal/config"
	"streamcore/internal/errors"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	"streamcore/internal/mediabuffer"
	netpkg "streamcore/internal/net"
)

// infinite stands in for an open-ended period end (the last period, or
// a live presentation whose duration is still growing).
const infinite = time.Duration(math.MaxInt64)

// startFudge is the small (<0.1s) backward adjustment applied to a
// period's append-window start, so a segment starting exactly on the
// boundary is never rejected for falling just outside the window
// (spec §4.7.2 step 2).
const startFudge = 50 * time.Millisecond

// ABRController is the subset of abr.Controller the engine drives
// directly (disabled during period transitions per spec §4.7.2 step 6).
type ABRController interface {
	Enable()
	Disable()
	Enabled() bool
}

// Callbacks are the external collaborators the engine calls out to,
// mirroring spec §4.7.2's on_choose_streams/on_initial_streams_setup
// hooks.
type Callbacks interface {
	// OnChooseStreams is called once at Init for the first period and
	// again at every period transition; it returns the variant (and
	// optional text stream) to play for that period.
	OnChooseStreams(period *manifest.Period) (variant *manifest.Variant, text *manifest.Stream, err error)
	OnInitialStreamsSetup()
	OnError(err *errors.StreamingError)
}

// mediaState is the per-content-type state of spec §4.7.1.
type mediaState struct {
	streamType manifest.StreamType
	stream     *manifest.Stream

	lastSegmentRef *manifest.SegmentReference
	lastInitRef    *manifest.SegmentReference
	needsInit      bool

	clearBufferSafeMargin time.Duration
	performingUpdate      bool
	waitingToClearBuffer  bool
	recoveringFromDrift   bool
	timestampOffset       time.Duration
	endOfStream           bool
	streamEndWasReached   bool

	timer *time.Timer
}

type pendingSwitch struct {
	variant     *manifest.Variant
	text        *manifest.Stream
	clearBuffer bool
	safeMargin  time.Duration
}

// Engine is the streaming engine.
type Engine struct {
	cfg       config.StreamingConfig
	retry     config.RetryPolicy
	buffer    mediabuffer.Engine
	net       *netpkg.Engine
	abr       ABRController
	callbacks Callbacks
	log       logger.Logger
	playhead  func() time.Duration

	mu                sync.Mutex
	periods           []*manifest.Period
	periodIdx         int
	states            map[manifest.StreamType]*mediaState
	streamsByID       map[string]*manifest.Stream
	destroyed         bool
	inPeriodTransition bool
	deferred          *pendingSwitch
	isLive            func() bool

	commands chan func()
	stop     chan struct{}
	wg       sync.WaitGroup

	ended atomic.Bool
}

// New constructs an Engine. playhead reports the current presentation
// time; isLive reports whether the current presentation is live
// (consulted for the network-failure downgrade policy of spec §4.7.4).
func New(cfg config.StreamingConfig, retry config.RetryPolicy, buffer mediabuffer.Engine, net *netpkg.Engine, abr ABRController, callbacks Callbacks, log logger.Logger, playhead func() time.Duration, isLive func() bool) *Engine {
	e := &Engine{
		cfg:       cfg,
		retry:     retry,
		buffer:    buffer,
		net:       net,
		abr:       abr,
		callbacks: callbacks,
		log:       log,
		playhead:  playhead,
		isLive:    isLive,
		states:    make(map[manifest.StreamType]*mediaState),
		streamsByID: make(map[string]*manifest.Stream),
		commands:  make(chan func(), 64),
		stop:      make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case cmd := <-e.commands:
			cmd()
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) enqueue(f func()) {
	e.mu.Lock()
	destroyed := e.destroyed
	e.mu.Unlock()
	if destroyed {
		return
	}
	select {
	case e.commands <- f:
	case <-e.stop:
	}
}

// Init implements spec §4.7.2 step 1.
func (e *Engine) Init(ctx context.Context, periods []*manifest.Period) error {
	if len(periods) == 0 {
		return errors.New(errors.CRITICAL, errors.CategoryManifest, errors.CodeNoPeriods, "streaming engine initialized with no periods")
	}
	e.periods = periods
	e.periodIdx = 0
	e.ended.Store(false)
	first := periods[0]

	variant, text, err := e.callbacks.OnChooseStreams(first)
	if err != nil {
		return err
	}

	props := make(map[manifest.StreamType]mediabuffer.StreamProperties)
	if variant != nil && variant.Audio != nil {
		props[manifest.StreamTypeAudio] = mediabuffer.StreamProperties{MimeType: variant.Audio.MimeType, Codecs: variant.Audio.Codecs}
	}
	if variant != nil && variant.Video != nil {
		props[manifest.StreamTypeVideo] = mediabuffer.StreamProperties{MimeType: variant.Video.MimeType, Codecs: variant.Video.Codecs}
	}
	if text != nil {
		props[manifest.StreamTypeText] = mediabuffer.StreamProperties{MimeType: text.MimeType, Codecs: text.Codecs}
	}
	if err := e.buffer.Init(ctx, props); err != nil {
		return errors.Wrap(errors.CRITICAL, errors.CategoryMedia, errors.CodeMediaSourceOperationFailed, err)
	}

	e.indexStreams(periods)
	e.states = make(map[manifest.StreamType]*mediaState)
	if variant != nil && variant.Audio != nil {
		e.states[manifest.StreamTypeAudio] = &mediaState{streamType: manifest.StreamTypeAudio, stream: variant.Audio, needsInit: true, clearBufferSafeMargin: e.cfg.ClearBufferSafeMargin}
	}
	if variant != nil && variant.Video != nil {
		e.states[manifest.StreamTypeVideo] = &mediaState{streamType: manifest.StreamTypeVideo, stream: variant.Video, needsInit: true, clearBufferSafeMargin: e.cfg.ClearBufferSafeMargin}
	}
	if text != nil {
		e.states[manifest.StreamTypeText] = &mediaState{streamType: manifest.StreamTypeText, stream: text, needsInit: true, clearBufferSafeMargin: e.cfg.ClearBufferSafeMargin}
	}

	windowStart := first.StartTime - startFudge
	if windowStart < 0 {
		windowStart = 0
	}
	for t := range e.states {
		_ = e.buffer.SetStreamProperties(ctx, t, first.StartTime, windowStart, e.periodEnd())
	}

	e.callbacks.OnInitialStreamsSetup()

	for t := range e.states {
		t := t
		e.scheduleUpdate(t, 0)
	}
	return nil
}

func (e *Engine) indexStreams(periods []*manifest.Period) {
	for _, p := range periods {
		for _, v := range p.Variants {
			if v.Audio != nil {
				e.streamsByID[v.Audio.ID] = v.Audio
			}
			if v.Video != nil {
				e.streamsByID[v.Video.ID] = v.Video
			}
		}
		for _, ts := range p.TextStreams {
			e.streamsByID[ts.ID] = ts
		}
	}
}

// primary reports whether t is the content type that drives period
// boundary and timing decisions: video when present, else audio. Text
// never drives transitions (spec §4.7.2 treats video as the
// presentation's master clock, matching the teacher's session.go
// convention of tracking a single primary video AdaptationSet).
func (e *Engine) primary(t manifest.StreamType) bool {
	if _, ok := e.states[manifest.StreamTypeVideo]; ok {
		return t == manifest.StreamTypeVideo
	}
	return t == manifest.StreamTypeAudio
}

func (e *Engine) scheduleUpdate(t manifest.StreamType, delay time.Duration) {
	st, ok := e.states[t]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(delay, func() {
		e.enqueue(func() { e.updateState(t) })
	})
}

func (e *Engine) currentPeriod() *manifest.Period {
	return e.periods[e.periodIdx]
}

func (e *Engine) periodEnd() time.Duration {
	if e.periodIdx+1 < len(e.periods) {
		return e.periods[e.periodIdx+1].StartTime
	}
	return infinite
}

// updateState runs one iteration of the per-state cooperative cycle
// (spec §4.7.2 step 2).
func (e *Engine) updateState(t manifest.StreamType) {
	if e.destroyed {
		return
	}
	st, ok := e.states[t]
	if !ok || st.performingUpdate {
		return
	}
	if st.waitingToClearBuffer {
		e.performClear(st)
		return
	}
	if st.streamEndWasReached {
		e.maybeEndOfStream()
		return
	}

	period := e.currentPeriod()
	periodEnd := e.periodEnd()

	playhead := e.playhead()
	bufferedAhead := e.buffer.BufferedAheadOf(t, playhead)
	lookahead := e.cfg.BufferingGoal - bufferedAhead
	if lookahead <= 0 {
		// Buffered far enough ahead already; nothing to fetch this cycle.
		e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
		return
	}
	// Target the segment covering the current buffer frontier
	// (playhead + what's already buffered ahead of it), so each cycle
	// appends the next chronological segment rather than the one
	// sitting at the far edge of buffering_goal.
	target := playhead - period.StartTime + bufferedAhead

	pos, found := st.stream.FindSegmentPosition(target)
	if !found {
		if e.primary(t) && playhead+bufferedAhead >= periodEnd {
			e.advancePeriod()
			return
		}
		e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
		return
	}
	ref, ok := st.stream.GetSegmentReference(pos)
	if !ok {
		e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
		return
	}
	if st.lastSegmentRef != nil && ref.Position == st.lastSegmentRef.Position {
		ref, ok = st.stream.GetSegmentReference(pos + 1)
		if !ok {
			e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
			return
		}
	}
	// The segment's own presentation bounds, not the period-wide append
	// window, are what actually becomes buffered content; append_window
	// only clips samples falling outside the period and is conveyed to
	// the buffer separately via SetStreamProperties.
	appendStart := period.StartTime + ref.StartTime
	appendEnd := period.StartTime + ref.EndTime

	// Starvation guard (spec §4.7.3): don't let t get more than one
	// segment ahead of its slowest sibling content type's buffered
	// wall-clock time. Checked here, on the command loop, against the
	// segment about to be fetched so the comparison uses a real
	// duration rather than an estimate.
	if slowest, ok := e.slowestSiblingBufferedAhead(t, playhead); ok {
		segDur := ref.EndTime - ref.StartTime
		if bufferedAhead-slowest > segDur {
			e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
			return
		}
	}

	// Snapshot the mutable fields fetchAndAppend needs before handing
	// off to its own goroutine: st is also written by switchStream et
	// al. on this same command loop, and reading st.needsInit/
	// st.lastInitRef from the spawned goroutine without this snapshot
	// would race with those writes.
	needsInit := st.needsInit
	lastInitRef := st.lastInitRef

	st.performingUpdate = true
	go e.fetchAndAppend(t, st, ref, appendStart, appendEnd, playhead, needsInit, lastInitRef)
}

// slowestSiblingBufferedAhead returns the smallest BufferedAheadOf
// among content types other than t, implementing the cross-type
// starvation guard of spec §4.7.3. ok is false when t has no siblings
// (e.g. audio-only content), in which case no constraint applies.
func (e *Engine) slowestSiblingBufferedAhead(t manifest.StreamType, playhead time.Duration) (slowest time.Duration, ok bool) {
	for other := range e.states {
		if other == t {
			continue
		}
		ahead := e.buffer.BufferedAheadOf(other, playhead)
		if !ok || ahead < slowest {
			slowest = ahead
			ok = true
		}
	}
	return slowest, ok
}

// fetchAndAppend performs the blocking fetch/append work off the
// command loop, then re-enters it to mutate state, matching the spec's
// "awaited step, re-check destroyed" suspension-point discipline.
// needsInit/lastInitRef are snapshotted by the caller on the command
// loop rather than read from st here, since st is concurrently mutated
// by switchStream and friends on that same loop.
func (e *Engine) fetchAndAppend(t manifest.StreamType, st *mediaState, ref *manifest.SegmentReference, appendStart, appendEnd, playhead time.Duration, needsInit bool, lastInitRef *manifest.SegmentReference) {
	ctx := context.Background()

	if needsInit && ref.InitSegmentReference != nil && ref.InitSegmentReference != lastInitRef {
		initData, err := e.fetchSegment(ctx, ref.InitSegmentReference, netpkg.RequestTypeInitSegment)
		if err != nil {
			e.enqueue(func() { e.handleFetchError(t, st, err) })
			return
		}
		if err := e.buffer.AppendBuffer(ctx, t, initData, appendStart, appendEnd); err != nil {
			e.enqueue(func() { e.handleFetchError(t, st, errors.Wrap(errors.CRITICAL, errors.CategoryMedia, errors.CodeQuotaExceededError, err)) })
			return
		}
		e.enqueue(func() {
			st.lastInitRef = ref.InitSegmentReference
			st.needsInit = false
		})
	}

	data, err := e.fetchSegment(ctx, ref, netpkg.RequestTypeSegment)
	if err != nil {
		e.enqueue(func() { e.handleFetchError(t, st, err) })
		return
	}

	e.enqueue(func() {
		e.evictBeforeAppend(ctx, t, playhead)
		if err := e.appendWithQuotaRetry(ctx, t, data, appendStart, appendEnd, playhead); err != nil {
			st.performingUpdate = false
			e.callbacks.OnError(err.(*errors.StreamingError))
			return
		}
		st.lastSegmentRef = ref
		if _, nextOK := st.stream.GetSegmentReference(ref.Position + 1); !nextOK {
			if e.primary(t) && e.periodIdx+1 >= len(e.periods) {
				st.streamEndWasReached = true
				st.endOfStream = true
			}
		}
		st.performingUpdate = false

		newBufferedAhead := e.buffer.BufferedAheadOf(t, e.playhead())
		segDur := ref.EndTime - ref.StartTime
		delay := segDur - newBufferedAhead
		if delay < 0 {
			delay = 0
		}
		if delay > e.cfg.UpdateIntervalCap {
			delay = e.cfg.UpdateIntervalCap
		}
		e.scheduleUpdate(t, delay)
		if st.streamEndWasReached {
			e.maybeEndOfStream()
		}
	})
}

func (e *Engine) fetchSegment(ctx context.Context, ref *manifest.SegmentReference, reqType netpkg.RequestType) ([]byte, error) {
	headers := http.Header{}
	if ref.ByteRange != nil {
		headers.Set("Range", byteRangeHeader(ref.ByteRange))
	}
	resp, err := e.net.Request(ctx, netpkg.Request{
		Type:    reqType,
		URIs:    ref.ResolveURIs(),
		Method:  http.MethodGet,
		Headers: headers,
		Retry:   netpkg.RetryPolicy(e.retry),
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func byteRangeHeader(br *manifest.ByteRange) string {
	return "bytes=" + itoa(br.Start) + "-" + itoa(br.End)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// maybeEndOfStream schedules end_of_stream() once every state has
// reached EOS (spec §4.7.2 step 2).
func (e *Engine) maybeEndOfStream() {
	for _, st := range e.states {
		if !st.endOfStream {
			return
		}
	}
	_ = e.buffer.EndOfStream(context.Background(), "")
	e.ended.Store(true)
}

// Ended reports whether every content type has reached end of stream,
// for the playhead's buffering-state machine (spec §4.6: "ended" never
// counts as buffering even with nothing buffered ahead).
func (e *Engine) Ended() bool {
	return e.ended.Load()
}

// handleFetchError implements spec §4.7.4.
func (e *Engine) handleFetchError(t manifest.StreamType, st *mediaState, err error) {
	st.performingUpdate = false
	sErr, ok := err.(*errors.StreamingError)
	if !ok {
		sErr = errors.Wrap(errors.CRITICAL, errors.CategoryNetwork, errors.CodeHTTPError, err)
	}

	if sErr.Category == errors.CategoryNetwork && e.isLive != nil && e.isLive() && isRetriableNetworkCode(sErr.Code) {
		downgraded := sErr.Downgrade()
		e.callbacks.OnError(downgraded)
		e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
		return
	}

	if t == manifest.StreamTypeText && e.cfg.IgnoreTextStreamFailures {
		e.log.Warnf("ignoring text stream fetch failure: %v", sErr)
		e.scheduleUpdate(t, e.cfg.UpdateIntervalCap)
		return
	}

	e.callbacks.OnError(sErr)
	// Halt this state; other states continue independently.
}

func isRetriableNetworkCode(code errors.Code) bool {
	switch code {
	case errors.CodeBadHTTPStatus, errors.CodeHTTPError, errors.CodeTimeout:
		return true
	default:
		return false
	}
}

// evictBeforeAppend implements the back-pressure half of spec §4.7.3.
func (e *Engine) evictBeforeAppend(ctx context.Context, t manifest.StreamType, playhead time.Duration) {
	bufferedBehind := e.bufferedBehind(t, playhead)
	if bufferedBehind > e.cfg.BufferBehind {
		cut := playhead - e.cfg.BufferBehind
		if cut > 0 {
			_ = e.buffer.Remove(ctx, t, 0, cut)
		}
	}
}

func (e *Engine) bufferedBehind(t manifest.StreamType, playhead time.Duration) time.Duration {
	ranges := rangesFor(e.buffer.GetBufferedInfo(), t)
	earliest := playhead
	for _, r := range ranges {
		if r.Start <= playhead && r.Start < earliest {
			earliest = r.Start
		}
	}
	behind := playhead - earliest
	if behind < 0 {
		behind = 0
	}
	return behind
}

func rangesFor(info mediabuffer.BufferedInfo, t manifest.StreamType) []mediabuffer.Range {
	switch t {
	case manifest.StreamTypeAudio:
		return info.Audio
	case manifest.StreamTypeVideo:
		return info.Video
	default:
		return info.Text
	}
}

// appendWithQuotaRetry implements the eviction-and-retry half of spec
// §4.7.3: on a quota-exceeded append, shrink the effective buffer_behind
// by QuotaBackoffFactor and retry, surfacing QUOTA_EXCEEDED_ERROR once
// the first append and all MaxQuotaRetries retries have failed.
func (e *Engine) appendWithQuotaRetry(ctx context.Context, t manifest.StreamType, data []byte, windowStart, windowEnd, playhead time.Duration) error {
	backoff := e.cfg.BufferBehind
	for attempt := 0; ; attempt++ {
		err := e.buffer.AppendBuffer(ctx, t, data, windowStart, windowEnd)
		if err == nil {
			return nil
		}
		if attempt >= e.cfg.MaxQuotaRetries {
			return errors.Wrap(errors.CRITICAL, errors.CategoryMedia, errors.CodeQuotaExceededError, err)
		}
		backoff = time.Duration(float64(backoff) * e.cfg.QuotaBackoffFactor)
		cut := playhead - backoff
		if cut > 0 {
			_ = e.buffer.Remove(ctx, t, 0, cut)
		}
	}
}

// advancePeriod implements spec §4.7.2 step 2's period-transition branch.
func (e *Engine) advancePeriod() {
	if e.periodIdx+1 >= len(e.periods) {
		for _, st := range e.states {
			st.streamEndWasReached = true
			st.endOfStream = true
		}
		e.maybeEndOfStream()
		return
	}

	wasEnabled := e.abr != nil && e.abr.Enabled()
	e.inPeriodTransition = true
	if e.abr != nil {
		e.abr.Disable()
	}

	next := e.periods[e.periodIdx+1]
	variant, text, err := e.callbacks.OnChooseStreams(next)
	if err != nil {
		e.callbacks.OnError(errors.Wrap(errors.CRITICAL, errors.CategoryManifest, errors.CodeUnplayablePeriod, err))
		e.inPeriodTransition = false
		return
	}
	e.periodIdx++

	if variant != nil && variant.Audio != nil {
		if st, ok := e.states[manifest.StreamTypeAudio]; ok {
			st.stream = variant.Audio
			st.needsInit = true
			st.lastSegmentRef = nil
		}
	}
	if variant != nil && variant.Video != nil {
		if st, ok := e.states[manifest.StreamTypeVideo]; ok {
			st.stream = variant.Video
			st.needsInit = true
			st.lastSegmentRef = nil
		}
	}
	if st, ok := e.states[manifest.StreamTypeText]; ok {
		if text != nil {
			st.stream = text
		}
		st.needsInit = true
		st.lastSegmentRef = nil
	}

	windowEnd := e.periodEnd()
	for t, st := range e.states {
		st.timestampOffset = next.StartTime
		_ = e.buffer.SetStreamProperties(context.Background(), t, next.StartTime, next.StartTime, windowEnd)
	}

	e.inPeriodTransition = false
	if wasEnabled && e.abr != nil {
		e.abr.Enable()
	}

	e.flushDeferredSwitch()
	for t := range e.states {
		t := t
		e.scheduleUpdate(t, 0)
	}
}

func (e *Engine) flushDeferredSwitch() {
	if e.deferred == nil {
		return
	}
	pending := e.deferred
	e.deferred = nil
	e.doSwitchVariant(pending.variant, pending.clearBuffer, pending.safeMargin)
	if pending.text != nil {
		e.doSwitchTextStream(pending.text)
	}
}

// SwitchVariant implements spec §4.7.2 step 3.
func (e *Engine) SwitchVariant(variant *manifest.Variant, clearBuffer bool, safeMargin time.Duration) {
	e.enqueue(func() {
		if e.inPeriodTransition {
			if e.deferred == nil {
				e.deferred = &pendingSwitch{}
			}
			e.deferred.variant = variant
			e.deferred.clearBuffer = clearBuffer
			e.deferred.safeMargin = safeMargin
			return
		}
		e.doSwitchVariant(variant, clearBuffer, safeMargin)
	})
}

func (e *Engine) doSwitchVariant(variant *manifest.Variant, clearBuffer bool, safeMargin time.Duration) {
	if variant == nil {
		return
	}
	e.switchStream(manifest.StreamTypeAudio, variant.Audio, clearBuffer, safeMargin)
	e.switchStream(manifest.StreamTypeVideo, variant.Video, clearBuffer, safeMargin)
}

// SwitchTextStream implements spec §4.7.2 step 3's text counterpart.
func (e *Engine) SwitchTextStream(stream *manifest.Stream) {
	e.enqueue(func() {
		if e.inPeriodTransition {
			if e.deferred == nil {
				e.deferred = &pendingSwitch{}
			}
			e.deferred.text = stream
			return
		}
		e.doSwitchTextStream(stream)
	})
}

func (e *Engine) doSwitchTextStream(stream *manifest.Stream) {
	e.switchStream(manifest.StreamTypeText, stream, false, 0)
}

func (e *Engine) switchStream(t manifest.StreamType, stream *manifest.Stream, clearBuffer bool, safeMargin time.Duration) {
	if stream == nil {
		return
	}
	st, ok := e.states[t]
	if !ok {
		return
	}
	if st.stream != nil && st.stream.ID == stream.ID {
		return
	}
	st.stream = stream
	st.needsInit = true
	if clearBuffer {
		st.waitingToClearBuffer = true
		st.clearBufferSafeMargin = safeMargin
	} else {
		e.scheduleUpdate(t, 0)
	}
}

// performClear runs a pending clear-then-reinit triggered by
// switch_variant(clear_buffer=true) or set_trick_play(off).
func (e *Engine) performClear(st *mediaState) {
	st.waitingToClearBuffer = false
	t := st.streamType
	playhead := e.playhead()
	cutFrom := playhead + st.clearBufferSafeMargin
	go func() {
		ctx := context.Background()
		_ = e.buffer.Remove(ctx, t, cutFrom, infinite)
		if t == manifest.StreamTypeText {
			_ = e.buffer.ReinitText(st.stream.MimeType)
		}
		e.enqueue(func() {
			st.lastSegmentRef = nil
			e.scheduleUpdate(t, 0)
		})
	}()
}

// SetTrickPlay implements spec §4.7.2 step 4.
func (e *Engine) SetTrickPlay(on bool, normalVariant *manifest.Variant) {
	e.enqueue(func() {
		videoState, ok := e.states[manifest.StreamTypeVideo]
		if !ok {
			return
		}
		if on {
			if videoState.stream == nil || videoState.stream.TrickModeVideo == "" {
				return
			}
			trick, found := e.streamsByID[videoState.stream.TrickModeVideo]
			if !found {
				return
			}
			videoState.stream = trick
			videoState.needsInit = true
			videoState.lastSegmentRef = nil
			e.scheduleUpdate(manifest.StreamTypeVideo, 0)
			return
		}
		if normalVariant == nil || normalVariant.Video == nil {
			return
		}
		videoState.stream = normalVariant.Video
		videoState.needsInit = true
		videoState.waitingToClearBuffer = true
		videoState.clearBufferSafeMargin = 0
	})
}

// Seeked implements spec §4.7.2 step 5.
func (e *Engine) Seeked() {
	e.enqueue(func() {
		playhead := e.playhead()
		anyBuffered := false
		allBuffered := true
		for t, st := range e.states {
			if e.buffer.IsBuffered(t, playhead) {
				anyBuffered = true
			} else {
				allBuffered = false
			}
			_ = st
		}

		ctx := context.Background()
		for t, st := range e.states {
			if !anyBuffered || (!allBuffered && !e.buffer.IsBuffered(t, playhead)) {
				_ = e.buffer.Clear(ctx, t)
				st.lastSegmentRef = nil
				st.needsInit = true
			}
		}
		for t := range e.states {
			e.scheduleUpdate(t, 0)
		}
	})
}

// Destroy stops the command loop and every pending timer. It is safe
// to call more than once.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.mu.Unlock()

	for _, st := range e.states {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	close(e.stop)
	e.wg.Wait()
}
