// Package player implements the thin player facade of spec §4.8: it
// owns configuration, wires the collaborators (manifest parser,
// timeline, streaming engine, ABR controller, DRM orchestrator,
// playhead) and exposes the public surface of spec §6.
//
// Generalizes the teacher's cmd/server/main.go wiring sequence (parse
// config -> build logger -> build client -> build key service -> build
// session manager -> build router -> serve -> graceful shutdown on
// signal) into Load/Unload/Destroy, keeping the same "construct
// collaborators once, tear them down on shutdown" shape.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"streamcore/internal/abr"
	"streamcore/internal/config"
	"streamcore/internal/drm"
	"streamcore/internal/errors"
	"streamcore/internal/events"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	"streamcore/internal/mediabuffer"
	netpkg "streamcore/internal/net"
	"streamcore/internal/playhead"
	"streamcore/internal/streaming"
	"streamcore/internal/timeline"
)

// Stats tracks the playback counters of spec §4.8.
type Stats struct {
	PlayTime          time.Duration
	BufferingTime     time.Duration
	LoadLatency       time.Duration
	SwitchHistory     []SwitchEvent
	StateHistory      []StateEvent
	DecodedFrames     int64
	DroppedFrames     int64
	EstimatedBandwidth float64
}

// SwitchEvent records one variant switch for Stats.SwitchHistory.
type SwitchEvent struct {
	Timestamp time.Time
	VariantID string
	Bandwidth int
}

// StateEvent records one buffering/playing state transition.
type StateEvent struct {
	Timestamp time.Time
	State     string
}

// LoadOptions configures a Load call.
type LoadOptions struct {
	StartTime     *time.Duration
	ParserFactory func() manifest.Parser
}

// Player is the facade the host application drives.
type Player struct {
	buildParser func(uri string) manifest.Parser
	buffer      mediabuffer.Engine
	drmPlatform drm.Platform
	clearKeys   drm.ClearKeyResolver
	log         logger.Logger
	bus         *events.Bus

	mu            sync.Mutex
	cfg           config.PlayerConfiguration
	netEngine     *netpkg.Engine
	abrController *abr.Controller
	drmOrch       *drm.Orchestrator
	streamEngine  *streaming.Engine
	timelineObj   *timeline.PresentationTimeline
	playheadObj   *playhead.Playhead
	parser        manifest.Parser
	presentation  *manifest.Presentation
	manifestURI   string

	selectedAudioLang string
	selectedAudioRole string
	selectedTextLang  string
	explicitVariant   *manifest.Variant
	selectedText      *manifest.Stream
	textVisible       bool
	trickRate         float64
	paused            bool

	loadGeneration int
	loadCancel     context.CancelFunc

	stats Stats
}

// New constructs a Player. buffer and drmPlatform are the host's
// platform collaborators (spec §6); buildParser selects a Parser for a
// given manifest URI (e.g. by extension) when LoadOptions.ParserFactory
// is not supplied.
func New(cfg config.PlayerConfiguration, buffer mediabuffer.Engine, drmPlatform drm.Platform, clearKeys drm.ClearKeyResolver, log logger.Logger, buildParser func(uri string) manifest.Parser) *Player {
	return &Player{
		buildParser: buildParser,
		buffer:      buffer,
		drmPlatform: drmPlatform,
		clearKeys:   clearKeys,
		log:         log,
		bus:         events.NewBus(),
		cfg:         cfg,
		netEngine:   netpkg.NewEngine(log, cfg.UserAgent),
	}
}

// Events returns a channel of events (spec §6 Events), deregistered
// with Unlisten when the caller is done.
func (p *Player) Events(buffer int) (<-chan events.Event, int) {
	return p.bus.Listen(buffer)
}

// Unlisten deregisters a listener returned by Events.
func (p *Player) Unlisten(id int) { p.bus.Unlisten(id) }

// Configure deep-merges a partial configuration (spec §6 configure).
func (p *Player) Configure(patch config.Patch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Merge(patch)
}

// GetConfiguration returns the current effective configuration.
func (p *Player) GetConfiguration() config.PlayerConfiguration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// ResetConfiguration restores the factory defaults.
func (p *Player) ResetConfiguration() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = config.Default()
}

// Load implements spec §4.8's cancellable load chain: any of destroy,
// unload or a new load cancels the in-flight chain with
// LOAD_INTERRUPTED, propagated to the parser and network layer in
// parallel rather than sequentially.
func (p *Player) Load(ctx context.Context, uri string, opts LoadOptions) error {
	start := time.Now()

	p.mu.Lock()
	p.cancelLoadLocked()
	loadCtx, cancel := context.WithCancel(ctx)
	p.loadGeneration++
	generation := p.loadGeneration
	p.loadCancel = cancel
	cfg := p.cfg
	p.mu.Unlock()

	p.bus.Dispatch(events.Event{Type: events.TypeLoading})

	var parser manifest.Parser
	if opts.ParserFactory != nil {
		parser = opts.ParserFactory()
	} else if p.buildParser != nil {
		parser = p.buildParser(uri)
	}
	if parser == nil {
		cancel()
		return errors.New(errors.CRITICAL, errors.CategoryPlayer, errors.CodeNoParserAvailable, "no parser available for uri")
	}
	parser.Configure(manifest.ParserConfig{ManifestURI: uri, UserAgent: cfg.UserAgent, Retry: netpkg.RetryPolicy(cfg.Retry)})

	presentation, err := parser.Start(loadCtx, uri, &playerInterface{p: p, net: p.netEngine})
	if err != nil {
		cancel()
		if loadCtx.Err() != nil {
			return errors.LoadInterrupted()
		}
		return err
	}

	if err := p.supersededLocked(generation); err != nil {
		cancel()
		return err
	}

	p.netEngine.AddObserver(func(deltaMs, numBytes int64) {
		p.mu.Lock()
		abrCtrl := p.abrController
		p.mu.Unlock()
		if abrCtrl != nil {
			abrCtrl.SegmentDownloaded(deltaMs, numBytes)
		}
	})

	if len(presentation.Periods) == 0 {
		cancel()
		return errors.New(errors.CRITICAL, errors.CategoryManifest, errors.CodeNoPeriods, "presentation has no periods")
	}

	tl := timeline.New(!presentation.IsLive)

	abrCtrl := abr.New(cfg.ABR, time.Now)
	drmOrch := drm.New(cfg.DRM, p.drmPlatform, p.netEngine, p.log, p.clearKeys, &drmObserver{p: p}, func() bool { return p.isPaused() })

	requestedStart := time.Duration(0)
	if opts.StartTime != nil {
		requestedStart = *opts.StartTime
	}
	// start_at_segment_boundary (spec §4.6) needs the streams the first
	// period will actually play, so resolve the initial variant here
	// rather than waiting for the streaming engine's own on_choose_streams
	// (which runs later, inside engine.Init).
	resolvedStart := requestedStart
	if initialVariant, _, err := p.chooseStreamsForPeriod(presentation.Periods[0], abrCtrl); err == nil && initialVariant != nil {
		resolvedStart = playhead.ResolveStartTime(cfg.Playhead, requestedStart, initialVariant.Audio, initialVariant.Video)
	}

	engine := streaming.New(cfg.Streaming, cfg.Retry, p.buffer, p.netEngine, abrCtrl, &streamingCallbacks{p: p}, p.log,
		func() time.Duration { return p.currentTime() }, func() bool { return tl.IsLive() })

	ph := playhead.New(cfg.Playhead, &gapObserver{p: p}, resolvedStart)

	p.mu.Lock()
	if gen := p.loadGeneration; gen != generation {
		p.mu.Unlock()
		cancel()
		return errors.LoadInterrupted()
	}
	p.parser = parser
	p.presentation = presentation
	p.manifestURI = uri
	p.timelineObj = tl
	p.abrController = abrCtrl
	p.drmOrch = drmOrch
	p.streamEngine = engine
	p.playheadObj = ph
	p.mu.Unlock()

	var allVariants []*manifest.Variant
	for _, per := range presentation.Periods {
		allVariants = append(allVariants, per.Variants...)
	}
	if err := drmOrch.Initialize(loadCtx, allVariants); err != nil {
		if sErr, ok := err.(*errors.StreamingError); ok && hasEncryptedContent(allVariants) {
			p.bus.Dispatch(events.Event{Type: events.TypeError, Err: sErr})
		}
	}

	if sErr := encryptedContentWithoutDrmInfo(allVariants); sErr != nil {
		p.bus.Dispatch(events.Event{Type: events.TypeError, Err: sErr})
	}

	abrCtrl.SetVariants(presentation.Periods[0].Variants)
	if err := engine.Init(loadCtx, presentation.Periods); err != nil {
		cancel()
		return err
	}

	p.mu.Lock()
	p.stats.LoadLatency = time.Since(start)
	p.mu.Unlock()

	go p.runPlayheadLoop(loadCtx, generation, ph, engine)

	p.bus.Dispatch(events.Event{Type: events.TypeStreaming})
	return nil
}

// playheadPollInterval is how often runPlayheadLoop re-checks buffered
// state, matching the teacher's session-timescale tick cadence.
const playheadPollInterval = 250 * time.Millisecond

// runPlayheadLoop drives the playhead's gap-detection and
// buffering-state machine (spec §4.6) against the buffer's current
// state, until loadCtx is cancelled by Unload/Destroy/a newer Load.
func (p *Player) runPlayheadLoop(loadCtx context.Context, generation int, ph *playhead.Playhead, engine *streaming.Engine) {
	ticker := time.NewTicker(playheadPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-loadCtx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			stillCurrent := p.loadGeneration == generation
			rebufferingGoal := p.cfg.Streaming.RebufferingGoal
			audioOnly := p.isAudioOnlyLocked()
			p.mu.Unlock()
			if !stillCurrent {
				return
			}

			t := manifest.StreamTypeVideo
			info := p.buffer.GetBufferedInfo()
			ranges := info.Video
			if audioOnly {
				t = manifest.StreamTypeAudio
				ranges = info.Audio
			}
			ph.CheckGap(toPlayheadRanges(ranges))

			bufferedAhead := p.buffer.BufferedAheadOf(t, ph.CurrentTime())
			ph.UpdateBufferingState(bufferedAhead, rebufferingGoal, engine.Ended())
		}
	}
}

func toPlayheadRanges(ranges []mediabuffer.Range) []playhead.Range {
	out := make([]playhead.Range, len(ranges))
	for i, r := range ranges {
		out[i] = playhead.Range{Start: r.Start, End: r.End}
	}
	return out
}

func hasEncryptedContent(variants []*manifest.Variant) bool {
	for _, v := range variants {
		if len(v.DrmInfos) > 0 {
			return true
		}
	}
	return false
}

// encryptedContentWithoutDrmInfo implements spec §4.4's
// ENCRYPTED_CONTENT_WITHOUT_DRM_INFO check: a variant whose audio or
// video stream is marked Encrypted by the manifest parser but carries
// no DrmInfos at all has nothing the DRM orchestrator could ever have
// initialized a session from.
func encryptedContentWithoutDrmInfo(variants []*manifest.Variant) *errors.StreamingError {
	for _, v := range variants {
		if len(v.DrmInfos) > 0 {
			continue
		}
		if (v.Audio != nil && v.Audio.Encrypted) || (v.Video != nil && v.Video.Encrypted) {
			return errors.New(errors.CRITICAL, errors.CategoryDRM, errors.CodeEncryptedContentWithoutDrmInfo,
				"variant "+v.ID+" has encrypted streams but no drm_infos")
		}
	}
	return nil
}

// supersededLocked reports LOAD_INTERRUPTED if a newer load has begun
// since generation was captured.
func (p *Player) supersededLocked(generation int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadGeneration != generation {
		return errors.LoadInterrupted()
	}
	return nil
}

// cancelLoadLocked cancels any in-flight load. Caller holds p.mu.
func (p *Player) cancelLoadLocked() {
	if p.loadCancel != nil {
		p.loadCancel()
		p.loadCancel = nil
	}
}

// Unload tears down the current load's collaborators, cancelling the
// parser and network layer in parallel rather than sequentially (spec
// §4.8).
func (p *Player) Unload(ctx context.Context) error {
	p.mu.Lock()
	p.cancelLoadLocked()
	p.loadGeneration++
	parser := p.parser
	engine := p.streamEngine
	drmOrch := p.drmOrch
	p.parser = nil
	p.presentation = nil
	p.streamEngine = nil
	p.drmOrch = nil
	p.timelineObj = nil
	p.playheadObj = nil
	p.mu.Unlock()

	p.bus.Dispatch(events.Event{Type: events.TypeUnloading})

	g, gctx := errgroup.WithContext(ctx)
	if parser != nil {
		g.Go(func() error { return parser.Stop(gctx) })
	}
	if engine != nil {
		g.Go(func() error { engine.Destroy(); return nil })
	}
	if drmOrch != nil {
		g.Go(func() error { return drmOrch.Destroy(gctx) })
	}
	return g.Wait()
}

// Destroy tears down the player permanently; idempotent (spec §5).
func (p *Player) Destroy(ctx context.Context) error {
	if err := p.Unload(ctx); err != nil {
		p.log.Warnf("error during destroy's unload: %v", err)
	}
	p.bus.Close()
	return nil
}

func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) currentTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playheadObj == nil {
		return 0
	}
	return p.playheadObj.CurrentTime()
}

// GetVariantTracks returns every variant in the currently active
// period (spec §6).
func (p *Player) GetVariantTracks() []*manifest.Variant {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.presentation == nil || len(p.presentation.Periods) == 0 {
		return nil
	}
	return p.presentation.Periods[0].Variants
}

// GetTextTracks returns every text stream in the currently active period.
func (p *Player) GetTextTracks() []*manifest.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.presentation == nil || len(p.presentation.Periods) == 0 {
		return nil
	}
	return p.presentation.Periods[0].TextStreams
}

// SelectVariantTrack pins playback to a specific variant, disabling ABR
// until the next Load (spec §6 select_variant_track).
func (p *Player) SelectVariantTrack(v *manifest.Variant, clearBuffer bool) {
	p.mu.Lock()
	p.explicitVariant = v
	abrCtrl := p.abrController
	engine := p.streamEngine
	safeMargin := p.cfg.Streaming.ClearBufferSafeMargin
	p.mu.Unlock()
	if abrCtrl != nil {
		abrCtrl.Disable()
	}
	if engine != nil {
		engine.SwitchVariant(v, clearBuffer, safeMargin)
	}
	p.mu.Lock()
	p.stats.SwitchHistory = append(p.stats.SwitchHistory, SwitchEvent{Timestamp: time.Now(), VariantID: v.ID, Bandwidth: v.Bandwidth})
	p.mu.Unlock()
}

// SelectTextTrack switches the active text stream.
func (p *Player) SelectTextTrack(s *manifest.Stream) {
	p.mu.Lock()
	p.selectedText = s
	engine := p.streamEngine
	p.mu.Unlock()
	if engine != nil {
		engine.SwitchTextStream(s)
	}
}

// SelectAudioLanguage records the preferred audio language/role,
// applied at the next period transition's on_choose_streams.
func (p *Player) SelectAudioLanguage(lang, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectedAudioLang = lang
	p.selectedAudioRole = role
}

// SelectTextLanguage records the preferred text language; role is
// accepted but not stored.
func (p *Player) SelectTextLanguage(lang, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectedTextLang = lang
}

// SetTextTrackVisibility toggles whether the selected text track renders.
func (p *Player) SetTextTrackVisibility(on bool) {
	p.mu.Lock()
	p.textVisible = on
	p.mu.Unlock()
	p.bus.Dispatch(events.Event{Type: events.TypeTextTrackVisibility})
}

// IsTextTrackVisible reports the current text-track visibility.
func (p *Player) IsTextTrackVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textVisible
}

// TrickPlay switches to trick-mode playback at the given rate.
func (p *Player) TrickPlay(rate float64, normalVariant *manifest.Variant) {
	p.mu.Lock()
	p.trickRate = rate
	engine := p.streamEngine
	p.mu.Unlock()
	if engine != nil {
		engine.SetTrickPlay(rate != 1, normalVariant)
	}
}

// CancelTrickPlay returns to normal-rate playback.
func (p *Player) CancelTrickPlay(normalVariant *manifest.Variant) {
	p.TrickPlay(1, normalVariant)
}

// GetPlaybackRate returns the current trick-play rate (1 = normal).
func (p *Player) GetPlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.trickRate == 0 {
		return 1
	}
	return p.trickRate
}

// Seeked notifies the core that the playhead moved, re-evaluating
// buffered state for every content type (spec §4.7.2 step 5).
func (p *Player) Seeked(to time.Duration) {
	p.mu.Lock()
	if p.playheadObj != nil {
		p.playheadObj.SetCurrentTime(to)
	}
	engine := p.streamEngine
	p.mu.Unlock()
	if engine != nil {
		engine.Seeked()
	}
}

// SeekRange returns the current seekable interval (spec §6 seek_range).
func (p *Player) SeekRange() (time.Duration, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timelineObj == nil {
		return 0, 0
	}
	return p.timelineObj.SeekRange()
}

// IsLive reports whether the current presentation is live.
func (p *Player) IsLive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timelineObj != nil && p.timelineObj.IsLive()
}

// IsInProgress reports whether this is a live event with a known but
// still-growing duration.
func (p *Player) IsInProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timelineObj != nil && p.timelineObj.IsInProgress()
}

// IsAudioOnly reports whether the active period has no video streams.
func (p *Player) IsAudioOnly() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isAudioOnlyLocked()
}

// isAudioOnlyLocked is IsAudioOnly's body, callable by runPlayheadLoop
// which already holds p.mu when it needs this. Caller holds p.mu.
func (p *Player) isAudioOnlyLocked() bool {
	if p.presentation == nil || len(p.presentation.Periods) == 0 {
		return false
	}
	for _, v := range p.presentation.Periods[0].Variants {
		if v.Video != nil {
			return false
		}
	}
	return true
}

// IsBuffering reports the playhead's current buffering state.
func (p *Player) IsBuffering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playheadObj != nil && p.playheadObj.IsBuffering()
}

// GetBufferedInfo returns the current buffered ranges per content type.
func (p *Player) GetBufferedInfo() mediabuffer.BufferedInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffer == nil {
		return mediabuffer.BufferedInfo{}
	}
	return p.buffer.GetBufferedInfo()
}

// GetStats returns a snapshot of the playback statistics.
func (p *Player) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abrController != nil {
		p.stats.EstimatedBandwidth = p.abrController.GetBandwidthEstimate()
	}
	return p.stats
}

// KeySystem returns the active DRM key system, or "" if unencrypted.
func (p *Player) KeySystem() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drmOrch == nil {
		return ""
	}
	return p.drmOrch.KeySystem()
}

// DRMInfo returns the aggregated per-key status map.
func (p *Player) DRMInfo() map[string]drm.KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drmOrch == nil {
		return nil
	}
	return p.drmOrch.KeyStatuses()
}

// GetExpiration reports whether any key has transitioned to EXPIRED.
// The platform CDM contract carries no wall-clock expiration timestamp,
// only key-status transitions, so that's what this surfaces.
func (p *Player) GetExpiration() (expired bool) {
	for _, status := range p.DRMInfo() {
		if status == drm.KeyStatusExpired {
			return true
		}
	}
	return false
}

// RetryStreaming re-initiates the streaming engine after a halted
// subsystem failure, returning false if there is no active load to retry.
func (p *Player) RetryStreaming() bool {
	p.mu.Lock()
	engine := p.streamEngine
	presentation := p.presentation
	p.mu.Unlock()
	if engine == nil || presentation == nil {
		return false
	}
	return engine.Init(context.Background(), presentation.Periods) == nil
}

// GetManifestURI returns the URI most recently passed to Load.
func (p *Player) GetManifestURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manifestURI
}

// streamingCallbacks adapts the Player to streaming.Callbacks.
type streamingCallbacks struct {
	p *Player
}

func (c *streamingCallbacks) OnChooseStreams(period *manifest.Period) (*manifest.Variant, *manifest.Stream, error) {
	p := c.p
	p.mu.Lock()
	abrCtrl := p.abrController
	p.mu.Unlock()
	return p.chooseStreamsForPeriod(period, abrCtrl)
}

// chooseStreamsForPeriod picks the variant (and optional text stream) a
// period should play, honoring an explicit track pin ahead of language
// filtering and ABR. Shared by streamingCallbacks.OnChooseStreams (the
// engine's per-period-transition choice) and Load's initial
// start_at_segment_boundary resolution, which needs the same answer
// before the engine itself has chosen anything.
func (p *Player) chooseStreamsForPeriod(period *manifest.Period, abrCtrl *abr.Controller) (*manifest.Variant, *manifest.Stream, error) {
	p.mu.Lock()
	explicit := p.explicitVariant
	lang := p.selectedAudioLang
	role := p.selectedAudioRole
	text := pickText(period.TextStreams, p.selectedTextLang)
	p.mu.Unlock()

	if explicit != nil {
		for _, v := range period.Variants {
			if v.ID == explicit.ID {
				return v, text, nil
			}
		}
	}

	candidates := filterByLanguage(period.Variants, lang, role)
	if abrCtrl != nil {
		abrCtrl.SetVariants(candidates)
		if v := abrCtrl.ChooseVariant(); v != nil {
			return v, text, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], text, nil
	}
	return nil, nil, fmt.Errorf("no playable variant in period %s", period.ID)
}

func filterByLanguage(variants []*manifest.Variant, lang, role string) []*manifest.Variant {
	if lang == "" {
		return variants
	}
	var out []*manifest.Variant
	for _, v := range variants {
		if v.Language == lang {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return variants
	}
	return out
}

func pickText(streams []*manifest.Stream, lang string) *manifest.Stream {
	if lang == "" {
		if len(streams) > 0 {
			return streams[0]
		}
		return nil
	}
	for _, s := range streams {
		if s.Language == lang {
			return s
		}
	}
	return nil
}

func (c *streamingCallbacks) OnInitialStreamsSetup() {
	c.p.bus.Dispatch(events.Event{Type: events.TypeAdaptation})
}

func (c *streamingCallbacks) OnError(err *errors.StreamingError) {
	if err.Code == errors.CodeLoadInterrupted {
		return
	}
	c.p.bus.Dispatch(events.Event{Type: events.TypeError, Err: err})
}

// gapObserver adapts the Player to playhead.GapObserver.
type gapObserver struct{ p *Player }

func (g *gapObserver) OnLargeGap(currentTime, gapSize time.Duration) bool {
	detail := &events.LargeGapDetail{CurrentTime: currentTime, GapSize: gapSize}
	g.p.bus.Dispatch(events.Event{Type: events.TypeLargeGap, LargeGap: detail})
	return detail.DefaultPrevented()
}

func (g *gapObserver) OnBufferingStateChange(buffering bool) {
	g.p.mu.Lock()
	now := time.Now()
	g.p.stats.StateHistory = append(g.p.stats.StateHistory, StateEvent{Timestamp: now, State: stateName(buffering)})
	g.p.mu.Unlock()
	g.p.bus.Dispatch(events.Event{Type: events.TypeBuffering, Buffering: buffering})
}

func stateName(buffering bool) string {
	if buffering {
		return "buffering"
	}
	return "playing"
}

// drmObserver adapts the Player to drm.Observer.
type drmObserver struct{ p *Player }

func (d *drmObserver) OnKeyStatusesChanged(statuses map[string]drm.KeyStatus) {
	p := d.p
	p.mu.Lock()
	orch := p.drmOrch
	presentation := p.presentation
	p.mu.Unlock()
	if orch == nil || presentation == nil {
		return
	}
	allowed := orch.AllowedByKeySystem()
	for _, per := range presentation.Periods {
		for _, v := range per.Variants {
			if len(v.DrmInfos) > 0 {
				v.AllowedByKeySystem = allowed
			}
		}
	}
	p.bus.Dispatch(events.Event{Type: events.TypeDRMSessionUpdate})
}

func (d *drmObserver) OnExpired() {
	d.p.bus.Dispatch(events.Event{Type: events.TypeExpirationUpdated})
}

func (d *drmObserver) OnError(err *errors.StreamingError) {
	d.p.bus.Dispatch(events.Event{Type: events.TypeError, Err: err})
}

func (d *drmObserver) OnSessionUpdate() {
	d.p.bus.Dispatch(events.Event{Type: events.TypeDRMSessionUpdate})
}

// playerInterface adapts the Player to manifest.PlayerInterface,
// the callback set a Parser uses to resolve requests and report
// structural/timeline changes (spec §4.2).
type playerInterface struct {
	p   *Player
	net *netpkg.Engine
}

func (pi *playerInterface) Networking() *netpkg.Engine { return pi.net }

func (pi *playerInterface) FilterNewPeriod(period *manifest.Period) {}

func (pi *playerInterface) FilterAllPeriods(periods []*manifest.Period) {}

func (pi *playerInterface) OnTimelineRegionAdded(region manifest.TimelineRegion) {
	pi.p.bus.Dispatch(events.Event{Type: events.TypeTimelineRegionAdded, TimelineRegion: events.TimelineRegionDetail{
		SchemeIDURI: region.SchemeIDURI, Value: region.Value, StartTime: region.StartTime, EndTime: region.EndTime, ID: region.ID,
	}})
}

func (pi *playerInterface) OnEvent(event manifest.EmsgEvent) {
	pi.p.bus.Dispatch(events.Event{Type: events.TypeEmsg, Emsg: events.EmsgDetail{
		SchemeIDURI: event.SchemeIDURI, Value: event.Value, MessageData: event.MessageData,
	}})
}

func (pi *playerInterface) OnError(err error) {
	sErr, ok := err.(*errors.StreamingError)
	if !ok {
		sErr = errors.Wrap(errors.RECOVERABLE, errors.CategoryManifest, errors.CodeDashInvalidXML, err)
	}
	pi.p.bus.Dispatch(events.Event{Type: events.TypeError, Err: sErr})
}
