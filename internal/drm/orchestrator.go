package drm

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"streamcore/internal/config"
	"streamcore/internal/errors"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	netpkg "streamcore/internal/net"
)

const clearKeySystem = "org.w3.clearkey"

// Observer receives the orchestrator's asynchronous outputs toward the
// player facade (spec §4.4 key-status handling, §6 drmsessionupdate).
type Observer interface {
	OnKeyStatusesChanged(statuses map[string]KeyStatus)
	OnExpired()
	OnError(err *errors.StreamingError)
	OnSessionUpdate()
}

// initDataKey dedups init-data entries by key id AND raw bytes, per
// spec §4.4 step 5.
type initDataKey struct {
	keyID string
	data  string
}

type sessionHandle struct {
	id          string
	session     MediaKeySession
	isFirst     bool // the first license request issued by this orchestrator instance
	licenseURI  string
	keyIDs      []string
}

// Orchestrator drives the DRM session lifecycle of spec §4.4. Candidate
// probing and clear-key synthesis are grounded on the teacher's
// key.Service (a read-only map of id -> key, built once at startup);
// license POSTs reuse internal/net's retry-policy engine exactly as the
// rest of the core does for segment/manifest fetches.
type Orchestrator struct {
	cfg       config.DRMConfig
	platform  Platform
	netEngine *netpkg.Engine
	log       logger.Logger
	clearKeys ClearKeyResolver
	paused    func() bool
	observer  Observer

	mu            sync.Mutex
	keySystem     string
	mediaKeys     MediaKeys
	sessions      []*sessionHandle
	keyStatuses   map[string]KeyStatus // lowercase hex key id -> status
	allExpiredHit bool
	destroyed     bool
	pendingFirst  *pendingLicense
}

type pendingLicense struct {
	sessionID string
	uri       string
	data      []byte
}

// New constructs an Orchestrator. paused reports whether playback is
// currently paused, consulted for delay_license_until_played.
func New(cfg config.DRMConfig, platform Platform, netEngine *netpkg.Engine, log logger.Logger, clearKeys ClearKeyResolver, observer Observer, paused func() bool) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		platform:    platform,
		netEngine:   netEngine,
		log:         log,
		clearKeys:   clearKeys,
		observer:    observer,
		paused:      paused,
		keyStatuses: make(map[string]KeyStatus),
	}
}

// KeySystem returns the key system chosen during Initialize, or "" if
// none has been chosen yet.
func (o *Orchestrator) KeySystem() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.keySystem
}

// KeyStatuses returns a snapshot of the aggregated key-status map.
func (o *Orchestrator) KeyStatuses() map[string]KeyStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]KeyStatus, len(o.keyStatuses))
	for k, v := range o.keyStatuses {
		out[k] = v
	}
	return out
}

// Initialize runs the full protocol of spec §4.4 steps 1-5 against the
// drm_infos carried by variants in the current period.
func (o *Orchestrator) Initialize(ctx context.Context, variants []*manifest.Variant) error {
	candidates, infoBySystem := o.buildCandidates(variants)
	if len(candidates) == 0 {
		if len(o.cfg.ClearKeys) == 0 {
			return errors.New(errors.CRITICAL, errors.CategoryDRM, errors.CodeNoRecognizedKeySystems, "no drm_infos and no clear keys configured")
		}
		candidates = []MediaKeySystemConfiguration{{KeySystem: clearKeySystem, InitDataTypes: []string{"keyids"}}}
	}

	if o.checkDestroyed() {
		return nil
	}

	access, err := o.platform.RequestAccess(ctx, candidates)
	if err != nil {
		return errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeRequestedKeySystemConfigUnavailable, err)
	}

	if o.checkDestroyed() {
		return nil
	}

	mediaKeys, err := access.CreateMediaKeys(ctx)
	if err != nil {
		return errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeFailedToCreateCDM, err)
	}

	o.mu.Lock()
	o.keySystem = access.KeySystem()
	o.mediaKeys = mediaKeys
	o.mu.Unlock()

	info, hasInfo := infoBySystem[o.keySystem]
	if hasInfo && len(info.ServerCertificate) > 0 {
		if o.checkDestroyed() {
			return nil
		}
		if err := mediaKeys.SetServerCertificate(ctx, info.ServerCertificate); err != nil {
			return errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeInvalidServerCertificate, err)
		}
	}

	licenseURI := o.licenseServerURI(o.keySystem, info)
	if o.keySystem != clearKeySystem && licenseURI == "" {
		return errors.New(errors.CRITICAL, errors.CategoryDRM, errors.CodeNoLicenseServerGiven,
			fmt.Sprintf("no license server configured for key system %s", o.keySystem))
	}

	initDatas := o.dedupInitData(variants, o.keySystem, hasInfo, info)
	for i, id := range initDatas {
		if o.checkDestroyed() {
			return nil
		}
		session, err := mediaKeys.CreateSession(SessionTypeTemporary)
		if err != nil {
			return errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeFailedToCreateSession, err)
		}
		handle := &sessionHandle{id: uuid.NewString(), session: session, isFirst: i == 0, licenseURI: licenseURI}
		o.mu.Lock()
		o.sessions = append(o.sessions, handle)
		o.mu.Unlock()

		go o.driveSession(handle)

		initDataType := "cenc"
		if o.keySystem == clearKeySystem {
			initDataType = "keyids"
		}
		if err := session.GenerateRequest(ctx, initDataType, id.bytes); err != nil {
			return errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeFailedToGenerateLicenseRequest, err)
		}
	}
	return nil
}

type dedupedInitData struct {
	bytes []byte
	keyID string
}

func (o *Orchestrator) dedupInitData(variants []*manifest.Variant, keySystem string, hasInfo bool, info manifest.DrmInfo) []dedupedInitData {
	if keySystem == clearKeySystem {
		var out []dedupedInitData
		seen := make(map[string]bool)
		for hexKeyID := range o.cfg.ClearKeys {
			if seen[hexKeyID] {
				continue
			}
			seen[hexKeyID] = true
			kid, err := hex.DecodeString(hexKeyID)
			if err != nil {
				continue
			}
			out = append(out, dedupedInitData{bytes: kid, keyID: strings.ToLower(hexKeyID)})
		}
		return out
	}

	seen := make(map[initDataKey]bool)
	var out []dedupedInitData
	for _, v := range variants {
		di, ok := variantDrmInfo(v, keySystem)
		if !ok {
			continue
		}
		for _, d := range di.InitData {
			k := initDataKey{keyID: d.KeyID, data: string(d.Bytes)}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, dedupedInitData{bytes: d.Bytes, keyID: strings.ToLower(d.KeyID)})
		}
	}
	return out
}

// buildCandidates implements spec §4.4 step 1: collect every key
// system referenced by any variant's drm_infos in the current period,
// enrich with configured advanced options, and sort so systems with a
// configured license server come first while preserving manifest order
// within each partition.
func (o *Orchestrator) buildCandidates(variants []*manifest.Variant) ([]MediaKeySystemConfiguration, map[string]manifest.DrmInfo) {
	seen := make(map[string]bool)
	infoBySystem := make(map[string]manifest.DrmInfo)
	var withServer, withoutServer []MediaKeySystemConfiguration

	for _, v := range variants {
		for _, di := range v.DrmInfos {
			if seen[di.KeySystem] {
				continue
			}
			seen[di.KeySystem] = true
			infoBySystem[di.KeySystem] = di

			adv := o.cfg.Advanced[di.KeySystem]
			cfg := MediaKeySystemConfiguration{
				KeySystem:                     di.KeySystem,
				InitDataTypes:                 []string{"cenc"},
				DistinctiveIdentifierRequired: di.DistinctiveIdentifierRequired || adv.DistinctiveIdentifierRequired,
				PersistentStateRequired:       di.PersistentStateRequired || adv.PersistentStateRequired,
				Robustness:                    firstNonEmpty(adv.Robustness, di.Robustness),
			}
			if o.licenseServerURI(di.KeySystem, di) != "" {
				withServer = append(withServer, cfg)
			} else {
				withoutServer = append(withoutServer, cfg)
			}
		}
	}
	return append(withServer, withoutServer...), infoBySystem
}

func (o *Orchestrator) licenseServerURI(keySystem string, info manifest.DrmInfo) string {
	if uri, ok := o.cfg.LicenseServers[keySystem]; ok && uri != "" {
		return uri
	}
	return info.LicenseServerURI
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// driveSession pumps one session's messages and key-status changes for
// its lifetime, POSTing license requests (or synthesizing a clear-key
// response locally) and aggregating key statuses.
func (o *Orchestrator) driveSession(h *sessionHandle) {
	for {
		select {
		case msg, ok := <-h.session.Messages():
			if !ok {
				return
			}
			o.handleMessage(h, msg)
		case statuses, ok := <-h.session.KeyStatusChanges():
			if !ok {
				return
			}
			o.handleKeyStatuses(h, statuses)
		}
	}
}

func (o *Orchestrator) handleMessage(h *sessionHandle, msg SessionMessage) {
	if o.checkDestroyed() {
		return
	}

	if o.keySystem == clearKeySystem {
		resp, err := o.synthesizeClearKeyResponse()
		if err != nil {
			o.emitError(errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeLicenseResponseRejected, err))
			return
		}
		o.updateSession(h, resp)
		return
	}

	isRenewal := msg.Type == MessageTypeLicenseRenewal
	if h.isFirst && !isRenewal && o.cfg.DelayLicenseUntilPlayed && o.paused != nil && o.paused() {
		o.mu.Lock()
		o.pendingFirst = &pendingLicense{sessionID: h.id, uri: h.licenseURI, data: msg.Data}
		o.mu.Unlock()
		return
	}

	o.postLicense(h, msg.Data)
}

// OnPlay flushes a queued first license request, per spec §4.4 step 6's
// "flush on play."
func (o *Orchestrator) OnPlay(ctx context.Context) {
	o.mu.Lock()
	pending := o.pendingFirst
	o.pendingFirst = nil
	var handle *sessionHandle
	if pending != nil {
		for _, h := range o.sessions {
			if h.id == pending.sessionID {
				handle = h
				break
			}
		}
	}
	o.mu.Unlock()
	if pending == nil || handle == nil {
		return
	}
	o.postLicense(handle, pending.data)
}

func (o *Orchestrator) postLicense(h *sessionHandle, requestData []byte) {
	if h.licenseURI == "" {
		o.emitError(errors.New(errors.CRITICAL, errors.CategoryDRM, errors.CodeNoLicenseServerGiven, "license message produced but no license server configured"))
		return
	}
	resp, err := o.netEngine.Request(context.Background(), netpkg.Request{
		Type:   netpkg.RequestTypeLicense,
		URIs:   []string{h.licenseURI},
		Method: "POST",
		Body:   requestData,
		Retry:  netpkg.RetryPolicy(config.DefaultRetryPolicy()),
	})
	if err != nil {
		o.emitError(errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeLicenseRequestFailed, err))
		return
	}
	o.updateSession(h, resp.Data)
}

func (o *Orchestrator) updateSession(h *sessionHandle, licenseData []byte) {
	if o.checkDestroyed() {
		return
	}
	if err := h.session.Update(context.Background(), licenseData); err != nil {
		o.emitError(errors.Wrap(errors.CRITICAL, errors.CategoryDRM, errors.CodeLicenseResponseRejected, err))
		return
	}
	if o.observer != nil {
		o.observer.OnSessionUpdate()
	}
}

// synthesizeClearKeyResponse builds a JSON Web Key Set license response
// from the configured clear keys, standing in for the license server a
// real clearkey deployment wouldn't otherwise have (spec §4.4 step 3).
func (o *Orchestrator) synthesizeClearKeyResponse() ([]byte, error) {
	type jwk struct {
		Kty string `json:"kty"`
		K   string `json:"k"`
		Kid string `json:"kid"`
	}
	type jwks struct {
		Keys []jwk  `json:"keys"`
		Type string `json:"type"`
	}
	var out jwks
	out.Type = "temporary"
	for hexKeyID, hexKey := range o.cfg.ClearKeys {
		kid, err := hex.DecodeString(hexKeyID)
		if err != nil {
			return nil, fmt.Errorf("decode clear key id %q: %w", hexKeyID, err)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("decode clear key value for %q: %w", hexKeyID, err)
		}
		out.Keys = append(out.Keys, jwk{
			Kty: "oct",
			K:   base64.RawURLEncoding.EncodeToString(key),
			Kid: base64.RawURLEncoding.EncodeToString(kid),
		})
	}
	return json.Marshal(out)
}

// handleKeyStatuses aggregates a session's key statuses into the
// engine-wide map and applies spec §4.4's key-status policy:
// output-restricted/internal-error mark !allowed_by_key_system;
// expired is tracked separately and emits exactly one EXPIRED error per
// transition into "all keys in the active session are expired."
func (o *Orchestrator) handleKeyStatuses(h *sessionHandle, statuses []KeyStatusEntry) {
	o.mu.Lock()
	h.keyIDs = h.keyIDs[:0]
	allExpired := len(statuses) > 0
	for _, s := range statuses {
		hexID := strings.ToLower(hex.EncodeToString(s.KeyID))
		h.keyIDs = append(h.keyIDs, hexID)
		o.keyStatuses[hexID] = s.Status
		if s.Status != KeyStatusExpired {
			allExpired = false
		}
	}
	snapshot := make(map[string]KeyStatus, len(o.keyStatuses))
	for k, v := range o.keyStatuses {
		snapshot[k] = v
	}
	wasExpired := o.allExpiredHit
	o.allExpiredHit = allExpired
	o.mu.Unlock()

	if o.observer != nil {
		o.observer.OnKeyStatusesChanged(snapshot)
	}
	if allExpired && !wasExpired && o.observer != nil {
		o.observer.OnExpired()
	}
}

// AllowedByKeySystem reports whether every key currently known is
// usable (not output-restricted and not erroring), used by the
// streaming engine to gate variant.allowed_by_key_system.
func (o *Orchestrator) AllowedByKeySystem() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, status := range o.keyStatuses {
		if status == KeyStatusOutputRestricted || status == KeyStatusInternalError {
			return false
		}
	}
	return true
}

func (o *Orchestrator) checkDestroyed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.destroyed
}

func (o *Orchestrator) emitError(err *errors.StreamingError) {
	if o.observer != nil {
		o.observer.OnError(err)
	}
}

// Destroy closes every session and the media keys instance. It is
// interruptible at every awaited step: a concurrent Initialize call
// observes o.destroyed and stops without surfacing the interruption as
// a user-visible error (spec §4.4's destroy invariant).
func (o *Orchestrator) Destroy(ctx context.Context) error {
	o.mu.Lock()
	if o.destroyed {
		o.mu.Unlock()
		return nil
	}
	o.destroyed = true
	sessions := o.sessions
	mediaKeys := o.mediaKeys
	o.mu.Unlock()

	for _, h := range sessions {
		_ = h.session.Close(ctx)
	}
	if mediaKeys != nil {
		return mediaKeys.Close(ctx)
	}
	return nil
}
