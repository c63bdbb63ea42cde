// Package drm implements the DRM orchestrator of spec §4.4: candidate
// key-system selection, session creation/update/close against a
// platform CDM, clear-key synthesis, and key-status aggregation.
//
// New package — the teacher has no DRM. Clear-key synthesis is
// grounded on the teacher's internal/key.Service (a read-only-after-init
// map built once from config, looked up by id); the orchestrator's
// state held as plain struct fields mutated in place, rather than an
// explicit state enum dispatched through a switch, follows the
// teacher's internal/session.StreamSession idiom of tracking state as a
// handful of fields advanced by the methods that own them.
package drm

import (
	"context"

	"streamcore/internal/manifest"
)

// SessionType mirrors the EME concept of temporary vs persistent
// license sessions.
type SessionType int

const (
	SessionTypeTemporary SessionType = iota
	SessionTypePersistentLicense
)

// MessageType classifies a message a CDM session emits toward the
// license server (license-request vs individualization-request, etc).
type MessageType int

const (
	MessageTypeLicenseRequest MessageType = iota
	MessageTypeLicenseRenewal
	MessageTypeIndividualizationRequest
)

// KeyStatus mirrors the EME MediaKeyStatus values the CDM reports per key.
type KeyStatus int

const (
	KeyStatusUsable KeyStatus = iota
	KeyStatusExpired
	KeyStatusOutputRestricted
	KeyStatusInternalError
	KeyStatusOutputDownscaled
	KeyStatusStatusPending
)

// KeyStatusEntry pairs a key id with its current status.
type KeyStatusEntry struct {
	KeyID  []byte
	Status KeyStatus
}

// SessionMessage is emitted by a CDM session asynchronously after
// GenerateRequest or Update, carrying the bytes to POST to the license
// server.
type SessionMessage struct {
	Type MessageType
	Data []byte
}

// MediaKeySession is the platform CDM session contract (spec §6's
// Platform CDM collaborator).
type MediaKeySession interface {
	// GenerateRequest starts the session for the given init-data type
	// (e.g. "cenc", "webm", "identifier") and raw init data.
	GenerateRequest(ctx context.Context, initDataType string, initData []byte) error
	// Update feeds a license-server response back to the CDM.
	Update(ctx context.Context, response []byte) error
	// Close releases the session.
	Close(ctx context.Context) error
	// Remove clears persisted license data for a persistent session.
	Remove(ctx context.Context) error

	// Messages returns a channel the session delivers SessionMessage
	// values on until the session is closed, at which point the channel
	// is closed.
	Messages() <-chan SessionMessage
	// KeyStatusChanges returns a channel delivering the session's full
	// key-status set every time it changes.
	KeyStatusChanges() <-chan []KeyStatusEntry
}

// MediaKeys is a created-and-configured CDM instance, scoped to one
// key system, capable of minting sessions.
type MediaKeys interface {
	CreateSession(sessionType SessionType) (MediaKeySession, error)
	SetServerCertificate(ctx context.Context, cert []byte) error
	Close(ctx context.Context) error
}

// KeySystemAccess is the result of a successful RequestAccess probe: a
// factory for the concrete MediaKeys instance.
type KeySystemAccess interface {
	KeySystem() string
	CreateMediaKeys(ctx context.Context) (MediaKeys, error)
}

// MediaKeySystemConfiguration is one candidate configuration probed via
// RequestAccess, built from a Variant's DrmInfo plus the advanced
// per-key-system config (spec §4.4 step 1).
type MediaKeySystemConfiguration struct {
	KeySystem                     string
	InitDataTypes                 []string
	DistinctiveIdentifierRequired bool
	PersistentStateRequired       bool
	Robustness                    string
}

// Platform is the host environment's EME-equivalent entry point: probing
// key-system availability and creating CDM instances.
type Platform interface {
	RequestAccess(ctx context.Context, configs []MediaKeySystemConfiguration) (KeySystemAccess, error)
}

// ClearKeyResolver resolves a keyId to a raw clear-key, mirroring the
// teacher's key.Service.GetKeyForChannel lookup-by-id shape, generalized
// from "channel id -> content key" to "drm key id -> clear key". The
// Orchestrator accepts one but never calls it: the org.w3.clearkey
// license it synthesizes locally (spec §4.4 step 5b) is built from
// DRMConfig.ClearKeys.
type ClearKeyResolver interface {
	GetKeyForKeyID(keyID string) ([]byte, bool)
}

// variantDrmInfo is a convenience accessor used when selecting candidate
// configurations from a manifest.Variant's DrmInfos.
func variantDrmInfo(v *manifest.Variant, keySystem string) (manifest.DrmInfo, bool) {
	for _, di := range v.DrmInfos {
		if di.KeySystem == keySystem {
			return di, true
		}
	}
	return manifest.DrmInfo{}, false
}
