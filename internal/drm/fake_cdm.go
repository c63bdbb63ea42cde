package drm

import (
	"context"
	"fmt"
)

// FakePlatform is an in-memory Platform used by orchestrator tests. It
// accepts any key system present in SupportedKeySystems and hands back
// a FakeMediaKeys.
type FakePlatform struct {
	SupportedKeySystems map[string]bool
	// RequireServerCertificate, when set, makes CreateSession fail until
	// SetServerCertificate has been called with a non-empty certificate,
	// exercising the "set_server_certificate before generate_request"
	// ordering.
	RequireServerCertificate bool
}

func NewFakePlatform(keySystems ...string) *FakePlatform {
	m := make(map[string]bool, len(keySystems))
	for _, ks := range keySystems {
		m[ks] = true
	}
	return &FakePlatform{SupportedKeySystems: m}
}

func (p *FakePlatform) RequestAccess(ctx context.Context, configs []MediaKeySystemConfiguration) (KeySystemAccess, error) {
	for _, c := range configs {
		if p.SupportedKeySystems[c.KeySystem] {
			return &fakeKeySystemAccess{keySystem: c.KeySystem, platform: p}, nil
		}
	}
	return nil, fmt.Errorf("no supported key system among %d candidates", len(configs))
}

type fakeKeySystemAccess struct {
	keySystem string
	platform  *FakePlatform
}

func (a *fakeKeySystemAccess) KeySystem() string { return a.keySystem }

func (a *fakeKeySystemAccess) CreateMediaKeys(ctx context.Context) (MediaKeys, error) {
	return &FakeMediaKeys{keySystem: a.keySystem, requireCert: a.platform.RequireServerCertificate}, nil
}

// FakeMediaKeys is an in-memory MediaKeys.
type FakeMediaKeys struct {
	keySystem    string
	requireCert  bool
	hasCert      bool
	FailSessions bool
}

func (k *FakeMediaKeys) CreateSession(sessionType SessionType) (MediaKeySession, error) {
	if k.requireCert && !k.hasCert {
		return nil, fmt.Errorf("server certificate required before session creation")
	}
	if k.FailSessions {
		return nil, fmt.Errorf("simulated create_session failure")
	}
	return newFakeSession(sessionType), nil
}

func (k *FakeMediaKeys) SetServerCertificate(ctx context.Context, cert []byte) error {
	if len(cert) == 0 {
		return fmt.Errorf("empty server certificate")
	}
	k.hasCert = true
	return nil
}

func (k *FakeMediaKeys) Close(ctx context.Context) error { return nil }

// fakeSession is a MediaKeySession that echoes back a synthetic license
// response on Update and reports a key-status set for it (by default the
// single fixed key id "default-key", usable), unless configured otherwise
// by the test via the exported fields below.
type fakeSession struct {
	sessionType SessionType
	messages    chan SessionMessage
	keyStatuses chan []KeyStatusEntry
	closed      bool

	// FailGenerateRequest/FailUpdate let tests exercise the orchestrator's
	// failure paths without a real CDM.
	FailGenerateRequest bool
	FailUpdate          bool
	// RespondKeyIDs, if set, is echoed back as the usable key set on
	// Update instead of the fixed key id "default-key".
	RespondKeyIDs [][]byte
	// RespondStatus overrides the status applied to RespondKeyIDs.
	RespondStatus KeyStatus
}

func newFakeSession(t SessionType) *fakeSession {
	return &fakeSession{
		sessionType: t,
		messages:    make(chan SessionMessage, 4),
		keyStatuses: make(chan []KeyStatusEntry, 4),
		RespondStatus: KeyStatusUsable,
	}
}

func (s *fakeSession) GenerateRequest(ctx context.Context, initDataType string, initData []byte) error {
	if s.FailGenerateRequest {
		return fmt.Errorf("simulated generate_request failure")
	}
	s.messages <- SessionMessage{Type: MessageTypeLicenseRequest, Data: append([]byte("request:"), initData...)}
	return nil
}

func (s *fakeSession) Update(ctx context.Context, response []byte) error {
	if s.FailUpdate {
		return fmt.Errorf("simulated update failure")
	}
	keyIDs := s.RespondKeyIDs
	if keyIDs == nil {
		keyIDs = [][]byte{[]byte("default-key")}
	}
	entries := make([]KeyStatusEntry, len(keyIDs))
	for i, kid := range keyIDs {
		entries[i] = KeyStatusEntry{KeyID: kid, Status: s.RespondStatus}
	}
	s.keyStatuses <- entries
	return nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.messages)
	close(s.keyStatuses)
	return nil
}

func (s *fakeSession) Remove(ctx context.Context) error { return nil }

func (s *fakeSession) Messages() <-chan SessionMessage { return s.messages }

func (s *fakeSession) KeyStatusChanges() <-chan []KeyStatusEntry { return s.keyStatuses }
