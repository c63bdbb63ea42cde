package manifest

import (
	"context"
	"time"

	netpkg "streamcore/internal/net"
)

// TimelineRegion is an emsg-like or DASH EventStream region surfaced to
// the application (spec §6 Events: timelineregionadded/enter/exit).
type TimelineRegion struct {
	SchemeIDURI string
	Value       string
	StartTime   time.Duration
	EndTime     time.Duration
	ID          string
	EventElement []byte
}

// EmsgEvent is an inband emsg box carrying scheme/value/data (spec GLOSSARY).
type EmsgEvent struct {
	SchemeIDURI string
	Value       string
	Timescale   uint32
	PresentationTimeDelta uint32
	EventDuration uint32
	ID            uint32
	MessageData   []byte
}

// PlayerInterface is the set of callbacks a manifest parser is given so
// it can resolve requests and report structural/timeline changes back
// into the core without importing the streaming engine (spec §4.2).
type PlayerInterface interface {
	Networking() *netpkg.Engine
	FilterNewPeriod(period *Period)
	FilterAllPeriods(periods []*Period)
	OnTimelineRegionAdded(region TimelineRegion)
	OnEvent(event EmsgEvent)
	OnError(err error)
}

// ParserConfig is passed to Configure before Start.
type ParserConfig struct {
	ManifestURI string
	UserAgent   string
	Retry       netpkg.RetryPolicy
}

// Parser is the contract every manifest parser (DASH, HLS) implements.
// Parsers are external collaborators: the core only depends on this
// interface, never on parser internals.
type Parser interface {
	Configure(cfg ParserConfig)
	Start(ctx context.Context, uri string, player PlayerInterface) (*Presentation, error)
	Stop(ctx context.Context) error
	Update(ctx context.Context) (*Presentation, error)
	OnExpirationUpdated(keyID string, expirationMs int64)
}
