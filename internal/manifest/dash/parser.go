package dash

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	streamerrors "streamcore/internal/errors"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	netpkg "streamcore/internal/net"
)

var _ manifest.Parser = (*Parser)(nil)

// Parser implements manifest.Parser for DASH MPDs, generalizing the
// teacher's dash.Client.FetchAndParseMPD (fetch + xml.Unmarshal) into
// the full configure/start/stop/update lifecycle spec §4.2 requires.
type Parser struct {
	log    logger.Logger
	engine *netpkg.Engine
	cfg    manifest.ParserConfig

	player      manifest.PlayerInterface
	locationURL string
	lastMPD     *MPD
}

// NewParser constructs a DASH Parser.
func NewParser(log logger.Logger, engine *netpkg.Engine) *Parser {
	return &Parser{log: log, engine: engine}
}

func (p *Parser) Configure(cfg manifest.ParserConfig) { p.cfg = cfg }

func (p *Parser) Start(ctx context.Context, uri string, player manifest.PlayerInterface) (*manifest.Presentation, error) {
	p.player = player
	mpd, finalURL, err := p.fetchAndParse(ctx, uri)
	if err != nil {
		return nil, err
	}
	p.lastMPD = mpd
	p.locationURL = finalURL

	pres, err := ToPresentation(finalURL, mpd)
	if err != nil {
		return nil, streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryManifest, streamerrors.CodeNoPeriods, err)
	}

	if len(pres.Periods) > 0 && player != nil {
		player.FilterNewPeriod(pres.Periods[0])
		player.FilterAllPeriods(pres.Periods)
	}
	return pres, nil
}

func (p *Parser) Stop(ctx context.Context) error {
	p.player = nil
	return nil
}

// Update re-fetches the MPD and merges live timelines, generalizing
// the teacher's StreamSession.refreshMPD (session.go) from a
// session-internal, in-place timeline merge into the parser's public
// Update() contract — callers get back a fresh Presentation, and the
// merge bookkeeping moves here where it belongs structurally.
func (p *Parser) Update(ctx context.Context) (*manifest.Presentation, error) {
	if p.lastMPD == nil {
		return nil, fmt.Errorf("dash parser: Update called before Start")
	}
	newMPD, finalURL, err := p.fetchAndParse(ctx, p.cfg.ManifestURI)
	if err != nil {
		return nil, err
	}

	for i := range newMPD.Periods {
		newPeriod := &newMPD.Periods[i]
		oldPeriod := findPeriodByID(p.lastMPD.Periods, newPeriod.ID)
		if oldPeriod == nil {
			continue
		}
		for j := range newPeriod.Sets {
			newAS := &newPeriod.Sets[j]
			oldAS := findAdaptationSetByID(oldPeriod.Sets, newAS.ID)
			if oldAS == nil || oldAS.SegmentTemplate == nil || newAS.SegmentTemplate == nil {
				continue
			}
			oldAS.SegmentTemplate.Timeline = MergeTimelines(oldAS.SegmentTemplate.Timeline, newAS.SegmentTemplate.Timeline)
		}
	}
	p.lastMPD.MinimumUpdatePeriod = newMPD.MinimumUpdatePeriod
	p.locationURL = finalURL

	pres, err := ToPresentation(finalURL, p.lastMPD)
	if err != nil {
		return nil, streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryManifest, streamerrors.CodeNoPeriods, err)
	}
	return pres, nil
}

func (p *Parser) OnExpirationUpdated(keyID string, expirationMs int64) {}

func (p *Parser) fetchAndParse(ctx context.Context, uri string) (*MPD, string, error) {
	resp, err := p.engine.Request(ctx, netpkg.Request{
		Type:  netpkg.RequestTypeManifest,
		URIs:  []string{uri},
		Retry: netpkg.RetryPolicy{MaxAttempts: 1, Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, "", streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryNetwork, streamerrors.CodeHTTPError, err)
	}

	var mpd MPD
	if err := xml.Unmarshal(resp.Data, &mpd); err != nil {
		return nil, "", streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryManifest, streamerrors.CodeDashInvalidXML, err)
	}
	return &mpd, resp.URI, nil
}

func findPeriodByID(periods []Period, id string) *Period {
	for i := range periods {
		if periods[i].ID == id {
			return &periods[i]
		}
	}
	return nil
}

func findAdaptationSetByID(sets []AdaptationSet, id string) *AdaptationSet {
	for i := range sets {
		if sets[i].ID == id {
			return &sets[i]
		}
	}
	return nil
}
