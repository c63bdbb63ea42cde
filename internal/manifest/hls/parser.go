// Package hls implements manifest.Parser for HLS master and media
// playlists (RFC 8216), decoding with the third-party m3u8 library
// rather than hand-rolling a tag scanner, the way the teacher's
// internal/dash package leans on encoding/xml instead of a hand-rolled
// XML reader.
package hls

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mogiioin/hls-m3u8/m3u8"

	streamerrors "streamcore/internal/errors"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	netpkg "streamcore/internal/net"
)

// widevineSystemID is the scheme URI HLS EXT-X-KEY tags use to carry
// Widevine PSSH data (spec §8 scenario 5).
const widevineSystemID = "urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"

var _ manifest.Parser = (*Parser)(nil)

// Parser implements manifest.Parser for HLS, generalizing the
// teacher's internal/hls playlist *generator* (playlist.go) into a
// playlist *parser*: the attribute-list vocabulary it writes
// (BANDWIDTH, CODECS, RESOLUTION, FRAME-RATE, EXT-X-MEDIA groups) is
// exactly what this package reads back, just through the m3u8
// library's decoder instead of a text/template writer.
type Parser struct {
	log    logger.Logger
	engine *netpkg.Engine
	cfg    manifest.ParserConfig

	player    manifest.PlayerInterface
	masterURL string
}

// NewParser constructs an HLS Parser.
func NewParser(log logger.Logger, engine *netpkg.Engine) *Parser {
	return &Parser{log: log, engine: engine}
}

func (p *Parser) Configure(cfg manifest.ParserConfig) { p.cfg = cfg }

func (p *Parser) Start(ctx context.Context, uri string, player manifest.PlayerInterface) (*manifest.Presentation, error) {
	p.player = player
	p.masterURL = uri

	pres, err := p.loadAndConvert(ctx, uri)
	if err != nil {
		return nil, err
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

// Update re-fetches the master playlist and every referenced media
// playlist. HLS carries no period/timeline merge bookkeeping of its
// own (each GET simply returns the sliding window as it stands), so
// unlike dash.Parser.Update there is nothing to splice: a fresh fetch
// and conversion is the whole update.
func (p *Parser) Update(ctx context.Context) (*manifest.Presentation, error) {
	if p.masterURL == "" {
		return nil, fmt.Errorf("hls parser: Update called before Start")
	}
	return p.loadAndConvert(ctx, p.masterURL)
}

func (p *Parser) OnExpirationUpdated(keyID string, expirationMs int64) {}

func (p *Parser) loadAndConvert(ctx context.Context, uri string) (*manifest.Presentation, error) {
	master, mediaErr := p.fetchMasterOrSingleVariant(ctx, uri)
	if mediaErr != nil {
		return nil, mediaErr
	}
	return ToPresentation(uri, master)
}

// fetchMasterOrSingleVariant fetches uri and decodes it either as a
// master playlist, or — when the content at uri is itself a media
// playlist (no EXT-X-STREAM-INF tags, a single-rendition stream) — as
// a synthetic one-variant master wrapping it, so downstream conversion
// only ever deals with the master shape.
func (p *Parser) fetchMasterOrSingleVariant(ctx context.Context, uri string) (*m3u8.MasterPlaylist, error) {
	body, err := p.fetch(ctx, uri, netpkg.RequestTypeManifest)
	if err != nil {
		return nil, err
	}

	playlist, listType, err := m3u8.DecodeFrom(newByteReader(body), false)
	if err != nil {
		return nil, streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryManifest, streamerrors.CodeHLSRequiredTagMissing, err)
	}

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		for _, v := range master.Variants {
			chunk, err := p.fetchMediaPlaylist(ctx, resolveRelative(uri, v.URI))
			if err != nil {
				return nil, err
			}
			v.Chunklist = chunk
		}
		return master, nil
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		master := m3u8.NewMasterPlaylist()
		master.Variants = []*m3u8.Variant{{
			URI:       uri,
			Chunklist: media,
			VariantParams: m3u8.VariantParams{
				Bandwidth: estimateBandwidth(media),
			},
		}}
		return master, nil
	default:
		return nil, streamerrors.New(streamerrors.CRITICAL, streamerrors.CategoryManifest, streamerrors.CodeHLSRequiredTagMissing, "playlist is neither master nor media")
	}
}

func (p *Parser) fetchMediaPlaylist(ctx context.Context, uri string) (*m3u8.MediaPlaylist, error) {
	body, err := p.fetch(ctx, uri, netpkg.RequestTypeManifest)
	if err != nil {
		return nil, err
	}
	media, err := m3u8.NewMediaPlaylist(0, uint(maxSegmentGuess))
	if err != nil {
		return nil, fmt.Errorf("allocate media playlist: %w", err)
	}
	if err := media.DecodeFrom(newByteReader(body), false); err != nil {
		return nil, streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryManifest, streamerrors.CodeHLSRequiredTagMissing, err)
	}
	return media, nil
}

// maxSegmentGuess bounds the preallocated media-playlist ring buffer;
// the m3u8 writer API requires a capacity even for read-only decode use.
const maxSegmentGuess = 1 << 16

func (p *Parser) fetch(ctx context.Context, uri string, rt netpkg.RequestType) ([]byte, error) {
	resp, err := p.engine.Request(ctx, netpkg.Request{
		Type:  rt,
		URIs:  []string{uri},
		Retry: netpkg.RetryPolicy{MaxAttempts: 1, Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, streamerrors.Wrap(streamerrors.CRITICAL, streamerrors.CategoryNetwork, streamerrors.CodeHTTPError, err)
	}
	return resp.Data, nil
}

func estimateBandwidth(media *m3u8.MediaPlaylist) uint32 {
	segments := media.GetAllSegments()
	if len(segments) == 0 {
		return 0
	}
	var total float64
	var dur float64
	for _, s := range segments {
		if s == nil {
			continue
		}
		total += float64(s.Limit)
		dur += s.Duration
	}
	if dur == 0 {
		return 0
	}
	return uint32(total * 8 / dur)
}

// decodeKeyURIData base64-decodes an EXT-X-KEY URI's inline data
// section (the payload after a data:text/plain;base64, prefix, or a bare
// base64 payload per spec §8 scenario 5).
func decodeKeyURIData(uri string) ([]byte, error) {
	if idx := strings.Index(uri, "base64,"); idx >= 0 {
		return base64.StdEncoding.DecodeString(uri[idx+len("base64,"):])
	}
	return base64.StdEncoding.DecodeString(uri)
}

func parseResolution(res string) (int, int) {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	w, _ := strconv.Atoi(parts[0])
	h, _ := strconv.Atoi(parts[1])
	return w, h
}
