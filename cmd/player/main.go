// Command player is a minimal host application driving the streaming
// core's public facade against a real manifest URI, generalizing the
// teacher's cmd/server/main.go wiring sequence (parse flags -> build
// logger -> build config -> build collaborators -> run -> graceful
// shutdown on signal) from serving HTTP to driving player.Player
// directly from the command line.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"streamcore/internal/config"
	"streamcore/internal/drm"
	"streamcore/internal/logger"
	"streamcore/internal/manifest"
	"streamcore/internal/manifest/dash"
	"streamcore/internal/manifest/hls"
	"streamcore/internal/mediabuffer"
	netpkg "streamcore/internal/net"
	"streamcore/internal/player"
)

func main() {
	// 1. Parse command-line arguments
	manifestURI := flag.String("u", "", "manifest URI (.mpd or .m3u8)")
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	userAgent := flag.String("ua", "streamcore/1.0", "HTTP User-Agent sent on every request")
	flag.Parse()

	// 2. Initialize logger
	log := logger.New(*logLevel)
	if *manifestURI == "" {
		log.Errorf("missing required -u <manifest URI>")
		os.Exit(1)
	}
	log.Infof("starting streamcore player against %s", *manifestURI)

	// 3. Build configuration
	cfg := config.Default()
	cfg.UserAgent = *userAgent
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}

	// 4. Build collaborators. The manifest parsers fetch through their
	// own networking engine (constructed here, before Player exists);
	// the player builds a second, independent one internally for
	// segment and license fetches, mirroring the teacher's pattern of
	// each top-level service owning the client it needs rather than
	// threading a shared one through every constructor.
	parserNet := netpkg.NewEngine(log, cfg.UserAgent)
	buildParser := func(uri string) manifest.Parser {
		if strings.Contains(uri, ".m3u8") {
			return hls.NewParser(log, parserNet)
		}
		return dash.NewParser(log, parserNet)
	}

	// No Go binding to a real platform CDM exists, so the demo host
	// only advertises clearkey support; a production host supplies its
	// own drm.Platform (e.g. a cgo binding to a vendor CDM).
	platform := drm.NewFakePlatform("org.w3.clearkey")
	buffer := mediabuffer.NewFakeEngine()

	p := player.New(cfg, buffer, platform, nil, log, buildParser)

	events, listenerID := p.Events(32)
	go func() {
		for ev := range events {
			log.Infof("event: %s", ev.Type)
		}
	}()

	// 5. Run until a shutdown signal arrives.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Load(ctx, *manifestURI, player.LoadOptions{}); err != nil {
		log.Errorf("load failed: %v", err)
		p.Unlisten(listenerID)
		os.Exit(1)
	}
	log.Infof("loaded; seek range %v-%v", seekRangeStart(p), seekRangeEnd(p))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := p.Destroy(shutdownCtx); err != nil {
		log.Errorf("destroy failed: %v", err)
		p.Unlisten(listenerID)
		os.Exit(1)
	}
	p.Unlisten(listenerID)
	log.Infof("player exited gracefully")
}

func seekRangeStart(p *player.Player) time.Duration { start, _ := p.SeekRange(); return start }
func seekRangeEnd(p *player.Player) time.Duration   { _, end := p.SeekRange(); return end }
