// ScreenerBot realtime client - maintains the live subscription channel to
// the trading-bot server and exposes a local connectivity endpoint.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/screenerbotio/ScreenerBot-sub005/internal/config"
	"github.com/screenerbotio/ScreenerBot-sub005/internal/realtime"
	"github.com/screenerbotio/ScreenerBot-sub005/internal/statusapi"
	"github.com/screenerbotio/ScreenerBot-sub005/internal/store"
)

func main() {
	// CLI flags
	showVersion := flag.Bool("version", false, "print version and exit")
	showHelp := flag.Bool("help", false, "show usage")
	startPage := flag.String("page", "positions", "page to activate on startup")

	// Short flags
	flag.BoolVar(showVersion, "v", false, "print version and exit")
	flag.BoolVar(showHelp, "h", false, "show usage")

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("screenerbot-client %s\n", realtime.Version)
		os.Exit(0)
	}

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	// Set up logging
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Logger()

	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Set log level
	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Durable store holds the stable client id across restarts
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to open store")
	}
	defer st.Close()

	clientID, err := st.ClientID()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load client id")
	}

	log.Info().
		Str("version", realtime.Version).
		Str("client_id", clientID).
		Str("url", cfg.ServerURL).
		Msg("ScreenerBot client starting")

	hub := realtime.New(cfg, clientID, log)
	registerPages(hub, log)

	hub.AddPersistentInterest(realtime.PersistentInterest{
		Name:  "connectivity-indicator",
		Topic: "system.status",
	})

	// Local status endpoint
	if cfg.HTTPAddr != "" {
		api := statusapi.New(hub, log)
		go func() {
			if err := api.ListenAndServe(cfg.HTTPAddr); err != nil {
				log.Error().Err(err).Msg("status endpoint stopped")
			}
		}()
	}

	hub.Connect()

	if err := hub.Activate(*startPage); err != nil {
		log.Warn().Err(err).Str("page", *startPage).Msg("could not activate start page")
	}

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	hub.Shutdown()
}

// registerPages installs the built-in page declarations. Each page logs its
// updates; rendering is up to the embedding dashboard.
func registerPages(hub *realtime.Hub, log zerolog.Logger) {
	pages := []*realtime.PageDecl{
		{
			Name:   "positions",
			Topics: []string{"positions", "trades"},
			Channels: map[string]realtime.Handler{
				"positions": logHandler(log, "positions"),
				"trades":    logHandler(log, "trades"),
			},
			GetFilters: func() map[string]realtime.Filter {
				return map[string]realtime.Filter{
					"positions": {"open_only": true},
				}
			},
			OnInitial: func(status string) {
				log.Info().Str("status", status).Msg("positions page ready")
			},
		},
		{
			Name:   "events",
			Topics: []string{"events"},
			Channels: map[string]realtime.Handler{
				"events": logHandler(log, "events"),
			},
		},
		{
			Name:   "status",
			Topics: []string{"status", "services"},
			Channels: map[string]realtime.Handler{
				"status":   logHandler(log, "status"),
				"services": logHandler(log, "services"),
			},
		},
	}

	for _, p := range pages {
		if err := hub.Register(p); err != nil {
			log.Fatal().Err(err).Str("page", p.Name).Msg("failed to register page")
		}
	}
}

func logHandler(log zerolog.Logger, channel string) realtime.Handler {
	return func(data json.RawMessage, mctx *realtime.MessageContext) {
		log.Info().
			Str("channel", channel).
			Str("topic", string(mctx.Topic)).
			Int64("seq", mctx.Seq).
			Bool("snapshot", mctx.Snapshot).
			RawJSON("data", data).
			Msg("update")
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `screenerbot-client %s - realtime dashboard channel for ScreenerBot

Usage:
  screenerbot-client [flags]

Flags:
  -page string   page to activate on startup (default "positions")
  -v, -version   print version and exit
  -h, -help      show this help

Environment:
  SCREENERBOT_URL              WebSocket URL of the server (required)
  SCREENERBOT_CLIENT_NAME      client name reported to the server
  SCREENERBOT_DATA_DIR         directory for the durable store
  SCREENERBOT_PING_INTERVAL    liveness probe interval in seconds
  SCREENERBOT_STALL_THRESHOLD  watchdog threshold in seconds
  SCREENERBOT_HTTP_ADDR        local status endpoint address ("off" disables)
  SCREENERBOT_LOG_LEVEL        debug, info, warn or error
`, realtime.Version)
}
