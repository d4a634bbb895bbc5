// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/19play/internal/api/httpapi"
	"github.com/osa030/19play/internal/app/catalog"
	"github.com/osa030/19play/internal/app/player"
	"github.com/osa030/19play/internal/infra/config"
	"github.com/osa030/19play/internal/infra/logger"
	"github.com/osa030/19play/internal/infra/sentry"
	"github.com/osa030/19play/internal/infra/source"
	"github.com/osa030/19play/internal/infra/spotify"
	"github.com/osa030/19play/internal/infra/store"
)

// version is set at build time.
var version = "dev"

var (
	app        = kingpin.New("19play-server", "19play music player server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	app.Version(version)
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Load config before the logger so that sentry can hook into it
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if command == checkConfigCmd.FullCommand() {
		fmt.Printf("%s: ok\n", *configPath)
		return
	}

	reporting, err := sentry.Init(cfg.Sentry, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize sentry: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if reporting {
		loggerConfig.Hooks = []zerolog.Hook{sentry.NewHook(nil)}
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loaded config from %s: store=%s providers=%d sentry=%v",
		*configPath, cfg.Store.Driver, len(cfg.Catalog.Providers), reporting)

	// Run server (defer ensures cleanup runs on error returns)
	if err := run(cfg, reporting); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		if reporting {
			sentry.Flush(2 * time.Second)
		}
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config, reporting bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			zlog.Error().Msgf("Failed to close store: %v", err)
		}
	}()

	sources, err := source.New(source.Config{
		PlaybackEndpoint: cfg.Sources.PlaybackEndpoint,
		DownloadEndpoint: cfg.Sources.DownloadEndpoint,
		ProbeLink:        cfg.Sources.ProbeLink,
		Timeout:          cfg.SourceTimeout(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create source client")
	}

	// Spotify is only needed by the spotify and lastfm catalog providers
	var spotifyClient catalog.SpotifyClient
	if cfg.NeedsSpotify() {
		sc, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		spotifyClient = sc
	}

	chain, err := catalog.NewChainFromConfig(cfg, spotifyClient)
	if err != nil {
		return errors.Wrap(err, "failed to create catalog")
	}

	deps := player.Deps{
		Store:    st,
		Playback: sources,
		Catalog:  chain,
	}
	// Tokens are probed against the download provider
	if cfg.Sources.DownloadEndpoint != "" {
		deps.Download = sources
		deps.Prober = sources
	}

	feeds := make([]player.Feed, 0, len(cfg.Catalog.Feeds))
	for _, f := range cfg.Catalog.Feeds {
		feeds = append(feeds, player.Feed{Title: f.Title, Query: f.Query})
	}

	core, err := player.New(player.Config{
		CacheTTL:            cfg.CacheTTL(),
		HistoryLimit:        cfg.Player.HistoryLimit,
		PlayLimit:           cfg.Player.PlayLimit,
		DownloadLimit:       cfg.Player.DownloadLimit,
		CompletionThreshold: cfg.Player.CompletionThreshold,
		WarmCount:           cfg.Player.WarmCount,
		ResultLimit:         cfg.Catalog.ResultLimit,
		Feeds:               feeds,
	}, deps)
	if err != nil {
		return errors.Wrap(err, "failed to create player core")
	}
	// Closed before the store so that in-flight work can persist
	defer core.Close()

	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	routerConfig := httpapi.Config{Token: cfg.Server.Token}
	if reporting {
		routerConfig.Middleware = append(routerConfig.Middleware, sentry.Middleware())
	}
	router := httpapi.NewRouter(core, routerConfig)

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the signal context so that event streams close on shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Channel to capture server errors
	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s auth=%v", cfg.Server.Addr, cfg.Server.Token != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	if reporting {
		sentry.Flush(2 * time.Second)
	}
	zlog.Info().Msg("Server stopped")
	return nil
}

// openStore opens the durable store selected by cfg.
func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		zlog.Warn().Msg("Using in-memory store, state is lost on restart")
		return store.NewMemory(), nil
	default:
		st, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open store %s", cfg.Path)
		}
		zlog.Info().Msgf("Opened store: path=%s", cfg.Path)
		return st, nil
	}
}
