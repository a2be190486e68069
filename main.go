package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/llehouerou/waves-connect/internal/app"
	"github.com/llehouerou/waves-connect/internal/config"
	"github.com/llehouerou/waves-connect/internal/dealer"
	"github.com/llehouerou/waves-connect/internal/lastfm"
	"github.com/llehouerou/waves-connect/internal/metrics"
	"github.com/llehouerou/waves-connect/internal/playback"
	"github.com/llehouerou/waves-connect/internal/state"
	"github.com/llehouerou/waves-connect/internal/token"
	"github.com/llehouerou/waves-connect/internal/trackplayback"
)

// pendingScrobbleMaxAge bounds how long failed scrobbles are kept.
const pendingScrobbleMaxAge = 14 * 24 * time.Hour

var lastfmLogin = flag.Bool("lastfm-login", false, "Authorize Last.fm scrobbling and print the session key")

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if *lastfmLogin {
		err = loginLastfm(ctx, cfg)
	} else {
		err = run(ctx, cfg, newLogger(cfg.LogLevel))
	}
	stop()

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(lvl).With().Timestamp().Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	stateMgr, err := state.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer stateMgr.Close()

	if err := stateMgr.DeleteOldPendingScrobbles(pendingScrobbleMaxAge); err != nil {
		logger.Warn().Err(err).Msg("prune pending scrobbles")
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID, err = stateMgr.DeviceID(ctx, newDeviceID)
		if err != nil {
			return fmt.Errorf("device id: %w", err)
		}
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	tokens := tokenProvider(cfg, logger)
	d := dealer.New(tokens, dealer.Options{
		URL:               cfg.DealerURL,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		PongTimeout:       cfg.Heartbeat.Timeout,
		Logger:            logger,
	})
	api := trackplayback.NewClient(cfg.APIURL, tokens, logger)

	session, err := playback.New(d, api, playback.Options{
		DeviceID: deviceID,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	opts := app.Options{
		DeviceName:  cfg.DeviceName,
		MetricsAddr: cfg.MetricsAddr,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logger,
	}
	if cfg.HasLastfmConfig() {
		client := lastfm.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret)
		client.SetSessionKey(cfg.Lastfm.SessionKey)
		opts.Scrobbler = lastfm.NewScrobbler(client, stateMgr, logger)
	}

	logger.Info().
		Str("device_id", deviceID).
		Str("name", cfg.DeviceName).
		Bool("scrobbling", opts.Scrobbler != nil).
		Msg("starting")
	return app.New(session, stateMgr, opts).Run(ctx)
}

func tokenProvider(cfg *config.Config, logger zerolog.Logger) dealer.TokenProvider {
	if !cfg.HasRefreshCredentials() {
		return token.Static(cfg.Credentials.AccessToken)
	}
	return token.NewRefreshProvider(token.RefreshConfig{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		RefreshToken: cfg.Credentials.RefreshToken,
		TokenURL:     cfg.TokenURL,
		AccessToken:  cfg.Credentials.AccessToken,
		OnToken:      func(string) {
			logger.Debug().Msg("access token refreshed")
		},
	})
}

// newDeviceID returns 32 lowercase hex characters.
func newDeviceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func loginLastfm(ctx context.Context, cfg *config.Config) error {
	if cfg.Lastfm.APIKey == "" || cfg.Lastfm.APISecret == "" {
		return errors.New("lastfm api_key and api_secret must be configured")
	}

	client := lastfm.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret)
	fmt.Println("Opening the Last.fm authorization page in your browser...")
	user, sessionKey, err := lastfm.Login(ctx, client, lastfm.DefaultAuthAddr, lastfm.OpenBrowser)
	if err != nil {
		return err
	}

	fmt.Printf("Authorized as %s. Add this to the [lastfm] section of your config:\n", user)
	fmt.Printf("session_key = %q\n", sessionKey)
	return nil
}
