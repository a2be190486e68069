// Package app runs a connect device: it keeps the push channel up,
// registers the device on every new connection and reacts to session
// events.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/llehouerou/waves-connect/internal/playback"
	"github.com/llehouerou/waves-connect/internal/state"
)

const (
	// ReconnectDelay is the pause before reconnecting after the channel
	// went away.
	ReconnectDelay = time.Second

	minBackoff        = time.Second
	maxBackoff        = time.Minute
	registerTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var errSessionClosed = errors.New("session closed")

// Options configures an App.
type Options struct {
	DeviceName string

	// MetricsAddr enables the /metrics endpoint when set.
	MetricsAddr string
	Gatherer    prometheus.Gatherer

	// Scrobbler is optional.
	Scrobbler Scrobbler

	Logger zerolog.Logger
}

// App ties a session to local storage and the optional side services.
type App struct {
	session Session
	store   Store
	opts    Options
	log     zerolog.Logger

	reconnect   chan struct{}
	connectedAt time.Time
}

// New creates an app for session.
func New(session Session, store Store, opts Options) *App {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &App{
		session:   session,
		store:     store,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "app").Logger(),
		reconnect: make(chan struct{}, 1),
	}
}

// Run connects the session and serves until ctx is done or the session
// closes. The session is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer a.session.Close()

	// Subscribe before connecting so the first ready event is not missed.
	events := a.session.Subscribe()
	var scrobbles *playback.Subscription
	if a.opts.Scrobbler != nil {
		scrobbles = a.session.Subscribe()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.connectLoop(ctx) })
	g.Go(func() error { return a.eventLoop(ctx, events) })
	if scrobbles != nil {
		g.Go(func() error { return a.opts.Scrobbler.Run(ctx, scrobbles) })
	}
	if a.opts.MetricsAddr != "" {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

// MetricsHandler serves the gathered metrics.
func (a *App) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.opts.Gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	return mux
}

func (a *App) connectLoop(ctx context.Context) error {
	backoff := minBackoff
	attempt := 1
	for {
		err := a.session.Connect(ctx)
		if err == nil {
			backoff = minBackoff
			attempt = 1
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.reconnect:
			}
			if !sleep(ctx, ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.log.Warn().
			Err(err).
			Str("attempt", humanize.Ordinal(attempt)).
			Dur("retry_in", backoff).
			Msg("connect failed")
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
		attempt++
	}
}

func (a *App) eventLoop(ctx context.Context, sub *playback.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Done:
			return errSessionClosed
		case e := <-sub.Events:
			a.handleEvent(ctx, e)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, e playback.Event) {
	switch e := e.(type) {
	case playback.ReadyEvent:
		a.connectedAt = time.Now()
		a.register(ctx)

	case playback.CloseEvent:
		ev := a.log.Info().Bool("was_active", a.session.State().IsActive())
		if !a.connectedAt.IsZero() {
			ev = ev.Str("connected", humanize.Time(a.connectedAt))
		}
		ev.Msg("channel closed")
		a.connectedAt = time.Time{}
		select {
		case a.reconnect <- struct{}{}:
		default:
		}

	case playback.VolumeEvent:
		a.store.SaveVolume(e.Volume)

	case playback.FetchPositionEvent:
		e.Reply(a.session.Position())

	case playback.PlayEvent:
		ev := a.log.Info().
			Dur("position", e.Position).
			Bool("paused", e.Paused).
			Stringer("repeat", a.session.RepeatMode()).
			Bool("shuffle", a.session.Shuffle())
		if e.Track != nil {
			ev = ev.Str("title", e.Track.Title).Str("artist", e.Track.Artist)
		}
		ev.Msg("play")

	case playback.SeekEvent:
		a.log.Debug().Dur("position", e.Position).Msg("seek")

	default:
		a.log.Debug().Str("event", e.Name()).Msg("session event")
	}
}

func (a *App) register(ctx context.Context) {
	volume, err := a.store.GetVolume()
	if err != nil {
		a.log.Warn().Err(err).Msg("read saved volume")
		volume = state.DefaultVolume
	}

	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()
	if err := a.session.RegisterDevice(ctx, a.opts.DeviceName, volume); err != nil {
		a.log.Error().Err(err).Msg("device registration failed")
		return
	}
	a.log.Info().Str("name", a.opts.DeviceName).Int("volume", volume).Msg("device registered")
}

func (a *App) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.opts.MetricsAddr,
		Handler:           a.MetricsHandler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info().Str("addr", a.opts.MetricsAddr).Msg("serving metrics")

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
