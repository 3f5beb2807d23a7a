// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cscc/cricket-bridge/pkg/bus"
	"github.com/cscc/cricket-bridge/pkg/config"
	"github.com/cscc/cricket-bridge/pkg/filter"
	"github.com/cscc/cricket-bridge/pkg/forwarder"
	"github.com/cscc/cricket-bridge/pkg/health"
	"github.com/cscc/cricket-bridge/pkg/logging"
	"github.com/cscc/cricket-bridge/pkg/metrics"
	"github.com/cscc/cricket-bridge/pkg/relay"
	"github.com/cscc/cricket-bridge/pkg/server"
	"github.com/cscc/cricket-bridge/pkg/session"
	"github.com/cscc/cricket-bridge/pkg/transport"
)

func serveCmd() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeBackends, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackends()
	slog.Info("session storage", "backend", store.Kind())

	broker := bus.NewMessageBus()

	filt := filter.New(filter.Options{
		TriggerPrefix:  cfg.TriggerPrefix,
		MentionTrigger: cfg.MentionTrigger,
		AllowedGroups:  cfg.AllowedGroups,
		Burst:          cfg.RateLimitBurst,
		Window:         cfg.RateLimitWindow,
	})
	fwd := forwarder.New(cfg.AgentBaseURL, cfg.RelayToken)
	rec := metrics.NewRecorder()

	client := transport.NewClient(cfg.SocketURL, store, broker, transport.Options{
		MaxReconnects:  cfg.ReconnectAttempts,
		ReconnectDelay: cfg.ReconnectDelay,
	})
	rel := relay.New(broker, filt, fwd, rec, client)
	srv := server.New(cfg.Port, cfg.RelayToken, fwd, filt, rec, client)

	watcher, err := health.NewWatcher(fwd, cfg.HealthCron)
	if err != nil {
		return err
	}

	sweepStop := make(chan struct{})
	go filt.Run(sweepStop)
	defer close(sweepStop)

	go rel.Run(ctx)
	go client.DeliverReplies(ctx, broker)
	go watcher.Run(ctx)

	// The HTTP surface and the transport session are independently
	// resilient: a terminal transport failure leaves /healthz and /relay
	// serving so operators can still reach the bridge.
	transportDone := make(chan error, 1)
	go func() { transportDone <- client.Run(ctx) }()

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverDone:
		if err != nil {
			slog.Error("http surface failed", "error", err)
			cancel()
			return err
		}
	case err := <-transportDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("transport stopped", "error", err)
			// Keep serving HTTP; operators need /healthz to see the state.
			<-ctx.Done()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	broker.Close()
	return nil
}

// buildSessionStore wires the configured backends in priority order: blob
// storage first, then the secret store.
func buildSessionStore(ctx context.Context, cfg *config.Config) (*session.Store, func(), error) {
	var backends []session.Backend
	var closers []func() error

	if cfg.SessionBucket != "" {
		gcs, err := session.NewGCSBackend(ctx, cfg.SessionBucket)
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, gcs)
		closers = append(closers, gcs.Close)
	}
	if cfg.SessionSecret != "" {
		sm, err := session.NewSecretManagerBackend(ctx, cfg.SessionSecret)
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, sm)
		closers = append(closers, sm.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Debug("backend close failed", "error", err)
			}
		}
	}
	return session.NewStore(backends...), closeAll, nil
}
