package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/cscc/cricket-bridge/pkg/forwarder"
)

// Watcher probes the upstream agent's health endpoint on a cron schedule and
// logs availability transitions. The relay keeps working regardless; the
// watcher only feeds diagnostics.
type Watcher struct {
	fwd  *forwarder.Forwarder
	expr string

	up     atomic.Bool
	probed atomic.Bool
}

func NewWatcher(fwd *forwarder.Forwarder, cronExpr string) (*Watcher, error) {
	g := gronx.New()
	if !g.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid health cron expression %q", cronExpr)
	}
	return &Watcher{fwd: fwd, expr: cronExpr}, nil
}

// Run probes immediately, then once per minute whenever the schedule is due,
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.probe(ctx)

	g := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := g.IsDue(w.expr)
			if err != nil {
				slog.Warn("health schedule evaluation failed", "error", err)
				continue
			}
			if due {
				w.probe(ctx)
			}
		}
	}
}

func (w *Watcher) probe(ctx context.Context) {
	ok := w.fwd.HealthCheck(ctx)
	first := !w.probed.Swap(true)
	was := w.up.Swap(ok)

	if first || was != ok {
		if ok {
			slog.Info("upstream agent is up")
		} else {
			slog.Warn("upstream agent is down")
		}
	}
}

// Up reports the last probe's result. False until the first probe completes.
func (w *Watcher) Up() bool {
	return w.up.Load()
}
