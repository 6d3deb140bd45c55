package conversation

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes old operational records.
type Pruner interface {
	CleanupDispatches(ctx context.Context, retention time.Duration) (int64, error)
}

// SweepConfig controls the idle sweeper.
type SweepConfig struct {
	Interval  time.Duration
	TTL       time.Duration
	Retention time.Duration
}

// RunSweeper periodically drops idle conversations and prunes dispatch records
// older than the retention window. It blocks until ctx is done. pruner may be nil.
func RunSweeper(ctx context.Context, reg *Registry, pruner Pruner, cfg SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	slog.Info("Conversation sweeper started", "interval", cfg.Interval, "ttl", cfg.TTL, "retention", cfg.Retention)

	for {
		select {
		case <-ticker.C:
			sweepOnce(ctx, reg, pruner, cfg)
		case <-ctx.Done():
			slog.Info("Conversation sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}

// StartSweeper runs RunSweeper in a goroutine. The returned channel is closed
// once the sweeper has exited.
func StartSweeper(ctx context.Context, reg *Registry, pruner Pruner, cfg SweepConfig) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunSweeper(ctx, reg, pruner, cfg)
	}()
	return done
}

func sweepOnce(ctx context.Context, reg *Registry, pruner Pruner, cfg SweepConfig) {
	if removed := reg.Sweep(cfg.TTL); removed > 0 {
		slog.Info("Sweeper dropped idle conversations", "count", removed, "remaining", reg.Len())
	}

	if pruner == nil || cfg.Retention <= 0 {
		return
	}
	deleted, err := pruner.CleanupDispatches(ctx, cfg.Retention)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Sweeper failed to prune dispatch records", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Sweeper pruned dispatch records", "count", deleted)
	}
}
