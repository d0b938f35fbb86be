// ABOUTME: Background retention loop pruning expired tool call logs
// ABOUTME: Runs one pass immediately and then on every tick until the context ends

package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the retention loop runs.
const DefaultRetentionInterval = time.Hour

// RetentionConfig controls RunRetention.
type RetentionConfig struct {
	MaxAge   time.Duration // defaults to DefaultRetention
	Interval time.Duration // defaults to DefaultRetentionInterval
	Logger   *slog.Logger
	Now      func() time.Time
}

// RunRetention prunes tool call logs older than MaxAge until ctx is cancelled.
// Failures are logged and retried on the next tick.
func RunRetention(ctx context.Context, s ToolCallStore, cfg RetentionConfig) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "retention")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	prune := func() {
		cutoff := cfg.Now().Add(-cfg.MaxAge)
		n, err := s.PruneToolCalls(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				cfg.Logger.Warn("tool call retention failed", "error", err)
			}
			return
		}
		if n > 0 {
			cfg.Logger.Info("tool call retention", "pruned", n, "cutoff", cutoff)
		}
	}

	prune()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
