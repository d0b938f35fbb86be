// ABOUTME: Aggregate tool call statistics over a trailing time window.
// ABOUTME: Computes call count, success rate, average duration and a per-tool breakdown.

package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/panorama/internal/store"
)

// DefaultStatsWindow is the look-back used when Stats gets a zero window.
const DefaultStatsWindow = 60 * time.Minute

// LogQuerier exposes the audit store's time-range query.
type LogQuerier interface {
	ListToolCalls(ctx context.Context, f store.ToolCallFilter) ([]store.ToolCallLog, error)
}

// ToolStats is the breakdown for one tool.
type ToolStats struct {
	Calls         int     `json:"calls"`
	Errors        int     `json:"errors"`
	AvgDurationMs float64 `json:"avgDurationMs"`
}

// CallStats summarizes tool calls since a cutoff.
type CallStats struct {
	Since         time.Time             `json:"since"`
	TotalCalls    int                   `json:"totalCalls"`
	SuccessRate   float64               `json:"successRate"`
	AvgDurationMs float64               `json:"avgDurationMs"`
	ByTool        map[string]*ToolStats `json:"byTool"`
}

// Stats aggregates the tool calls logged in the window ending at now. An empty
// window yields zero rates rather than NaN.
func Stats(ctx context.Context, q LogQuerier, window time.Duration, now time.Time) (*CallStats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	since := now.Add(-window)

	logs, err := q.ListToolCalls(ctx, store.ToolCallFilter{Since: &since, Limit: -1})
	if err != nil {
		return nil, fmt.Errorf("listing tool calls: %w", err)
	}

	stats := &CallStats{
		Since:  since,
		ByTool: make(map[string]*ToolStats),
	}

	var succeeded int
	var totalDuration int64
	for _, l := range logs {
		stats.TotalCalls++
		totalDuration += l.DurationMs
		if l.Success {
			succeeded++
		}

		ts := stats.ByTool[l.ToolName]
		if ts == nil {
			ts = &ToolStats{}
			stats.ByTool[l.ToolName] = ts
		}
		ts.Calls++
		if !l.Success {
			ts.Errors++
		}
		ts.AvgDurationMs += float64(l.DurationMs)
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.TotalCalls)
		stats.AvgDurationMs = float64(totalDuration) / float64(stats.TotalCalls)
	}
	for _, ts := range stats.ByTool {
		ts.AvgDurationMs /= float64(ts.Calls)
	}
	return stats, nil
}
