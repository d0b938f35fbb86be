// Package middleware wraps tool handlers with loop detection and audit logging.
//
// # Loop Guard
//
// LoopGuard keeps a sliding window of call timestamps per tool name. When a
// tool has been called Threshold times (default 10) within Window (default
// 2s), further calls fail with *RateLimitError until older calls leave the
// window. Rejected attempts are not recorded, so spacing calls more than the
// window apart never trips the guard. A goroutine prunes idle windows every
// PruneInterval (default 60s).
//
// # Audit
//
// Every wrapped call, including rejected and failed ones, produces a
// ToolCallLog and a "tool-call" slog line. Logs are handed to a Recorder: a
// bounded queue (default 256) drained by one worker goroutine. A full queue
// drops the entry and store errors are logged, so auditing never blocks or
// fails a tool call.
//
// # Usage
//
//	guard := middleware.NewLoopGuard(middleware.LoopGuardConfig{})
//	defer guard.Close()
//	rec := middleware.NewRecorder(store, 0, logger)
//	defer rec.Close()
//
//	mw := middleware.New(guard, rec, logger)
//	h := mw.Wrap("tool_tasks", handler, middleware.Options{Source: middleware.SourceChat})
package middleware
