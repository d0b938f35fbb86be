// ABOUTME: Tool call audit log store methods for the tool_call_logs table
// ABOUTME: Append-only inserts, filtered listing newest first, and retention pruning

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is a fixed-width UTC layout so stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

// InsertToolCall appends a new entry to the tool call log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) InsertToolCall(ctx context.Context, l *ToolCallLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	if l.Policy == "" {
		l.Policy = "read"
	}

	argsJSON := []byte("{}")
	if l.Args != nil {
		data, err := json.Marshal(l.Args)
		if err != nil {
			return fmt.Errorf("marshaling tool call args: %w", err)
		}
		argsJSON = data
	}

	var metadataJSON *string
	if l.Metadata != nil {
		data, err := json.Marshal(l.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling tool call metadata: %w", err)
		}
		str := string(data)
		metadataJSON = &str
	}

	query := `
		INSERT INTO tool_call_logs (id, tool_name, args_json, success, error, duration_ms, result_size, source, policy, ts, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		l.ID,
		l.ToolName,
		string(argsJSON),
		l.Success,
		nullString(l.Error),
		l.DurationMs,
		l.ResultSize,
		l.Source,
		l.Policy,
		formatTS(l.Timestamp),
		metadataJSON,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting tool call log: %w", err)
	}

	s.logger.Debug("appended tool call log",
		"id", l.ID,
		"tool_name", l.ToolName,
		"success", l.Success,
	)
	return nil
}

// normalizeLimit applies default (100) and cap (1000). Negative means unlimited,
// which SQLite spells LIMIT -1.
func normalizeLimit(limit int) int {
	switch {
	case limit < 0:
		return -1
	case limit == 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanToolCall scans a row into a ToolCallLog.
func scanToolCall(scanner interface{ Scan(dest ...any) error }) (ToolCallLog, error) {
	var l ToolCallLog
	var argsJSON, tsStr string
	var errStr, metadataJSON *string

	if err := scanner.Scan(
		&l.ID,
		&l.ToolName,
		&argsJSON,
		&l.Success,
		&errStr,
		&l.DurationMs,
		&l.ResultSize,
		&l.Source,
		&l.Policy,
		&tsStr,
		&metadataJSON,
	); err != nil {
		return l, fmt.Errorf("scanning tool call log: %w", err)
	}

	var err error
	l.Timestamp, err = parseTS(tsStr)
	if err != nil {
		return l, fmt.Errorf("parsing timestamp: %w", err)
	}
	if errStr != nil {
		l.Error = *errStr
	}
	if err := json.Unmarshal([]byte(argsJSON), &l.Args); err != nil {
		return l, fmt.Errorf("unmarshaling args: %w", err)
	}
	if metadataJSON != nil {
		if err := json.Unmarshal([]byte(*metadataJSON), &l.Metadata); err != nil {
			return l, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return l, nil
}

const toolCallQuery = `
	SELECT id, tool_name, args_json, success, error, duration_ms, result_size, source, policy, ts, metadata_json
	FROM tool_call_logs
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR tool_name = ?)
	  AND (? IS NULL OR source = ?)
	  AND (? IS NULL OR success = ?)
	ORDER BY ts DESC
	LIMIT ?`

// ListToolCalls retrieves tool call logs matching the filter, newest first.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, f ToolCallFilter) ([]ToolCallLog, error) {
	var sinceStr, untilStr *string
	if f.Since != nil {
		v := formatTS(*f.Since)
		sinceStr = &v
	}
	if f.Until != nil {
		v := formatTS(*f.Until)
		untilStr = &v
	}

	rows, err := s.db.QueryContext(ctx, toolCallQuery,
		sinceStr, sinceStr,
		untilStr, untilStr,
		f.ToolName, f.ToolName,
		f.Source, f.Source,
		f.Success, f.Success,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying tool call logs: %w", err)
	}
	defer rows.Close()

	var logs []ToolCallLog
	for rows.Next() {
		l, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool call logs: %w", err)
	}
	return logs, nil
}

// PruneToolCalls deletes entries older than before and returns how many were removed.
func (s *SQLiteStore) PruneToolCalls(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_call_logs WHERE ts < ?`, formatTS(before))
	if err != nil {
		return 0, fmt.Errorf("pruning tool call logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned tool call logs: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned tool call logs", "count", n, "before", before.UTC())
	}
	return n, nil
}
