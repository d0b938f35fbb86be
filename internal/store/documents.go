// ABOUTME: Workspace document persistence in the documents table
// ABOUTME: Stores JSON bodies with tagged dates and evaluates selectors in-process

package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/panorama/internal/selector"
)

// Document fields maintained by the store.
const (
	FieldID        = "_id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// dateTag marks an encoded time.Time inside a JSON document body.
const dateTag = "$date"

// encodeDates replaces time.Time values with {"$date": RFC3339Nano} recursively.
func encodeDates(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{dateTag: x.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = encodeDates(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = encodeDates(item)
		}
		return out
	}
	return v
}

// decodeDates reverses encodeDates on a decoded JSON value.
func decodeDates(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if raw, ok := x[dateTag].(string); ok && len(x) == 1 {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				return t
			}
		}
		for k, item := range x {
			x[k] = decodeDates(item)
		}
		return x
	case []any:
		for i, item := range x {
			x[i] = decodeDates(item)
		}
		return x
	}
	return v
}

func marshalDocument(data map[string]any) (string, error) {
	b, err := json.Marshal(encodeDates(data))
	if err != nil {
		return "", fmt.Errorf("marshaling document: %w", err)
	}
	return string(b), nil
}

func unmarshalDocument(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	decodeDates(data)
	return data, nil
}

// InsertDocument stores a new document. ID, timestamps and the mirrored
// _id/createdAt/updatedAt fields are filled in when missing.
func (s *SQLiteStore) InsertDocument(ctx context.Context, doc *Document) error {
	prepareInsert(doc, time.Now().UTC())

	body, err := marshalDocument(doc.Data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, collection, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, doc.ID, doc.Collection, body, formatTS(doc.CreatedAt), formatTS(doc.UpdatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

func prepareInsert(doc *Document, now time.Time) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	data := make(map[string]any, len(doc.Data)+3)
	maps.Copy(data, doc.Data)
	data[FieldID] = doc.ID
	data[FieldCreatedAt] = doc.CreatedAt
	data[FieldUpdatedAt] = doc.UpdatedAt
	doc.Data = data
}

// UpdateDocument merges fields into an existing document and bumps updatedAt.
// A nil field value removes the key.
func (s *SQLiteStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]any) (*Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	doc, err := getDocument(ctx, tx, collection, id)
	if err != nil {
		return nil, err
	}
	applyUpdate(doc, fields, time.Now().UTC())

	body, err := marshalDocument(doc.Data)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data_json = ?, updated_at = ? WHERE collection = ? AND id = ?
	`, body, formatTS(doc.UpdatedAt), collection, id); err != nil {
		return nil, fmt.Errorf("updating document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return doc, nil
}

func applyUpdate(doc *Document, fields map[string]any, now time.Time) {
	for k, v := range fields {
		switch k {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		if v == nil {
			delete(doc.Data, k)
			continue
		}
		doc.Data[k] = v
	}
	doc.UpdatedAt = now
	doc.Data[FieldUpdatedAt] = now
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryer, collection, id string) (*Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, collection, data_json, created_at, updated_at
		FROM documents WHERE collection = ? AND id = ?
	`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var doc Document
	var body, createdStr, updatedStr string
	if err := scanner.Scan(&doc.ID, &doc.Collection, &body, &createdStr, &updatedStr); err != nil {
		return nil, err
	}
	var err error
	if doc.Data, err = unmarshalDocument(body); err != nil {
		return nil, err
	}
	if doc.CreatedAt, err = parseTS(createdStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if doc.UpdatedAt, err = parseTS(updatedStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &doc, nil
}

// GetDocument retrieves a document by collection and id.
func (s *SQLiteStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	return getDocument(ctx, s.db, collection, id)
}

// FindDocuments returns the documents of collection matching sel.
func (s *SQLiteStore) FindDocuments(ctx context.Context, collection string, sel selector.Selector, opts FindOptions) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, data_json, created_at, updated_at
		FROM documents WHERE collection = ?
		ORDER BY created_at
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if selector.Match(doc.Data, sel) {
			docs = append(docs, *doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return sortAndLimit(docs, opts), nil
}

// sortAndLimit orders docs by opts.SortField (createdAt by default). Documents
// missing the field sort last in either direction.
func sortAndLimit(docs []Document, opts FindOptions) []Document {
	field := opts.SortField
	if field == "" {
		field = FieldCreatedAt
	}
	slices.SortStableFunc(docs, func(a, b Document) int {
		av, aok := a.Data[field]
		bv, bok := b.Data[field]
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		}
		c := compareValues(av, bv)
		if opts.Desc {
			return -c
		}
		return c
	})
	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}
	return docs
}

// compareValues orders two field values. A native time and a date string compare
// by calendar day in UTC. Other mixed kinds order time, number, string, then anything else.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return av.Compare(bv)
		case string:
			if bt, ok := selector.ParseTime(bv); ok {
				return compareDays(av, bt)
			}
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		switch bv := b.(type) {
		case string:
			return strings.Compare(av, bv)
		case time.Time:
			if at, ok := selector.ParseTime(av); ok {
				return compareDays(at, bv)
			}
		}
	}
	if ra, rb := kindRank(a), kindRank(b); ra != rb {
		return cmp.Compare(ra, rb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareDays(a, b time.Time) int {
	return strings.Compare(a.UTC().Format(selector.DateLayout), b.UTC().Format(selector.DateLayout))
}

func kindRank(v any) int {
	switch v.(type) {
	case time.Time:
		return 0
	case float64:
		return 1
	case string:
		return 2
	}
	return 3
}
