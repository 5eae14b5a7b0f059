package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/orchd/internal/task"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row is one stored table row.
type Row struct {
	DB     string
	Table  string
	Key    string
	Fields []task.FieldValue
}

// Get returns the fields stored for key and whether the row exists.
func (t *Table) Get(ctx context.Context, key string) ([]task.FieldValue, bool, error) {
	fields, ok, err := getFields(ctx, t.s.db, t.db, t.name, key)
	if err != nil {
		return nil, false, fmt.Errorf("get %s|%s|%s: %w", t.db, t.name, key, err)
	}
	return fields, ok, nil
}

// GetField returns one field of the row for key.
func (t *Table) GetField(ctx context.Context, key, field string) (string, bool, error) {
	fields, ok, err := t.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	v, ok := task.New(key, task.OpUpsert, fields...).Get(field)
	return v, ok, nil
}

func getFields(ctx context.Context, q querier, db, table, key string) ([]task.FieldValue, bool, error) {
	var data string
	err := q.QueryRowContext(ctx, `
		SELECT fields FROM entries WHERE db = ? AND tbl = ? AND key = ?
	`, db, table, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fields, err := unmarshalFields(data)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

// Keys returns the keys of the table ordered by key.
func (t *Table) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.s.db.QueryContext(ctx, `
		SELECT key FROM entries WHERE db = ? AND tbl = ?
		ORDER BY key COLLATE BINARY ASC
	`, t.db, t.name)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Rows returns every row of the table ordered by key.
func (t *Table) Rows(ctx context.Context) ([]Row, error) {
	return t.s.Rows(ctx, t.db, t.name)
}

// Rows returns rows of db, ordered by table then key. An empty table
// selects every table of db.
func (s *Store) Rows(ctx context.Context, db, table string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT db, tbl, key, fields FROM entries
		WHERE db = ? AND (? = '' OR tbl = ?)
		ORDER BY tbl COLLATE BINARY ASC, key COLLATE BINARY ASC
	`, db, table, table)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var r Row
		var data string
		if err := rows.Scan(&r.DB, &r.Table, &r.Key, &data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if r.Fields, err = unmarshalFields(data); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Tables returns the names of the non-empty tables of db.
func (s *Store) Tables(ctx context.Context, db string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tbl FROM entries WHERE db = ?
		ORDER BY tbl COLLATE BINARY ASC
	`, db)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}
