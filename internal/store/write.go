package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/orchd/internal/task"
)

// Table is a handle on one table of one database.
type Table struct {
	s    *Store
	db   string
	name string
}

// DB returns the database name.
func (t *Table) DB() string { return t.db }

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Set merges fields into the row for key, creating it if absent, and
// appends a SET change carrying exactly fields. Existing fields keep their
// position; new fields are appended.
func (t *Table) Set(ctx context.Context, key string, fields []task.FieldValue) error {
	err := t.tx(ctx, func(tx *sql.Tx) error {
		current, _, err := getFields(ctx, tx, t.db, t.name, key)
		if err != nil {
			return err
		}
		merged := mergeFields(current, fields)
		rowJSON, err := marshalFields(merged)
		if err != nil {
			return err
		}
		changeJSON, err := marshalFields(fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (db, tbl, key, fields) VALUES (?, ?, ?, ?)
			ON CONFLICT(db, tbl, key) DO UPDATE SET fields = excluded.fields
		`, t.db, t.name, key, rowJSON); err != nil {
			return fmt.Errorf("upsert entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO changes (db, tbl, key, op, fields) VALUES (?, ?, ?, 'SET', ?)
		`, t.db, t.name, key, changeJSON); err != nil {
			return fmt.Errorf("append change: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s|%s|%s: %w", t.db, t.name, key, err)
	}
	t.s.notify(t.db, t.name)
	return nil
}

// Del removes the row for key and appends a DEL change. Deleting a missing
// key still appends the change, so consumers always see the intent.
func (t *Table) Del(ctx context.Context, key string) error {
	err := t.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM entries WHERE db = ? AND tbl = ? AND key = ?
		`, t.db, t.name, key); err != nil {
			return fmt.Errorf("delete entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO changes (db, tbl, key, op, fields) VALUES (?, ?, ?, 'DEL', '[]')
		`, t.db, t.name, key); err != nil {
			return fmt.Errorf("append change: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("del %s|%s|%s: %w", t.db, t.name, key, err)
	}
	t.s.notify(t.db, t.name)
	return nil
}

// Apply writes a Task: Set for an upsert, Del for a delete.
func (t *Table) Apply(ctx context.Context, tk task.Task) error {
	if tk.Op == task.OpDelete {
		return t.Del(ctx, tk.Key)
	}
	return t.Set(ctx, tk.Key, tk.Fields)
}

// SetKV is Set with alternating field/value strings.
func (t *Table) SetKV(ctx context.Context, key string, kv ...string) error {
	return t.Set(ctx, key, task.Pairs(kv...))
}

func (t *Table) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := t.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func mergeFields(current, update []task.FieldValue) []task.FieldValue {
	out := append([]task.FieldValue(nil), current...)
	for _, fv := range update {
		replaced := false
		for i := range out {
			if out[i].Field == fv.Field {
				out[i].Value = fv.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, fv)
		}
	}
	return out
}
