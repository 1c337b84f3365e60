// Package position keeps the dense 1..n "position" column of ordered rows.
//
// Every ordered table in the schema is scoped (per teacher, per course, per
// quiz ...). Callers describe the scope with a Scope and run these helpers
// inside the transaction that inserts, deletes or reorders rows.
package position

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ahmednader515/alkian-sub001/internal/db"
)

var ErrInvalidOrder = errors.New("ids do not match the rows in scope")

// Scope selects the sibling rows sharing one position sequence. Table and
// Where come from code, never from user input. Where uses $1..$n for Args.
type Scope struct {
	Table string
	Where string
	Args  []interface{}
}

func (s Scope) key() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Table)
	for _, a := range s.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, ":")
}

func (s Scope) nextArg() string {
	return fmt.Sprintf("$%d", len(s.Args)+1)
}

// Lock serializes writers of one scope until the surrounding transaction ends.
func Lock(ctx context.Context, q db.Queryable, s Scope) error {
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.key()); err != nil {
		return fmt.Errorf("lock %s scope: %w", s.Table, err)
	}
	return nil
}

// Next returns max(position)+1 for the scope, 1 when it is empty.
func Next(ctx context.Context, q db.Queryable, s Scope) (int, error) {
	var next int
	query := fmt.Sprintf(`SELECT COALESCE(MAX(position), 0) + 1 FROM %s WHERE %s`, s.Table, s.Where)
	if err := q.QueryRowContext(ctx, query, s.Args...).Scan(&next); err != nil {
		return 0, fmt.Errorf("next %s position: %w", s.Table, err)
	}
	return next, nil
}

// CloseGap shifts rows after a removed position down by one.
func CloseGap(ctx context.Context, q db.Queryable, s Scope, removed int) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET position = position - 1, updated_at = now()
		WHERE %s AND position > %s
	`, s.Table, s.Where, s.nextArg())
	args := append(append([]interface{}{}, s.Args...), removed)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("close %s position gap: %w", s.Table, err)
	}
	return nil
}

// Reorder rewrites positions so that ordered[i] gets position i+1. ordered
// must name every row of the scope exactly once.
func Reorder(ctx context.Context, q db.Queryable, s Scope, ordered []int64) error {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s WHERE %s FOR UPDATE`, s.Table, s.Where), s.Args...)
	if err != nil {
		return fmt.Errorf("load %s ids: %w", s.Table, err)
	}
	existing := make([]int64, 0, len(ordered))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s id: %w", s.Table, err)
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s ids: %w", s.Table, err)
	}

	plan, err := Plan(existing, ordered)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET position = $1, updated_at = now() WHERE id = $2`, s.Table)
	for _, id := range ordered {
		if _, err := q.ExecContext(ctx, query, plan[id], id); err != nil {
			return fmt.Errorf("update %s position: %w", s.Table, err)
		}
	}
	return nil
}

// Plan maps each id of ordered to its new 1-based position after checking
// that ordered is a permutation of existing.
func Plan(existing, ordered []int64) (map[int64]int, error) {
	if len(existing) != len(ordered) {
		return nil, ErrInvalidOrder
	}
	known := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		known[id] = struct{}{}
	}
	plan := make(map[int64]int, len(ordered))
	for i, id := range ordered {
		if _, ok := known[id]; !ok {
			return nil, ErrInvalidOrder
		}
		if _, dup := plan[id]; dup {
			return nil, ErrInvalidOrder
		}
		plan[id] = i + 1
	}
	return plan, nil
}
