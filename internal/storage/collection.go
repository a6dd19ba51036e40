package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/menu-sync/internal/ordering"
	"github.com/example/menu-sync/internal/types"
)

// Entity is an orderable child row.
type Entity[T any] interface {
	ordering.Orderable[T]
	ParentID() string
	Validate() error
}

// Collection persists the children of one kind and keeps their positions
// contiguous per parent.
type Collection[T Entity[T]] struct {
	store *Store
	table table[T]

	selectSQL string
	insertSQL string
	updateSQL string
}

func newCollection[T Entity[T]](s *Store, t table[T]) *Collection[T] {
	cols := t.selectColumns()

	insertCols := append([]string{"id", t.parentColumn}, t.columns...)
	insertCols = append(insertCols, "position")
	placeholders := make([]string, len(insertCols))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sets := make([]string, len(t.columns))
	for i, col := range t.columns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
	}

	return &Collection[T]{
		store:     s,
		table:     t,
		selectSQL: `SELECT ` + cols + ` FROM ` + t.name,
		insertSQL: `INSERT INTO ` + t.name + ` (` + strings.Join(insertCols, ", ") + `) VALUES (` + strings.Join(placeholders, ", ") + `) RETURNING ` + cols,
		updateSQL: `UPDATE ` + t.name + ` SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE id = $1 RETURNING ` + cols,
	}
}

// Kind reports the kind stored in the collection.
func (c *Collection[T]) Kind() types.Kind {
	return c.table.kind
}

// List returns the children of parent ordered by position.
func (c *Collection[T]) List(ctx context.Context, parent string) ([]T, error) {
	defer c.observe(ctx, "list")()
	return c.list(ctx, c.store.pool, parent, false)
}

func (c *Collection[T]) list(ctx context.Context, q querier, parent string, forUpdate bool) ([]T, error) {
	sql := c.selectSQL + ` WHERE ` + c.table.parentColumn + ` = $1 ORDER BY position, id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := c.table.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get returns a single child by id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	defer c.observe(ctx, "get")()
	item, err := c.table.scan(c.store.pool.QueryRow(ctx, c.selectSQL+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return item, fmt.Errorf("%s %s: %w", c.table.kind, id, ErrNotFound)
	}
	return item, err
}

// Create appends item to the end of parent's collection.
func (c *Collection[T]) Create(ctx context.Context, parent string, item T) (T, error) {
	defer c.observe(ctx, "create")()

	var created T
	if err := item.Validate(); err != nil {
		return created, err
	}

	err := c.store.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM `+c.table.parentTable+` WHERE id = $1 FOR UPDATE`, parent).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s parent %s: %w", c.table.kind, parent, ErrNotFound)
		}
		if err != nil {
			return err
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM `+c.table.name+` WHERE `+c.table.parentColumn+` = $1`, parent).Scan(&count); err != nil {
			return err
		}
		if limit := c.store.limit(c.table.kind); limit > 0 && count >= limit {
			return fmt.Errorf("%s already holds %d %s: %w", parent, count, c.table.kind.Plural(), ErrLimitReached)
		}

		args := append([]any{uuid.NewString(), parent}, c.table.values(item)...)
		args = append(args, count)
		created, err = c.table.scan(tx.QueryRow(ctx, c.insertSQL, args...))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, c.table.touchSQL, parent)
		return err
	})
	if isForeignKeyViolation(err) {
		return created, fmt.Errorf("%s parent %s: %w", c.table.kind, parent, ErrNotFound)
	}
	return created, err
}

// Update replaces the editable fields of the child id. Position and parent
// are left untouched.
func (c *Collection[T]) Update(ctx context.Context, id string, item T) (T, error) {
	defer c.observe(ctx, "update")()

	var updated T
	if err := item.Validate(); err != nil {
		return updated, err
	}

	err := c.store.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		args := append([]any{id}, c.table.values(item)...)
		var err error
		updated, err = c.table.scan(tx.QueryRow(ctx, c.updateSQL, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", c.table.kind, id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, c.table.touchSQL, updated.ParentID())
		return err
	})
	return updated, err
}

// Delete removes the child id and closes the gap it leaves behind.
func (c *Collection[T]) Delete(ctx context.Context, id string) (T, error) {
	defer c.observe(ctx, "delete")()

	var deleted T
	err := c.store.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		deleted, err = c.table.scan(tx.QueryRow(ctx, `DELETE FROM `+c.table.name+` WHERE id = $1 RETURNING `+c.table.selectColumns(), id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", c.table.kind, id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		parent := deleted.ParentID()
		if _, err := tx.Exec(ctx, `UPDATE `+c.table.name+` SET position = position - 1, updated_at = now()
			WHERE `+c.table.parentColumn+` = $1 AND position > $2`, parent, deleted.OrderPosition()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, c.table.touchSQL, parent)
		return err
	})
	return deleted, err
}

// Reorder applies position updates to parent's collection. Updates may be
// partial, but the resulting positions must be exactly 0..n-1; otherwise the
// collection changed underneath the caller and ErrConflict is returned.
func (c *Collection[T]) Reorder(ctx context.Context, parent string, updates []ordering.PositionUpdate) ([]T, error) {
	defer c.observe(ctx, "reorder")()

	var after []T
	err := c.store.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		before, err := c.list(ctx, tx, parent, true)
		if err != nil {
			return err
		}

		after, err = ordering.Apply(before, updates)
		if err != nil {
			return fmt.Errorf("reorder %s of %s: %v: %w", c.table.kind.Plural(), parent, err, ErrConflict)
		}

		changed := ordering.ChangedUpdates(before, after)
		if len(changed) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, u := range changed {
			batch.Queue(`UPDATE `+c.table.name+` SET position = $1, updated_at = now() WHERE id = $2`, u.NewPosition, u.ID)
		}
		batch.Queue(c.table.touchSQL, parent)
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return nil
	})
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("reorder %s of %s: %w", c.table.kind.Plural(), parent, ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return after, nil
}

func (c *Collection[T]) observe(ctx context.Context, operation string) func() {
	start := time.Now()
	_, span := tracer.Start(ctx, "storage."+string(c.table.kind)+"."+operation)
	span.SetAttributes(attribute.String("table", c.table.name))
	return func() {
		queryLatency.WithLabelValues(c.table.name + "." + operation).Observe(time.Since(start).Seconds())
		span.End()
	}
}
