package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/example/menu-sync/internal/types"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a reorder does not match the stored
	// collection, e.g. because another session added or removed a sibling.
	ErrConflict = errors.New("conflict")
	// ErrLimitReached is returned when a parent already holds the maximum
	// number of children of a kind.
	ErrLimitReached = errors.New("limit reached")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the authoritative menu store backed by Postgres.
type Store struct {
	pool       *pgxpool.Pool
	logger     zerolog.Logger
	maxRetries int
	retryDelay time.Duration
	limits     map[types.Kind]int

	Menus      *Collection[types.Menu]
	Categories *Collection[types.Category]
	Items      *Collection[types.Item]
	Banners    *Collection[types.Banner]
}

// Option configures the Store.
type Option func(*Store)

// WithMaxRetries sets the maximum retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// WithLimits caps the number of children per parent for each kind. Kinds
// without a positive entry are unbounded.
func WithLimits(limits map[types.Kind]int) Option {
	return func(s *Store) {
		s.limits = limits
	}
}

// WithLogger sets the logger used for slow paths and retries.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New constructs a Store using the provided Postgres pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:       pool,
		logger:     zerolog.Nop(),
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Menus = newCollection(s, menuTable)
	s.Categories = newCollection(s, categoryTable)
	s.Items = newCollection(s, itemTable)
	s.Banners = newCollection(s, bannerTable)
	return s
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// OwnerOf resolves the owner of the parent collection of kind.
func (s *Store) OwnerOf(ctx context.Context, key types.ParentKey) (string, error) {
	table, ok := tables[key.Kind]
	if !ok {
		return "", ErrNotFound
	}
	var owner string
	err := s.pool.QueryRow(ctx, table.ownerSQL, key.Parent).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return owner, err
}

// Locate returns the parent and owner of the entity id of kind.
func (s *Store) Locate(ctx context.Context, kind types.Kind, id string) (parent, owner string, err error) {
	table, ok := tables[kind]
	if !ok {
		return "", "", ErrNotFound
	}
	err = s.pool.QueryRow(ctx, `SELECT `+table.parentColumn+` FROM `+table.name+` WHERE id = $1`, id).Scan(&parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	owner, err = s.OwnerOf(ctx, types.ParentKey{Kind: kind, Parent: parent})
	return parent, owner, err
}

func (s *Store) limit(kind types.Kind) int {
	return s.limits[kind]
}

// inTx runs fn in a transaction, retrying the whole transaction on transient
// failures.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return s.retry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) retry(ctx context.Context, fn func(context.Context) error) error {
	delay := s.retryDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := fn(ctx); err != nil {
			if !isTransient(err) || attempt == s.maxRetries {
				return err
			}
			s.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying transient postgres error")
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
