package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/azkit/azkit/pkg/arm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// busyRetries is the number of attempts for statements hitting lock
// contention from a concurrent toolkit process, on top of the driver-level
// busy timeout.
const busyRetries = 5

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database connection, enables WAL mode and configures the
// busy timeout that serializes concurrent writer processes.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// _time_format=sqlite stores time.Time in SQLite's own text format so
	// julianday() and the datetime functions can read it back.
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.path == ":memory:" {
		// An in-memory database exists per connection; keep a single one.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// isBusy reports whether err is SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// execRetry runs a statement, retrying on lock contention with a linear
// backoff. Anything past the driver busy timeout means another toolkit
// process is holding a long write; give it a little more room before
// surfacing the error to the caller.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var (
		res sql.Result
		err error
	)
	for attempt := 0; attempt < busyRetries; attempt++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !isBusy(err) {
			return res, err
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return res, err
}

// UpsertResource inserts or refreshes a resource row. The upsert is
// idempotent on resource_id and refreshes cache_expires_at with the given
// TTL on every successful call. Ownership columns (managed_by_toolkit,
// created_at, adopted_at) and discovered_at are preserved on conflict; a
// soft-deleted row that reappears at the provider is revived.
func (s *SQLiteStore) UpsertResource(ctx context.Context, r *Resource, ttl time.Duration) error {
	if err := arm.Validate(r.ResourceID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResourceID, err)
	}

	now := time.Now().UTC()
	if r.DiscoveredAt.IsZero() {
		r.DiscoveredAt = now
	}
	validated := now
	r.LastValidatedAt = &validated
	r.CacheExpiresAt = now.Add(ttl)

	props := string(r.Properties)
	if props == "" {
		props = "{}"
	}

	query := `
		INSERT INTO resources (
			resource_id, resource_type, name, resource_group, location,
			properties, provisioning_state, managed_by_toolkit,
			created_at, adopted_at, discovered_at, last_validated_at,
			cache_expires_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(resource_id) DO UPDATE SET
			resource_type = excluded.resource_type,
			name = excluded.name,
			resource_group = excluded.resource_group,
			location = excluded.location,
			properties = excluded.properties,
			provisioning_state = excluded.provisioning_state,
			last_validated_at = excluded.last_validated_at,
			cache_expires_at = excluded.cache_expires_at,
			deleted_at = NULL
	`

	_, err := s.execRetry(ctx, query,
		r.ResourceID,
		r.ResourceType,
		r.Name,
		r.ResourceGroup,
		r.Location,
		props,
		r.ProvisioningState,
		r.ManagedByToolkit,
		r.CreatedAt,
		r.AdoptedAt,
		r.DiscoveredAt,
		r.LastValidatedAt,
		r.CacheExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}

	return nil
}

const resourceColumns = `
	resource_id, resource_type, name, resource_group, location,
	properties, provisioning_state, managed_by_toolkit,
	created_at, adopted_at, discovered_at, last_validated_at,
	cache_expires_at, deleted_at
`

func scanResource(row interface {
	Scan(dest ...interface{}) error
}) (*Resource, error) {
	r := &Resource{}
	var props string
	err := row.Scan(
		&r.ResourceID,
		&r.ResourceType,
		&r.Name,
		&r.ResourceGroup,
		&r.Location,
		&props,
		&r.ProvisioningState,
		&r.ManagedByToolkit,
		&r.CreatedAt,
		&r.AdoptedAt,
		&r.DiscoveredAt,
		&r.LastValidatedAt,
		&r.CacheExpiresAt,
		&r.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Properties = []byte(props)
	return r, nil
}

// GetResource retrieves an active (non-soft-deleted) resource by its
// type/name/group coordinates. An empty group matches any group, the
// same way ListResources treats empty filters. Cache freshness is the
// caller's concern.
func (s *SQLiteStore) GetResource(ctx context.Context, resourceType, name, group string) (*Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE resource_type = ? AND name = ?
		  AND (? = '' OR resource_group = ?)
		  AND deleted_at IS NULL
	`

	r, err := scanResource(s.db.QueryRowContext(ctx, query, resourceType, name, group, group))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s/%s in group %s: %w", resourceType, name, group, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return r, nil
}

// GetResourceByID retrieves an active resource by its ID.
func (s *SQLiteStore) GetResourceByID(ctx context.Context, id string) (*Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE resource_id = ? AND deleted_at IS NULL
	`

	r, err := scanResource(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return r, nil
}

// GetResourceHistory retrieves a resource row including soft-deleted ones,
// for audit queries.
func (s *SQLiteStore) GetResourceHistory(ctx context.Context, id string) (*Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE resource_id = ?
	`

	r, err := scanResource(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource history: %w", err)
	}

	return r, nil
}

// ListResources lists active resources, optionally filtered by type and
// resource group. Empty filters match everything.
func (s *SQLiteStore) ListResources(ctx context.Context, resourceType, group string) ([]*Resource, error) {
	query := `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE deleted_at IS NULL
		  AND (? = '' OR resource_type = ?)
		  AND (? = '' OR resource_group = ?)
		ORDER BY resource_id
	`

	rows, err := s.db.QueryContext(ctx, query, resourceType, resourceType, group, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// MarkManaged flags an existing resource as toolkit-managed (adopted).
// This is a guarded update, not an upsert: it reports ErrNotFound when the
// resource is absent and is a no-op when the flag is already set.
func (s *SQLiteStore) MarkManaged(ctx context.Context, id string) error {
	query := `
		UPDATE resources
		SET managed_by_toolkit = 1,
		    adopted_at = COALESCE(adopted_at, ?)
		WHERE resource_id = ? AND deleted_at IS NULL
	`

	result, err := s.execRetry(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark resource managed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}

	return nil
}

// MarkCreated flags an existing resource as created by the toolkit.
// Guarded update, same semantics as MarkManaged.
func (s *SQLiteStore) MarkCreated(ctx context.Context, id string) error {
	query := `
		UPDATE resources
		SET managed_by_toolkit = 1,
		    created_at = COALESCE(created_at, ?)
		WHERE resource_id = ? AND deleted_at IS NULL
	`

	result, err := s.execRetry(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark resource created: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}

	return nil
}

// SoftDeleteResource marks a resource deleted without removing history.
func (s *SQLiteStore) SoftDeleteResource(ctx context.Context, id string) error {
	query := `
		UPDATE resources
		SET deleted_at = ?
		WHERE resource_id = ? AND deleted_at IS NULL
	`

	result, err := s.execRetry(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete resource: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}

	return nil
}

// InvalidateResources expires the cache of all resources whose ID matches
// the '*' glob pattern, without touching the stored data. Returns the
// number of rows invalidated.
func (s *SQLiteStore) InvalidateResources(ctx context.Context, pattern string) (int64, error) {
	query := `
		UPDATE resources
		SET cache_expires_at = ?
		WHERE resource_id LIKE ? ESCAPE '\' AND deleted_at IS NULL
	`

	// A timestamp firmly in the past forces the next read to go fresh.
	expired := time.Now().UTC().Add(-time.Hour)

	result, err := s.execRetry(ctx, query, expired, arm.GlobToLike(pattern))
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate resources: %w", err)
	}

	return result.RowsAffected()
}

// PurgeDeleted hard-deletes soft-deleted rows older than the given cutoff,
// along with their dependency edges. Explicit maintenance only.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin purge transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM dependencies
		WHERE resource_id IN (
			SELECT resource_id FROM resources
			WHERE deleted_at IS NOT NULL AND deleted_at < ?
		)
	`, olderThan); err != nil {
		return 0, fmt.Errorf("failed to purge dependency edges: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM resources
		WHERE deleted_at IS NOT NULL AND deleted_at < ?
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge resources: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return rows, nil
}

// QueryCachePut records that a list query was served fresh at now, with the
// list TTL. Used by the query layer's list cache, which is deliberately
// shorter-lived than single-resource caching.
func (s *SQLiteStore) QueryCachePut(ctx context.Context, key string, ttl time.Duration) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO query_cache (query_key, cached_at, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(query_key) DO UPDATE SET
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at
	`

	if _, err := s.execRetry(ctx, query, key, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to record query cache entry: %w", err)
	}
	return nil
}

// QueryCacheFresh reports whether a list query key is still fresh.
func (s *SQLiteStore) QueryCacheFresh(ctx context.Context, key string) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM query_cache WHERE query_key = ?`, key,
	).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check query cache: %w", err)
	}

	return expiresAt.After(time.Now().UTC()), nil
}

// QueryCacheClear drops all list-query cache entries, forcing the next
// list to go to the provider. Returns the number of entries cleared.
func (s *SQLiteStore) QueryCacheClear(ctx context.Context) (int64, error) {
	result, err := s.execRetry(ctx, `DELETE FROM query_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear query cache: %w", err)
	}
	return result.RowsAffected()
}

// Stats returns aggregate counts over the store's tables.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	query := `
		SELECT
			(SELECT COUNT(*) FROM resources WHERE deleted_at IS NULL),
			(SELECT COUNT(*) FROM resources WHERE deleted_at IS NOT NULL),
			(SELECT COUNT(*) FROM resources WHERE deleted_at IS NULL AND managed_by_toolkit = 1),
			(SELECT COUNT(*) FROM dependencies),
			(SELECT COUNT(*) FROM operations),
			(SELECT COUNT(*) FROM operations WHERE status = 'running'),
			(SELECT COUNT(*) FROM operations WHERE status = 'failed')
	`

	err := s.db.QueryRowContext(ctx, query).Scan(
		&st.ActiveResources,
		&st.DeletedResources,
		&st.ManagedResources,
		&st.DependencyEdges,
		&st.Operations,
		&st.RunningOperations,
		&st.FailedOperations,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}

	return st, nil
}
