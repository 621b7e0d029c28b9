package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) inMemory() bool {
	return c.Path == ":memory:"
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.inMemory() {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !s.cfg.inMemory() {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

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

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveIntent stores an intent. ID and CreatedAt are filled in when empty.
func (s *SQLiteStore) SaveIntent(ctx context.Context, intent *IntentRecord) error {
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	intent.CreatedAt = intent.CreatedAt.UTC()
	if intent.Digest == "" {
		intent.Digest = Digest([]byte(intent.Document))
	}

	query := `
		INSERT INTO intents (id, network_name, source, digest, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		intent.ID,
		intent.NetworkName,
		intent.Source,
		intent.Digest,
		intent.Document,
		intent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}

	return nil
}

const intentColumns = `id, network_name, source, digest, document, created_at`

func scanIntent(row interface{ Scan(...any) error }) (*IntentRecord, error) {
	intent := &IntentRecord{}
	err := row.Scan(
		&intent.ID,
		&intent.NetworkName,
		&intent.Source,
		&intent.Digest,
		&intent.Document,
		&intent.CreatedAt,
	)
	return intent, err
}

// GetIntent retrieves an intent by ID
func (s *SQLiteStore) GetIntent(ctx context.Context, id string) (*IntentRecord, error) {
	query := `SELECT ` + intentColumns + ` FROM intents WHERE id = ?`

	intent, err := scanIntent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}

	return intent, nil
}

// LatestIntent retrieves the most recently saved intent of a network.
func (s *SQLiteStore) LatestIntent(ctx context.Context, networkName string) (*IntentRecord, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM intents
		WHERE network_name = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	intent, err := scanIntent(s.db.QueryRowContext(ctx, query, networkName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intent for network %s: %w", networkName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest intent: %w", err)
	}

	return intent, nil
}

// ListIntents lists intents, newest first, with pagination
func (s *SQLiteStore) ListIntents(ctx context.Context, limit, offset int) ([]*IntentRecord, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM intents
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	intents := []*IntentRecord{}
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, intent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating intents: %w", err)
	}

	return intents, nil
}

// RecordApplied stores the outcome of a configuration push.
func (s *SQLiteStore) RecordApplied(ctx context.Context, applied *AppliedConfig) error {
	if applied.ID == "" {
		applied.ID = uuid.New().String()
	}
	if applied.AppliedAt.IsZero() {
		applied.AppliedAt = time.Now()
	}
	applied.AppliedAt = applied.AppliedAt.UTC()
	if applied.Status == "" {
		applied.Status = ApplyStatusApplied
	}
	if applied.Digest == "" {
		applied.Digest = Digest([]byte(applied.Document))
	}

	query := `
		INSERT INTO applied_configs (id, device, network_name, intent_id, digest, document, status, error, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		applied.ID,
		applied.Device,
		applied.NetworkName,
		applied.IntentID,
		applied.Digest,
		applied.Document,
		applied.Status,
		applied.Error,
		applied.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record applied configuration: %w", err)
	}

	return nil
}

const appliedColumns = `id, device, network_name, intent_id, digest, document, status, error, applied_at`

func scanApplied(row interface{ Scan(...any) error }) (*AppliedConfig, error) {
	applied := &AppliedConfig{}
	err := row.Scan(
		&applied.ID,
		&applied.Device,
		&applied.NetworkName,
		&applied.IntentID,
		&applied.Digest,
		&applied.Document,
		&applied.Status,
		&applied.Error,
		&applied.AppliedAt,
	)
	return applied, err
}

// LatestApplied retrieves the last successful push to a device.
func (s *SQLiteStore) LatestApplied(ctx context.Context, device string) (*AppliedConfig, error) {
	query := `
		SELECT ` + appliedColumns + `
		FROM applied_configs
		WHERE device = ? AND status = 'applied'
		ORDER BY applied_at DESC, rowid DESC
		LIMIT 1
	`

	applied, err := scanApplied(s.db.QueryRowContext(ctx, query, device))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("applied configuration for %s: %w", device, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get applied configuration: %w", err)
	}

	return applied, nil
}

// ListApplied lists pushes, newest first, optionally for one device.
func (s *SQLiteStore) ListApplied(ctx context.Context, device *string, limit, offset int) ([]*AppliedConfig, error) {
	query := `
		SELECT ` + appliedColumns + `
		FROM applied_configs
		WHERE (? IS NULL OR device = ?)
		ORDER BY applied_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, device, device, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied configurations: %w", err)
	}
	defer rows.Close()

	out := []*AppliedConfig{}
	for rows.Next() {
		applied, err := scanApplied(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan applied configuration: %w", err)
		}
		out = append(out, applied)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applied configurations: %w", err)
	}

	return out, nil
}

// AppendEvent appends a failover event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *FailoverEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	query := `
		INSERT INTO failover_events (event_id, type, group_name, device, from_iface, to_iface, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Type,
		event.Group,
		event.Device,
		event.From,
		event.To,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents lists failover events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]*FailoverEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	query := `
		SELECT id, event_id, type, group_name, device, from_iface, to_iface, level, message, timestamp
		FROM failover_events
		WHERE (? = '' OR group_name = ?)
		  AND (? = '' OR device = ?)
		  AND (? = '' OR type = ?)
		  AND (? IS NULL OR timestamp >= ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	var since *time.Time
	if !q.Since.IsZero() {
		t := q.Since.UTC()
		since = &t
	}

	rows, err := s.db.QueryContext(ctx, query,
		q.Group, q.Group,
		q.Device, q.Device,
		q.Type, q.Type,
		since, since,
		q.Limit, q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*FailoverEvent{}
	for rows.Next() {
		event := &FailoverEvent{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.Type,
			&event.Group,
			&event.Device,
			&event.From,
			&event.To,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// PruneEvents deletes events older than before and returns how many were removed.
func (s *SQLiteStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM failover_events WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
