package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/Raoof128/ILAE/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

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

// NewSQLiteStore creates a new SQLite store instance. Call Init before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and verifies the connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
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

// Migrate runs the embedded database migrations.
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

// PutIdentity creates or replaces an identity record.
func (s *SQLiteStore) PutIdentity(ctx context.Context, identity engine.Identity) error {
	attrs, err := json.Marshal(identity.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}

	query := `
		INSERT INTO identities (key, status, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		identity.Key,
		string(identity.Status),
		string(attrs),
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put identity: %w", err)
	}
	return nil
}

// GetIdentity returns an identity by key.
func (s *SQLiteStore) GetIdentity(ctx context.Context, key string) (engine.Identity, bool, error) {
	query := `SELECT key, status, attributes, created_at, updated_at FROM identities WHERE key = ?`

	var (
		identity engine.Identity
		status   string
		attrs    string
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&identity.Key, &status, &attrs, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Identity{}, false, nil
	}
	if err != nil {
		return engine.Identity{}, false, fmt.Errorf("failed to get identity: %w", err)
	}

	identity.Status = engine.IdentityStatus(status)
	if err := json.Unmarshal([]byte(attrs), &identity.Attributes); err != nil {
		return engine.Identity{}, false, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return identity, true, nil
}

// ListIdentities returns all identities ordered by key.
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]engine.Identity, error) {
	query := `SELECT key, status, attributes, created_at, updated_at FROM identities ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []engine.Identity
	for rows.Next() {
		var (
			identity engine.Identity
			status   string
			attrs    string
		)
		if err := rows.Scan(&identity.Key, &status, &attrs, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		identity.Status = engine.IdentityStatus(status)
		if err := json.Unmarshal([]byte(attrs), &identity.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attributes: %w", err)
		}
		out = append(out, identity)
	}
	return out, rows.Err()
}

// PutPlatformState creates or replaces one platform sub-state.
func (s *SQLiteStore) PutPlatformState(ctx context.Context, identityKey string, state *engine.PlatformState) error {
	applied, err := json.Marshal(state.Applied.Sorted())
	if err != nil {
		return fmt.Errorf("failed to marshal applied set: %w", err)
	}

	query := `
		INSERT INTO platform_states (identity_key, platform, account_external_id, account_status, applied, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key, platform) DO UPDATE SET
			account_external_id = excluded.account_external_id,
			account_status = excluded.account_status,
			applied = excluded.applied,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		identityKey,
		string(state.Account.Platform),
		state.Account.ExternalID,
		string(state.Account.Status),
		string(applied),
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put platform state: %w", err)
	}
	return nil
}

// ListPlatformStates returns an identity's platform sub-states.
func (s *SQLiteStore) ListPlatformStates(ctx context.Context, identityKey string) (map[engine.Platform]*engine.PlatformState, error) {
	query := `
		SELECT platform, account_external_id, account_status, applied, updated_at
		FROM platform_states WHERE identity_key = ?
	`
	rows, err := s.db.QueryContext(ctx, query, identityKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform states: %w", err)
	}
	defer rows.Close()

	out := make(map[engine.Platform]*engine.PlatformState)
	for rows.Next() {
		var (
			platform      string
			externalID    string
			accountStatus string
			applied       string
			updatedAt     time.Time
		)
		if err := rows.Scan(&platform, &externalID, &accountStatus, &applied, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan platform state: %w", err)
		}
		var ents []engine.Entitlement
		if err := json.Unmarshal([]byte(applied), &ents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal applied set: %w", err)
		}
		out[engine.Platform(platform)] = &engine.PlatformState{
			Account: engine.AccountRef{
				Platform:   engine.Platform(platform),
				ExternalID: externalID,
				Status:     engine.AccountStatus(accountStatus),
			},
			Applied:   engine.NewEntitlementSet(ents...),
			UpdatedAt: updatedAt,
		}
	}
	return out, rows.Err()
}

// AppendEvidence durably stores one evidence record. The primary key on
// (identity_key, sequence) rejects competing writers for the same slot.
func (s *SQLiteStore) AppendEvidence(ctx context.Context, record engine.EvidenceRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence record: %w", err)
	}

	query := `
		INSERT INTO evidence (identity_key, sequence, run_id, kind, recorded_at, prev_hash, hash, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.IdentityKey,
		record.Sequence,
		record.RunID,
		string(record.Kind),
		record.RecordedAt,
		record.PrevHash,
		record.Hash,
		string(payload),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "constraint failed") {
			return ErrDuplicateSequence
		}
		return fmt.Errorf("failed to append evidence: %w", err)
	}
	return nil
}

// ListEvidence returns an identity's evidence in sequence order.
func (s *SQLiteStore) ListEvidence(ctx context.Context, identityKey string) ([]engine.EvidenceRecord, error) {
	query := `SELECT payload FROM evidence WHERE identity_key = ? ORDER BY sequence`
	return s.queryEvidence(ctx, query, identityKey)
}

// ListAllEvidence returns every evidence record ordered by identity, sequence.
func (s *SQLiteStore) ListAllEvidence(ctx context.Context) ([]engine.EvidenceRecord, error) {
	query := `SELECT payload FROM evidence ORDER BY identity_key, sequence`
	return s.queryEvidence(ctx, query)
}

func (s *SQLiteStore) queryEvidence(ctx context.Context, query string, args ...any) ([]engine.EvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []engine.EvidenceRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		var record engine.EvidenceRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence record: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// EvidenceHead returns the highest-sequence record for an identity.
func (s *SQLiteStore) EvidenceHead(ctx context.Context, identityKey string) (*engine.EvidenceRecord, error) {
	query := `SELECT payload FROM evidence WHERE identity_key = ? ORDER BY sequence DESC LIMIT 1`

	var payload string
	err := s.db.QueryRowContext(ctx, query, identityKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence head: %w", err)
	}

	var record engine.EvidenceRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence head: %w", err)
	}
	return &record, nil
}

// SaveRun creates or replaces a workflow run record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *engine.WorkflowRun) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	query := `
		INSERT INTO runs (id, identity_key, kind, status, started_at, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			record = excluded.record
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Request.IdentityKey,
		string(run.Request.Kind),
		string(run.Status),
		run.StartedAt,
		string(record),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*engine.WorkflowRun, error) {
	query := `SELECT record FROM runs WHERE id = ?`

	var record string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run engine.WorkflowRun
	if err := json.Unmarshal([]byte(record), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns runs for an identity, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, identityKey string) ([]*engine.WorkflowRun, error) {
	query := `SELECT record FROM runs WHERE identity_key = ? ORDER BY started_at DESC`
	args := []any{identityKey}
	if identityKey == "" {
		query = `SELECT record FROM runs ORDER BY started_at DESC`
		args = nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*engine.WorkflowRun
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var run engine.WorkflowRun
		if err := json.Unmarshal([]byte(record), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run: %w", err)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}
