package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

const (
	postgresDriver = "pgx"
	// Default DSN matches a local development server; deployments override
	// it through configuration.
	defaultPostgresDSN = "postgres://localhost/bioimageit?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// PostgresStore persists the mirror to Postgres, sharing the snapshot table
// shape with the SQLite store.
type PostgresStore struct {
	*Cache
	db *sql.DB
	mu sync.Mutex
}

// NewPostgresStore opens a Postgres-backed mirror using the provided DSN
// (falls back to a local default), ensures the snapshot table exists, and
// hydrates the cache from any existing snapshot.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	openMu.Lock()
	db, err := sqlOpen(postgresDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	s := &PostgresStore{Cache: NewCache(), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap Snapshot
	targets := snapshotTargets(&snap)
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		target, ok := targets[bucket]
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		loaded = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if loaded {
		s.ImportState(snap)
	}
	return nil
}

func (s *PostgresStore) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sources := snapshotSources(s.ExportState())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		data, err := json.Marshal(sources[bucket])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) PutExperiment(exp domain.Experiment) error {
	if err := s.Cache.PutExperiment(exp); err != nil {
		return err
	}
	return s.persist(context.Background())
}

func (s *PostgresStore) PutDataset(ds domain.Dataset) error {
	if err := s.Cache.PutDataset(ds); err != nil {
		return err
	}
	return s.persist(context.Background())
}

func (s *PostgresStore) PutRawData(data domain.RawData) error {
	if err := s.Cache.PutRawData(data); err != nil {
		return err
	}
	return s.persist(context.Background())
}

func (s *PostgresStore) PutProcessedData(data domain.ProcessedData) error {
	if err := s.Cache.PutProcessedData(data); err != nil {
		return err
	}
	return s.persist(context.Background())
}

func (s *PostgresStore) PutRun(run domain.Run) error {
	if err := s.Cache.PutRun(run); err != nil {
		return err
	}
	return s.persist(context.Background())
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *PostgresStore) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
