package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// SQLiteStore persists the mirror to a single SQLite table as JSON blobs.
// It snapshots the full state after every successful mutation; the file is
// small enough that per-record persistence is not worth the bookkeeping.
type SQLiteStore struct {
	*Cache
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens or creates a SQLite-backed mirror at path and
// hydrates the cache from any existing snapshot.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "bioimageit.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &SQLiteStore{Cache: NewCache(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var buckets = []string{"experiments", "datasets", "raw_data", "processed_data", "runs"}

func snapshotTargets(snap *Snapshot) map[string]any {
	return map[string]any{
		"experiments":    &snap.Experiments,
		"datasets":       &snap.Datasets,
		"raw_data":       &snap.RawData,
		"processed_data": &snap.ProcessedData,
		"runs":           &snap.Runs,
	}
}

func snapshotSources(snap Snapshot) map[string]any {
	return map[string]any{
		"experiments":    snap.Experiments,
		"datasets":       snap.Datasets,
		"raw_data":       snap.RawData,
		"processed_data": snap.ProcessedData,
		"runs":           snap.Runs,
	}
}

func (s *SQLiteStore) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
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

func (s *SQLiteStore) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sources := snapshotSources(s.ExportState())
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		data, err := json.Marshal(sources[bucket])
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) PutExperiment(exp domain.Experiment) error {
	if err := s.Cache.PutExperiment(exp); err != nil {
		return err
	}
	return s.persist()
}

func (s *SQLiteStore) PutDataset(ds domain.Dataset) error {
	if err := s.Cache.PutDataset(ds); err != nil {
		return err
	}
	return s.persist()
}

func (s *SQLiteStore) PutRawData(data domain.RawData) error {
	if err := s.Cache.PutRawData(data); err != nil {
		return err
	}
	return s.persist()
}

func (s *SQLiteStore) PutProcessedData(data domain.ProcessedData) error {
	if err := s.Cache.PutProcessedData(data); err != nil {
		return err
	}
	return s.persist()
}

func (s *SQLiteStore) PutRun(run domain.Run) error {
	if err := s.Cache.PutRun(run); err != nil {
		return err
	}
	return s.persist()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *SQLiteStore) Path() string { return s.path }

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
