package localstore

import (
	"path/filepath"
	"testing"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.PutExperiment(sampleExperiment("1", "synapse")); err != nil {
		t.Fatalf("put experiment: %v", err)
	}
	if err := store.PutRun(domain.Run{UUID: "9", MDURI: "9", ProcessName: "deconvolution"}); err != nil {
		t.Fatalf("put run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	exp, ok := reopened.Experiment("1")
	if !ok || exp.Name != "synapse" {
		t.Fatalf("experiment lost: %+v (ok=%v)", exp, ok)
	}
	run, ok := reopened.Run("9")
	if !ok || run.ProcessName != "deconvolution" {
		t.Fatalf("run lost: %+v (ok=%v)", run, ok)
	}
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.PutExperiment(sampleExperiment("1", "synapse")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutExperiment(sampleExperiment("1", "synapse-v2")); err != nil {
		t.Fatalf("second put: %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(buckets) {
		t.Fatalf("unexpected bucket rows %d", count)
	}
	exp, _ := store.Experiment("1")
	if exp.Name != "synapse-v2" {
		t.Fatalf("stale record %+v", exp)
	}
}

func TestSQLiteStoreDefaultPath(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "mirror.db"))
	if err != nil {
		t.Fatalf("open with missing parent dir: %v", err)
	}
	if store.Path() == "" {
		t.Fatal("empty path")
	}
	_ = store.Close()
}
