package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/formats"
	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/internal/workspace"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *remote.Memory, *workspace.Memory) {
	t.Helper()
	client := remote.NewMemory()
	ws := workspace.NewMemory()
	s := New(client, ws, formats.NewRegistry(), opts...)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, client, ws
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

type captureMetrics struct {
	mu      sync.Mutex
	samples []string
}

func (c *captureMetrics) Record(op string, _ time.Duration, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, op+":"+status)
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	client := remote.NewMemory()
	client.ConnectErr = errors.New("refused")
	s := New(client, workspace.NewMemory(), formats.NewRegistry())
	err := s.Connect(context.Background())
	var connErr domain.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, client, _ := newTestService(t)
	ctx := context.Background()
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if client.Connected() {
		t.Fatal("session still open after close")
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	rec := &captureMetrics{}
	s, _, _ := newTestService(t, WithMetrics(rec))
	ctx := context.Background()
	if _, err := s.CreateExperiment(ctx, "exp", "alice", "2026-01-15", nil); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if _, err := s.CreateExperiment(ctx, "exp", "alice", "2026-01-15", nil); err == nil {
		t.Fatal("expected duplicate name error")
	}
	want := []string{"create_experiment:ok", "create_experiment:error"}
	if len(rec.samples) != len(want) {
		t.Fatalf("unexpected samples %v", rec.samples)
	}
	for i, sample := range want {
		if rec.samples[i] != sample {
			t.Fatalf("sample %d: got %s want %s", i, rec.samples[i], sample)
		}
	}
}

func TestAuditRecordsMutations(t *testing.T) {
	audit := NewMemoryAuditLogger()
	s, _, _ := newTestService(t, WithAudit(audit))
	ctx := context.Background()
	if _, err := s.CreateExperiment(ctx, "exp", "alice", "2026-01-15", nil); err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if _, err := s.CreateExperiment(ctx, "exp", "alice", "2026-01-15", nil); err == nil {
		t.Fatal("expected duplicate name error")
	}
	entries := audit.Entries()
	if len(entries) != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[0].Status != AuditOK || entries[0].Action != "create_experiment" || entries[0].ID == "" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Status != AuditFailed || entries[1].Detail == "" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

type captureMirror struct {
	experiments []domain.Experiment
	runs        []domain.Run
	NopMirror
}

func (m *captureMirror) PutExperiment(exp domain.Experiment) error {
	m.experiments = append(m.experiments, exp)
	return nil
}

func (m *captureMirror) PutRun(run domain.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func TestMirrorReceivesRecords(t *testing.T) {
	mirror := &captureMirror{}
	s, _, _ := newTestService(t, WithMirror(mirror))
	ctx := context.Background()
	exp, err := s.CreateExperiment(ctx, "synapse", "alice", "2026-01-15", nil)
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	if _, err := s.GetExperiment(ctx, exp.MDURI); err != nil {
		t.Fatalf("get experiment: %v", err)
	}
	if len(mirror.experiments) != 2 {
		t.Fatalf("unexpected mirrored experiments %+v", mirror.experiments)
	}
	if mirror.experiments[0].MDURI != exp.MDURI {
		t.Fatalf("wrong record mirrored: %+v", mirror.experiments[0])
	}
}

func TestNormalizeDate(t *testing.T) {
	if got := normalizeDate("2026-01-15"); got != "2026-01-15" {
		t.Fatalf("explicit date rewritten to %q", got)
	}
	today := time.Now().UTC().Format(dateLayout)
	if got := normalizeDate("now"); got != today {
		t.Fatalf("now resolved to %q", got)
	}
	if got := normalizeDate(""); got != today {
		t.Fatalf("empty date resolved to %q", got)
	}
}
