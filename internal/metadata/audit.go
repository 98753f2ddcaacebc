package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// AuditStatus is the outcome recorded for a mutating operation.
type AuditStatus string

const (
	AuditOK     AuditStatus = "ok"
	AuditFailed AuditStatus = "failed"
)

// AuditEntry captures one mutating adapter operation.
type AuditEntry struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	Entity     domain.EntityType `json:"entity"`
	EntityID   string            `json:"entity_id,omitempty"`
	Status     AuditStatus       `json:"status"`
	Detail     string            `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// AuditLogger records audit entries. Implementations assign Entry.ID when
// it is empty.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// NopAudit drops every entry.
type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEntry) {}

// MemoryAuditLogger keeps entries in memory, newest last.
type MemoryAuditLogger struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryAuditLogger returns an empty in-memory audit log.
func NewMemoryAuditLogger() *MemoryAuditLogger { return &MemoryAuditLogger{} }

func (l *MemoryAuditLogger) Record(_ context.Context, entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLogger) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}
