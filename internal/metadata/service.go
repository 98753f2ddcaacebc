// Package metadata implements the OMERO-backed metadata service: experiment,
// dataset, raw/processed data and run management mapped onto the remote
// object model, with provenance documents stored as file annotations.
//
// One Service owns exactly one remote session. All operations are
// synchronous fresh round trips; nothing is retried or cached. Concurrent
// use of a single Service is unsupported: callers needing concurrency run
// one Service per flow and rely on the server for cross-session consistency
// (last write wins).
package metadata

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/formats"
	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/internal/workspace"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// ServiceName identifies this backend in plugin registries.
const ServiceName = "OmeroMetadataService"

const dateLayout = "2006-01-02"

// Service is the metadata adapter. Construct with New, then Connect before
// use and Close on every exit path.
type Service struct {
	client  remote.Client
	ws      workspace.Store
	formats *formats.Registry
	metrics MetricsRecorder
	audit   AuditLogger
	mirror  Mirror
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithMetrics installs a metrics recorder for per-operation timings.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit installs an audit logger for mutating operations.
func WithAudit(a AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// Mirror receives every record the service reads or writes successfully, so
// a local catalog can serve lookups while the server is unreachable.
type Mirror interface {
	PutExperiment(exp domain.Experiment) error
	PutDataset(ds domain.Dataset) error
	PutRawData(data domain.RawData) error
	PutProcessedData(data domain.ProcessedData) error
	PutRun(run domain.Run) error
}

// NopMirror drops every record.
type NopMirror struct{}

func (NopMirror) PutExperiment(domain.Experiment) error       { return nil }
func (NopMirror) PutDataset(domain.Dataset) error             { return nil }
func (NopMirror) PutRawData(domain.RawData) error             { return nil }
func (NopMirror) PutProcessedData(domain.ProcessedData) error { return nil }
func (NopMirror) PutRun(domain.Run) error                     { return nil }

// WithMirror installs a local mirror fed by successful operations.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// New builds a Service over the given collaborators. The remote client must
// not be shared with another Service.
func New(client remote.Client, ws workspace.Store, registry *formats.Registry, opts ...Option) *Service {
	s := &Service{
		client:  client,
		ws:      ws,
		formats: registry,
		metrics: NopMetrics{},
		audit:   NopAudit{},
		mirror:  NopMirror{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect acquires the remote session. A failure is fatal to this instance.
func (s *Service) Connect(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		var connErr domain.ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return domain.ConnectionError{Err: err}
	}
	return nil
}

// Close releases the remote session. Idempotent.
func (s *Service) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// observe records one finished operation with the metrics recorder.
func (s *Service) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.Record(op, time.Since(start), status)
}

// record appends one audit entry for a mutating operation.
func (s *Service) record(ctx context.Context, action string, entity domain.EntityType, id string, err error) {
	status := AuditOK
	detail := ""
	if err != nil {
		status = AuditFailed
		detail = err.Error()
	}
	s.audit.Record(ctx, AuditEntry{
		Action:     action,
		Entity:     entity,
		EntityID:   id,
		Status:     status,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	})
}

// stageAndUpload stages a document in the workspace, uploads it as a file
// annotation, and discards the staged copy once the upload succeeded. On
// failure the staged entry is left behind on purpose: it is the recovery
// artifact for the interrupted round trip.
func (s *Service) stageAndUpload(ctx context.Context, name string, doc []byte) (remote.Annotation, error) {
	if _, err := s.ws.Stage(ctx, name, bytes.NewReader(doc)); err != nil {
		return remote.Annotation{}, err
	}
	ann, err := s.client.UploadAttachment(ctx, name, bytes.NewReader(doc))
	if err != nil {
		return remote.Annotation{}, err
	}
	if _, err := s.ws.Discard(ctx, name); err != nil {
		return remote.Annotation{}, err
	}
	return ann, nil
}

// downloadDocument fetches a file annotation through the workspace: the
// content is staged under its attachment name, read back, and discarded.
func (s *Service) downloadDocument(ctx context.Context, annotationID, name string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.client.DownloadAttachment(ctx, annotationID, &buf); err != nil {
		return nil, err
	}
	if _, err := s.ws.Stage(ctx, name, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, err
	}
	content := buf.Bytes()
	if _, err := s.ws.Discard(ctx, name); err != nil {
		return nil, err
	}
	return content, nil
}

func normalizeDate(date string) string {
	if date == "" || date == "now" {
		return time.Now().UTC().Format(dateLayout)
	}
	return date
}
