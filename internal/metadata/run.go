package metadata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/provenance"
	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// CreateRun persists a run document on its processed dataset. The document
// name is the first unused entry of the run.md.json sequence so earlier runs
// are never overwritten. The returned run carries the identity assigned by
// the server; the input run must not be persisted yet.
func (s *Service) CreateRun(ctx context.Context, run domain.Run) (persisted domain.Run, err error) {
	defer func(start time.Time) { s.observe("create_run", start, err) }(time.Now())
	defer func() { s.record(ctx, "create_run", domain.EntityRun, persisted.MDURI, err) }()

	if run.Persisted() {
		return domain.Run{}, fmt.Errorf("run %s already persisted", run.UUID)
	}
	if run.ProcessedDataset.Empty() {
		return domain.Run{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: ""}
	}
	datasetID := run.ProcessedDataset.UUID
	if _, err = s.client.GetDataset(ctx, datasetID); err != nil {
		return domain.Run{}, err
	}

	names, _, err := s.datasetDocumentNames(ctx, datasetID)
	if err != nil {
		return domain.Run{}, err
	}
	name := provenance.NextRunDocumentName(names)

	doc, err := provenance.EncodeRun(run)
	if err != nil {
		return domain.Run{}, err
	}
	ann, err := s.stageAndUpload(ctx, name, doc)
	if err != nil {
		return domain.Run{}, err
	}
	ref := remote.ObjectRef{Type: remote.ObjectDataset, ID: datasetID}
	if err = s.client.LinkAnnotation(ctx, ref, ann.ID); err != nil {
		if delErr := s.client.DeleteAnnotations(ctx, []string{ann.ID}); delErr != nil {
			return domain.Run{}, fmt.Errorf("link run document: %w (cleanup failed: %v)", err, delErr)
		}
		return domain.Run{}, err
	}

	persisted = run
	persisted.UUID = ann.ID
	persisted.MDURI = ann.ID
	if err = s.mirror.PutRun(persisted); err != nil {
		return domain.Run{}, err
	}
	return persisted, nil
}

// GetRun reads a run back from its document annotation. The run's identity
// comes from the annotation, not from the document body: the document's uuid
// field is empty for runs written before the annotation existed.
func (s *Service) GetRun(ctx context.Context, mdURI string) (run domain.Run, err error) {
	defer func(start time.Time) { s.observe("get_run", start, err) }(time.Now())

	ann, err := s.client.GetFileAnnotation(ctx, mdURI)
	if err != nil {
		return domain.Run{}, err
	}
	if !provenance.IsRunDocumentName(ann.File.Name) {
		return domain.Run{}, domain.NotFoundError{Entity: domain.EntityRun, ID: mdURI}
	}
	content, err := s.downloadDocument(ctx, ann.ID, ann.File.Name)
	if err != nil {
		return domain.Run{}, err
	}
	run, err = provenance.DecodeRun(content)
	if err != nil {
		return domain.Run{}, err
	}
	run.UUID = ann.ID
	run.MDURI = ann.ID
	if err = s.mirror.PutRun(run); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

// ListDatasetRuns reads every run recorded on a dataset, in document
// sequence order.
func (s *Service) ListDatasetRuns(ctx context.Context, datasetURI string) (runs []domain.Run, err error) {
	defer func(start time.Time) { s.observe("list_dataset_runs", start, err) }(time.Now())

	names, byName, err := s.datasetDocumentNames(ctx, datasetURI)
	if err != nil {
		return nil, err
	}
	var runNames []string
	for _, name := range names {
		if provenance.IsRunDocumentName(name) {
			runNames = append(runNames, name)
		}
	}
	sort.Slice(runNames, func(i, j int) bool {
		return runDocumentRank(runNames[i]) < runDocumentRank(runNames[j])
	})
	for _, name := range runNames {
		run, runErr := s.GetRun(ctx, byName[name].ID)
		if runErr != nil {
			return nil, runErr
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// runDocumentRank orders run document names by their sequence index.
func runDocumentRank(name string) int {
	if name == provenance.RunDocumentName {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(name, "run_%d"+provenance.DocumentSuffix, &n); err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
