package metadata

import (
	"context"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/provenance"
	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// CreateDataset creates a processed dataset inside an experiment. Dataset
// names are unique within their experiment.
func (s *Service) CreateDataset(ctx context.Context, experimentURI, name string) (ds domain.Dataset, err error) {
	defer func(start time.Time) { s.observe("create_dataset", start, err) }(time.Now())
	defer func() { s.record(ctx, "create_dataset", domain.EntityDataset, ds.MDURI, err) }()

	project, err := s.client.GetProject(ctx, experimentURI)
	if err != nil {
		return domain.Dataset{}, err
	}
	for _, datasetID := range project.DatasetIDs {
		existing, dsErr := s.client.GetDataset(ctx, datasetID)
		if dsErr != nil {
			return domain.Dataset{}, dsErr
		}
		if existing.Name == name {
			return domain.Dataset{}, domain.DuplicateNameError{Entity: domain.EntityDataset, Name: name}
		}
	}

	dataset, err := s.client.CreateDataset(ctx, name)
	if err != nil {
		return domain.Dataset{}, err
	}
	if err = s.client.LinkDatasetToProject(ctx, dataset.ID, project.ID); err != nil {
		return domain.Dataset{}, err
	}
	ds = domain.Dataset{UUID: dataset.ID, MDURI: dataset.ID, Name: name}
	if err = s.mirror.PutDataset(ds); err != nil {
		return domain.Dataset{}, err
	}
	return ds, nil
}

// GetDataset reads a dataset and the references of its member data, in the
// server's member order.
func (s *Service) GetDataset(ctx context.Context, mdURI string) (ds domain.Dataset, err error) {
	defer func(start time.Time) { s.observe("get_dataset", start, err) }(time.Now())

	dataset, err := s.client.GetDataset(ctx, mdURI)
	if err != nil {
		return domain.Dataset{}, err
	}
	ds = domain.Dataset{UUID: dataset.ID, MDURI: dataset.ID, Name: dataset.Name}
	for _, imageID := range dataset.ImageIDs {
		ds.URIs = append(ds.URIs, domain.Container{MDURI: imageID, UUID: imageID})
	}
	if err = s.mirror.PutDataset(ds); err != nil {
		return domain.Dataset{}, err
	}
	return ds, nil
}

// UpdateDataset writes the dataset name. Membership is managed through the
// data operations, not here.
func (s *Service) UpdateDataset(ctx context.Context, ds domain.Dataset) (err error) {
	defer func(start time.Time) { s.observe("update_dataset", start, err) }(time.Now())
	defer func() { s.record(ctx, "update_dataset", domain.EntityDataset, ds.MDURI, err) }()

	dataset, err := s.client.GetDataset(ctx, ds.MDURI)
	if err != nil {
		return err
	}
	dataset.Name = ds.Name
	return s.client.SaveDataset(ctx, dataset)
}

// datasetDocumentNames lists the metadata document attachment names already
// present on a dataset, plus the id of each file annotation by name.
func (s *Service) datasetDocumentNames(ctx context.Context, datasetID string) ([]string, map[string]remote.Annotation, error) {
	anns, err := s.client.ListAnnotations(ctx, remote.ObjectRef{Type: remote.ObjectDataset, ID: datasetID})
	if err != nil {
		return nil, nil, err
	}
	var names []string
	byName := make(map[string]remote.Annotation)
	for _, ann := range anns {
		if ann.Kind != remote.AnnotationFile {
			continue
		}
		if !provenance.IsDocumentName(ann.File.Name) {
			continue
		}
		names = append(names, ann.File.Name)
		byName[ann.File.Name] = ann
	}
	return names, byName, nil
}
