package metadata

import (
	"context"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// RawDatasetName is the name of the implicit dataset created with every
// experiment to hold its raw data.
const RawDatasetName = "data"

// CreateExperiment creates a project with an empty raw dataset and one tag
// annotation per vocabulary key. The experiment name must be unique on the
// server.
func (s *Service) CreateExperiment(ctx context.Context, name, author, date string, keys []string) (exp domain.Experiment, err error) {
	defer func(start time.Time) { s.observe("create_experiment", start, err) }(time.Now())
	defer func() { s.record(ctx, "create_experiment", domain.EntityExperiment, exp.MDURI, err) }()

	projects, err := s.client.ListProjects(ctx)
	if err != nil {
		return domain.Experiment{}, err
	}
	for _, p := range projects {
		if p.Name == name {
			return domain.Experiment{}, domain.DuplicateNameError{Entity: domain.EntityExperiment, Name: name}
		}
	}

	project, err := s.client.CreateProject(ctx, name, "")
	if err != nil {
		return domain.Experiment{}, err
	}
	raw, err := s.client.CreateDataset(ctx, RawDatasetName)
	if err != nil {
		return domain.Experiment{}, err
	}
	if err = s.client.LinkDatasetToProject(ctx, raw.ID, project.ID); err != nil {
		return domain.Experiment{}, err
	}
	for _, key := range keys {
		tag, tagErr := s.client.CreateTagAnnotation(ctx, key)
		if tagErr != nil {
			return domain.Experiment{}, tagErr
		}
		if err = s.client.LinkAnnotation(ctx, remote.ObjectRef{Type: remote.ObjectProject, ID: project.ID}, tag.ID); err != nil {
			return domain.Experiment{}, err
		}
	}

	exp = domain.Experiment{
		UUID:       project.ID,
		MDURI:      project.ID,
		Name:       name,
		Author:     author,
		Date:       normalizeDate(date),
		Keys:       append([]string(nil), keys...),
		RawDataset: domain.DatasetInfo{Name: RawDatasetName, MDURI: raw.ID, UUID: raw.ID},
	}
	if err = s.mirror.PutExperiment(exp); err != nil {
		return domain.Experiment{}, err
	}
	return exp, nil
}

// GetExperiment reads an experiment and its dataset references.
func (s *Service) GetExperiment(ctx context.Context, mdURI string) (exp domain.Experiment, err error) {
	defer func(start time.Time) { s.observe("get_experiment", start, err) }(time.Now())

	project, err := s.client.GetProject(ctx, mdURI)
	if err != nil {
		return domain.Experiment{}, err
	}
	exp = domain.Experiment{
		UUID:   project.ID,
		MDURI:  project.ID,
		Name:   project.Name,
		Author: project.Owner,
		Date:   project.Created.Format(dateLayout),
	}
	anns, err := s.client.ListAnnotations(ctx, remote.ObjectRef{Type: remote.ObjectProject, ID: project.ID})
	if err != nil {
		return domain.Experiment{}, err
	}
	for _, ann := range anns {
		if ann.Kind == remote.AnnotationTag {
			exp.Keys = append(exp.Keys, ann.Value)
		}
	}
	for _, datasetID := range project.DatasetIDs {
		dataset, dsErr := s.client.GetDataset(ctx, datasetID)
		if dsErr != nil {
			return domain.Experiment{}, dsErr
		}
		info := domain.DatasetInfo{Name: dataset.Name, MDURI: dataset.ID, UUID: dataset.ID}
		if dataset.Name == RawDatasetName {
			exp.RawDataset = info
		} else {
			exp.ProcessedDatasets = append(exp.ProcessedDatasets, info)
		}
	}
	if err = s.mirror.PutExperiment(exp); err != nil {
		return domain.Experiment{}, err
	}
	return exp, nil
}

// ListExperiments reads summaries of all experiments visible in the
// session.
func (s *Service) ListExperiments(ctx context.Context) (exps []domain.Experiment, err error) {
	defer func(start time.Time) { s.observe("list_experiments", start, err) }(time.Now())

	projects, err := s.client.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	exps = make([]domain.Experiment, 0, len(projects))
	for _, p := range projects {
		exps = append(exps, domain.Experiment{
			UUID:   p.ID,
			MDURI:  p.ID,
			Name:   p.Name,
			Author: p.Owner,
			Date:   p.Created.Format(dateLayout),
		})
	}
	return exps, nil
}

// UpdateExperiment writes the experiment name and reconciles its vocabulary
// keys with the project's tag annotations: tags absent from the keys are
// deleted, missing keys are added. Last write wins on conflicts.
func (s *Service) UpdateExperiment(ctx context.Context, exp domain.Experiment) (err error) {
	defer func(start time.Time) { s.observe("update_experiment", start, err) }(time.Now())
	defer func() { s.record(ctx, "update_experiment", domain.EntityExperiment, exp.MDURI, err) }()

	project, err := s.client.GetProject(ctx, exp.MDURI)
	if err != nil {
		return err
	}
	project.Name = exp.Name
	if err = s.client.SaveProject(ctx, project); err != nil {
		return err
	}

	ref := remote.ObjectRef{Type: remote.ObjectProject, ID: project.ID}
	anns, err := s.client.ListAnnotations(ctx, ref)
	if err != nil {
		return err
	}
	wanted := make(map[string]struct{}, len(exp.Keys))
	for _, key := range exp.Keys {
		wanted[key] = struct{}{}
	}
	var toDelete []string
	existing := make(map[string]struct{})
	for _, ann := range anns {
		if ann.Kind != remote.AnnotationTag {
			continue
		}
		if _, keep := wanted[ann.Value]; !keep {
			toDelete = append(toDelete, ann.ID)
			continue
		}
		existing[ann.Value] = struct{}{}
	}
	if len(toDelete) > 0 {
		if err = s.client.DeleteAnnotations(ctx, toDelete); err != nil {
			return err
		}
	}
	for _, key := range exp.Keys {
		if _, ok := existing[key]; ok {
			continue
		}
		tag, tagErr := s.client.CreateTagAnnotation(ctx, key)
		if tagErr != nil {
			return tagErr
		}
		if err = s.client.LinkAnnotation(ctx, ref, tag.ID); err != nil {
			return err
		}
	}
	return nil
}
