package metadata

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/provenance"
	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// CreateData imports a processed output file into a processed dataset and
// attaches its origin document. The format is checked before any remote
// call. If attaching the document fails after the image was created, the
// image and the orphaned annotation are deleted.
func (s *Service) CreateData(ctx context.Context, datasetURI string, data domain.ProcessedData, path string) (created domain.ProcessedData, err error) {
	defer func(start time.Time) { s.observe("create_data", start, err) }(time.Now())
	defer func() { s.record(ctx, "create_data", domain.EntityProcessedData, created.MDURI, err) }()

	if err = s.formats.CheckImportable(data.Format); err != nil {
		return domain.ProcessedData{}, err
	}
	if _, err = s.client.GetDataset(ctx, datasetURI); err != nil {
		return domain.ProcessedData{}, err
	}

	image, err := s.client.ImportImage(ctx, datasetURI, path, data.Name)
	if err != nil {
		return domain.ProcessedData{}, err
	}
	if err = s.attachOrigin(ctx, image.ID, data.Origin); err != nil {
		if delErr := s.client.DeleteImage(ctx, image.ID); delErr != nil {
			return domain.ProcessedData{}, fmt.Errorf("attach origin: %w (cleanup failed: %v)", err, delErr)
		}
		return domain.ProcessedData{}, err
	}

	created = data
	created.UUID = image.ID
	created.MDURI = image.ID
	created.URI = image.ID
	created.Date = normalizeDate(data.Date)
	if err = s.mirror.PutProcessedData(created); err != nil {
		return domain.ProcessedData{}, err
	}
	return created, nil
}

// attachOrigin encodes an origin block, uploads it as processed_data.md.json
// and links it to the image. The uploaded annotation is deleted when linking
// fails so nothing dangles.
func (s *Service) attachOrigin(ctx context.Context, imageID string, origin domain.Origin) error {
	doc, err := provenance.EncodeOrigin(origin)
	if err != nil {
		return err
	}
	ann, err := s.stageAndUpload(ctx, provenance.OriginDocumentName, doc)
	if err != nil {
		return err
	}
	ref := remote.ObjectRef{Type: remote.ObjectImage, ID: imageID}
	if err = s.client.LinkAnnotation(ctx, ref, ann.ID); err != nil {
		if delErr := s.client.DeleteAnnotations(ctx, []string{ann.ID}); delErr != nil {
			return fmt.Errorf("link origin document: %w (cleanup failed: %v)", err, delErr)
		}
		return err
	}
	return nil
}

// originAnnotation finds the metadata document annotation on an image.
func (s *Service) originAnnotation(ctx context.Context, imageID string) (remote.Annotation, error) {
	anns, err := s.client.ListAnnotations(ctx, remote.ObjectRef{Type: remote.ObjectImage, ID: imageID})
	if err != nil {
		return remote.Annotation{}, err
	}
	for _, ann := range anns {
		if ann.Kind == remote.AnnotationFile && provenance.IsDocumentName(ann.File.Name) {
			return ann, nil
		}
	}
	return remote.Annotation{}, domain.MissingAttachmentError{Entity: domain.EntityProcessedData, ID: imageID}
}

// GetProcessedData reads one processed data item together with its origin.
// An item without a metadata document attachment is reported as missing its
// attachment, not as absent.
func (s *Service) GetProcessedData(ctx context.Context, mdURI string) (data domain.ProcessedData, err error) {
	defer func(start time.Time) { s.observe("get_processed_data", start, err) }(time.Now())

	image, err := s.client.GetImage(ctx, mdURI)
	if err != nil {
		return domain.ProcessedData{}, err
	}
	ann, err := s.originAnnotation(ctx, image.ID)
	if err != nil {
		return domain.ProcessedData{}, err
	}
	content, err := s.downloadDocument(ctx, ann.ID, ann.File.Name)
	if err != nil {
		return domain.ProcessedData{}, err
	}
	origin, err := provenance.DecodeOrigin(content)
	if err != nil {
		return domain.ProcessedData{}, err
	}
	data = domain.ProcessedData{
		UUID:   image.ID,
		MDURI:  image.ID,
		URI:    image.ID,
		Name:   image.Name,
		Author: image.Owner,
		Format: s.guessFormat(image.Name),
		Date:   image.Created.Format(dateLayout),
		Origin: origin,
	}
	if err = s.mirror.PutProcessedData(data); err != nil {
		return domain.ProcessedData{}, err
	}
	return data, nil
}

// UpdateProcessedData writes the item name and replaces its origin document
// with a freshly encoded one.
func (s *Service) UpdateProcessedData(ctx context.Context, data domain.ProcessedData) (err error) {
	defer func(start time.Time) { s.observe("update_processed_data", start, err) }(time.Now())
	defer func() { s.record(ctx, "update_processed_data", domain.EntityProcessedData, data.MDURI, err) }()

	image, err := s.client.GetImage(ctx, data.MDURI)
	if err != nil {
		return err
	}
	image.Name = data.Name
	if err = s.client.SaveImage(ctx, image); err != nil {
		return err
	}
	old, err := s.originAnnotation(ctx, image.ID)
	if err != nil {
		return err
	}
	if err = s.attachOrigin(ctx, image.ID, data.Origin); err != nil {
		return err
	}
	return s.client.DeleteAnnotations(ctx, []string{old.ID})
}

// DownloadData streams the item's original file content to w.
func (s *Service) DownloadData(ctx context.Context, mdURI string, w io.Writer) (err error) {
	defer func(start time.Time) { s.observe("download_data", start, err) }(time.Now())
	return s.client.ExportImage(ctx, mdURI, w)
}

// DataURI resolves the workspace location a data item materializes at when
// downloaded, derived from its name and format extension.
func (s *Service) DataURI(name, format string) (string, error) {
	ext, err := s.formats.Extension(format)
	if err != nil {
		return "", err
	}
	return s.ws.URI(name + "." + ext), nil
}

// CreateDataURI stages an empty placeholder for an output about to be
// produced and returns its workspace location. Processes write into this
// location before the result is imported.
func (s *Service) CreateDataURI(ctx context.Context, name, format string) (uri string, err error) {
	defer func(start time.Time) { s.observe("create_data_uri", start, err) }(time.Now())

	ext, extErr := s.formats.Extension(format)
	if extErr != nil {
		return "", extErr
	}
	entry, err := s.ws.Stage(ctx, name+"."+ext, emptyReader{})
	if err != nil {
		return "", err
	}
	return entry.Location, nil
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

// ViewData fetches the item's pixel planes along z at the first channel and
// timepoint, enough for a quick visual check without a full download.
func (s *Service) ViewData(ctx context.Context, mdURI string) (planes []remote.Plane, err error) {
	defer func(start time.Time) { s.observe("view_data", start, err) }(time.Now())

	image, err := s.client.GetImage(ctx, mdURI)
	if err != nil {
		return nil, err
	}
	for z := 0; z < image.SizeZ; z++ {
		plane, planeErr := s.client.GetPlane(ctx, image.ID, z, 0, 0)
		if planeErr != nil {
			return nil, planeErr
		}
		planes = append(planes, plane)
	}
	return planes, nil
}
