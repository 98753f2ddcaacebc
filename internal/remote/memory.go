package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// Memory is an in-process Client used by adapter tests. It reproduces the
// server's visibility semantics (lookups idempotent, mutations visible after
// save) without any network round trip. Not safe for concurrent use, same as
// a real session.
type Memory struct {
	connected bool
	seq       int

	projects    map[string]Project
	datasets    map[string]Dataset
	images      map[string]Image
	annotations map[string]Annotation

	datasetProject map[string]string   // dataset id -> project id
	imageDataset   map[string]string   // image id -> dataset id
	links          map[string][]string // "Type/id" -> annotation ids
	files          map[string][]byte   // file annotation id -> content
	imageFiles     map[string][]byte   // image id -> original file content

	// Failure hooks for exercising error paths in tests.
	ConnectErr        error
	LinkAnnotationErr error
	UploadErr         error
}

// NewMemory returns an empty in-memory client.
func NewMemory() *Memory {
	return &Memory{
		projects:       make(map[string]Project),
		datasets:       make(map[string]Dataset),
		images:         make(map[string]Image),
		annotations:    make(map[string]Annotation),
		datasetProject: make(map[string]string),
		imageDataset:   make(map[string]string),
		links:          make(map[string][]string),
		files:          make(map[string][]byte),
		imageFiles:     make(map[string][]byte),
	}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) nextID() string {
	m.seq++
	return fmt.Sprintf("%d", m.seq)
}

func (m *Memory) check() error {
	if !m.connected {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Connect(_ context.Context) error {
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *Memory) Close(_ context.Context) error {
	m.connected = false
	return nil
}

// Connected reports whether the fake session is open.
func (m *Memory) Connected() bool { return m.connected }

func (m *Memory) ListProjects(_ context.Context) ([]Project, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) GetProject(_ context.Context, id string) (Project, error) {
	if err := m.check(); err != nil {
		return Project{}, err
	}
	p, ok := m.projects[id]
	if !ok {
		return Project{}, domain.NotFoundError{Entity: domain.EntityProject, ID: id}
	}
	return p, nil
}

func (m *Memory) CreateProject(_ context.Context, name, description string) (Project, error) {
	if err := m.check(); err != nil {
		return Project{}, err
	}
	p := Project{ID: m.nextID(), Name: name, Description: description, Owner: "root", Created: time.Now().UTC()}
	m.projects[p.ID] = p
	return p, nil
}

func (m *Memory) SaveProject(_ context.Context, project Project) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.projects[project.ID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityProject, ID: project.ID}
	}
	m.projects[project.ID] = project
	return nil
}

func (m *Memory) CreateDataset(_ context.Context, name string) (Dataset, error) {
	if err := m.check(); err != nil {
		return Dataset{}, err
	}
	d := Dataset{ID: m.nextID(), Name: name, Owner: "root", Created: time.Now().UTC()}
	m.datasets[d.ID] = d
	return d, nil
}

func (m *Memory) LinkDatasetToProject(_ context.Context, datasetID, projectID string) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.datasets[datasetID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
	}
	p, ok := m.projects[projectID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityProject, ID: projectID}
	}
	p.DatasetIDs = append(p.DatasetIDs, datasetID)
	m.projects[projectID] = p
	m.datasetProject[datasetID] = projectID
	return nil
}

func (m *Memory) GetDataset(_ context.Context, id string) (Dataset, error) {
	if err := m.check(); err != nil {
		return Dataset{}, err
	}
	d, ok := m.datasets[id]
	if !ok {
		return Dataset{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	return d, nil
}

func (m *Memory) SaveDataset(_ context.Context, dataset Dataset) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.datasets[dataset.ID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityDataset, ID: dataset.ID}
	}
	m.datasets[dataset.ID] = dataset
	return nil
}

func (m *Memory) GetImage(_ context.Context, id string) (Image, error) {
	if err := m.check(); err != nil {
		return Image{}, err
	}
	img, ok := m.images[id]
	if !ok {
		return Image{}, domain.NotFoundError{Entity: domain.EntityImage, ID: id}
	}
	return img, nil
}

func (m *Memory) SaveImage(_ context.Context, image Image) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.images[image.ID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityImage, ID: image.ID}
	}
	m.images[image.ID] = image
	return nil
}

func (m *Memory) DeleteImage(_ context.Context, id string) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.images[id]; !ok {
		return domain.NotFoundError{Entity: domain.EntityImage, ID: id}
	}
	delete(m.images, id)
	delete(m.imageFiles, id)
	if dsID, ok := m.imageDataset[id]; ok {
		d := m.datasets[dsID]
		kept := d.ImageIDs[:0]
		for _, imgID := range d.ImageIDs {
			if imgID != id {
				kept = append(kept, imgID)
			}
		}
		d.ImageIDs = kept
		m.datasets[dsID] = d
		delete(m.imageDataset, id)
	}
	delete(m.links, linkKey(ObjectRef{Type: ObjectImage, ID: id}))
	return nil
}

func (m *Memory) ImportImage(_ context.Context, datasetID, path, name string) (Image, error) {
	if err := m.check(); err != nil {
		return Image{}, err
	}
	d, ok := m.datasets[datasetID]
	if !ok {
		return Image{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	img := Image{ID: m.nextID(), Name: name, Owner: "root", Created: time.Now().UTC(), SizeX: 1, SizeY: 1, SizeZ: 1, SizeC: 1, SizeT: 1}
	m.images[img.ID] = img
	m.imageFiles[img.ID] = content
	d.ImageIDs = append(d.ImageIDs, img.ID)
	m.datasets[datasetID] = d
	m.imageDataset[img.ID] = datasetID
	return img, nil
}

func (m *Memory) ExportImage(_ context.Context, id string, w io.Writer) error {
	if err := m.check(); err != nil {
		return err
	}
	content, ok := m.imageFiles[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityImage, ID: id}
	}
	_, err := w.Write(content)
	return err
}

func (m *Memory) GetPlane(_ context.Context, imageID string, z, c, t int) (Plane, error) {
	if err := m.check(); err != nil {
		return Plane{}, err
	}
	img, ok := m.images[imageID]
	if !ok {
		return Plane{}, domain.NotFoundError{Entity: domain.EntityImage, ID: imageID}
	}
	if z >= img.SizeZ || c >= img.SizeC || t >= img.SizeT {
		return Plane{}, fmt.Errorf("plane (%d,%d,%d) out of range for image %s", z, c, t, imageID)
	}
	return Plane{Z: z, C: c, T: t, Bytes: m.imageFiles[imageID]}, nil
}

func (m *Memory) ParentProject(_ context.Context, imageID string) (Project, error) {
	if err := m.check(); err != nil {
		return Project{}, err
	}
	dsID, ok := m.imageDataset[imageID]
	if !ok {
		return Project{}, domain.NotFoundError{Entity: domain.EntityImage, ID: imageID}
	}
	projID, ok := m.datasetProject[dsID]
	if !ok {
		return Project{}, domain.NotFoundError{Entity: domain.EntityProject, ID: ""}
	}
	return m.projects[projID], nil
}

func linkKey(ref ObjectRef) string { return string(ref.Type) + "/" + ref.ID }

func (m *Memory) ListAnnotations(_ context.Context, ref ObjectRef) ([]Annotation, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	ids := m.links[linkKey(ref)]
	out := make([]Annotation, 0, len(ids))
	for _, id := range ids {
		if ann, ok := m.annotations[id]; ok {
			out = append(out, ann)
		}
	}
	return out, nil
}

func (m *Memory) GetFileAnnotation(_ context.Context, id string) (Annotation, error) {
	if err := m.check(); err != nil {
		return Annotation{}, err
	}
	ann, ok := m.annotations[id]
	if !ok || ann.Kind != AnnotationFile {
		return Annotation{}, domain.NotFoundError{Entity: domain.EntityFileAnnotation, ID: id}
	}
	return ann, nil
}

func (m *Memory) CreateTagAnnotation(_ context.Context, value string) (Annotation, error) {
	if err := m.check(); err != nil {
		return Annotation{}, err
	}
	ann := Annotation{ID: m.nextID(), Kind: AnnotationTag, Value: value}
	m.annotations[ann.ID] = ann
	return ann, nil
}

func (m *Memory) CreateMapAnnotation(_ context.Context, pairs []KeyValue) (Annotation, error) {
	if err := m.check(); err != nil {
		return Annotation{}, err
	}
	ann := Annotation{ID: m.nextID(), Kind: AnnotationMap, Pairs: append([]KeyValue(nil), pairs...)}
	m.annotations[ann.ID] = ann
	return ann, nil
}

func (m *Memory) SaveAnnotation(_ context.Context, ann Annotation) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, ok := m.annotations[ann.ID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityAnnotation, ID: ann.ID}
	}
	m.annotations[ann.ID] = ann
	return nil
}

func (m *Memory) LinkAnnotation(_ context.Context, ref ObjectRef, annotationID string) error {
	if err := m.check(); err != nil {
		return err
	}
	if m.LinkAnnotationErr != nil {
		err := m.LinkAnnotationErr
		m.LinkAnnotationErr = nil
		return err
	}
	if _, ok := m.annotations[annotationID]; !ok {
		return domain.NotFoundError{Entity: domain.EntityAnnotation, ID: annotationID}
	}
	key := linkKey(ref)
	m.links[key] = append(m.links[key], annotationID)
	return nil
}

func (m *Memory) DeleteAnnotations(_ context.Context, ids []string) error {
	if err := m.check(); err != nil {
		return err
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(m.annotations, id)
		delete(m.files, id)
	}
	for key, linked := range m.links {
		kept := linked[:0]
		for _, id := range linked {
			if _, gone := drop[id]; !gone {
				kept = append(kept, id)
			}
		}
		m.links[key] = kept
	}
	return nil
}

func (m *Memory) UploadAttachment(_ context.Context, name string, r io.Reader) (Annotation, error) {
	if err := m.check(); err != nil {
		return Annotation{}, err
	}
	if m.UploadErr != nil {
		err := m.UploadErr
		m.UploadErr = nil
		return Annotation{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return Annotation{}, err
	}
	ann := Annotation{
		ID:   m.nextID(),
		Kind: AnnotationFile,
		File: FileInfo{Name: name, Size: int64(buf.Len())},
	}
	m.annotations[ann.ID] = ann
	m.files[ann.ID] = buf.Bytes()
	return ann, nil
}

func (m *Memory) DownloadAttachment(_ context.Context, annotationID string, w io.Writer) error {
	if err := m.check(); err != nil {
		return err
	}
	content, ok := m.files[annotationID]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityFileAnnotation, ID: annotationID}
	}
	// Chunked copy mirrors the wire behaviour of the real download.
	for len(content) > 0 {
		n := len(content)
		if n > 1<<16 {
			n = 1 << 16
		}
		if _, err := w.Write(content[:n]); err != nil {
			return err
		}
		content = content[n:]
	}
	return nil
}

var _ Client = (*Memory)(nil)
