// Package remote defines the boundary to the image-database server. The
// adapter depends on these calls as opaque remote procedures: lookups are
// idempotent, mutations become visible only after the corresponding save.
// Drivers: rest (production), memory (tests).
package remote

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete client implementation.
type Driver string

const (
	DriverREST   Driver = "rest"
	DriverMemory Driver = "memory" // in-process fake (tests)
)

// ObjectType enumerates the remote object classes the adapter looks up.
type ObjectType string

const (
	ObjectProject        ObjectType = "Project"
	ObjectDataset        ObjectType = "Dataset"
	ObjectImage          ObjectType = "Image"
	ObjectFileAnnotation ObjectType = "FileAnnotation"
)

// ObjectRef addresses one remote object by type and id.
type ObjectRef struct {
	Type ObjectType
	ID   string
}

// AnnotationKind tags the polymorphic annotation variants the server stores.
type AnnotationKind string

const (
	AnnotationTag  AnnotationKind = "tag"
	AnnotationMap  AnnotationKind = "map"
	AnnotationFile AnnotationKind = "file"
)

// KeyValue is one ordered entry of a map annotation.
type KeyValue struct {
	Key   string
	Value string
}

// FileInfo describes the file behind a file annotation.
type FileInfo struct {
	Name string
	Size int64
}

// Annotation is a tagged variant over the server's annotation classes.
// Kind selects which of the per-kind fields is meaningful.
type Annotation struct {
	ID    string
	Kind  AnnotationKind
	Value string     // tag
	Pairs []KeyValue // map
	File  FileInfo   // file
}

// Project is a remote project record.
type Project struct {
	ID          string
	Name        string
	Description string
	Owner       string
	Created     time.Time
	DatasetIDs  []string
}

// Dataset is a remote dataset record.
type Dataset struct {
	ID      string
	Name    string
	Owner   string
	Created time.Time
	// ImageIDs preserves the dataset's member order.
	ImageIDs []string
}

// Image is a remote image record. Sizes describe the 5D pixel buffer.
type Image struct {
	ID      string
	Name    string
	Owner   string
	Created time.Time
	SizeX   int
	SizeY   int
	SizeZ   int
	SizeC   int
	SizeT   int
}

// Plane is one 2D pixel plane addressed by (z, c, t). Bytes are the server's
// native pixel encoding; the adapter never interprets them.
type Plane struct {
	Z, C, T int
	Bytes   []byte
}

// ErrClosed is returned by calls made after the session was released.
var ErrClosed = errors.New("remote: session closed")

// Client is the session-scoped binding to the server. One client owns
// exactly one session; concurrent use from multiple callers is unsupported.
type Client interface {
	// Connect acquires the session. Calling any other method first is an error.
	Connect(ctx context.Context) error
	// Close releases the session. Safe to call more than once.
	Close(ctx context.Context) error

	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	CreateProject(ctx context.Context, name, description string) (Project, error)
	SaveProject(ctx context.Context, project Project) error

	CreateDataset(ctx context.Context, name string) (Dataset, error)
	LinkDatasetToProject(ctx context.Context, datasetID, projectID string) error
	GetDataset(ctx context.Context, id string) (Dataset, error)
	SaveDataset(ctx context.Context, dataset Dataset) error

	GetImage(ctx context.Context, id string) (Image, error)
	SaveImage(ctx context.Context, image Image) error
	DeleteImage(ctx context.Context, id string) error
	// ImportImage uploads a local file into the dataset and returns the new
	// image record once the server has ingested it.
	ImportImage(ctx context.Context, datasetID, path, name string) (Image, error)
	// ExportImage streams the image's original file to w.
	ExportImage(ctx context.Context, id string, w io.Writer) error
	// GetPlane fetches one pixel plane by (z, c, t) index.
	GetPlane(ctx context.Context, imageID string, z, c, t int) (Plane, error)

	// ParentProject resolves the project owning the dataset that owns the
	// image (image -> dataset -> project).
	ParentProject(ctx context.Context, imageID string) (Project, error)

	ListAnnotations(ctx context.Context, ref ObjectRef) ([]Annotation, error)
	GetFileAnnotation(ctx context.Context, id string) (Annotation, error)
	CreateTagAnnotation(ctx context.Context, value string) (Annotation, error)
	CreateMapAnnotation(ctx context.Context, pairs []KeyValue) (Annotation, error)
	SaveAnnotation(ctx context.Context, ann Annotation) error
	LinkAnnotation(ctx context.Context, ref ObjectRef, annotationID string) error
	DeleteAnnotations(ctx context.Context, ids []string) error
	// UploadAttachment stores r as a file annotation named name. The
	// annotation exists but is linked to nothing until LinkAnnotation.
	UploadAttachment(ctx context.Context, name string, r io.Reader) (Annotation, error)
	// DownloadAttachment streams the annotation's file content to w in chunks.
	DownloadAttachment(ctx context.Context, annotationID string, w io.Writer) error

	Driver() Driver
}
