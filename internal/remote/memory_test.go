package remote

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

func connectedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return m
}

func TestMemorySessionGuard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.ListProjects(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed before connect, got %v", err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := m.ListProjects(ctx); err != nil {
		t.Fatalf("list after connect: %v", err)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.ListProjects(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestMemoryProjectDatasetLinking(t *testing.T) {
	ctx := context.Background()
	m := connectedMemory(t)
	p, err := m.CreateProject(ctx, "exp", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	d, err := m.CreateDataset(ctx, "data")
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	if err := m.LinkDatasetToProject(ctx, d.ID, p.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	got, err := m.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(got.DatasetIDs) != 1 || got.DatasetIDs[0] != d.ID {
		t.Fatalf("dataset not linked: %+v", got)
	}
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	m := connectedMemory(t)
	var notFound domain.NotFoundError
	if _, err := m.GetProject(ctx, "999"); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Entity != domain.EntityProject || notFound.ID != "999" {
		t.Fatalf("unexpected error payload %+v", notFound)
	}
	if _, err := m.GetDataset(ctx, "999"); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := m.GetImage(ctx, "999"); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemoryImportExportImage(t *testing.T) {
	ctx := context.Background()
	m := connectedMemory(t)
	d, _ := m.CreateDataset(ctx, "data")
	path := filepath.Join(t.TempDir(), "stack.tif")
	if err := os.WriteFile(path, []byte("tiffbytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	img, err := m.ImportImage(ctx, d.ID, path, "stack.tif")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	ds, _ := m.GetDataset(ctx, d.ID)
	if len(ds.ImageIDs) != 1 || ds.ImageIDs[0] != img.ID {
		t.Fatalf("image not member of dataset: %+v", ds)
	}
	var buf bytes.Buffer
	if err := m.ExportImage(ctx, img.ID, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	if buf.String() != "tiffbytes" {
		t.Fatalf("export content mismatch: %q", buf.String())
	}
}

func TestMemoryDeleteImageUnlinks(t *testing.T) {
	ctx := context.Background()
	m := connectedMemory(t)
	d, _ := m.CreateDataset(ctx, "data")
	path := filepath.Join(t.TempDir(), "a.tif")
	_ = os.WriteFile(path, []byte("x"), 0o644)
	img, _ := m.ImportImage(ctx, d.ID, path, "a.tif")
	if err := m.DeleteImage(ctx, img.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ds, _ := m.GetDataset(ctx, d.ID)
	if len(ds.ImageIDs) != 0 {
		t.Fatalf("dataset still references deleted image: %+v", ds)
	}
	var notFound domain.NotFoundError
	if _, err := m.GetImage(ctx, img.ID); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestMemoryAnnotationLifecycle(t *testing.T) {
	ctx := context.Background()
	m := connectedMemory(t)
	p, _ := m.CreateProject(ctx, "exp", "")
	ref := ObjectRef{Type: ObjectProject, ID: p.ID}

	tag, err := m.CreateTagAnnotation(ctx, "stain")
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	if err := m.LinkAnnotation(ctx, ref, tag.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	mapAnn, err := m.CreateMapAnnotation(ctx, []KeyValue{{Key: "stain", Value: "DAPI"}})
	if err != nil {
		t.Fatalf("create map: %v", err)
	}
	if err := m.LinkAnnotation(ctx, ref, mapAnn.ID); err != nil {
		t.Fatalf("link map: %v", err)
	}

	anns, err := m.ListAnnotations(ctx, ref)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(anns) != 2 || anns[0].Kind != AnnotationTag || anns[1].Kind != AnnotationMap {
		t.Fatalf("unexpected annotations %+v", anns)
	}

	if err := m.DeleteAnnotations(ctx, []string{tag.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	anns, _ = m.ListAnnotations(ctx, ref)
	if len(anns) != 1 || anns[0].Kind != AnnotationMap {
		t.Fatalf("tag not removed: %+v", anns)
	}
}

func TestMemoryAttachmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := connectedMemory(t)
	ann, err := m.UploadAttachment(ctx, "run.md.json", strings.NewReader(`{"uuid":"r"}`))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ann.Kind != AnnotationFile || ann.File.Name != "run.md.json" || ann.File.Size != 12 {
		t.Fatalf("unexpected annotation %+v", ann)
	}
	var buf bytes.Buffer
	if err := m.DownloadAttachment(ctx, ann.ID, &buf); err != nil {
		t.Fatalf("download: %v", err)
	}
	if buf.String() != `{"uuid":"r"}` {
		t.Fatalf("content mismatch: %q", buf.String())
	}
}
