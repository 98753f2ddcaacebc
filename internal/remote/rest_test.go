package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// fakeServer is a minimal JSON API the REST driver can log into. Only the
// routes exercised by the tests are implemented.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v0/login", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("POST /api/v0/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/v0/m/projects", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "1", "name": "exp", "owner": "alice", "created": "2025-03-01T10:00:00Z", "dataset_ids": []string{"10"}},
		})
	})
	mux.HandleFunc("GET /api/v0/m/projects/7", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "7", "name": "other"})
	})
	mux.HandleFunc("GET /api/v0/m/projects/404", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/v0/m/fileannotations", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(file); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "55", "kind": "file",
			"file_name": header.Filename, "file_size": buf.Len(),
		})
	})
	mux.HandleFunc("GET /api/v0/m/fileannotations/55/file", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"uuid":"r"}`))
	})
	return httptest.NewServer(mux)
}

func restClientFor(t *testing.T, server *httptest.Server) *REST {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return NewREST(RESTConfig{
		Host:     u.Hostname(),
		Port:     port,
		Username: "alice",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
}

func TestRESTConnectAndList(t *testing.T) {
	server := fakeServer(t)
	defer server.Close()
	ctx := context.Background()
	client := restClientFor(t, server)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer func() { _ = client.Close(ctx) }()

	projects, err := client.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "exp" || projects[0].Owner != "alice" {
		t.Fatalf("unexpected projects %+v", projects)
	}
	if projects[0].Created.IsZero() {
		t.Fatalf("created timestamp not parsed")
	}
}

func TestRESTBadCredentials(t *testing.T) {
	server := fakeServer(t)
	defer server.Close()
	client := restClientFor(t, server)
	client.cfg.Password = "wrong"
	err := client.Connect(context.Background())
	var connErr domain.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestRESTNotFoundMapping(t *testing.T) {
	server := fakeServer(t)
	defer server.Close()
	ctx := context.Background()
	client := restClientFor(t, server)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_, err := client.GetProject(ctx, "404")
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Entity != domain.EntityProject || notFound.ID != "404" {
		t.Fatalf("unexpected payload %+v", notFound)
	}
}

func TestRESTCallsRequireSession(t *testing.T) {
	server := fakeServer(t)
	defer server.Close()
	client := restClientFor(t, server)
	if _, err := client.ListProjects(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRESTAttachmentUploadDownload(t *testing.T) {
	server := fakeServer(t)
	defer server.Close()
	ctx := context.Background()
	client := restClientFor(t, server)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ann, err := client.UploadAttachment(ctx, "run.md.json", strings.NewReader(`{"uuid":"r"}`))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ann.ID != "55" || ann.Kind != AnnotationFile || ann.File.Name != "run.md.json" {
		t.Fatalf("unexpected annotation %+v", ann)
	}
	var buf bytes.Buffer
	if err := client.DownloadAttachment(ctx, "55", &buf); err != nil {
		t.Fatalf("download: %v", err)
	}
	if buf.String() != `{"uuid":"r"}` {
		t.Fatalf("content mismatch %q", buf.String())
	}
}

func TestRESTCloseIdempotent(t *testing.T) {
	server := fakeServer(t)
	defer server.Close()
	ctx := context.Background()
	client := restClientFor(t, server)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
