package main

import (
	"errors"
	"testing"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

func TestParsePairs(t *testing.T) {
	pairs, err := parsePairs([]string{"population=HeLa", "treatment="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pairs["population"] != "HeLa" || pairs["treatment"] != "" {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	if _, err := parsePairs([]string{"novalue"}); err == nil {
		t.Fatal("expected error for pair without =")
	}
	if _, err := parsePairs([]string{"=x"}); err == nil {
		t.Fatal("expected error for empty key")
	}
	if pairs, err := parsePairs(nil); err != nil || pairs != nil {
		t.Fatalf("unexpected result %v %v", pairs, err)
	}
}

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"/data/plate/cells.tif": "cells.tif",
		"cells.tif":             "cells.tif",
		"dir/":                  "",
	}
	for path, want := range cases {
		if got := baseName(path); got != want {
			t.Fatalf("baseName(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(nil) != 0 {
		t.Fatal("nil error must exit 0")
	}
	if exitCode(domain.NotFoundError{Entity: domain.EntityRun, ID: "1"}) != 2 {
		t.Fatal("not-found must exit 2")
	}
	if exitCode(domain.ConnectionError{Host: "h", Err: errors.New("refused")}) != 3 {
		t.Fatal("connection failure must exit 3")
	}
	if exitCode(errors.New("boom")) != 1 {
		t.Fatal("generic error must exit 1")
	}
}

func TestRunRequiresCommand(t *testing.T) {
	if err := run([]string{"-config", "missing.yaml"}, nil); err == nil {
		t.Fatal("expected error without a command")
	}
}
