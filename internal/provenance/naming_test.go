package provenance

import "testing"

func TestNextRunDocumentName(t *testing.T) {
	cases := []struct {
		name     string
		existing []string
		want     string
	}{
		{"empty dataset", nil, "run.md.json"},
		{"first taken", []string{"run.md.json"}, "run_1.md.json"},
		{"sequence", []string{"run.md.json", "run_1.md.json"}, "run_2.md.json"},
		{"gap reuses first free", []string{"run.md.json", "run_2.md.json"}, "run_1.md.json"},
		{"unrelated attachments ignored", []string{"processed_data.md.json", "notes.txt"}, "run.md.json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextRunDocumentName(tc.existing); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNextRunDocumentNameDeterministic(t *testing.T) {
	existing := []string{"run.md.json", "run_1.md.json", "run_2.md.json"}
	first := NextRunDocumentName(existing)
	second := NextRunDocumentName(existing)
	if first != second || first != "run_3.md.json" {
		t.Fatalf("allocation not deterministic: %q %q", first, second)
	}
}

func TestIsDocumentName(t *testing.T) {
	if !IsDocumentName("run_4.md.json") || !IsDocumentName("processed_data.md.json") {
		t.Fatal("document names not recognised")
	}
	if IsDocumentName("stack.tif") || IsDocumentName("json") {
		t.Fatal("non-document names recognised")
	}
}

func TestIsRunDocumentName(t *testing.T) {
	for _, name := range []string{"run.md.json", "run_1.md.json", "run_12.md.json"} {
		if !IsRunDocumentName(name) {
			t.Fatalf("%q not recognised as run document", name)
		}
	}
	for _, name := range []string{"processed_data.md.json", "run.txt", "runner.md.json"} {
		if IsRunDocumentName(name) {
			t.Fatalf("%q wrongly recognised as run document", name)
		}
	}
}
