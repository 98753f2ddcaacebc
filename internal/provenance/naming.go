package provenance

import "fmt"

// RunDocumentName is the canonical attachment name of the first run document
// on a dataset.
const RunDocumentName = "run.md.json"

// DocumentSuffix marks an attachment as a metadata document.
const DocumentSuffix = ".md.json"

// OriginDocumentName is the attachment name of a processed-data origin
// document.
const OriginDocumentName = "processed_data.md.json"

// NextRunDocumentName returns the first unused name in the sequence
// run.md.json, run_1.md.json, run_2.md.json, ... given the attachment names
// already present on a dataset. The sequence is deterministic so repeated
// runs against the same dataset reproduce identical fixtures.
func NextRunDocumentName(existing []string) string {
	used := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		used[name] = struct{}{}
	}
	name := RunDocumentName
	for i := 1; ; i++ {
		if _, taken := used[name]; !taken {
			return name
		}
		name = fmt.Sprintf("run_%d%s", i, DocumentSuffix)
	}
}

// IsDocumentName reports whether an attachment name denotes a metadata
// document.
func IsDocumentName(name string) bool {
	return len(name) >= len(DocumentSuffix) && name[len(name)-len(DocumentSuffix):] == DocumentSuffix
}

// IsRunDocumentName reports whether an attachment name belongs to the run
// document sequence.
func IsRunDocumentName(name string) bool {
	if name == RunDocumentName {
		return true
	}
	return IsDocumentName(name) && len(name) > 4 && name[:4] == "run_"
}
