// Package domain defines the metadata containers exchanged between the
// bioimaging framework and its metadata backends, plus the typed errors
// every backend surfaces.
package domain

// EntityType identifies the kind of record a backend operates on.
type EntityType string

// Entity type identifiers used in errors and audit entries.
const (
	EntityExperiment    EntityType = "experiment"
	EntityDataset       EntityType = "dataset"
	EntityRawData       EntityType = "raw_data"
	EntityProcessedData EntityType = "processed_data"
	EntityRun           EntityType = "run"
	EntityAnnotation    EntityType = "annotation"
)

// Remote object kinds, used when a backend reports errors in terms of the
// server's own model rather than the framework's containers.
const (
	EntityProject        EntityType = "project"
	EntityImage          EntityType = "image"
	EntityFileAnnotation EntityType = "file_annotation"
)

// DataType distinguishes raw acquisitions from pipeline outputs.
type DataType string

const (
	TypeRaw       DataType = "raw"
	TypeProcessed DataType = "processed"
)

// Container is a lightweight (uri, uuid) reference pair used to cross-link
// entities without embedding full records. It is a back-reference, never an
// ownership edge.
type Container struct {
	MDURI string `json:"md_uri"`
	UUID  string `json:"uuid"`
}

// Empty reports whether the reference points at nothing.
func (c Container) Empty() bool { return c.MDURI == "" && c.UUID == "" }

// DatasetInfo is a named (uri, uuid) reference to a dataset.
type DatasetInfo struct {
	Name  string `json:"name"`
	MDURI string `json:"md_uri"`
	UUID  string `json:"uuid"`
}

// Experiment groups one raw dataset and any number of processed datasets
// under a single named project.
type Experiment struct {
	UUID              string        `json:"uuid"`
	MDURI             string        `json:"md_uri"`
	Name              string        `json:"name"`
	Author            string        `json:"author"`
	Date              string        `json:"date"`
	Keys              []string      `json:"keys,omitempty"`
	RawDataset        DatasetInfo   `json:"raw_dataset"`
	ProcessedDatasets []DatasetInfo `json:"processed_datasets,omitempty"`
}

// Dataset is an ordered collection of data references. The implicit "data"
// dataset created with an experiment holds raw data; datasets created later
// hold processed data.
type Dataset struct {
	UUID  string      `json:"uuid"`
	MDURI string      `json:"md_uri"`
	Name  string      `json:"name"`
	URIs  []Container `json:"uris,omitempty"`
}

// RawData describes one acquired data item. KeyValuePairs merges
// dataset-level vocabulary tags (value-less placeholders) with item-level
// annotations; the item-level value wins on collision.
type RawData struct {
	UUID          string            `json:"uuid"`
	MDURI         string            `json:"md_uri"`
	URI           string            `json:"uri"`
	Name          string            `json:"name"`
	Author        string            `json:"author"`
	Format        string            `json:"format"`
	Date          string            `json:"date"`
	Type          DataType          `json:"type"`
	KeyValuePairs map[string]string `json:"key_value_pairs,omitempty"`
}

// ProcessedDataInput records one input consumed when producing a processed
// data item.
type ProcessedDataInput struct {
	Name string   `json:"name"`
	URI  string   `json:"url"`
	UUID string   `json:"uuid"`
	Type DataType `json:"type"`
}

// Origin is the provenance block of a processed data item: the run that
// produced it, the inputs it consumed and the output descriptor it matches.
// OutputName and OutputLabel are nil when not recorded; absence is distinct
// from an empty string.
type Origin struct {
	Run         Container
	Inputs      []ProcessedDataInput
	OutputName  *string
	OutputLabel *string
}

// ProcessedData describes one data item produced by a run.
type ProcessedData struct {
	UUID   string `json:"uuid"`
	MDURI  string `json:"md_uri"`
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Author string `json:"author"`
	Format string `json:"format"`
	Date   string `json:"date"`
	Origin Origin `json:"origin"`
}

// RunInput is one named input declaration of a run. Order across inputs is
// significant.
type RunInput struct {
	Name             string `json:"name"`
	Dataset          string `json:"dataset"`
	Query            string `json:"query"`
	OriginOutputName string `json:"origin_output_name"`
}

// RunParameter is one named parameter of a run. Value is always text; typed
// consumers re-parse it themselves.
type RunParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Run records one execution of a process against a dataset. A Run with an
// empty UUID has not been persisted yet; the backend assigns identity only
// after the backing document is durably attached.
type Run struct {
	UUID             string         `json:"uuid"`
	MDURI            string         `json:"md_uri"`
	ProcessName      string         `json:"process_name"`
	ProcessURI       string         `json:"process_uri"`
	ProcessedDataset Container      `json:"processed_dataset"`
	Inputs           []RunInput     `json:"inputs,omitempty"`
	Parameters       []RunParameter `json:"parameters,omitempty"`
}

// Persisted reports whether the run has been assigned a durable identity.
func (r Run) Persisted() bool { return r.UUID != "" }
