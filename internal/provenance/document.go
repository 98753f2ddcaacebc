// Package provenance implements the bidirectional mapping between run and
// processed-data origin records and the JSON documents stored as file
// annotations on remote objects. The document shapes are the wire format of
// the .md.json attachments and must stay byte-compatible across backends.
package provenance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// TypeProcessed is the origin type marker written into origin documents.
const TypeProcessed = "processed"

// MalformedDocumentError reports a provenance document missing a required
// field or carrying a malformed list on decode.
type MalformedDocumentError struct {
	Field  string
	Reason string
}

func (e MalformedDocumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed provenance document: missing %q", e.Field)
	}
	return fmt.Sprintf("malformed provenance document: %s: %s", e.Field, e.Reason)
}

type processDoc struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type datasetRefDoc struct {
	UUID string `json:"uuid"`
	URL  string `json:"url"`
}

type runInputDoc struct {
	Name             string `json:"name"`
	Dataset          string `json:"dataset"`
	Query            string `json:"query"`
	OriginOutputName string `json:"origin_output_name"`
}

type runParameterDoc struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type runDoc struct {
	UUID             string            `json:"uuid"`
	Process          processDoc        `json:"process"`
	ProcessedDataset datasetRefDoc     `json:"processed_dataset"`
	Inputs           []runInputDoc     `json:"inputs"`
	Parameters       []runParameterDoc `json:"parameters"`
}

// EncodeRun serializes a run record into its document form. Parameter values
// are always written as text, whatever they hold. The document carries the
// run's uuid but never its md_uri: the uri is backend-local.
func EncodeRun(run domain.Run) ([]byte, error) {
	doc := runDoc{
		UUID:    run.UUID,
		Process: processDoc{Name: run.ProcessName, URL: run.ProcessURI},
		ProcessedDataset: datasetRefDoc{
			UUID: run.ProcessedDataset.UUID,
			URL:  run.ProcessedDataset.MDURI,
		},
		Inputs:     make([]runInputDoc, 0, len(run.Inputs)),
		Parameters: make([]runParameterDoc, 0, len(run.Parameters)),
	}
	for _, in := range run.Inputs {
		doc.Inputs = append(doc.Inputs, runInputDoc(in))
	}
	for _, p := range run.Parameters {
		doc.Parameters = append(doc.Parameters, runParameterDoc(p))
	}
	return json.MarshalIndent(doc, "", "    ")
}

// DecodeRun parses a run document back into a run record. It fails with
// MalformedDocumentError when any required field is missing or the inputs or
// parameters lists are not lists of objects with the required keys. Unknown
// extra fields are ignored.
func DecodeRun(data []byte) (domain.Run, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Run{}, MalformedDocumentError{Field: "document", Reason: err.Error()}
	}

	run := domain.Run{}
	var err error
	if run.UUID, err = requireString(raw, "uuid"); err != nil {
		return domain.Run{}, err
	}
	process, err := requireObject(raw, "process")
	if err != nil {
		return domain.Run{}, err
	}
	if run.ProcessName, err = requireString(process, "process.name", "name"); err != nil {
		return domain.Run{}, err
	}
	if run.ProcessURI, err = requireString(process, "process.url", "url"); err != nil {
		return domain.Run{}, err
	}
	dataset, err := requireObject(raw, "processed_dataset")
	if err != nil {
		return domain.Run{}, err
	}
	if run.ProcessedDataset.UUID, err = requireString(dataset, "processed_dataset.uuid", "uuid"); err != nil {
		return domain.Run{}, err
	}
	if run.ProcessedDataset.MDURI, err = requireString(dataset, "processed_dataset.url", "url"); err != nil {
		return domain.Run{}, err
	}

	inputs, err := optionalList(raw, "inputs")
	if err != nil {
		return domain.Run{}, err
	}
	for i, item := range inputs {
		field := fmt.Sprintf("inputs[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return domain.Run{}, MalformedDocumentError{Field: field, Reason: "not an object"}
		}
		var in domain.RunInput
		if in.Name, err = requireString(obj, field+".name", "name"); err != nil {
			return domain.Run{}, err
		}
		if in.Dataset, err = requireString(obj, field+".dataset", "dataset"); err != nil {
			return domain.Run{}, err
		}
		if in.Query, err = requireString(obj, field+".query", "query"); err != nil {
			return domain.Run{}, err
		}
		if in.OriginOutputName, err = requireString(obj, field+".origin_output_name", "origin_output_name"); err != nil {
			return domain.Run{}, err
		}
		run.Inputs = append(run.Inputs, in)
	}

	parameters, err := optionalList(raw, "parameters")
	if err != nil {
		return domain.Run{}, err
	}
	for i, item := range parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return domain.Run{}, MalformedDocumentError{Field: field, Reason: "not an object"}
		}
		var p domain.RunParameter
		if p.Name, err = requireString(obj, field+".name", "name"); err != nil {
			return domain.Run{}, err
		}
		if p.Value, err = requireText(obj, field+".value", "value"); err != nil {
			return domain.Run{}, err
		}
		run.Parameters = append(run.Parameters, p)
	}
	return run, nil
}

type originInputDoc struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	UUID string `json:"uuid"`
	Type string `json:"type"`
}

type originRefDoc struct {
	URL  string `json:"url"`
	UUID string `json:"uuid"`
}

type originOutputDoc struct {
	Name  *string `json:"name,omitempty"`
	Label *string `json:"label,omitempty"`
}

type originDoc struct {
	Type   string           `json:"type"`
	Run    originRefDoc     `json:"run"`
	Inputs []originInputDoc `json:"inputs"`
	Output originOutputDoc  `json:"output"`
}

type originEnvelope struct {
	Origin originDoc `json:"origin"`
}

// EncodeOrigin serializes the origin block of a processed data item. Output
// name and label keys are written only when recorded; a nil field is omitted
// rather than encoded as an empty string.
func EncodeOrigin(origin domain.Origin) ([]byte, error) {
	doc := originDoc{
		Type:   TypeProcessed,
		Run:    originRefDoc{URL: origin.Run.MDURI, UUID: origin.Run.UUID},
		Inputs: make([]originInputDoc, 0, len(origin.Inputs)),
		Output: originOutputDoc{Name: origin.OutputName, Label: origin.OutputLabel},
	}
	for _, in := range origin.Inputs {
		doc.Inputs = append(doc.Inputs, originInputDoc{
			Name: in.Name,
			URL:  in.URI,
			UUID: in.UUID,
			Type: string(in.Type),
		})
	}
	return json.MarshalIndent(originEnvelope{Origin: doc}, "", "    ")
}

// DecodeOrigin parses an origin document back into an origin record.
// A missing output.name or output.label key decodes to nil, not to an empty
// string.
func DecodeOrigin(data []byte) (domain.Origin, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Origin{}, MalformedDocumentError{Field: "document", Reason: err.Error()}
	}
	originRaw, err := requireObject(raw, "origin")
	if err != nil {
		return domain.Origin{}, err
	}
	runRaw, err := requireObject(originRaw, "origin.run", "run")
	if err != nil {
		return domain.Origin{}, err
	}

	origin := domain.Origin{}
	if origin.Run.MDURI, err = requireString(runRaw, "origin.run.url", "url"); err != nil {
		return domain.Origin{}, err
	}
	if origin.Run.UUID, err = requireString(runRaw, "origin.run.uuid", "uuid"); err != nil {
		return domain.Origin{}, err
	}

	inputs, err := optionalList(originRaw, "inputs")
	if err != nil {
		return domain.Origin{}, err
	}
	for i, item := range inputs {
		field := fmt.Sprintf("origin.inputs[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return domain.Origin{}, MalformedDocumentError{Field: field, Reason: "not an object"}
		}
		var in domain.ProcessedDataInput
		if in.Name, err = requireString(obj, field+".name", "name"); err != nil {
			return domain.Origin{}, err
		}
		if in.URI, err = requireString(obj, field+".url", "url"); err != nil {
			return domain.Origin{}, err
		}
		if in.UUID, err = requireString(obj, field+".uuid", "uuid"); err != nil {
			return domain.Origin{}, err
		}
		typ, err := requireString(obj, field+".type", "type")
		if err != nil {
			return domain.Origin{}, err
		}
		in.Type = domain.DataType(typ)
		origin.Inputs = append(origin.Inputs, in)
	}

	if outputRaw, ok := originRaw["output"]; ok {
		obj, ok := outputRaw.(map[string]any)
		if !ok {
			return domain.Origin{}, MalformedDocumentError{Field: "origin.output", Reason: "not an object"}
		}
		if v, ok := obj["name"]; ok {
			s, ok := v.(string)
			if !ok {
				return domain.Origin{}, MalformedDocumentError{Field: "origin.output.name", Reason: "not a string"}
			}
			origin.OutputName = &s
		}
		if v, ok := obj["label"]; ok {
			s, ok := v.(string)
			if !ok {
				return domain.Origin{}, MalformedDocumentError{Field: "origin.output.label", Reason: "not a string"}
			}
			origin.OutputLabel = &s
		}
	}
	return origin, nil
}

func requireObject(m map[string]any, path string, keys ...string) (map[string]any, error) {
	key := path
	if len(keys) > 0 {
		key = keys[0]
	}
	v, ok := m[key]
	if !ok {
		return nil, MalformedDocumentError{Field: path}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, MalformedDocumentError{Field: path, Reason: "not an object"}
	}
	return obj, nil
}

func requireString(m map[string]any, path string, keys ...string) (string, error) {
	key := path
	if len(keys) > 0 {
		key = keys[0]
	}
	v, ok := m[key]
	if !ok {
		return "", MalformedDocumentError{Field: path}
	}
	s, ok := v.(string)
	if !ok {
		return "", MalformedDocumentError{Field: path, Reason: "not a string"}
	}
	return s, nil
}

// requireText is requireString relaxed to accept scalar values produced by
// writers that did not stringify parameter values. Numbers and booleans are
// rendered as text; consumers re-parse according to their own expectations.
func requireText(m map[string]any, path string, keys ...string) (string, error) {
	key := path
	if len(keys) > 0 {
		key = keys[0]
	}
	v, ok := m[key]
	if !ok {
		return "", MalformedDocumentError{Field: path}
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", MalformedDocumentError{Field: path, Reason: "not a scalar"}
	}
}

func optionalList(m map[string]any, key string) ([]any, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, MalformedDocumentError{Field: key, Reason: "not a list"}
	}
	return list, nil
}
