package provenance

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

func sampleRun() domain.Run {
	return domain.Run{
		UUID:        "run-42",
		ProcessName: "threshold",
		ProcessURI:  "https://hub.example.org/tools/threshold/v1",
		ProcessedDataset: domain.Container{
			MDURI: "201",
			UUID:  "ds-201",
		},
		Inputs: []domain.RunInput{
			{Name: "image", Dataset: "101", Query: "name=stack_*.tif", OriginOutputName: "o"},
			{Name: "mask", Dataset: "102", Query: "", OriginOutputName: "segmentation"},
		},
		Parameters: []domain.RunParameter{
			{Name: "sigma", Value: "1.5"},
			{Name: "method", Value: "otsu"},
			{Name: "iterations", Value: "3"},
		},
	}
}

func TestRunRoundTrip(t *testing.T) {
	run := sampleRun()
	data, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(run, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, run)
	}
}

func TestRunListOrderPreserved(t *testing.T) {
	run := sampleRun()
	data, err := EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, in := range run.Inputs {
		if decoded.Inputs[i] != in {
			t.Fatalf("input %d reordered: got %+v want %+v", i, decoded.Inputs[i], in)
		}
	}
	for i, p := range run.Parameters {
		if decoded.Parameters[i] != p {
			t.Fatalf("parameter %d reordered: got %+v want %+v", i, decoded.Parameters[i], p)
		}
	}
}

func TestRunDocumentShape(t *testing.T) {
	data, err := EncodeRun(sampleRun())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"uuid", "process", "processed_dataset", "inputs", "parameters"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("document missing top-level %q: %s", key, data)
		}
	}
	process := doc["process"].(map[string]any)
	if process["name"] != "threshold" || process["url"] != "https://hub.example.org/tools/threshold/v1" {
		t.Fatalf("unexpected process block %+v", process)
	}
	params := doc["parameters"].([]any)
	for i, p := range params {
		if _, ok := p.(map[string]any)["value"].(string); !ok {
			t.Fatalf("parameter %d value not serialized as text: %+v", i, p)
		}
	}
}

func TestDecodeRunMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"only uuid", `{"uuid": "x"}`, "process"},
		{"missing uuid", `{"process": {"name": "p", "url": "u"}, "processed_dataset": {"uuid": "d", "url": "1"}}`, "uuid"},
		{"missing process name", `{"uuid": "x", "process": {"url": "u"}, "processed_dataset": {"uuid": "d", "url": "1"}}`, "process.name"},
		{"missing process url", `{"uuid": "x", "process": {"name": "p"}, "processed_dataset": {"uuid": "d", "url": "1"}}`, "process.url"},
		{"missing dataset uuid", `{"uuid": "x", "process": {"name": "p", "url": "u"}, "processed_dataset": {"url": "1"}}`, "processed_dataset.uuid"},
		{"missing dataset url", `{"uuid": "x", "process": {"name": "p", "url": "u"}, "processed_dataset": {"uuid": "d"}}`, "processed_dataset.url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRun([]byte(tc.doc))
			var malformed MalformedDocumentError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedDocumentError, got %v", err)
			}
			if malformed.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, malformed.Field)
			}
		})
	}
}

func TestDecodeRunMalformedLists(t *testing.T) {
	base := `{"uuid": "x", "process": {"name": "p", "url": "u"}, "processed_dataset": {"uuid": "d", "url": "1"}`
	cases := []struct {
		name string
		doc  string
	}{
		{"inputs not a list", base + `, "inputs": {"name": "a"}}`},
		{"input not an object", base + `, "inputs": ["a"]}`},
		{"input missing query", base + `, "inputs": [{"name": "a", "dataset": "1", "origin_output_name": "o"}]}`},
		{"parameters not a list", base + `, "parameters": "sigma"}`},
		{"parameter missing value", base + `, "parameters": [{"name": "sigma"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRun([]byte(tc.doc))
			var malformed MalformedDocumentError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedDocumentError, got %v", err)
			}
		})
	}
}

func TestDecodeRunIgnoresUnknownFields(t *testing.T) {
	doc := `{
		"uuid": "x",
		"schema_version": 3,
		"process": {"name": "p", "url": "u", "vendor": "acme"},
		"processed_dataset": {"uuid": "d", "url": "1"},
		"inputs": [],
		"parameters": [{"name": "sigma", "value": "2", "unit": "px"}]
	}`
	run, err := DecodeRun([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.UUID != "x" || run.ProcessName != "p" || len(run.Parameters) != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestDecodeRunNumericParameterValue(t *testing.T) {
	doc := `{
		"uuid": "x",
		"process": {"name": "p", "url": "u"},
		"processed_dataset": {"uuid": "d", "url": "1"},
		"parameters": [{"name": "sigma", "value": 1.5}, {"name": "fast", "value": true}]
	}`
	run, err := DecodeRun([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Parameters[0].Value != "1.5" || run.Parameters[1].Value != "true" {
		t.Fatalf("scalar values not rendered as text: %+v", run.Parameters)
	}
}

func TestOriginRoundTrip(t *testing.T) {
	name := "count"
	label := "Cell count"
	origin := domain.Origin{
		Run: domain.Container{MDURI: "901", UUID: "run-901"},
		Inputs: []domain.ProcessedDataInput{
			{Name: "image", URI: "301", UUID: "im-301", Type: domain.TypeRaw},
			{Name: "mask", URI: "302", UUID: "im-302", Type: domain.TypeProcessed},
		},
		OutputName:  &name,
		OutputLabel: &label,
	}
	data, err := EncodeOrigin(origin)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeOrigin(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(origin, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, origin)
	}
}

func TestOriginOptionalOutputFieldsAbsent(t *testing.T) {
	name := "count"
	origin := domain.Origin{
		Run:        domain.Container{MDURI: "901", UUID: "run-901"},
		OutputName: &name,
	}
	data, err := EncodeOrigin(origin)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// The label key must be absent from the document, not an empty string.
	var envelope map[string]map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	output := envelope["origin"]["output"].(map[string]any)
	if _, present := output["label"]; present {
		t.Fatalf("label key written for unrecorded label: %s", data)
	}
	decoded, err := DecodeOrigin(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OutputLabel != nil {
		t.Fatalf("absent label decoded as %q, want nil", *decoded.OutputLabel)
	}
	if decoded.OutputName == nil || *decoded.OutputName != "count" {
		t.Fatalf("recorded name lost: %+v", decoded)
	}
}

func TestOriginEmptyLabelDistinctFromAbsent(t *testing.T) {
	empty := ""
	origin := domain.Origin{
		Run:         domain.Container{MDURI: "901", UUID: "run-901"},
		OutputLabel: &empty,
	}
	data, err := EncodeOrigin(origin)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeOrigin(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OutputLabel == nil || *decoded.OutputLabel != "" {
		t.Fatalf("empty label not preserved: %+v", decoded)
	}
}

func TestOriginTypeMarker(t *testing.T) {
	data, err := EncodeOrigin(domain.Origin{Run: domain.Container{MDURI: "1", UUID: "r"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var envelope map[string]map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope["origin"]["type"] != TypeProcessed {
		t.Fatalf("unexpected origin type %v", envelope["origin"]["type"])
	}
}

func TestDecodeOriginMissingRun(t *testing.T) {
	_, err := DecodeOrigin([]byte(`{"origin": {"type": "processed", "inputs": []}}`))
	var malformed MalformedDocumentError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedDocumentError, got %v", err)
	}
	if malformed.Field != "origin.run" {
		t.Fatalf("unexpected field %q", malformed.Field)
	}
}
