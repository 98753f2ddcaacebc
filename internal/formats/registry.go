// Package formats is the boundary to the format registry: it maps a format
// tag to a file extension and answers whether a format can be imported into
// the remote store.
package formats

import (
	"sort"

	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// FormatTIFF is the only format the OMERO backend imports today.
const FormatTIFF = "imagetiff"

// Format describes one registered data format.
type Format struct {
	Tag        string
	Extension  string
	Importable bool
}

// Registry resolves format tags. The zero value is unusable; construct with
// NewRegistry.
type Registry struct {
	formats map[string]Format
}

// NewRegistry returns a registry preloaded with the formats the framework
// ships with.
func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]Format)}
	r.Register(Format{Tag: FormatTIFF, Extension: "tif", Importable: true})
	r.Register(Format{Tag: "imagepng", Extension: "png"})
	r.Register(Format{Tag: "zarr", Extension: "zarr"})
	r.Register(Format{Tag: "movietxt", Extension: "txt"})
	r.Register(Format{Tag: "tablecsv", Extension: "csv"})
	return r
}

// Register adds or replaces a format entry.
func (r *Registry) Register(f Format) { r.formats[f.Tag] = f }

// Lookup resolves a format tag to its registered entry.
func (r *Registry) Lookup(tag string) (Format, error) {
	f, ok := r.formats[tag]
	if !ok {
		return Format{}, domain.UnsupportedFormatError{Format: tag}
	}
	return f, nil
}

// Extension resolves a format tag to its file extension.
func (r *Registry) Extension(tag string) (string, error) {
	f, err := r.Lookup(tag)
	if err != nil {
		return "", err
	}
	return f.Extension, nil
}

// CheckImportable rejects any format the backend cannot import. It is called
// before any remote round trip.
func (r *Registry) CheckImportable(tag string) error {
	f, ok := r.formats[tag]
	if !ok || !f.Importable {
		return domain.UnsupportedFormatError{Format: tag}
	}
	return nil
}

// Tags lists registered format tags in stable order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.formats))
	for tag := range r.formats {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
