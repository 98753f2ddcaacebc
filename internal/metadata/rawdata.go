package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/bioimageit/bioimageit-omero/internal/remote"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// Observer receives progress callbacks from long-running bulk operations.
type Observer interface {
	Progress(percent int, message string)
}

// NopObserver discards progress callbacks.
type NopObserver struct{}

func (NopObserver) Progress(int, string) {}

// ImportData imports one local file into the experiment's raw dataset and
// annotates it with the given key-value pairs. The format is checked against
// the registry before any remote call; only importable formats proceed.
// If annotating fails after the image was created, the image is deleted so
// no half-annotated item is left behind.
func (s *Service) ImportData(ctx context.Context, experimentURI, path, name, author, format, date string, keyValuePairs map[string]string) (data domain.RawData, err error) {
	defer func(start time.Time) { s.observe("import_data", start, err) }(time.Now())
	defer func() { s.record(ctx, "import_data", domain.EntityRawData, data.MDURI, err) }()

	if err = s.formats.CheckImportable(format); err != nil {
		return domain.RawData{}, err
	}

	exp, err := s.GetExperiment(ctx, experimentURI)
	if err != nil {
		return domain.RawData{}, err
	}
	if exp.RawDataset.UUID == "" {
		return domain.RawData{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: RawDatasetName}
	}

	image, err := s.client.ImportImage(ctx, exp.RawDataset.UUID, path, name)
	if err != nil {
		return domain.RawData{}, err
	}
	if len(keyValuePairs) > 0 {
		if err = s.annotateImage(ctx, image.ID, keyValuePairs); err != nil {
			if delErr := s.client.DeleteImage(ctx, image.ID); delErr != nil {
				return domain.RawData{}, fmt.Errorf("annotate image: %w (cleanup failed: %v)", err, delErr)
			}
			return domain.RawData{}, err
		}
	}

	data = domain.RawData{
		UUID:          image.ID,
		MDURI:         image.ID,
		URI:           image.ID,
		Name:          name,
		Author:        author,
		Format:        format,
		Date:          normalizeDate(date),
		Type:          domain.TypeRaw,
		KeyValuePairs: keyValuePairs,
	}
	if err = s.mirror.PutRawData(data); err != nil {
		return domain.RawData{}, err
	}
	return data, nil
}

// annotateImage attaches one map annotation carrying pairs to an image.
// Pairs are written in sorted key order so repeated imports produce identical
// annotations.
func (s *Service) annotateImage(ctx context.Context, imageID string, pairs map[string]string) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kvs := make([]remote.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, remote.KeyValue{Key: k, Value: pairs[k]})
	}
	ann, err := s.client.CreateMapAnnotation(ctx, kvs)
	if err != nil {
		return err
	}
	return s.client.LinkAnnotation(ctx, remote.ObjectRef{Type: remote.ObjectImage, ID: imageID}, ann.ID)
}

// ImportDir imports every file in a directory whose name matches filter into
// the experiment's raw dataset. Each imported item is annotated with the
// directory's base name under the given key. Files are imported in name
// order; the observer is notified once per file.
func (s *Service) ImportDir(ctx context.Context, experimentURI, dir, filter, author, format, date, directoryTagKey string, obs Observer) (imported []domain.RawData, err error) {
	defer func(start time.Time) { s.observe("import_dir", start, err) }(time.Now())
	defer func() { s.record(ctx, "import_dir", domain.EntityRawData, experimentURI, err) }()

	if obs == nil {
		obs = NopObserver{}
	}
	if err = s.formats.CheckImportable(format); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", filter, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !re.MatchString(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	tag := filepath.Base(dir)
	date = normalizeDate(date)
	for i, name := range files {
		obs.Progress((i*100)/len(files), fmt.Sprintf("Importing file %d/%d", i+1, len(files)))
		pairs := map[string]string{}
		if directoryTagKey != "" {
			pairs[directoryTagKey] = tag
		}
		data, impErr := s.ImportData(ctx, experimentURI, filepath.Join(dir, name), name, author, format, date, pairs)
		if impErr != nil {
			return imported, impErr
		}
		imported = append(imported, data)
	}
	obs.Progress(100, fmt.Sprintf("Imported %d files", len(files)))
	return imported, nil
}

// GetRawData reads one raw data item. KeyValuePairs merges the parent
// experiment's vocabulary keys (as empty placeholders) with the item's map
// annotations; the item-level value wins when both define a key.
func (s *Service) GetRawData(ctx context.Context, mdURI string) (data domain.RawData, err error) {
	defer func(start time.Time) { s.observe("get_raw_data", start, err) }(time.Now())

	image, err := s.client.GetImage(ctx, mdURI)
	if err != nil {
		return domain.RawData{}, err
	}
	data = domain.RawData{
		UUID:   image.ID,
		MDURI:  image.ID,
		URI:    image.ID,
		Name:   image.Name,
		Author: image.Owner,
		Format: s.guessFormat(image.Name),
		Date:   image.Created.Format(dateLayout),
		Type:   domain.TypeRaw,
	}

	pairs := make(map[string]string)
	anns, err := s.client.ListAnnotations(ctx, remote.ObjectRef{Type: remote.ObjectImage, ID: image.ID})
	if err != nil {
		return domain.RawData{}, err
	}
	for _, ann := range anns {
		if ann.Kind != remote.AnnotationMap {
			continue
		}
		for _, kv := range ann.Pairs {
			pairs[kv.Key] = kv.Value
		}
	}
	project, err := s.client.ParentProject(ctx, image.ID)
	if err != nil {
		return domain.RawData{}, err
	}
	projectAnns, err := s.client.ListAnnotations(ctx, remote.ObjectRef{Type: remote.ObjectProject, ID: project.ID})
	if err != nil {
		return domain.RawData{}, err
	}
	for _, ann := range projectAnns {
		if ann.Kind != remote.AnnotationTag {
			continue
		}
		if _, defined := pairs[ann.Value]; !defined {
			pairs[ann.Value] = ""
		}
	}
	if len(pairs) > 0 {
		data.KeyValuePairs = pairs
	}
	if err = s.mirror.PutRawData(data); err != nil {
		return domain.RawData{}, err
	}
	return data, nil
}

// UpdateRawData writes the item name and replaces its map annotations with
// the item's key-value pairs.
func (s *Service) UpdateRawData(ctx context.Context, data domain.RawData) (err error) {
	defer func(start time.Time) { s.observe("update_raw_data", start, err) }(time.Now())
	defer func() { s.record(ctx, "update_raw_data", domain.EntityRawData, data.MDURI, err) }()

	image, err := s.client.GetImage(ctx, data.MDURI)
	if err != nil {
		return err
	}
	image.Name = data.Name
	if err = s.client.SaveImage(ctx, image); err != nil {
		return err
	}
	return s.replaceMapAnnotations(ctx, remote.ObjectRef{Type: remote.ObjectImage, ID: image.ID}, data.KeyValuePairs)
}

// replaceMapAnnotations deletes every map annotation on ref and writes one
// fresh annotation carrying pairs. Empty-valued pairs are placeholders
// inherited from the experiment vocabulary and are not written back.
func (s *Service) replaceMapAnnotations(ctx context.Context, ref remote.ObjectRef, pairs map[string]string) error {
	anns, err := s.client.ListAnnotations(ctx, ref)
	if err != nil {
		return err
	}
	var toDelete []string
	for _, ann := range anns {
		if ann.Kind == remote.AnnotationMap {
			toDelete = append(toDelete, ann.ID)
		}
	}
	if len(toDelete) > 0 {
		if err := s.client.DeleteAnnotations(ctx, toDelete); err != nil {
			return err
		}
	}
	effective := make(map[string]string, len(pairs))
	for k, v := range pairs {
		if v == "" {
			continue
		}
		effective[k] = v
	}
	if len(effective) == 0 {
		return nil
	}
	return s.annotateImage(ctx, ref.ID, effective)
}

// guessFormat maps a file extension back to a registered format tag. Items
// imported through other tools may carry extensions the registry does not
// know; those report an empty format.
func (s *Service) guessFormat(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}
	ext = ext[1:]
	for _, tag := range s.formats.Tags() {
		f, err := s.formats.Lookup(tag)
		if err == nil && f.Extension == ext {
			return tag
		}
	}
	return ""
}
