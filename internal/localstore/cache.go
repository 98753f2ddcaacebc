// Package localstore keeps a local mirror of the metadata records the
// adapter has seen, so browsing continues when the remote server is
// unreachable. The mirror is a cache, not a source of truth: the server
// always wins on reconnect.
package localstore

import (
	"sort"
	"sync"

	"github.com/bioimageit/bioimageit-omero/internal/metadata"
	"github.com/bioimageit/bioimageit-omero/pkg/domain"
)

// Every backend feeds from the service as a mirror.
var (
	_ metadata.Mirror = (*Cache)(nil)
	_ metadata.Mirror = (*SQLiteStore)(nil)
	_ metadata.Mirror = (*PostgresStore)(nil)
)

// Snapshot is the serializable full state of a mirror. Slices are sorted by
// md_uri so repeated exports of the same state are byte-identical.
type Snapshot struct {
	Experiments   []domain.Experiment    `json:"experiments,omitempty"`
	Datasets      []domain.Dataset       `json:"datasets,omitempty"`
	RawData       []domain.RawData       `json:"raw_data,omitempty"`
	ProcessedData []domain.ProcessedData `json:"processed_data,omitempty"`
	Runs          []domain.Run           `json:"runs,omitempty"`
}

// Cache is the in-memory mirror. Safe for concurrent use.
type Cache struct {
	mu            sync.RWMutex
	experiments   map[string]domain.Experiment
	datasets      map[string]domain.Dataset
	rawData       map[string]domain.RawData
	processedData map[string]domain.ProcessedData
	runs          map[string]domain.Run
}

// NewCache returns an empty mirror.
func NewCache() *Cache {
	return &Cache{
		experiments:   make(map[string]domain.Experiment),
		datasets:      make(map[string]domain.Dataset),
		rawData:       make(map[string]domain.RawData),
		processedData: make(map[string]domain.ProcessedData),
		runs:          make(map[string]domain.Run),
	}
}

func (c *Cache) PutExperiment(exp domain.Experiment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.experiments[exp.MDURI] = exp
	return nil
}

func (c *Cache) PutDataset(ds domain.Dataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[ds.MDURI] = ds
	return nil
}

func (c *Cache) PutRawData(data domain.RawData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rawData[data.MDURI] = data
	return nil
}

func (c *Cache) PutProcessedData(data domain.ProcessedData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processedData[data.MDURI] = data
	return nil
}

func (c *Cache) PutRun(run domain.Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[run.MDURI] = run
	return nil
}

// Experiment looks up a mirrored experiment by md_uri.
func (c *Cache) Experiment(mdURI string) (domain.Experiment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exp, ok := c.experiments[mdURI]
	return exp, ok
}

func (c *Cache) Dataset(mdURI string) (domain.Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.datasets[mdURI]
	return ds, ok
}

func (c *Cache) RawData(mdURI string) (domain.RawData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.rawData[mdURI]
	return data, ok
}

func (c *Cache) ProcessedData(mdURI string) (domain.ProcessedData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.processedData[mdURI]
	return data, ok
}

func (c *Cache) Run(mdURI string) (domain.Run, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[mdURI]
	return run, ok
}

// Experiments lists the mirrored experiments sorted by md_uri.
func (c *Cache) Experiments() []domain.Experiment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Experiment, 0, len(c.experiments))
	for _, exp := range c.experiments {
		out = append(out, exp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MDURI < out[j].MDURI })
	return out
}

// ExportState captures the full mirror content as a snapshot.
func (c *Cache) ExportState() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var snap Snapshot
	for _, exp := range c.experiments {
		snap.Experiments = append(snap.Experiments, exp)
	}
	for _, ds := range c.datasets {
		snap.Datasets = append(snap.Datasets, ds)
	}
	for _, data := range c.rawData {
		snap.RawData = append(snap.RawData, data)
	}
	for _, data := range c.processedData {
		snap.ProcessedData = append(snap.ProcessedData, data)
	}
	for _, run := range c.runs {
		snap.Runs = append(snap.Runs, run)
	}
	sort.Slice(snap.Experiments, func(i, j int) bool { return snap.Experiments[i].MDURI < snap.Experiments[j].MDURI })
	sort.Slice(snap.Datasets, func(i, j int) bool { return snap.Datasets[i].MDURI < snap.Datasets[j].MDURI })
	sort.Slice(snap.RawData, func(i, j int) bool { return snap.RawData[i].MDURI < snap.RawData[j].MDURI })
	sort.Slice(snap.ProcessedData, func(i, j int) bool { return snap.ProcessedData[i].MDURI < snap.ProcessedData[j].MDURI })
	sort.Slice(snap.Runs, func(i, j int) bool { return snap.Runs[i].MDURI < snap.Runs[j].MDURI })
	return snap
}

// ImportState replaces the mirror content with a snapshot.
func (c *Cache) ImportState(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.experiments = make(map[string]domain.Experiment, len(snap.Experiments))
	for _, exp := range snap.Experiments {
		c.experiments[exp.MDURI] = exp
	}
	c.datasets = make(map[string]domain.Dataset, len(snap.Datasets))
	for _, ds := range snap.Datasets {
		c.datasets[ds.MDURI] = ds
	}
	c.rawData = make(map[string]domain.RawData, len(snap.RawData))
	for _, data := range snap.RawData {
		c.rawData[data.MDURI] = data
	}
	c.processedData = make(map[string]domain.ProcessedData, len(snap.ProcessedData))
	for _, data := range snap.ProcessedData {
		c.processedData[data.MDURI] = data
	}
	c.runs = make(map[string]domain.Run, len(snap.Runs))
	for _, run := range snap.Runs {
		c.runs[run.MDURI] = run
	}
}
