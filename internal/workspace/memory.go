package workspace

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"
)

// Memory implements Store on a map, for tests.
type Memory struct {
	entries map[string]memoryEntry
}

type memoryEntry struct {
	content []byte
	modTime time.Time
}

// NewMemory returns an empty in-memory workspace.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) URI(name string) string { return "memory://" + name }

func (m *Memory) Stage(ctx context.Context, name string, r io.Reader) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if _, err := sanitizeName(name); err != nil {
		return Entry{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return Entry{}, err
	}
	e := memoryEntry{content: buf.Bytes(), modTime: time.Now().UTC()}
	m.entries[name] = e
	return Entry{Name: name, Size: int64(len(e.content)), ModTime: e.modTime, Location: m.URI(name)}, nil
}

func (m *Memory) Open(ctx context.Context, name string) (Entry, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, nil, err
	}
	e, ok := m.entries[name]
	if !ok {
		return Entry{}, nil, ErrNotStaged
	}
	entry := Entry{Name: name, Size: int64(len(e.content)), ModTime: e.modTime, Location: m.URI(name)}
	return entry, io.NopCloser(bytes.NewReader(e.content)), nil
}

func (m *Memory) Discard(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := m.entries[name]; !ok {
		return false, nil
	}
	delete(m.entries, name)
	return true, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	for name, e := range m.entries {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		entries = append(entries, Entry{Name: name, Size: int64(len(e.content)), ModTime: e.modTime, Location: m.URI(name)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

var _ Store = (*Memory)(nil)
