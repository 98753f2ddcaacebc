package workspace

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem implements Store on a local directory. Names map to relative
// paths under the root. Not safe for concurrent writers beyond what the OS
// gives per file, which matches the single-session discipline of the
// adapter.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem workspace rooted at path, creating the
// directory if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./workspace"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the workspace directory.
func (f *Filesystem) Root() string { return f.root }

// sanitizeName forbids traversal and absolute paths so a name cannot escape
// the root.
func sanitizeName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("empty name")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid name contains '..'")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid absolute name")
	}
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid name traversal")
	}
	return clean, nil
}

func (f *Filesystem) pathFor(name string) (string, error) {
	n, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(n)), nil
}

func (f *Filesystem) URI(name string) string {
	path, err := f.pathFor(name)
	if err != nil {
		return ""
	}
	return path
}

func (f *Filesystem) Stage(ctx context.Context, name string, r io.Reader) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	path, err := f.pathFor(name)
	if err != nil {
		return Entry{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Entry{}, err
	}
	file, err := os.Create(path)
	if err != nil {
		return Entry{}, err
	}
	size, copyErr := io.Copy(file, r)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return Entry{}, copyErr
	}
	if closeErr != nil {
		return Entry{}, closeErr
	}
	st, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Size: size, ModTime: st.ModTime(), Location: path}, nil
}

func (f *Filesystem) Open(ctx context.Context, name string) (Entry, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, nil, err
	}
	path, err := f.pathFor(name)
	if err != nil {
		return Entry{}, nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, nil, ErrNotStaged
		}
		return Entry{}, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return Entry{}, nil, err
	}
	return Entry{Name: name, Size: st.Size(), ModTime: st.ModTime(), Location: path}, file, nil
}

func (f *Filesystem) Discard(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := f.pathFor(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *Filesystem) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Name: name, Size: info.Size(), ModTime: info.ModTime(), Location: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

var _ Store = (*Filesystem)(nil)
