package dropfolder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Folder is the local directory that scanners, the email poller and
// manual uploads write into.
type Folder struct {
	dir string
}

func New(dir string) (*Folder, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve drop dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create drop dir: %w", err)
	}
	return &Folder{dir: abs}, nil
}

func (f *Folder) Path() string {
	return f.dir
}

// Write stores data under name. The bytes land in a hidden temp file first
// so the watcher never sees a partially written file under its final name.
func (f *Folder) Write(name string, data []byte) (string, error) {
	target, err := f.resolve(name)
	if err != nil {
		return "", err
	}
	tmp := filepath.Join(f.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename into drop dir: %w", err)
	}
	return target, nil
}

// List returns the non-hidden regular files, sorted by name.
func (f *Folder) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read drop dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes name; a missing file is not an error.
func (f *Folder) Remove(name string) error {
	target, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (f *Folder) resolve(name string) (string, error) {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base != strings.TrimSpace(name) {
		return "", fmt.Errorf("invalid drop file name %q", name)
	}
	return filepath.Join(f.dir, base), nil
}
