package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const runPrefix = "run-"

// Scratch is the temporary directory of one run. Every document gets a
// subdirectory; nothing in it must outlive the run.
type Scratch struct {
	root string
	dir  string
}

// NewScratch creates a fresh run directory under root.
func NewScratch(root string) (*Scratch, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, runPrefix+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, err
	}
	return &Scratch{root: root, dir: dir}, nil
}

// Dir returns the run directory.
func (s *Scratch) Dir() string { return s.dir }

// DocumentDir creates a directory for one document's temporary files.
func (s *Scratch) DocumentDir() (string, error) {
	dir := filepath.Join(s.dir, "doc-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Cleanup removes the run directory and everything in it.
func (s *Scratch) Cleanup() error {
	return os.RemoveAll(s.dir)
}

// CleanStale removes run directories under root last modified before
// cutoff and returns how many were removed. A missing root is not an
// error.
func CleanStale(root string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	var errList []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), runPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			errList = append(errList, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errList...)
}
