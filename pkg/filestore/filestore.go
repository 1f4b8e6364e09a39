package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	formforge "github.com/user/formforge"
)

const tempDir = ".tmp"

// Store writes uploads under root/<form>/<question>/<uuid>_<name>.
// Files land in a temp directory first and are renamed into place, so
// a crashed request never leaves a partial file where exports can see
// it. A cron job sweeps temp leftovers.
type Store struct {
	root   string
	logger formforge.Logger
	cron   *cron.Cron
}

func New(root string, logger formforge.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, tempDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// StartSweeper sweeps stale temp files every hour until Stop.
func (s *Store) StartSweeper() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@hourly", func() {
		if n, err := s.SweepTemp(time.Hour); err != nil {
			s.logger.Error("temp sweep failed", "error", err)
		} else if n > 0 {
			s.logger.Info("swept stale upload temp files", "count", n)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Store) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// sanitize strips path separators and keeps the base name.
func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		name = "file"
	}
	return name
}

// Save streams an upload to disk and returns the path relative to the
// store root, which is what gets persisted on the response.
func (s *Store) Save(formID, questionID, filename string, r io.Reader) (string, int64, error) {
	filename = sanitize(filename)
	stored := uuid.New().String() + "_" + filename
	relPath := filepath.Join(formID, questionID, stored)

	tmp, err := os.CreateTemp(filepath.Join(s.root, tempDir), "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to write upload: %w", err)
	}

	finalPath := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		os.Remove(tmpName)
		return "", 0, err
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("failed to finalize upload: %w", err)
	}
	return relPath, size, nil
}

// Open returns a reader for a stored path. The path is validated to
// stay inside the root.
func (s *Store) Open(relPath string) (io.ReadCloser, error) {
	full, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes a stored file; a missing file is not an error.
func (s *Store) Delete(relPath string) error {
	full, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) resolve(relPath string) (string, error) {
	full := filepath.Join(s.root, filepath.Clean("/"+relPath))
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(fullAbs, rootAbs+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes upload root")
	}
	return full, nil
}

// SweepTemp removes temp files older than maxAge and reports how many
// it deleted.
func (s *Store) SweepTemp(maxAge time.Duration) (int, error) {
	dir := filepath.Join(s.root, tempDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
