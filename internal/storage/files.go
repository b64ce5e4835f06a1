// Package storage manages the uploads directory holding raw document
// files. Stored file names are the source keys used throughout the rest of
// the system.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName rejects file names that would escape the uploads
// directory.
var ErrInvalidName = errors.New("invalid file name")

// ErrFileNotFound reports a file absent from the uploads directory.
var ErrFileNotFound = errors.New("file not found")

// FileStore reads and writes raw documents under a single root directory.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates the root directory if needed and returns a store
// over it.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", root, err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Root returns the storage directory path.
func (s *FileStore) Root() string { return s.root }

// Save writes content to name atomically: the bytes land in a temp file in
// the same directory, then a rename makes them visible. A reader never
// observes a partially written file.
func (s *FileStore) Save(name string, r io.Reader) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}

	s.logger.Debug("file saved", "name", name)
	return nil
}

// Load returns the content of a stored file. It satisfies the
// content-source contract of the ingest package.
func (s *FileStore) Load(_ context.Context, name string) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// Delete removes a stored file. Deleting a missing file returns
// ErrFileNotFound.
func (s *FileStore) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	s.logger.Debug("file deleted", "name", name)
	return nil
}

// List walks the root and returns every stored file name, relative to the
// root, in lexical order. Temp files from in-flight saves are skipped.
func (s *FileStore) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return names, nil
}

// resolve maps a stored name to an absolute path, rejecting names that
// would leave the root.
func (s *FileStore) resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, clean), nil
}
