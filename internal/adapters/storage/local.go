// Package storage provides object storage adapters.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// LocalStore implements ObjectStore on the local filesystem, mainly for
// development and tests.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a new local storage adapter.
func NewLocalStore(basePath string) *LocalStore {
	return &LocalStore{basePath: basePath}
}

// Put writes the reader's contents under the key, overwriting any
// existing file. Parent directories are created as needed; an already
// existing prefix is never an error.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	dest := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return &domain.StorageError{Operation: "put", Key: key, Err: err}
	}

	f, err := os.Create(dest) //#nosec G304 -- dest is under the configured base path
	if err != nil {
		return &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		return &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// Exists checks if a file exists.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List returns all raster files under the prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	root := filepath.Join(s.basePath, filepath.FromSlash(prefix))
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}

		if info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(info.Name()), ".tif") {
			return nil
		}

		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if strings.Contains(key, "historical") {
			return nil
		}

		objects = append(objects, output.StorageObject{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

// FullPath returns the local path for a key.
func (s *LocalStore) FullPath(key string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}
