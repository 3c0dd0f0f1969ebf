// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
)

// ObjectStore defines the secondary port for object storage. Put
// overwrites existing keys deterministically, so re-running the pipeline
// on unchanged inputs is a no-op in effect.
type ObjectStore interface {
	// Put uploads the reader's contents to the given key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns objects under the given prefix.
	List(ctx context.Context, prefix string) ([]StorageObject, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeAzure StorageType = "azure"
	StorageTypeLocal StorageType = "local"
)
