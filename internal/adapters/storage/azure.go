package storage

import (
	"context"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// AzureStore implements ObjectStore for Azure Blob Storage.
type AzureStore struct {
	client    *azblob.Client
	container string
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string
	AccountName      string
	AccountKey       string
	ConnectionString string
}

// NewAzureStore creates a new Azure Blob Storage adapter.
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	var client *azblob.Client
	var err error

	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
	} else {
		url := "https://" + cfg.AccountName + ".blob.core.windows.net/"
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
		if err != nil {
			return nil, err
		}
	}

	return &AzureStore{
		client:    client,
		container: cfg.Container,
	}, nil
}

// Put uploads the reader's contents to the given blob name, replacing
// any existing blob.
func (s *AzureStore) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	_, err := s.client.UploadStream(ctx, s.container, key, r, nil)
	if err != nil {
		return &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	return nil
}

// Exists checks if a blob exists.
func (s *AzureStore) Exists(ctx context.Context, key string) (bool, error) {
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &key,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, &domain.StorageError{Operation: "exists", Key: key, Err: err}
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name != nil && *blob.Name == key {
				return true, nil
			}
		}
	}
	return false, nil
}

// List returns all raster files under the prefix, skipping archived
// historical products.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &domain.StorageError{Operation: "list", Key: prefix, Err: err}
		}

		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil {
				continue
			}
			name := *blob.Name

			if !strings.HasSuffix(strings.ToLower(name), ".tif") {
				continue
			}
			if strings.Contains(name, "historical") {
				continue
			}

			obj := output.StorageObject{Key: name}
			if blob.Properties != nil {
				if blob.Properties.ContentLength != nil {
					obj.Size = *blob.Properties.ContentLength
				}
				if blob.Properties.LastModified != nil {
					obj.LastModified = blob.Properties.LastModified.Unix()
				}
				if blob.Properties.ETag != nil {
					obj.ETag = strings.Trim(string(*blob.Properties.ETag), "\"")
				}
			}
			objects = append(objects, obj)
		}
	}

	return objects, nil
}
