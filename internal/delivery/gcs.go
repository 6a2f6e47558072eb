package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/amishk599/leadflow/internal/queue"
)

// maxObjectSize bounds how much of a snapshot file is read into memory.
const maxObjectSize = 256 << 20

// GCSFetcher reads delivered snapshot files from Google Cloud Storage.
type GCSFetcher struct {
	client *storage.Client
}

// NewGCSFetcher creates a storage client using application default credentials.
func NewGCSFetcher(ctx context.Context) (*GCSFetcher, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSFetcher{client: client}, nil
}

// Fetch returns the contents of gs://bucket/object. A missing object is a
// permanent task failure.
func (f *GCSFetcher) Fetch(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, queue.Permanent(fmt.Errorf("gs://%s/%s: %w", bucket, object, err))
	}
	if err != nil {
		return nil, fmt.Errorf("opening gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	body, err := io.ReadAll(io.LimitReader(r, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading gs://%s/%s: %w", bucket, object, err)
	}
	if len(body) > maxObjectSize {
		return nil, queue.Permanent(fmt.Errorf("gs://%s/%s: object larger than %d bytes", bucket, object, maxObjectSize))
	}
	return body, nil
}

// Close releases the storage client.
func (f *GCSFetcher) Close() error {
	return f.client.Close()
}
