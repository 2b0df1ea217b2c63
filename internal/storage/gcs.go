package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore is a Store backed by a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	config Config
}

func NewGCSStore(ctx context.Context, config Config) (*GCSStore, error) {
	if config.Bucket == "" {
		return nil, errors.New("gcs store: bucket is required")
	}

	opts := make([]option.ClientOption, 0, 2)
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs store: %w", err)
	}

	log.Emit(logger.SUCCESS, "GCS store ready (bucket=%s)\n", config.Bucket)
	return &GCSStore{client: client, bucket: client.Bucket(config.Bucket), config: config}, nil
}

func (s *GCSStore) List(ctx context.Context) ([]ObjectInfo, error) {
	objects := make([]ObjectInfo, 0)
	it := s.bucket.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs store: list %s: %w", s.config.Bucket, err)
		}

		objects = append(objects, ObjectInfo{Key: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated})
	}

	return objects, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	// Cancelling the writer's context is the only way to abandon a partial upload.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if uint64(size) < s.config.multipartThreshold() {
		w.ChunkSize = 0
	} else {
		w.ChunkSize = int(s.config.partSize())
	}
	if opts.Progress != nil {
		w.ProgressFunc = opts.Progress
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return fmt.Errorf("gcs store: put %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs store: put %s: %w", key, err)
	}

	return nil
}

func (s *GCSStore) Close() error { return s.client.Close() }
