package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/labstack/gommon/bytes"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

// S3Store is a Store backed by any S3-compatible API (AWS, R2, MinIO).
type S3Store struct {
	client *minio.Client
	config Config
}

func NewS3Store(ctx context.Context, config Config) (*S3Store, error) {
	if config.Endpoint == "" {
		return nil, errors.New("s3 store: endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}

	store := &S3Store{client: client, config: config}
	if config.CreateBucket {
		if err := store.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	log.Emit(logger.SUCCESS, "S3 store ready (endpoint=%s bucket=%s)\n", config.Endpoint, config.Bucket)
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("s3 store: bucket exists check: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: s.config.Region}); err != nil {
		return fmt.Errorf("s3 store: make bucket %s: %w", s.config.Bucket, err)
	}

	log.Emit(logger.NEW, "Created bucket %s\n", s.config.Bucket)
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]ObjectInfo, error) {
	objects := make([]ObjectInfo, 0)
	for obj := range s.client.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("s3 store: list %s: %w", s.config.Bucket, obj.Err)
		}

		objects = append(objects, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified})
	}

	return objects, nil
}

// Put uploads the reader to the key provided. Objects at or above the multipart
// threshold are sent as concurrent parts, smaller objects in a single request.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{
		UserMetadata:     opts.Metadata,
		ContentType:      opts.ContentType,
		PartSize:         s.config.partSize(),
		NumThreads:       s.config.Concurrency,
		DisableMultipart: uint64(size) < s.config.multipartThreshold(),
	}
	if opts.Progress != nil {
		putOpts.Progress = &progressReader{report: opts.Progress}
	}

	info, err := s.client.PutObject(ctx, s.config.Bucket, key, r, size, putOpts)
	if err != nil {
		return fmt.Errorf("s3 store: put %s: %w", key, err)
	}

	log.Emit(logger.DEBUG, "Stored %s (%s, etag=%s)\n", key, bytes.Format(info.Size), info.ETag)
	return nil
}

func (s *S3Store) Close() error { return nil }

// progressReader is handed to minio as its progress hook; minio "reads" every
// chunk it transfers through it, so the length of each read is the number of
// bytes just sent.
type progressReader struct {
	total  atomic.Int64
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := len(b)
	p.report(p.total.Add(int64(n)))
	return n, nil
}
