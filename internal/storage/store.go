package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var (
	log = logger.Get("Storage")

	ErrUnknownDriver = errors.New("unknown storage driver")
)

const (
	DriverS3  = "s3"
	DriverGCS = "gcs"
)

type (
	Config struct {
		Driver             string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"s3"`
		Endpoint           string `yaml:"endpoint" env:"STORAGE_ENDPOINT"`
		Region             string `yaml:"region" env:"STORAGE_REGION" env-default:"auto"`
		Bucket             string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"ytdown"`
		AccessKeyID        string `yaml:"access_key_id" env:"STORAGE_ACCESS_KEY_ID"`
		SecretAccessKey    string `yaml:"secret_access_key" env:"STORAGE_SECRET_ACCESS_KEY"`
		UseSSL             bool   `yaml:"use_ssl" env:"STORAGE_USE_SSL" env-default:"true"`
		CreateBucket       bool   `yaml:"create_bucket" env:"STORAGE_CREATE_BUCKET" env-default:"false"`
		PartSizeMiB        uint64 `yaml:"part_size_mib" env:"STORAGE_PART_SIZE_MIB" env-default:"10"`
		Concurrency        uint   `yaml:"concurrency" env:"STORAGE_CONCURRENCY" env-default:"10"`
		MultipartThreshold uint64 `yaml:"multipart_threshold_mib" env:"STORAGE_MULTIPART_THRESHOLD_MIB" env-default:"50"`
		CredentialsFile    string `yaml:"gcs_credentials_file" env:"STORAGE_GCS_CREDENTIALS_FILE"`
	}

	// ObjectInfo describes a single stored object, as returned by a listing.
	ObjectInfo struct {
		Key          string
		Size         int64
		LastModified time.Time
	}

	PutOptions struct {
		Metadata    map[string]string
		ContentType string

		// Progress, if non-nil, is called with the total number of bytes
		// transferred so far. It may be invoked from multiple goroutines.
		Progress func(transferred int64)
	}

	// Store is the minimal surface of an object storage backend required
	// to deduplicate and upload finished downloads.
	Store interface {
		List(ctx context.Context) ([]ObjectInfo, error)
		Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
		Close() error
	}
)

func (c Config) partSize() uint64 { return c.PartSizeMiB * 1024 * 1024 }

func (c Config) multipartThreshold() uint64 { return c.MultipartThreshold * 1024 * 1024 }

// New constructs the Store for the configured driver.
func New(ctx context.Context, config Config) (Store, error) {
	switch config.Driver {
	case DriverS3, "":
		return NewS3Store(ctx, config)
	case DriverGCS:
		return NewGCSStore(ctx, config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, config.Driver)
	}
}
