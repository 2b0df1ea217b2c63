package upload

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"github.com/priyankadasarigt/ytdown/internal/storage"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var log = logger.Get("Upload")

const (
	MetadataExpiryTime       = "expiry-time"
	MetadataOriginalFilename = "original-filename-base64"

	DefaultRetention = 2 * time.Hour
)

type (
	// ObjectStore is the subset of a storage backend the coordinator needs.
	ObjectStore interface {
		List(ctx context.Context) ([]storage.ObjectInfo, error)
		Put(ctx context.Context, key string, r io.Reader, size int64, opts storage.PutOptions) error
	}

	ProgressSink func(Progress)

	Config struct {
		PublicURL string        `yaml:"public_url" env:"STORAGE_PUBLIC_URL" env-required:"true"`
		Retention time.Duration `yaml:"object_retention" env:"STORAGE_OBJECT_RETENTION" env-default:"2h"`
	}

	Result struct {
		URL        string
		StoredName string
		Duplicate  bool
		Size       int64
	}

	// Error is returned when an upload could not be completed. The local
	// file is left untouched in this case.
	Error struct {
		Name string
		Err  error
	}

	// Coordinator relocates finished downloads in to object storage, reusing
	// an existing object when one with the same name and (roughly) the same
	// size is already stored.
	//
	// Name selection is not linearizable: two concurrent uploads of the same
	// display name may both claim the same key.
	Coordinator struct {
		store     ObjectStore
		publicURL string
		retention time.Duration
		now       func() time.Time
	}

	Option func(*Coordinator)
)

func (e *Error) Error() string { return fmt.Sprintf("upload of %s failed: %v", e.Name, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// WithClock overrides the time source used for metadata and version suffixes.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(store ObjectStore, config Config, opts ...Option) *Coordinator {
	retention := config.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	coordinator := &Coordinator{
		store:     store,
		publicURL: strings.TrimSuffix(config.PublicURL, "/"),
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(coordinator)
	}

	return coordinator
}

// Upload stores the file at localPath under a sanitized version of displayName. If
// an object with the same name and a size within 1% already exists, no transfer
// happens and the existing object is returned with Duplicate set.
func (c *Coordinator) Upload(ctx context.Context, localPath string, displayName string, sink ProgressSink) (*Result, error) {
	stat, err := os.Stat(localPath)
	if err != nil {
		return nil, &Error{Name: displayName, Err: err}
	}
	size := stat.Size()

	key := SanitizeName(displayName)
	existing := c.listExisting(ctx)
	if existingSize, ok := existing[key]; ok {
		if isSameSize(existingSize, size) {
			log.Emit(logger.INFO, "Duplicate of %s found (%s), skipping transfer\n", key, bytes.Format(existingSize))
			return &Result{URL: c.URL(key), StoredName: key, Duplicate: true, Size: existingSize}, nil
		}

		key = nextVersionedName(key, existing, c.now())
		log.Emit(logger.DEBUG, "Object with same name but different size exists, using %s\n", key)
	}

	file, err := os.Open(localPath)
	if err != nil {
		return nil, &Error{Name: key, Err: err}
	}
	defer file.Close()

	throttle := NewThrottle(size, c.now)
	opts := storage.PutOptions{
		ContentType: "video/mp4",
		Metadata: map[string]string{
			MetadataExpiryTime:       strconv.FormatInt(c.now().Add(c.retention).UnixMilli(), 10),
			MetadataOriginalFilename: base64.StdEncoding.EncodeToString([]byte(displayName)),
		},
		Progress: func(transferred int64) {
			if progress, ok := throttle.Observe(transferred); ok && sink != nil {
				sink(progress)
			}
		},
	}

	log.Emit(logger.INFO, "Uploading %s (%s)\n", key, bytes.Format(size))
	if err := c.store.Put(ctx, key, file, size, opts); err != nil {
		return nil, &Error{Name: key, Err: err}
	}

	log.Emit(logger.SUCCESS, "Upload of %s complete\n", key)
	return &Result{URL: c.URL(key), StoredName: key, Size: size}, nil
}

// URL returns the public retrieval URL for a stored object. The key is escaped
// as a single path segment.
func (c *Coordinator) URL(key string) string {
	return c.publicURL + "/download/" + url.PathEscape(key)
}

// listExisting returns stored object sizes keyed by name. Listing is best effort,
// a failure is logged and treated as an empty bucket.
func (c *Coordinator) listExisting(ctx context.Context) map[string]int64 {
	objects, err := c.store.List(ctx)
	if err != nil {
		log.Emit(logger.WARNING, "Duplicate check failed, assuming no existing objects: %v\n", err)
		return map[string]int64{}
	}

	existing := make(map[string]int64, len(objects))
	for _, obj := range objects {
		existing[obj.Key] = obj.Size
	}

	return existing
}
