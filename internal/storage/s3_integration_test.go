//go:build integration

package storage_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/priyankadasarigt/ytdown/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

func spawnMinio(t *testing.T) string {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "docker.io/minio/minio:RELEASE.2024-01-16T16-07-38Z",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}

	minioC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err, "could not start minio")
	t.Cleanup(func() {
		if err := minioC.Terminate(ctx); err != nil {
			t.Logf("Could not stop minio: %s", err)
		}
	})

	host, err := minioC.Host(ctx)
	require.NoError(t, err)
	port, err := minioC.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func Test_S3Store_PutAndList(t *testing.T) {
	endpoint := spawnMinio(t)
	ctx := context.Background()

	store, err := storage.NewS3Store(ctx, storage.Config{
		Endpoint:           endpoint,
		Region:             "us-east-1",
		Bucket:             "ytdown-test",
		AccessKeyID:        minioUser,
		SecretAccessKey:    minioPassword,
		CreateBucket:       true,
		PartSizeMiB:        5,
		Concurrency:        4,
		MultipartThreshold: 50,
	})
	require.NoError(t, err)
	defer store.Close()

	payload := bytes.Repeat([]byte("ytdown"), 4096)
	var transferred int64
	err = store.Put(ctx, "[YTDown]_clip.mp4", bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{
		ContentType: "video/mp4",
		Metadata:    map[string]string{"expiry-time": "1700000000000"},
		Progress:    func(n int64) { transferred = n },
	})
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), transferred)

	objects, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "[YTDown]_clip.mp4", objects[0].Key)
	assert.EqualValues(t, len(payload), objects[0].Size)
}
