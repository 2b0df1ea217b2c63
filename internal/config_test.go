package internal_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/priyankadasarigt/ytdown/internal"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

func Test_Config_RedactedMasksStorageCredentials(t *testing.T) {
	t.Setenv("STORAGE_PUBLIC_URL", "https://cdn.example")
	t.Setenv("STORAGE_ACCESS_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("STORAGE_SECRET_ACCESS_KEY", "super-secret")

	config, err := internal.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	redacted := config.Redacted()
	assert.Equal(t, internal.RedactedValue, redacted.Storage.AccessKeyID)
	assert.Equal(t, internal.RedactedValue, redacted.Storage.SecretAccessKey)
	assert.Equal(t, "https://cdn.example", redacted.Upload.PublicURL)

	formatted := fmt.Sprintf("%#v", redacted)
	assert.NotContains(t, formatted, "super-secret")
	assert.NotContains(t, formatted, "AKIAEXAMPLE")

	assert.Equal(t, "super-secret", config.Storage.SecretAccessKey, "the original config is left intact")
	assert.Equal(t, "AKIAEXAMPLE", config.Storage.AccessKeyID)
}

func Test_Config_RedactedLeavesEmptyCredentials(t *testing.T) {
	redacted := internal.Config{}.Redacted()
	assert.Empty(t, redacted.Storage.AccessKeyID)
	assert.Empty(t, redacted.Storage.SecretAccessKey)
}
