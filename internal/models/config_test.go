package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "storage_path: /var/lib/exhibits/media\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, int64(50<<20), cfg.MaxFileSize)
	assert.Equal(t, 10, cfg.MaxFileCount)
	assert.Equal(t, 400, cfg.ThumbnailMaxWidth)
	assert.Equal(t, 400, cfg.ThumbnailMaxHeight)
	assert.Equal(t, 80, cfg.ThumbnailQuality)
	assert.Equal(t, 15*time.Second, cfg.MetadataTimeout())
}

func TestLoadConfig_Explicit(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
server_addr: ":9090"
storage_path: /srv/media
thumbnail_max_width: 256
thumbnail_max_height: 256
thumbnail_quality: 70
metadata_timeout_seconds: 5
max_file_count: 3
`))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "/srv/media", cfg.StoragePath)
	assert.Equal(t, 256, cfg.ThumbnailMaxWidth)
	assert.Equal(t, 70, cfg.ThumbnailQuality)
	assert.Equal(t, 5*time.Second, cfg.MetadataTimeout())
	assert.Equal(t, 3, cfg.MaxFileCount)
}

func TestLoadConfig_MissingStoragePath(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server_addr: ':8080'\n"))
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
