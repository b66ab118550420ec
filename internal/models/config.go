package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr  string `yaml:"server_addr"`
	DatabaseURL string `yaml:"database_url"`
	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`
	StoragePath string `yaml:"storage_path"`
	// PublicBaseURL is the externally visible prefix used in IIIF ids,
	// e.g. "https://exhibits.example.edu".
	PublicBaseURL string `yaml:"public_base_url"`

	MaxFileSize  int64 `yaml:"max_file_size"`  // bytes, per file
	MaxFileCount int   `yaml:"max_file_count"` // files per upload request

	ThumbnailMaxWidth  int `yaml:"thumbnail_max_width"`
	ThumbnailMaxHeight int `yaml:"thumbnail_max_height"`
	ThumbnailQuality   int `yaml:"thumbnail_quality"`

	MetadataTimeoutSec int `yaml:"metadata_timeout_seconds"`
}

// MetadataTimeout is the bound applied to each metadata-extraction call.
func (c *Config) MetadataTimeout() time.Duration {
	return time.Duration(c.MetadataTimeoutSec) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("config: storage_path is required")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 << 20
	}
	if c.MaxFileCount <= 0 {
		c.MaxFileCount = 10
	}
	if c.ThumbnailMaxWidth <= 0 {
		c.ThumbnailMaxWidth = 400
	}
	if c.ThumbnailMaxHeight <= 0 {
		c.ThumbnailMaxHeight = 400
	}
	if c.ThumbnailQuality <= 0 || c.ThumbnailQuality > 100 {
		c.ThumbnailQuality = 80
	}
	if c.MetadataTimeoutSec <= 0 {
		c.MetadataTimeoutSec = 15
	}
}
