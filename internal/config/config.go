package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// InkwellConfig represents the top-level inkwell.yml configuration
type InkwellConfig struct {
	Version string `yaml:"version"`

	Redis      RedisConfig       `yaml:"redis"`
	RoomID     string            `yaml:"room_id"`
	UserID     string            `yaml:"user_id"`
	Session    *SessionConfig    `yaml:"session,omitempty"`
	Storage    *StorageConfig    `yaml:"storage,omitempty"`
	Visibility *VisibilityConfig `yaml:"visibility,omitempty"`
	TURN       []TURNServer      `yaml:"turn,omitempty"`
}

// RedisConfig specifies the host Redis connection
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// SessionConfig specifies discovery timing
type SessionConfig struct {
	TTL *time.Duration `yaml:"ttl,omitempty"` // Session record lifetime (default 30s, refreshed at a third)
}

// StorageConfig specifies local snapshot persistence
type StorageConfig struct {
	Path             string         `yaml:"path,omitempty"`              // bbolt file path (default inkwell-cache.db)
	CacheSize        *int           `yaml:"cache_size,omitempty"`        // LRU capacity in documents (default 10)
	SnapshotDebounce *time.Duration `yaml:"snapshot_debounce,omitempty"` // Quiet period before persisting (default 5s)
	SnapshotRetry    *time.Duration `yaml:"snapshot_retry,omitempty"`    // Retry interval after a failed host write (default 10s)
}

// VisibilityConfig specifies the hidden-page disconnect hysteresis
type VisibilityConfig struct {
	Timeout *time.Duration `yaml:"timeout,omitempty"` // How long a page stays hidden before disconnecting (default 10m)
}

// TURNServer specifies one static relay server
type TURNServer struct {
	URIs     []string `yaml:"uris"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
}

// Defaults applied by Validate when the optional sections are omitted.
const (
	DefaultSessionTTL        = 30 * time.Second
	DefaultCacheSize         = 10
	DefaultSnapshotDebounce  = 5 * time.Second
	DefaultSnapshotRetry     = 10 * time.Second
	DefaultVisibilityTimeout = 10 * time.Minute
	DefaultStoragePath       = "inkwell-cache.db"
)

// Validate performs strict validation on the configuration and fills in
// defaults for omitted optional fields.
func (c *InkwellConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.RoomID == "" {
		return fmt.Errorf("room_id is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	if c.Session == nil {
		c.Session = &SessionConfig{}
	}
	if c.Session.TTL == nil {
		ttl := DefaultSessionTTL
		c.Session.TTL = &ttl
	}
	if *c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %v", *c.Session.TTL)
	}

	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Storage.CacheSize == nil {
		size := DefaultCacheSize
		c.Storage.CacheSize = &size
	}
	if *c.Storage.CacheSize < 1 {
		return fmt.Errorf("storage.cache_size must be >= 1, got %d", *c.Storage.CacheSize)
	}
	if c.Storage.SnapshotDebounce == nil {
		debounce := DefaultSnapshotDebounce
		c.Storage.SnapshotDebounce = &debounce
	}
	if *c.Storage.SnapshotDebounce <= 0 {
		return fmt.Errorf("storage.snapshot_debounce must be positive, got %v", *c.Storage.SnapshotDebounce)
	}
	if c.Storage.SnapshotRetry == nil {
		retry := DefaultSnapshotRetry
		c.Storage.SnapshotRetry = &retry
	}
	if *c.Storage.SnapshotRetry <= 0 {
		return fmt.Errorf("storage.snapshot_retry must be positive, got %v", *c.Storage.SnapshotRetry)
	}

	if c.Visibility == nil {
		c.Visibility = &VisibilityConfig{}
	}
	if c.Visibility.Timeout == nil {
		timeout := DefaultVisibilityTimeout
		c.Visibility.Timeout = &timeout
	}
	if *c.Visibility.Timeout < 0 {
		return fmt.Errorf("visibility.timeout must be >= 0, got %v", *c.Visibility.Timeout)
	}

	for i, server := range c.TURN {
		if len(server.URIs) == 0 {
			return fmt.Errorf("turn[%d]: at least one URI is required", i)
		}
		for _, uri := range server.URIs {
			if uri == "" {
				return fmt.Errorf("turn[%d]: URIs must not be empty", i)
			}
		}
	}

	return nil
}

// Load reads and validates inkwell.yml from the specified path
func Load(path string) (*InkwellConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config InkwellConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
