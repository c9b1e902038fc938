// Package config handles configuration loading and validation for bucketfs.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreS3  = "s3"
	StoreDir = "dir"
)

// Defaults applied by Load and Default.
const (
	DefaultBlockSize        = "64KiB"
	DefaultCacheSize        = "64MiB"
	DefaultFetchParallelism = 8
	DefaultMetadataEntries  = 1024
	DefaultMetadataTTL      = "30s"
	DefaultRegion           = "us-east-1"
	DefaultTimeout          = "30s"
	DefaultNFSListen        = ":2049"
	DefaultHandleLimit      = 1024
)

// Config is the root of the bucketfs configuration file.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Namespace NamespaceConfig `yaml:"namespace"`
	NFS       NFSConfig       `yaml:"nfs"`
	FUSE      FUSEConfig      `yaml:"fuse"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StoreConfig selects and configures the remote object store.
type StoreConfig struct {
	Kind         string `yaml:"kind"`     // "s3" or "dir"
	Endpoint     string `yaml:"endpoint"` // S3 endpoint URL
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"` // Falls back to AWS_ACCESS_KEY_ID
	SecretKey    string `yaml:"secret_key"` // Falls back to AWS_SECRET_ACCESS_KEY
	SessionToken string `yaml:"session_token"`
	PathStyle    bool   `yaml:"path_style"`
	Timeout      string `yaml:"timeout"` // Duration string, e.g. "30s"
	Dir          string `yaml:"dir"`     // Root directory for the dir store
}

// CacheConfig sizes the block cache and the size-metadata cache.
type CacheConfig struct {
	BlockSize        string `yaml:"block_size"` // Human size, e.g. "64KiB"
	Size             string `yaml:"size"`       // Total resident bytes, e.g. "64MiB"
	FetchParallelism int    `yaml:"fetch_parallelism"`
	MetadataEntries  int    `yaml:"metadata_entries"` // 0 disables the size cache
	MetadataTTL      string `yaml:"metadata_ttl"`
}

// NamespaceConfig tunes how objects map onto the virtual tree.
type NamespaceConfig struct {
	ExposeEmptyObjects bool `yaml:"expose_empty_objects"`
}

// NFSConfig holds configuration for the NFSv3 host.
type NFSConfig struct {
	Listen      string `yaml:"listen"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
	HandleLimit int    `yaml:"handle_limit"`
}

// FUSEConfig holds configuration for the FUSE host.
type FUSEConfig struct {
	Mountpoint string `yaml:"mountpoint"`
	Root       string `yaml:"root"`
	AllowOther bool   `yaml:"allow_other"`
}

// MetricsConfig holds configuration for the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // Empty disables the metrics server
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	cfg.Store.Dir = expandHome(cfg.Store.Dir)
	cfg.NFS.TLSCert = expandHome(cfg.NFS.TLSCert)
	cfg.NFS.TLSKey = expandHome(cfg.NFS.TLSKey)
	cfg.FUSE.Mountpoint = expandHome(cfg.FUSE.Mountpoint)

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Kind == "" {
		if c.Store.Dir != "" && c.Store.Endpoint == "" {
			c.Store.Kind = StoreDir
		} else {
			c.Store.Kind = StoreS3
		}
	}
	if c.Store.Region == "" {
		c.Store.Region = DefaultRegion
	}
	if c.Store.Timeout == "" {
		c.Store.Timeout = DefaultTimeout
	}
	if c.Cache.BlockSize == "" {
		c.Cache.BlockSize = DefaultBlockSize
	}
	if c.Cache.Size == "" {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.FetchParallelism == 0 {
		c.Cache.FetchParallelism = DefaultFetchParallelism
	}
	if c.Cache.MetadataEntries == 0 {
		c.Cache.MetadataEntries = DefaultMetadataEntries
	}
	if c.Cache.MetadataTTL == "" {
		c.Cache.MetadataTTL = DefaultMetadataTTL
	}
	if c.NFS.Listen == "" {
		c.NFS.Listen = DefaultNFSListen
	}
	if c.NFS.HandleLimit == 0 {
		c.NFS.HandleLimit = DefaultHandleLimit
	}
	if c.FUSE.Root == "" {
		c.FUSE.Root = "/"
	}
}

// applyEnv fills unset credentials from the standard AWS variables.
func (c *Config) applyEnv() {
	if c.Store.AccessKey == "" && c.Store.SecretKey == "" {
		c.Store.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		c.Store.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		if c.Store.SessionToken == "" {
			c.Store.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
		}
	}
	if c.Store.Endpoint == "" && c.Store.Kind == StoreS3 {
		c.Store.Endpoint = os.Getenv("AWS_ENDPOINT_URL")
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}

// BlockSizeBytes parses cache.block_size.
func (c *CacheConfig) BlockSizeBytes() (int64, error) {
	size, err := units.RAMInBytes(c.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("invalid cache.block_size: %w", err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("cache.block_size must be positive")
	}
	return size, nil
}

// CapacityBlocks converts cache.size into a number of resident blocks.
func (c *CacheConfig) CapacityBlocks() (int, error) {
	blockSize, err := c.BlockSizeBytes()
	if err != nil {
		return 0, err
	}
	size, err := units.RAMInBytes(c.Size)
	if err != nil {
		return 0, fmt.Errorf("invalid cache.size: %w", err)
	}
	if size < blockSize {
		return 0, fmt.Errorf("cache.size %s is smaller than one block (%s)",
			units.BytesSize(float64(size)), units.BytesSize(float64(blockSize)))
	}
	return int(size / blockSize), nil
}

// TTL parses cache.metadata_ttl.
func (c *CacheConfig) TTL() (time.Duration, error) {
	ttl, err := time.ParseDuration(c.MetadataTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache.metadata_ttl: %w", err)
	}
	return ttl, nil
}

// RequestTimeout parses store.timeout.
func (s *StoreConfig) RequestTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid store.timeout: %w", err)
	}
	return timeout, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreS3:
		if c.Store.Endpoint == "" {
			return fmt.Errorf("store.endpoint is required for the s3 store")
		}
		if (c.Store.AccessKey == "") != (c.Store.SecretKey == "") {
			return fmt.Errorf("store.access_key and store.secret_key must be set together")
		}
	case StoreDir:
		if c.Store.Dir == "" {
			return fmt.Errorf("store.dir is required for the dir store")
		}
	default:
		return fmt.Errorf("store.kind must be %q or %q, got %q", StoreS3, StoreDir, c.Store.Kind)
	}
	if timeout, err := c.Store.RequestTimeout(); err != nil {
		return err
	} else if timeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}

	if _, err := c.Cache.CapacityBlocks(); err != nil {
		return err
	}
	if c.Cache.FetchParallelism < 1 {
		return fmt.Errorf("cache.fetch_parallelism must be at least 1")
	}
	if c.Cache.MetadataEntries < 0 {
		return fmt.Errorf("cache.metadata_entries must not be negative")
	}
	if _, err := c.Cache.TTL(); err != nil {
		return err
	}

	if _, _, err := net.SplitHostPort(c.NFS.Listen); err != nil {
		return fmt.Errorf("invalid nfs.listen: %w", err)
	}
	if (c.NFS.TLSCert == "") != (c.NFS.TLSKey == "") {
		return fmt.Errorf("nfs.tls_cert and nfs.tls_key must be set together")
	}
	if c.NFS.HandleLimit < 1 {
		return fmt.Errorf("nfs.handle_limit must be at least 1")
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}
	return nil
}
