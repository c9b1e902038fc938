// bucketfs exposes object storage buckets as a read-only filesystem.
package main

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bucketfs/bucketfs/internal/blockcache"
	"github.com/bucketfs/bucketfs/internal/config"
	"github.com/bucketfs/bucketfs/internal/metrics"
	"github.com/bucketfs/bucketfs/internal/namespace"
	"github.com/bucketfs/bucketfs/internal/objstore"
	"github.com/bucketfs/bucketfs/internal/vfs"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Store and cache overrides
	endpointFlag  string
	dirFlag       string
	blockSizeFlag string
	cacheSizeFlag string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bucketfs",
		Short: "bucketfs - object storage as a read-only filesystem",
		Long: `bucketfs presents S3-compatible buckets as a read-only directory tree.

The first path component names a bucket; the rest is the object key split
on "/". Reads are served from a shared block cache.

QUICK START - Export over NFS:

  bucketfs serve --endpoint http://localhost:9000
  mount -t nfs -o vers=3,tcp,port=2049,mountport=2049,nolock localhost:/my-bucket /mnt/my-bucket

QUICK START - Mount with FUSE:

  bucketfs mount /mnt/my-bucket --root /my-bucket --endpoint https://s3.us-east-1.amazonaws.com

INSPECTING:

  bucketfs ls /my-bucket/logs
  bucketfs stat /my-bucket/logs/app.log
  bucketfs cat /my-bucket/logs/app.log --offset 1024 --length 512`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "S3 endpoint URL (overrides store.endpoint)")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "serve buckets from a local directory (overrides store.dir)")
	rootCmd.PersistentFlags().StringVar(&blockSizeFlag, "block-size", "", "cache block size, e.g. 64KiB")
	rootCmd.PersistentFlags().StringVar(&cacheSizeFlag, "cache-size", "", "total block cache size, e.g. 256MiB")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMountCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newCatCmd())

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bucketfs %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Commit:     %s\n", Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logLevel = cfg.LogLevel
	}
	if endpointFlag != "" {
		cfg.Store.Kind = config.StoreS3
		cfg.Store.Endpoint = endpointFlag
	}
	if dirFlag != "" {
		cfg.Store.Kind = config.StoreDir
		cfg.Store.Dir = dirFlag
	}
	if blockSizeFlag != "" {
		cfg.Cache.BlockSize = blockSizeFlag
	}
	if cacheSizeFlag != "" {
		cfg.Cache.Size = cacheSizeFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildStore creates the remote store selected by the configuration.
func buildStore(cfg *config.Config, m *metrics.Metrics) (objstore.RemoteStore, error) {
	switch cfg.Store.Kind {
	case config.StoreDir:
		return objstore.NewDirStore(cfg.Store.Dir)
	case config.StoreS3:
		timeout, err := cfg.Store.RequestTimeout()
		if err != nil {
			return nil, err
		}
		s3cfg := objstore.S3Config{
			Endpoint:     cfg.Store.Endpoint,
			Region:       cfg.Store.Region,
			AccessKey:    cfg.Store.AccessKey,
			SecretKey:    cfg.Store.SecretKey,
			SessionToken: cfg.Store.SessionToken,
			PathStyle:    cfg.Store.PathStyle,
			Timeout:      timeout,
			Logger:       log.With().Str("component", "s3").Logger(),
		}
		if m != nil {
			s3cfg.Metrics = m.Remote
		}
		return objstore.NewS3Client(s3cfg)
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}

// buildFS wires the store, block cache and size cache into a vfs.FS.
func buildFS(cfg *config.Config, m *metrics.Metrics) (*vfs.FS, *namespace.SizeCache, error) {
	store, err := buildStore(cfg, m)
	if err != nil {
		return nil, nil, err
	}

	blockSize, err := cfg.Cache.BlockSizeBytes()
	if err != nil {
		return nil, nil, err
	}
	capacity, err := cfg.Cache.CapacityBlocks()
	if err != nil {
		return nil, nil, err
	}
	ttl, err := cfg.Cache.TTL()
	if err != nil {
		return nil, nil, err
	}

	cacheOpts := blockcache.Options{
		BlockSize:        blockSize,
		Capacity:         capacity,
		FetchParallelism: cfg.Cache.FetchParallelism,
		Logger:           log.With().Str("component", "blockcache").Logger(),
	}
	if m != nil {
		cacheOpts.Metrics = m.Cache
	}
	cache := blockcache.New(store, cacheOpts)
	sizeCache := namespace.NewSizeCache(cfg.Cache.MetadataEntries, ttl)

	fsys, err := vfs.New(vfs.Config{
		Store:              store,
		Cache:              cache,
		SizeCache:          sizeCache,
		ExposeEmptyObjects: cfg.Namespace.ExposeEmptyObjects,
		Logger:             log.With().Str("component", "vfs").Logger(),
	})
	if err != nil {
		return nil, nil, err
	}

	log.Debug().
		Str("store", cfg.Store.Kind).
		Str("block_size", units.BytesSize(float64(blockSize))).
		Int("capacity_blocks", capacity).
		Int("metadata_entries", cfg.Cache.MetadataEntries).
		Dur("metadata_ttl", ttl).
		Msg("filesystem configured")

	return fsys, sizeCache, nil
}
