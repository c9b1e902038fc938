package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bucketfs/bucketfs/internal/fuse"
	"github.com/bucketfs/bucketfs/internal/metrics"
)

var (
	mountRootFlag  string
	allowOtherFlag bool
)

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount [mountpoint]",
		Short: "Mount buckets with FUSE",
		Long: `Mount the object store as a read-only FUSE filesystem and block until
interrupted. The mountpoint defaults to fuse.mountpoint from the config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runMount,
	}
	cmd.Flags().StringVar(&mountRootFlag, "root", "", "virtual path to mount, e.g. /my-bucket (overrides fuse.root)")
	cmd.Flags().BoolVar(&allowOtherFlag, "allow-other", false, "allow other users to access the mount")
	return cmd
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging()

	mountpoint := cfg.FUSE.Mountpoint
	if len(args) == 1 {
		mountpoint = args[0]
	}
	if mountpoint == "" {
		return fmt.Errorf("mountpoint is required (argument or fuse.mountpoint)")
	}
	if mountRootFlag != "" {
		cfg.FUSE.Root = mountRootFlag
	}
	if allowOtherFlag {
		cfg.FUSE.AllowOther = true
	}

	m := metrics.InitMetrics(Version, cfg.Store.Kind)
	fsys, sizeCache, err := buildFS(cfg, m)
	if err != nil {
		return err
	}

	server, err := fuse.Mount(fuse.Options{
		Mountpoint: mountpoint,
		FS:         fsys,
		Root:       cfg.FUSE.Root,
		AllowOther: cfg.FUSE.AllowOther,
		Logger:     log.With().Str("component", "fuse").Logger(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopMetrics, err := startMetrics(ctx, cfg, m, fsys, sizeCache)
	if err != nil {
		_ = server.Unmount()
		return err
	}
	defer stopMetrics()

	waitForSignal()
	log.Info().Str("mountpoint", mountpoint).Msg("unmounting")
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", mountpoint, err)
	}
	return nil
}
