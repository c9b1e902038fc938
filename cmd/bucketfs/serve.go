package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bucketfs/bucketfs/internal/config"
	"github.com/bucketfs/bucketfs/internal/metrics"
	"github.com/bucketfs/bucketfs/internal/nfs"
	"github.com/bucketfs/bucketfs/internal/vfs"
)

var listenFlag string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Export buckets over NFSv3",
		Long: `Start a read-only NFSv3 server over the configured object store.

Clients mount "/{bucket}" or any directory below it.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&listenFlag, "listen", "", "NFS listen address (overrides nfs.listen)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging()
	if listenFlag != "" {
		cfg.NFS.Listen = listenFlag
	}

	m := metrics.InitMetrics(Version, cfg.Store.Kind)
	fsys, sizeCache, err := buildFS(cfg, m)
	if err != nil {
		return err
	}

	tlsConfig, err := loadTLSConfig(cfg.NFS)
	if err != nil {
		return err
	}

	server := nfs.NewServer(fsys, nfs.Config{
		Address:     cfg.NFS.Listen,
		TLSConfig:   tlsConfig,
		HandleLimit: cfg.NFS.HandleLimit,
	})
	if err := server.Start(); err != nil {
		return fmt.Errorf("start NFS server: %w", err)
	}
	defer func() { _ = server.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopMetrics, err := startMetrics(ctx, cfg, m, fsys, sizeCache)
	if err != nil {
		return err
	}
	defer stopMetrics()

	log.Info().
		Str("version", Version).
		Str("store", cfg.Store.Kind).
		Str("nfs", server.Addr().String()).
		Msg("bucketfs serving")

	waitForSignal()
	log.Info().Msg("shutting down")
	return nil
}

// startMetrics starts the metrics server and collector when metrics.listen
// is set. The returned function stops both.
func startMetrics(ctx context.Context, cfg *config.Config, m *metrics.Metrics, fsys *vfs.FS, sizeCache metrics.LenSource) (func(), error) {
	if cfg.Metrics.Listen == "" {
		return func() {}, nil
	}

	server := metrics.NewServer(cfg.Metrics.Listen)
	server.Handle("/invalidate", invalidateHandler(fsys))
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start metrics server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	collector := metrics.NewCollector(m, metrics.CollectorConfig{Cache: fsys, SizeCache: sizeCache})
	go collector.Run(ctx, 15*time.Second)

	return func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}, nil
}

// invalidateHandler serves POST /invalidate?path=/bucket/key, dropping the
// cached size and resident blocks of one object.
func invalidateHandler(fsys *vfs.FS) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		p := r.URL.Query().Get("path")
		if p == "" {
			http.Error(w, "path is required", http.StatusBadRequest)
			return
		}
		dropped := fsys.Invalidate(p)
		log.Info().Str("path", p).Int("blocks", dropped).Msg("invalidated object")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"path": p, "blocks": dropped})
	})
}

func loadTLSConfig(cfg config.NFSConfig) (*tls.Config, error) {
	if cfg.TLSCert == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load NFS TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan
}
