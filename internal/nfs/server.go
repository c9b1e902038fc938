package nfs

import (
	"crypto/tls"
	"net"

	"github.com/rs/zerolog/log"
	nfs "github.com/willscott/go-nfs"

	"github.com/bucketfs/bucketfs/internal/vfs"
)

// Server provides a read-only NFS v3 server over a vfs.FS.
type Server struct {
	handler   *Handler
	listener  net.Listener
	tlsConfig *tls.Config
	addr      string
}

// Config holds NFS server configuration.
type Config struct {
	// Address to bind to (e.g., ":2049" or "127.0.0.1:2049")
	Address string

	// Optional TLS configuration
	TLSConfig *tls.Config

	// Number of cached file handles (default 1024)
	HandleLimit int
}

// NewServer creates a new NFS server.
func NewServer(fsys *vfs.FS, cfg Config) *Server {
	return &Server{
		handler:   NewHandler(fsys, cfg.HandleLimit),
		tlsConfig: cfg.TLSConfig,
		addr:      cfg.Address,
	}
}

// Start starts the NFS server.
func (s *Server) Start() error {
	var listener net.Listener
	var err error

	if s.tlsConfig != nil {
		listener, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		listener, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return err
	}

	s.listener = listener

	log.Info().
		Str("addr", listener.Addr().String()).
		Bool("tls", s.tlsConfig != nil).
		Msg("NFS server started")

	// Run in goroutine
	go func() {
		if err := nfs.Serve(listener, s.handler); err != nil {
			log.Debug().Err(err).Msg("NFS server stopped")
		}
	}()

	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the NFS server.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Handler returns the NFS handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
