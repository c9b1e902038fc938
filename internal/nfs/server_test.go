package nfs

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/bucketfs/bucketfs/testutil"
)

func TestNewServer(t *testing.T) {
	fsys, _ := newTestFS(t)

	srv := NewServer(fsys, Config{Address: ":2049"})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.addr != ":2049" {
		t.Errorf("addr = %q, want %q", srv.addr, ":2049")
	}
	if srv.Handler() == nil {
		t.Error("handler should not be nil")
	}
	if srv.tlsConfig != nil {
		t.Error("tlsConfig should be nil when not provided")
	}
	if srv.Addr() != nil {
		t.Error("Addr should be nil before Start")
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	fsys, _ := newTestFS(t)
	srv := NewServer(fsys, Config{Address: ":0"})

	// Stop without starting should be safe
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop without Start returned error: %v", err)
	}
}

func TestServer_StartAndStop(t *testing.T) {
	fsys, _ := newTestFS(t)
	port := testutil.FreePort(t)
	srv := NewServer(fsys, Config{Address: fmt.Sprintf("127.0.0.1:%d", port)})

	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := srv.Addr()
	if addr == nil {
		t.Fatal("Addr should be set after Start")
	}
	if got := addr.(*net.TCPAddr).Port; got != port {
		t.Errorf("Expected port %d, got %d", port, got)
	}

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	if err != nil {
		t.Fatalf("dial NFS server: %v", err)
	}
	_ = conn.Close()

	if err := srv.Stop(); err != nil {
		t.Errorf("Stop returned error: %v", err)
	}
}
