package database

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xelth-com/propcount/internal/logging"
)

func TestReadPid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postmaster.pid")

	if _, err := readPid(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v", err)
	}

	os.WriteFile(path, []byte("4242\n/var/lib/pg\n1700000000\n5433\n"), 0o600)
	pid, err := readPid(path)
	if err != nil || pid != 4242 {
		t.Errorf("pid = %d, err = %v", pid, err)
	}

	os.WriteFile(path, []byte("garbage\n"), 0o600)
	if _, err := readPid(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestStopOrphanRemovesStalePidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postmaster.pid")
	// Far above any default pid_max, so never a live process.
	os.WriteFile(path, []byte("2147483000\n"), 0o600)

	stopOrphan(dir, logging.Discard())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("pid file still present: %v", err)
	}
}

func TestWaitPortFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if waitPortFree(port, 0) {
		t.Error("port with a listener reported free")
	}
	ln.Close()
	if !waitPortFree(port, time.Second) {
		t.Error("closed port reported busy")
	}
}
