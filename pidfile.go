package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// The watch daemon holds an exclusive flock on a PID file next to the queue
// database. status reads it to report the daemon; enqueue signals it.

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// errNoDaemon means no live watch daemon owns the queue.
var errNoDaemon = errors.New("no watch daemon running")

// daemonLock is the held PID file of a running watch daemon.
type daemonLock struct {
	path string
	f    *os.File
}

// acquireDaemonLock creates path, takes a non-blocking exclusive flock on it
// and records the current PID. It fails if another daemon holds the lock.
func acquireDaemonLock(path string) (*daemonLock, error) {
	if path == "" {
		return nil, fmt.Errorf("PID file path is empty; cannot determine queue directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another offlineq watch is already running for this queue (could not lock %s)", path)
	}

	if err := writePID(f); err != nil {
		f.Close()

		return nil, err
	}

	return &daemonLock{path: path, f: f}, nil
}

// writePID replaces the file content with the current PID and syncs it, so
// a reader polling for the file never sees a stale or partial value.
func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock.
func (l *daemonLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// readDaemonPID parses the PID recorded at path.
func readDaemonPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// findDaemon returns the live process named by the PID file at path. A
// missing file, or one naming a dead process, yields errNoDaemon; a stale
// file is removed on the way.
func findDaemon(path string) (*os.Process, error) {
	if path == "" {
		return nil, errNoDaemon
	}

	pid, err := readDaemonPID(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoDaemon
	}

	if err != nil {
		return nil, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return nil, fmt.Errorf("%w (PID %d gone, stale PID file removed)", errNoDaemon, pid)
	}

	return proc, nil
}

// signalDaemon delivers sig to the watch daemon that owns the PID file.
func signalDaemon(path string, sig os.Signal) error {
	proc, err := findDaemon(path)
	if err != nil {
		return err
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("sending %s to daemon (PID %d): %w", sig, proc.Pid, err)
	}

	return nil
}
