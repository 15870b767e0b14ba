// Package pidfile guards against concurrent daemon instances. The store holds
// an exclusive file lock, so a second bedcastd would otherwise hang on open
// instead of failing with a clear message.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile tracks this process's PID on disk.
type PIDFile struct {
	path string
	pid  int
}

// New creates a PIDFile for the current process.
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Path returns the path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

// Create writes the PID file, failing when another live instance owns it.
// A stale file left by a dead process is replaced.
func (p *PIDFile) Create() error {
	if existing, err := p.readExisting(); err == nil {
		if processAlive(existing) {
			return fmt.Errorf("already running with PID %d (pid file %s)", existing, p.path)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(p.pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if this process still owns it.
func (p *PIDFile) Remove() error {
	existing, err := p.readExisting()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return os.Remove(p.path)
	}
	if existing != p.pid {
		return fmt.Errorf("pid file owned by PID %d, not removing", existing)
	}
	return os.Remove(p.path)
}

func (p *PIDFile) readExisting() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive reports whether a process with the given PID exists. Signal 0
// performs the existence check without delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
