// Package pid guards against two hub processes sharing the same state.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/hubctl/internal/errors"
)

const fileName = "hubctl.pid"

// DefaultPath is the PID file location used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), fileName)
}

type File struct {
	path string
}

func New(path string) *File {
	if path == "" {
		path = DefaultPath()
	}

	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Write records the current process ID. It fails with ErrAlreadyRunning
// when the file names another live process; a stale or unreadable file is
// replaced.
func (f *File) Write() error {
	errFactory := errors.New()

	if running, ok := f.owner(); ok && running != os.Getpid() {
		return errFactory.WithData(errors.ErrAlreadyRunning, running)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file if it exists.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

// owner returns the live process named in the file, if any.
func (f *File) owner() (int, bool) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}

	return pid, true
}
