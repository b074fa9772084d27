package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/dist-zipper/internal/logger"
)

const (
	// markerPrefix starts every marker filename.
	markerPrefix = "dist-zipper-"

	// markerSuffix ends every marker filename.
	markerSuffix = ".lock"

	// markerLifetime is how long an unreadable marker is still honoured,
	// since its owner may be in the middle of writing it.
	markerLifetime = 30 * time.Second

	// markerFileMode restricts the marker to its owner.
	markerFileMode os.FileMode = 0o600

	// commLength is how much of an executable name the process table keeps
	// on Linux and macOS.
	commLength = 15
)

// ErrLocked is returned when another live process holds the marker.
var ErrLocked = errors.New("another packaging run is in progress")

// Marker is a held lock.
type Marker struct {
	// path is the marker file location.
	path string
}

// Path returns the marker location guarding target.
func Path(target string) (string, error) {
	absolute, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve lock target: %w", err)
	}

	name := fmt.Sprintf("%s%016x%s", markerPrefix, xxhash.Sum64String(absolute), markerSuffix)

	return filepath.Join(os.TempDir(), name), nil
}

// Acquire takes the marker guarding target.
func Acquire(ctx context.Context, target string) (*Marker, error) {
	path, err := Path(target)
	if err != nil {
		return nil, err
	}

	return AcquireAt(ctx, path)
}

// AcquireAt takes the marker stored at path.
func AcquireAt(ctx context.Context, path string) (*Marker, error) {
	err := create(path)
	if err == nil {
		return &Marker{path: path}, nil
	}

	if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create lock marker: %w", err)
	}

	if held(ctx, path) {
		return nil, fmt.Errorf("%w (marker %s)", ErrLocked, path)
	}

	logger.DebugKV(ctx, "Removing stale lock marker", "path", path)

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale lock marker: %w", err)
	}

	if err = create(path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w (marker %s)", ErrLocked, path)
		}

		return nil, fmt.Errorf("create lock marker: %w", err)
	}

	return &Marker{path: path}, nil
}

// Path returns where the marker lives.
func (m *Marker) Path() string {
	return m.path
}

// Release removes the marker. Releasing twice is a no-op.
func (m *Marker) Release() error {
	if m == nil || m.path == "" {
		return nil
	}

	err := os.Remove(m.path)
	m.path = ""

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock marker: %w", err)
	}

	return nil
}

func create(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if err != nil {
		return err
	}

	_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()) + "\n" + executableName())
	closeErr := file.Close()

	if err = errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(path)

		return err
	}

	return nil
}

// held reports whether the marker at path belongs to a live process.
func held(ctx context.Context, path string) bool {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err == nil {
		pidLine, executable, _ := strings.Cut(strings.TrimSpace(string(contents)), "\n")

		pid, parseErr := strconv.Atoi(strings.TrimSpace(pidLine))
		if parseErr == nil {
			return processAlive(ctx, pid, strings.TrimSpace(executable))
		}
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		return !errors.Is(statErr, os.ErrNotExist)
	}

	return time.Since(info.ModTime()) <= markerLifetime
}

// processAlive reports whether pid runs executable. An empty executable
// only checks the PID.
func processAlive(ctx context.Context, pid int, executable string) bool {
	if pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		logger.DebugKV(ctx, "Unable to inspect lock owner", "pid", pid, "error", err)

		return true
	}

	if process == nil {
		return false
	}

	if executable != "" && !sameExecutable(process.Executable(), executable) {
		logger.DebugKV(ctx, "Lock owner PID belongs to another program",
			"pid", pid, "expected", executable, "actual", process.Executable())

		return false
	}

	return true
}

func executableName() string {
	path, err := os.Executable()
	if err != nil {
		return ""
	}

	return filepath.Base(path)
}

// sameExecutable compares names from the process table, which may be
// truncated to commLength, with full executable names.
func sameExecutable(a, b string) bool {
	if a == b {
		return true
	}

	if len(a) > len(b) {
		a, b = b, a
	}

	return len(a) >= commLength && strings.HasPrefix(b, a)
}
