// Package readiness tells the packager when the host build tool has finished
// writing its output.
//
// A Signal is awaited once before packaging starts. Hosts that can create a
// marker file use MarkerFile; embedders can pass a channel; Delay keeps the
// old fixed settling wait for hosts that offer nothing better.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrTimeout is returned when a marker does not appear in time.
	ErrTimeout = errors.New("timed out waiting for readiness")

	errWatcherClosed = errors.New("watcher closed")
)

// Signal blocks until the build output can be read.
type Signal interface {
	Wait(ctx context.Context) error
}

// SignalFunc adapts a function to Signal.
type SignalFunc func(ctx context.Context) error

// Wait calls f.
func (f SignalFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// Immediate is ready at once.
//
//nolint:ireturn // Signal is the point of the package.
func Immediate() Signal {
	return SignalFunc(func(ctx context.Context) error {
		return ctx.Err()
	})
}

// Delay waits for d. A non-positive d is ready at once.
//
//nolint:ireturn // Signal is the point of the package.
func Delay(d time.Duration) Signal {
	return SignalFunc(func(ctx context.Context) error {
		if d <= 0 {
			return ctx.Err()
		}

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}

// Channel is ready once ready is closed (or receives a value).
//
//nolint:ireturn // Signal is the point of the package.
func Channel(ready <-chan struct{}) Signal {
	return SignalFunc(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
			return nil
		}
	})
}

// All waits for every signal in order.
//
//nolint:ireturn // Signal is the point of the package.
func All(signals ...Signal) Signal {
	return SignalFunc(func(ctx context.Context) error {
		for _, signal := range signals {
			if signal == nil {
				continue
			}

			if err := signal.Wait(ctx); err != nil {
				return err
			}
		}

		return nil
	})
}

// MarkerFile is ready once path exists. The parent directory must exist;
// it is watched with fsnotify so the marker is noticed without polling.
// A non-positive timeout waits until ctx is done.
//
//nolint:ireturn // Signal is the point of the package.
func MarkerFile(path string, timeout time.Duration) Signal {
	return SignalFunc(func(ctx context.Context) error {
		return waitForFile(ctx, filepath.Clean(path), timeout)
	})
}

func waitForFile(ctx context.Context, path string, timeout time.Duration) error {
	if exists(path) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create marker watcher: %w", err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	// The marker may have appeared between the first check and Add.
	if exists(path) {
		return nil
	}

	parent := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		select {
		case <-ctx.Done():
			// Only the local timeout is reported as ErrTimeout.
			if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("marker %s: %w", path, ErrTimeout)
			}

			return parent.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("marker %s: %w", path, errWatcherClosed)
			}

			if filepath.Clean(event.Name) == path && exists(path) {
				return nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("marker %s: %w", path, errWatcherClosed)
			}

			return fmt.Errorf("watch marker %s: %w", path, werr)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}
