package artifact

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goupdate "github.com/doitdistributed/go-update"

	// Ensure SHA512 is available for checksum verification.
	_ "crypto/sha512"
)

const (
	// DefaultFileMode is the mode of written artifacts.
	DefaultFileMode os.FileMode = 0o644

	// DefaultDirMode is used when the output directory has to be created.
	DefaultDirMode os.FileMode = 0o755

	// ChecksumFunction verifies written content.
	ChecksumFunction crypto.Hash = crypto.SHA512
)

var (
	// ErrOutputWrite wraps every failure to persist an artifact.
	ErrOutputWrite = errors.New("write output")

	errHashUnavailable = errors.New("hash function unavailable")
)

// Repository stores one artifact.
type Repository interface {
	Save(ctx context.Context, data []byte) error
	Path() string
}

// FileRepository writes an artifact to a fixed path.
type FileRepository struct {
	// path is the destination of the artifact.
	path string
	// mode is applied to the written file.
	mode os.FileMode
	// mu serializes writes from the same process.
	mu sync.Mutex
}

// NewFileRepository creates a repository writing to path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
		mode: DefaultFileMode,
	}
}

// Path returns the destination path.
func (r *FileRepository) Path() string {
	return r.path
}

// Save replaces the artifact with data. Failures wrap ErrOutputWrite.
func (r *FileRepository) Save(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.save(data); err != nil {
		return fmt.Errorf("%w %s: %w", ErrOutputWrite, r.path, err)
	}

	return nil
}

func (r *FileRepository) save(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(r.path), DefaultDirMode); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	created, err := ensureTarget(r.path, r.mode)
	if err != nil {
		return err
	}

	checksum, err := Checksum(data)
	if err != nil {
		return err
	}

	options := goupdate.Options{
		TargetPath: r.path,
		TargetMode: r.mode,
		Checksum:   checksum,
		Hash:       ChecksumFunction,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("replace artifact: %w (rollback failed: %w)", err, rollbackErr)
		}

		if created {
			_ = os.Remove(r.path)
		}

		return fmt.Errorf("replace artifact: %w", err)
	}

	return nil
}

// ensureTarget creates an empty file at path when there is none, since
// go-update moves the current file aside before renaming the new one in.
func ensureTarget(path string, mode os.FileMode) (bool, error) {
	info, err := os.Stat(path)

	switch {
	case err == nil && info.IsDir():
		return false, fmt.Errorf("%s is a directory: %w", path, os.ErrExist)
	case err == nil:
		return false, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("stat artifact: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return false, fmt.Errorf("create artifact: %w", err)
	}

	if err = file.Close(); err != nil {
		return true, fmt.Errorf("create artifact: %w", err)
	}

	return true, nil
}

// Checksum returns the ChecksumFunction digest of data.
func Checksum(data []byte) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := ChecksumFunction.New()
	if _, err := hasher.Write(data); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// Sidecars returns the temporary names go-update may leave next to path
// while (or after failing at) replacing it.
func Sidecars(path string) []string {
	dir, name := filepath.Split(path)

	return []string{
		filepath.Join(dir, "."+name+".new"),
		filepath.Join(dir, "."+name+".old"),
	}
}
