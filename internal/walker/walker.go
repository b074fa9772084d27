package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Entry is a single file or directory met during a walk.
type Entry struct {
	// AbsolutePath is the location of the entry on the walked filesystem.
	AbsolutePath string
	// RelativePath is the slash-separated path relative to the walk root.
	RelativePath string
	// IsDir reports whether the entry is a directory (after resolving symlinks).
	IsDir bool
}

// Segments splits RelativePath into its path elements.
func (e Entry) Segments() []string {
	return splitPOSIX(e.RelativePath)
}

// VisitFunc is called for every entry. Returning SkipDir for a directory
// prunes it; any other error stops the walk and is returned by Walk.
type VisitFunc func(entry Entry) error

// ErrorFunc receives subtrees the walker had to give up on.
type ErrorFunc func(err *SubtreeError)

// SkipDir tells Walk not to descend into the visited directory.
//
//nolint:errname,revive // Mirrors fs.SkipDir.
var SkipDir = fs.SkipDir

// ErrSymlinkCycle marks a symlinked directory that points at one of its ancestors.
var ErrSymlinkCycle = errors.New("symlink cycle")

// SubtreeError describes a directory (or entry) that could not be read.
type SubtreeError struct {
	// Path is the absolute path of the unreadable entry.
	Path string
	// RelativePath is the path relative to the walk root ("" for the root).
	RelativePath string
	// Err is the underlying failure.
	Err error
}

// Error implements error.
func (e *SubtreeError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying failure.
func (e *SubtreeError) Unwrap() error {
	return e.Err
}

// Walk visits root's descendants in depth-first pre-order. Siblings come in
// the order afero.ReadDir returns them (sorted by name). The root itself is
// not visited. A nil onError silently drops subtree failures.
func Walk(ctx context.Context, fsys afero.Fs, root string, visit VisitFunc, onError ErrorFunc) error {
	if onError == nil {
		onError = func(*SubtreeError) {}
	}

	rootInfo, err := fsys.Stat(root)
	if err != nil {
		return fmt.Errorf("stat root %s: %w", root, err)
	}

	if !rootInfo.IsDir() {
		return fmt.Errorf("root %s: %w", root, errNotDirectory)
	}

	w := &walk{
		fsys:    fsys,
		root:    root,
		visit:   visit,
		onError: onError,
	}

	return w.dir(ctx, root, []os.FileInfo{rootInfo})
}

var errNotDirectory = errors.New("not a directory")

type walk struct {
	fsys    afero.Fs
	root    string
	visit   VisitFunc
	onError ErrorFunc
}

// dir lists dirPath and visits its children. ancestors holds the resolved
// infos of dirPath and every directory above it for cycle detection.
func (w *walk) dir(ctx context.Context, dirPath string, ancestors []os.FileInfo) error {
	children, err := afero.ReadDir(w.fsys, dirPath)
	if err != nil {
		w.report(dirPath, err)

		return nil
	}

	for _, child := range children {
		if err = ctx.Err(); err != nil {
			return err
		}

		childPath := filepath.Join(dirPath, child.Name())

		info := child
		if child.Mode()&os.ModeSymlink != 0 {
			// Resolve the link target; a dangling link is an unreadable entry.
			if info, err = w.fsys.Stat(childPath); err != nil {
				w.report(childPath, err)

				continue
			}
		}

		entry := Entry{
			AbsolutePath: childPath,
			RelativePath: w.relative(childPath),
			IsDir:        info.IsDir(),
		}

		if entry.IsDir && isAncestor(info, ancestors) {
			w.report(childPath, ErrSymlinkCycle)

			continue
		}

		err = w.visit(entry)

		switch {
		case errors.Is(err, SkipDir):
			continue
		case err != nil:
			return err
		}

		if !entry.IsDir {
			continue
		}

		if err = w.dir(ctx, childPath, append(ancestors, info)); err != nil {
			return err
		}
	}

	return nil
}

func (w *walk) report(path string, err error) {
	w.onError(&SubtreeError{
		Path:         path,
		RelativePath: w.relative(path),
		Err:          err,
	})
}

func (w *walk) relative(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return ""
	}

	return filepath.ToSlash(rel)
}

// isAncestor reports whether info is the same directory as one of ancestors.
// os.SameFile only recognises infos produced by the os package, so in-memory
// filesystems never report cycles (they cannot hold symlinks either).
func isAncestor(info os.FileInfo, ancestors []os.FileInfo) bool {
	for _, ancestor := range ancestors {
		if os.SameFile(info, ancestor) {
			return true
		}
	}

	return false
}

func splitPOSIX(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/'
	})
}
