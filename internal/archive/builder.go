package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
)

// Extension is appended to archive names that do not carry it yet.
const Extension = ".zip"

var (
	// ErrEmpty is returned by Serialize when no file was added.
	ErrEmpty = errors.New("no files were added to the archive")
	// ErrInvalidPath is returned for empty, "." or ".." segments or segments containing a slash.
	ErrInvalidPath = errors.New("invalid archive path")
	// ErrConflict is returned when a file and a folder would share a path.
	ErrConflict = errors.New("archive path conflict")
	// ErrBadLevel is returned for compression levels flate does not support.
	ErrBadLevel = errors.New("unsupported compression level")
)

// DefaultModified is the timestamp stamped on every entry: the ZIP (MS-DOS) epoch.
//
//nolint:gochecknoglobals // Immutable default.
var DefaultModified = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// node is a folder or a file of the archive tree.
type node struct {
	name     string
	folder   bool
	content  []byte
	children []*node
	index    map[string]*node
}

func newFolder(name string) *node {
	return &node{
		name:   name,
		folder: true,
		index:  make(map[string]*node),
	}
}

// Builder accumulates files and folders for a single run. It is not safe for
// concurrent use.
type Builder struct {
	root     *node
	files    int
	folders  int
	level    int
	modified time.Time
}

// Option customises a Builder.
type Option func(*Builder)

// WithCompressionLevel sets the flate level (flate.HuffmanOnly up to flate.BestCompression).
func WithCompressionLevel(level int) Option {
	return func(b *Builder) {
		b.level = level
	}
}

// WithModified overrides the timestamp written on entries.
func WithModified(t time.Time) Option {
	return func(b *Builder) {
		b.modified = t
	}
}

// NewBuilder returns an empty builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		root:     newFolder(""),
		level:    flate.DefaultCompression,
		modified: DefaultModified,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// ValidLevel reports whether level is accepted by WithCompressionLevel.
func ValidLevel(level int) bool {
	return level >= flate.HuffmanOnly && level <= flate.BestCompression
}

// AddFile stores content under segments, creating missing folders. Adding
// the same path twice replaces the content.
func (b *Builder) AddFile(segments []string, content []byte) error {
	if len(segments) == 0 {
		return fmt.Errorf("file without a name: %w", ErrInvalidPath)
	}

	parent, err := b.folder(segments[:len(segments)-1])
	if err != nil {
		return err
	}

	name := segments[len(segments)-1]
	if err = checkSegment(name); err != nil {
		return err
	}

	if existing, ok := parent.index[name]; ok {
		if existing.folder {
			return fmt.Errorf("file %s over folder: %w", strings.Join(segments, "/"), ErrConflict)
		}

		existing.content = content

		return nil
	}

	child := &node{
		name:    name,
		content: content,
	}
	parent.index[name] = child
	parent.children = append(parent.children, child)
	b.files++

	return nil
}

// AddFolder creates the folder at segments and its parents. Existing folders
// are reused.
func (b *Builder) AddFolder(segments []string) error {
	_, err := b.folder(segments)

	return err
}

// Files returns the number of distinct files added.
func (b *Builder) Files() int {
	return b.files
}

// Folders returns the number of folders created, explicit or implied.
func (b *Builder) Folders() int {
	return b.folders
}

// Paths lists file paths in serialization order.
func (b *Builder) Paths() []string {
	paths := make([]string, 0, b.files)

	var visit func(n *node, prefix string)

	visit = func(n *node, prefix string) {
		for _, child := range n.children {
			if child.folder {
				visit(child, prefix+child.name+"/")

				continue
			}

			paths = append(paths, prefix+child.name)
		}
	}

	visit(b.root, "")

	return paths
}

// folder walks segments from the root, creating folders as needed.
func (b *Builder) folder(segments []string) (*node, error) {
	current := b.root

	for i, name := range segments {
		if err := checkSegment(name); err != nil {
			return nil, err
		}

		next, ok := current.index[name]
		if !ok {
			next = newFolder(name)
			current.index[name] = next
			current.children = append(current.children, next)
			b.folders++
		}

		if !next.folder {
			return nil, fmt.Errorf("folder %s over file: %w", strings.Join(segments[:i+1], "/"), ErrConflict)
		}

		current = next
	}

	return current, nil
}

func checkSegment(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("segment %q: %w", name, ErrInvalidPath)
	}

	return nil
}
