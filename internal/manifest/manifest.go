package manifest

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	// SchemaVersion is written on the manifest and on every item.
	SchemaVersion = 1
	// DefaultFilename is the name of the manifest inside the archive.
	DefaultFilename = "offset.json"
)

// Entry describes one packaged file.
type Entry struct {
	SchemaVersion int    `json:"schemaVersion"`
	URL           string `json:"url"`
	Path          string `json:"path"`
	Tag           string `json:"tag"`
	MimeType      string `json:"mimeType"`
}

// Manifest lists the packaged files in packaging order.
type Manifest struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	SchemaVersion int     `json:"schemaVersion"`
	FolderName    string  `json:"folderName"`
	Items         []Entry `json:"items"`
}

// Paths returns the item paths in order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Items))
	for _, item := range m.Items {
		paths = append(paths, item.Path)
	}

	return paths
}

// Marshal renders the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return data, nil
}

// Tag returns the content tag of data: the xxhash64 digest as 16 lowercase
// hex characters.
func Tag(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Builder collects items during the packaging pass.
type Builder struct {
	name       string
	folderName string
	urlPrefix  string
	items      []Entry
}

// NewBuilder returns a builder for a manifest called name describing
// folderName, with item URLs prefixed by urlPrefix.
func NewBuilder(name, folderName, urlPrefix string) *Builder {
	return &Builder{
		name:       name,
		folderName: folderName,
		urlPrefix:  urlPrefix,
	}
}

// Add records a packaged file. relPath must be slash-separated.
func (b *Builder) Add(relPath string, content []byte) {
	b.items = append(b.items, Entry{
		SchemaVersion: SchemaVersion,
		URL:           b.urlPrefix + relPath,
		Path:          relPath,
		Tag:           Tag(content),
		MimeType:      MimeType(relPath),
	})
}

// Len returns the number of recorded items.
func (b *Builder) Len() int {
	return len(b.items)
}

// Build returns the manifest. The ID is a name-based UUID over the manifest
// name and every item's path and tag, so it only changes with the content.
func (b *Builder) Build() *Manifest {
	seed := make([]byte, 0, 64*(len(b.items)+1))
	seed = append(seed, b.name...)

	for _, item := range b.items {
		seed = append(seed, 0)
		seed = append(seed, item.Path...)
		seed = append(seed, 0)
		seed = append(seed, item.Tag...)
	}

	items := make([]Entry, len(b.items))
	copy(items, b.items)

	return &Manifest{
		ID:            uuid.NewSHA1(uuid.NameSpaceURL, seed).String(),
		Name:          b.name,
		SchemaVersion: SchemaVersion,
		FolderName:    b.folderName,
		Items:         items,
	}
}
