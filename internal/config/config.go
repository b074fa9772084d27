package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/oshokin/dist-zipper/internal/archive"
	"github.com/oshokin/dist-zipper/internal/domain/rule"
	"github.com/oshokin/dist-zipper/internal/manifest"
)

// Config holds the settings of one packaging run.
type Config struct {
	// OutputDir is the build output directory to package. The archive is
	// written into it as well.
	OutputDir string
	// ArchiveName is the archive file name, with or without the .zip extension.
	ArchiveName string
	// Include selects files to package. The zero rule selects every file.
	Include rule.Rule
	// Exclude removes files and prunes whole directories. The zero rule removes nothing.
	Exclude rule.Rule
	// Verbose logs every packaging decision.
	Verbose bool
	// GenerateManifest adds a manifest describing the packaged files.
	GenerateManifest bool
	// ManifestContent replaces the generated manifest when set.
	ManifestContent map[string]any
	// URLPrefix is prepended verbatim to item paths to build manifest URLs.
	URLPrefix string
	// ManifestName is the manifest file name.
	ManifestName string
	// ManifestExternal writes the manifest next to the archive instead of inside it.
	ManifestExternal bool
	// KeepEmptyDirs adds every accepted directory to the archive, even when
	// no file ends up in it.
	KeepEmptyDirs bool
	// CompressionLevel is the flate level used for file entries. Nil selects
	// flate.DefaultCompression.
	CompressionLevel *int
	// ReadyMarker is a file the host creates once the build output is flushed.
	ReadyMarker string
	// ReadyTimeout bounds the wait for ReadyMarker.
	ReadyTimeout time.Duration
	// SettleDelay is an optional fixed wait before packaging starts.
	SettleDelay time.Duration
}

const (
	// DefaultOutputDir is the directory packaged when none is configured.
	DefaultOutputDir = "dist"
	// DefaultArchiveName is the archive base name.
	DefaultArchiveName = "output"
	// DefaultReadyTimeout bounds the wait for a readiness marker.
	DefaultReadyTimeout = 30 * time.Second
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrOutputDirRequired is returned when OutputDir is empty.
	ErrOutputDirRequired = errors.New("output directory must be provided")
	// ErrInvalidArchiveName is returned for empty names or names with separators.
	ErrInvalidArchiveName = errors.New("archive name must be a plain file name")
	// ErrInvalidManifestName is returned for empty names or names with separators.
	ErrInvalidManifestName = errors.New("manifest name must be a plain file name")
	// ErrInvalidCompressionLevel is returned for levels flate does not support.
	ErrInvalidCompressionLevel = errors.New("compression level must be between -2 and 9")
	// ErrNegativeDuration is returned for negative waits.
	ErrNegativeDuration = errors.New("durations must not be negative")
)

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		OutputDir:        DefaultOutputDir,
		ArchiveName:      DefaultArchiveName,
		Include:          rule.All(),
		ManifestName:     manifest.DefaultFilename,
		ReadyTimeout:     DefaultReadyTimeout,
	}
}

// Validate checks cfg and fills derived defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.OutputDir) == "" {
		return ErrOutputDirRequired
	}

	if !isPlainName(cfg.ArchiveName) {
		return fmt.Errorf("%q: %w", cfg.ArchiveName, ErrInvalidArchiveName)
	}

	if cfg.ManifestName == "" {
		cfg.ManifestName = manifest.DefaultFilename
	}

	if !isPlainName(cfg.ManifestName) {
		return fmt.Errorf("%q: %w", cfg.ManifestName, ErrInvalidManifestName)
	}

	if !archive.ValidLevel(cfg.Level()) {
		return fmt.Errorf("%d: %w", cfg.Level(), ErrInvalidCompressionLevel)
	}

	if cfg.ReadyTimeout < 0 || cfg.SettleDelay < 0 {
		return ErrNegativeDuration
	}

	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}

	// A custom manifest only makes sense if a manifest is emitted.
	if cfg.ManifestContent != nil {
		cfg.GenerateManifest = true
	}

	return nil
}

// Level returns the effective compression level.
func (c *Config) Level() int {
	if c.CompressionLevel == nil {
		return flate.DefaultCompression
	}

	return *c.CompressionLevel
}

// SetLevel pins the compression level, flate.NoCompression included.
func (c *Config) SetLevel(level int) {
	c.CompressionLevel = &level
}

// ArchiveFilename returns ArchiveName with the archive extension.
func (c *Config) ArchiveFilename() string {
	if strings.HasSuffix(strings.ToLower(c.ArchiveName), archive.Extension) {
		return c.ArchiveName
	}

	return c.ArchiveName + archive.Extension
}

// ArchivePath returns where the archive is written.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.OutputDir, c.ArchiveFilename())
}

// ManifestPath returns where an external manifest is written.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.OutputDir, c.ManifestName)
}

func isPlainName(name string) bool {
	name = strings.TrimSpace(name)

	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
