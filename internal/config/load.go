package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/dist-zipper/internal/domain/rule"
)

const (
	// DefaultConfigFilename is looked up in the working directory when no path is given.
	DefaultConfigFilename = "dist-zipper.yaml"

	// xdgConfigFile is looked up in the XDG config directories after the working directory.
	xdgConfigFile = "dist-zipper/config.yaml"
)

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// candidateFilenames are tried in the working directory, in order.
//
//nolint:gochecknoglobals // Read-only list.
var candidateFilenames = []string{
	DefaultConfigFilename,
	"dist-zipper.yml",
	"dist-zipper.toml",
}

// fileConfig mirrors Config as written in files. Pointers distinguish unset
// keys from zero values; rules stay untyped until FromValue decodes them.
type fileConfig struct {
	OutputDir          *string        `yaml:"outputDir"          toml:"outputDir"`
	ArchiveName        *string        `yaml:"archiveName"        toml:"archiveName"`
	ZipFileName        *string        `yaml:"zipFileName"        toml:"zipFileName"`
	Include            any            `yaml:"include"            toml:"include"`
	Exclude            any            `yaml:"exclude"            toml:"exclude"`
	Verbose            *bool          `yaml:"verbose"            toml:"verbose"`
	GenerateManifest   *bool          `yaml:"generateManifest"   toml:"generateManifest"`
	GenerateOffsetJSON *bool          `yaml:"generateOffsetJson" toml:"generateOffsetJson"`
	ManifestContent    map[string]any `yaml:"manifestContent"    toml:"manifestContent"`
	URLPrefix          *string        `yaml:"urlPrefix"          toml:"urlPrefix"`
	ManifestName       *string        `yaml:"manifestName"       toml:"manifestName"`
	ManifestExternal   *bool          `yaml:"manifestExternal"   toml:"manifestExternal"`
	KeepEmptyDirs      *bool          `yaml:"keepEmptyDirs"      toml:"keepEmptyDirs"`
	CompressionLevel   *int           `yaml:"compressionLevel"   toml:"compressionLevel"`
	ReadyMarker        *string        `yaml:"readyMarker"        toml:"readyMarker"`
	ReadyTimeout       *string        `yaml:"readyTimeout"       toml:"readyTimeout"`
	SettleDelay        *string        `yaml:"settleDelay"        toml:"settleDelay"`
}

// Load reads the configuration at path and merges it over Default().
// An empty path searches the working directory, then the XDG config
// directories; when nothing is found the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = discover()
	}

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// discover returns the first existing default config file, or "".
func discover() string {
	for _, name := range candidateFilenames {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name
		}
	}

	if path, err := xdg.SearchConfigFile(xdgConfigFile); err == nil {
		return path
	}

	return ""
}

func mergeFile(cfg *Config, path string) error {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	raw, err := decode(path, contents)
	if err != nil {
		return fmt.Errorf("unmarshal settings %s: %w", path, err)
	}

	if err = raw.apply(cfg); err != nil {
		return fmt.Errorf("settings %s: %w", path, err)
	}

	return nil
}

func decode(path string, contents []byte) (*fileConfig, error) {
	var raw fileConfig

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(contents))
		decoder.KnownFields(true)

		// An empty document leaves the defaults untouched.
		if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(contents))
		decoder.DisallowUnknownFields()

		if err := decoder.Decode(&raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: %w", filepath.Ext(path), ErrUnsupportedFormat)
	}

	return &raw, nil
}

//nolint:cyclop,gocognit // Flat list of optional fields.
func (f *fileConfig) apply(cfg *Config) error {
	setString(&cfg.OutputDir, f.OutputDir)
	setString(&cfg.ArchiveName, f.ZipFileName)
	setString(&cfg.ArchiveName, f.ArchiveName)
	setString(&cfg.URLPrefix, f.URLPrefix)
	setString(&cfg.ManifestName, f.ManifestName)
	setString(&cfg.ReadyMarker, f.ReadyMarker)
	setBool(&cfg.Verbose, f.Verbose)
	setBool(&cfg.GenerateManifest, f.GenerateOffsetJSON)
	setBool(&cfg.GenerateManifest, f.GenerateManifest)
	setBool(&cfg.ManifestExternal, f.ManifestExternal)
	setBool(&cfg.KeepEmptyDirs, f.KeepEmptyDirs)

	if f.CompressionLevel != nil {
		cfg.SetLevel(*f.CompressionLevel)
	}

	if f.ManifestContent != nil {
		cfg.ManifestContent = f.ManifestContent
	}

	if f.Include != nil {
		include, err := rule.FromValue(f.Include)
		if err != nil {
			return fmt.Errorf("include: %w", err)
		}

		cfg.Include = include
	}

	if f.Exclude != nil {
		exclude, err := rule.FromValue(f.Exclude)
		if err != nil {
			return fmt.Errorf("exclude: %w", err)
		}

		cfg.Exclude = exclude
	}

	if err := setDuration(&cfg.ReadyTimeout, f.ReadyTimeout); err != nil {
		return fmt.Errorf("readyTimeout: %w", err)
	}

	if err := setDuration(&cfg.SettleDelay, f.SettleDelay); err != nil {
		return fmt.Errorf("settleDelay: %w", err)
	}

	return nil
}

func setString(dst, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}

	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}

	*dst = d

	return nil
}
