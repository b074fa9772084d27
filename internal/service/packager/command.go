package packager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/dist-zipper/internal/archive"
	"github.com/oshokin/dist-zipper/internal/config"
	"github.com/oshokin/dist-zipper/internal/filter"
	"github.com/oshokin/dist-zipper/internal/logger"
	"github.com/oshokin/dist-zipper/internal/manifest"
	"github.com/oshokin/dist-zipper/internal/readiness"
	"github.com/oshokin/dist-zipper/internal/repository/artifact"
	"github.com/oshokin/dist-zipper/internal/repository/lock"
	"github.com/oshokin/dist-zipper/internal/walker"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Config is the run configuration. It is validated (and defaults filled) by Run.
	Config *config.Config
	// Fs is the filesystem the output directory is read from. Defaults to a
	// read-only view of the OS filesystem. Artifacts are always written to disk.
	Fs afero.Fs
	// Ready is awaited before packaging starts. When nil it is derived from
	// the ReadyMarker and SettleDelay settings.
	Ready readiness.Signal
}

// Result describes a finished run.
type Result struct {
	// ArchivePath is where the archive was written. Empty when nothing matched.
	ArchivePath string
	// ManifestPath is where an external manifest was written, if any.
	ManifestPath string
	// Files is the number of packaged files, the embedded manifest excluded.
	Files int
	// Folders is the number of folder entries in the archive.
	Folders int
	// Manifest is the generated manifest. Nil when generation is disabled or
	// custom manifest content was supplied.
	Manifest *manifest.Manifest
	// SubtreeErrors lists directories and files that could not be read.
	SubtreeErrors []*walker.SubtreeError
	// Duration is the time spent packaging, readiness wait excluded.
	Duration time.Duration
	// Empty reports that nothing matched and no archive was written.
	Empty bool
}

// packager holds the state of one run. It is unexported; callers use Run.
type packager struct {
	// cfg is the validated run configuration.
	cfg *config.Config
	// fs is the filesystem the tree is read from.
	fs afero.Fs
	// root is the absolute output directory.
	root string
	// policy decides which entries are packaged.
	policy *filter.Policy
	// archive collects accepted files.
	archive *archive.Builder
	// manifest records the same files when generation is enabled.
	manifest *manifest.Builder
	// result is filled while the run progresses.
	result *Result
}

var (
	// errOptionsNotSet is returned when Run is called without options.
	errOptionsNotSet = errors.New("packager options are not set")
	// errRootNotDirectory is recorded when the output directory is a file.
	errRootNotDirectory = errors.New("not a directory")
)

// Run executes one packaging run.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	if opts == nil || opts.Config == nil {
		return nil, errOptionsNotSet
	}

	cfg := opts.Config
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx = logger.WithName(ctx, "dist-zipper")
	if cfg.Verbose {
		ctx = logger.WithOptions(ctx, logger.WithLevel(zapcore.DebugLevel))
	}

	marker, err := lock.Acquire(ctx, cfg.ArchivePath())
	if err != nil {
		return nil, err
	}

	defer func() {
		if releaseErr := marker.Release(); releaseErr != nil {
			logger.WarnKV(ctx, "Unable to release lock marker", "error", releaseErr)
		}
	}()

	if err = readySignal(opts).Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for build output: %w", err)
	}

	pkg, err := newPackager(opts)
	if err != nil {
		return nil, err
	}

	return pkg.Run(ctx)
}

// Hook returns a no-argument callback running the packager with opts, for
// hosts that only offer a post-build lifecycle hook.
func Hook(opts *Options) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := Run(ctx, opts)

		return err
	}
}

func readySignal(opts *Options) readiness.Signal {
	if opts.Ready != nil {
		return opts.Ready
	}

	var signals []readiness.Signal

	if opts.Config.ReadyMarker != "" {
		signals = append(signals, readiness.MarkerFile(opts.Config.ReadyMarker, opts.Config.ReadyTimeout))
	}

	if opts.Config.SettleDelay > 0 {
		signals = append(signals, readiness.Delay(opts.Config.SettleDelay))
	}

	if len(signals) == 0 {
		return readiness.Immediate()
	}

	return readiness.All(signals...)
}

func newPackager(opts *Options) (*packager, error) {
	cfg := opts.Config

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewReadOnlyFs(afero.NewOsFs())
	}

	root, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}

	pkg := &packager{
		cfg:     cfg,
		fs:      fsys,
		root:    root,
		policy:  filter.New(cfg.Include, cfg.Exclude, filter.WithReserved(reservedPaths(cfg, root)...)),
		archive: archive.NewBuilder(archive.WithCompressionLevel(cfg.Level())),
		result:  &Result{},
	}

	if cfg.GenerateManifest && cfg.ManifestContent == nil {
		name := strings.TrimSuffix(cfg.ArchiveFilename(), filepath.Ext(cfg.ArchiveFilename()))
		pkg.manifest = manifest.NewBuilder(name, filepath.Base(root), cfg.URLPrefix)
	}

	return pkg, nil
}

// reservedPaths lists root-relative names the run itself produces or
// consumes: the archive, the manifest and a readiness marker under root.
func reservedPaths(cfg *config.Config, root string) []string {
	names := []string{cfg.ArchiveFilename()}
	for _, sidecar := range artifact.Sidecars(cfg.ArchiveFilename()) {
		names = append(names, filepath.Base(sidecar))
	}

	if cfg.GenerateManifest {
		names = append(names, cfg.ManifestName)
		for _, sidecar := range artifact.Sidecars(cfg.ManifestName) {
			names = append(names, filepath.Base(sidecar))
		}
	}

	if marker := markerPath(cfg.ReadyMarker, root); marker != "" {
		names = append(names, marker)
	}

	return names
}

// markerPath returns the readiness marker relative to root, or "" when it
// lives outside root.
func markerPath(marker, root string) string {
	if marker == "" {
		return ""
	}

	absolute, err := filepath.Abs(marker)
	if err != nil {
		return ""
	}

	relative, err := filepath.Rel(root, absolute)
	if err != nil || relative == "." || !filepath.IsLocal(relative) {
		return ""
	}

	return filepath.ToSlash(relative)
}

// Run walks, builds and writes.
func (p *packager) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()

	logger.DebugKV(ctx, "Packaging build output", "root", p.root)

	if err := p.collect(ctx); err != nil {
		return nil, err
	}

	p.result.Files = p.archive.Files()

	if p.result.Files == 0 {
		logger.Debug(ctx, "Nothing matched, no archive written")

		p.result.Empty = true
		p.result.Duration = time.Since(startTime)

		return p.result, nil
	}

	manifestData, err := p.manifestData()
	if err != nil {
		return nil, err
	}

	if manifestData != nil && !p.cfg.ManifestExternal {
		if err = p.archive.AddFile([]string{p.cfg.ManifestName}, manifestData); err != nil {
			return nil, fmt.Errorf("embed manifest: %w", err)
		}
	}

	p.result.Folders = p.archive.Folders()

	contents, err := p.archive.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize archive: %w", err)
	}

	archivePath := filepath.Join(p.root, p.cfg.ArchiveFilename())
	if err = artifact.NewFileRepository(archivePath).Save(ctx, contents); err != nil {
		return nil, err
	}

	p.result.ArchivePath = archivePath

	if manifestData != nil && p.cfg.ManifestExternal {
		manifestPath := filepath.Join(p.root, p.cfg.ManifestName)
		if err = artifact.NewFileRepository(manifestPath).Save(ctx, manifestData); err != nil {
			return nil, err
		}

		p.result.ManifestPath = manifestPath
	}

	p.result.Duration = time.Since(startTime)

	logger.InfoKV(ctx, "Archive created",
		"path", archivePath,
		"files", p.result.Files,
		"elapsed_ms", p.result.Duration.Milliseconds())

	return p.result, nil
}

// collect walks the root once, feeding accepted files to both builders.
func (p *packager) collect(ctx context.Context) error {
	if info, err := p.fs.Stat(p.root); err != nil || !info.IsDir() {
		if err == nil {
			err = errRootNotDirectory
		}

		p.recordError(ctx, &walker.SubtreeError{Path: p.root, Err: err})

		return nil
	}

	err := walker.Walk(ctx, p.fs, p.root, p.visit(ctx), func(subtreeErr *walker.SubtreeError) {
		p.recordError(ctx, subtreeErr)
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", p.root, err)
	}

	return nil
}

func (p *packager) visit(ctx context.Context) walker.VisitFunc {
	return func(entry walker.Entry) error {
		decision, err := p.policy.Decide(entry)
		if err != nil {
			return err
		}

		if !decision.Include {
			logger.DebugKV(ctx, "Excluded", "path", entry.RelativePath, "reason", decision.Reason)

			if entry.IsDir {
				return walker.SkipDir
			}

			return nil
		}

		if entry.IsDir {
			if p.cfg.KeepEmptyDirs {
				if err = p.archive.AddFolder(entry.Segments()); err != nil {
					return fmt.Errorf("add folder %s: %w", entry.RelativePath, err)
				}
			}

			return nil
		}

		content, err := afero.ReadFile(p.fs, entry.AbsolutePath)
		if err != nil {
			p.recordError(ctx, &walker.SubtreeError{
				Path:         entry.AbsolutePath,
				RelativePath: entry.RelativePath,
				Err:          err,
			})

			return nil
		}

		err = p.archive.AddFile(entry.Segments(), content)
		if errors.Is(err, archive.ErrInvalidPath) {
			// Names a ZIP entry cannot carry, such as a backslash on POSIX systems.
			p.recordError(ctx, &walker.SubtreeError{
				Path:         entry.AbsolutePath,
				RelativePath: entry.RelativePath,
				Err:          err,
			})

			return nil
		}

		if err != nil {
			return fmt.Errorf("add file %s: %w", entry.RelativePath, err)
		}

		if p.manifest != nil {
			p.manifest.Add(entry.RelativePath, content)
		}

		logger.DebugKV(ctx, "Added", "path", entry.RelativePath)

		return nil
	}
}

func (p *packager) recordError(ctx context.Context, err *walker.SubtreeError) {
	p.result.SubtreeErrors = append(p.result.SubtreeErrors, err)

	if p.cfg.Verbose {
		logger.WarnKV(ctx, "Unable to read, skipping", "path", err.Path, "error", err.Err)
	}
}

// manifestData returns the serialized manifest, or nil when none is emitted.
func (p *packager) manifestData() ([]byte, error) {
	if !p.cfg.GenerateManifest {
		return nil, nil
	}

	if p.cfg.ManifestContent != nil {
		data, err := json.MarshalIndent(p.cfg.ManifestContent, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode custom manifest: %w", err)
		}

		return data, nil
	}

	built := p.manifest.Build()
	p.result.Manifest = built

	data, err := built.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return data, nil
}
