package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oshokin/dist-zipper/internal/config"
	"github.com/oshokin/dist-zipper/internal/domain/rule"
	"github.com/oshokin/dist-zipper/internal/logger"
	"github.com/oshokin/dist-zipper/internal/service/packager"
	"github.com/oshokin/dist-zipper/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

// flagValues holds raw flag values; only flags the user set override the config file.
type flagValues struct {
	configPath       string
	archiveName      string
	include          []string
	exclude          []string
	includeRegex     string
	excludeRegex     string
	verbose          bool
	manifest         bool
	manifestExternal bool
	urlPrefix        string
	keepEmptyDirs    bool
	level            int
	waitFor          string
	waitTimeout      time.Duration
	settleDelay      time.Duration
	logLevel         string
}

// newRootCmd builds the dist-zipper command.
func newRootCmd() *cobra.Command {
	values := &flagValues{}

	rootCmd := &cobra.Command{
		Use:   "dist-zipper [output-dir]",
		Short: "Package a build output directory into a ZIP archive",
		Long: "Package a build output directory into a ZIP archive, optionally with an offset.json " +
			"manifest describing every packaged file. Settings are read from dist-zipper.yaml " +
			"(or .toml) in the working directory or the XDG config directory; flags override them.",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if cmd.Flags().Changed("log-level") {
				level, ok := logger.ParseLogLevel(values.logLevel)
				if !ok {
					return fmt.Errorf("%w: %q", errUnknownLogLevel, values.logLevel)
				}

				logger.SetLevel(level)
			}

			cfg, err := buildConfig(cmd.Flags(), values, args)
			if err != nil {
				return err
			}

			_, err = packager.Run(ctx, &packager.Options{Config: cfg})

			return err
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&values.configPath, "config", "c", "", "path to a YAML or TOML configuration file (default: discovered)")
	flags.StringVarP(&values.archiveName, "name", "n", config.DefaultArchiveName, "archive file name, .zip is appended when missing")
	flags.StringArrayVar(&values.include, "include", nil, "glob pattern selecting files to package, repeatable (default: every file)")
	flags.StringArrayVar(&values.exclude, "exclude", nil, "glob pattern excluding files and whole directories, repeatable")
	flags.StringVar(&values.includeRegex, "include-regex", "", "regular expression selecting files to package")
	flags.StringVar(&values.excludeRegex, "exclude-regex", "", "regular expression excluding files and directories")
	flags.BoolVarP(&values.verbose, "verbose", "v", false, "log every packaging decision")
	flags.BoolVar(&values.manifest, "manifest", false, "add a manifest describing the packaged files")
	flags.BoolVar(&values.manifestExternal, "manifest-external", false, "write the manifest next to the archive instead of inside it")
	flags.StringVar(&values.urlPrefix, "url-prefix", "", "prefix prepended to manifest item paths to build their URLs")
	flags.BoolVar(&values.keepEmptyDirs, "keep-empty-dirs", false, "add directories that end up without files")
	flags.IntVar(&values.level, "level", 0, "deflate compression level, -2 to 9 (default: flate default)")
	flags.StringVar(&values.waitFor, "wait-for", "", "marker file the build creates once its output is flushed")
	flags.DurationVar(&values.waitTimeout, "wait-timeout", config.DefaultReadyTimeout, "how long to wait for the marker file")
	flags.DurationVar(&values.settleDelay, "settle-delay", 0, "fixed wait before packaging starts")
	flags.StringVar(&values.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	rootCmd.MarkFlagsMutuallyExclusive("include", "include-regex")
	rootCmd.MarkFlagsMutuallyExclusive("exclude", "exclude-regex")

	version.AttachCobraVersionCommand(rootCmd)

	return rootCmd
}

// buildConfig loads the config file and applies the flags the user set.
func buildConfig(flags *pflag.FlagSet, values *flagValues, args []string) (*config.Config, error) {
	cfg, err := config.Load(values.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if len(args) > 0 {
		cfg.OutputDir = args[0]
	}

	if err = applyRules(flags, values, cfg); err != nil {
		return nil, err
	}

	if flags.Changed("name") {
		cfg.ArchiveName = values.archiveName
	}

	if flags.Changed("verbose") {
		cfg.Verbose = values.verbose
	}

	if flags.Changed("manifest") {
		cfg.GenerateManifest = values.manifest
	}

	if flags.Changed("manifest-external") {
		cfg.ManifestExternal = values.manifestExternal
		cfg.GenerateManifest = cfg.GenerateManifest || values.manifestExternal
	}

	if flags.Changed("url-prefix") {
		cfg.URLPrefix = values.urlPrefix
	}

	if flags.Changed("keep-empty-dirs") {
		cfg.KeepEmptyDirs = values.keepEmptyDirs
	}

	if flags.Changed("level") {
		cfg.SetLevel(values.level)
	}

	if flags.Changed("wait-for") {
		cfg.ReadyMarker = values.waitFor
	}

	if flags.Changed("wait-timeout") {
		cfg.ReadyTimeout = values.waitTimeout
	}

	if flags.Changed("settle-delay") {
		cfg.SettleDelay = values.settleDelay
	}

	if err = config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyRules(flags *pflag.FlagSet, values *flagValues, cfg *config.Config) error {
	var err error

	switch {
	case flags.Changed("include"):
		if cfg.Include, err = rule.Globs(values.include...); err != nil {
			return fmt.Errorf("--include: %w", err)
		}
	case flags.Changed("include-regex"):
		if cfg.Include, err = rule.CompileRegexp(values.includeRegex); err != nil {
			return fmt.Errorf("--include-regex: %w", err)
		}
	}

	switch {
	case flags.Changed("exclude"):
		if cfg.Exclude, err = rule.Globs(values.exclude...); err != nil {
			return fmt.Errorf("--exclude: %w", err)
		}
	case flags.Changed("exclude-regex"):
		if cfg.Exclude, err = rule.CompileRegexp(values.excludeRegex); err != nil {
			return fmt.Errorf("--exclude-regex: %w", err)
		}
	}

	return nil
}

// Execute runs the dist-zipper CLI and exits with non-zero status on error.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
