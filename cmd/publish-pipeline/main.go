package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/animus-labs/animus-pipelines/internal/controlplane"
	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/pipeline"
	"github.com/animus-labs/animus-pipelines/internal/platform/credentials"
	"github.com/animus-labs/animus-pipelines/internal/platform/env"
	"github.com/animus-labs/animus-pipelines/internal/platform/objectstore"
	"github.com/animus-labs/animus-pipelines/internal/publisher"
	"github.com/animus-labs/animus-pipelines/internal/snapshot"
	"github.com/animus-labs/animus-pipelines/internal/workspace"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

// usageError marks configuration problems the operator has to fix before a
// run can start.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
func (e *usageError) ExitCode() int { return 2 }

func usage(err error) error { return &usageError{err: err} }

type options struct {
	flags           publisher.Config
	accessMode      string
	workspaceConfig string
	definition      string
	sourceRoot      string
	timeout         time.Duration
	logLevel        string
	version         bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	def := publisher.DefaultConfig()
	fs := pflag.NewFlagSet("publish-pipeline", pflag.ContinueOnError)
	fs.StringVar(&opts.flags.DatasetName, "dataset", def.DatasetName, "registered dataset used as the parameter default")
	fs.StringVar(&opts.flags.ParameterName, "parameter", def.ParameterName, "pipeline parameter name")
	fs.StringVar(&opts.accessMode, "access-mode", string(def.AccessMode), "dataset access mode (download|mount)")
	fs.StringVar(&opts.flags.EnvironmentName, "environment", def.EnvironmentName, "registered execution environment")
	fs.StringVar(&opts.flags.ComputeTarget, "compute-target", def.ComputeTarget, "provisioned compute target")
	fs.StringVar(&opts.flags.SourceDirectory, "source-directory", def.SourceDirectory, "directory holding the training script")
	fs.StringVar(&opts.flags.ScriptName, "script", def.ScriptName, "script file inside the source directory")
	fs.StringVar(&opts.flags.DataPathFlag, "data-path-flag", def.DataPathFlag, "argument that precedes the materialized dataset path")
	fs.StringVar(&opts.flags.StepName, "step-name", def.StepName, "step name")
	fs.StringVar(&opts.flags.PipelineName, "pipeline-name", def.PipelineName, "published pipeline name")
	fs.StringVar(&opts.flags.Description, "description", def.Description, "published pipeline description")
	fs.BoolVar(&opts.flags.AllowReuse, "allow-reuse", def.AllowReuse, "allow the step to reuse previous results")
	fs.StringVar(&opts.flags.OutputVariable, "output-variable", def.OutputVariable, "CI variable that receives the pipeline id")
	fs.StringVar(&opts.workspaceConfig, "workspace-config", "", "workspace config file (default: discovered from the working directory)")
	fs.StringVar(&opts.definition, "definition", "", "YAML publish definition")
	fs.StringVar(&opts.sourceRoot, "source-root", "", "directory relative source directories resolve against")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall run timeout")
	fs.StringVar(&opts.logLevel, "log-level", env.String("ANIMUS_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	return fs
}

// flagOverrides copies explicitly set flags onto cfg, so flags win over the
// definition file and PUBLISH_* environment.
var flagOverrides = map[string]func(dst *publisher.Config, src publisher.Config){
	"dataset":          func(d *publisher.Config, s publisher.Config) { d.DatasetName = s.DatasetName },
	"parameter":        func(d *publisher.Config, s publisher.Config) { d.ParameterName = s.ParameterName },
	"environment":      func(d *publisher.Config, s publisher.Config) { d.EnvironmentName = s.EnvironmentName },
	"compute-target":   func(d *publisher.Config, s publisher.Config) { d.ComputeTarget = s.ComputeTarget },
	"source-directory": func(d *publisher.Config, s publisher.Config) { d.SourceDirectory = s.SourceDirectory },
	"script":           func(d *publisher.Config, s publisher.Config) { d.ScriptName = s.ScriptName },
	"data-path-flag":   func(d *publisher.Config, s publisher.Config) { d.DataPathFlag = s.DataPathFlag },
	"step-name":        func(d *publisher.Config, s publisher.Config) { d.StepName = s.StepName },
	"pipeline-name":    func(d *publisher.Config, s publisher.Config) { d.PipelineName = s.PipelineName },
	"description":      func(d *publisher.Config, s publisher.Config) { d.Description = s.Description },
	"allow-reuse":      func(d *publisher.Config, s publisher.Config) { d.AllowReuse = s.AllowReuse },
	"output-variable":  func(d *publisher.Config, s publisher.Config) { d.OutputVariable = s.OutputVariable },
	"access-mode":      func(d *publisher.Config, s publisher.Config) { d.AccessMode = s.AccessMode },
}

func resolveConfig(fs *pflag.FlagSet, opts *options) (publisher.Config, error) {
	cfg := publisher.DefaultConfig()
	var err error
	if opts.definition != "" {
		cfg, err = publisher.LoadDefinition(opts.definition, cfg)
		if err != nil {
			return publisher.Config{}, err
		}
	}
	cfg, err = publisher.ApplyEnv(cfg)
	if err != nil {
		return publisher.Config{}, err
	}
	if fs.Changed("access-mode") {
		mode, err := domain.ParseAccessMode(opts.accessMode)
		if err != nil {
			return publisher.Config{}, fmt.Errorf("--access-mode: %w", err)
		}
		opts.flags.AccessMode = mode
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := flagOverrides[f.Name]; ok {
			apply(&cfg, opts.flags)
		}
	})
	if err := cfg.Validate(); err != nil {
		return publisher.Config{}, err
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := newFlagSet(&opts)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usage(err)
	}
	if fs.NArg() > 0 {
		return usage(fmt.Errorf("unexpected argument: %s", fs.Arg(0)))
	}
	if opts.version {
		fmt.Fprintf(stdout, "publish-pipeline %s\n", controlplane.Version)
		return nil
	}

	level, err := env.ParseLevel(opts.logLevel)
	if err != nil {
		return usage(fmt.Errorf("--log-level: %w", err))
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := resolveConfig(fs, &opts)
	if err != nil {
		return usage(err)
	}

	wsCfg, err := loadWorkspace(opts.workspaceConfig)
	if err != nil {
		return usage(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	httpClient, err := credentials.NewHTTPClient(ctx, wsCfg.Auth, 0)
	if err != nil {
		return fmt.Errorf("workspace credentials: %w", err)
	}
	client, err := controlplane.New(controlplane.Config{
		Endpoint:   wsCfg.Endpoint,
		Workspace:  wsCfg.Workspace(),
		HTTPClient: httpClient,
	})
	if err != nil {
		return usage(err)
	}
	logger = logger.With("request_id", client.RequestID())

	uploader, err := snapshotUploader(ctx)
	if err != nil {
		return err
	}

	pub := &publisher.Publisher{
		Client:     client,
		Out:        stdout,
		Logger:     logger,
		SourceRoot: opts.sourceRoot,
	}
	if uploader != nil {
		// Assigned only when configured so the interface stays nil otherwise.
		pub.Snapshots = uploader
	}

	logger.Info("publishing pipeline",
		"workspace", wsCfg.WorkspaceName,
		"config", wsCfg.Path,
		"pipeline", cfg.PipelineName,
		"dataset", cfg.DatasetName,
	)
	if _, err := pub.Run(ctx, cfg); err != nil {
		logFailure(logger, err)
		return err
	}
	return nil
}

func loadWorkspace(path string) (workspace.Config, error) {
	if path != "" {
		return workspace.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return workspace.Config{}, err
	}
	return workspace.Discover(wd)
}

func snapshotUploader(ctx context.Context) (*snapshot.Uploader, error) {
	if !objectstore.Enabled() {
		return nil, nil
	}
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, usage(err)
	}
	mc, err := objectstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	if err := objectstore.CheckBucket(ctx, mc, cfg); err != nil {
		return nil, err
	}
	store, err := objectstore.NewMinioStore(mc)
	if err != nil {
		return nil, err
	}
	return snapshot.NewUploader(store, cfg)
}

func logFailure(logger *slog.Logger, err error) {
	var (
		notFound *controlplane.NotFoundError
		remote   *controlplane.RemoteError
	)
	switch {
	case errors.As(err, &notFound):
		logger.Error("resource not found", "kind", string(notFound.Kind), "name", notFound.Name, "error", err)
	case pipeline.IsValidationError(err):
		logger.Error("pipeline validation failed", "error", err)
	case errors.As(err, &remote):
		logger.Error("control plane request failed", "status", remote.Status, "retryable", remote.Temporary(), "error", err)
	default:
		logger.Error("publish failed", "error", err)
	}
}
