// Package publisher assembles the single-step training pipeline from names
// registered in a workspace, validates it, and publishes it.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/cdvar"
	"github.com/animus-labs/animus-pipelines/internal/controlplane"
	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/pipeline"
	"github.com/animus-labs/animus-pipelines/internal/snapshot"
)

// ControlPlane is the subset of the control-plane client a publish run uses.
type ControlPlane interface {
	Connect(ctx context.Context) (domain.Workspace, error)
	GetDataset(ctx context.Context, name string) (domain.Dataset, error)
	GetEnvironment(ctx context.Context, name string) (domain.Environment, error)
	GetComputeTarget(ctx context.Context, name string) (domain.ComputeTarget, error)
	ValidatePipeline(ctx context.Context, p domain.Pipeline) error
	PublishPipeline(ctx context.Context, p domain.Pipeline, opts controlplane.PublishOptions) (domain.PublishedPipeline, error)
}

type SnapshotUploader interface {
	Upload(ctx context.Context, archive *snapshot.Archive) (domain.SourceSnapshot, error)
}

type Publisher struct {
	Client ControlPlane
	// Snapshots is optional; without it steps reference their source
	// directory by path only.
	Snapshots SnapshotUploader
	Out       io.Writer
	Logger    *slog.Logger
	// SourceRoot anchors relative source directories. Empty means the
	// process working directory.
	SourceRoot string
	SDKVersion string
}

// Run executes one publish. Each stage depends on the previous one and the
// first failure ends the run; the CI variable line is written only after a
// successful publish.
func (p *Publisher) Run(ctx context.Context, cfg Config) (domain.PublishedPipeline, error) {
	if p == nil || p.Client == nil {
		return domain.PublishedPipeline{}, errors.New("publisher not initialized")
	}
	if p.Out == nil {
		return domain.PublishedPipeline{}, errors.New("publisher output is required")
	}
	if err := cfg.Validate(); err != nil {
		return domain.PublishedPipeline{}, err
	}
	logger := p.logger()

	ws, err := p.Client.Connect(ctx)
	if err != nil {
		return domain.PublishedPipeline{}, fmt.Errorf("connect workspace: %w", err)
	}
	if err := p.printDiagnostics(ws); err != nil {
		return domain.PublishedPipeline{}, err
	}
	logger = logger.With("workspace", ws.Name)

	pl, err := p.Assemble(ctx, ws, cfg)
	if err != nil {
		return domain.PublishedPipeline{}, err
	}

	if err := pipeline.Validate(pl); err != nil {
		return domain.PublishedPipeline{}, err
	}
	if err := pipeline.CheckSources(pl, p.SourceRoot); err != nil {
		return domain.PublishedPipeline{}, err
	}
	if err := p.Client.ValidatePipeline(ctx, pl); err != nil {
		return domain.PublishedPipeline{}, fmt.Errorf("validate pipeline: %w", err)
	}
	logger.Info("pipeline validated", "pipeline", cfg.PipelineName, "steps", len(pl.Steps))

	if p.Snapshots != nil {
		if err := p.attachSnapshots(ctx, logger, pl); err != nil {
			return domain.PublishedPipeline{}, err
		}
	}

	published, err := p.Client.PublishPipeline(ctx, pl, controlplane.PublishOptions{
		Name:        cfg.PipelineName,
		Description: cfg.Description,
	})
	if err != nil {
		return domain.PublishedPipeline{}, fmt.Errorf("publish pipeline: %w", err)
	}
	logger.Info("pipeline published",
		"pipeline", published.Name,
		"pipeline_id", published.ID,
		"version", published.Version,
	)

	if err := cdvar.SetVariable(p.Out, cfg.OutputVariable, published.ID); err != nil {
		return published, fmt.Errorf("emit %s: %w", cfg.OutputVariable, err)
	}
	return published, nil
}

// Assemble resolves every referenced name in ws and builds the pipeline. No
// domain object is constructed for a stage whose lookup failed.
func (p *Publisher) Assemble(ctx context.Context, ws domain.Workspace, cfg Config) (domain.Pipeline, error) {
	dataset, err := p.Client.GetDataset(ctx, cfg.DatasetName)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("resolve dataset: %w", err)
	}
	param, err := domain.NewDatasetParameter(cfg.ParameterName, dataset)
	if err != nil {
		return domain.Pipeline{}, err
	}
	input := domain.NewConsumption(cfg.ParameterName, param).WithMode(cfg.AccessMode)

	environment, err := p.Client.GetEnvironment(ctx, cfg.EnvironmentName)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("resolve environment: %w", err)
	}
	runConfig := domain.RunConfiguration{Environment: environment}

	compute, err := p.Client.GetComputeTarget(ctx, cfg.ComputeTarget)
	if err != nil {
		return domain.Pipeline{}, fmt.Errorf("resolve compute target: %w", err)
	}
	if !compute.Provisioned() {
		return domain.Pipeline{}, fmt.Errorf("compute target %q is not provisioned (state=%s)", compute.Name, compute.State)
	}

	args := make([]domain.StepArgument, 0, 2)
	if flag := strings.TrimSpace(cfg.DataPathFlag); flag != "" {
		args = append(args, domain.Literal(flag))
	}
	args = append(args, domain.InputArgument(input))

	step, err := pipeline.NewScriptStep(pipeline.StepSpec{
		Name:            cfg.StepName,
		SourceDirectory: cfg.SourceDirectory,
		ScriptName:      cfg.ScriptName,
		Arguments:       args,
		Inputs:          []*domain.ConsumptionConfig{input},
		RunConfig:       runConfig,
		ComputeTarget:   compute.Name,
		AllowReuse:      cfg.AllowReuse,
	})
	if err != nil {
		return domain.Pipeline{}, err
	}
	return pipeline.New(ws, step)
}

func (p *Publisher) attachSnapshots(ctx context.Context, logger *slog.Logger, pl domain.Pipeline) error {
	for _, step := range pl.Steps {
		dir := pipeline.ResolveSourceDirectory(p.SourceRoot, step.SourceDirectory)
		archive, err := snapshot.Build(dir)
		if err != nil {
			return fmt.Errorf("snapshot step %s: %w", step.Name, err)
		}
		snap, err := p.Snapshots.Upload(ctx, archive)
		if err != nil {
			return fmt.Errorf("snapshot step %s: %w", step.Name, err)
		}
		step.Snapshot = &snap
		logger.Info("source snapshot stored",
			"step", step.Name,
			"object_key", snap.ObjectKey,
			"files", archive.Files,
			"size_bytes", snap.SizeBytes,
		)
	}
	return nil
}

func (p *Publisher) printDiagnostics(ws domain.Workspace) error {
	version := p.SDKVersion
	if version == "" {
		version = controlplane.Version
	}
	_, err := fmt.Fprintf(p.Out,
		"SDK version: %s\nWS name: %s\nRegion: %s\nSubscription id: %s\nResource group: %s\n",
		version, ws.Name, ws.Region, ws.SubscriptionID, ws.ResourceGroup,
	)
	return err
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
