package pipeline

import (
	"errors"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/domain"
)

// StepSpec collects the fields of a remote script step before construction.
type StepSpec struct {
	Name            string
	SourceDirectory string
	ScriptName      string
	Arguments       []domain.StepArgument
	Inputs          []*domain.ConsumptionConfig
	RunConfig       domain.RunConfiguration
	ComputeTarget   string
	AllowReuse      bool
}

// NewScriptStep constructs an immutable step from spec. Slices are copied so
// later changes to spec do not leak into the step; the consumption bindings
// themselves are shared by pointer so arguments and inputs keep one identity.
func NewScriptStep(spec StepSpec) (*domain.ScriptStep, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, errors.New("step name is required")
	}
	args := make([]domain.StepArgument, len(spec.Arguments))
	copy(args, spec.Arguments)
	inputs := make([]*domain.ConsumptionConfig, len(spec.Inputs))
	copy(inputs, spec.Inputs)

	return &domain.ScriptStep{
		Name:            name,
		SourceDirectory: strings.TrimSpace(spec.SourceDirectory),
		ScriptName:      strings.TrimSpace(spec.ScriptName),
		Arguments:       args,
		Inputs:          inputs,
		RunConfig:       spec.RunConfig,
		ComputeTarget:   strings.TrimSpace(spec.ComputeTarget),
		AllowReuse:      spec.AllowReuse,
	}, nil
}

// New assembles a pipeline from steps, scoped to workspace.
func New(workspace domain.Workspace, steps ...*domain.ScriptStep) (domain.Pipeline, error) {
	if strings.TrimSpace(workspace.Name) == "" {
		return domain.Pipeline{}, errors.New("workspace is required")
	}
	if len(steps) == 0 {
		return domain.Pipeline{}, errors.New("at least one step is required")
	}
	out := make([]*domain.ScriptStep, len(steps))
	copy(out, steps)
	return domain.Pipeline{Workspace: workspace, Steps: out}, nil
}
