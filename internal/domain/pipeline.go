package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PipelineParameter is a named input whose default can be overridden per run.
// Only dataset-valued parameters exist today.
type PipelineParameter struct {
	name    string
	dataset Dataset
}

func NewDatasetParameter(name string, def Dataset) (*PipelineParameter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("parameter name is required")
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("parameter %q default: %w", name, err)
	}
	return &PipelineParameter{name: name, dataset: def}, nil
}

func (p *PipelineParameter) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

func (p *PipelineParameter) Default() Dataset {
	if p == nil {
		return Dataset{}
	}
	return p.dataset
}

type AccessMode string

const (
	AccessModeDownload AccessMode = "download"
	AccessModeMount    AccessMode = "mount"
)

func ParseAccessMode(raw string) (AccessMode, error) {
	switch AccessMode(strings.ToLower(strings.TrimSpace(raw))) {
	case AccessModeDownload:
		return AccessModeDownload, nil
	case AccessModeMount:
		return AccessModeMount, nil
	default:
		return "", fmt.Errorf("access mode must be one of: download, mount (got %q)", raw)
	}
}

func (m AccessMode) Valid() bool {
	return m == AccessModeDownload || m == AccessModeMount
}

// ConsumptionConfig binds a parameter to the way a step materializes it.
type ConsumptionConfig struct {
	Name      string
	Parameter *PipelineParameter
	Mode      AccessMode
}

// NewConsumption returns a binding with no access mode; callers pick one with
// AsDownload or AsMount.
func NewConsumption(name string, param *PipelineParameter) ConsumptionConfig {
	return ConsumptionConfig{Name: strings.TrimSpace(name), Parameter: param}
}

func (c ConsumptionConfig) AsDownload() *ConsumptionConfig {
	c.Mode = AccessModeDownload
	return &c
}

func (c ConsumptionConfig) AsMount() *ConsumptionConfig {
	c.Mode = AccessModeMount
	return &c
}

func (c ConsumptionConfig) WithMode(mode AccessMode) *ConsumptionConfig {
	c.Mode = mode
	return &c
}

// RunConfiguration is the execution environment descriptor attached to a step.
type RunConfiguration struct {
	Environment Environment
}

// StepArgument is either a literal command-line token or a placeholder that the
// remote runtime replaces with the materialized path of Input.
type StepArgument struct {
	Literal string
	Input   *ConsumptionConfig
}

func Literal(s string) StepArgument { return StepArgument{Literal: s} }

func InputArgument(c *ConsumptionConfig) StepArgument { return StepArgument{Input: c} }

func (a StepArgument) IsInput() bool { return a.Input != nil }

// SourceSnapshot points at an uploaded archive of a step's source directory.
type SourceSnapshot struct {
	ObjectKey string
	SHA256    string
	SizeBytes int64
}

// ScriptStep is one remote script execution.
type ScriptStep struct {
	Name            string
	SourceDirectory string
	ScriptName      string
	Arguments       []StepArgument
	Inputs          []*ConsumptionConfig
	RunConfig       RunConfiguration
	ComputeTarget   string
	AllowReuse      bool
	Snapshot        *SourceSnapshot
}

// Pipeline is an ordered set of steps scoped to a workspace.
type Pipeline struct {
	Workspace Workspace
	Steps     []*ScriptStep
}

// Parameters returns the distinct parameters bound by step inputs, in
// declaration order.
func (p Pipeline) Parameters() []*PipelineParameter {
	seen := make(map[*PipelineParameter]struct{})
	out := make([]*PipelineParameter, 0)
	for _, step := range p.Steps {
		if step == nil {
			continue
		}
		for _, in := range step.Inputs {
			if in == nil || in.Parameter == nil {
				continue
			}
			if _, ok := seen[in.Parameter]; ok {
				continue
			}
			seen[in.Parameter] = struct{}{}
			out = append(out, in.Parameter)
		}
	}
	return out
}

// PublishedPipeline is the server-side, invocable version of a pipeline.
type PublishedPipeline struct {
	ID          string
	Name        string
	Version     int64
	Description string
	Endpoint    string
	CreatedAt   time.Time
	CreatedBy   string
}

func (p PublishedPipeline) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("published pipeline id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("published pipeline name is required")
	}
	return nil
}
