package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/domain"
)

const (
	parameterTypeDataset = "dataset"
	stepKindScript       = "script"
	argumentTypeLiteral  = "literal"
	argumentTypeInput    = "input"
)

// Payload is the wire form of a pipeline graph. Parameters are hoisted to the
// top level and referenced by name from step inputs; arguments reference
// inputs by name.
type Payload struct {
	Workspace  string             `json:"workspace"`
	Parameters []ParameterPayload `json:"parameters"`
	Steps      []StepPayload      `json:"steps"`
}

type ParameterPayload struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Default DatasetPayload `json:"default"`
}

type DatasetPayload struct {
	ID      string `json:"dataset_id"`
	Name    string `json:"name"`
	Version int64  `json:"version,omitempty"`
}

type StepPayload struct {
	Name             string                  `json:"name"`
	Kind             string                  `json:"kind"`
	SourceDirectory  string                  `json:"source_directory"`
	ScriptName       string                  `json:"script_name"`
	Arguments        []ArgumentPayload       `json:"arguments"`
	Inputs           []InputPayload          `json:"inputs"`
	RunConfiguration RunConfigurationPayload `json:"run_configuration"`
	ComputeTarget    string                  `json:"compute_target"`
	AllowReuse       bool                    `json:"allow_reuse"`
	Snapshot         *SnapshotPayload        `json:"snapshot,omitempty"`
}

type ArgumentPayload struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
	Input string `json:"input,omitempty"`
}

type InputPayload struct {
	Name      string `json:"name"`
	Parameter string `json:"parameter"`
	Mode      string `json:"mode"`
}

type RunConfigurationPayload struct {
	Environment EnvironmentPayload `json:"environment"`
}

type EnvironmentPayload struct {
	ID      string `json:"environment_id,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Image   string `json:"image,omitempty"`
}

type SnapshotPayload struct {
	ObjectKey string `json:"object_key"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// ToPayload converts a pipeline into its wire form.
func ToPayload(p domain.Pipeline) Payload {
	payload := Payload{
		Workspace:  p.Workspace.Name,
		Parameters: make([]ParameterPayload, 0),
		Steps:      make([]StepPayload, 0, len(p.Steps)),
	}
	for _, param := range p.Parameters() {
		def := param.Default()
		payload.Parameters = append(payload.Parameters, ParameterPayload{
			Name: param.Name(),
			Type: parameterTypeDataset,
			Default: DatasetPayload{
				ID:      def.ID,
				Name:    def.Name,
				Version: def.Version,
			},
		})
	}
	for _, step := range p.Steps {
		if step == nil {
			continue
		}
		sp := StepPayload{
			Name:            step.Name,
			Kind:            stepKindScript,
			SourceDirectory: step.SourceDirectory,
			ScriptName:      step.ScriptName,
			Arguments:       make([]ArgumentPayload, 0, len(step.Arguments)),
			Inputs:          make([]InputPayload, 0, len(step.Inputs)),
			RunConfiguration: RunConfigurationPayload{Environment: EnvironmentPayload{
				ID:      step.RunConfig.Environment.ID,
				Name:    step.RunConfig.Environment.Name,
				Version: step.RunConfig.Environment.Version,
				Image:   step.RunConfig.Environment.Image,
			}},
			ComputeTarget: step.ComputeTarget,
			AllowReuse:    step.AllowReuse,
		}
		for _, arg := range step.Arguments {
			if arg.IsInput() {
				sp.Arguments = append(sp.Arguments, ArgumentPayload{Type: argumentTypeInput, Input: arg.Input.Name})
				continue
			}
			sp.Arguments = append(sp.Arguments, ArgumentPayload{Type: argumentTypeLiteral, Value: arg.Literal})
		}
		for _, in := range step.Inputs {
			if in == nil {
				continue
			}
			sp.Inputs = append(sp.Inputs, InputPayload{
				Name:      in.Name,
				Parameter: in.Parameter.Name(),
				Mode:      string(in.Mode),
			})
		}
		if step.Snapshot != nil {
			sp.Snapshot = &SnapshotPayload{
				ObjectKey: step.Snapshot.ObjectKey,
				SHA256:    step.Snapshot.SHA256,
				SizeBytes: step.Snapshot.SizeBytes,
			}
		}
		payload.Steps = append(payload.Steps, sp)
	}
	return payload
}

// Marshal serializes a pipeline with stable field names.
func Marshal(p domain.Pipeline) ([]byte, error) {
	return json.Marshal(ToPayload(p))
}

// Unmarshal parses a wire payload back into a pipeline graph.
func Unmarshal(raw []byte) (domain.Pipeline, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Pipeline{}, fmt.Errorf("decode pipeline: %w", err)
	}
	return FromPayload(payload, domain.Workspace{Name: payload.Workspace})
}

// FromPayload rebuilds a pipeline, restoring shared identity: every input that
// names a parameter points at the same *PipelineParameter, and every input
// argument points at the step's declared *ConsumptionConfig. Dangling
// references are reported as validation issues.
func FromPayload(payload Payload, workspace domain.Workspace) (domain.Pipeline, error) {
	issues := &ValidationError{}

	params := make(map[string]*domain.PipelineParameter, len(payload.Parameters))
	for i, pp := range payload.Parameters {
		name := strings.TrimSpace(pp.Name)
		if pp.Type != "" && pp.Type != parameterTypeDataset {
			issues.Add(fmt.Sprintf("parameter[%d] unsupported type %q", i, pp.Type))
			continue
		}
		if _, exists := params[name]; exists {
			issues.Add(fmt.Sprintf("duplicate parameter name %q", name))
			continue
		}
		param, err := domain.NewDatasetParameter(name, domain.Dataset{
			ID:      pp.Default.ID,
			Name:    pp.Default.Name,
			Version: pp.Default.Version,
		})
		if err != nil {
			issues.Add(fmt.Sprintf("parameter[%d]: %v", i, err))
			continue
		}
		params[name] = param
	}

	used := make(map[string]struct{}, len(params))
	steps := make([]*domain.ScriptStep, 0, len(payload.Steps))
	for i, sp := range payload.Steps {
		label := strings.TrimSpace(sp.Name)
		if label == "" {
			label = fmt.Sprintf("%d", i)
		}
		if sp.Kind != "" && sp.Kind != stepKindScript {
			issues.Add(fmt.Sprintf("step[%s] unsupported kind %q", label, sp.Kind))
			continue
		}

		inputs := make([]*domain.ConsumptionConfig, 0, len(sp.Inputs))
		byName := make(map[string]*domain.ConsumptionConfig, len(sp.Inputs))
		for _, ip := range sp.Inputs {
			param, ok := params[strings.TrimSpace(ip.Parameter)]
			if !ok {
				issues.Add(fmt.Sprintf("step[%s] input %q references unknown parameter %q", label, ip.Name, ip.Parameter))
				continue
			}
			used[param.Name()] = struct{}{}
			in := domain.NewConsumption(ip.Name, param).WithMode(domain.AccessMode(strings.TrimSpace(ip.Mode)))
			inputs = append(inputs, in)
			byName[in.Name] = in
		}

		args := make([]domain.StepArgument, 0, len(sp.Arguments))
		for j, ap := range sp.Arguments {
			switch ap.Type {
			case argumentTypeLiteral:
				args = append(args, domain.Literal(ap.Value))
			case argumentTypeInput:
				in, ok := byName[strings.TrimSpace(ap.Input)]
				if !ok {
					issues.Add(fmt.Sprintf("step[%s] argument[%d] references input %q that is not declared in the step inputs", label, j, ap.Input))
					continue
				}
				args = append(args, domain.InputArgument(in))
			default:
				issues.Add(fmt.Sprintf("step[%s] argument[%d] unsupported type %q", label, j, ap.Type))
			}
		}

		env := sp.RunConfiguration.Environment
		step := &domain.ScriptStep{
			Name:            strings.TrimSpace(sp.Name),
			SourceDirectory: sp.SourceDirectory,
			ScriptName:      sp.ScriptName,
			Arguments:       args,
			Inputs:          inputs,
			RunConfig: domain.RunConfiguration{Environment: domain.Environment{
				ID:      env.ID,
				Name:    env.Name,
				Version: env.Version,
				Image:   env.Image,
			}},
			ComputeTarget: sp.ComputeTarget,
			AllowReuse:    sp.AllowReuse,
		}
		if sp.Snapshot != nil {
			step.Snapshot = &domain.SourceSnapshot{
				ObjectKey: sp.Snapshot.ObjectKey,
				SHA256:    sp.Snapshot.SHA256,
				SizeBytes: sp.Snapshot.SizeBytes,
			}
		}
		steps = append(steps, step)
	}
	for _, pp := range payload.Parameters {
		name := strings.TrimSpace(pp.Name)
		if _, ok := params[name]; !ok {
			continue
		}
		if _, ok := used[name]; !ok {
			issues.Add(fmt.Sprintf("parameter %q is not consumed by any step", name))
		}
	}

	if err := issues.OrNil(); err != nil {
		return domain.Pipeline{}, err
	}
	return domain.Pipeline{Workspace: workspace, Steps: steps}, nil
}
