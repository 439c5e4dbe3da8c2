package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/domain"
)

// Validate performs strict structural validation of a pipeline graph and
// reports every issue found rather than stopping at the first.
func Validate(p domain.Pipeline) error {
	issues := &ValidationError{}

	if strings.TrimSpace(p.Workspace.Name) == "" {
		issues.Add("workspace is required")
	}
	if len(p.Steps) == 0 {
		issues.Add("pipeline must contain at least one step")
		return issues.OrNil()
	}

	paramNames := make(map[string]*domain.PipelineParameter)
	stepNames := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		if step == nil {
			issues.Add(fmt.Sprintf("step[%d] is nil", i))
			continue
		}
		name := strings.TrimSpace(step.Name)
		if name == "" {
			issues.Add(fmt.Sprintf("step[%d] name is required", i))
			name = fmt.Sprintf("%d", i)
		} else {
			if _, exists := stepNames[name]; exists {
				issues.Add(fmt.Sprintf("duplicate step name %q", name))
			}
			stepNames[name] = struct{}{}
		}
		validateStep(issues, name, step, paramNames)
	}

	return issues.OrNil()
}

func validateStep(issues *ValidationError, name string, step *domain.ScriptStep, paramNames map[string]*domain.PipelineParameter) {
	if strings.TrimSpace(step.SourceDirectory) == "" {
		issues.Add(fmt.Sprintf("step[%s] source directory is required", name))
	}
	script := strings.TrimSpace(step.ScriptName)
	switch {
	case script == "":
		issues.Add(fmt.Sprintf("step[%s] script name is required", name))
	case !filepath.IsLocal(filepath.FromSlash(script)):
		issues.Add(fmt.Sprintf("step[%s] script %q must be a relative path inside the source directory", name, script))
	}
	if strings.TrimSpace(step.ComputeTarget) == "" {
		issues.Add(fmt.Sprintf("step[%s] compute target is required", name))
	}
	if strings.TrimSpace(step.RunConfig.Environment.Name) == "" {
		issues.Add(fmt.Sprintf("step[%s] run configuration environment is required", name))
	}

	declared := make(map[*domain.ConsumptionConfig]struct{}, len(step.Inputs))
	inputNames := make(map[string]struct{}, len(step.Inputs))
	for i, in := range step.Inputs {
		if in == nil {
			issues.Add(fmt.Sprintf("step[%s] input[%d] is nil", name, i))
			continue
		}
		declared[in] = struct{}{}
		inputName := strings.TrimSpace(in.Name)
		if inputName == "" {
			issues.Add(fmt.Sprintf("step[%s] input[%d] name is required", name, i))
		} else {
			if _, exists := inputNames[inputName]; exists {
				issues.Add(fmt.Sprintf("step[%s] duplicate input name %q", name, inputName))
			}
			inputNames[inputName] = struct{}{}
		}
		if !in.Mode.Valid() {
			issues.Add(fmt.Sprintf("step[%s] input %q has invalid access mode %q", name, inputName, in.Mode))
		}
		validateParameter(issues, name, inputName, in.Parameter, paramNames)
	}

	for i, arg := range step.Arguments {
		if !arg.IsInput() {
			continue
		}
		if _, ok := declared[arg.Input]; !ok {
			issues.Add(fmt.Sprintf("step[%s] argument[%d] references input %q that is not declared in the step inputs", name, i, arg.Input.Name))
		}
	}
}

func validateParameter(issues *ValidationError, step, input string, param *domain.PipelineParameter, paramNames map[string]*domain.PipelineParameter) {
	if param == nil {
		issues.Add(fmt.Sprintf("step[%s] input %q is not bound to a parameter", step, input))
		return
	}
	paramName := param.Name()
	if paramName == "" {
		issues.Add(fmt.Sprintf("step[%s] input %q parameter name is required", step, input))
		return
	}
	if strings.TrimSpace(param.Default().ID) == "" {
		issues.Add(fmt.Sprintf("parameter %q default dataset is unresolved", paramName))
	}
	if existing, ok := paramNames[paramName]; ok && existing != param {
		issues.Add(fmt.Sprintf("parameter name %q is bound to two different parameters", paramName))
		return
	}
	paramNames[paramName] = param
}

// CheckSources verifies that every step's source directory exists and holds
// its script. Relative source directories resolve against root.
func CheckSources(p domain.Pipeline, root string) error {
	issues := &ValidationError{}
	for _, step := range p.Steps {
		if step == nil {
			continue
		}
		dir := ResolveSourceDirectory(root, step.SourceDirectory)
		info, err := os.Stat(dir)
		if err != nil {
			issues.Add(fmt.Sprintf("step[%s] source directory %q: %v", step.Name, step.SourceDirectory, err))
			continue
		}
		if !info.IsDir() {
			issues.Add(fmt.Sprintf("step[%s] source directory %q is not a directory", step.Name, step.SourceDirectory))
			continue
		}
		script := filepath.Join(dir, filepath.FromSlash(step.ScriptName))
		info, err = os.Stat(script)
		if err != nil {
			issues.Add(fmt.Sprintf("step[%s] script %q not found in %q", step.Name, step.ScriptName, step.SourceDirectory))
			continue
		}
		if info.IsDir() {
			issues.Add(fmt.Sprintf("step[%s] script %q is a directory", step.Name, step.ScriptName))
		}
	}
	return issues.OrNil()
}

func ResolveSourceDirectory(root, dir string) string {
	dir = filepath.FromSlash(strings.TrimSpace(dir))
	if filepath.IsAbs(dir) || root == "" {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, dir)
}
