package publisher

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-pipelines/internal/cdvar"
	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/platform/env"
)

const DefinitionSchemaV1 = "animus.publish.v1"

// Config names every remote resource and local path a publish run uses.
type Config struct {
	Schema          string            `yaml:"schema,omitempty"`
	DatasetName     string            `yaml:"dataset"`
	ParameterName   string            `yaml:"parameter"`
	AccessMode      domain.AccessMode `yaml:"access_mode"`
	EnvironmentName string            `yaml:"environment"`
	ComputeTarget   string            `yaml:"compute_target"`
	SourceDirectory string            `yaml:"source_directory"`
	ScriptName      string            `yaml:"script_name"`
	DataPathFlag    string            `yaml:"data_path_flag"`
	StepName        string            `yaml:"step_name"`
	PipelineName    string            `yaml:"pipeline_name"`
	Description     string            `yaml:"description,omitempty"`
	AllowReuse      bool              `yaml:"allow_reuse"`
	OutputVariable  string            `yaml:"output_variable"`
}

func DefaultConfig() Config {
	return Config{
		DatasetName:     "german-credit-train-tutorial",
		ParameterName:   "training_dataset",
		AccessMode:      domain.AccessModeDownload,
		EnvironmentName: "workshop-env",
		ComputeTarget:   "cpu-cluster",
		SourceDirectory: "pipelines-single-training-step/",
		ScriptName:      "train.py",
		DataPathFlag:    "--data-path",
		StepName:        "train-step",
		PipelineName:    "training-pipeline",
		AllowReuse:      false,
		OutputVariable:  "pipeline_id",
	}
}

// ParseDefinition overlays a YAML publish definition on base. Keys absent
// from the document keep their base value; unknown keys are rejected.
func ParseDefinition(input []byte, base Config) (Config, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(input))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode definition: %w", err)
	}
	if schema := strings.TrimSpace(cfg.Schema); schema != "" && schema != DefinitionSchemaV1 {
		return Config{}, fmt.Errorf("definition.schema must be %q", DefinitionSchemaV1)
	}
	return cfg, nil
}

func LoadDefinition(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read definition: %w", err)
	}
	cfg, err := ParseDefinition(data, base)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays PUBLISH_* environment variables on cfg.
func ApplyEnv(cfg Config) (Config, error) {
	cfg.DatasetName = env.String("PUBLISH_DATASET", cfg.DatasetName)
	cfg.ParameterName = env.String("PUBLISH_PARAMETER", cfg.ParameterName)
	cfg.EnvironmentName = env.String("PUBLISH_ENVIRONMENT", cfg.EnvironmentName)
	cfg.ComputeTarget = env.String("PUBLISH_COMPUTE_TARGET", cfg.ComputeTarget)
	cfg.SourceDirectory = env.String("PUBLISH_SOURCE_DIRECTORY", cfg.SourceDirectory)
	cfg.ScriptName = env.String("PUBLISH_SCRIPT_NAME", cfg.ScriptName)
	cfg.DataPathFlag = env.String("PUBLISH_DATA_PATH_FLAG", cfg.DataPathFlag)
	cfg.StepName = env.String("PUBLISH_STEP_NAME", cfg.StepName)
	cfg.PipelineName = env.String("PUBLISH_PIPELINE_NAME", cfg.PipelineName)
	cfg.Description = env.String("PUBLISH_DESCRIPTION", cfg.Description)
	cfg.OutputVariable = env.String("PUBLISH_OUTPUT_VARIABLE", cfg.OutputVariable)
	if raw, ok := env.Lookup("PUBLISH_ACCESS_MODE"); ok {
		mode, err := domain.ParseAccessMode(raw)
		if err != nil {
			return Config{}, fmt.Errorf("PUBLISH_ACCESS_MODE: %w", err)
		}
		cfg.AccessMode = mode
	}
	reuse, err := env.Bool("PUBLISH_ALLOW_REUSE", cfg.AllowReuse)
	if err != nil {
		return Config{}, fmt.Errorf("PUBLISH_ALLOW_REUSE: %w", err)
	}
	cfg.AllowReuse = reuse
	return cfg, nil
}

func (c Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"dataset", c.DatasetName},
		{"parameter", c.ParameterName},
		{"environment", c.EnvironmentName},
		{"compute_target", c.ComputeTarget},
		{"source_directory", c.SourceDirectory},
		{"script_name", c.ScriptName},
		{"step_name", c.StepName},
		{"pipeline_name", c.PipelineName},
		{"output_variable", c.OutputVariable},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("publish config: %s required", strings.Join(missing, ", "))
	}
	if _, err := domain.ParseAccessMode(string(c.AccessMode)); err != nil {
		return fmt.Errorf("publish config: %w", err)
	}
	if err := cdvar.ValidName(c.OutputVariable); err != nil {
		return fmt.Errorf("publish config: output_variable: %w", err)
	}
	return nil
}
