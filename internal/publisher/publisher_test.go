package publisher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/animus-labs/animus-pipelines/internal/controlplane"
	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/pipeline"
	"github.com/animus-labs/animus-pipelines/internal/snapshot"
)

type fakeControlPlane struct {
	datasets     map[string]domain.Dataset
	environments map[string]domain.Environment
	computes     map[string]domain.ComputeTarget
	validateErr  error
	publishErr   error
	publishedID  string

	calls     []string
	validated []domain.Pipeline
	published []domain.Pipeline
	opts      []controlplane.PublishOptions
}

func newFake() *fakeControlPlane {
	return &fakeControlPlane{
		datasets: map[string]domain.Dataset{
			"german-credit-train-tutorial": {ID: "ds-41", Name: "german-credit-train-tutorial", Version: 3},
		},
		environments: map[string]domain.Environment{
			"workshop-env": {ID: "env-7", Name: "workshop-env", Version: "2"},
		},
		computes: map[string]domain.ComputeTarget{
			"cpu-cluster": {Name: "cpu-cluster", Kind: "amlcompute", State: "Succeeded"},
		},
		publishedID: "3f1c9a2e-8d7b-4c1a-9e7e-2b9d5d1f0a11",
	}
}

func (f *fakeControlPlane) Connect(context.Context) (domain.Workspace, error) {
	f.calls = append(f.calls, "connect")
	return domain.Workspace{Name: "mlops-ws", Region: "westeurope", SubscriptionID: "sub-1", ResourceGroup: "rg-1"}, nil
}

func (f *fakeControlPlane) GetDataset(_ context.Context, name string) (domain.Dataset, error) {
	f.calls = append(f.calls, "dataset")
	ds, ok := f.datasets[name]
	if !ok {
		return domain.Dataset{}, &controlplane.NotFoundError{Kind: controlplane.KindDataset, Name: name, Workspace: "mlops-ws"}
	}
	return ds, nil
}

func (f *fakeControlPlane) GetEnvironment(_ context.Context, name string) (domain.Environment, error) {
	f.calls = append(f.calls, "environment")
	e, ok := f.environments[name]
	if !ok {
		return domain.Environment{}, &controlplane.NotFoundError{Kind: controlplane.KindEnvironment, Name: name, Workspace: "mlops-ws"}
	}
	return e, nil
}

func (f *fakeControlPlane) GetComputeTarget(_ context.Context, name string) (domain.ComputeTarget, error) {
	f.calls = append(f.calls, "compute")
	c, ok := f.computes[name]
	if !ok {
		return domain.ComputeTarget{}, &controlplane.NotFoundError{Kind: controlplane.KindComputeTarget, Name: name, Workspace: "mlops-ws"}
	}
	return c, nil
}

func (f *fakeControlPlane) ValidatePipeline(_ context.Context, p domain.Pipeline) error {
	f.calls = append(f.calls, "validate")
	f.validated = append(f.validated, p)
	return f.validateErr
}

func (f *fakeControlPlane) PublishPipeline(_ context.Context, p domain.Pipeline, opts controlplane.PublishOptions) (domain.PublishedPipeline, error) {
	f.calls = append(f.calls, "publish")
	f.published = append(f.published, p)
	f.opts = append(f.opts, opts)
	if f.publishErr != nil {
		return domain.PublishedPipeline{}, f.publishErr
	}
	return domain.PublishedPipeline{ID: f.publishedID, Name: opts.Name, Version: 1}, nil
}

type fakeUploader struct {
	archives []*snapshot.Archive
}

func (u *fakeUploader) Upload(_ context.Context, archive *snapshot.Archive) (domain.SourceSnapshot, error) {
	u.archives = append(u.archives, archive)
	return domain.SourceSnapshot{ObjectKey: "snapshots/" + archive.SHA256 + ".tar.gz", SHA256: archive.SHA256, SizeBytes: archive.Size()}, nil
}

func sourceRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "pipelines-single-training-step")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "train.py"), []byte("print('train')\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return root
}

var ciLine = regexp.MustCompile(`^##vso\[task\.setvariable variable=pipeline_id\](.+)$`)

func ciLines(out string) []string {
	var ids []string
	for _, line := range strings.Split(out, "\n") {
		if m := ciLine.FindStringSubmatch(line); m != nil {
			ids = append(ids, m[1])
		}
	}
	return ids
}

func TestRunPublishesSingleStepWithoutReuse(t *testing.T) {
	fake := newFake()
	var out bytes.Buffer
	pub := &Publisher{Client: fake, Out: &out, SourceRoot: sourceRoot(t)}

	published, err := pub.Run(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fake.published) != 1 {
		t.Fatalf("publish calls=%d, want 1", len(fake.published))
	}
	p := fake.published[0]
	if len(p.Steps) != 1 {
		t.Fatalf("steps=%d, want 1", len(p.Steps))
	}
	step := p.Steps[0]
	if step.AllowReuse {
		t.Fatalf("reuse must be disabled by default")
	}
	if step.Name != "train-step" || step.ScriptName != "train.py" || step.ComputeTarget != "cpu-cluster" {
		t.Fatalf("unexpected step: %+v", step)
	}
	if step.RunConfig.Environment.ID != "env-7" {
		t.Fatalf("run configuration environment=%+v", step.RunConfig.Environment)
	}
	if fake.opts[0].Name != "training-pipeline" {
		t.Fatalf("published under %q", fake.opts[0].Name)
	}
	if published.ID != fake.publishedID {
		t.Fatalf("published id=%q", published.ID)
	}
	want := []string{"connect", "dataset", "environment", "compute", "validate", "publish"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v, want %v", fake.calls, want)
	}
}

func TestRunBindingIdentity(t *testing.T) {
	fake := newFake()
	pub := &Publisher{Client: fake, Out: &bytes.Buffer{}, SourceRoot: sourceRoot(t)}
	if _, err := pub.Run(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	step := fake.published[0].Steps[0]
	if len(step.Inputs) != 1 || len(step.Arguments) != 2 {
		t.Fatalf("inputs=%d arguments=%d", len(step.Inputs), len(step.Arguments))
	}
	if step.Arguments[0].Literal != "--data-path" {
		t.Fatalf("first argument=%+v", step.Arguments[0])
	}
	bound := step.Arguments[1].Input
	if bound != step.Inputs[0] {
		t.Fatalf("argument binding and declared input differ")
	}
	if bound.Parameter != fake.published[0].Parameters()[0] {
		t.Fatalf("binding parameter is not the pipeline parameter")
	}
	if bound.Mode != domain.AccessModeDownload || bound.Parameter.Name() != "training_dataset" {
		t.Fatalf("unexpected binding: %+v", bound)
	}
	if bound.Parameter.Default().ID != "ds-41" {
		t.Fatalf("parameter default=%+v", bound.Parameter.Default())
	}
}

func TestRunMissingDatasetStopsBeforePublish(t *testing.T) {
	fake := newFake()
	delete(fake.datasets, "german-credit-train-tutorial")
	var out bytes.Buffer
	pub := &Publisher{Client: fake, Out: &out, SourceRoot: sourceRoot(t)}

	_, err := pub.Run(context.Background(), DefaultConfig())
	if !errors.Is(err, controlplane.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	want := []string{"connect", "dataset"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v, want %v", fake.calls, want)
	}
	if ids := ciLines(out.String()); len(ids) != 0 {
		t.Fatalf("CI line printed on failure: %v", ids)
	}
}

func TestRunValidationFailureSkipsPublish(t *testing.T) {
	fake := newFake()
	fake.validateErr = &pipeline.ValidationError{Issues: []string{"compute quota exhausted"}}
	var out bytes.Buffer
	pub := &Publisher{Client: fake, Out: &out, SourceRoot: sourceRoot(t)}

	_, err := pub.Run(context.Background(), DefaultConfig())
	if !pipeline.IsValidationError(err) {
		t.Fatalf("err=%v, want validation error", err)
	}
	if len(fake.published) != 0 {
		t.Fatalf("publish called after failed validation")
	}
	if ids := ciLines(out.String()); len(ids) != 0 {
		t.Fatalf("CI line printed on failure: %v", ids)
	}
}

func TestRunMissingScriptFailsLocally(t *testing.T) {
	fake := newFake()
	pub := &Publisher{Client: fake, Out: &bytes.Buffer{}, SourceRoot: t.TempDir()}
	_, err := pub.Run(context.Background(), DefaultConfig())
	if !pipeline.IsValidationError(err) {
		t.Fatalf("err=%v, want validation error", err)
	}
	if len(fake.validated) != 0 || len(fake.published) != 0 {
		t.Fatalf("remote calls made after local source check failed: %v", fake.calls)
	}
}

func TestRunUnprovisionedCompute(t *testing.T) {
	fake := newFake()
	fake.computes["cpu-cluster"] = domain.ComputeTarget{Name: "cpu-cluster", State: "Creating"}
	pub := &Publisher{Client: fake, Out: &bytes.Buffer{}, SourceRoot: sourceRoot(t)}
	if _, err := pub.Run(context.Background(), DefaultConfig()); err == nil || !strings.Contains(err.Error(), "not provisioned") {
		t.Fatalf("err=%v, want not provisioned", err)
	}
	if len(fake.published) != 0 {
		t.Fatalf("publish called with unprovisioned compute")
	}
}

func TestRunPublishFailurePropagates(t *testing.T) {
	fake := newFake()
	fake.publishErr = &controlplane.RemoteError{Method: "POST", Path: "/v1/workspaces/mlops-ws/pipelines", Status: 403, Code: "forbidden"}
	var out bytes.Buffer
	pub := &Publisher{Client: fake, Out: &out, SourceRoot: sourceRoot(t)}

	_, err := pub.Run(context.Background(), DefaultConfig())
	var rerr *controlplane.RemoteError
	if !errors.As(err, &rerr) || rerr.Status != 403 {
		t.Fatalf("err=%v, want remote 403", err)
	}
	if !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("remote diagnostic lost: %v", err)
	}
	if ids := ciLines(out.String()); len(ids) != 0 {
		t.Fatalf("CI line printed on failure: %v", ids)
	}
}

func TestRunEndToEndOutput(t *testing.T) {
	fake := newFake()
	var out bytes.Buffer
	pub := &Publisher{Client: fake, Out: &out, SourceRoot: sourceRoot(t), SDKVersion: "9.9.9"}
	if _, err := pub.Run(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ids := ciLines(out.String())
	if len(ids) != 1 || ids[0] != fake.publishedID {
		t.Fatalf("CI lines=%v, want exactly [%s]", ids, fake.publishedID)
	}
	for _, want := range []string{"SDK version: 9.9.9", "WS name: mlops-ws", "Region: westeurope", "Subscription id: sub-1", "Resource group: rg-1"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
	if !strings.HasSuffix(out.String(), "##vso[task.setvariable variable=pipeline_id]"+fake.publishedID+"\n") {
		t.Fatalf("CI line is not the last line:\n%s", out.String())
	}
}

func TestRunConfiguredReuseAndMount(t *testing.T) {
	fake := newFake()
	cfg := DefaultConfig()
	cfg.AllowReuse = true
	cfg.AccessMode = domain.AccessModeMount
	pub := &Publisher{Client: fake, Out: &bytes.Buffer{}, SourceRoot: sourceRoot(t)}
	if _, err := pub.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	step := fake.published[0].Steps[0]
	if !step.AllowReuse || step.Inputs[0].Mode != domain.AccessModeMount {
		t.Fatalf("configuration not applied: reuse=%v mode=%s", step.AllowReuse, step.Inputs[0].Mode)
	}
}

func TestRunAttachesSnapshot(t *testing.T) {
	fake := newFake()
	up := &fakeUploader{}
	pub := &Publisher{Client: fake, Snapshots: up, Out: &bytes.Buffer{}, SourceRoot: sourceRoot(t)}
	if _, err := pub.Run(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(up.archives) != 1 || up.archives[0].Files != 1 {
		t.Fatalf("unexpected uploads: %+v", up.archives)
	}
	snap := fake.published[0].Steps[0].Snapshot
	if snap == nil || snap.SHA256 != up.archives[0].SHA256 {
		t.Fatalf("snapshot not attached: %+v", snap)
	}
	if fake.validated[0].Steps[0] != fake.published[0].Steps[0] {
		t.Fatalf("published a different step than was validated")
	}
}

func TestRunInvalidConfig(t *testing.T) {
	fake := newFake()
	cfg := DefaultConfig()
	cfg.DatasetName = ""
	pub := &Publisher{Client: fake, Out: &bytes.Buffer{}}
	if _, err := pub.Run(context.Background(), cfg); err == nil {
		t.Fatalf("expected config error")
	}
	if len(fake.calls) != 0 {
		t.Fatalf("remote calls made with invalid config: %v", fake.calls)
	}
}

func TestRunReservedOutputVariableFailsBeforeConnect(t *testing.T) {
	fake := newFake()
	cfg := DefaultConfig()
	cfg.OutputVariable = "pipeline;id"
	var out bytes.Buffer
	pub := &Publisher{Client: fake, Out: &out, SourceRoot: sourceRoot(t)}
	if _, err := pub.Run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "output_variable") {
		t.Fatalf("err=%v, want output_variable config error", err)
	}
	if len(fake.calls) != 0 || len(fake.published) != 0 {
		t.Fatalf("remote calls made with invalid output variable: %v", fake.calls)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output: %q", out.String())
	}
}
