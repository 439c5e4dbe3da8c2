package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/animus-labs/animus-pipelines/internal/workspace"
)

type registryStub struct {
	mu        sync.Mutex
	datasets  map[string]bool
	publishes int
	paths     []string
}

func (s *registryStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, r.Method+" "+r.URL.Path)

	write := func(status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/workspaces/mlops-ws":
		write(http.StatusOK, map[string]any{"name": "mlops-ws", "region": "westeurope", "subscription_id": "sub-1", "resource_group": "rg-1"})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/workspaces/mlops-ws/datasets/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/workspaces/mlops-ws/datasets/")
		if !s.datasets[name] {
			write(http.StatusNotFound, map[string]any{"error": "not_found"})
			return
		}
		write(http.StatusOK, map[string]any{"dataset_id": "ds-1", "name": name, "version": 1})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/workspaces/mlops-ws/environments/"):
		write(http.StatusOK, map[string]any{"environment_id": "env-1", "name": "workshop-env", "version": "1"})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/workspaces/mlops-ws/computes/"):
		write(http.StatusOK, map[string]any{"name": "cpu-cluster", "kind": "cluster", "state": "succeeded"})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/workspaces/mlops-ws/pipelines/validate":
		write(http.StatusOK, map[string]any{"valid": true})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/workspaces/mlops-ws/pipelines":
		s.publishes++
		write(http.StatusCreated, map[string]any{"pipeline_id": "0b6f3c9e-1d2a-4f5b-8c7d-9e0f1a2b3c4d", "name": "training-pipeline", "version": s.publishes})
	default:
		write(http.StatusNotFound, map[string]any{"error": "not_found"})
	}
}

func setupWorkspace(t *testing.T, endpoint string) (string, string) {
	t.Helper()
	for _, key := range []string{
		"ANIMUS_WORKSPACE_CONFIG", "ANIMUS_SUBSCRIPTION_ID", "ANIMUS_RESOURCE_GROUP", "ANIMUS_WORKSPACE_NAME",
		"ANIMUS_REGION", "ANIMUS_ENDPOINT", "ANIMUS_TOKEN", "ANIMUS_CLIENT_ID", "ANIMUS_CLIENT_SECRET",
		"ANIMUS_SNAPSHOT_ENDPOINT", "PUBLISH_DATASET", "PUBLISH_ACCESS_MODE", "PUBLISH_ALLOW_REUSE",
	} {
		t.Setenv(key, "")
	}
	root := t.TempDir()
	config := filepath.Join(root, "config.json")
	body := `{
  // workspace used by the deployment job
  "subscription_id": "sub-1",
  "resource_group": "rg-1",
  "workspace_name": "mlops-ws",
  "endpoint": "` + endpoint + `",
}`
	if err := os.WriteFile(config, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	src := filepath.Join(root, "pipelines-single-training-step")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "train.py"), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return config, root
}

func TestRunEndToEnd(t *testing.T) {
	stub := &registryStub{datasets: map[string]bool{"german-credit-train-tutorial": true}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	config, root := setupWorkspace(t, srv.URL)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--workspace-config", config, "--source-root", root, "--log-level", "debug"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr.String())
	}
	var ci []string
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if strings.HasPrefix(line, "##vso[") {
			ci = append(ci, line)
		}
	}
	want := "##vso[task.setvariable variable=pipeline_id]0b6f3c9e-1d2a-4f5b-8c7d-9e0f1a2b3c4d"
	if len(ci) != 1 || ci[0] != want {
		t.Fatalf("CI lines=%v, want [%s]", ci, want)
	}
	if !strings.Contains(stdout.String(), "WS name: mlops-ws") {
		t.Fatalf("diagnostics missing:\n%s", stdout.String())
	}
	if strings.Contains(stderr.String(), "##vso[") {
		t.Fatalf("CI line leaked to stderr")
	}
}

func TestRunMissingDatasetNeverPublishes(t *testing.T) {
	stub := &registryStub{datasets: map[string]bool{}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	config, root := setupWorkspace(t, srv.URL)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--workspace-config", config, "--source-root", root}, &stdout, &stderr)
	if err == nil {
		t.Fatalf("expected failure for missing dataset")
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		t.Fatalf("missing dataset reported as usage error (exit %d)", coder.ExitCode())
	}
	if stub.publishes != 0 {
		t.Fatalf("publish attempted %d times", stub.publishes)
	}
	if strings.Contains(stdout.String(), "##vso[") {
		t.Fatalf("CI line printed on failure:\n%s", stdout.String())
	}
}

func TestRunFlagsOverrideDefinition(t *testing.T) {
	stub := &registryStub{datasets: map[string]bool{"credit-flag": true}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	config, root := setupWorkspace(t, srv.URL)

	definition := filepath.Join(root, "publish.yaml")
	if err := os.WriteFile(definition, []byte("dataset: credit-file\n"), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	var stdout, stderr bytes.Buffer
	err := run([]string{"--workspace-config", config, "--source-root", root, "--definition", definition, "--dataset", "credit-flag"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v\nstderr:\n%s", err, stderr.String())
	}
	found := false
	for _, p := range stub.paths {
		if p == "GET /v1/workspaces/mlops-ws/datasets/credit-flag" {
			found = true
		}
	}
	if !found {
		t.Fatalf("flag dataset not used: %v", stub.paths)
	}
}

func TestRunUsageErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string][]string{
		"unknown flag":    {"--no-such-flag"},
		"bad access mode": {"--access-mode", "stream"},
		"bad log level":   {"--log-level", "loud"},
		"missing config":  {"--workspace-config", filepath.Join(dir, "absent.json")},
		"reserved output": {"--output-variable", "pipeline;id"},
	}
	for name, args := range cases {
		var stdout, stderr bytes.Buffer
		err := run(args, &stdout, &stderr)
		var coder interface{ ExitCode() int }
		if !errors.As(err, &coder) || coder.ExitCode() != 2 {
			t.Fatalf("%s: err=%v, want exit code 2", name, err)
		}
	}

	var stdout, stderr bytes.Buffer
	err := run([]string{"--workspace-config", filepath.Join(dir, "absent.json")}, &stdout, &stderr)
	if !errors.Is(err, workspace.ErrConfigNotFound) {
		t.Fatalf("err=%v, want ErrConfigNotFound", err)
	}
}
