package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/pipeline"
	"github.com/animus-labs/animus-pipelines/internal/platform/auditlog"
	"github.com/animus-labs/animus-pipelines/internal/repo"
)

var errInvalidInput = errors.New("invalid input")

func invalidInput(err error) error {
	return fmt.Errorf("%w: %v", errInvalidInput, err)
}

type auditContext struct {
	Actor     string
	RequestID string
	IP        net.IP
	UserAgent string
	Path      string
	Service   string
}

type stores struct {
	Workspaces   repo.WorkspaceRepository
	Datasets     repo.DatasetRepository
	Environments repo.EnvironmentRepository
	Computes     repo.ComputeRepository
	Pipelines    repo.PipelineRepository
}

type registryService struct {
	stores
	logger    *slog.Logger
	audit     auditlog.Sink
	publicURL string
	now       func() time.Time
}

func newRegistryService(logger *slog.Logger, s stores, audit auditlog.Sink, publicURL string) *registryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &registryService{
		stores:    s,
		logger:    logger,
		audit:     audit,
		publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/"),
		now:       time.Now,
	}
}

func (s *registryService) CreateWorkspace(ctx context.Context, ws domain.Workspace, auditCtx auditContext) (repo.WorkspaceRecord, error) {
	record := repo.WorkspaceRecord{
		Workspace: domain.Workspace{
			Name:           strings.TrimSpace(ws.Name),
			Region:         strings.TrimSpace(ws.Region),
			SubscriptionID: strings.TrimSpace(ws.SubscriptionID),
			ResourceGroup:  strings.TrimSpace(ws.ResourceGroup),
		},
		CreatedAt: storedTime(s.now()),
		CreatedBy: auditCtx.Actor,
	}
	if err := record.Validate(); err != nil {
		return repo.WorkspaceRecord{}, invalidInput(err)
	}
	if err := s.Workspaces.Create(ctx, record); err != nil {
		return repo.WorkspaceRecord{}, err
	}
	s.record(ctx, auditCtx, "workspace.create", "workspace", record.Name, map[string]any{
		"region":          record.Region,
		"subscription_id": record.SubscriptionID,
		"resource_group":  record.ResourceGroup,
	})
	return record, nil
}

func (s *registryService) GetWorkspace(ctx context.Context, name string) (repo.WorkspaceRecord, error) {
	return s.Workspaces.Get(ctx, strings.TrimSpace(name))
}

func (s *registryService) RegisterDataset(ctx context.Context, workspace, name, storageURI, description string, auditCtx auditContext) (repo.DatasetRecord, error) {
	if strings.TrimSpace(name) == "" {
		return repo.DatasetRecord{}, invalidInput(errors.New("dataset name is required"))
	}
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.DatasetRecord{}, err
	}
	ds, err := s.Datasets.Register(ctx, repo.DatasetRecord{
		Dataset:     domain.Dataset{Name: strings.TrimSpace(name), StorageURI: strings.TrimSpace(storageURI)},
		Workspace:   strings.TrimSpace(workspace),
		Description: strings.TrimSpace(description),
		CreatedAt:   storedTime(s.now()),
		CreatedBy:   auditCtx.Actor,
	})
	if err != nil {
		return repo.DatasetRecord{}, err
	}
	s.record(ctx, auditCtx, "dataset.register", "dataset", ds.ID, map[string]any{
		"workspace": ds.Workspace,
		"name":      ds.Name,
		"version":   ds.Version,
	})
	return ds, nil
}

func (s *registryService) GetDataset(ctx context.Context, workspace, name string) (repo.DatasetRecord, error) {
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.DatasetRecord{}, err
	}
	return s.Datasets.GetLatest(ctx, strings.TrimSpace(workspace), strings.TrimSpace(name))
}

func (s *registryService) RegisterEnvironment(ctx context.Context, workspace, name, image string, auditCtx auditContext) (repo.EnvironmentRecord, error) {
	if strings.TrimSpace(name) == "" {
		return repo.EnvironmentRecord{}, invalidInput(errors.New("environment name is required"))
	}
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.EnvironmentRecord{}, err
	}
	env, err := s.Environments.Register(ctx, repo.EnvironmentRecord{
		Environment: domain.Environment{Name: strings.TrimSpace(name), Image: strings.TrimSpace(image)},
		Workspace:   strings.TrimSpace(workspace),
		CreatedAt:   storedTime(s.now()),
		CreatedBy:   auditCtx.Actor,
	})
	if err != nil {
		return repo.EnvironmentRecord{}, err
	}
	s.record(ctx, auditCtx, "environment.register", "environment", env.ID, map[string]any{
		"workspace": env.Workspace,
		"name":      env.Name,
		"version":   env.Version,
	})
	return env, nil
}

func (s *registryService) GetEnvironment(ctx context.Context, workspace, name string) (repo.EnvironmentRecord, error) {
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.EnvironmentRecord{}, err
	}
	return s.Environments.GetLatest(ctx, strings.TrimSpace(workspace), strings.TrimSpace(name))
}

func (s *registryService) UpsertCompute(ctx context.Context, workspace, name, kind, state string, auditCtx auditContext) (repo.ComputeRecord, error) {
	if strings.TrimSpace(name) == "" {
		return repo.ComputeRecord{}, invalidInput(errors.New("compute target name is required"))
	}
	if strings.TrimSpace(state) == "" {
		return repo.ComputeRecord{}, invalidInput(errors.New("compute state is required"))
	}
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.ComputeRecord{}, err
	}
	c, err := s.Computes.Upsert(ctx, repo.ComputeRecord{
		ComputeTarget: domain.ComputeTarget{Name: strings.TrimSpace(name), Kind: strings.TrimSpace(kind), State: state},
		Workspace:     strings.TrimSpace(workspace),
		UpdatedAt:     storedTime(s.now()),
		UpdatedBy:     auditCtx.Actor,
	})
	if err != nil {
		return repo.ComputeRecord{}, err
	}
	s.record(ctx, auditCtx, "compute.upsert", "compute", c.Workspace+"/"+c.Name, map[string]any{
		"kind":  c.Kind,
		"state": c.State,
	})
	return c, nil
}

func (s *registryService) GetCompute(ctx context.Context, workspace, name string) (repo.ComputeRecord, error) {
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.ComputeRecord{}, err
	}
	return s.Computes.Get(ctx, strings.TrimSpace(workspace), strings.TrimSpace(name))
}

// ValidatePipeline rebuilds the graph from its wire form, checks it
// structurally and resolves every dataset, environment and compute target it
// names. All issues are reported together as a *pipeline.ValidationError.
func (s *registryService) ValidatePipeline(ctx context.Context, workspace string, payload pipeline.Payload) (domain.Pipeline, error) {
	ws, err := s.GetWorkspace(ctx, workspace)
	if err != nil {
		return domain.Pipeline{}, err
	}

	issues := &pipeline.ValidationError{}
	if name := strings.TrimSpace(payload.Workspace); name != "" && name != ws.Name {
		issues.Add(fmt.Sprintf("pipeline targets workspace %q, request was sent to %q", name, ws.Name))
	}
	payload.Workspace = ws.Name

	p, err := pipeline.FromPayload(payload, ws.Workspace)
	if err != nil {
		issues.Merge(err)
		return domain.Pipeline{}, issues
	}
	issues.Merge(pipeline.Validate(p))

	if err := s.resolveReferences(ctx, ws.Name, p, issues); err != nil {
		return domain.Pipeline{}, err
	}
	if err := issues.OrNil(); err != nil {
		return domain.Pipeline{}, err
	}
	return p, nil
}

// resolveReferences adds an issue for each name absent from the workspace.
// Lookup failures other than not found abort validation.
func (s *registryService) resolveReferences(ctx context.Context, workspace string, p domain.Pipeline, issues *pipeline.ValidationError) error {
	for _, param := range p.Parameters() {
		def := param.Default()
		ds, err := s.Datasets.GetByID(ctx, workspace, strings.TrimSpace(def.ID))
		switch {
		case errors.Is(err, repo.ErrNotFound):
			issues.Add(fmt.Sprintf("parameter %q default dataset %q (id %s) not found", param.Name(), def.Name, def.ID))
		case err != nil:
			return fmt.Errorf("resolve dataset %s: %w", def.ID, err)
		case def.Name != "" && ds.Name != def.Name:
			issues.Add(fmt.Sprintf("parameter %q default dataset id %s belongs to %q, not %q", param.Name(), def.ID, ds.Name, def.Name))
		}
	}

	environments := make(map[string]struct{})
	computes := make(map[string]struct{})
	for _, step := range p.Steps {
		if step == nil {
			continue
		}
		envName := strings.TrimSpace(step.RunConfig.Environment.Name)
		if _, seen := environments[envName]; envName != "" && !seen {
			environments[envName] = struct{}{}
			_, err := s.Environments.GetLatest(ctx, workspace, envName)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				issues.Add(fmt.Sprintf("step[%s] environment %q not found", step.Name, envName))
			case err != nil:
				return fmt.Errorf("resolve environment %s: %w", envName, err)
			}
		}

		computeName := strings.TrimSpace(step.ComputeTarget)
		if _, seen := computes[computeName]; computeName != "" && !seen {
			computes[computeName] = struct{}{}
			c, err := s.Computes.Get(ctx, workspace, computeName)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				issues.Add(fmt.Sprintf("step[%s] compute target %q not found", step.Name, computeName))
			case err != nil:
				return fmt.Errorf("resolve compute %s: %w", computeName, err)
			case !c.Provisioned():
				issues.Add(fmt.Sprintf("step[%s] compute target %q is not provisioned (state %q)", step.Name, computeName, c.State))
			}
		}
	}
	return nil
}

func (s *registryService) PublishPipeline(ctx context.Context, workspace, name, description string, payload pipeline.Payload, auditCtx auditContext) (repo.PipelineRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repo.PipelineRecord{}, &pipeline.ValidationError{Issues: []string{"pipeline name is required"}}
	}
	p, err := s.ValidatePipeline(ctx, workspace, payload)
	if err != nil {
		return repo.PipelineRecord{}, err
	}

	definition, err := pipeline.Marshal(p)
	if err != nil {
		return repo.PipelineRecord{}, fmt.Errorf("marshal definition: %w", err)
	}

	id := uuid.NewString()
	pending := repo.PipelineRecord{
		PublishedPipeline: domain.PublishedPipeline{
			ID:          id,
			Name:        name,
			Description: strings.TrimSpace(description),
			Endpoint:    s.endpoint(p.Workspace.Name, id),
			CreatedAt:   storedTime(s.now()),
			CreatedBy:   auditCtx.Actor,
		},
		Workspace:  p.Workspace.Name,
		Definition: definition,
	}
	pending.IntegritySHA256, err = pipelineIntegrity(pending)
	if err != nil {
		return repo.PipelineRecord{}, fmt.Errorf("integrity: %w", err)
	}

	record, err := s.Pipelines.Publish(ctx, pending)
	if err != nil {
		return repo.PipelineRecord{}, err
	}

	s.record(ctx, auditCtx, "pipeline.publish", "pipeline", record.ID, map[string]any{
		"workspace":        record.Workspace,
		"name":             record.Name,
		"version":          record.Version,
		"steps":            len(p.Steps),
		"integrity_sha256": record.IntegritySHA256,
	})
	return record, nil
}

func (s *registryService) GetPipeline(ctx context.Context, workspace, id string) (repo.PipelineRecord, error) {
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return repo.PipelineRecord{}, err
	}
	return s.Pipelines.Get(ctx, strings.TrimSpace(workspace), strings.TrimSpace(id))
}

func (s *registryService) ListPipelines(ctx context.Context, workspace, name string, limit int) ([]repo.PipelineRecord, error) {
	if _, err := s.GetWorkspace(ctx, workspace); err != nil {
		return nil, err
	}
	return s.Pipelines.List(ctx, repo.PipelineFilter{
		Workspace: strings.TrimSpace(workspace),
		Name:      strings.TrimSpace(name),
		Limit:     limit,
	})
}

func (s *registryService) endpoint(workspace, id string) string {
	return s.publicURL + "/v1/workspaces/" + url.PathEscape(workspace) + "/pipelines/" + url.PathEscape(id)
}

// record runs after the mutation has committed, so a failed audit write is
// logged and the request still succeeds.
func (s *registryService) record(ctx context.Context, auditCtx auditContext, action, resourceType, resourceID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	payload["service"] = auditCtx.Service
	payload["request_path"] = auditCtx.Path
	err := s.audit.Record(ctx, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        auditCtx.Actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    auditCtx.RequestID,
		IP:           auditCtx.IP,
		UserAgent:    auditCtx.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit write failed",
			"request_id", auditCtx.RequestID,
			"action", action,
			"resource_type", resourceType,
			"resource_id", resourceID,
			"error", err.Error(),
		)
	}
}

// storedTime truncates t to the microsecond precision of TIMESTAMPTZ so a
// hashed timestamp reads back unchanged.
func storedTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// pipelineIntegrity digests the immutable fields of a published pipeline. The
// version is assigned by the store and is not covered.
func pipelineIntegrity(rec repo.PipelineRecord) (string, error) {
	return integritySHA256(struct {
		PipelineID  string          `json:"pipeline_id"`
		Workspace   string          `json:"workspace"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Definition  json.RawMessage `json:"definition"`
		CreatedAt   time.Time       `json:"created_at"`
		CreatedBy   string          `json:"created_by"`
	}{
		PipelineID:  rec.ID,
		Workspace:   rec.Workspace,
		Name:        rec.Name,
		Description: rec.Description,
		Definition:  rec.Definition,
		CreatedAt:   rec.CreatedAt.UTC(),
		CreatedBy:   rec.CreatedBy,
	})
}

func integritySHA256(v any) (string, error) {
	blob, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
