package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/pipeline"
	"github.com/animus-labs/animus-pipelines/internal/platform/auth"
	"github.com/animus-labs/animus-pipelines/internal/platform/httpserver"
	"github.com/animus-labs/animus-pipelines/internal/repo"
)

const serviceName = "workspace-registry"

type registryAPI struct {
	logger *slog.Logger
	svc    *registryService
}

func newRegistryAPI(logger *slog.Logger, svc *registryService) *registryAPI {
	return &registryAPI{logger: logger, svc: svc}
}

func (api *registryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workspaces", api.handleCreateWorkspace)
	mux.HandleFunc("GET /v1/workspaces/{workspace}", api.handleGetWorkspace)

	mux.HandleFunc("PUT /v1/workspaces/{workspace}/datasets/{name}", api.handleRegisterDataset)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/datasets/{name}", api.handleGetDataset)

	mux.HandleFunc("PUT /v1/workspaces/{workspace}/environments/{name}", api.handleRegisterEnvironment)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/environments/{name}", api.handleGetEnvironment)

	mux.HandleFunc("PUT /v1/workspaces/{workspace}/computes/{name}", api.handleUpsertCompute)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/computes/{name}", api.handleGetCompute)

	mux.HandleFunc("POST /v1/workspaces/{workspace}/pipelines/validate", api.handleValidatePipeline)
	mux.HandleFunc("POST /v1/workspaces/{workspace}/pipelines", api.handlePublishPipeline)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/pipelines", api.handleListPipelines)
	mux.HandleFunc("GET /v1/workspaces/{workspace}/pipelines/{id}", api.handleGetPipeline)
}

type workspaceResource struct {
	Name           string    `json:"name"`
	Region         string    `json:"region"`
	SubscriptionID string    `json:"subscription_id"`
	ResourceGroup  string    `json:"resource_group"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
}

type datasetResource struct {
	DatasetID   string    `json:"dataset_id"`
	Name        string    `json:"name"`
	Version     int64     `json:"version"`
	StorageURI  string    `json:"storage_uri"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type environmentResource struct {
	EnvironmentID string    `json:"environment_id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Image         string    `json:"image"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
}

type computeResource struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

type publishedResource struct {
	PipelineID      string          `json:"pipeline_id"`
	Name            string          `json:"name"`
	Version         int64           `json:"version"`
	Description     string          `json:"description"`
	Endpoint        string          `json:"endpoint"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by"`
	IntegritySHA256 string          `json:"integrity_sha256"`
	Pipeline        json.RawMessage `json:"pipeline,omitempty"`
}

type createWorkspaceRequest struct {
	Name           string `json:"name"`
	Region         string `json:"region,omitempty"`
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
}

type registerDatasetRequest struct {
	StorageURI  string `json:"storage_uri,omitempty"`
	Description string `json:"description,omitempty"`
}

type registerEnvironmentRequest struct {
	Image string `json:"image,omitempty"`
}

type upsertComputeRequest struct {
	Kind  string `json:"kind,omitempty"`
	State string `json:"state"`
}

type pipelineRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Pipeline    pipeline.Payload `json:"pipeline"`
}

func (api *registryAPI) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	ws, err := api.svc.CreateWorkspace(r.Context(), domain.Workspace{
		Name:           req.Name,
		Region:         req.Region,
		SubscriptionID: req.SubscriptionID,
		ResourceGroup:  req.ResourceGroup,
	}, buildAuditContext(r))
	if err != nil {
		api.writeRepoError(w, r, "workspace", err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toWorkspaceResource(ws))
}

func (api *registryAPI) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := api.svc.GetWorkspace(r.Context(), r.PathValue("workspace"))
	if err != nil {
		api.writeRepoError(w, r, "workspace", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toWorkspaceResource(ws))
}

func (api *registryAPI) handleRegisterDataset(w http.ResponseWriter, r *http.Request) {
	var req registerDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	ds, err := api.svc.RegisterDataset(r.Context(), r.PathValue("workspace"), r.PathValue("name"), req.StorageURI, req.Description, buildAuditContext(r))
	if err != nil {
		api.writeRepoError(w, r, "dataset", err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toDatasetResource(ds))
}

func (api *registryAPI) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := api.svc.GetDataset(r.Context(), r.PathValue("workspace"), r.PathValue("name"))
	if err != nil {
		api.writeRepoError(w, r, "dataset", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toDatasetResource(ds))
}

func (api *registryAPI) handleRegisterEnvironment(w http.ResponseWriter, r *http.Request) {
	var req registerEnvironmentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	env, err := api.svc.RegisterEnvironment(r.Context(), r.PathValue("workspace"), r.PathValue("name"), req.Image, buildAuditContext(r))
	if err != nil {
		api.writeRepoError(w, r, "environment", err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toEnvironmentResource(env))
}

func (api *registryAPI) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	env, err := api.svc.GetEnvironment(r.Context(), r.PathValue("workspace"), r.PathValue("name"))
	if err != nil {
		api.writeRepoError(w, r, "environment", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toEnvironmentResource(env))
}

func (api *registryAPI) handleUpsertCompute(w http.ResponseWriter, r *http.Request) {
	var req upsertComputeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	c, err := api.svc.UpsertCompute(r.Context(), r.PathValue("workspace"), r.PathValue("name"), req.Kind, req.State, buildAuditContext(r))
	if err != nil {
		api.writeRepoError(w, r, "compute", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toComputeResource(c))
}

func (api *registryAPI) handleGetCompute(w http.ResponseWriter, r *http.Request) {
	c, err := api.svc.GetCompute(r.Context(), r.PathValue("workspace"), r.PathValue("name"))
	if err != nil {
		api.writeRepoError(w, r, "compute", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toComputeResource(c))
}

func (api *registryAPI) handleValidatePipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	p, err := api.svc.ValidatePipeline(r.Context(), r.PathValue("workspace"), req.Pipeline)
	if err != nil {
		api.writeRepoError(w, r, "pipeline", err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "valid",
		"steps":      len(p.Steps),
		"parameters": len(p.Parameters()),
	})
}

func (api *registryAPI) handlePublishPipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	record, err := api.svc.PublishPipeline(r.Context(), r.PathValue("workspace"), req.Name, req.Description, req.Pipeline, buildAuditContext(r))
	if err != nil {
		api.writeRepoError(w, r, "pipeline", err)
		return
	}
	api.logger.Info("pipeline published",
		"request_id", r.Header.Get("X-Request-Id"),
		"workspace", record.Workspace,
		"pipeline", record.Name,
		"version", record.Version,
		"pipeline_id", record.ID,
	)
	api.writeJSON(w, http.StatusCreated, toPublishedResource(record, false))
}

func (api *registryAPI) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	record, err := api.svc.GetPipeline(r.Context(), r.PathValue("workspace"), r.PathValue("id"))
	if err != nil {
		api.writeRepoError(w, r, "pipeline", err)
		return
	}
	api.writeJSON(w, http.StatusOK, toPublishedResource(record, true))
}

func (api *registryAPI) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	records, err := api.svc.ListPipelines(r.Context(), r.PathValue("workspace"), r.URL.Query().Get("name"), limit)
	if err != nil {
		api.writeRepoError(w, r, "pipeline", err)
		return
	}
	out := make([]publishedResource, 0, len(records))
	for _, record := range records {
		out = append(out, toPublishedResource(record, false))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"pipelines": out})
}

func toWorkspaceResource(ws repo.WorkspaceRecord) workspaceResource {
	return workspaceResource{
		Name:           ws.Name,
		Region:         ws.Region,
		SubscriptionID: ws.SubscriptionID,
		ResourceGroup:  ws.ResourceGroup,
		CreatedAt:      ws.CreatedAt,
		CreatedBy:      ws.CreatedBy,
	}
}

func toDatasetResource(ds repo.DatasetRecord) datasetResource {
	return datasetResource{
		DatasetID:   ds.ID,
		Name:        ds.Name,
		Version:     ds.Version,
		StorageURI:  ds.StorageURI,
		Description: ds.Description,
		CreatedAt:   ds.CreatedAt,
		CreatedBy:   ds.CreatedBy,
	}
}

func toEnvironmentResource(env repo.EnvironmentRecord) environmentResource {
	return environmentResource{
		EnvironmentID: env.ID,
		Name:          env.Name,
		Version:       env.Version,
		Image:         env.Image,
		CreatedAt:     env.CreatedAt,
		CreatedBy:     env.CreatedBy,
	}
}

func toComputeResource(c repo.ComputeRecord) computeResource {
	return computeResource{
		Name:      c.Name,
		Kind:      c.Kind,
		State:     c.State,
		UpdatedAt: c.UpdatedAt,
		UpdatedBy: c.UpdatedBy,
	}
}

func toPublishedResource(p repo.PipelineRecord, withDefinition bool) publishedResource {
	out := publishedResource{
		PipelineID:      p.ID,
		Name:            p.Name,
		Version:         p.Version,
		Description:     p.Description,
		Endpoint:        p.Endpoint,
		CreatedAt:       p.CreatedAt,
		CreatedBy:       p.CreatedBy,
		IntegritySHA256: p.IntegritySHA256,
	}
	if withDefinition && len(p.Definition) > 0 {
		out.Pipeline = p.Definition
	}
	return out
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func buildAuditContext(r *http.Request) auditContext {
	return auditContext{
		Actor:     auth.Actor(r.Context()),
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Service:   serviceName,
	}
}

// writeRepoError maps service errors onto the statuses the publisher client
// classifies: 404 for a missing resource, 422 with issues for a rejected
// pipeline, 409 for a duplicate, 400 for a bad input, 500 otherwise.
func (api *registryAPI) writeRepoError(w http.ResponseWriter, r *http.Request, resource string, err error) {
	var ve *pipeline.ValidationError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		api.writeError(w, r, http.StatusNotFound, "not_found")
	case errors.As(err, &ve):
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "pipeline_invalid",
			"issues":     ve.Issues,
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, resource+"_exists")
	case errors.Is(err, errInvalidInput):
		api.writeErrorWithDetails(w, r, http.StatusBadRequest, "invalid_"+resource, err.Error())
	default:
		api.logger.Error(resource+" request failed", "request_id", r.Header.Get("X-Request-Id"), "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func (api *registryAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *registryAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeError(w, r, status, code)
}

func (api *registryAPI) writeErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code string, details any) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
		"details":    details,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
