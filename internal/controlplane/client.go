// Package controlplane is a thin request/response client for the workspace
// registry API. Every call is a single blocking round trip; nothing is retried.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/pipeline"
	"github.com/animus-labs/animus-pipelines/internal/platform/requestid"
)

// Version is reported as the client SDK version. Overridden at build time with
// -ldflags "-X github.com/animus-labs/animus-pipelines/internal/controlplane.Version=...".
var Version = "0.4.0"

const maxResponseBytes = 8 << 20

type Config struct {
	Endpoint   string
	Workspace  domain.Workspace
	HTTPClient *http.Client
	// RequestID is sent as X-Request-Id on every call so all calls of one
	// publish run correlate. Generated when empty.
	RequestID string
}

type Client struct {
	baseURL   string
	workspace domain.Workspace
	requestID string
	http      *http.Client
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if baseURL == "" {
		return nil, errors.New("endpoint is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.Workspace.Name) == "" {
		return nil, errors.New("workspace name is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rid := strings.TrimSpace(cfg.RequestID)
	if rid == "" {
		generated, err := requestid.New()
		if err != nil {
			return nil, fmt.Errorf("request id: %w", err)
		}
		rid = "publish-" + generated
	}
	return &Client{
		baseURL:   baseURL,
		workspace: cfg.Workspace,
		requestID: rid,
		http:      httpClient,
	}, nil
}

func (c *Client) RequestID() string { return c.requestID }

type workspaceResource struct {
	Name           string `json:"name"`
	Region         string `json:"region"`
	SubscriptionID string `json:"subscription_id"`
	ResourceGroup  string `json:"resource_group"`
}

type datasetResource struct {
	DatasetID  string `json:"dataset_id"`
	Name       string `json:"name"`
	Version    int64  `json:"version"`
	StorageURI string `json:"storage_uri"`
}

type environmentResource struct {
	EnvironmentID string `json:"environment_id"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	Image         string `json:"image"`
}

type computeResource struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	State string `json:"state"`
}

type publishRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Pipeline    pipeline.Payload `json:"pipeline"`
}

type publishedResource struct {
	PipelineID  string    `json:"pipeline_id"`
	Name        string    `json:"name"`
	Version     int64     `json:"version"`
	Description string    `json:"description"`
	Endpoint    string    `json:"endpoint"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type errorResponse struct {
	Error     string   `json:"error"`
	Issues    []string `json:"issues"`
	RequestID string   `json:"request_id"`
}

// Connect fetches the workspace and checks it belongs to the configured
// subscription and resource group.
func (c *Client) Connect(ctx context.Context) (domain.Workspace, error) {
	var out workspaceResource
	if err := c.get(ctx, c.workspacePath(), KindWorkspace, c.workspace.Name, &out); err != nil {
		return domain.Workspace{}, err
	}
	if want := c.workspace.SubscriptionID; want != "" && out.SubscriptionID != want {
		return domain.Workspace{}, fmt.Errorf("workspace %q belongs to subscription %q, configured %q", out.Name, out.SubscriptionID, want)
	}
	if want := c.workspace.ResourceGroup; want != "" && out.ResourceGroup != want {
		return domain.Workspace{}, fmt.Errorf("workspace %q belongs to resource group %q, configured %q", out.Name, out.ResourceGroup, want)
	}
	ws := domain.Workspace{
		Name:           out.Name,
		Region:         out.Region,
		SubscriptionID: out.SubscriptionID,
		ResourceGroup:  out.ResourceGroup,
		Endpoint:       c.baseURL,
	}
	if ws.Region == "" {
		ws.Region = c.workspace.Region
	}
	return ws, nil
}

// GetDataset resolves the latest version of a dataset by exact name.
func (c *Client) GetDataset(ctx context.Context, name string) (domain.Dataset, error) {
	var out datasetResource
	if err := c.get(ctx, c.workspacePath()+"/datasets/"+url.PathEscape(name), KindDataset, name, &out); err != nil {
		return domain.Dataset{}, err
	}
	ds := domain.Dataset{ID: out.DatasetID, Name: out.Name, Version: out.Version, StorageURI: out.StorageURI}
	if err := ds.Validate(); err != nil {
		return domain.Dataset{}, c.malformed(http.MethodGet, "datasets/"+name, err)
	}
	return ds, nil
}

func (c *Client) GetEnvironment(ctx context.Context, name string) (domain.Environment, error) {
	var out environmentResource
	if err := c.get(ctx, c.workspacePath()+"/environments/"+url.PathEscape(name), KindEnvironment, name, &out); err != nil {
		return domain.Environment{}, err
	}
	envr := domain.Environment{ID: out.EnvironmentID, Name: out.Name, Version: out.Version, Image: out.Image}
	if err := envr.Validate(); err != nil {
		return domain.Environment{}, c.malformed(http.MethodGet, "environments/"+name, err)
	}
	return envr, nil
}

func (c *Client) GetComputeTarget(ctx context.Context, name string) (domain.ComputeTarget, error) {
	var out computeResource
	if err := c.get(ctx, c.workspacePath()+"/computes/"+url.PathEscape(name), KindComputeTarget, name, &out); err != nil {
		return domain.ComputeTarget{}, err
	}
	return domain.ComputeTarget{Name: out.Name, Kind: out.Kind, State: out.State}, nil
}

// ValidatePipeline asks the control plane to check the graph and resolve every
// name it references. Rejections come back as *pipeline.ValidationError.
func (c *Client) ValidatePipeline(ctx context.Context, p domain.Pipeline) error {
	body := publishRequest{Pipeline: pipeline.ToPayload(p)}
	return c.post(ctx, c.workspacePath()+"/pipelines/validate", body, nil)
}

type PublishOptions struct {
	Name        string
	Description string
}

func (c *Client) PublishPipeline(ctx context.Context, p domain.Pipeline, opts PublishOptions) (domain.PublishedPipeline, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.PublishedPipeline{}, errors.New("pipeline name is required")
	}
	body := publishRequest{
		Name:        strings.TrimSpace(opts.Name),
		Description: opts.Description,
		Pipeline:    pipeline.ToPayload(p),
	}
	var out publishedResource
	if err := c.post(ctx, c.workspacePath()+"/pipelines", body, &out); err != nil {
		return domain.PublishedPipeline{}, err
	}
	published := domain.PublishedPipeline{
		ID:          out.PipelineID,
		Name:        out.Name,
		Version:     out.Version,
		Description: out.Description,
		Endpoint:    out.Endpoint,
		CreatedAt:   out.CreatedAt,
		CreatedBy:   out.CreatedBy,
	}
	if err := published.Validate(); err != nil {
		return domain.PublishedPipeline{}, c.malformed(http.MethodPost, "pipelines", err)
	}
	return published, nil
}

func (c *Client) workspacePath() string {
	return "/v1/workspaces/" + url.PathEscape(c.workspace.Name)
}

func (c *Client) get(ctx context.Context, path string, kind ResourceKind, name string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return &NotFoundError{Kind: kind, Name: name, Workspace: c.workspace.Name, RequestID: c.requestID}
	}
	if status < 200 || status > 299 {
		return c.remoteError(req, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteError{Method: req.Method, Path: path, Status: status, RequestID: c.requestID, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	status, body, err := c.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return &NotFoundError{Kind: KindWorkspace, Name: c.workspace.Name, Workspace: c.workspace.Name, RequestID: c.requestID}
	}
	if status == http.StatusUnprocessableEntity {
		var er errorResponse
		if json.Unmarshal(body, &er) == nil && len(er.Issues) > 0 {
			return &pipeline.ValidationError{Issues: er.Issues}
		}
	}
	if status < 200 || status > 299 {
		return c.remoteError(req, status, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteError{Method: req.Method, Path: path, Status: status, RequestID: c.requestID, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", c.requestID)
	req.Header.Set("User-Agent", "animus-pipelines/"+Version)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &RemoteError{Method: req.Method, Path: req.URL.Path, RequestID: c.requestID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &RemoteError{Method: req.Method, Path: req.URL.Path, Status: resp.StatusCode, RequestID: c.requestID, Err: err}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) remoteError(req *http.Request, status int, body []byte) error {
	rerr := &RemoteError{
		Method:    req.Method,
		Path:      req.URL.Path,
		Status:    status,
		RequestID: c.requestID,
		Body:      strings.TrimSpace(string(body)),
	}
	var er errorResponse
	if json.Unmarshal(body, &er) == nil {
		rerr.Code = er.Error
		if er.RequestID != "" {
			rerr.RequestID = er.RequestID
		}
	}
	return rerr
}

func (c *Client) malformed(method, path string, err error) error {
	return &RemoteError{Method: method, Path: c.workspacePath() + "/" + path, RequestID: c.requestID, Err: fmt.Errorf("malformed response: %w", err)}
}
