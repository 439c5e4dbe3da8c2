package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/animus-labs/animus-pipelines/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type WorkspaceRecord struct {
	domain.Workspace
	CreatedAt time.Time
	CreatedBy string
}

// DatasetRecord is one immutable version of a named dataset.
type DatasetRecord struct {
	domain.Dataset
	Workspace   string
	Description string
	CreatedAt   time.Time
	CreatedBy   string
}

// EnvironmentRecord is one immutable version of a named environment.
type EnvironmentRecord struct {
	domain.Environment
	Workspace string
	Revision  int64
	CreatedAt time.Time
	CreatedBy string
}

type ComputeRecord struct {
	domain.ComputeTarget
	Workspace string
	UpdatedAt time.Time
	UpdatedBy string
}

// PipelineRecord is a published pipeline version with the graph it was
// published from.
type PipelineRecord struct {
	domain.PublishedPipeline
	Workspace       string
	Definition      json.RawMessage
	IntegritySHA256 string
}

type PipelineFilter struct {
	Workspace string
	Name      string
	Limit     int
}

type WorkspaceRepository interface {
	Create(ctx context.Context, ws WorkspaceRecord) error
	Get(ctx context.Context, name string) (WorkspaceRecord, error)
}

// DatasetRepository keeps every registered version. Register assigns the ID
// and the next version for the name.
type DatasetRepository interface {
	Register(ctx context.Context, ds DatasetRecord) (DatasetRecord, error)
	GetLatest(ctx context.Context, workspace, name string) (DatasetRecord, error)
	GetByID(ctx context.Context, workspace, id string) (DatasetRecord, error)
}

type EnvironmentRepository interface {
	Register(ctx context.Context, env EnvironmentRecord) (EnvironmentRecord, error)
	GetLatest(ctx context.Context, workspace, name string) (EnvironmentRecord, error)
}

type ComputeRepository interface {
	Upsert(ctx context.Context, c ComputeRecord) (ComputeRecord, error)
	Get(ctx context.Context, workspace, name string) (ComputeRecord, error)
}

// PipelineRepository appends published versions; publishing an existing
// name yields the next version.
type PipelineRepository interface {
	Publish(ctx context.Context, p PipelineRecord) (PipelineRecord, error)
	Get(ctx context.Context, workspace, id string) (PipelineRecord, error)
	List(ctx context.Context, filter PipelineFilter) ([]PipelineRecord, error)
}
