package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type PipelineStore struct {
	db DB
}

func NewPipelineStore(db DB) *PipelineStore {
	if db == nil {
		return nil
	}
	return &PipelineStore{db: db}
}

const pipelineColumns = `pipeline_id, workspace, name, version, description, endpoint, definition, created_at, created_by, integrity_sha256`

func (s *PipelineStore) Publish(ctx context.Context, p repo.PipelineRecord) (repo.PipelineRecord, error) {
	if s == nil || s.db == nil {
		return repo.PipelineRecord{}, fmt.Errorf("pipeline store not initialized")
	}
	p.Workspace = strings.TrimSpace(p.Workspace)
	p.Name = strings.TrimSpace(p.Name)
	if p.Workspace == "" || p.Name == "" {
		return repo.PipelineRecord{}, fmt.Errorf("workspace and pipeline name are required")
	}
	if strings.TrimSpace(p.ID) == "" {
		return repo.PipelineRecord{}, fmt.Errorf("pipeline id is required")
	}
	if len(p.Definition) == 0 {
		return repo.PipelineRecord{}, fmt.Errorf("pipeline definition is required")
	}
	if strings.TrimSpace(p.IntegritySHA256) == "" {
		return repo.PipelineRecord{}, fmt.Errorf("integrity sha256 is required")
	}
	p.CreatedAt = normalizeTime(p.CreatedAt)

	err := insertVersioned(func() error {
		return s.db.QueryRowContext(
			ctx,
			`INSERT INTO pipelines (`+pipelineColumns+`)
			 SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, $5, $6, $7, $8, $9
			 FROM pipelines
			 WHERE workspace = $2 AND name = $3
			 RETURNING version`,
			p.ID,
			p.Workspace,
			p.Name,
			strings.TrimSpace(p.Description),
			strings.TrimSpace(p.Endpoint),
			string(p.Definition),
			p.CreatedAt,
			strings.TrimSpace(p.CreatedBy),
			p.IntegritySHA256,
		).Scan(&p.Version)
	})
	if err != nil {
		return repo.PipelineRecord{}, fmt.Errorf("insert pipeline: %w", err)
	}
	return p, nil
}

func (s *PipelineStore) Get(ctx context.Context, workspace, id string) (repo.PipelineRecord, error) {
	if s == nil || s.db == nil {
		return repo.PipelineRecord{}, fmt.Errorf("pipeline store not initialized")
	}
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return repo.PipelineRecord{}, repo.ErrNotFound
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+pipelineColumns+`
		 FROM pipelines
		 WHERE workspace = $1 AND pipeline_id = $2`,
		strings.TrimSpace(workspace),
		strings.TrimSpace(id),
	)
	p, err := scanPipeline(row)
	if err != nil {
		return repo.PipelineRecord{}, handleNotFound(err)
	}
	return p, nil
}

func (s *PipelineStore) List(ctx context.Context, filter repo.PipelineFilter) ([]repo.PipelineRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("pipeline store not initialized")
	}
	query, args, err := buildPipelineListQuery(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	out := make([]repo.PipelineRecord, 0)
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	return out, nil
}

func buildPipelineListQuery(filter repo.PipelineFilter) (string, []any, error) {
	workspace := strings.TrimSpace(filter.Workspace)
	if workspace == "" {
		return "", nil, fmt.Errorf("workspace is required")
	}
	args := []any{workspace}
	clauses := []string{"workspace = $1"}
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, name)
		clauses = append(clauses, fmt.Sprintf("name = $%d", len(args)))
	}
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, version DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func scanPipeline(row rowScanner) (repo.PipelineRecord, error) {
	var p repo.PipelineRecord
	var definition []byte
	if err := row.Scan(&p.ID, &p.Workspace, &p.Name, &p.Version, &p.Description, &p.Endpoint, &definition, &p.CreatedAt, &p.CreatedBy, &p.IntegritySHA256); err != nil {
		return repo.PipelineRecord{}, err
	}
	p.Definition = definition
	return p, nil
}
