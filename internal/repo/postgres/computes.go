package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type ComputeStore struct {
	db DB
}

func NewComputeStore(db DB) *ComputeStore {
	if db == nil {
		return nil
	}
	return &ComputeStore{db: db}
}

func (s *ComputeStore) Upsert(ctx context.Context, c repo.ComputeRecord) (repo.ComputeRecord, error) {
	if s == nil || s.db == nil {
		return repo.ComputeRecord{}, fmt.Errorf("compute store not initialized")
	}
	c.Workspace = strings.TrimSpace(c.Workspace)
	c.Name = strings.TrimSpace(c.Name)
	if c.Workspace == "" || c.Name == "" {
		return repo.ComputeRecord{}, fmt.Errorf("workspace and compute name are required")
	}
	c.UpdatedAt = normalizeTime(c.UpdatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO computes (workspace, name, kind, state, updated_at, updated_by)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (workspace, name) DO UPDATE
		 SET kind = EXCLUDED.kind,
		     state = EXCLUDED.state,
		     updated_at = EXCLUDED.updated_at,
		     updated_by = EXCLUDED.updated_by`,
		c.Workspace,
		c.Name,
		strings.TrimSpace(c.Kind),
		strings.ToLower(strings.TrimSpace(c.State)),
		c.UpdatedAt,
		strings.TrimSpace(c.UpdatedBy),
	)
	if err != nil {
		return repo.ComputeRecord{}, fmt.Errorf("upsert compute: %w", err)
	}
	c.State = strings.ToLower(strings.TrimSpace(c.State))
	return c, nil
}

func (s *ComputeStore) Get(ctx context.Context, workspace, name string) (repo.ComputeRecord, error) {
	if s == nil || s.db == nil {
		return repo.ComputeRecord{}, fmt.Errorf("compute store not initialized")
	}
	var c repo.ComputeRecord
	row := s.db.QueryRowContext(
		ctx,
		`SELECT workspace, name, kind, state, updated_at, updated_by
		 FROM computes
		 WHERE workspace = $1 AND name = $2`,
		strings.TrimSpace(workspace),
		strings.TrimSpace(name),
	)
	if err := row.Scan(&c.Workspace, &c.Name, &c.Kind, &c.State, &c.UpdatedAt, &c.UpdatedBy); err != nil {
		return repo.ComputeRecord{}, handleNotFound(err)
	}
	return c, nil
}
