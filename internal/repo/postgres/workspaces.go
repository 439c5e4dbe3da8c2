package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type WorkspaceStore struct {
	db DB
}

func NewWorkspaceStore(db DB) *WorkspaceStore {
	if db == nil {
		return nil
	}
	return &WorkspaceStore{db: db}
}

func (s *WorkspaceStore) Create(ctx context.Context, ws repo.WorkspaceRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("workspace store not initialized")
	}
	if err := ws.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO workspaces (
			name,
			region,
			subscription_id,
			resource_group,
			created_at,
			created_by
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		strings.TrimSpace(ws.Name),
		strings.TrimSpace(ws.Region),
		strings.TrimSpace(ws.SubscriptionID),
		strings.TrimSpace(ws.ResourceGroup),
		normalizeTime(ws.CreatedAt),
		strings.TrimSpace(ws.CreatedBy),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrConflict
		}
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *WorkspaceStore) Get(ctx context.Context, name string) (repo.WorkspaceRecord, error) {
	if s == nil || s.db == nil {
		return repo.WorkspaceRecord{}, fmt.Errorf("workspace store not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return repo.WorkspaceRecord{}, fmt.Errorf("workspace name is required")
	}
	var ws repo.WorkspaceRecord
	row := s.db.QueryRowContext(
		ctx,
		`SELECT name, region, subscription_id, resource_group, created_at, created_by
		 FROM workspaces
		 WHERE name = $1`,
		name,
	)
	if err := row.Scan(&ws.Name, &ws.Region, &ws.SubscriptionID, &ws.ResourceGroup, &ws.CreatedAt, &ws.CreatedBy); err != nil {
		return repo.WorkspaceRecord{}, handleNotFound(err)
	}
	return ws, nil
}
