package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type EnvironmentStore struct {
	db DB
}

func NewEnvironmentStore(db DB) *EnvironmentStore {
	if db == nil {
		return nil
	}
	return &EnvironmentStore{db: db}
}

func (s *EnvironmentStore) Register(ctx context.Context, env repo.EnvironmentRecord) (repo.EnvironmentRecord, error) {
	if s == nil || s.db == nil {
		return repo.EnvironmentRecord{}, fmt.Errorf("environment store not initialized")
	}
	env.Workspace = strings.TrimSpace(env.Workspace)
	env.Name = strings.TrimSpace(env.Name)
	if env.Workspace == "" || env.Name == "" {
		return repo.EnvironmentRecord{}, fmt.Errorf("workspace and environment name are required")
	}
	env.CreatedAt = normalizeTime(env.CreatedAt)

	err := insertVersioned(func() error {
		env.ID = uuid.NewString()
		return s.db.QueryRowContext(
			ctx,
			`INSERT INTO environments (environment_id, workspace, name, revision, image, created_at, created_by)
			 SELECT $1, $2, $3, COALESCE(MAX(revision), 0) + 1, $4, $5, $6
			 FROM environments
			 WHERE workspace = $2 AND name = $3
			 RETURNING revision`,
			env.ID,
			env.Workspace,
			env.Name,
			strings.TrimSpace(env.Image),
			env.CreatedAt,
			strings.TrimSpace(env.CreatedBy),
		).Scan(&env.Revision)
	})
	if err != nil {
		return repo.EnvironmentRecord{}, fmt.Errorf("insert environment: %w", err)
	}
	env.Version = strconv.FormatInt(env.Revision, 10)
	return env, nil
}

func (s *EnvironmentStore) GetLatest(ctx context.Context, workspace, name string) (repo.EnvironmentRecord, error) {
	if s == nil || s.db == nil {
		return repo.EnvironmentRecord{}, fmt.Errorf("environment store not initialized")
	}
	var env repo.EnvironmentRecord
	row := s.db.QueryRowContext(
		ctx,
		`SELECT environment_id, workspace, name, revision, image, created_at, created_by
		 FROM environments
		 WHERE workspace = $1 AND name = $2
		 ORDER BY revision DESC
		 LIMIT 1`,
		strings.TrimSpace(workspace),
		strings.TrimSpace(name),
	)
	if err := row.Scan(&env.ID, &env.Workspace, &env.Name, &env.Revision, &env.Image, &env.CreatedAt, &env.CreatedBy); err != nil {
		return repo.EnvironmentRecord{}, handleNotFound(err)
	}
	env.Version = strconv.FormatInt(env.Revision, 10)
	return env, nil
}
