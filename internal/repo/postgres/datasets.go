package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type DatasetStore struct {
	db DB
}

func NewDatasetStore(db DB) *DatasetStore {
	if db == nil {
		return nil
	}
	return &DatasetStore{db: db}
}

const datasetColumns = `dataset_id, workspace, name, version, storage_uri, description, created_at, created_by`

func (s *DatasetStore) Register(ctx context.Context, ds repo.DatasetRecord) (repo.DatasetRecord, error) {
	if s == nil || s.db == nil {
		return repo.DatasetRecord{}, fmt.Errorf("dataset store not initialized")
	}
	ds.Workspace = strings.TrimSpace(ds.Workspace)
	ds.Name = strings.TrimSpace(ds.Name)
	if ds.Workspace == "" || ds.Name == "" {
		return repo.DatasetRecord{}, fmt.Errorf("workspace and dataset name are required")
	}
	ds.CreatedAt = normalizeTime(ds.CreatedAt)

	err := insertVersioned(func() error {
		ds.ID = uuid.NewString()
		return s.db.QueryRowContext(
			ctx,
			`INSERT INTO datasets (`+datasetColumns+`)
			 SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, $5, $6, $7
			 FROM datasets
			 WHERE workspace = $2 AND name = $3
			 RETURNING version`,
			ds.ID,
			ds.Workspace,
			ds.Name,
			strings.TrimSpace(ds.StorageURI),
			strings.TrimSpace(ds.Description),
			ds.CreatedAt,
			strings.TrimSpace(ds.CreatedBy),
		).Scan(&ds.Version)
	})
	if err != nil {
		return repo.DatasetRecord{}, fmt.Errorf("insert dataset: %w", err)
	}
	return ds, nil
}

func (s *DatasetStore) GetLatest(ctx context.Context, workspace, name string) (repo.DatasetRecord, error) {
	if s == nil || s.db == nil {
		return repo.DatasetRecord{}, fmt.Errorf("dataset store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+datasetColumns+`
		 FROM datasets
		 WHERE workspace = $1 AND name = $2
		 ORDER BY version DESC
		 LIMIT 1`,
		strings.TrimSpace(workspace),
		strings.TrimSpace(name),
	)
	return scanDataset(row)
}

func (s *DatasetStore) GetByID(ctx context.Context, workspace, id string) (repo.DatasetRecord, error) {
	if s == nil || s.db == nil {
		return repo.DatasetRecord{}, fmt.Errorf("dataset store not initialized")
	}
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return repo.DatasetRecord{}, repo.ErrNotFound
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+datasetColumns+`
		 FROM datasets
		 WHERE workspace = $1 AND dataset_id = $2`,
		strings.TrimSpace(workspace),
		strings.TrimSpace(id),
	)
	return scanDataset(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (repo.DatasetRecord, error) {
	var ds repo.DatasetRecord
	if err := row.Scan(&ds.ID, &ds.Workspace, &ds.Name, &ds.Version, &ds.StorageURI, &ds.Description, &ds.CreatedAt, &ds.CreatedBy); err != nil {
		return repo.DatasetRecord{}, handleNotFound(err)
	}
	return ds, nil
}
