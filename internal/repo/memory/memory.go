// Package memory implements the registry repositories in process memory for
// local development and tests. Data does not survive a restart.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type Store struct {
	mu           sync.RWMutex
	workspaces   map[string]repo.WorkspaceRecord
	datasets     map[string][]repo.DatasetRecord
	environments map[string][]repo.EnvironmentRecord
	computes     map[string]repo.ComputeRecord
	pipelines    []repo.PipelineRecord
}

func New() *Store {
	return &Store{
		workspaces:   make(map[string]repo.WorkspaceRecord),
		datasets:     make(map[string][]repo.DatasetRecord),
		environments: make(map[string][]repo.EnvironmentRecord),
		computes:     make(map[string]repo.ComputeRecord),
	}
}

func key(workspace, name string) string {
	return strings.TrimSpace(workspace) + "/" + strings.TrimSpace(name)
}

func now(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func (s *Store) Workspaces() repo.WorkspaceRepository { return workspaceRepo{s} }
func (s *Store) Datasets() repo.DatasetRepository { return datasetRepo{s} }
func (s *Store) Environments() repo.EnvironmentRepository { return environmentRepo{s} }
func (s *Store) Computes() repo.ComputeRepository { return computeRepo{s} }
func (s *Store) Pipelines() repo.PipelineRepository { return pipelineRepo{s} }

type workspaceRepo struct{ s *Store }

func (r workspaceRepo) Create(_ context.Context, ws repo.WorkspaceRecord) error {
	if err := ws.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	name := strings.TrimSpace(ws.Name)
	if _, ok := r.s.workspaces[name]; ok {
		return repo.ErrConflict
	}
	ws.Name = name
	ws.CreatedAt = now(ws.CreatedAt)
	r.s.workspaces[name] = ws
	return nil
}

func (r workspaceRepo) Get(_ context.Context, name string) (repo.WorkspaceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ws, ok := r.s.workspaces[strings.TrimSpace(name)]
	if !ok {
		return repo.WorkspaceRecord{}, repo.ErrNotFound
	}
	return ws, nil
}

type datasetRepo struct{ s *Store }

func (r datasetRepo) Register(_ context.Context, ds repo.DatasetRecord) (repo.DatasetRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key(ds.Workspace, ds.Name)
	ds.ID = uuid.NewString()
	ds.Version = int64(len(r.s.datasets[k]) + 1)
	ds.CreatedAt = now(ds.CreatedAt)
	r.s.datasets[k] = append(r.s.datasets[k], ds)
	return ds, nil
}

func (r datasetRepo) GetLatest(_ context.Context, workspace, name string) (repo.DatasetRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	versions := r.s.datasets[key(workspace, name)]
	if len(versions) == 0 {
		return repo.DatasetRecord{}, repo.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (r datasetRepo) GetByID(_ context.Context, workspace, id string) (repo.DatasetRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, versions := range r.s.datasets {
		for _, ds := range versions {
			if ds.Workspace == workspace && ds.ID == id {
				return ds, nil
			}
		}
	}
	return repo.DatasetRecord{}, repo.ErrNotFound
}

type environmentRepo struct{ s *Store }

func (r environmentRepo) Register(_ context.Context, env repo.EnvironmentRecord) (repo.EnvironmentRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := key(env.Workspace, env.Name)
	env.ID = uuid.NewString()
	env.Revision = int64(len(r.s.environments[k]) + 1)
	env.Version = strconv.FormatInt(env.Revision, 10)
	env.CreatedAt = now(env.CreatedAt)
	r.s.environments[k] = append(r.s.environments[k], env)
	return env, nil
}

func (r environmentRepo) GetLatest(_ context.Context, workspace, name string) (repo.EnvironmentRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	versions := r.s.environments[key(workspace, name)]
	if len(versions) == 0 {
		return repo.EnvironmentRecord{}, repo.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

type computeRepo struct{ s *Store }

func (r computeRepo) Upsert(_ context.Context, c repo.ComputeRecord) (repo.ComputeRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.State = strings.ToLower(strings.TrimSpace(c.State))
	c.UpdatedAt = now(c.UpdatedAt)
	r.s.computes[key(c.Workspace, c.Name)] = c
	return c, nil
}

func (r computeRepo) Get(_ context.Context, workspace, name string) (repo.ComputeRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.computes[key(workspace, name)]
	if !ok {
		return repo.ComputeRecord{}, repo.ErrNotFound
	}
	return c, nil
}

type pipelineRepo struct{ s *Store }

func (r pipelineRepo) Publish(_ context.Context, p repo.PipelineRecord) (repo.PipelineRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest int64
	for _, existing := range r.s.pipelines {
		if existing.Workspace == p.Workspace && existing.Name == p.Name && existing.Version > latest {
			latest = existing.Version
		}
	}
	p.Version = latest + 1
	p.CreatedAt = now(p.CreatedAt)
	r.s.pipelines = append(r.s.pipelines, p)
	return p, nil
}

func (r pipelineRepo) Get(_ context.Context, workspace, id string) (repo.PipelineRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.pipelines {
		if p.Workspace == workspace && p.ID == id {
			return p, nil
		}
	}
	return repo.PipelineRecord{}, repo.ErrNotFound
}

func (r pipelineRepo) List(_ context.Context, filter repo.PipelineFilter) ([]repo.PipelineRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]repo.PipelineRecord, 0)
	for _, p := range r.s.pipelines {
		if p.Workspace != filter.Workspace {
			continue
		}
		if filter.Name != "" && p.Name != filter.Name {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
