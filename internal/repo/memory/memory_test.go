package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/repo"
)

func TestPipelineVersionsPerName(t *testing.T) {
	store := New()
	pipes := store.Pipelines()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec, err := pipes.Publish(ctx, repo.PipelineRecord{
			PublishedPipeline: domain.PublishedPipeline{ID: string(rune('a' + i)), Name: "training-pipeline"},
			Workspace:         "ws",
		})
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if rec.Version != int64(i+1) {
			t.Fatalf("version=%d, want %d", rec.Version, i+1)
		}
	}
	other, err := pipes.Publish(ctx, repo.PipelineRecord{
		PublishedPipeline: domain.PublishedPipeline{ID: "z", Name: "scoring-pipeline"},
		Workspace:         "ws",
	})
	if err != nil || other.Version != 1 {
		t.Fatalf("other pipeline version=%d err=%v", other.Version, err)
	}
	list, err := pipes.List(ctx, repo.PipelineFilter{Workspace: "ws", Name: "training-pipeline"})
	if err != nil || len(list) != 3 || list[0].Version != 3 {
		t.Fatalf("List=%+v err=%v", list, err)
	}
}

func TestDatasetLatestAndByID(t *testing.T) {
	store := New()
	ds := store.Datasets()
	ctx := context.Background()
	first, _ := ds.Register(ctx, repo.DatasetRecord{Dataset: domain.Dataset{Name: "credit"}, Workspace: "ws"})
	second, _ := ds.Register(ctx, repo.DatasetRecord{Dataset: domain.Dataset{Name: "credit"}, Workspace: "ws"})

	latest, err := ds.GetLatest(ctx, "ws", "credit")
	if err != nil || latest.ID != second.ID || latest.Version != 2 {
		t.Fatalf("latest=%+v err=%v", latest, err)
	}
	byID, err := ds.GetByID(ctx, "ws", first.ID)
	if err != nil || byID.Version != 1 {
		t.Fatalf("byID=%+v err=%v", byID, err)
	}
	if _, err := ds.GetByID(ctx, "other-ws", first.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("dataset visible across workspaces: %v", err)
	}
}

func TestWorkspaceConflict(t *testing.T) {
	ws := New().Workspaces()
	rec := repo.WorkspaceRecord{Workspace: domain.Workspace{Name: "ws", SubscriptionID: "s", ResourceGroup: "rg"}}
	if err := ws.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ws.Create(context.Background(), rec); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("err=%v, want ErrConflict", err)
	}
}
