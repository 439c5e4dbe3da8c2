package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/animus-labs/animus-pipelines/internal/domain"
	"github.com/animus-labs/animus-pipelines/internal/platform/objectstore"
)

const contentType = "application/gzip"

type Uploader struct {
	Store  objectstore.Store
	Bucket string
	Prefix string
}

func NewUploader(store objectstore.Store, cfg objectstore.Config) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("snapshot bucket is required")
	}
	return &Uploader{Store: store, Bucket: cfg.Bucket, Prefix: cfg.Prefix}, nil
}

// ObjectKey is the content-addressed key of an archive digest.
func (u *Uploader) ObjectKey(sha string) string {
	prefix := strings.Trim(u.Prefix, "/")
	if prefix == "" {
		prefix = "snapshots"
	}
	return path.Join(prefix, sha+".tar.gz")
}

// Upload stores archive unless an object with the same digest already exists.
func (u *Uploader) Upload(ctx context.Context, archive *Archive) (domain.SourceSnapshot, error) {
	if u == nil || u.Store == nil {
		return domain.SourceSnapshot{}, errors.New("snapshot uploader not initialized")
	}
	if archive == nil || archive.SHA256 == "" {
		return domain.SourceSnapshot{}, errors.New("snapshot archive is empty")
	}
	key := u.ObjectKey(archive.SHA256)
	snap := domain.SourceSnapshot{ObjectKey: key, SHA256: archive.SHA256, SizeBytes: archive.Size()}

	info, err := u.Store.Stat(ctx, u.Bucket, key)
	switch {
	case err == nil && info.Size == archive.Size():
		return snap, nil
	case err != nil && !objectstore.IsNotExist(err):
		return domain.SourceSnapshot{}, fmt.Errorf("stat snapshot %s: %w", key, err)
	}

	if err := u.Store.Put(ctx, u.Bucket, key, bytes.NewReader(archive.Data), archive.Size(), contentType); err != nil {
		return domain.SourceSnapshot{}, fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return snap, nil
}
