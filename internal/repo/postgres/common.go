package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/animus-pipelines/internal/repo"
)

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// versionAttempts bounds retries when two writers race for the same next
// version of a name.
const versionAttempts = 5

// normalizeTime matches TIMESTAMPTZ precision so stored and returned values agree.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repo.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// insertVersioned runs insert until it succeeds or fails with something other
// than a unique violation on the version column.
func insertVersioned(insert func() error) error {
	var err error
	for attempt := 0; attempt < versionAttempts; attempt++ {
		err = insert()
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return errors.Join(repo.ErrConflict, err)
}
