package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/store-backoffice/internal/domain/activity"
)

const insertActivitySQL = `INSERT INTO activity_logs (subject_type, subject_id, actor_id, description, created_at)
	VALUES ($1, $2, $3, $4, $5)`

var _ activity.Store = (*ActivityRepository)(nil)

// ActivityRepository writes audit entries outside any order transaction.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository returns an ActivityRepository that uses the given pool.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// InsertActivity stores one entry.
func (r *ActivityRepository) InsertActivity(ctx context.Context, e activity.Entry) error {
	_, err := r.pool.Exec(ctx, insertActivitySQL, e.SubjectType, e.SubjectID, e.ActorID, e.Description, e.CreatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert activity for %s %d", e.SubjectType, e.SubjectID)
	}
	return nil
}
