package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/quitachat/internal/model"
	"github.com/xxxsen/quitachat/internal/pkg/dbutil"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

type FeedbackRepo struct {
	db *sql.DB
}

func NewFeedbackRepo(db *sql.DB) *FeedbackRepo {
	return &FeedbackRepo{db: db}
}

// Upsert keeps one feedback row per message, the latest rating wins.
func (r *FeedbackRepo) Upsert(ctx context.Context, fb *model.Feedback) error {
	data := map[string]interface{}{
		"message_id": fb.MessageID,
		"rating":     fb.Rating,
		"comment":    fb.Comment,
		"timestamp":  fb.Timestamp,
	}
	sqlStr, args, err := builder.BuildInsert("feedback", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr += ` ON CONFLICT (message_id) DO UPDATE SET
		rating = EXCLUDED.rating,
		comment = EXCLUDED.comment,
		timestamp = EXCLUDED.timestamp`
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsForeignKeyViolation(err) {
			return appErr.ErrNotFound
		}
		return err
	}
	return nil
}
