package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

type FeedbackStore interface {
	Upsert(ctx context.Context, fb *model.Feedback) error
}

type FeedbackService struct {
	store FeedbackStore
	now   func() time.Time
}

func NewFeedbackService(store FeedbackStore) *FeedbackService {
	return &FeedbackService{store: store, now: time.Now}
}

// Save records a like/dislike for a stored turn, replacing any earlier one.
func (s *FeedbackService) Save(ctx context.Context, messageID int64, rating string, comment string) (*model.Feedback, error) {
	if messageID <= 0 {
		return nil, fmt.Errorf("message id must be positive: %w", appErr.ErrInvalid)
	}
	rating = strings.ToLower(strings.TrimSpace(rating))
	if rating != model.RatingLike && rating != model.RatingDislike {
		return nil, fmt.Errorf("unknown rating %q: %w", rating, appErr.ErrInvalid)
	}
	fb := &model.Feedback{
		MessageID: messageID,
		Rating:    rating,
		Timestamp: s.now(),
	}
	if c := strings.TrimSpace(comment); c != "" {
		fb.Comment = &c
	}
	if err := s.store.Upsert(ctx, fb); err != nil {
		return nil, err
	}
	return fb, nil
}
