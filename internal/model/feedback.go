package model

import "time"

const (
	RatingLike    = "like"
	RatingDislike = "dislike"
)

type Feedback struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	Rating    string    `json:"rating"`
	Comment   *string   `json:"comment"`
	Timestamp time.Time `json:"timestamp"`
}
