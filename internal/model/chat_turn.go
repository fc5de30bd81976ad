package model

import "time"

// ChatTurn is one persisted question/answer exchange.
type ChatTurn struct {
	ID                    int64     `json:"id"`
	SessionID             string    `json:"session_id"`
	UserMessage           string    `json:"user_message"`
	BotResponse           string    `json:"bot_response"`
	IsSynthetic           bool      `json:"is_synthetic"`
	UserChars             int       `json:"user_chars"`
	BotChars              int       `json:"bot_chars"`
	UserTokens            int       `json:"user_tokens"`
	BotTokens             int       `json:"bot_tokens"`
	RequestStartTime      time.Time `json:"request_start_time"`
	RetrievalEndTime      time.Time `json:"retrieval_end_time"`
	ResponseEndTime       time.Time `json:"response_end_time"`
	RetrievalDurationSec  float64   `json:"retrieval_duration_sec"`
	GenerationDurationSec float64   `json:"generation_duration_sec"`
	TotalDurationSec      float64   `json:"total_duration_sec"`
}

// DisplayTurn is a turn joined with its feedback rating, if any.
type DisplayTurn struct {
	ID          int64   `json:"id"`
	UserMessage string  `json:"user_message"`
	BotResponse string  `json:"bot_response"`
	Rating      *string `json:"rating"`
}
