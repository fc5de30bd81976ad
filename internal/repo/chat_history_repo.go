package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/quitachat/internal/model"
	"github.com/xxxsen/quitachat/internal/pkg/dbutil"
)

var chatHistoryFields = []string{
	"id", "session_id", "user_message", "bot_response", "is_synthetic",
	"user_chars", "bot_chars", "user_tokens", "bot_tokens",
	"request_start_time", "retrieval_end_time", "response_end_time",
	"retrieval_duration_sec", "generation_duration_sec", "total_duration_sec",
}

type ChatHistoryRepo struct {
	db *sql.DB
}

func NewChatHistoryRepo(db *sql.DB) *ChatHistoryRepo {
	return &ChatHistoryRepo{db: db}
}

// Create inserts one turn and returns its generated id.
func (r *ChatHistoryRepo) Create(ctx context.Context, turn *model.ChatTurn) (int64, error) {
	data := map[string]interface{}{
		"session_id":              turn.SessionID,
		"user_message":            turn.UserMessage,
		"bot_response":            turn.BotResponse,
		"is_synthetic":            turn.IsSynthetic,
		"user_chars":              turn.UserChars,
		"bot_chars":               turn.BotChars,
		"user_tokens":             turn.UserTokens,
		"bot_tokens":              turn.BotTokens,
		"request_start_time":      turn.RequestStartTime,
		"retrieval_end_time":      turn.RetrievalEndTime,
		"response_end_time":       turn.ResponseEndTime,
		"retrieval_duration_sec":  turn.RetrievalDurationSec,
		"generation_duration_sec": turn.GenerationDurationSec,
		"total_duration_sec":      turn.TotalDurationSec,
	}
	sqlStr, args, err := builder.BuildInsert("chat_history", []map[string]interface{}{data})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr+" RETURNING id", args)
	var id int64
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ListBySession returns the session's turns oldest first.
func (r *ChatHistoryRepo) ListBySession(ctx context.Context, sessionID string) ([]model.ChatTurn, error) {
	where := map[string]interface{}{
		"session_id": sessionID,
		"_orderby":   "request_start_time asc, id asc",
	}
	sqlStr, args, err := builder.BuildSelect("chat_history", where, chatHistoryFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	turns := make([]model.ChatTurn, 0)
	for rows.Next() {
		var t model.ChatTurn
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.UserMessage, &t.BotResponse, &t.IsSynthetic,
			&t.UserChars, &t.BotChars, &t.UserTokens, &t.BotTokens,
			&t.RequestStartTime, &t.RetrievalEndTime, &t.ResponseEndTime,
			&t.RetrievalDurationSec, &t.GenerationDurationSec, &t.TotalDurationSec,
		); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListForDisplay returns the session's turns with their feedback rating.
func (r *ChatHistoryRepo) ListForDisplay(ctx context.Context, sessionID string) ([]model.DisplayTurn, error) {
	const query = `
		SELECT ch.id, ch.user_message, ch.bot_response, f.rating
		FROM chat_history ch
		LEFT JOIN feedback f ON ch.id = f.message_id
		WHERE ch.session_id = $1
		ORDER BY ch.request_start_time ASC, ch.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	turns := make([]model.DisplayTurn, 0)
	for rows.Next() {
		var (
			t      model.DisplayTurn
			rating sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserMessage, &t.BotResponse, &rating); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := rating.String
			t.Rating = &v
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
