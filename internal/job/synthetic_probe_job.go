package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/quitachat/internal/service"
)

// SyntheticProbeJob asks a fixed set of questions through the full chat
// pipeline in a fresh session. Its turns are stored flagged as synthetic.
type SyntheticProbeJob struct {
	chat      *service.ChatService
	questions []string
	newID     func() string
}

func NewSyntheticProbeJob(chat *service.ChatService, questions []string) *SyntheticProbeJob {
	return &SyntheticProbeJob{chat: chat, questions: questions, newID: service.NewSessionID}
}

func (j *SyntheticProbeJob) Name() string {
	return "synthetic_probe"
}

func (j *SyntheticProbeJob) Run(ctx context.Context) error {
	if j.chat == nil || len(j.questions) == 0 {
		return nil
	}
	session := j.chat.Session(j.newID())
	logger := logutil.GetLogger(ctx).With(zap.String("session_id", session.ID()))
	failed := 0
	for _, q := range j.questions {
		start := time.Now()
		resp, err := session.GenerateResponse(ctx, q, true)
		if err != nil {
			failed++
			logger.Error("probe question failed", zap.String("question", q), zap.Error(err))
			continue
		}
		if resp.MessageID == nil {
			failed++
			logger.Warn("probe answer not stored", zap.String("question", q), zap.String("answer", resp.Answer))
			continue
		}
		logger.Info("probe answered",
			zap.String("question", q),
			zap.Int64("message_id", *resp.MessageID),
			zap.Int("answer_chars", len([]rune(resp.Answer))),
			zap.Bool("refused", strings.HasPrefix(resp.Answer, "Desculpe")),
			zap.Duration("duration", time.Since(start)),
		)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d probe questions failed", failed, len(j.questions))
	}
	return nil
}
