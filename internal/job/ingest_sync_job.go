package job

import (
	"context"

	"github.com/xxxsen/quitachat/internal/service"
)

type Ingester interface {
	Run(ctx context.Context, opts service.IngestOptions) (*service.IngestReport, error)
}

// IngestSyncJob pulls new documents from the configured source. Content
// already in the index is skipped, so repeated runs only add what changed.
type IngestSyncJob struct {
	ingest Ingester
}

func NewIngestSyncJob(ingest Ingester) *IngestSyncJob {
	return &IngestSyncJob{ingest: ingest}
}

func (j *IngestSyncJob) Name() string {
	return "ingest_sync"
}

func (j *IngestSyncJob) Run(ctx context.Context) error {
	if j.ingest == nil {
		return nil
	}
	_, err := j.ingest.Run(ctx, service.IngestOptions{})
	return err
}
