package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/quitachat/internal/ai"
	"github.com/xxxsen/quitachat/internal/docsource"
	"github.com/xxxsen/quitachat/internal/embedcache"
	"github.com/xxxsen/quitachat/internal/model"
	appErr "github.com/xxxsen/quitachat/internal/pkg/errors"
)

const ingestBatchSize = 100

type ChunkIndex interface {
	Add(ctx context.Context, records []model.ChunkRecord) (int64, error)
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	Count(ctx context.Context) (int, error)
	IndexInfo(ctx context.Context) (*model.IndexInfo, error)
	SaveIndexInfo(ctx context.Context, info *model.IndexInfo) error
	Reset(ctx context.Context) error
}

type IngestConfig struct {
	BaseDir string
	Workers int
}

type IngestOptions struct {
	Reset bool
	// Names restricts the run to these documents. Empty means all.
	Names []string
}

type IngestReport struct {
	Files       int `json:"files"`
	FailedFiles int `json:"failed_files"`
	Items       int `json:"items"`
	Empty       int `json:"empty"`
	Duplicates  int `json:"duplicates"`
	Inserted    int `json:"inserted"`
	Total       int `json:"total"`
}

// IngestService loads pre-chunked XML documents into the vector index.
// Runs are serialized so duplicate detection never races with an insert.
type IngestService struct {
	index    ChunkIndex
	embedder ai.IEmbedder
	source   docsource.Source
	cfg      IngestConfig
	mu       sync.Mutex
	now      func() time.Time
}

func NewIngestService(index ChunkIndex, embedder ai.IEmbedder, source docsource.Source, cfg IngestConfig) *IngestService {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &IngestService{index: index, embedder: embedder, source: source, cfg: cfg, now: time.Now}
}

func (s *IngestService) Run(ctx context.Context, opts IngestOptions) (*IngestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := logutil.GetLogger(ctx).With(zap.String("source", s.source.Type()))

	if opts.Reset {
		if err := s.index.Reset(ctx); err != nil {
			return nil, err
		}
		logger.Info("vector index cleared")
	} else if err := s.checkModel(ctx); err != nil {
		return nil, err
	}
	names := opts.Names
	if len(names) == 0 {
		var err error
		if names, err = s.source.List(ctx); err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
	}
	report := &IngestReport{Files: len(names)}
	var chunks []model.Chunk
	for _, name := range names {
		items, empty, err := s.readDocument(ctx, name)
		if err != nil {
			logger.Error("skip unreadable document", zap.String("name", name), zap.Error(err))
			report.FailedFiles++
			continue
		}
		report.Items += len(items)
		report.Empty += empty
		chunks = append(chunks, items...)
	}

	fresh, err := s.dedupe(ctx, chunks)
	if err != nil {
		return nil, err
	}
	report.Duplicates = len(chunks) - len(fresh)

	records, err := s.embedAll(ctx, fresh)
	if err != nil {
		return nil, err
	}
	for start := 0; start < len(records); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(records))
		n, err := s.index.Add(ctx, records[start:end])
		if err != nil {
			return nil, fmt.Errorf("store chunks: %w", err)
		}
		report.Inserted += int(n)
	}

	if report.Total, err = s.index.Count(ctx); err != nil {
		return nil, err
	}
	if err := s.saveIndexInfo(ctx, records, report.Total); err != nil {
		return nil, err
	}
	logger.Info("ingestion done",
		zap.Int("files", report.Files),
		zap.Int("failed_files", report.FailedFiles),
		zap.Int("items", report.Items),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("inserted", report.Inserted),
		zap.Int("total", report.Total),
	)
	return report, nil
}

// checkModel refuses to mix embeddings of two models in one index.
func (s *IngestService) checkModel(ctx context.Context) error {
	prev, err := s.index.IndexInfo(ctx)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil
		}
		return err
	}
	if prev.ChunkCount > 0 && prev.EmbeddingModel != s.embedder.ModelName() {
		return fmt.Errorf("index holds %q embeddings, ingest with --reset to switch to %q: %w",
			prev.EmbeddingModel, s.embedder.ModelName(), appErr.ErrConflict)
	}
	return nil
}

func (s *IngestService) readDocument(ctx context.Context, name string) ([]model.Chunk, int, error) {
	rc, err := s.source.Open(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	return parseXMLChunks(rc, s.cfg.BaseDir)
}

// dedupe drops chunks whose content is already indexed or repeated earlier
// in the same run.
func (s *IngestService) dedupe(ctx context.Context, chunks []model.Chunk) ([]model.ChunkRecord, error) {
	seen := make(map[string]bool, len(chunks))
	records := make([]model.ChunkRecord, 0, len(chunks))
	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		h := embedcache.ContentHash(c.Content)
		if seen[h] {
			continue
		}
		seen[h] = true
		records = append(records, model.ChunkRecord{Chunk: c, ContentHash: h})
		hashes = append(hashes, h)
	}
	existing, err := s.index.ExistingHashes(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("check existing chunks: %w", err)
	}
	out := records[:0]
	for _, r := range records {
		if !existing[r.ContentHash] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *IngestService) embedAll(ctx context.Context, records []model.ChunkRecord) ([]model.ChunkRecord, error) {
	out := make([]model.ChunkRecord, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	ctime := s.now().Unix()
	for i := range records {
		i := i
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, records[i].Content, ai.TaskRetrievalDocument)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			rec := records[i]
			rec.ID = uuid.NewString()
			rec.Embedding = vec
			rec.Ctime = ctime
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *IngestService) saveIndexInfo(ctx context.Context, records []model.ChunkRecord, total int) error {
	dim := 0
	if len(records) > 0 {
		dim = len(records[0].Embedding)
	} else if prev, err := s.index.IndexInfo(ctx); err == nil {
		dim = prev.Dimension
	} else if !errors.Is(err, appErr.ErrNotFound) {
		return err
	}
	return s.index.SaveIndexInfo(ctx, &model.IndexInfo{
		EmbeddingModel: s.embedder.ModelName(),
		Dimension:      dim,
		ChunkCount:     total,
		Mtime:          s.now().Unix(),
	})
}
