package embedcache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/quitachat/internal/ai"
)

// WrapLRU keeps recent query embeddings in memory. Concurrent misses for the
// same key share one upstream call.
func WrapLRU(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next   ai.IEmbedder
	cache  *expirable.LRU[string, []float32]
	flight singleflight.Group
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	key := newCacheKey(l.next.ModelName(), taskType, text).String()
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("task_type", taskType))
		return slices.Clone(cached), nil
	}
	// The shared call outlives any single caller; each caller waits on its own ctx.
	ch := l.flight.DoChan(key, func() (interface{}, error) {
		res, err := l.next.Embed(context.WithoutCancel(ctx), text, taskType)
		if err != nil {
			return nil, err
		}
		if len(res) > 0 {
			l.cache.Add(key, slices.Clone(res))
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return slices.Clone(r.Val.([]float32)), nil
	}
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}
