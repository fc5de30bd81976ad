package docsource

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Watch calls onChange with the names of XML files in dir that were written,
// created or renamed into place. Events are batched for debounce so an editor
// saving several files triggers one call. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, debounce time.Duration, onChange func(ctx context.Context, names []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("dir", dir))
	logger.Info("watching document dir")

	pending := map[string]struct{}{}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isXML(name) {
				continue
			}
			pending[name] = struct{}{}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			pending = map[string]struct{}{}
			onChange(ctx, names)
		}
	}
}
