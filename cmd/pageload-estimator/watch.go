package main

import (
	"context"
	"time"

	"github.com/ritzau/pageload-estimator/pkg/logging"
	"github.com/ritzau/pageload-estimator/pkg/watcher"
)

const (
	quietPeriod = 300 * time.Millisecond
	maxWait     = 2 * time.Second
)

// watch re-estimates fixtures under paths as they change until ctx is done
func watch(ctx context.Context, paths []string, r *runner) error {
	fw, err := watcher.NewFileWatcher(paths)
	if err != nil {
		return err
	}
	defer fw.Stop()

	if err := fw.Start(ctx); err != nil {
		return err
	}

	debouncer := watcher.NewDebouncer(fw.Events(), quietPeriod, maxWait)
	debouncer.Start(ctx)
	logging.Info("watching fixtures", "paths", paths)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-debouncer.Output():
			if !ok {
				return nil
			}
			handleChanges(ctx, r, watcher.AnalyzeChanges(event))
		}
	}
}

func handleChanges(ctx context.Context, r *runner, analysis *watcher.ChangeAnalysis) {
	if analysis.Empty() {
		return
	}
	logging.Debug("fixtures changed",
		"reestimate", len(analysis.Reestimate),
		"forget", len(analysis.Forget),
	)
	for _, path := range analysis.Forget {
		r.forget(path)
	}
	for _, path := range analysis.Reestimate {
		r.reestimate(ctx, path)
	}
}
