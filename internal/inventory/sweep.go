package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// NewSweepScheduler registers the low-stock sweep on a fixed interval. The
// caller starts and shuts down the returned scheduler.
func NewSweepScheduler(ctx context.Context, w *Watcher, every time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(w.runSweep, ctx),
		gocron.WithName("low-stock-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("register sweep: %w", err)
	}
	return s, nil
}

func (w *Watcher) runSweep(ctx context.Context) {
	start := time.Now()
	n, err := w.Sweep(ctx)
	if err != nil {
		w.Log.Warn("low-stock sweep failed", zap.Error(err))
		return
	}
	w.Log.Debug("low-stock sweep done", zap.Int("alerts", n), zap.Duration("took", time.Since(start)))
}
