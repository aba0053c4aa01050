package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/cooptariff/internal/expiry"
	obscontext "github.com/smallbiznis/cooptariff/internal/observability/context"
	obslogger "github.com/smallbiznis/cooptariff/internal/observability/logger"
	"go.uber.org/zap"
)

type jobRun struct {
	job              string
	runID            string
	sweepRunID       string
	startedAt        time.Time
	checkedCount     int
	deactivatedCount int
	errorCount       int
}

func (r *jobRun) Record(result expiry.Result) {
	if r == nil {
		return
	}
	r.sweepRunID = result.RunID
	r.checkedCount += result.Checked
	r.deactivatedCount += result.Count()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) startJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	return obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "scheduler"), run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Debug("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.String("sweep_run_id", run.sweepRunID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("checked_count", run.checkedCount),
		zap.Int("deactivated_count", run.deactivatedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}
