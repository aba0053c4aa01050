package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/expiry"
	obsmetrics "github.com/smallbiznis/cooptariff/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

// Sweeper is the part of *expiry.Sweeper the scheduler drives.
type Sweeper interface {
	SweepServices(ctx context.Context) (expiry.Result, error)
	SweepAssignments(ctx context.Context) (expiry.Result, error)
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Sweeper *expiry.Sweeper
	Lock    PassLock `optional:"true"`
	Config  Config   `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	sweeper Sweeper
	lock    PassLock
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Sweeper == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		sweeper: p.Sweeper,
		lock:    p.Lock,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next pass picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one sweep pass. When another replica holds the lock the pass is skipped.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context, *jobRun) error
	}{
		{JobExpireServices, func(ctx context.Context, run *jobRun) error {
			result, err := s.sweeper.SweepServices(ctx)
			run.Record(result)
			return err
		}},
		{JobExpireAssignments, func(ctx context.Context, run *jobRun) error {
			result, err := s.sweeper.SweepAssignments(ctx)
			run.Record(result)
			return err
		}},
	}

	enabled := jobs[:0]
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			enabled = append(enabled, job)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	release, acquired, err := s.acquire(parent)
	if err != nil {
		return fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		for _, job := range enabled {
			obsmetrics.Scheduler().IncJobSkipped(job.Name, obsmetrics.SchedulerSkipReasonLockHeld)
		}
		s.log.Debug("scheduler.pass.skipped", zap.String("reason", obsmetrics.SchedulerSkipReasonLockHeld))
		return nil
	}
	defer release()

	var runErr error
	for _, job := range enabled {
		runErr = errors.Join(runErr, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}
	return runErr
}

func (s *Scheduler) acquire(ctx context.Context) (func(), bool, error) {
	if s.lock == nil {
		return func() {}, true, nil
	}
	token, ok, err := s.lock.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, sweepLockKey, token); err != nil {
			s.log.Warn("release sweep lock", zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// empty means every job runs in this process
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
