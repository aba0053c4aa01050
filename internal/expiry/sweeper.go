// Package expiry deactivates services and assignments whose tariff ledger has gone stale.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	assignmentdomain "github.com/smallbiznis/cooptariff/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
	obscontext "github.com/smallbiznis/cooptariff/internal/observability/context"
	"github.com/smallbiznis/cooptariff/internal/observability/logger"
	"github.com/smallbiznis/cooptariff/internal/observability/metrics"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
	"github.com/smallbiznis/cooptariff/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	ServiceRepo    catalogdomain.Repository
	AssignmentRepo assignmentdomain.Repository
	Audit          auditdomain.Service
	Ledger         *config.LedgerConfigHolder `optional:"true"`
	Metrics        *metrics.Metrics           `optional:"true"`
}

// Result summarizes one pass over one ledger kind.
type Result struct {
	RunID       string
	Ledger      string
	Checked     int
	Deactivated []snowflake.ID
}

func (r Result) Count() int { return len(r.Deactivated) }

type Sweeper struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	serviceRepo    catalogdomain.Repository
	assignmentRepo assignmentdomain.Repository
	audit          auditdomain.Service
	ledger         *config.LedgerConfigHolder
	metrics        *metrics.Metrics
}

func New(p Params) *Sweeper {
	return &Sweeper{
		db:             p.DB,
		log:            p.Log.Named("expiry"),
		clock:          p.Clock,
		serviceRepo:    p.ServiceRepo,
		assignmentRepo: p.AssignmentRepo,
		audit:          p.Audit,
		ledger:         p.Ledger,
		metrics:        p.Metrics,
	}
}

// Run sweeps services, then assignments. A failure in one does not stop the other.
func (s *Sweeper) Run(ctx context.Context) ([]Result, error) {
	services, svcErr := s.SweepServices(ctx)
	assignments, asgErr := s.SweepAssignments(ctx)
	return []Result{services, assignments}, errors.Join(svcErr, asgErr)
}

// SweepServices deactivates every active service without an effective or scheduled tariff.
func (s *Sweeper) SweepServices(ctx context.Context) (Result, error) {
	ctx = withSweepActor(ctx)
	result := Result{RunID: ulid.Make().String(), Ledger: metrics.LedgerServices}
	today := s.today()

	active := true
	services, err := s.serviceRepo.ListServices(ctx, s.db, catalogdomain.ServiceFilter{Active: &active})
	if err != nil {
		return result, fmt.Errorf("list active services: %w", err)
	}
	result.Checked = len(services)

	var sweepErr error
	for _, batch := range chunk(serviceIDs(services), s.batchSize()) {
		if err := ctx.Err(); err != nil {
			return result, errors.Join(sweepErr, err)
		}
		tariffs, err := s.serviceRepo.ListTariffsByServiceIDs(ctx, s.db, batch)
		if err != nil {
			sweepErr = errors.Join(sweepErr, fmt.Errorf("list service tariffs: %w", err))
			continue
		}
		ledgers := make(map[snowflake.ID][]catalogdomain.Tariff, len(batch))
		for _, tariff := range tariffs {
			ledgers[tariff.ServiceID] = append(ledgers[tariff.ServiceID], tariff)
		}

		for _, id := range batch {
			if !rateledger.Stale(ledgers[id], today) {
				continue
			}
			changed, err := s.deactivateService(ctx, id, today, result.RunID)
			if err != nil {
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			if changed {
				result.Deactivated = append(result.Deactivated, id)
			}
		}
	}

	s.finish(ctx, result)
	return result, sweepErr
}

// deactivateService re-reads the ledger inside the transaction so a tariff written since
// the listing keeps the service active.
func (s *Sweeper) deactivateService(ctx context.Context, id snowflake.ID, today time.Time, runID string) (bool, error) {
	var changed bool
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		changed = false
		ledger, err := s.serviceRepo.ListTariffs(ctx, tx, id)
		if err != nil {
			return err
		}
		if !rateledger.Stale(ledger, today) {
			return nil
		}
		changed, err = s.serviceRepo.DeactivateService(ctx, tx, id)
		if err != nil || !changed {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   id,
			Action:     auditdomain.ActionExpiryDeactivated,
			Metadata:   deactivationMetadata(ledger, runID),
		})
	})
	if err != nil {
		return false, fmt.Errorf("deactivate service %s: %w", id, err)
	}
	if changed {
		s.logTransition(ctx, metrics.LedgerServices, id, runID)
	}
	return changed, nil
}

// SweepAssignments deactivates every active assignment without an effective or scheduled tariff.
func (s *Sweeper) SweepAssignments(ctx context.Context) (Result, error) {
	ctx = withSweepActor(ctx)
	result := Result{RunID: ulid.Make().String(), Ledger: metrics.LedgerAssignments}
	today := s.today()

	active := true
	assignments, err := s.assignmentRepo.ListAssignments(ctx, s.db, assignmentdomain.AssignmentFilter{Active: &active})
	if err != nil {
		return result, fmt.Errorf("list active assignments: %w", err)
	}
	result.Checked = len(assignments)

	ids := make([]snowflake.ID, 0, len(assignments))
	for _, assignment := range assignments {
		ids = append(ids, assignment.ID)
	}

	var sweepErr error
	for _, batch := range chunk(ids, s.batchSize()) {
		if err := ctx.Err(); err != nil {
			return result, errors.Join(sweepErr, err)
		}
		tariffs, err := s.assignmentRepo.ListTariffsByAssignmentIDs(ctx, s.db, batch)
		if err != nil {
			sweepErr = errors.Join(sweepErr, fmt.Errorf("list assignment tariffs: %w", err))
			continue
		}
		ledgers := make(map[snowflake.ID][]assignmentdomain.AssignmentTariff, len(batch))
		for _, tariff := range tariffs {
			ledgers[*tariff.AssignmentID] = append(ledgers[*tariff.AssignmentID], tariff)
		}

		for _, id := range batch {
			if !rateledger.Stale(ledgers[id], today) {
				continue
			}
			changed, err := s.deactivateAssignment(ctx, id, today, result.RunID)
			if err != nil {
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			if changed {
				result.Deactivated = append(result.Deactivated, id)
			}
		}
	}

	s.finish(ctx, result)
	return result, sweepErr
}

func (s *Sweeper) deactivateAssignment(ctx context.Context, id snowflake.ID, today time.Time, runID string) (bool, error) {
	var changed bool
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		changed = false
		ledger, err := s.assignmentRepo.ListTariffs(ctx, tx, id)
		if err != nil {
			return err
		}
		if !rateledger.Stale(ledger, today) {
			return nil
		}
		changed, err = s.assignmentRepo.DeactivateAssignment(ctx, tx, id)
		if err != nil || !changed {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   id,
			Action:     auditdomain.ActionExpiryDeactivated,
			Metadata:   deactivationMetadata(ledger, runID),
		})
	})
	if err != nil {
		return false, fmt.Errorf("deactivate assignment %s: %w", id, err)
	}
	if changed {
		s.logTransition(ctx, metrics.LedgerAssignments, id, runID)
	}
	return changed, nil
}

func (s *Sweeper) logTransition(ctx context.Context, ledger string, id snowflake.ID, runID string) {
	logger.WithContext(ctx, s.log).Info("expiry.deactivated",
		zap.String("ledger", ledger),
		zap.String("id", id.String()),
		zap.String("run_id", runID),
	)
	s.metrics.RecordActivationChange(ctx, ledger, "sweep", false)
}

// finish emits the pass summary. Nothing is logged when the pass changed nothing.
func (s *Sweeper) finish(ctx context.Context, result Result) {
	if result.Count() == 0 {
		return
	}
	metrics.Scheduler().AddDeactivations(result.Ledger, result.Count())

	ids := make([]string, 0, result.Count())
	for _, id := range result.Deactivated {
		ids = append(ids, id.String())
	}
	logger.WithContext(ctx, s.log).Info("expiry.sweep.finish",
		zap.String("ledger", result.Ledger),
		zap.String("run_id", result.RunID),
		zap.Int("checked", result.Checked),
		zap.Int("deactivated_count", result.Count()),
		zap.Strings("deactivated_ids", ids),
	)
}

func (s *Sweeper) today() time.Time {
	return rateledger.DateOf(s.clock.Now())
}

func (s *Sweeper) batchSize() int {
	return s.ledger.Get().Sweep.BatchSize
}

func (s *Sweeper) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	retry := s.ledger.Get().Retry
	return db.RunInTx(ctx, s.db, db.RetryPolicy{
		MaxAttempts:     retry.MaxAttempts,
		InitialInterval: retry.InitialInterval,
		MaxInterval:     retry.MaxInterval,
	}, fn)
}

func withSweepActor(ctx context.Context) context.Context {
	if actorType, _ := obscontext.ActorFromContext(ctx); actorType != "" {
		return ctx
	}
	return obscontext.WithActor(ctx, obscontext.ActorTypeSystem, "expiry")
}

func deactivationMetadata[T rateledger.Ranged](ledger []T, runID string) map[string]any {
	metadata := map[string]any{"run_id": runID, "tariffs": len(ledger)}
	var last *time.Time
	for _, row := range ledger {
		if end := row.Window().End; end != nil && (last == nil || end.After(*last)) {
			last = end
		}
	}
	if last != nil {
		metadata["last_end_date"] = rateledger.FormatDate(*last)
	}
	return metadata
}

func serviceIDs(services []catalogdomain.Service) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(services))
	for _, service := range services {
		ids = append(ids, service.ID)
	}
	return ids
}

func chunk(ids []snowflake.ID, size int) [][]snowflake.ID {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]snowflake.ID
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
