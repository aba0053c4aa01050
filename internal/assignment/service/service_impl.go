package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	assignmentdomain "github.com/smallbiznis/cooptariff/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
	directorydomain "github.com/smallbiznis/cooptariff/internal/directory/domain"
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

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        assignmentdomain.Repository
	ServiceRepo catalogdomain.Repository
	Directory   directorydomain.Directory
	Audit       auditdomain.Service
	Ledger      *config.LedgerConfigHolder `optional:"true"`
	Metrics     *metrics.Metrics           `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        assignmentdomain.Repository
	serviceRepo catalogdomain.Repository
	directory   directorydomain.Directory
	audit       auditdomain.Service
	ledger      *config.LedgerConfigHolder
	metrics     *metrics.Metrics
}

func New(p Params) assignmentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("assignment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		serviceRepo: p.ServiceRepo,
		directory:   p.Directory,
		audit:       p.Audit,
		ledger:      p.Ledger,
		metrics:     p.Metrics,
	}
}

func (s *Service) CreateAssignment(ctx context.Context, req assignmentdomain.CreateAssignmentRequest) (*assignmentdomain.AssignmentResponse, error) {
	serviceID, err := parseID(req.ServiceID)
	if err != nil {
		return nil, s.reject(ctx, "create_assignment", err)
	}
	scope, err := parseScope(req.Scope)
	if err != nil {
		return nil, s.reject(ctx, "create_assignment", err)
	}
	if err := validateTarget(scope, req.ApartmentID, req.EntranceNumber); err != nil {
		return nil, s.reject(ctx, "create_assignment", err)
	}

	var (
		name     string
		category rateledger.Category
		method   rateledger.CalculationMethod
	)
	if req.Name != "" {
		if name, err = normalizeName(req.Name); err != nil {
			return nil, s.reject(ctx, "create_assignment", err)
		}
	}
	if req.Category != "" {
		if category, err = rateledger.ParseCategory(req.Category); err != nil {
			return nil, s.reject(ctx, "create_assignment", err)
		}
	}
	if req.CalculationMethod != "" {
		if method, err = rateledger.ParseCalculationMethod(req.CalculationMethod); err != nil {
			return nil, s.reject(ctx, "create_assignment", err)
		}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	if err := s.checkTarget(ctx, scope, req.ApartmentID, req.EntranceNumber); err != nil {
		return nil, s.reject(ctx, "create_assignment", err)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		assignment *assignmentdomain.ServiceAssignment
		seed       *assignmentdomain.AssignmentTariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		parent, err := s.serviceRepo.LockServiceByID(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		if parent == nil {
			return assignmentdomain.ErrServiceMissing
		}
		if !parent.Active {
			return assignmentdomain.ErrServiceInactive
		}

		assignment = &assignmentdomain.ServiceAssignment{
			ID:                s.genID.Generate(),
			ServiceID:         parent.ID,
			Scope:             scope,
			ApartmentID:       copyInt64(req.ApartmentID),
			EntranceNumber:    copyInt(req.EntranceNumber),
			Name:              firstNonEmpty(name, parent.Name),
			Category:          parent.Category,
			CalculationMethod: parent.CalculationMethod,
			Active:            active,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if category != "" {
			assignment.Category = category
		}
		if method != "" {
			assignment.CalculationMethod = method
		}
		if err := s.repo.InsertAssignment(ctx, tx, assignment); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}

		assignmentID := assignment.ID
		seed = &assignmentdomain.AssignmentTariff{
			ID:             s.genID.Generate(),
			AssignmentID:   &assignmentID,
			AssignmentName: assignment.Name,
			Rate:           decimal.Zero,
			Unit:           rateledger.DefaultUnit(assignment.CalculationMethod),
			StartDate:      today,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertTariff(ctx, tx, seed); err != nil {
			return fmt.Errorf("insert seed tariff: %w", err)
		}

		rate := seed.Rate
		return record(auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   assignment.ID,
			Action:     auditdomain.ActionAssignmentCreated,
			RateAfter:  &rate,
			Metadata: map[string]any{
				"service_id": parent.ID.String(),
				"scope":      string(scope),
				"tariff_id":  seed.ID.String(),
				"unit":       string(seed.Unit),
			},
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "create_assignment", err)
	}

	s.metrics.RecordTariffChange(ctx, metrics.LedgerAssignments, "create")
	return toAssignmentResponse(*assignment, []assignmentdomain.AssignmentTariff{*seed}, today), nil
}

// checkTarget asks the directory whether the apartment or entrance exists.
func (s *Service) checkTarget(ctx context.Context, scope assignmentdomain.Scope, apartmentID *int64, entranceNumber *int) error {
	switch scope {
	case assignmentdomain.ScopeApartment:
		ok, err := s.directory.ApartmentExists(ctx, *apartmentID)
		if err != nil {
			return fmt.Errorf("check apartment: %w", err)
		}
		if !ok {
			return assignmentdomain.ErrApartmentNotFound
		}
	case assignmentdomain.ScopeEntrance:
		ok, err := s.directory.EntranceExists(ctx, *entranceNumber)
		if err != nil {
			return fmt.Errorf("check entrance: %w", err)
		}
		if !ok {
			return assignmentdomain.ErrEntranceNotFound
		}
	}
	return nil
}

func (s *Service) UpdateAssignment(ctx context.Context, id string, patch assignmentdomain.AssignmentPatch) (*assignmentdomain.AssignmentResponse, error) {
	assignmentID, err := parseID(id)
	if err != nil {
		return nil, s.reject(ctx, "update_assignment", err)
	}
	if patch.Empty() {
		return nil, s.reject(ctx, "update_assignment", assignmentdomain.ErrEmptyPatch)
	}
	fields, err := validatePatch(patch)
	if err != nil {
		return nil, s.reject(ctx, "update_assignment", err)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		assignment *assignmentdomain.ServiceAssignment
		ledger     []assignmentdomain.AssignmentTariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		var err error
		assignment, err = s.repo.LockAssignmentByID(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return assignmentdomain.ErrAssignmentNotFound
		}

		changed := map[string]any{}
		if fields.name != nil && *fields.name != assignment.Name {
			changed["name"] = *fields.name
			assignment.Name = *fields.name
		}
		if fields.category != nil && *fields.category != assignment.Category {
			changed["category"] = string(*fields.category)
			assignment.Category = *fields.category
		}

		ledger, err = s.repo.ListTariffs(ctx, tx, assignment.ID)
		if err != nil {
			return err
		}

		if fields.method != nil && *fields.method != assignment.CalculationMethod {
			changed["calculation_method"] = string(*fields.method)
			assignment.CalculationMethod = *fields.method
			ledger, err = s.resyncUnit(ctx, tx, record, assignment, ledger, today, now)
			if err != nil {
				return err
			}
		}

		if len(changed) == 0 {
			return nil
		}

		assignment.UpdatedAt = now
		if err := s.repo.UpdateAssignment(ctx, tx, assignment); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   assignment.ID,
			Action:     auditdomain.ActionAssignmentUpdated,
			Metadata:   changed,
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "update_assignment", err)
	}

	return toAssignmentResponse(*assignment, ledger, today), nil
}

// resyncUnit carries the rate in effect today onto the default unit of the new
// calculation method, the same way the service ledger does.
func (s *Service) resyncUnit(ctx context.Context, tx *gorm.DB, record auditdomain.RecordFunc, assignment *assignmentdomain.ServiceAssignment, ledger []assignmentdomain.AssignmentTariff, today, now time.Time) ([]assignmentdomain.AssignmentTariff, error) {
	unit := rateledger.DefaultUnit(assignment.CalculationMethod)

	next := make([]assignmentdomain.AssignmentTariff, len(ledger))
	copy(next, ledger)

	var (
		updates  []int
		inserted *assignmentdomain.AssignmentTariff
		before   *assignmentdomain.AssignmentTariff
	)

	effective, ok := rateledger.SelectEffective(next, today)
	if ok && effective.Unit != unit {
		idx := indexOfTariff(next, effective.ID)
		prev := next[idx]
		before = &prev
		if rateledger.DateOf(effective.StartDate).Equal(today) {
			next[idx].Unit = unit
			next[idx].UpdatedAt = now
			updates = append(updates, idx)
		} else {
			// the carried row stays open unless a scheduled row follows it
			var carriedEnd *time.Time
			if rateledger.HasUpcoming(next, today) {
				carriedEnd = effective.EndDate
			}
			yesterday := rateledger.Yesterday(today)
			next[idx].EndDate = &yesterday
			next[idx].UpdatedAt = now
			updates = append(updates, idx)

			assignmentID := assignment.ID
			inserted = &assignmentdomain.AssignmentTariff{
				ID:             s.genID.Generate(),
				AssignmentID:   &assignmentID,
				AssignmentName: assignment.Name,
				Rate:           effective.Rate,
				Unit:           unit,
				StartDate:      today,
				EndDate:        carriedEnd,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			next = append(next, *inserted)
		}
	}

	for i := range next {
		if inserted != nil && next[i].ID == inserted.ID {
			continue
		}
		if next[i].Window().Upcoming(today) && next[i].Unit != unit {
			next[i].Unit = unit
			next[i].UpdatedAt = now
			updates = append(updates, i)
		}
	}

	if err := rateledger.ValidateTimeline(rateledger.Windows(next)); err != nil {
		return nil, err
	}

	for _, idx := range updates {
		if err := s.repo.UpdateTariff(ctx, tx, &next[idx]); err != nil {
			return nil, fmt.Errorf("update assignment tariff: %w", err)
		}
	}
	if inserted != nil {
		if err := s.repo.InsertTariff(ctx, tx, inserted); err != nil {
			return nil, fmt.Errorf("insert carried assignment tariff: %w", err)
		}
	}

	if before != nil {
		rate := before.Rate
		metadata := map[string]any{
			"unit_before": string(before.Unit),
			"unit_after":  string(unit),
			"tariff_id":   before.ID.String(),
		}
		if inserted != nil {
			metadata["carried_tariff_id"] = inserted.ID.String()
		}
		if err := record(auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   assignment.ID,
			Action:     auditdomain.ActionAssignmentUnitChanged,
			RateBefore: &rate,
			RateAfter:  &rate,
			Metadata:   metadata,
		}); err != nil {
			return nil, err
		}
		s.metrics.RecordTariffChange(ctx, metrics.LedgerAssignments, "carry_forward")
	}

	sortTariffs(next)
	return next, nil
}

func (s *Service) GetAssignment(ctx context.Context, id string) (*assignmentdomain.AssignmentResponse, error) {
	assignmentID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	assignment, err := s.repo.FindAssignmentByID(ctx, s.db, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignmentdomain.ErrAssignmentNotFound
	}

	ledger, err := s.repo.ListTariffs(ctx, s.db, assignment.ID)
	if err != nil {
		return nil, err
	}
	return toAssignmentResponse(*assignment, ledger, s.today()), nil
}

func (s *Service) ListAssignments(ctx context.Context, req assignmentdomain.ListAssignmentsRequest) ([]assignmentdomain.AssignmentResponse, error) {
	filter := assignmentdomain.AssignmentFilter{
		ApartmentID:    req.ApartmentID,
		EntranceNumber: req.EntranceNumber,
		Active:         req.Active,
	}
	if req.ServiceID != "" {
		id, err := parseID(req.ServiceID)
		if err != nil {
			return nil, err
		}
		filter.ServiceID = id
	}
	if req.Scope != "" {
		scope, err := parseScope(req.Scope)
		if err != nil {
			return nil, err
		}
		filter.Scope = scope
	}

	assignments, err := s.repo.ListAssignments(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(assignments))
	for _, assignment := range assignments {
		ids = append(ids, assignment.ID)
	}
	tariffs, err := s.repo.ListTariffsByAssignmentIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byAssignment := make(map[snowflake.ID][]assignmentdomain.AssignmentTariff, len(assignments))
	for _, tariff := range tariffs {
		byAssignment[*tariff.AssignmentID] = append(byAssignment[*tariff.AssignmentID], tariff)
	}

	today := s.today()
	out := make([]assignmentdomain.AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		out = append(out, *toAssignmentResponse(assignment, byAssignment[assignment.ID], today))
	}
	return out, nil
}

// ToggleAssignment flips the active flag. Activation requires a tariff in effect today.
func (s *Service) ToggleAssignment(ctx context.Context, id string) (*assignmentdomain.AssignmentResponse, error) {
	assignmentID, err := parseID(id)
	if err != nil {
		return nil, s.reject(ctx, "toggle_assignment", err)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		assignment *assignmentdomain.ServiceAssignment
		ledger     []assignmentdomain.AssignmentTariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		var err error
		assignment, err = s.repo.LockAssignmentByID(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return assignmentdomain.ErrAssignmentNotFound
		}
		ledger, err = s.repo.ListTariffs(ctx, tx, assignment.ID)
		if err != nil {
			return err
		}

		action := auditdomain.ActionAssignmentDeactivated
		if !assignment.Active {
			if _, ok := rateledger.SelectEffective(ledger, today); !ok {
				return assignmentdomain.ErrNoActiveTariff
			}
			action = auditdomain.ActionAssignmentActivated
		}

		assignment.Active = !assignment.Active
		assignment.UpdatedAt = now
		if err := s.repo.UpdateAssignment(ctx, tx, assignment); err != nil {
			return fmt.Errorf("update assignment: %w", err)
		}

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   assignment.ID,
			Action:     action,
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "toggle_assignment", err)
	}

	s.metrics.RecordActivationChange(ctx, metrics.LedgerAssignments, "toggle", assignment.Active)
	return toAssignmentResponse(*assignment, ledger, today), nil
}

// DeleteAssignment removes the assignment and keeps its tariff rows as orphaned history.
func (s *Service) DeleteAssignment(ctx context.Context, id string) error {
	assignmentID, err := parseID(id)
	if err != nil {
		return s.reject(ctx, "delete_assignment", err)
	}

	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		assignment, err := s.repo.LockAssignmentByID(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return assignmentdomain.ErrAssignmentNotFound
		}

		retained, err := s.repo.DetachTariffs(ctx, tx, assignment.ID)
		if err != nil {
			return fmt.Errorf("detach assignment tariffs: %w", err)
		}
		if err := s.repo.DeleteAssignment(ctx, tx, assignment.ID); err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   assignment.ID,
			Action:     auditdomain.ActionAssignmentDeleted,
			Metadata: map[string]any{
				"name":             assignment.Name,
				"service_id":       assignment.ServiceID.String(),
				"retained_tariffs": retained,
			},
		})
	})
	if err != nil {
		return s.reject(ctx, "delete_assignment", err)
	}

	s.metrics.RecordTariffChange(ctx, metrics.LedgerAssignments, "detach")
	return nil
}

func (s *Service) ListAssignmentTariffs(ctx context.Context, assignmentID string) ([]assignmentdomain.TariffResponse, error) {
	id, err := parseID(assignmentID)
	if err != nil {
		return nil, err
	}

	assignment, err := s.repo.FindAssignmentByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignmentdomain.ErrAssignmentNotFound
	}

	ledger, err := s.repo.ListTariffs(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return toTariffResponses(ledger, s.today()), nil
}

func (s *Service) ListOrphanedTariffs(ctx context.Context) ([]assignmentdomain.TariffResponse, error) {
	ledger, err := s.repo.ListOrphanedTariffs(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return toTariffResponses(ledger, s.today()), nil
}

// ReplaceAssignmentRate edits the referenced row in place when the new start equals its
// start; otherwise it closes the row the day before the new start and appends a new row.
// The caller chooses the end date of the edited or appended row.
func (s *Service) ReplaceAssignmentRate(ctx context.Context, tariffID string, req assignmentdomain.ReplaceAssignmentRateRequest) (*assignmentdomain.ReplaceAssignmentRateResponse, error) {
	refID, err := parseID(tariffID)
	if err != nil {
		return nil, s.reject(ctx, "replace_assignment_rate", err)
	}
	if req.Rate == nil {
		return nil, s.reject(ctx, "replace_assignment_rate", assignmentdomain.ErrRateRequired)
	}
	rate := *req.Rate
	if err := rateledger.ValidateRate(rate); err != nil {
		return nil, s.reject(ctx, "replace_assignment_rate", err)
	}
	newStart, err := rateledger.ParseDate(req.StartDate)
	if err != nil {
		return nil, s.reject(ctx, "replace_assignment_rate", err)
	}
	newEnd, err := rateledger.ParseOptionalDate(req.EndDate)
	if err != nil {
		return nil, s.reject(ctx, "replace_assignment_rate", err)
	}
	if newEnd != nil && newEnd.Before(newStart) {
		return nil, s.reject(ctx, "replace_assignment_rate", rateledger.ErrInvalidInterval)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var resp assignmentdomain.ReplaceAssignmentRateResponse
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		ref, err := s.repo.FindTariffByID(ctx, tx, refID)
		if err != nil {
			return err
		}
		if ref == nil {
			return assignmentdomain.ErrTariffNotFound
		}
		if ref.Orphaned() {
			return assignmentdomain.ErrAssignmentMissing
		}

		assignment, err := s.repo.LockAssignmentByID(ctx, tx, *ref.AssignmentID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return assignmentdomain.ErrAssignmentMissing
		}
		parent, err := s.serviceRepo.FindServiceByID(ctx, tx, assignment.ServiceID)
		if err != nil {
			return err
		}
		if parent == nil {
			return assignmentdomain.ErrServiceMissing
		}
		if !parent.Active {
			return assignmentdomain.ErrServiceInactive
		}
		if !assignment.Active {
			return assignmentdomain.ErrAssignmentInactive
		}

		ledger, err := s.repo.ListTariffs(ctx, tx, assignment.ID)
		if err != nil {
			return err
		}
		idx := indexOfTariff(ledger, refID)
		if idx < 0 {
			return assignmentdomain.ErrTariffNotFound
		}
		current := ledger[idx]

		if current.Window().Expired(today) {
			return assignmentdomain.ErrExpiredTariff
		}
		refStart := rateledger.DateOf(current.StartDate)
		if newStart.Before(refStart) {
			return assignmentdomain.ErrStartBeforeReference
		}

		rateBefore := current.Rate
		next := make([]assignmentdomain.AssignmentTariff, len(ledger), len(ledger)+1)
		copy(next, ledger)

		if newStart.Equal(refStart) {
			current.Rate = rate
			current.EndDate = newEnd
			current.UpdatedAt = now
			next[idx] = current
			if err := rateledger.ValidateTimeline(rateledger.Windows(next)); err != nil {
				return err
			}
			if err := s.repo.UpdateTariff(ctx, tx, &current); err != nil {
				return fmt.Errorf("edit assignment tariff: %w", err)
			}
			resp.Tariff = toTariffResponse(current, today)

			return record(auditdomain.Event{
				EntityType: auditdomain.EntityAssignment,
				EntityID:   assignment.ID,
				Action:     auditdomain.ActionAssignmentTariffEdited,
				RateBefore: &rateBefore,
				RateAfter:  &rate,
				Metadata: map[string]any{
					"tariff_id": current.ID.String(),
					"end_date":  rateledger.FormatOptionalDate(newEnd),
				},
			})
		}

		endForOld := newStart.AddDate(0, 0, -1)
		if current.EndDate == nil || rateledger.DateOf(*current.EndDate).After(endForOld) {
			current.EndDate = &endForOld
		}
		current.UpdatedAt = now

		assignmentID := assignment.ID
		created := assignmentdomain.AssignmentTariff{
			ID:             s.genID.Generate(),
			AssignmentID:   &assignmentID,
			AssignmentName: assignment.Name,
			Rate:           rate,
			Unit:           current.Unit,
			StartDate:      newStart,
			EndDate:        newEnd,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		next[idx] = current
		next = append(next, created)
		if err := rateledger.ValidateTimeline(rateledger.Windows(next)); err != nil {
			return err
		}

		if err := s.repo.UpdateTariff(ctx, tx, &current); err != nil {
			return fmt.Errorf("close assignment tariff: %w", err)
		}
		if err := s.repo.InsertTariff(ctx, tx, &created); err != nil {
			return fmt.Errorf("insert assignment tariff: %w", err)
		}

		closed := toTariffResponse(current, today)
		resp.Closed = &closed
		resp.Tariff = toTariffResponse(created, today)

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityAssignment,
			EntityID:   assignment.ID,
			Action:     auditdomain.ActionAssignmentTariffReplaced,
			RateBefore: &rateBefore,
			RateAfter:  &rate,
			Metadata: map[string]any{
				"closed_tariff_id": current.ID.String(),
				"tariff_id":        created.ID.String(),
				"start_date":       rateledger.FormatDate(newStart),
				"end_date":         rateledger.FormatOptionalDate(newEnd),
			},
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "replace_assignment_rate", err)
	}

	s.metrics.RecordTariffChange(ctx, metrics.LedgerAssignments, "replace_rate")
	return &resp, nil
}

// DeleteAssignmentTariff always fails; assignment ledgers are kept as billing history.
func (s *Service) DeleteAssignmentTariff(ctx context.Context, id string) error {
	return s.reject(ctx, "delete_assignment_tariff", assignmentdomain.ErrTariffDeletionDisabled)
}

func (s *Service) today() time.Time {
	return rateledger.DateOf(s.clock.Now())
}

// inTx runs fn in a retried transaction. Events passed to record are written with the
// transaction and published once it commits; a replayed attempt starts with none.
func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB, record auditdomain.RecordFunc) error) error {
	retry := s.ledger.Get().Retry
	var pending []auditdomain.Event
	err := db.RunInTx(ctx, s.db, db.RetryPolicy{
		MaxAttempts:     retry.MaxAttempts,
		InitialInterval: retry.InitialInterval,
		MaxInterval:     retry.MaxInterval,
	}, func(tx *gorm.DB) error {
		pending = pending[:0]
		return fn(tx, func(event auditdomain.Event) error {
			if err := s.audit.Record(ctx, tx, event); err != nil {
				return err
			}
			pending = append(pending, event)
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.audit.Publish(ctx, pending...)
	return nil
}

func (s *Service) reject(ctx context.Context, operation string, err error) error {
	if rateledger.IsBusinessError(err) {
		s.metrics.RecordRejection(ctx, operation, rateledger.CodeOf(err))
		return err
	}
	logger.WithContext(ctx, s.log).Error("ledger operation failed", zap.String("operation", operation), zap.Error(err))
	return err
}

func toAssignmentResponse(assignment assignmentdomain.ServiceAssignment, ledger []assignmentdomain.AssignmentTariff, today time.Time) *assignmentdomain.AssignmentResponse {
	resp := &assignmentdomain.AssignmentResponse{
		ID:                assignment.ID.String(),
		ServiceID:         assignment.ServiceID.String(),
		Scope:             assignment.Scope,
		ApartmentID:       assignment.ApartmentID,
		EntranceNumber:    assignment.EntranceNumber,
		Name:              assignment.Name,
		Category:          assignment.Category,
		CalculationMethod: assignment.CalculationMethod,
		Active:            assignment.Active,
		CreatedAt:         assignment.CreatedAt,
		UpdatedAt:         assignment.UpdatedAt,
	}
	if current, ok := rateledger.SelectEffective(ledger, today); ok {
		tariff := toTariffResponse(current, today)
		resp.CurrentTariff = &tariff
	}
	return resp
}

func toTariffResponses(ledger []assignmentdomain.AssignmentTariff, today time.Time) []assignmentdomain.TariffResponse {
	out := make([]assignmentdomain.TariffResponse, 0, len(ledger))
	for _, tariff := range ledger {
		out = append(out, toTariffResponse(tariff, today))
	}
	return out
}

func toTariffResponse(tariff assignmentdomain.AssignmentTariff, today time.Time) assignmentdomain.TariffResponse {
	resp := assignmentdomain.TariffResponse{
		ID:             tariff.ID.String(),
		AssignmentName: tariff.AssignmentName,
		Rate:           tariff.Rate.StringFixed(rateledger.RateScale),
		Unit:           tariff.Unit,
		StartDate:      rateledger.FormatDate(tariff.StartDate),
		EndDate:        rateledger.FormatOptionalDate(tariff.EndDate),
		Status:         tariff.Window().Status(today),
	}
	if tariff.AssignmentID != nil {
		id := tariff.AssignmentID.String()
		resp.AssignmentID = &id
	}
	return resp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
