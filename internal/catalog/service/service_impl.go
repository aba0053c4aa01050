package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
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

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    catalogdomain.Repository
	Audit   auditdomain.Service
	Ledger  *config.LedgerConfigHolder `optional:"true"`
	Metrics *metrics.Metrics           `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    catalogdomain.Repository
	audit   auditdomain.Service
	ledger  *config.LedgerConfigHolder
	metrics *metrics.Metrics
}

func New(p Params) catalogdomain.Catalog {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("catalog.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

func (s *Service) CreateService(ctx context.Context, req catalogdomain.CreateServiceRequest) (*catalogdomain.ServiceResponse, error) {
	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, s.reject(ctx, "create_service", err)
	}
	code, err := resolveCode(req.Code, name)
	if err != nil {
		return nil, s.reject(ctx, "create_service", err)
	}
	category, err := rateledger.ParseCategory(req.Category)
	if err != nil {
		return nil, s.reject(ctx, "create_service", err)
	}
	method, err := rateledger.ParseCalculationMethod(req.CalculationMethod)
	if err != nil {
		return nil, s.reject(ctx, "create_service", err)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		service *catalogdomain.Service
		seed    *catalogdomain.Tariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		existing, err := s.repo.FindServiceByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if existing != nil {
			return catalogdomain.ErrDuplicateCode
		}

		service = &catalogdomain.Service{
			ID:                s.genID.Generate(),
			Code:              code,
			Name:              name,
			Category:          category,
			CalculationMethod: method,
			Active:            active,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.InsertService(ctx, tx, service); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return catalogdomain.ErrDuplicateCode
			}
			return fmt.Errorf("insert service: %w", err)
		}

		seed = &catalogdomain.Tariff{
			ID:        s.genID.Generate(),
			ServiceID: service.ID,
			Rate:      decimal.Zero,
			Unit:      rateledger.DefaultUnit(method),
			StartDate: today,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertTariff(ctx, tx, seed); err != nil {
			return fmt.Errorf("insert seed tariff: %w", err)
		}

		rate := seed.Rate
		return record(auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     auditdomain.ActionServiceCreated,
			RateAfter:  &rate,
			Metadata: map[string]any{
				"code":               code,
				"calculation_method": string(method),
				"tariff_id":          seed.ID.String(),
				"unit":               string(seed.Unit),
			},
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "create_service", err)
	}

	s.metrics.RecordTariffChange(ctx, metrics.LedgerServices, "create")
	return s.toServiceResponse(*service, []catalogdomain.Tariff{*seed}, today), nil
}

func (s *Service) UpdateService(ctx context.Context, id string, patch catalogdomain.ServicePatch) (*catalogdomain.ServiceResponse, error) {
	serviceID, err := parseID(id)
	if err != nil {
		return nil, s.reject(ctx, "update_service", err)
	}
	if patch.Empty() {
		return nil, s.reject(ctx, "update_service", catalogdomain.ErrEmptyPatch)
	}
	fields, err := validatePatch(patch)
	if err != nil {
		return nil, s.reject(ctx, "update_service", err)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		service *catalogdomain.Service
		ledger  []catalogdomain.Tariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		var err error
		service, err = s.repo.LockServiceByID(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		if service == nil {
			return catalogdomain.ErrServiceNotFound
		}

		changed := map[string]any{}
		if fields.code != nil && *fields.code != service.Code {
			other, err := s.repo.FindServiceByCode(ctx, tx, *fields.code)
			if err != nil {
				return err
			}
			if other != nil && other.ID != service.ID {
				return catalogdomain.ErrDuplicateCode
			}
			changed["code"] = *fields.code
			service.Code = *fields.code
		}
		if fields.name != nil && *fields.name != service.Name {
			changed["name"] = *fields.name
			service.Name = *fields.name
		}
		if fields.category != nil && *fields.category != service.Category {
			changed["category"] = string(*fields.category)
			service.Category = *fields.category
		}

		ledger, err = s.repo.ListTariffs(ctx, tx, service.ID)
		if err != nil {
			return err
		}

		if fields.method != nil && *fields.method != service.CalculationMethod {
			changed["calculation_method"] = string(*fields.method)
			service.CalculationMethod = *fields.method
			ledger, err = s.resyncUnit(ctx, tx, record, service, ledger, today, now)
			if err != nil {
				return err
			}
		}

		if len(changed) == 0 {
			return nil
		}

		service.UpdatedAt = now
		if err := s.repo.UpdateService(ctx, tx, service); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return catalogdomain.ErrDuplicateCode
			}
			return fmt.Errorf("update service: %w", err)
		}

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     auditdomain.ActionServiceUpdated,
			Metadata:   changed,
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "update_service", err)
	}

	return s.toServiceResponse(*service, ledger, today), nil
}

// resyncUnit moves the ledger onto the default unit of the service's new calculation
// method. The row in effect today is closed at yesterday and its rate is carried into a
// new row starting today; a row that already starts today is corrected in place.
// Scheduled rows take the new unit in place.
func (s *Service) resyncUnit(ctx context.Context, tx *gorm.DB, record auditdomain.RecordFunc, service *catalogdomain.Service, ledger []catalogdomain.Tariff, today, now time.Time) ([]catalogdomain.Tariff, error) {
	unit := rateledger.DefaultUnit(service.CalculationMethod)

	next := make([]catalogdomain.Tariff, len(ledger))
	copy(next, ledger)

	var (
		updates  []int
		inserted *catalogdomain.Tariff
		before   *catalogdomain.Tariff
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

			inserted = &catalogdomain.Tariff{
				ID:        s.genID.Generate(),
				ServiceID: service.ID,
				Rate:      effective.Rate,
				Unit:      unit,
				StartDate: today,
				EndDate:   carriedEnd,
				CreatedAt: now,
				UpdatedAt: now,
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
			return nil, fmt.Errorf("update tariff: %w", err)
		}
	}
	if inserted != nil {
		if err := s.repo.InsertTariff(ctx, tx, inserted); err != nil {
			return nil, fmt.Errorf("insert carried tariff: %w", err)
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
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     auditdomain.ActionTariffUnitChanged,
			RateBefore: &rate,
			RateAfter:  &rate,
			Metadata:   metadata,
		}); err != nil {
			return nil, err
		}
		s.metrics.RecordTariffChange(ctx, metrics.LedgerServices, "carry_forward")
	}

	sortTariffs(next)
	return next, nil
}

func (s *Service) GetService(ctx context.Context, id string) (*catalogdomain.ServiceResponse, error) {
	serviceID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	service, err := s.repo.FindServiceByID(ctx, s.db, serviceID)
	if err != nil {
		return nil, err
	}
	if service == nil {
		return nil, catalogdomain.ErrServiceNotFound
	}

	ledger, err := s.repo.ListTariffs(ctx, s.db, service.ID)
	if err != nil {
		return nil, err
	}
	return s.toServiceResponse(*service, ledger, s.today()), nil
}

func (s *Service) ListServices(ctx context.Context, req catalogdomain.ListServicesRequest) ([]catalogdomain.ServiceResponse, error) {
	filter := catalogdomain.ServiceFilter{
		Active: req.Active,
		Code:   strings.TrimSpace(req.Code),
	}
	if strings.TrimSpace(req.Category) != "" {
		category, err := rateledger.ParseCategory(req.Category)
		if err != nil {
			return nil, err
		}
		filter.Category = category
	}

	services, err := s.repo.ListServices(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]snowflake.ID, 0, len(services))
	for _, service := range services {
		ids = append(ids, service.ID)
	}
	tariffs, err := s.repo.ListTariffsByServiceIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	byService := make(map[snowflake.ID][]catalogdomain.Tariff, len(services))
	for _, tariff := range tariffs {
		byService[tariff.ServiceID] = append(byService[tariff.ServiceID], tariff)
	}

	today := s.today()
	out := make([]catalogdomain.ServiceResponse, 0, len(services))
	for _, service := range services {
		out = append(out, *s.toServiceResponse(service, byService[service.ID], today))
	}
	return out, nil
}

// ToggleService flips the active flag. Activation requires a tariff in effect today.
func (s *Service) ToggleService(ctx context.Context, id string) (*catalogdomain.ServiceResponse, error) {
	serviceID, err := parseID(id)
	if err != nil {
		return nil, s.reject(ctx, "toggle_service", err)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		service *catalogdomain.Service
		ledger  []catalogdomain.Tariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		var err error
		service, err = s.repo.LockServiceByID(ctx, tx, serviceID)
		if err != nil {
			return err
		}
		if service == nil {
			return catalogdomain.ErrServiceNotFound
		}
		ledger, err = s.repo.ListTariffs(ctx, tx, service.ID)
		if err != nil {
			return err
		}

		action := auditdomain.ActionServiceDeactivated
		if !service.Active {
			if _, ok := rateledger.SelectEffective(ledger, today); !ok {
				return catalogdomain.ErrNoActiveTariff
			}
			action = auditdomain.ActionServiceActivated
		}

		service.Active = !service.Active
		service.UpdatedAt = now
		if err := s.repo.UpdateService(ctx, tx, service); err != nil {
			return fmt.Errorf("update service: %w", err)
		}

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     action,
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "toggle_service", err)
	}

	s.metrics.RecordActivationChange(ctx, metrics.LedgerServices, "toggle", service.Active)
	return s.toServiceResponse(*service, ledger, today), nil
}

func (s *Service) ListTariffs(ctx context.Context, serviceID string) ([]catalogdomain.TariffResponse, error) {
	id, err := parseID(serviceID)
	if err != nil {
		return nil, err
	}

	service, err := s.repo.FindServiceByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if service == nil {
		return nil, catalogdomain.ErrServiceNotFound
	}

	ledger, err := s.repo.ListTariffs(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	today := s.today()
	out := make([]catalogdomain.TariffResponse, 0, len(ledger))
	for _, tariff := range ledger {
		out = append(out, toTariffResponse(tariff, today))
	}
	return out, nil
}

func (s *Service) GetTariff(ctx context.Context, id string) (*catalogdomain.TariffResponse, error) {
	tariffID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	tariff, err := s.repo.FindTariffByID(ctx, s.db, tariffID)
	if err != nil {
		return nil, err
	}
	if tariff == nil {
		return nil, catalogdomain.ErrTariffNotFound
	}

	resp := toTariffResponse(*tariff, s.today())
	return &resp, nil
}

// ReplaceRate closes the reference tariff the day before newStart and appends a new
// open tariff with the same unit. Existing rates are never rewritten.
func (s *Service) ReplaceRate(ctx context.Context, tariffID string, req catalogdomain.ReplaceRateRequest) (*catalogdomain.ReplaceRateResponse, error) {
	refID, err := parseID(tariffID)
	if err != nil {
		return nil, s.reject(ctx, "replace_rate", err)
	}
	if req.Rate == nil {
		return nil, s.reject(ctx, "replace_rate", catalogdomain.ErrRateRequired)
	}
	rate := *req.Rate
	if err := rateledger.ValidateRate(rate); err != nil {
		return nil, s.reject(ctx, "replace_rate", err)
	}
	newStart, err := rateledger.ParseDate(req.StartDate)
	if err != nil {
		return nil, s.reject(ctx, "replace_rate", err)
	}

	now := s.clock.Now().UTC()
	today := s.today()

	var (
		closed  catalogdomain.Tariff
		created catalogdomain.Tariff
	)
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		ref, err := s.repo.FindTariffByID(ctx, tx, refID)
		if err != nil {
			return err
		}
		if ref == nil {
			return catalogdomain.ErrTariffNotFound
		}

		service, err := s.repo.LockServiceByID(ctx, tx, ref.ServiceID)
		if err != nil {
			return err
		}
		if service == nil {
			return catalogdomain.ErrServiceNotFound
		}

		ledger, err := s.repo.ListTariffs(ctx, tx, service.ID)
		if err != nil {
			return err
		}
		idx := indexOfTariff(ledger, refID)
		if idx < 0 {
			return catalogdomain.ErrTariffNotFound
		}
		current := ledger[idx]

		if !newStart.After(rateledger.DateOf(current.StartDate)) {
			return catalogdomain.ErrStartNotAfterReference
		}

		rateBefore := current.Rate
		endForOld := newStart.AddDate(0, 0, -1)
		if current.EndDate == nil || rateledger.DateOf(*current.EndDate).After(endForOld) {
			current.EndDate = &endForOld
		}
		current.UpdatedAt = now

		created = catalogdomain.Tariff{
			ID:        s.genID.Generate(),
			ServiceID: service.ID,
			Rate:      rate,
			Unit:      current.Unit,
			StartDate: newStart,
			CreatedAt: now,
			UpdatedAt: now,
		}

		next := make([]catalogdomain.Tariff, len(ledger), len(ledger)+1)
		copy(next, ledger)
		next[idx] = current
		next = append(next, created)
		if err := rateledger.ValidateTimeline(rateledger.Windows(next)); err != nil {
			return err
		}

		if err := s.repo.UpdateTariff(ctx, tx, &current); err != nil {
			return fmt.Errorf("close tariff: %w", err)
		}
		if err := s.repo.InsertTariff(ctx, tx, &created); err != nil {
			return fmt.Errorf("insert tariff: %w", err)
		}
		closed = current

		return record(auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     auditdomain.ActionTariffReplaced,
			RateBefore: &rateBefore,
			RateAfter:  &rate,
			Metadata: map[string]any{
				"closed_tariff_id": closed.ID.String(),
				"tariff_id":        created.ID.String(),
				"start_date":       rateledger.FormatDate(newStart),
			},
		})
	})
	if err != nil {
		return nil, s.reject(ctx, "replace_rate", err)
	}

	s.metrics.RecordTariffChange(ctx, metrics.LedgerServices, "replace_rate")
	return &catalogdomain.ReplaceRateResponse{
		Closed:  toTariffResponse(closed, today),
		Created: toTariffResponse(created, today),
	}, nil
}

// DeleteTariff removes a tariff whose whole interval lies before today.
func (s *Service) DeleteTariff(ctx context.Context, id string) error {
	tariffID, err := parseID(id)
	if err != nil {
		return s.reject(ctx, "delete_tariff", err)
	}

	today := s.today()
	err = s.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		tariff, err := s.repo.FindTariffByID(ctx, tx, tariffID)
		if err != nil {
			return err
		}
		if tariff == nil {
			return catalogdomain.ErrTariffNotFound
		}

		service, err := s.repo.LockServiceByID(ctx, tx, tariff.ServiceID)
		if err != nil {
			return err
		}
		if service == nil {
			return catalogdomain.ErrServiceNotFound
		}

		window := tariff.Window()
		if window.Contains(today) || window.Upcoming(today) {
			return catalogdomain.ErrProtectedTariff
		}

		if err := s.repo.DeleteTariff(ctx, tx, tariff.ID); err != nil {
			return fmt.Errorf("delete tariff: %w", err)
		}

		rate := tariff.Rate
		return record(auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     auditdomain.ActionTariffDeleted,
			RateBefore: &rate,
			Metadata: map[string]any{
				"tariff_id":  tariff.ID.String(),
				"start_date": rateledger.FormatDate(tariff.StartDate),
				"end_date":   rateledger.FormatOptionalDate(tariff.EndDate),
			},
		})
	})
	if err != nil {
		return s.reject(ctx, "delete_tariff", err)
	}

	s.metrics.RecordTariffChange(ctx, metrics.LedgerServices, "delete")
	return nil
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

// reject counts business rejections and logs infrastructure failures.
func (s *Service) reject(ctx context.Context, operation string, err error) error {
	if rateledger.IsBusinessError(err) {
		s.metrics.RecordRejection(ctx, operation, rateledger.CodeOf(err))
		return err
	}
	logger.WithContext(ctx, s.log).Error("ledger operation failed", zap.String("operation", operation), zap.Error(err))
	return err
}

func (s *Service) toServiceResponse(service catalogdomain.Service, ledger []catalogdomain.Tariff, today time.Time) *catalogdomain.ServiceResponse {
	resp := &catalogdomain.ServiceResponse{
		ID:                service.ID.String(),
		Code:              service.Code,
		Name:              service.Name,
		Category:          service.Category,
		CalculationMethod: service.CalculationMethod,
		Active:            service.Active,
		CreatedAt:         service.CreatedAt,
		UpdatedAt:         service.UpdatedAt,
	}
	if current, ok := rateledger.SelectEffective(ledger, today); ok {
		tariff := toTariffResponse(current, today)
		resp.CurrentTariff = &tariff
	}
	return resp
}

func toTariffResponse(tariff catalogdomain.Tariff, today time.Time) catalogdomain.TariffResponse {
	return catalogdomain.TariffResponse{
		ID:        tariff.ID.String(),
		ServiceID: tariff.ServiceID.String(),
		Rate:      tariff.Rate.StringFixed(rateledger.RateScale),
		Unit:      tariff.Unit,
		StartDate: rateledger.FormatDate(tariff.StartDate),
		EndDate:   rateledger.FormatOptionalDate(tariff.EndDate),
		Status:    tariff.Window().Status(today),
	}
}
