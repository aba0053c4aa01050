package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	"github.com/smallbiznis/cooptariff/internal/catalog/repository"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
	"github.com/smallbiznis/cooptariff/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	repo  catalogdomain.Repository
}

func newFixture(t *testing.T, clk *clock.FakeClock) fixture {
	t.Helper()

	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	repo := repository.Provide()
	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Repo:   repo,
		Audit:  testutil.Audit(conn, node, clk),
		Ledger: testutil.FastRetry(),
	}).(*Service)

	return fixture{svc: svc, db: conn, clock: clk, node: node, repo: repo}
}

// seed inserts a service with the given ledger directly, bypassing the ledger rules.
func (f fixture) seed(t *testing.T, method rateledger.CalculationMethod, active bool, rows ...catalogdomain.Tariff) catalogdomain.Service {
	t.Helper()

	now := f.clock.Now()
	service := catalogdomain.Service{
		ID:                f.node.Generate(),
		Code:              "svc_" + f.node.Generate().String(),
		Name:              "Seeded",
		Category:          rateledger.CategoryUtility,
		CalculationMethod: method,
		Active:            active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, f.db.Create(&service).Error)

	for _, row := range rows {
		row.ID = f.node.Generate()
		row.ServiceID = service.ID
		row.CreatedAt = now
		row.UpdatedAt = now
		require.NoError(t, f.db.Create(&row).Error)
	}
	return service
}

func (f fixture) ledger(t *testing.T, serviceID snowflake.ID) []catalogdomain.Tariff {
	t.Helper()
	rows, err := f.repo.ListTariffs(context.Background(), f.db, serviceID)
	require.NoError(t, err)
	return rows
}

func tariff(rate string, unit rateledger.Unit, start time.Time, end *time.Time) catalogdomain.Tariff {
	return catalogdomain.Tariff{
		Rate:      decimal.RequireFromString(rate),
		Unit:      unit,
		StartDate: start,
		EndDate:   end,
	}
}

func rate(raw string) *decimal.Decimal {
	d := decimal.RequireFromString(raw)
	return &d
}

func mustID(t *testing.T, raw string) snowflake.ID {
	t.Helper()
	id, err := snowflake.ParseString(raw)
	require.NoError(t, err)
	return id
}

func TestCreateServiceSeedsZeroRateTariff(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()

	resp, err := f.svc.CreateService(ctx, catalogdomain.CreateServiceRequest{
		Code:              "cold_water",
		Name:              "Cold water",
		Category:          "utility",
		CalculationMethod: "meter",
	})
	require.NoError(t, err)
	assert.True(t, resp.Active)
	require.NotNil(t, resp.CurrentTariff)
	assert.Equal(t, "0.0000", resp.CurrentTariff.Rate)

	rows := f.ledger(t, mustID(t, resp.ID))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Rate.IsZero())
	assert.Equal(t, rateledger.UnitCubicMeter, rows[0].Unit)
	assert.Equal(t, testutil.Date(2025, time.March, 10), rateledger.DateOf(rows[0].StartDate))
	assert.Nil(t, rows[0].EndDate)

	assert.Equal(t, []string{auditdomain.ActionServiceCreated}, testutil.Events(t, f.db, mustID(t, resp.ID)))
}

func TestCreateServiceDefaultUnitPerMethod(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))

	cases := map[string]rateledger.Unit{
		"fixed": rateledger.UnitFixed,
		"meter": rateledger.UnitCubicMeter,
		"area":  rateledger.UnitSquareMeter,
	}
	for method, unit := range cases {
		resp, err := f.svc.CreateService(context.Background(), catalogdomain.CreateServiceRequest{
			Code:              "svc_" + method,
			Name:              method,
			Category:          "main",
			CalculationMethod: method,
		})
		require.NoError(t, err)
		assert.Equal(t, unit, resp.CurrentTariff.Unit, method)
	}
}

func TestCreateServiceDerivesCodeAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()

	resp, err := f.svc.CreateService(ctx, catalogdomain.CreateServiceRequest{
		Name:              "Hot Water Supply",
		Category:          "utility",
		CalculationMethod: "meter",
	})
	require.NoError(t, err)
	assert.Equal(t, "hot_water_supply", resp.Code)

	_, err = f.svc.CreateService(ctx, catalogdomain.CreateServiceRequest{
		Code:              "hot_water_supply",
		Name:              "Another",
		Category:          "utility",
		CalculationMethod: "fixed",
	})
	assert.ErrorIs(t, err, rateledger.ErrDuplicateCode)

	var count int64
	require.NoError(t, f.db.Model(&catalogdomain.Service{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateServiceValidation(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))

	cases := []catalogdomain.CreateServiceRequest{
		{Code: "x", Name: "", Category: "main", CalculationMethod: "fixed"},
		{Code: "Bad Code", Name: "x", Category: "main", CalculationMethod: "fixed"},
		{Code: "x", Name: "x", Category: "luxury", CalculationMethod: "fixed"},
		{Code: "x", Name: "x", Category: "main", CalculationMethod: "volume"},
	}
	for _, req := range cases {
		_, err := f.svc.CreateService(context.Background(), req)
		assert.ErrorIs(t, err, rateledger.ErrValidation)
	}
}

func TestReplaceRateAppendsAndCloses(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2024, time.June, 1))
	service := f.seed(t, rateledger.MethodMeter, true,
		tariff("1.2000", rateledger.UnitCubicMeter, testutil.Date(2024, time.January, 1), nil),
	)
	ref := f.ledger(t, service.ID)[0]

	resp, err := f.svc.ReplaceRate(context.Background(), ref.ID.String(), catalogdomain.ReplaceRateRequest{
		Rate:      rate("1.8793"),
		StartDate: "2025-01-01",
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-12-31", *resp.Closed.EndDate)
	assert.Equal(t, "1.2000", resp.Closed.Rate)
	assert.Equal(t, "1.8793", resp.Created.Rate)
	assert.Equal(t, "2025-01-01", resp.Created.StartDate)
	assert.Nil(t, resp.Created.EndDate)
	assert.Equal(t, rateledger.StatusUpcoming, resp.Created.Status)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Rate.Equal(decimal.RequireFromString("1.2")), "history keeps the old rate")
	assert.Equal(t, testutil.Date(2024, time.December, 31), rateledger.DateOf(*rows[0].EndDate))
	assert.Equal(t, rateledger.UnitCubicMeter, rows[1].Unit)
	require.NoError(t, rateledger.ValidateTimeline(rateledger.Windows(rows)))

	assert.Equal(t, []string{auditdomain.ActionTariffReplaced}, testutil.Events(t, f.db, service.ID))
}

func TestReplaceRateRejectsStartNotAfterReference(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2024, time.June, 1))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("3.0000", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), nil),
	)
	ref := f.ledger(t, service.ID)[0]

	for _, start := range []string{"2023-12-31", "2024-01-01"} {
		_, err := f.svc.ReplaceRate(context.Background(), ref.ID.String(), catalogdomain.ReplaceRateRequest{
			Rate:      rate("4"),
			StartDate: start,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, rateledger.ErrValidation)
		assert.Equal(t, "invalid_date", rateledger.CodeOf(err))
	}

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].EndDate)
	assert.Empty(t, testutil.Events(t, f.db, service.ID))
}

func TestReplaceRateRejectsOverlapWithLaterRows(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2024, time.June, 1))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("1", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), testutil.DatePtr(2024, time.February, 29)),
		tariff("2", rateledger.UnitFixed, testutil.Date(2024, time.March, 1), nil),
	)
	first := f.ledger(t, service.ID)[0]

	_, err := f.svc.ReplaceRate(context.Background(), first.ID.String(), catalogdomain.ReplaceRateRequest{
		Rate:      rate("1.5"),
		StartDate: "2024-02-01",
	})
	assert.ErrorIs(t, err, rateledger.ErrDateConflict)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, testutil.Date(2024, time.February, 29), rateledger.DateOf(*rows[0].EndDate))
}

func TestReplaceRateValidatesInput(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2024, time.June, 1))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("1", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), nil),
	)
	ref := f.ledger(t, service.ID)[0]
	ctx := context.Background()

	_, err := f.svc.ReplaceRate(ctx, ref.ID.String(), catalogdomain.ReplaceRateRequest{Rate: rate("-1"), StartDate: "2025-01-01"})
	assert.ErrorIs(t, err, rateledger.ErrInvalidRate)

	_, err = f.svc.ReplaceRate(ctx, ref.ID.String(), catalogdomain.ReplaceRateRequest{Rate: rate("1.00001"), StartDate: "2025-01-01"})
	assert.ErrorIs(t, err, rateledger.ErrInvalidRate)

	_, err = f.svc.ReplaceRate(ctx, ref.ID.String(), catalogdomain.ReplaceRateRequest{StartDate: "2025-01-01"})
	assert.ErrorIs(t, err, catalogdomain.ErrRateRequired)

	_, err = f.svc.ReplaceRate(ctx, ref.ID.String(), catalogdomain.ReplaceRateRequest{Rate: rate("1"), StartDate: "soon"})
	assert.ErrorIs(t, err, rateledger.ErrInvalidDateFormat)

	_, err = f.svc.ReplaceRate(ctx, "12345", catalogdomain.ReplaceRateRequest{Rate: rate("1"), StartDate: "2025-01-01"})
	assert.ErrorIs(t, err, rateledger.ErrNotFound)
}

func TestUpdateServiceMethodChangeCarriesRateForward(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("5.8", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), nil),
	)

	method := "meter"
	resp, err := f.svc.UpdateService(context.Background(), service.ID.String(), catalogdomain.ServicePatch{
		CalculationMethod: &method,
	})
	require.NoError(t, err)
	assert.Equal(t, rateledger.MethodMeter, resp.CalculationMethod)
	require.NotNil(t, resp.CurrentTariff)
	assert.Equal(t, rateledger.UnitCubicMeter, resp.CurrentTariff.Unit)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 2)

	assert.Equal(t, rateledger.UnitFixed, rows[0].Unit)
	require.NotNil(t, rows[0].EndDate)
	assert.Equal(t, testutil.Date(2025, time.March, 9), rateledger.DateOf(*rows[0].EndDate))

	assert.True(t, rows[1].Rate.Equal(decimal.RequireFromString("5.8")))
	assert.Equal(t, rateledger.UnitCubicMeter, rows[1].Unit)
	assert.Equal(t, testutil.Date(2025, time.March, 10), rateledger.DateOf(rows[1].StartDate))
	assert.Nil(t, rows[1].EndDate)

	assert.Equal(t, []string{auditdomain.ActionTariffUnitChanged, auditdomain.ActionServiceUpdated}, testutil.Events(t, f.db, service.ID))
}

func TestUpdateServiceMethodChangeSameDayCorrectsInPlace(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("2", rateledger.UnitFixed, testutil.Date(2025, time.March, 10), nil),
	)

	method := "area"
	_, err := f.svc.UpdateService(context.Background(), service.ID.String(), catalogdomain.ServicePatch{CalculationMethod: &method})
	require.NoError(t, err)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, rateledger.UnitSquareMeter, rows[0].Unit)
	assert.Nil(t, rows[0].EndDate)
}

func TestUpdateServiceMethodChangeOpensCarriedRowWithoutScheduledRows(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("5.8", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 31)),
	)

	method := "meter"
	_, err := f.svc.UpdateService(context.Background(), service.ID.String(), catalogdomain.ServicePatch{CalculationMethod: &method})
	require.NoError(t, err)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].EndDate)
	assert.Equal(t, testutil.Date(2025, time.March, 9), rateledger.DateOf(*rows[0].EndDate))
	assert.Equal(t, rateledger.UnitCubicMeter, rows[1].Unit)
	assert.Equal(t, testutil.Date(2025, time.March, 10), rateledger.DateOf(rows[1].StartDate))
	assert.Nil(t, rows[1].EndDate, "nothing is scheduled after the carried row")
}

func TestUpdateServiceMethodChangeKeepsScheduledRows(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("2", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 31)),
		tariff("3", rateledger.UnitFixed, testutil.Date(2025, time.April, 1), nil),
	)

	method := "meter"
	_, err := f.svc.UpdateService(context.Background(), service.ID.String(), catalogdomain.ServicePatch{CalculationMethod: &method})
	require.NoError(t, err)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 3)
	require.NoError(t, rateledger.ValidateTimeline(rateledger.Windows(rows)))

	carried := rows[1]
	assert.Equal(t, testutil.Date(2025, time.March, 10), rateledger.DateOf(carried.StartDate))
	assert.Equal(t, testutil.Date(2025, time.March, 31), rateledger.DateOf(*carried.EndDate))
	assert.Equal(t, rateledger.UnitCubicMeter, carried.Unit)

	assert.Equal(t, rateledger.UnitCubicMeter, rows[2].Unit)
	assert.True(t, rows[2].Rate.Equal(decimal.NewFromInt(3)))
}

func TestUpdateServiceWithoutEffectiveTariffCreatesNone(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodFixed, false,
		tariff("2", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), testutil.DatePtr(2024, time.December, 31)),
	)

	method := "meter"
	_, err := f.svc.UpdateService(context.Background(), service.ID.String(), catalogdomain.ServicePatch{CalculationMethod: &method})
	require.NoError(t, err)

	rows := f.ledger(t, service.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, rateledger.UnitFixed, rows[0].Unit)
}

func TestUpdateServiceFields(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()
	other := f.seed(t, rateledger.MethodFixed, true)
	service := f.seed(t, rateledger.MethodFixed, true)

	name := "Lift maintenance"
	category := "additional"
	resp, err := f.svc.UpdateService(ctx, service.ID.String(), catalogdomain.ServicePatch{Name: &name, Category: &category})
	require.NoError(t, err)
	assert.Equal(t, name, resp.Name)
	assert.Equal(t, rateledger.CategoryAdditional, resp.Category)

	taken := other.Code
	_, err = f.svc.UpdateService(ctx, service.ID.String(), catalogdomain.ServicePatch{Code: &taken})
	assert.ErrorIs(t, err, rateledger.ErrDuplicateCode)

	_, err = f.svc.UpdateService(ctx, service.ID.String(), catalogdomain.ServicePatch{})
	assert.ErrorIs(t, err, catalogdomain.ErrEmptyPatch)

	_, err = f.svc.UpdateService(ctx, f.node.Generate().String(), catalogdomain.ServicePatch{Name: &name})
	assert.ErrorIs(t, err, catalogdomain.ErrServiceNotFound)
}

func TestDeleteTariffProtection(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("1", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), testutil.DatePtr(2024, time.December, 31)),
		tariff("2", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 31)),
		tariff("3", rateledger.UnitFixed, testutil.Date(2025, time.April, 1), nil),
	)
	rows := f.ledger(t, service.ID)
	ctx := context.Background()

	err := f.svc.DeleteTariff(ctx, rows[1].ID.String())
	assert.ErrorIs(t, err, rateledger.ErrProtectedRecord)

	err = f.svc.DeleteTariff(ctx, rows[2].ID.String())
	assert.ErrorIs(t, err, rateledger.ErrProtectedRecord)

	require.NoError(t, f.svc.DeleteTariff(ctx, rows[0].ID.String()))
	assert.Len(t, f.ledger(t, service.ID), 2)

	err = f.svc.DeleteTariff(ctx, rows[0].ID.String())
	assert.ErrorIs(t, err, catalogdomain.ErrTariffNotFound)
}

func TestDeleteTariffEndingYesterdaySucceeds(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.January, 1))
	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("1", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), nil),
	)
	rows := f.ledger(t, service.ID)

	err := f.svc.DeleteTariff(context.Background(), rows[0].ID.String())
	assert.ErrorIs(t, err, rateledger.ErrProtectedRecord, "scenario: start=2025-01-01 end=null is in effect")

	yesterday := testutil.Date(2024, time.December, 31)
	past := f.seed(t, rateledger.MethodFixed, false,
		tariff("1", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), &yesterday),
	)
	require.NoError(t, f.svc.DeleteTariff(context.Background(), f.ledger(t, past.ID)[0].ID.String()))
}

func TestToggleServiceGating(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()

	expired := f.seed(t, rateledger.MethodFixed, false,
		tariff("1", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), testutil.DatePtr(2024, time.June, 1)),
	)
	_, err := f.svc.ToggleService(ctx, expired.ID.String())
	assert.ErrorIs(t, err, rateledger.ErrNoActiveTariff)

	future := f.seed(t, rateledger.MethodFixed, false,
		tariff("1", rateledger.UnitFixed, testutil.Date(2025, time.April, 1), nil),
	)
	_, err = f.svc.ToggleService(ctx, future.ID.String())
	assert.ErrorIs(t, err, rateledger.ErrNoActiveTariff)

	empty := f.seed(t, rateledger.MethodFixed, false)
	_, err = f.svc.ToggleService(ctx, empty.ID.String())
	assert.ErrorIs(t, err, rateledger.ErrNoActiveTariff)

	current := f.seed(t, rateledger.MethodFixed, false,
		tariff("1", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), nil),
	)
	resp, err := f.svc.ToggleService(ctx, current.ID.String())
	require.NoError(t, err)
	assert.True(t, resp.Active)

	resp, err = f.svc.ToggleService(ctx, current.ID.String())
	require.NoError(t, err)
	assert.False(t, resp.Active)

	// deactivation never needs a tariff
	activeEmpty := f.seed(t, rateledger.MethodFixed, true)
	resp, err = f.svc.ToggleService(ctx, activeEmpty.ID.String())
	require.NoError(t, err)
	assert.False(t, resp.Active)

	assert.Equal(t,
		[]string{auditdomain.ActionServiceActivated, auditdomain.ActionServiceDeactivated},
		testutil.Events(t, f.db, current.ID),
	)
}

func TestListServicesAndTariffs(t *testing.T) {
	f := newFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()

	service := f.seed(t, rateledger.MethodFixed, true,
		tariff("1", rateledger.UnitFixed, testutil.Date(2024, time.January, 1), testutil.DatePtr(2024, time.December, 31)),
		tariff("2", rateledger.UnitFixed, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 31)),
		tariff("3", rateledger.UnitFixed, testutil.Date(2025, time.April, 1), nil),
	)
	f.seed(t, rateledger.MethodMeter, false)

	active := true
	services, err := f.svc.ListServices(ctx, catalogdomain.ListServicesRequest{Active: &active})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, service.ID.String(), services[0].ID)
	require.NotNil(t, services[0].CurrentTariff)
	assert.Equal(t, "2.0000", services[0].CurrentTariff.Rate)

	tariffs, err := f.svc.ListTariffs(ctx, service.ID.String())
	require.NoError(t, err)
	require.Len(t, tariffs, 3)
	assert.Equal(t, rateledger.StatusExpired, tariffs[0].Status)
	assert.Equal(t, rateledger.StatusActive, tariffs[1].Status)
	assert.Equal(t, rateledger.StatusUpcoming, tariffs[2].Status)

	_, err = f.svc.ListTariffs(ctx, f.node.Generate().String())
	assert.True(t, errors.Is(err, rateledger.ErrNotFound))

	got, err := f.svc.GetTariff(ctx, tariffs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, rateledger.StatusActive, got.Status)
}

func TestReplaceRateSequenceKeepsTimelineValid(t *testing.T) {
	clk := testutil.FakeClock(2025, time.January, 1)
	f := newFixture(t, clk)
	ctx := context.Background()

	created, err := f.svc.CreateService(ctx, catalogdomain.CreateServiceRequest{
		Code: "heating", Name: "Heating", Category: "utility", CalculationMethod: "area",
	})
	require.NoError(t, err)

	ref := created.CurrentTariff.ID
	for i, start := range []string{"2025-02-01", "2025-03-01", "2025-04-15"} {
		resp, err := f.svc.ReplaceRate(ctx, ref, catalogdomain.ReplaceRateRequest{
			Rate:      rate(decimal.NewFromInt(int64(i + 1)).String()),
			StartDate: start,
		})
		require.NoError(t, err)
		ref = resp.Created.ID
	}

	rows := f.ledger(t, mustID(t, created.ID))
	require.Len(t, rows, 4)
	require.NoError(t, rateledger.ValidateTimeline(rateledger.Windows(rows)))

	open := 0
	for _, row := range rows {
		if row.EndDate == nil {
			open++
		}
		assert.Equal(t, rateledger.UnitSquareMeter, row.Unit)
	}
	assert.Equal(t, 1, open)
}

func newObservedFixture(t *testing.T, clk *clock.FakeClock) (fixture, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, clk)
	f.svc.audit = testutil.AuditWithLog(f.db, f.node, clk, zap.New(core))
	return f, logs
}

func TestLedgerEventsPublishOnlyAfterCommit(t *testing.T) {
	f, logs := newObservedFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()
	service := f.seed(t, rateledger.MethodFixed, true)
	event := auditdomain.Event{
		EntityType: auditdomain.EntityService,
		EntityID:   service.ID,
		Action:     auditdomain.ActionServiceUpdated,
	}

	attempts := 0
	err := f.svc.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		attempts++
		if err := record(event); err != nil {
			return err
		}
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []string{auditdomain.ActionServiceUpdated}, testutil.Events(t, f.db, service.ID))
	assert.Equal(t, 1, logs.FilterMessage("ledger."+auditdomain.ActionServiceUpdated).Len())
}

func TestLedgerEventsOfRolledBackWritesAreNotPublished(t *testing.T) {
	f, logs := newObservedFixture(t, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()
	service := f.seed(t, rateledger.MethodFixed, true)

	err := f.svc.inTx(ctx, func(tx *gorm.DB, record auditdomain.RecordFunc) error {
		if err := record(auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   service.ID,
			Action:     auditdomain.ActionServiceUpdated,
		}); err != nil {
			return err
		}
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Empty(t, testutil.Events(t, f.db, service.ID))
	assert.Zero(t, logs.Len())
}

func TestReplaceRatePublishesOneLedgerEntry(t *testing.T) {
	f, logs := newObservedFixture(t, testutil.FakeClock(2025, time.March, 10))
	service := f.seed(t, rateledger.MethodMeter, true,
		tariff("1.2", rateledger.UnitCubicMeter, testutil.Date(2024, time.January, 1), nil))
	ref := f.ledger(t, service.ID)[0]

	_, err := f.svc.ReplaceRate(context.Background(), ref.ID.String(), catalogdomain.ReplaceRateRequest{
		Rate:      rate("1.8793"),
		StartDate: "2025-01-01",
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("ledger." + auditdomain.ActionTariffReplaced).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "1.2000", entries[0].ContextMap()["rate_before"])
	assert.Equal(t, "1.8793", entries[0].ContextMap()["rate_after"])
	assert.Equal(t, 1, logs.Len())
}
