package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	assignmentrepository "github.com/smallbiznis/cooptariff/internal/assignment/repository"
	assignmentservice "github.com/smallbiznis/cooptariff/internal/assignment/service"
	catalogdomain "github.com/smallbiznis/cooptariff/internal/catalog/domain"
	catalogrepository "github.com/smallbiznis/cooptariff/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/cooptariff/internal/catalog/service"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
	directorydomain "github.com/smallbiznis/cooptariff/internal/directory/domain"
	directoryrepository "github.com/smallbiznis/cooptariff/internal/directory/repository"
	"github.com/smallbiznis/cooptariff/internal/expiry"
	"github.com/smallbiznis/cooptariff/internal/observability"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
	"github.com/smallbiznis/cooptariff/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
	clock  *clock.FakeClock
	node   *snowflake.Node
}

func newTestServer(t *testing.T, onRead bool) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := testutil.FakeClock(2025, time.March, 10)
	audit := testutil.Audit(conn, node, clk)

	cfg := config.DefaultLedgerConfig()
	cfg.Sweep.OnRead = onRead
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond
	ledger := config.NewStaticLedgerConfigHolder(cfg)

	catalog := catalogservice.New(catalogservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Repo:   catalogrepository.Provide(),
		Audit:  audit,
		Ledger: ledger,
	})
	assignments := assignmentservice.New(assignmentservice.Params{
		DB:          conn,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        assignmentrepository.Provide(),
		ServiceRepo: catalogrepository.Provide(),
		Directory:   directoryrepository.Provide(conn),
		Audit:       audit,
		Ledger:      ledger,
	})
	sweeper := expiry.New(expiry.Params{
		DB:             conn,
		Log:            zap.NewNop(),
		Clock:          clk,
		ServiceRepo:    catalogrepository.Provide(),
		AssignmentRepo: assignmentrepository.Provide(),
		Audit:          audit,
		Ledger:         ledger,
	})

	engine := NewEngine(observability.Config{Environment: "test", LogLevel: "info"})
	NewServer(ServerParams{
		Gin:         engine,
		Log:         zap.NewNop(),
		Ledger:      ledger,
		Catalog:     catalog,
		Assignments: assignments,
		AuditSvc:    audit,
		Sweeper:     sweeper,
	})

	return testServer{engine: engine, db: conn, clock: clk, node: node}
}

func (ts testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

// seedService writes a service and its ledger directly, bypassing the activation rules.
func (ts testServer) seedService(t *testing.T, active bool, start time.Time, end *time.Time) snowflake.ID {
	t.Helper()
	now := ts.clock.Now()
	service := catalogdomain.Service{
		ID:                ts.node.Generate(),
		Code:              "svc_" + ts.node.Generate().String(),
		Name:              "Elevator maintenance",
		Category:          rateledger.CategoryUtility,
		CalculationMethod: rateledger.MethodFixed,
		Active:            active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, ts.db.Create(&service).Error)
	require.NoError(t, ts.db.Create(&catalogdomain.Tariff{
		ID:        ts.node.Generate(),
		ServiceID: service.ID,
		Rate:      decimal.RequireFromString("4.2"),
		Unit:      rateledger.UnitFixed,
		StartDate: start,
		EndDate:   end,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)
	return service.ID
}

type assignmentBody struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CurrentTariff struct {
		ID string `json:"id"`
	} `json:"current_tariff"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out.Error
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAndGetService(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/services", map[string]any{
		"name":               "Garbage collection",
		"category":           "utility",
		"calculation_method": "fixed",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[catalogdomain.ServiceResponse](t, rec)
	assert.Equal(t, "garbage_collection", created.Code)
	assert.True(t, created.Active)
	require.NotNil(t, created.CurrentTariff)
	assert.Equal(t, rateledger.UnitFixed, created.CurrentTariff.Unit)

	rec = ts.do(t, http.MethodGet, "/api/services/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[catalogdomain.ServiceResponse](t, rec).ID)

	rec = ts.do(t, http.MethodPost, "/api/services", map[string]any{
		"name":               "Garbage collection",
		"category":           "utility",
		"calculation_method": "fixed",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "duplicate_code", payload.Type)
	assert.Equal(t, "duplicate_code", payload.Code)
}

func TestReplaceRateThenDeleteIsProtected(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodPost, "/api/services", map[string]any{
		"name":               "Heating",
		"category":           "main",
		"calculation_method": "area",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	service := decode[catalogdomain.ServiceResponse](t, rec)
	require.NotNil(t, service.CurrentTariff)

	rec = ts.do(t, http.MethodPost, "/api/tariffs/"+service.CurrentTariff.ID+"/replace", map[string]any{
		"rate":       "5.8",
		"start_date": "2025-04-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	replaced := decode[catalogdomain.ReplaceRateResponse](t, rec)
	require.NotNil(t, replaced.Closed.EndDate)
	assert.Equal(t, "2025-03-31", *replaced.Closed.EndDate)
	assert.Equal(t, "2025-04-01", replaced.Created.StartDate)
	assert.Nil(t, replaced.Created.EndDate)

	rec = ts.do(t, http.MethodGet, "/api/services/"+service.ID+"/tariffs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]catalogdomain.TariffResponse](t, rec), 2)

	rec = ts.do(t, http.MethodDelete, "/api/tariffs/"+replaced.Created.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, rateledger.ErrProtectedRecord.Error(), payload.Type)
	assert.Equal(t, "tariff_protected", payload.Code)
	assert.NotEmpty(t, payload.Message)

	rec = ts.do(t, http.MethodPost, "/api/tariffs/"+replaced.Created.ID+"/replace", map[string]any{
		"rate":       "6",
		"start_date": "2025-04-01",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_date", decodeError(t, rec).Code)
}

func TestToggleServiceWithoutEffectiveTariff(t *testing.T) {
	ts := newTestServer(t, false)
	id := ts.seedService(t, false, testutil.Date(2024, time.January, 1), testutil.DatePtr(2024, time.June, 1))

	rec := ts.do(t, http.MethodPost, "/api/services/"+id.String()+"/toggle", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "no_active_tariff", payload.Type)
	assert.Equal(t, "no_active_tariff", payload.Code)
}

func TestRequestErrors(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/api/services/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodPost, "/api/services", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_request", payload.Errors[0].Code)

	rec = ts.do(t, http.MethodGet, "/api/services?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/services/"+ts.node.Generate().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "service_not_found", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/services", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/events?page_token=%25%25%25", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentRoutes(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.db.Create(&directorydomain.Apartment{ID: 12, Number: "12", EntranceNumber: 1}).Error)
	serviceID := ts.seedService(t, true, testutil.Date(2025, time.January, 1), nil)

	rec := ts.do(t, http.MethodPost, "/api/assignments", map[string]any{
		"service_id":   serviceID.String(),
		"scope":        "apartment",
		"apartment_id": 12,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[assignmentBody](t, rec)
	assert.Equal(t, "Elevator maintenance", created.Name)
	require.NotEmpty(t, created.CurrentTariff.ID)

	rec = ts.do(t, http.MethodPost, "/api/assignments", map[string]any{
		"service_id":   serviceID.String(),
		"scope":        "apartment",
		"apartment_id": 99,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "apartment_not_found", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/assignments?apartment_id=12", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/assignments?entrance_number=first", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/assignment-tariffs/"+created.CurrentTariff.ID, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "assignment_tariff_delete_not_allowed", decodeError(t, rec).Code)

	rec = ts.do(t, http.MethodDelete, "/api/assignments/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/assignment-tariffs/orphaned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orphaned := decode[[]map[string]any](t, rec)
	require.Len(t, orphaned, 1)
	assert.Equal(t, "Elevator maintenance", orphaned[0]["assignment_name"])
	assert.Nil(t, orphaned[0]["assignment_id"])
}

func TestListServicesSweepsOnRead(t *testing.T) {
	ts := newTestServer(t, true)
	id := ts.seedService(t, true, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 9))

	rec := ts.do(t, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	services := decode[[]catalogdomain.ServiceResponse](t, rec)
	require.Len(t, services, 1)
	assert.False(t, services[0].Active)

	rec = ts.do(t, http.MethodGet, "/api/events?entity_type=service&entity_id="+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]map[string]any](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "expiry.deactivated", events[0]["action"])
}

func TestListServicesWithoutSweepOnRead(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seedService(t, true, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 9))

	rec := ts.do(t, http.MethodGet, "/api/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	services := decode[[]catalogdomain.ServiceResponse](t, rec)
	require.Len(t, services, 1)
	assert.True(t, services[0].Active)
}

func TestRunSweep(t *testing.T) {
	ts := newTestServer(t, false)
	stale := ts.seedService(t, true, testutil.Date(2025, time.January, 1), testutil.DatePtr(2025, time.March, 9))
	ts.seedService(t, true, testutil.Date(2025, time.January, 1), nil)

	rec := ts.do(t, http.MethodPost, "/api/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[[]sweepResult](t, rec)
	require.Len(t, results, 2)
	assert.Equal(t, "services", results[0].Ledger)
	assert.Equal(t, 2, results[0].Checked)
	assert.Equal(t, []string{stale.String()}, results[0].Deactivated)
	assert.Equal(t, "assignments", results[1].Ledger)
	assert.Empty(t, results[1].Deactivated)

	rec = ts.do(t, http.MethodPost, "/api/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]sweepResult](t, rec)[0].Deactivated)
}
