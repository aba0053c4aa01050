package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("ledger", "services"),
		attribute.String("apartment_id", "456"),
		attribute.String("operation", "replace_rate"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("apartment_id"), attr.Key)
	}
}

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "transient", err: fmt.Errorf("sweep: %w", &pgconn.PgError{Code: "40001"}), want: SchedulerJobReasonTransient},
		{name: "business", err: rateledger.ErrInvalidRate, want: SchedulerJobReasonBusinessRule},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestAddDeactivations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newSchedulerMetrics(registry, Config{ServiceName: "cooptariff", Environment: "test"})

	m.AddDeactivations(LedgerServices, 3)
	m.AddDeactivations(LedgerServices, 0)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.deactivations.WithLabelValues(LedgerServices)))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTariffChange(context.Background(), "services", "replace_rate")

	var s *SchedulerMetrics
	s.IncJobRun("expire_services")

	built, err := New(Config{}, noop.NewMeterProvider())
	assert.NoError(t, err)
	built.RecordRejection(context.Background(), "replace_rate", "invalid_date")
}
