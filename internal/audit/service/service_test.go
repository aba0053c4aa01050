package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	obscontext "github.com/smallbiznis/cooptariff/internal/observability/context"
	"github.com/smallbiznis/cooptariff/internal/testutil"
	"github.com/smallbiznis/cooptariff/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecordCapturesActorAndRequest(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := testutil.Audit(conn, node, testutil.FakeClock(2025, time.March, 10))

	ctx := obscontext.WithRequestID(context.Background(), "req-42")
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeOperator, "board-7")

	entityID := node.Generate()
	before := decimal.RequireFromString("1.2")
	after := decimal.RequireFromString("1.8793")
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Event{
		EntityType: auditdomain.EntityService,
		EntityID:   entityID,
		Action:     auditdomain.ActionTariffReplaced,
		RateBefore: &before,
		RateAfter:  &after,
		Metadata:   map[string]any{"start_date": "2025-01-01"},
	}))

	var stored auditdomain.LedgerEvent
	require.NoError(t, conn.Where("entity_id = ?", entityID).First(&stored).Error)
	assert.Equal(t, auditdomain.ActionTariffReplaced, stored.Action)
	assert.Equal(t, obscontext.ActorTypeOperator, stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "board-7", *stored.ActorID)
	require.NotNil(t, stored.RequestID)
	assert.Equal(t, "req-42", *stored.RequestID)
	require.NotNil(t, stored.RateAfter)
	assert.True(t, stored.RateAfter.Equal(after))
	assert.Equal(t, "2025-01-01", stored.Metadata["start_date"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := testutil.Audit(conn, node, testutil.FakeClock(2025, time.March, 10))

	entityID := node.Generate()
	require.NoError(t, svc.Record(context.Background(), conn, auditdomain.Event{
		EntityType: auditdomain.EntityAssignment,
		EntityID:   entityID,
		Action:     auditdomain.ActionExpiryDeactivated,
	}))

	var stored auditdomain.LedgerEvent
	require.NoError(t, conn.Where("entity_id = ?", entityID).First(&stored).Error)
	assert.Equal(t, obscontext.ActorTypeSystem, stored.ActorType)
	assert.Nil(t, stored.ActorID)
	assert.Nil(t, stored.RequestID)
}

func TestRecordValidation(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := testutil.Audit(conn, node, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()

	err := svc.Record(ctx, nil, auditdomain.Event{EntityType: auditdomain.EntityService, EntityID: node.Generate()})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.Record(ctx, nil, auditdomain.Event{Action: auditdomain.ActionServiceCreated, EntityID: node.Generate()})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidEntity)

	err = svc.Record(ctx, nil, auditdomain.Event{EntityType: auditdomain.EntityService, Action: auditdomain.ActionServiceCreated})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidEntityID)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := testutil.Audit(conn, node, testutil.FakeClock(2025, time.March, 10))

	tx := conn.Begin()
	require.NoError(t, tx.Error)
	require.NoError(t, svc.Record(context.Background(), tx, auditdomain.Event{
		EntityType: auditdomain.EntityService,
		EntityID:   node.Generate(),
		Action:     auditdomain.ActionServiceCreated,
	}))
	require.NoError(t, tx.Rollback().Error)

	var count int64
	require.NoError(t, conn.Model(&auditdomain.LedgerEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	svc := testutil.Audit(conn, node, testutil.FakeClock(2025, time.March, 10))
	ctx := context.Background()

	entityID := node.Generate()
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Event{
			EntityType: auditdomain.EntityService,
			EntityID:   entityID,
			Action:     auditdomain.ActionServiceUpdated,
		}))
	}
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Event{
		EntityType: auditdomain.EntityService,
		EntityID:   node.Generate(),
		Action:     auditdomain.ActionServiceCreated,
	}))

	first, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 3},
		EntityID:   entityID.String(),
	})
	require.NoError(t, err)
	require.Len(t, first.Events, 3)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextPageToken)
	assert.Greater(t, first.Events[0].ID, first.Events[1].ID)

	second, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 3, PageToken: first.NextPageToken},
		EntityID:   entityID.String(),
	})
	require.NoError(t, err)
	require.Len(t, second.Events, 2)
	assert.False(t, second.HasMore)
	assert.Less(t, second.Events[0].ID, first.Events[2].ID)

	created, err := svc.List(ctx, auditdomain.ListRequest{Action: auditdomain.ActionServiceCreated})
	require.NoError(t, err)
	assert.Len(t, created.Events, 1)

	_, err = svc.List(ctx, auditdomain.ListRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)

	_, err = svc.List(ctx, auditdomain.ListRequest{EntityID: "abc"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidEntityID)
}

func TestRecordOnlyPersistsAndPublishLogs(t *testing.T) {
	conn := testutil.OpenDB(t)
	node := testutil.Node(t)
	core, logs := observer.New(zapcore.InfoLevel)
	svc := testutil.AuditWithLog(conn, node, testutil.FakeClock(2025, time.March, 10), zap.New(core))
	ctx := context.Background()

	after := decimal.RequireFromString("5.8")
	event := auditdomain.Event{
		EntityType: auditdomain.EntityService,
		EntityID:   node.Generate(),
		Action:     auditdomain.ActionTariffReplaced,
		RateAfter:  &after,
	}
	require.NoError(t, svc.Record(ctx, nil, event))
	assert.Zero(t, logs.Len())

	svc.Publish(ctx, event)
	entries := logs.FilterMessage("ledger." + auditdomain.ActionTariffReplaced).All()
	require.Len(t, entries, 1)
	assert.Equal(t, event.EntityID.String(), entries[0].ContextMap()["entity_id"])
	assert.Equal(t, "5.8000", entries[0].ContextMap()["rate_after"])

	svc.Publish(ctx)
	assert.Equal(t, 1, logs.Len())
}
