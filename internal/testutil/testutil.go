// Package testutil wires the ledger packages against an in-memory sqlite store.
package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/cooptariff/internal/audit/domain"
	auditrepository "github.com/smallbiznis/cooptariff/internal/audit/repository"
	auditservice "github.com/smallbiznis/cooptariff/internal/audit/service"
	"github.com/smallbiznis/cooptariff/internal/clock"
	"github.com/smallbiznis/cooptariff/internal/config"
	"github.com/smallbiznis/cooptariff/internal/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenDB returns a fresh in-memory database with the full schema.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Day builds a calendar date at noon UTC so truncation never crosses a day boundary.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

// Date builds midnight UTC, the form in which ledger dates are stored.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func DatePtr(year int, month time.Month, day int) *time.Time {
	d := Date(year, month, day)
	return &d
}

func FakeClock(year int, month time.Month, day int) *clock.FakeClock {
	return clock.NewFakeClock(Day(year, month, day))
}

// Audit builds the ledger event service on conn.
func Audit(conn *gorm.DB, node *snowflake.Node, clk clock.Clock) auditdomain.Service {
	return AuditWithLog(conn, node, clk, zap.NewNop())
}

// AuditWithLog is Audit with the published ledger entries going to log.
func AuditWithLog(conn *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) auditdomain.Service {
	return auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})
}

// FastRetry keeps transient-failure tests quick.
func FastRetry() *config.LedgerConfigHolder {
	cfg := config.DefaultLedgerConfig()
	cfg.Retry.InitialInterval = time.Millisecond
	cfg.Retry.MaxInterval = 5 * time.Millisecond
	return config.NewStaticLedgerConfigHolder(cfg)
}

// Events returns the recorded actions for an entity, oldest first.
func Events(t *testing.T, conn *gorm.DB, entityID snowflake.ID) []string {
	t.Helper()
	var actions []string
	require.NoError(t, conn.Model(&auditdomain.LedgerEvent{}).
		Where("entity_id = ?", entityID).
		Order("id asc").
		Pluck("action", &actions).Error)
	return actions
}
