package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	svc := NewService(db)
	require.NoError(t, svc.AutoMigrate())
	return svc, db
}

func TestRecordEventAssignsID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event := &models.UsageEvent{AccountID: "acct", Operation: "summarize", TokensCharged: 5, StatusCode: 200}
	require.NoError(t, svc.RecordEvent(ctx, event))
	assert.Len(t, event.ID, 36)

	err := svc.RecordEvent(ctx, &models.UsageEvent{})
	assert.Error(t, err)

	events, err := svc.ListEvents(ctx, "acct", 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(5), events[0].TokensCharged)
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	events := []*models.UsageEvent{
		{AccountID: "acct", Operation: "summarize", TokensCharged: 10, StatusCode: 200, LatencyMs: 10},
		{AccountID: "acct", Operation: "summarize", TokensCharged: 0, StatusCode: 200, CacheHit: true, LatencyMs: 2},
		{AccountID: "acct", Operation: "insights", TokensCharged: 0, StatusCode: 402, LatencyMs: 3},
		{AccountID: "other", Operation: "insights", TokensCharged: 99, StatusCode: 200},
	}
	for _, e := range events {
		require.NoError(t, svc.RecordEvent(ctx, e))
	}

	stats, err := svc.Stats(ctx, "acct", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(10), stats.TotalTokens)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(2), stats.SuccessRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.InDelta(t, 5.0, stats.AvgLatencyMs, 0.001)

	byOp, err := svc.StatsByOperation(ctx, "acct", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, byOp, 2)
	assert.Equal(t, "insights", byOp[0].Operation)
	assert.Equal(t, int64(1), byOp[0].Stats.TotalRequests)
	assert.Equal(t, "summarize", byOp[1].Operation)
	assert.Equal(t, int64(10), byOp[1].Stats.TotalTokens)

	future, err := svc.Stats(ctx, "acct", time.Now().Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, future.TotalRequests)
}

func TestWorkerDrainsOnStop(t *testing.T) {
	svc, db := newTestService(t)

	w := NewWorker(svc, 3, 64)
	for i := range 40 {
		w.Submit(&models.UsageEvent{AccountID: "acct", RequestID: fmt.Sprintf("req-%d", i), StatusCode: 200})
	}
	w.Stop()

	var count int64
	require.NoError(t, db.Model(&models.UsageEvent{}).Count(&count).Error)
	assert.Equal(t, int64(40), count)

	// Submitting after stop drops silently and Stop stays idempotent.
	w.Submit(&models.UsageEvent{AccountID: "acct"})
	w.Stop()
}
