package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/Egham-7/token-gate/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&models.UsageEvent{})
}

// RecordEvent stores one request outcome. Events are informational and never
// touch balances.
func (s *Service) RecordEvent(ctx context.Context, event *models.UsageEvent) error {
	if event.AccountID == "" {
		return fmt.Errorf("usage event requires an account id")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record usage event: %w", err)
	}
	return nil
}

func (s *Service) ListEvents(ctx context.Context, accountID string, limit, offset int) ([]models.UsageEvent, error) {
	var events []models.UsageEvent

	query := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	return events, nil
}

func (s *Service) scope(ctx context.Context, accountID string, from, to time.Time) *gorm.DB {
	query := s.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("account_id = ?", accountID)

	if !from.IsZero() {
		query = query.Where("created_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to.UTC())
	}
	return query
}

var statsColumns = []string{
	"COUNT(*) as total_requests",
	"COALESCE(SUM(tokens_charged), 0) as total_tokens",
	"COUNT(CASE WHEN cache_hit THEN 1 END) as cache_hits",
	"COUNT(CASE WHEN status_code >= 200 AND status_code < 300 THEN 1 END) as success_requests",
	"COUNT(CASE WHEN status_code >= 400 OR status_code = 0 THEN 1 END) as failed_requests",
	"COALESCE(AVG(latency_ms), 0) as avg_latency_ms",
}

// Stats aggregates an account's events. Zero bounds are open.
func (s *Service) Stats(ctx context.Context, accountID string, from, to time.Time) (*models.UsageStats, error) {
	var stats models.UsageStats
	if err := s.scope(ctx, accountID, from, to).Select(statsColumns).Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to get usage stats: %w", err)
	}
	return &stats, nil
}

func (s *Service) StatsByOperation(ctx context.Context, accountID string, from, to time.Time) ([]models.UsageByOperation, error) {
	type row struct {
		Operation string
		models.UsageStats
	}

	var rows []row
	err := s.scope(ctx, accountID, from, to).
		Select(append([]string{"operation"}, statsColumns...)).
		Group("operation").
		Order("operation").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get usage by operation: %w", err)
	}

	results := make([]models.UsageByOperation, len(rows))
	for i, r := range rows {
		results[i] = models.UsageByOperation{Operation: r.Operation, Stats: r.UsageStats}
	}
	return results, nil
}
