package models

import "time"

// UsageSnapshot is what callers render after a metered call.
type UsageSnapshot struct {
	TokensRemaining int64 `json:"tokensRemaining"`
	TokensUsed      int64 `json:"tokensUsed"`
	DailyFreeTokens int64 `json:"dailyFreeTokens"`
	DailyRemaining  int64 `json:"dailyRemaining"`
	PurchasedTokens int64 `json:"purchasedTokens"`
	Tier            Tier  `json:"tier"`
}

type UsageEvent struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	AccountID     string    `gorm:"not null;size:255;index" json:"account_id"`
	APIKeyID      uint      `gorm:"not null;default:0;index" json:"api_key_id"`
	Endpoint      string    `gorm:"not null;size:255;default:''" json:"endpoint"`
	Operation     string    `gorm:"not null;size:100;default:'';index" json:"operation,omitzero"`
	TokensCharged int64     `gorm:"not null;default:0" json:"tokens_charged"`
	CacheHit      bool      `gorm:"not null;default:false" json:"cache_hit"`
	StatusCode    int       `gorm:"not null;default:0" json:"status_code"`
	LatencyMs     int64     `gorm:"not null;default:0" json:"latency_ms"`
	RequestID     string    `gorm:"not null;size:100;default:'';index" json:"request_id,omitzero"`
	ErrorMessage  string    `gorm:"type:text;default:''" json:"error_message,omitzero"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (UsageEvent) TableName() string {
	return "usage_events"
}

type UsageStats struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalTokens     int64   `json:"total_tokens"`
	CacheHits       int64   `json:"cache_hits"`
	SuccessRequests int64   `json:"success_requests"`
	FailedRequests  int64   `json:"failed_requests"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

type UsageByOperation struct {
	Operation string     `json:"operation"`
	Stats     UsageStats `json:"stats"`
}
