package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type Tier string

const (
	TierFree     Tier = "free"
	TierVerified Tier = "verified"
	TierPremium  Tier = "premium"
)

// UnlimitedAPIKeys is the MaxAPIKeys sentinel for tiers without a key cap.
const UnlimitedAPIKeys = -1

const (
	FeatureBasicAnalysis   = "basic_analysis"
	FeatureRepoInsights    = "repo_insights"
	FeatureAISummaries     = "ai_summaries"
	FeaturePrioritySupport = "priority_support"
)

var ErrUnknownTier = errors.New("unknown tier")

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierVerified, TierPremium:
		return true
	default:
		return false
	}
}

func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// TierLimits is cached on the account record but is always re-derivable from the tier.
type TierLimits struct {
	MaxAPIKeys      int      `json:"max_api_keys" yaml:"max_api_keys"`
	DailyFreeTokens int64    `json:"daily_free_tokens" yaml:"daily_free_tokens"`
	Features        []string `json:"features" yaml:"features"`
}

func (l TierLimits) HasFeature(feature string) bool {
	return slices.Contains(l.Features, feature)
}

func (l TierLimits) UnlimitedKeys() bool {
	return l.MaxAPIKeys == UnlimitedAPIKeys
}

func (l TierLimits) Value() (driver.Value, error) {
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *TierLimits) Scan(value any) error {
	if value == nil {
		*l = TierLimits{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported type for TierLimits: %T", value)
	}
	if len(bytes) == 0 {
		*l = TierLimits{}
		return nil
	}
	return json.Unmarshal(bytes, l)
}

func (TierLimits) GormDataType() string {
	return "json"
}

func (TierLimits) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "mysql":
		return "JSON"
	default:
		return "TEXT"
	}
}

// TierTable is the static, versioned tier configuration.
type TierTable map[Tier]TierLimits

func DefaultTierTable() TierTable {
	return TierTable{
		TierFree: {
			MaxAPIKeys:      1,
			DailyFreeTokens: 100,
			Features:        []string{FeatureBasicAnalysis},
		},
		TierVerified: {
			MaxAPIKeys:      3,
			DailyFreeTokens: 500,
			Features:        []string{FeatureBasicAnalysis, FeatureRepoInsights},
		},
		TierPremium: {
			MaxAPIKeys:      UnlimitedAPIKeys,
			DailyFreeTokens: 2000,
			Features:        []string{FeatureBasicAnalysis, FeatureRepoInsights, FeatureAISummaries, FeaturePrioritySupport},
		},
	}
}

// Limits returns a copy of the limits configured for tier.
func (t TierTable) Limits(tier Tier) (TierLimits, error) {
	limits, ok := t[tier]
	if !ok {
		return TierLimits{}, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	limits.Features = slices.Clone(limits.Features)
	return limits, nil
}

func (t TierTable) DailyAllowance(tier Tier) int64 {
	return t[tier].DailyFreeTokens
}
