package models

import "time"

// RateLimitRule bounds one feature. Window is in milliseconds.
type RateLimitRule struct {
	Limit    int `json:"limit" yaml:"limit"`
	WindowMs int `json:"window_ms" yaml:"window_ms"`
}

func (r RateLimitRule) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

type RateLimitConfig struct {
	Enabled  bool                     `json:"enabled" yaml:"enabled"`
	Default  RateLimitRule            `json:"default" yaml:"default"`
	Features map[string]RateLimitRule `json:"features,omitempty" yaml:"features,omitempty"`
}

// Rule returns the feature override when present, otherwise the default.
func (c RateLimitConfig) Rule(feature string) RateLimitRule {
	if r, ok := c.Features[feature]; ok && r.Limit > 0 && r.WindowMs > 0 {
		return r
	}
	return c.Default
}

type TimeoutConfig struct {
	Timeout time.Duration
}

// CircuitBreakerConfig trips an operation after consecutive failures.
type CircuitBreakerConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	FailureThreshold int  `json:"failure_threshold,omitzero" yaml:"failure_threshold"`
	SuccessThreshold int  `json:"success_threshold,omitzero" yaml:"success_threshold"`
	TimeoutMs        int  `json:"timeout_ms,omitzero" yaml:"timeout_ms"`
}
