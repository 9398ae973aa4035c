package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// APIKeyPrefix is the fixed, recognizable prefix of every issued credential.
const APIKeyPrefix = "apk_"

const apiKeySecretLength = 43

type APIKey struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string    `gorm:"not null;size:255;default:''" json:"name"`
	KeyHash    string    `gorm:"uniqueIndex;not null;size:64" json:"-"`
	KeyPreview string    `gorm:"not null;size:32" json:"key_preview"`
	OwnerID    string    `gorm:"not null;size:255;index" json:"owner_id"`
	Tier       Tier      `gorm:"not null;size:20;default:'free'" json:"tier"`
	IsActive   bool      `gorm:"not null;default:true;index" json:"is_active"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (k *APIKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && k.ExpiresAt.Before(now)
}

type APIKeyCreateRequest struct {
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type APIKeyResponse struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key,omitzero"`
	KeyPreview string    `json:"key_preview"`
	OwnerID    string    `json:"owner_id"`
	Tier       Tier      `json:"tier"`
	IsActive   bool      `json:"is_active"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewAPIKeyResponse(k *APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPreview: k.KeyPreview,
		OwnerID:    k.OwnerID,
		Tier:       k.Tier,
		IsActive:   k.IsActive,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + base64.URLEncoding.EncodeToString(b)[:apiKeySecretLength], nil
}

func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

// ValidAPIKeyFormat is the cheap pre-lookup check: prefix and length only.
func ValidAPIKeyFormat(key string) bool {
	return strings.HasPrefix(key, APIKeyPrefix) && len(key) == len(APIKeyPrefix)+apiKeySecretLength
}

// PreviewAPIKey returns the display form, e.g. "apk_AbCd...wXyZ".
func PreviewAPIKey(key string) string {
	if len(key) < len(APIKeyPrefix)+8 {
		return APIKeyPrefix + "..."
	}
	return key[:len(APIKeyPrefix)+4] + "..." + key[len(key)-4:]
}
