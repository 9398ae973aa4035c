package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Egham-7/token-gate/internal/models"
	"github.com/Egham-7/token-gate/internal/services/ledger"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

var (
	ErrAPIKeyNotFound     = errors.New("api key not found")
	ErrAPIKeyLimitReached = errors.New("api key limit reached")
)

// LimitError explains why the owner cannot issue another key.
type LimitError struct {
	Allowance ledger.KeyAllowance
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAPIKeyLimitReached, e.Allowance.Reason)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrAPIKeyLimitReached
}

type Service struct {
	db     *gorm.DB
	ledger *ledger.Service
	now    func() time.Time
}

func NewService(db *gorm.DB, ledgerSvc *ledger.Service) *Service {
	return &Service{db: db, ledger: ledgerSvc, now: time.Now}
}

// CreateAPIKey issues a key for the owner if the tier allows another one.
// The plaintext key is only ever present in the returned response.
func (s *Service) CreateAPIKey(ctx context.Context, req *models.APIKeyCreateRequest) (*models.APIKeyResponse, error) {
	allowance, err := s.ledger.CanCreateAPIKey(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if !allowance.Allowed {
		return nil, &LimitError{Allowance: allowance}
	}

	account, err := s.ledger.GetAccount(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	key, err := models.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	apiKey := &models.APIKey{
		Name:       req.Name,
		KeyHash:    models.HashAPIKey(key),
		KeyPreview: models.PreviewAPIKey(key),
		OwnerID:    req.OwnerID,
		Tier:       account.Tier,
		IsActive:   true,
		ExpiresAt:  req.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Create(apiKey).Error; err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	fiberlog.Infof("APIKeyService: issued key %s for %s", apiKey.KeyPreview, req.OwnerID)

	resp := models.NewAPIKeyResponse(apiKey)
	resp.Key = key
	return &resp, nil
}

// GetByHash returns the credential record for a hashed key, active or not.
func (s *Service) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	var apiKey models.APIKey
	if err := s.db.WithContext(ctx).Where("key_hash = ?", keyHash).First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	return &apiKey, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, ownerID string) ([]models.APIKeyResponse, error) {
	var apiKeys []models.APIKey
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&apiKeys).Error; err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}

	responses := make([]models.APIKeyResponse, len(apiKeys))
	for i := range apiKeys {
		responses[i] = models.NewAPIKeyResponse(&apiKeys[i])
	}
	return responses, nil
}

// RevokeAPIKey deactivates the key. Records are never deleted.
func (s *Service) RevokeAPIKey(ctx context.Context, ownerID string, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	fiberlog.Infof("APIKeyService: revoked key %d for %s", id, ownerID)
	return nil
}

// Touch stamps last_used_at.
func (s *Service) Touch(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", s.now().UTC()).Error
}
