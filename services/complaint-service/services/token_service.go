package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/civicdesk/civic-portal/backend/services/common/errors"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
)

type TokenService struct {
	tokens repository.TokenRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewTokenService(tokens repository.TokenRepository, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{tokens: tokens, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register stores token as the user's active token for the device class.
func (s *TokenService) Register(ctx context.Context, userID string, req models.RegisterTokenRequest) (*models.DeviceToken, error) {
	token := strings.TrimSpace(req.Token)
	if userID == "" || token == "" {
		return nil, apperrors.InvalidArgument("userId and token are required")
	}
	class := req.DeviceClass
	if class == "" {
		class = models.DeviceWeb
	}
	switch class {
	case models.DeviceWeb, models.DeviceAndroid, models.DeviceIOS:
	default:
		return nil, apperrors.InvalidArgument("deviceClass must be web, android or ios")
	}

	now := s.now()
	t := &models.DeviceToken{
		UserID:      userID,
		Token:       token,
		DeviceClass: class,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tokens.Upsert(ctx, t); err != nil {
		return nil, apperrors.Internal("failed to save device token", err)
	}
	s.logger.Info("device token registered", zap.String("user_id", userID), zap.String("device_class", class))
	return t, nil
}

// Deactivate marks every token of the user inactive. Records are kept.
func (s *TokenService) Deactivate(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, apperrors.InvalidArgument("userId is required")
	}
	n, err := s.tokens.DeactivateAll(ctx, userID, s.now())
	if err != nil {
		return 0, apperrors.Internal("failed to deactivate device tokens", err)
	}
	s.logger.Info("device tokens deactivated", zap.String("user_id", userID), zap.Int("count", n))
	return n, nil
}
