package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/repositories"
)

// DriftService reports confirmed matches whose underlying device record
// has been edited since confirmation. It never changes review status;
// acting on staleness is a human decision.
type DriftService interface {
	// FindStale returns confirmed matches whose stored name or address
	// snapshot differs from the live device record.
	FindStale(ctx context.Context, year int) ([]models.StaleMatch, error)
}

type driftService struct {
	matchRepo repositories.MatchRepository
	logger    *zap.Logger
}

// NewDriftService creates a new DriftService.
func NewDriftService(matchRepo repositories.MatchRepository, logger *zap.Logger) DriftService {
	return &driftService{
		matchRepo: matchRepo,
		logger:    logger.Named("drift-service"),
	}
}

var _ DriftService = (*driftService)(nil)

func (s *driftService) FindStale(ctx context.Context, year int) ([]models.StaleMatch, error) {
	if year == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}
	stale, err := s.matchRepo.ListStale(ctx, year)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		s.logger.Info("stale confirmed matches detected",
			zap.Int("matching_year", year),
			zap.Int("count", len(stale)))
	}
	return stale, nil
}
