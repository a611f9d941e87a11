package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/normalize"
	"github.com/aedregistry/matching-engine/pkg/repositories"
)

// NormalizePreview shows a reviewer what the active rule set does to a
// raw institution name, including which rules fired.
type NormalizePreview struct {
	Input      string             `json:"input"`
	Normalized string             `json:"normalized"`
	Signals    []normalize.Signal `json:"signals"`
}

// RuleService exposes the rule set for inspection and dry-run
// normalization. Rule editing happens out of band through the seeder.
type RuleService interface {
	// List returns every rule in application order.
	List(ctx context.Context) ([]models.NormalizationRule, error)

	// Preview normalizes a name under the active rule set without
	// touching any match state.
	Preview(ctx context.Context, name string) (*NormalizePreview, error)
}

type ruleService struct {
	ruleRepo repositories.RuleRepository
	logger   *zap.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(ruleRepo repositories.RuleRepository, logger *zap.Logger) RuleService {
	return &ruleService{ruleRepo: ruleRepo, logger: logger.Named("rule-service")}
}

var _ RuleService = (*ruleService)(nil)

func (s *ruleService) List(ctx context.Context) ([]models.NormalizationRule, error) {
	return s.ruleRepo.List(ctx)
}

func (s *ruleService) Preview(ctx context.Context, name string) (*NormalizePreview, error) {
	if name == "" {
		return nil, &apperrors.ValidationError{Field: "name", Message: "required"}
	}
	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	normalizer, err := normalize.New(rules)
	if err != nil {
		return nil, err
	}
	result := normalizer.Normalize(name)
	return &NormalizePreview{
		Input:      name,
		Normalized: result.Normalized,
		Signals:    result.Signals,
	}, nil
}
