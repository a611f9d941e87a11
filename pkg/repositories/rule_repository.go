package repositories

import (
	"context"
	"fmt"

	"github.com/aedregistry/matching-engine/pkg/database"
	"github.com/aedregistry/matching-engine/pkg/models"
)

// RuleRepository provides data access for normalization rules.
type RuleRepository interface {
	// ListActive returns the active rule set ordered by priority
	// (highest first), then insertion order. A batch run calls this
	// once and works from the returned snapshot.
	ListActive(ctx context.Context) ([]models.NormalizationRule, error)

	// List returns every rule, active or not, in application order.
	List(ctx context.Context) ([]models.NormalizationRule, error)

	// Create inserts a new rule and sets its generated ID.
	Create(ctx context.Context, rule *models.NormalizationRule) error
}

type ruleRepository struct{}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository() RuleRepository {
	return &ruleRepository{}
}

var _ RuleRepository = (*ruleRepository)(nil)

const ruleColumns = "id, rule_type, pattern, replacement, priority, active, created_at"

func (r *ruleRepository) ListActive(ctx context.Context) ([]models.NormalizationRule, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT %s FROM normalization_rules
		WHERE active
		ORDER BY priority DESC, id`, ruleColumns))
}

func (r *ruleRepository) List(ctx context.Context) ([]models.NormalizationRule, error) {
	return r.list(ctx, fmt.Sprintf(`
		SELECT %s FROM normalization_rules
		ORDER BY priority DESC, id`, ruleColumns))
}

func (r *ruleRepository) list(ctx context.Context, query string) ([]models.NormalizationRule, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query normalization rules: %w", err)
	}
	defer rows.Close()

	var rules []models.NormalizationRule
	for rows.Next() {
		var rule models.NormalizationRule
		if err := rows.Scan(&rule.ID, &rule.RuleType, &rule.Pattern, &rule.Replacement,
			&rule.Priority, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan normalization rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating normalization rules: %w", err)
	}
	return rules, nil
}

func (r *ruleRepository) Create(ctx context.Context, rule *models.NormalizationRule) error {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	err := q.QueryRow(ctx, `
		INSERT INTO normalization_rules (rule_type, pattern, replacement, priority, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		rule.RuleType, rule.Pattern, rule.Replacement, rule.Priority, rule.Active,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create normalization rule: %w", err)
	}
	return nil
}
