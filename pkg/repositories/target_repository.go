package repositories

import (
	"context"
	"fmt"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/database"
	"github.com/aedregistry/matching-engine/pkg/models"
)

// TargetRepository provides read access to the government roster of
// target institutions. The roster is owned by the regulatory feed and
// immutable for a given year, so there are no write methods.
type TargetRepository interface {
	// ListByYear returns every target institution for a matching year.
	ListByYear(ctx context.Context, year int) ([]models.TargetInstitution, error)

	// Get returns a single target, or apperrors.ErrNotFound.
	Get(ctx context.Context, targetKey string, year int) (*models.TargetInstitution, error)
}

type targetRepository struct{}

// NewTargetRepository creates a new TargetRepository.
func NewTargetRepository() TargetRepository {
	return &targetRepository{}
}

var _ TargetRepository = (*targetRepository)(nil)

const targetColumns = "target_key, matching_year, institution_name, sido, gugun, division, sub_division"

func (r *targetRepository) ListByYear(ctx context.Context, year int) ([]models.TargetInstitution, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM target_institutions
		WHERE matching_year = $1
		ORDER BY target_key`, targetColumns), year)
	if err != nil {
		return nil, fmt.Errorf("failed to query target institutions: %w", err)
	}
	defer rows.Close()

	var targets []models.TargetInstitution
	for rows.Next() {
		var t models.TargetInstitution
		if err := rows.Scan(&t.TargetKey, &t.MatchingYear, &t.InstitutionName,
			&t.Sido, &t.Gugun, &t.Division, &t.SubDivision); err != nil {
			return nil, fmt.Errorf("failed to scan target institution: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating target institutions: %w", err)
	}
	return targets, nil
}

func (r *targetRepository) Get(ctx context.Context, targetKey string, year int) (*models.TargetInstitution, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var t models.TargetInstitution
	err := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM target_institutions
		WHERE target_key = $1 AND matching_year = $2`, targetColumns),
		targetKey, year,
	).Scan(&t.TargetKey, &t.MatchingYear, &t.InstitutionName,
		&t.Sido, &t.Gugun, &t.Division, &t.SubDivision)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("target %s year %d: %w", targetKey, year, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get target institution: %w", err)
	}
	return &t, nil
}
