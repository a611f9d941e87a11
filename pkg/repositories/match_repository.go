package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/database"
	"github.com/aedregistry/matching-engine/pkg/models"
)

// MatchRepository provides data access for match results and the
// append-only action log. Status updates and action appends belong to
// the same transaction; callers establish it with database.InTx.
type MatchRepository interface {
	// Get returns the match result for a target, or apperrors.ErrNotFound.
	Get(ctx context.Context, targetKey string, year int) (*models.MatchResult, error)

	// GetForUpdate is Get with a row lock, for use inside a commit
	// transaction.
	GetForUpdate(ctx context.Context, targetKey string, year int) (*models.MatchResult, error)

	// Upsert inserts or replaces the single result row for
	// (target_key, matching_year).
	Upsert(ctx context.Context, result *models.MatchResult) error

	// ListByYear returns results for a year, optionally filtered by
	// review status and target region.
	ListByYear(ctx context.Context, year int, status, sido string) ([]models.MatchResult, error)

	// FindConfirmedBySerials returns the confirmed results holding any
	// of the given device serials in the given year.
	FindConfirmedBySerials(ctx context.Context, year int, serials []string) ([]models.MatchResult, error)

	// AppendAction inserts one audit log row. The log is append-only;
	// there are no update or delete methods by design.
	AppendAction(ctx context.Context, action *models.MatchAction) error

	// ListActions returns a target's full action history, oldest first,
	// suitable for state-machine replay.
	ListActions(ctx context.Context, targetKey string, year int) ([]models.MatchAction, error)

	// ListUnmatchable returns unmatchable targets for a year with the
	// reason and actor of the most recent mark action. Empty sido/gugun
	// match everything.
	ListUnmatchable(ctx context.Context, year int, sido, gugun string) ([]models.UnmatchableEntry, error)

	// ListStale returns confirmed matches whose device record no longer
	// matches the snapshots stored at match time.
	ListStale(ctx context.Context, year int) ([]models.StaleMatch, error)
}

type matchRepository struct{}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository() MatchRepository {
	return &matchRepository{}
}

var _ MatchRepository = (*matchRepository)(nil)

const matchColumns = `target_key, matching_year, matched_equipment_serial,
	matched_institution_name_snapshot, matched_address_snapshot,
	name_confidence, address_confidence, confidence_score,
	matching_method, review_status, created_at, updated_at`

func (r *matchRepository) Get(ctx context.Context, targetKey string, year int) (*models.MatchResult, error) {
	return r.get(ctx, targetKey, year, "")
}

func (r *matchRepository) GetForUpdate(ctx context.Context, targetKey string, year int) (*models.MatchResult, error) {
	return r.get(ctx, targetKey, year, " FOR UPDATE")
}

func (r *matchRepository) get(ctx context.Context, targetKey string, year int, suffix string) (*models.MatchResult, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	row := q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM match_results
		WHERE target_key = $1 AND matching_year = $2%s`, matchColumns, suffix),
		targetKey, year)

	result, err := scanMatchResult(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("match result for target %s year %d: %w", targetKey, year, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return result, nil
}

func (r *matchRepository) Upsert(ctx context.Context, result *models.MatchResult) error {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	now := time.Now().UTC()
	result.UpdatedAt = now
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}

	_, err := q.Exec(ctx, `
		INSERT INTO match_results (
			target_key, matching_year, matched_equipment_serial,
			matched_institution_name_snapshot, matched_address_snapshot,
			name_confidence, address_confidence, confidence_score,
			matching_method, review_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (target_key, matching_year) DO UPDATE SET
			matched_equipment_serial = EXCLUDED.matched_equipment_serial,
			matched_institution_name_snapshot = EXCLUDED.matched_institution_name_snapshot,
			matched_address_snapshot = EXCLUDED.matched_address_snapshot,
			name_confidence = EXCLUDED.name_confidence,
			address_confidence = EXCLUDED.address_confidence,
			confidence_score = EXCLUDED.confidence_score,
			matching_method = EXCLUDED.matching_method,
			review_status = EXCLUDED.review_status,
			updated_at = EXCLUDED.updated_at`,
		result.TargetKey, result.MatchingYear, result.MatchedEquipmentSerial,
		result.MatchedInstitutionSnapshot, result.MatchedAddressSnapshot,
		result.NameConfidence, result.AddressConfidence, result.ConfidenceScore,
		result.MatchingMethod, result.ReviewStatus, result.CreatedAt, result.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert match result: %w", err)
	}
	return nil
}

func (r *matchRepository) ListByYear(ctx context.Context, year int, status, sido string) ([]models.MatchResult, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM match_results m
		WHERE m.matching_year = $1
		  AND ($2 = '' OR m.review_status = $2)
		  AND ($3 = '' OR EXISTS (
			SELECT 1 FROM target_institutions t
			WHERE t.target_key = m.target_key
			  AND t.matching_year = m.matching_year
			  AND t.sido = $3))
		ORDER BY m.target_key`, qualifyMatchColumns("m")),
		year, status, sido)
	if err != nil {
		return nil, fmt.Errorf("failed to query match results: %w", err)
	}
	defer rows.Close()

	return collectMatchResults(rows)
}

func (r *matchRepository) FindConfirmedBySerials(ctx context.Context, year int, serials []string) ([]models.MatchResult, error) {
	if len(serials) == 0 {
		return nil, nil
	}
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM match_results
		WHERE matching_year = $1
		  AND review_status = 'confirmed'
		  AND matched_equipment_serial = ANY($2)
		ORDER BY matched_equipment_serial, target_key`, matchColumns),
		year, serials)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmed matches by serial: %w", err)
	}
	defer rows.Close()

	return collectMatchResults(rows)
}

func (r *matchRepository) AppendAction(ctx context.Context, action *models.MatchAction) error {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	action.CreatedAt = time.Now().UTC()

	_, err := q.Exec(ctx, `
		INSERT INTO match_actions (id, target_key, matching_year, action, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		action.ID, action.TargetKey, action.MatchingYear, action.Action,
		action.ActorID, action.Reason, action.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append match action: %w", err)
	}
	return nil
}

func (r *matchRepository) ListActions(ctx context.Context, targetKey string, year int) ([]models.MatchAction, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, `
		SELECT id, target_key, matching_year, action, actor_id, reason, created_at
		FROM match_actions
		WHERE target_key = $1 AND matching_year = $2
		ORDER BY created_at, id`,
		targetKey, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query match actions: %w", err)
	}
	defer rows.Close()

	var actions []models.MatchAction
	for rows.Next() {
		var a models.MatchAction
		if err := rows.Scan(&a.ID, &a.TargetKey, &a.MatchingYear, &a.Action,
			&a.ActorID, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan match action: %w", err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match actions: %w", err)
	}
	return actions, nil
}

func (r *matchRepository) ListUnmatchable(ctx context.Context, year int, sido, gugun string) ([]models.UnmatchableEntry, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, `
		SELECT t.target_key, t.matching_year, t.institution_name, t.sido, t.gugun,
		       t.division, t.sub_division, a.reason, a.actor_id, a.created_at
		FROM match_results m
		JOIN target_institutions t
		  ON t.target_key = m.target_key AND t.matching_year = m.matching_year
		JOIN LATERAL (
			SELECT reason, actor_id, created_at
			FROM match_actions
			WHERE target_key = m.target_key
			  AND matching_year = m.matching_year
			  AND action = 'mark_unmatchable'
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) a ON TRUE
		WHERE m.matching_year = $1
		  AND m.review_status = 'unmatchable'
		  AND ($2 = '' OR t.sido = $2)
		  AND ($3 = '' OR t.gugun = $3)
		ORDER BY t.target_key`,
		year, sido, gugun)
	if err != nil {
		return nil, fmt.Errorf("failed to query unmatchable targets: %w", err)
	}
	defer rows.Close()

	var entries []models.UnmatchableEntry
	for rows.Next() {
		var e models.UnmatchableEntry
		if err := rows.Scan(&e.Target.TargetKey, &e.Target.MatchingYear, &e.Target.InstitutionName,
			&e.Target.Sido, &e.Target.Gugun, &e.Target.Division, &e.Target.SubDivision,
			&e.Reason, &e.MarkedBy, &e.MarkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unmatchable entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unmatchable entries: %w", err)
	}
	return entries, nil
}

func (r *matchRepository) ListStale(ctx context.Context, year int) ([]models.StaleMatch, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, `
		SELECT m.target_key, m.matching_year, m.matched_equipment_serial,
		       m.matched_institution_name_snapshot, m.matched_address_snapshot,
		       d.installation_institution, d.installation_address
		FROM match_results m
		JOIN device_records d ON d.equipment_serial = m.matched_equipment_serial
		WHERE m.matching_year = $1
		  AND m.review_status = 'confirmed'
		  AND (d.installation_institution <> m.matched_institution_name_snapshot
		       OR d.installation_address <> m.matched_address_snapshot)
		ORDER BY m.target_key`,
		year)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale matches: %w", err)
	}
	defer rows.Close()

	var stale []models.StaleMatch
	for rows.Next() {
		var s models.StaleMatch
		if err := rows.Scan(&s.TargetKey, &s.MatchingYear, &s.EquipmentSerial,
			&s.Stored.InstallationInstitution, &s.Stored.InstallationAddress,
			&s.Live.InstallationInstitution, &s.Live.InstallationAddress); err != nil {
			return nil, fmt.Errorf("failed to scan stale match: %w", err)
		}
		stale = append(stale, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale matches: %w", err)
	}
	return stale, nil
}

func qualifyMatchColumns(alias string) string {
	return alias + `.target_key, ` + alias + `.matching_year, ` + alias + `.matched_equipment_serial,
	` + alias + `.matched_institution_name_snapshot, ` + alias + `.matched_address_snapshot,
	` + alias + `.name_confidence, ` + alias + `.address_confidence, ` + alias + `.confidence_score,
	` + alias + `.matching_method, ` + alias + `.review_status, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanMatchResult(row pgx.Row) (*models.MatchResult, error) {
	var m models.MatchResult
	err := row.Scan(&m.TargetKey, &m.MatchingYear, &m.MatchedEquipmentSerial,
		&m.MatchedInstitutionSnapshot, &m.MatchedAddressSnapshot,
		&m.NameConfidence, &m.AddressConfidence, &m.ConfidenceScore,
		&m.MatchingMethod, &m.ReviewStatus, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan match result: %w", err)
	}
	return &m, nil
}

func collectMatchResults(rows pgx.Rows) ([]models.MatchResult, error) {
	var results []models.MatchResult
	for rows.Next() {
		m, err := scanMatchResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match results: %w", err)
	}
	return results, nil
}
