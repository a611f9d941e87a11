package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/config"
	"github.com/aedregistry/matching-engine/pkg/matching"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/normalize"
	"github.com/aedregistry/matching-engine/pkg/repositories"
	"github.com/aedregistry/matching-engine/pkg/retry"
)

// Transactor runs a function inside a single database transaction.
// Satisfied by *database.DB.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunSummary reports the outcome of one batch matching run.
type RunSummary struct {
	MatchingYear int                       `json:"matching_year"`
	Total        int                       `json:"total"`
	Matched      int                       `json:"matched"`
	Unmatched    int                       `json:"unmatched"`
	Skipped      int                       `json:"skipped"`
	ByRegion     map[string]*RegionSummary `json:"by_region"`
	Errors       []RecordError             `json:"errors,omitempty"`
}

// RegionSummary is the per-sido slice of a run summary.
type RegionSummary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
}

// RecordError is a per-record failure surfaced in the run summary. One
// malformed target must not abort the whole run.
type RecordError struct {
	TargetKey string `json:"target_key"`
	Message   string `json:"message"`
}

// MatchingService orchestrates the normalizer, candidate index, and
// scorer over the target roster.
type MatchingService interface {
	// MatchOne scores a single target against the current rule and
	// inventory snapshots and returns the resulting match record
	// without committing anything.
	MatchOne(ctx context.Context, target *models.TargetInstitution) (*models.MatchResult, error)

	// PreviewTarget looks a roster target up by key and scores it the
	// way MatchOne does, so a reviewer can dry-run a single target
	// without a batch run. Returns apperrors.ErrNotFound for a target
	// key absent from the roster year.
	PreviewTarget(ctx context.Context, targetKey string, year int) (*models.MatchResult, error)

	// RunMatching scores every pending target for a year, committing
	// one result per target. Targets already suggested, confirmed, or
	// unmatchable are left alone; unmatched and rejected targets are
	// re-scored. Safe to cancel: committed targets stand, the rest are
	// simply not scheduled.
	RunMatching(ctx context.Context, year int) (*RunSummary, error)

	// ListResults returns match results for a year, optionally filtered
	// by review status and target region.
	ListResults(ctx context.Context, year int, status, sido string) ([]models.MatchResult, error)
}

type matchingService struct {
	tx         Transactor
	ruleRepo   repositories.RuleRepository
	targetRepo repositories.TargetRepository
	deviceRepo repositories.DeviceRepository
	matchRepo  repositories.MatchRepository
	cfg        config.MatchingConfig
	logger     *zap.Logger
}

// NewMatchingService creates a new MatchingService.
func NewMatchingService(
	tx Transactor,
	ruleRepo repositories.RuleRepository,
	targetRepo repositories.TargetRepository,
	deviceRepo repositories.DeviceRepository,
	matchRepo repositories.MatchRepository,
	cfg config.MatchingConfig,
	logger *zap.Logger,
) MatchingService {
	return &matchingService{
		tx:         tx,
		ruleRepo:   ruleRepo,
		targetRepo: targetRepo,
		deviceRepo: deviceRepo,
		matchRepo:  matchRepo,
		cfg:        cfg,
		logger:     logger.Named("matching-service"),
	}
}

var _ MatchingService = (*matchingService)(nil)

// snapshot bundles the immutable inputs of one run: the rule set at
// load time and the candidate index over the inventory at load time.
// Scoring reads nothing else, which is what makes targets safe to
// score in parallel.
type snapshot struct {
	scorer *matching.Scorer
	index  *matching.CandidateIndex
}

func (s *matchingService) loadSnapshot(ctx context.Context) (*snapshot, error) {
	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rule snapshot: %w", err)
	}
	normalizer, err := normalize.New(rules)
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}

	devices, err := s.deviceRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device inventory: %w", err)
	}
	refs := make([]*models.DeviceRecord, len(devices))
	for i := range devices {
		refs[i] = &devices[i]
	}

	return &snapshot{
		scorer: matching.NewScorer(normalizer),
		index:  matching.BuildIndex(refs),
	}, nil
}

func (s *matchingService) MatchOne(ctx context.Context, target *models.TargetInstitution) (*models.MatchResult, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.score(target, snap), nil
}

func (s *matchingService) PreviewTarget(ctx context.Context, targetKey string, year int) (*models.MatchResult, error) {
	if targetKey == "" {
		return nil, &apperrors.ValidationError{Field: "target_key", Message: "required"}
	}
	if year == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}

	target, err := s.targetRepo.Get(ctx, targetKey, year)
	if err != nil {
		return nil, err
	}
	return s.MatchOne(ctx, target)
}

// score selects the best candidate for a target under the snapshot.
// Pure: reads only its arguments, writes nothing.
func (s *matchingService) score(target *models.TargetInstitution, snap *snapshot) *models.MatchResult {
	result := &models.MatchResult{
		TargetKey:    target.TargetKey,
		MatchingYear: target.MatchingYear,
		ReviewStatus: models.StatusUnmatched,
	}

	var best *models.DeviceRecord
	var bestScore matching.Score
	for _, candidate := range snap.index.CandidatesFor(target) {
		score := snap.scorer.Score(target, candidate)
		if best == nil || matching.Better(score, candidate.EquipmentSerial, bestScore, best.EquipmentSerial) {
			best, bestScore = candidate, score
		}
	}

	// No candidates in region, or nothing above the suggest floor:
	// a normal unmatched outcome, not an error.
	if best == nil || bestScore.Combined < s.cfg.SuggestThreshold {
		return result
	}

	serial := best.EquipmentSerial
	result.MatchedEquipmentSerial = &serial
	result.MatchedInstitutionSnapshot = best.InstallationInstitution
	result.MatchedAddressSnapshot = best.InstallationAddress
	result.NameConfidence = bestScore.NameConfidence
	result.AddressConfidence = bestScore.AddressConfidence
	result.ConfidenceScore = bestScore.Combined
	result.ReviewStatus = models.StatusSuggested
	if bestScore.Combined >= s.cfg.AutoThreshold {
		result.MatchingMethod = models.MethodExact
	} else {
		result.MatchingMethod = models.MethodFuzzy
	}
	return result
}

func (s *matchingService) RunMatching(ctx context.Context, year int) (*RunSummary, error) {
	if year == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	targets, err := s.targetRepo.ListByYear(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}

	existing, err := s.matchRepo.ListByYear(ctx, year, "", "")
	if err != nil {
		return nil, fmt.Errorf("load existing results: %w", err)
	}
	statusByTarget := make(map[string]string, len(existing))
	for _, m := range existing {
		statusByTarget[m.TargetKey] = m.ReviewStatus
	}

	summary := &RunSummary{
		MatchingYear: year,
		Total:        len(targets),
		ByRegion:     make(map[string]*RegionSummary),
	}
	var mu sync.Mutex

	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}
	regionFor := func(t *models.TargetInstitution) *RegionSummary {
		r, ok := summary.ByRegion[t.Sido]
		if !ok {
			r = &RegionSummary{}
			summary.ByRegion[t.Sido] = r
		}
		return r
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i := range targets {
		target := &targets[i]

		if status, ok := statusByTarget[target.TargetKey]; ok &&
			status != models.StatusUnmatched && status != models.StatusRejected {
			record(func() {
				summary.Skipped++
				regionFor(target).Total++
			})
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			if err := target.Validate(); err != nil {
				record(func() {
					summary.Errors = append(summary.Errors, RecordError{
						TargetKey: target.TargetKey,
						Message:   err.Error(),
					})
					regionFor(target).Total++
				})
				return nil
			}

			result := s.score(target, snap)
			wrote, err := s.commit(gctx, result)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				s.logger.Error("failed to commit match result",
					zap.String("target_key", target.TargetKey),
					zap.Int("matching_year", year),
					zap.Error(err))
				record(func() {
					summary.Errors = append(summary.Errors, RecordError{
						TargetKey: target.TargetKey,
						Message:   err.Error(),
					})
					regionFor(target).Total++
				})
				return nil
			}

			record(func() {
				region := regionFor(target)
				region.Total++
				switch {
				case !wrote:
					// The transaction declined the write (the target was
					// reviewed concurrently, or a rejected target scored
					// below the suggest floor): the row stands as it was.
					summary.Skipped++
				case result.ReviewStatus == models.StatusSuggested:
					summary.Matched++
					region.Matched++
				default:
					summary.Unmatched++
					region.Unmatched++
				}
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("matching run aborted: %w", err)
	}

	s.logger.Info("matching run complete",
		zap.Int("matching_year", year),
		zap.Int("total", summary.Total),
		zap.Int("matched", summary.Matched),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

func (s *matchingService) ListResults(ctx context.Context, year int, status, sido string) ([]models.MatchResult, error) {
	if year == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}
	if status != "" {
		switch status {
		case models.StatusUnmatched, models.StatusSuggested, models.StatusConfirmed,
			models.StatusRejected, models.StatusUnmatchable:
		default:
			return nil, &apperrors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
		}
	}
	return s.matchRepo.ListByYear(ctx, year, status, sido)
}

// commit persists one scored result atomically with its audit action
// and reports whether the row was written. A false return means the
// transaction declined the write and the stored row is untouched.
// Serialization losers are retried against fresh state.
func (s *matchingService) commit(ctx context.Context, result *models.MatchResult) (bool, error) {
	var wrote bool
	err := retry.Do(ctx, nil, func() error {
		wrote = false
		return s.tx.InTx(ctx, func(txCtx context.Context) error {
			prior, err := s.matchRepo.Get(txCtx, result.TargetKey, result.MatchingYear)
			if err != nil && !isNotFound(err) {
				return err
			}

			if prior != nil {
				// Re-check under the transaction: another worker or a
				// reviewer may have advanced this target since the run
				// snapshot was taken.
				if prior.ReviewStatus != models.StatusUnmatched && prior.ReviewStatus != models.StatusRejected {
					return nil
				}
				result.CreatedAt = prior.CreatedAt

				// A rejected target only moves when a new suggestion
				// exists; downgrading rejected to unmatched would
				// desync the status from the action log.
				if prior.ReviewStatus == models.StatusRejected && result.ReviewStatus != models.StatusSuggested {
					return nil
				}
			}

			if err := s.matchRepo.Upsert(txCtx, result); err != nil {
				return err
			}
			wrote = true

			if result.ReviewStatus == models.StatusSuggested {
				return s.matchRepo.AppendAction(txCtx, &models.MatchAction{
					TargetKey:    result.TargetKey,
					MatchingYear: result.MatchingYear,
					Action:       models.ActionSuggest,
					ActorID:      models.SystemActor.ID,
					Reason:       fmt.Sprintf("%s match with confidence %d", result.MatchingMethod, result.ConfidenceScore),
				})
			}
			return nil
		})
	})
	return wrote, err
}
