package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/services"
)

// mockMatchingService is a configurable mock for all handler tests.
type mockMatchingService struct {
	summary *services.RunSummary
	result  *models.MatchResult
	results []models.MatchResult
	err     error

	lastYear      int
	lastStatus    string
	lastSido      string
	lastTargetKey string
}

var _ services.MatchingService = (*mockMatchingService)(nil)

func (m *mockMatchingService) MatchOne(ctx context.Context, target *models.TargetInstitution) (*models.MatchResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockMatchingService) PreviewTarget(ctx context.Context, targetKey string, year int) (*models.MatchResult, error) {
	m.lastTargetKey, m.lastYear = targetKey, year
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockMatchingService) RunMatching(ctx context.Context, year int) (*services.RunSummary, error) {
	m.lastYear = year
	if m.err != nil {
		return nil, m.err
	}
	if m.summary != nil {
		return m.summary, nil
	}
	return &services.RunSummary{MatchingYear: year}, nil
}

func (m *mockMatchingService) ListResults(ctx context.Context, year int, status, sido string) ([]models.MatchResult, error) {
	m.lastYear, m.lastStatus, m.lastSido = year, status, sido
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

type mockReviewService struct {
	result      *models.MatchResult
	unmatchable []models.UnmatchableEntry
	err         error

	lastRequest *services.UpdateStatusRequest
	lastActor   models.Actor
}

var _ services.ReviewService = (*mockReviewService)(nil)

func (m *mockReviewService) UpdateMatchStatus(ctx context.Context, req *services.UpdateStatusRequest) (*models.MatchResult, error) {
	m.lastRequest = req
	m.lastActor, _ = models.GetActor(ctx)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockReviewService) ListUnmatchable(ctx context.Context, year int, sido, gugun string) ([]models.UnmatchableEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.unmatchable, nil
}

type mockConflictService struct {
	report *services.ConflictReport
	err    error

	lastTargetKey string
	lastNumbers   []string
	lastYear      int
}

var _ services.ConflictService = (*mockConflictService)(nil)

func (m *mockConflictService) CheckExistingMatches(ctx context.Context, targetKey string, managementNumbers []string, year int) (*services.ConflictReport, error) {
	m.lastTargetKey, m.lastNumbers, m.lastYear = targetKey, managementNumbers, year
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

type mockDriftService struct {
	stale []models.StaleMatch
	err   error
}

var _ services.DriftService = (*mockDriftService)(nil)

func (m *mockDriftService) FindStale(ctx context.Context, year int) ([]models.StaleMatch, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stale, nil
}

type mockRuleService struct {
	rules   []models.NormalizationRule
	preview *services.NormalizePreview
	err     error
}

var _ services.RuleService = (*mockRuleService)(nil)

func (m *mockRuleService) List(ctx context.Context) ([]models.NormalizationRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rules, nil
}

func (m *mockRuleService) Preview(ctx context.Context, name string) (*services.NormalizePreview, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.preview != nil {
		return m.preview, nil
	}
	return &services.NormalizePreview{Input: name, Normalized: name}, nil
}

func newTestHandler(
	matching *mockMatchingService,
	review *mockReviewService,
	conflict *mockConflictService,
	drift *mockDriftService,
	rules *mockRuleService,
) *MatchingHandler {
	if matching == nil {
		matching = &mockMatchingService{}
	}
	if review == nil {
		review = &mockReviewService{}
	}
	if conflict == nil {
		conflict = &mockConflictService{}
	}
	if drift == nil {
		drift = &mockDriftService{}
	}
	if rules == nil {
		rules = &mockRuleService{}
	}
	return NewMatchingHandler(matching, review, conflict, drift, rules, zap.NewNop())
}
