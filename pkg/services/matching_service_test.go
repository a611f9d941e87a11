package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/config"
	"github.com/aedregistry/matching-engine/pkg/models"
)

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{AutoThreshold: 95, SuggestThreshold: 70, Workers: 4}
}

func regionRules() []models.NormalizationRule {
	return []models.NormalizationRule{
		{ID: 1, RuleType: models.RuleTypeRegionPrefix, Pattern: "대구", Priority: 100, Active: true},
		{ID: 2, RuleType: models.RuleTypeParenthetical, Priority: 90, Active: true},
		{ID: 3, RuleType: models.RuleTypeWhitespace, Priority: 10, Active: true},
	}
}

func newTestMatchingService(
	rules []models.NormalizationRule,
	targets []models.TargetInstitution,
	devices []models.DeviceRecord,
	matchRepo *mockMatchRepository,
) MatchingService {
	return NewMatchingService(
		&fakeTx{},
		&mockRuleRepository{rules: rules},
		&mockTargetRepository{targets: targets},
		&mockDeviceRepository{devices: devices},
		matchRepo,
		testMatchingConfig(),
		zap.NewNop(),
	)
}

func TestRunMatching_SuggestsExactMatchAfterNormalization(t *testing.T) {
	targets := []models.TargetInstitution{{
		TargetKey:       "T-2026-0001",
		InstitutionName: "대구중부소방서",
		Sido:            "대구",
		Gugun:           "중구",
		MatchingYear:    2026,
	}}
	devices := []models.DeviceRecord{{
		EquipmentSerial:         "AED-001",
		ManagementNumber:        "MGT-001",
		InstallationInstitution: "중부소방서(본대구급대)",
		InstallationAddress:     "대구 중구",
		Sido:                    "대구",
		Gugun:                   "중구",
	}}
	matchRepo := newMockMatchRepository()
	svc := newTestMatchingService(regionRules(), targets, devices, matchRepo)

	summary, err := svc.RunMatching(context.Background(), 2026)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 0, summary.Unmatched)
	require.Contains(t, summary.ByRegion, "대구")
	assert.Equal(t, 1, summary.ByRegion["대구"].Matched)

	result, err := matchRepo.Get(context.Background(), "T-2026-0001", 2026)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, result.ReviewStatus)
	assert.Equal(t, models.MethodExact, result.MatchingMethod)
	require.NotNil(t, result.MatchedEquipmentSerial)
	assert.Equal(t, "AED-001", *result.MatchedEquipmentSerial)
	assert.Equal(t, 100, result.NameConfidence)
	assert.Equal(t, "중부소방서(본대구급대)", result.MatchedInstitutionSnapshot)

	actions := matchRepo.actionsFor("T-2026-0001", 2026)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionSuggest, actions[0].Action)
	assert.Equal(t, models.SystemActor.ID, actions[0].ActorID)
}

func TestRunMatching_NoCandidatesLeavesTargetUnmatched(t *testing.T) {
	targets := []models.TargetInstitution{{
		TargetKey:       "T-2026-0002",
		InstitutionName: "부산동래병원",
		Sido:            "부산",
		MatchingYear:    2026,
	}}
	devices := []models.DeviceRecord{{
		EquipmentSerial:         "AED-001",
		InstallationInstitution: "중부소방서",
		Sido:                    "대구",
	}}
	matchRepo := newMockMatchRepository()
	svc := newTestMatchingService(regionRules(), targets, devices, matchRepo)

	summary, err := svc.RunMatching(context.Background(), 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Equal(t, 0, summary.Matched)

	result, err := matchRepo.Get(context.Background(), "T-2026-0002", 2026)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.ReviewStatus)
	assert.Nil(t, result.MatchedEquipmentSerial)

	// Creating an unmatched row is not a review action.
	assert.Empty(t, matchRepo.actionsFor("T-2026-0002", 2026))
}

func TestRunMatching_SkipsAlreadyReviewedTargets(t *testing.T) {
	targets := []models.TargetInstitution{{
		TargetKey:       "T-2026-0003",
		InstitutionName: "대구중부소방서",
		Sido:            "대구",
		Gugun:           "중구",
		MatchingYear:    2026,
	}}
	devices := []models.DeviceRecord{{
		EquipmentSerial:         "AED-001",
		InstallationInstitution: "중부소방서",
		InstallationAddress:     "대구 중구",
		Sido:                    "대구",
		Gugun:                   "중구",
	}}
	matchRepo := newMockMatchRepository()
	serial := "AED-OLD"
	require.NoError(t, matchRepo.Upsert(context.Background(), &models.MatchResult{
		TargetKey:              "T-2026-0003",
		MatchingYear:           2026,
		MatchedEquipmentSerial: &serial,
		MatchingMethod:         models.MethodManual,
		ReviewStatus:           models.StatusConfirmed,
	}))
	svc := newTestMatchingService(regionRules(), targets, devices, matchRepo)

	summary, err := svc.RunMatching(context.Background(), 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Matched)

	result, err := matchRepo.Get(context.Background(), "T-2026-0003", 2026)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, result.ReviewStatus)
	assert.Equal(t, "AED-OLD", *result.MatchedEquipmentSerial)
	assert.Empty(t, matchRepo.actionsFor("T-2026-0003", 2026))
}

func TestRunMatching_RescoresRejectedTargets(t *testing.T) {
	targets := []models.TargetInstitution{{
		TargetKey:       "T-2026-0004",
		InstitutionName: "대구중부소방서",
		Sido:            "대구",
		Gugun:           "중구",
		MatchingYear:    2026,
	}}
	devices := []models.DeviceRecord{{
		EquipmentSerial:         "AED-002",
		InstallationInstitution: "중부소방서",
		InstallationAddress:     "대구 중구",
		Sido:                    "대구",
		Gugun:                   "중구",
	}}
	matchRepo := newMockMatchRepository()
	oldSerial := "AED-001"
	require.NoError(t, matchRepo.Upsert(context.Background(), &models.MatchResult{
		TargetKey:              "T-2026-0004",
		MatchingYear:           2026,
		MatchedEquipmentSerial: &oldSerial,
		MatchingMethod:         models.MethodFuzzy,
		ReviewStatus:           models.StatusRejected,
	}))
	svc := newTestMatchingService(regionRules(), targets, devices, matchRepo)

	summary, err := svc.RunMatching(context.Background(), 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)

	result, err := matchRepo.Get(context.Background(), "T-2026-0004", 2026)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, result.ReviewStatus)
	assert.Equal(t, "AED-002", *result.MatchedEquipmentSerial)
}

func TestRunMatching_RejectedTargetStaysRejectedWithoutNewSuggestion(t *testing.T) {
	targets := []models.TargetInstitution{{
		TargetKey:       "T-2026-0005",
		InstitutionName: "대구중부소방서",
		Sido:            "대구",
		MatchingYear:    2026,
	}}
	matchRepo := newMockMatchRepository()
	require.NoError(t, matchRepo.Upsert(context.Background(), &models.MatchResult{
		TargetKey:    "T-2026-0005",
		MatchingYear: 2026,
		ReviewStatus: models.StatusRejected,
	}))
	// No devices at all, so re-scoring cannot produce a suggestion.
	svc := newTestMatchingService(regionRules(), targets, nil, matchRepo)

	summary, err := svc.RunMatching(context.Background(), 2026)
	require.NoError(t, err)

	// Nothing was written, so the target counts as skipped, not as a
	// fresh unmatched outcome.
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Matched)
	assert.Equal(t, 0, summary.Unmatched)

	result, err := matchRepo.Get(context.Background(), "T-2026-0005", 2026)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.ReviewStatus)
}

func TestRunMatching_CollectsPerRecordValidationErrors(t *testing.T) {
	targets := []models.TargetInstitution{
		{TargetKey: "T-2026-0006", InstitutionName: "대구중부소방서", Sido: "", MatchingYear: 2026},
		{TargetKey: "T-2026-0007", InstitutionName: "부산동래병원", Sido: "부산", MatchingYear: 2026},
	}
	matchRepo := newMockMatchRepository()
	svc := newTestMatchingService(regionRules(), targets, nil, matchRepo)

	summary, err := svc.RunMatching(context.Background(), 2026)
	require.NoError(t, err)

	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "T-2026-0006", summary.Errors[0].TargetKey)
	assert.Equal(t, 1, summary.Unmatched)

	// The malformed record gets no result row.
	_, err = matchRepo.Get(context.Background(), "T-2026-0006", 2026)
	assert.Error(t, err)
}

func TestRunMatching_YearRequired(t *testing.T) {
	svc := newTestMatchingService(nil, nil, nil, newMockMatchRepository())
	_, err := svc.RunMatching(context.Background(), 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestPreviewTarget_ScoresByRosterKey(t *testing.T) {
	targets := []models.TargetInstitution{{
		TargetKey:       "T-2026-0009",
		InstitutionName: "대구중부소방서",
		Sido:            "대구",
		Gugun:           "중구",
		MatchingYear:    2026,
	}}
	devices := []models.DeviceRecord{{
		EquipmentSerial:         "AED-001",
		InstallationInstitution: "중부소방서",
		InstallationAddress:     "대구 중구",
		Sido:                    "대구",
		Gugun:                   "중구",
	}}
	matchRepo := newMockMatchRepository()
	svc := newTestMatchingService(regionRules(), targets, devices, matchRepo)

	result, err := svc.PreviewTarget(context.Background(), "T-2026-0009", 2026)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, result.ReviewStatus)
	assert.Equal(t, "AED-001", *result.MatchedEquipmentSerial)

	// A preview commits nothing.
	_, err = matchRepo.Get(context.Background(), "T-2026-0009", 2026)
	assert.Error(t, err)
}

func TestPreviewTarget_UnknownTarget(t *testing.T) {
	svc := newTestMatchingService(regionRules(), nil, nil, newMockMatchRepository())
	_, err := svc.PreviewTarget(context.Background(), "T-404", 2026)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPreviewTarget_RequiresKeyAndYear(t *testing.T) {
	svc := newTestMatchingService(regionRules(), nil, nil, newMockMatchRepository())

	_, err := svc.PreviewTarget(context.Background(), "", 2026)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.PreviewTarget(context.Background(), "T-1", 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMatchOne_DoesNotCommit(t *testing.T) {
	target := &models.TargetInstitution{
		TargetKey:       "T-2026-0008",
		InstitutionName: "대구중부소방서",
		Sido:            "대구",
		Gugun:           "중구",
		MatchingYear:    2026,
	}
	devices := []models.DeviceRecord{{
		EquipmentSerial:         "AED-001",
		InstallationInstitution: "중부소방서",
		InstallationAddress:     "대구 중구",
		Sido:                    "대구",
		Gugun:                   "중구",
	}}
	matchRepo := newMockMatchRepository()
	svc := newTestMatchingService(regionRules(), nil, devices, matchRepo)

	result, err := svc.MatchOne(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuggested, result.ReviewStatus)
	assert.Equal(t, "AED-001", *result.MatchedEquipmentSerial)

	_, err = matchRepo.Get(context.Background(), "T-2026-0008", 2026)
	assert.Error(t, err)
	assert.Empty(t, matchRepo.actions)
}
