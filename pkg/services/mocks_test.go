package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/repositories"
)

// fakeTx satisfies Transactor without a database; the callback runs
// against the mock repositories directly.
type fakeTx struct {
	err error
}

func (f *fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(ctx)
}

type mockRuleRepository struct {
	rules []models.NormalizationRule
	err   error
}

var _ repositories.RuleRepository = (*mockRuleRepository)(nil)

func (m *mockRuleRepository) ListActive(ctx context.Context) ([]models.NormalizationRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	var active []models.NormalizationRule
	for _, r := range m.rules {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

func (m *mockRuleRepository) List(ctx context.Context) ([]models.NormalizationRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rules, nil
}

func (m *mockRuleRepository) Create(ctx context.Context, rule *models.NormalizationRule) error {
	rule.ID = int64(len(m.rules) + 1)
	m.rules = append(m.rules, *rule)
	return nil
}

type mockTargetRepository struct {
	targets []models.TargetInstitution
	err     error
}

var _ repositories.TargetRepository = (*mockTargetRepository)(nil)

func (m *mockTargetRepository) ListByYear(ctx context.Context, year int) ([]models.TargetInstitution, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.TargetInstitution
	for _, t := range m.targets {
		if t.MatchingYear == year {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTargetRepository) Get(ctx context.Context, targetKey string, year int) (*models.TargetInstitution, error) {
	for _, t := range m.targets {
		if t.TargetKey == targetKey && t.MatchingYear == year {
			cp := t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("target %s: %w", targetKey, apperrors.ErrNotFound)
}

type mockDeviceRepository struct {
	devices []models.DeviceRecord
	err     error
}

var _ repositories.DeviceRepository = (*mockDeviceRepository)(nil)

func (m *mockDeviceRepository) ListAll(ctx context.Context) ([]models.DeviceRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.devices, nil
}

func (m *mockDeviceRepository) GetBySerial(ctx context.Context, serial string) (*models.DeviceRecord, error) {
	for _, d := range m.devices {
		if d.EquipmentSerial == serial {
			cp := d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("device %s: %w", serial, apperrors.ErrNotFound)
}

func (m *mockDeviceRepository) GetByManagementNumbers(ctx context.Context, numbers []string) ([]models.DeviceRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	wanted := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}
	var out []models.DeviceRecord
	for _, d := range m.devices {
		if wanted[d.ManagementNumber] {
			out = append(out, d)
		}
	}
	return out, nil
}

// mockMatchRepository is an in-memory match store keyed the way the
// table is, with an append-only action slice.
type mockMatchRepository struct {
	mu          sync.Mutex
	results     map[string]models.MatchResult
	actions     []models.MatchAction
	unmatchable []models.UnmatchableEntry
	stale       []models.StaleMatch
	upsertErr   error
}

var _ repositories.MatchRepository = (*mockMatchRepository)(nil)

func newMockMatchRepository() *mockMatchRepository {
	return &mockMatchRepository{results: make(map[string]models.MatchResult)}
}

func matchKey(targetKey string, year int) string {
	return fmt.Sprintf("%s:%d", targetKey, year)
}

func (m *mockMatchRepository) Get(ctx context.Context, targetKey string, year int) (*models.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[matchKey(targetKey, year)]
	if !ok {
		return nil, fmt.Errorf("match result %s year %d: %w", targetKey, year, apperrors.ErrNotFound)
	}
	cp := r
	return &cp, nil
}

func (m *mockMatchRepository) GetForUpdate(ctx context.Context, targetKey string, year int) (*models.MatchResult, error) {
	return m.Get(ctx, targetKey, year)
}

func (m *mockMatchRepository) Upsert(ctx context.Context, result *models.MatchResult) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[matchKey(result.TargetKey, result.MatchingYear)] = *result
	return nil
}

func (m *mockMatchRepository) ListByYear(ctx context.Context, year int, status, sido string) ([]models.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MatchResult
	for _, r := range m.results {
		if r.MatchingYear != year {
			continue
		}
		if status != "" && r.ReviewStatus != status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *mockMatchRepository) FindConfirmedBySerials(ctx context.Context, year int, serials []string) ([]models.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(serials))
	for _, s := range serials {
		wanted[s] = true
	}
	var out []models.MatchResult
	for _, r := range m.results {
		if r.MatchingYear == year && r.ReviewStatus == models.StatusConfirmed &&
			r.MatchedEquipmentSerial != nil && wanted[*r.MatchedEquipmentSerial] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockMatchRepository) AppendAction(ctx context.Context, action *models.MatchAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	m.actions = append(m.actions, *action)
	return nil
}

func (m *mockMatchRepository) ListActions(ctx context.Context, targetKey string, year int) ([]models.MatchAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MatchAction
	for _, a := range m.actions {
		if a.TargetKey == targetKey && a.MatchingYear == year {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockMatchRepository) ListUnmatchable(ctx context.Context, year int, sido, gugun string) ([]models.UnmatchableEntry, error) {
	return m.unmatchable, nil
}

func (m *mockMatchRepository) ListStale(ctx context.Context, year int) ([]models.StaleMatch, error) {
	return m.stale, nil
}

func (m *mockMatchRepository) actionsFor(targetKey string, year int) []models.MatchAction {
	out, _ := m.ListActions(context.Background(), targetKey, year)
	return out
}
