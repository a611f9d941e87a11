package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/repositories"
	"github.com/aedregistry/matching-engine/pkg/retry"
)

// StatusMatchable is the request status that cancels a previous
// unmatchable mark. Unlike the real review statuses it is not stored;
// the restored status comes from replaying the action log.
const StatusMatchable = "matchable"

// UpdateStatusRequest is the payload of the single write entry point.
type UpdateStatusRequest struct {
	TargetKey    string `json:"target_key"`
	MatchingYear int    `json:"matching_year"`

	// Status is one of confirmed, rejected, unmatchable, matchable.
	Status string `json:"status"`

	// EquipmentSerial optionally names the device to confirm directly
	// by serial when the reviewer overrides the suggested candidate.
	EquipmentSerial string `json:"equipment_serial,omitempty"`

	// ManagementNumbers optionally names the override device by its
	// operator-facing management number instead. Must resolve to
	// exactly one device.
	ManagementNumbers []string `json:"management_numbers,omitempty"`

	// Note is the reviewer's free-form reason. Required when marking a
	// target unmatchable.
	Note string `json:"note,omitempty"`
}

// ReviewService applies human review decisions to match results. Every
// decision appends an audit action and updates the denormalized status
// in the same transaction.
type ReviewService interface {
	// UpdateMatchStatus is the single write entry point for review
	// decisions. The actor must be present in the context.
	UpdateMatchStatus(ctx context.Context, req *UpdateStatusRequest) (*models.MatchResult, error)

	// ListUnmatchable returns unmatchable targets for a year with the
	// reason, actor, and time of the most recent mark.
	ListUnmatchable(ctx context.Context, year int, sido, gugun string) ([]models.UnmatchableEntry, error)
}

type reviewService struct {
	tx         Transactor
	matchRepo  repositories.MatchRepository
	deviceRepo repositories.DeviceRepository
	logger     *zap.Logger

	// Review actions for the same target are serialized in-process so
	// two reviewers racing on one target resolve in order instead of
	// both reaching the database. Cross-process races are caught by the
	// row lock and the confirmed-serial unique index.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReviewService creates a new ReviewService.
func NewReviewService(tx Transactor, matchRepo repositories.MatchRepository, deviceRepo repositories.DeviceRepository, logger *zap.Logger) ReviewService {
	return &reviewService{
		tx:         tx,
		matchRepo:  matchRepo,
		deviceRepo: deviceRepo,
		logger:     logger.Named("review-service"),
		locks:      make(map[string]*sync.Mutex),
	}
}

var _ ReviewService = (*reviewService)(nil)

func (s *reviewService) lockTarget(targetKey string, year int) func() {
	key := fmt.Sprintf("%s:%d", targetKey, year)
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func actionForStatus(status string) (string, error) {
	switch status {
	case models.StatusConfirmed:
		return models.ActionConfirm, nil
	case models.StatusRejected:
		return models.ActionReject, nil
	case models.StatusUnmatchable:
		return models.ActionMarkUnmatchable, nil
	case StatusMatchable:
		return models.ActionCancelUnmatchable, nil
	default:
		return "", &apperrors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
}

func (s *reviewService) UpdateMatchStatus(ctx context.Context, req *UpdateStatusRequest) (*models.MatchResult, error) {
	actor, ok := models.GetActor(ctx)
	if !ok {
		return nil, &apperrors.ValidationError{Field: "actor_id", Message: "required"}
	}
	if req.TargetKey == "" {
		return nil, &apperrors.ValidationError{Field: "target_key", Message: "required"}
	}
	if req.MatchingYear == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}
	action, err := actionForStatus(req.Status)
	if err != nil {
		return nil, err
	}
	if action == models.ActionMarkUnmatchable && req.Note == "" {
		return nil, &apperrors.ValidationError{Field: "note", Message: "a reason is required to mark a target unmatchable"}
	}

	unlock := s.lockTarget(req.TargetKey, req.MatchingYear)
	defer unlock()

	var updated *models.MatchResult
	err = retry.Do(ctx, nil, func() error {
		return s.tx.InTx(ctx, func(txCtx context.Context) error {
			result, err := s.matchRepo.GetForUpdate(txCtx, req.TargetKey, req.MatchingYear)
			if err != nil {
				return err
			}

			if !models.CanTransition(result.ReviewStatus, action) {
				return fmt.Errorf("cannot apply %s to a %s result: %w",
					action, result.ReviewStatus, apperrors.ErrInvalidTransition)
			}

			switch action {
			case models.ActionConfirm:
				if err := s.applyConfirm(txCtx, result, req); err != nil {
					return err
				}
				result.ReviewStatus = models.StatusConfirmed

			case models.ActionReject:
				result.ReviewStatus = models.StatusRejected

			case models.ActionMarkUnmatchable:
				result.ReviewStatus = models.StatusUnmatchable

			case models.ActionCancelUnmatchable:
				history, err := s.matchRepo.ListActions(txCtx, req.TargetKey, req.MatchingYear)
				if err != nil {
					return err
				}
				history = append(history, models.MatchAction{Action: models.ActionCancelUnmatchable})
				result.ReviewStatus = models.ReplayStatus(history)
			}

			if err := s.matchRepo.Upsert(txCtx, result); err != nil {
				return mapUniqueViolation(err, result)
			}

			if err := s.matchRepo.AppendAction(txCtx, &models.MatchAction{
				TargetKey:    req.TargetKey,
				MatchingYear: req.MatchingYear,
				Action:       action,
				ActorID:      actor.ID,
				Reason:       req.Note,
			}); err != nil {
				return err
			}

			updated = result
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("review decision applied",
		zap.String("target_key", req.TargetKey),
		zap.Int("matching_year", req.MatchingYear),
		zap.String("action", action),
		zap.String("new_status", updated.ReviewStatus),
		zap.String("actor_id", actor.ID))
	return updated, nil
}

// applyConfirm resolves an optional reviewer-supplied device override
// and verifies the device is not confirmed to another target for the
// year. The partial unique index on confirmed serials backstops this
// check against racing transactions.
func (s *reviewService) applyConfirm(ctx context.Context, result *models.MatchResult, req *UpdateStatusRequest) error {
	device, err := s.overrideDevice(ctx, req)
	if err != nil {
		return err
	}
	if device != nil {
		if result.MatchedEquipmentSerial == nil || *result.MatchedEquipmentSerial != device.EquipmentSerial {
			serial := device.EquipmentSerial
			result.MatchedEquipmentSerial = &serial
			result.MatchedInstitutionSnapshot = device.InstallationInstitution
			result.MatchedAddressSnapshot = device.InstallationAddress
			result.MatchingMethod = models.MethodManual
			result.NameConfidence = 0
			result.AddressConfidence = 0
			result.ConfidenceScore = 0
		}
	}

	if result.MatchedEquipmentSerial == nil {
		return &apperrors.ValidationError{Field: "matched_equipment_serial", Message: "no candidate device to confirm"}
	}

	holders, err := s.matchRepo.FindConfirmedBySerials(ctx, result.MatchingYear, []string{*result.MatchedEquipmentSerial})
	if err != nil {
		return err
	}
	for _, h := range holders {
		if h.TargetKey != result.TargetKey {
			return &apperrors.ConflictError{
				EquipmentSerial: *result.MatchedEquipmentSerial,
				TargetKey:       result.TargetKey,
				HeldByTargetKey: h.TargetKey,
				MatchingYear:    result.MatchingYear,
			}
		}
	}
	return nil
}

// overrideDevice resolves the reviewer-supplied device override, by
// serial or by management number. Returns nil when the request carries
// no override.
func (s *reviewService) overrideDevice(ctx context.Context, req *UpdateStatusRequest) (*models.DeviceRecord, error) {
	if req.EquipmentSerial != "" && len(req.ManagementNumbers) > 0 {
		return nil, &apperrors.ValidationError{
			Field:   "equipment_serial",
			Message: "give either equipment_serial or management_numbers, not both",
		}
	}
	if req.EquipmentSerial != "" {
		return s.deviceRepo.GetBySerial(ctx, req.EquipmentSerial)
	}
	if len(req.ManagementNumbers) == 0 {
		return nil, nil
	}

	devices, err := s.deviceRepo.GetByManagementNumbers(ctx, req.ManagementNumbers)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no device for management numbers %v: %w", req.ManagementNumbers, apperrors.ErrNotFound)
	}
	if len(devices) > 1 {
		return nil, &apperrors.ValidationError{
			Field:   "management_numbers",
			Message: fmt.Sprintf("resolved to %d devices, confirmation needs exactly one", len(devices)),
		}
	}
	return &devices[0], nil
}

// mapUniqueViolation translates a confirmed-serial unique index failure
// into the concurrency sentinel. It means a racing confirm won between
// our conflict check and the write; the caller sees the device as taken.
func mapUniqueViolation(err error, result *models.MatchResult) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_match_results_confirmed_serial" {
		return fmt.Errorf("device %s was confirmed to another target concurrently: %w",
			derefSerial(result.MatchedEquipmentSerial), apperrors.ErrConcurrentModification)
	}
	return err
}

func derefSerial(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *reviewService) ListUnmatchable(ctx context.Context, year int, sido, gugun string) ([]models.UnmatchableEntry, error) {
	if year == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}
	return s.matchRepo.ListUnmatchable(ctx, year, sido, gugun)
}
