package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/repositories"
)

// DeviceConflict names the target currently holding a device that a
// reviewer is about to claim.
type DeviceConflict struct {
	EquipmentSerial  string `json:"equipment_serial"`
	ManagementNumber string `json:"management_number"`
	HeldByTargetKey  string `json:"held_by_target_key"`
}

// ConflictReport partitions a set of candidate devices by who, if
// anyone, already holds them for the year.
type ConflictReport struct {
	HasConflicts           bool             `json:"has_conflicts"`
	AlreadyMatchedToTarget []string         `json:"already_matched_to_target"`
	MatchedToOther         []string         `json:"matched_to_other"`
	Unmatched              []string         `json:"unmatched"`
	Conflicts              []DeviceConflict `json:"conflicts"`
}

// ConflictService answers "what happens if I claim these devices"
// before a reviewer commits anything. Read-only.
type ConflictService interface {
	// CheckExistingMatches resolves management numbers to devices and
	// reports, per device serial, whether it is already confirmed to
	// the requesting target, confirmed to a different target, or free.
	CheckExistingMatches(ctx context.Context, targetKey string, managementNumbers []string, year int) (*ConflictReport, error)
}

type conflictService struct {
	deviceRepo repositories.DeviceRepository
	matchRepo  repositories.MatchRepository
	logger     *zap.Logger
}

// NewConflictService creates a new ConflictService.
func NewConflictService(deviceRepo repositories.DeviceRepository, matchRepo repositories.MatchRepository, logger *zap.Logger) ConflictService {
	return &conflictService{
		deviceRepo: deviceRepo,
		matchRepo:  matchRepo,
		logger:     logger.Named("conflict-service"),
	}
}

var _ ConflictService = (*conflictService)(nil)

func (s *conflictService) CheckExistingMatches(ctx context.Context, targetKey string, managementNumbers []string, year int) (*ConflictReport, error) {
	if targetKey == "" {
		return nil, &apperrors.ValidationError{Field: "target_key", Message: "required"}
	}
	if year == 0 {
		return nil, &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}
	if len(managementNumbers) == 0 {
		return nil, &apperrors.ValidationError{Field: "management_numbers", Message: "at least one required"}
	}

	devices, err := s.deviceRepo.GetByManagementNumbers(ctx, managementNumbers)
	if err != nil {
		return nil, err
	}

	report := &ConflictReport{
		AlreadyMatchedToTarget: []string{},
		MatchedToOther:         []string{},
		Unmatched:              []string{},
		Conflicts:              []DeviceConflict{},
	}
	if len(devices) == 0 {
		return report, nil
	}

	serials := make([]string, len(devices))
	for i, d := range devices {
		serials[i] = d.EquipmentSerial
	}
	holders, err := s.matchRepo.FindConfirmedBySerials(ctx, year, serials)
	if err != nil {
		return nil, err
	}
	holderBySerial := make(map[string]models.MatchResult, len(holders))
	for _, h := range holders {
		if h.MatchedEquipmentSerial != nil {
			holderBySerial[*h.MatchedEquipmentSerial] = h
		}
	}

	for _, d := range devices {
		holder, held := holderBySerial[d.EquipmentSerial]
		switch {
		case !held:
			report.Unmatched = append(report.Unmatched, d.EquipmentSerial)
		case holder.TargetKey == targetKey:
			report.AlreadyMatchedToTarget = append(report.AlreadyMatchedToTarget, d.EquipmentSerial)
		default:
			report.MatchedToOther = append(report.MatchedToOther, d.EquipmentSerial)
			report.Conflicts = append(report.Conflicts, DeviceConflict{
				EquipmentSerial:  d.EquipmentSerial,
				ManagementNumber: d.ManagementNumber,
				HeldByTargetKey:  holder.TargetKey,
			})
		}
	}
	report.HasConflicts = len(report.Conflicts) > 0
	return report, nil
}
