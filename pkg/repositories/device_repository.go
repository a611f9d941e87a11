package repositories

import (
	"context"
	"fmt"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
	"github.com/aedregistry/matching-engine/pkg/database"
	"github.com/aedregistry/matching-engine/pkg/models"
)

// DeviceRepository provides read access to the field-reported device
// inventory. The inventory is owned by its own feed and mutable over
// time, which is why the drift detector re-reads it.
type DeviceRepository interface {
	// ListAll returns the full device inventory, used to build the
	// candidate index for a batch run.
	ListAll(ctx context.Context) ([]models.DeviceRecord, error)

	// GetBySerial returns a single device, or apperrors.ErrNotFound.
	GetBySerial(ctx context.Context, serial string) (*models.DeviceRecord, error)

	// GetByManagementNumbers resolves operator-facing management
	// numbers to device records. Unknown numbers are simply absent
	// from the result.
	GetByManagementNumbers(ctx context.Context, numbers []string) ([]models.DeviceRecord, error)
}

type deviceRepository struct{}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository() DeviceRepository {
	return &deviceRepository{}
}

var _ DeviceRepository = (*deviceRepository)(nil)

const deviceColumns = "equipment_serial, management_number, installation_institution, installation_address, sido, gugun"

func (r *deviceRepository) ListAll(ctx context.Context) ([]models.DeviceRecord, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM device_records
		ORDER BY equipment_serial`, deviceColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to query device records: %w", err)
	}
	defer rows.Close()

	var devices []models.DeviceRecord
	for rows.Next() {
		var d models.DeviceRecord
		if err := scanDevice(rows.Scan, &d); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device records: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) GetBySerial(ctx context.Context, serial string) (*models.DeviceRecord, error) {
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var d models.DeviceRecord
	err := scanDevice(q.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM device_records
		WHERE equipment_serial = $1`, deviceColumns), serial).Scan, &d)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("device %s: %w", serial, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}

func (r *deviceRepository) GetByManagementNumbers(ctx context.Context, numbers []string) ([]models.DeviceRecord, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	q, ok := database.GetQuerier(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	rows, err := q.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM device_records
		WHERE management_number = ANY($1)
		ORDER BY equipment_serial`, deviceColumns), numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices by management number: %w", err)
	}
	defer rows.Close()

	var devices []models.DeviceRecord
	for rows.Next() {
		var d models.DeviceRecord
		if err := scanDevice(rows.Scan, &d); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device records: %w", err)
	}
	return devices, nil
}

func scanDevice(scan func(dest ...any) error, d *models.DeviceRecord) error {
	err := scan(&d.EquipmentSerial, &d.ManagementNumber, &d.InstallationInstitution,
		&d.InstallationAddress, &d.Sido, &d.Gugun)
	if err != nil {
		if isNoRows(err) {
			return err
		}
		return fmt.Errorf("failed to scan device record: %w", err)
	}
	return nil
}
