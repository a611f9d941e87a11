package models

import "github.com/aedregistry/matching-engine/pkg/apperrors"

// DeviceRecord is one physically installed defibrillator as reported by
// field inventory. Owned by the device-inventory feed and mutable over
// time (site renames, address corrections), which is why match results
// carry snapshots of the name and address at match time.
type DeviceRecord struct {
	EquipmentSerial         string `json:"equipment_serial"`
	ManagementNumber        string `json:"management_number"`
	InstallationInstitution string `json:"installation_institution"`
	InstallationAddress     string `json:"installation_address"`
	Sido                    string `json:"sido"`
	Gugun                   string `json:"gugun"`
}

// Validate checks the fields the matcher cannot work without.
func (d *DeviceRecord) Validate() error {
	if d.EquipmentSerial == "" {
		return &apperrors.ValidationError{Field: "equipment_serial", Message: "required"}
	}
	if d.InstallationInstitution == "" {
		return &apperrors.ValidationError{Field: "installation_institution", Message: "required"}
	}
	return nil
}
