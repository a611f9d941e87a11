package models

import "time"

// DeviceSnapshot is the name/address pair of a device, either as stored
// on a match result at match time or as currently reported by the
// inventory feed.
type DeviceSnapshot struct {
	InstallationInstitution string `json:"installation_institution"`
	InstallationAddress     string `json:"installation_address"`
}

// StaleMatch flags a confirmed match whose device record was edited
// after the match was recorded. The match stays confirmed until a human
// acts; this is a report, not a correction.
type StaleMatch struct {
	TargetKey       string         `json:"target_key"`
	MatchingYear    int            `json:"matching_year"`
	EquipmentSerial string         `json:"equipment_serial"`
	Stored          DeviceSnapshot `json:"stored_snapshot"`
	Live            DeviceSnapshot `json:"live_snapshot"`
}

// UnmatchableEntry is one target a human has judged to genuinely have
// no corresponding device, with the audit detail of that judgment.
type UnmatchableEntry struct {
	Target   TargetInstitution `json:"target"`
	Reason   string            `json:"reason"`
	MarkedBy string            `json:"marked_by"`
	MarkedAt time.Time         `json:"marked_at"`
}
