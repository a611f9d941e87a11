package models

import "github.com/aedregistry/matching-engine/pkg/apperrors"

// TargetInstitution is one row of the government roster of institutions
// legally required to install a defibrillator. Owned by the upstream
// regulatory feed; read-only to this engine, immutable for a given year.
type TargetInstitution struct {
	TargetKey       string `json:"target_key"`
	InstitutionName string `json:"institution_name"`
	Sido            string `json:"sido"`
	Gugun           string `json:"gugun"`
	Division        string `json:"division"`
	SubDivision     string `json:"sub_division"`
	MatchingYear    int    `json:"matching_year"`
}

// Validate checks the fields the matcher cannot work without.
func (t *TargetInstitution) Validate() error {
	if t.TargetKey == "" {
		return &apperrors.ValidationError{Field: "target_key", Message: "required"}
	}
	if t.InstitutionName == "" {
		return &apperrors.ValidationError{Field: "institution_name", Message: "required"}
	}
	if t.Sido == "" {
		return &apperrors.ValidationError{Field: "sido", Message: "required"}
	}
	if t.MatchingYear == 0 {
		return &apperrors.ValidationError{Field: "matching_year", Message: "required"}
	}
	return nil
}
