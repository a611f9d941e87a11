package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the denormalized current state of a match result.
// The append-only action log is the source of truth; the status column
// is a projection of it and the two are updated in one transaction.
const (
	StatusUnmatched   = "unmatched"
	StatusSuggested   = "suggested"
	StatusConfirmed   = "confirmed"
	StatusRejected    = "rejected"
	StatusUnmatchable = "unmatchable"
)

// MatchingMethod records how the winning candidate was selected.
const (
	MethodExact  = "exact"
	MethodFuzzy  = "fuzzy"
	MethodManual = "manual"
)

// Action types recorded in the match action log.
const (
	ActionSuggest           = "suggest"
	ActionConfirm           = "confirm"
	ActionReject            = "reject"
	ActionMarkUnmatchable   = "mark_unmatchable"
	ActionCancelUnmatchable = "cancel_unmatchable"
)

// MatchResult is the single match record for a target institution in a
// matching year. At most one row exists per (target_key, matching_year).
// A device may appear as MatchedEquipmentSerial in at most one confirmed
// result per year; suggested results may overlap pending review.
type MatchResult struct {
	TargetKey                    string    `json:"target_key"`
	MatchingYear                 int       `json:"matching_year"`
	MatchedEquipmentSerial       *string   `json:"matched_equipment_serial"`
	MatchedInstitutionSnapshot   string    `json:"matched_institution_name_snapshot"`
	MatchedAddressSnapshot       string    `json:"matched_address_snapshot"`
	NameConfidence               int       `json:"name_confidence"`
	AddressConfidence            int       `json:"address_confidence"`
	ConfidenceScore              int       `json:"confidence_score"`
	MatchingMethod               string    `json:"matching_method,omitempty"`
	ReviewStatus                 string    `json:"review_status"`
	CreatedAt                    time.Time `json:"created_at"`
	UpdatedAt                    time.Time `json:"updated_at"`
}

// MatchAction is one row of the append-only audit log. Rows are never
// updated or deleted; replaying them from StatusUnmatched yields the
// current review status.
type MatchAction struct {
	ID           uuid.UUID `json:"id"`
	TargetKey    string    `json:"target_key"`
	MatchingYear int       `json:"matching_year"`
	Action       string    `json:"action"`
	ActorID      string    `json:"actor_id"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// actionTransitions lists the statuses from which each action may fire.
// Suggest covers both the matcher proposing a candidate for a fresh or
// re-scored target and re-proposal after a human rejection.
var actionTransitions = map[string][]string{
	ActionSuggest:           {StatusUnmatched, StatusRejected},
	ActionConfirm:           {StatusSuggested},
	ActionReject:            {StatusSuggested},
	ActionMarkUnmatchable:   {StatusUnmatched, StatusSuggested, StatusRejected, StatusConfirmed},
	ActionCancelUnmatchable: {StatusUnmatchable},
}

// CanTransition reports whether action may be applied to a result
// currently in the given status.
func CanTransition(current, action string) bool {
	for _, s := range actionTransitions[action] {
		if s == current {
			return true
		}
	}
	return false
}

// StatusAfter returns the status produced by applying action.
// ActionCancelUnmatchable has no static successor; it restores the
// status that held before the matching mark, so callers must use
// ReplayStatus for it.
func StatusAfter(action string) string {
	switch action {
	case ActionSuggest:
		return StatusSuggested
	case ActionConfirm:
		return StatusConfirmed
	case ActionReject:
		return StatusRejected
	case ActionMarkUnmatchable:
		return StatusUnmatchable
	default:
		return ""
	}
}

// ReplayStatus derives the review status implied by an action history,
// oldest first, starting from StatusUnmatched. A cancel_unmatchable
// restores the status that held immediately before the most recent
// mark_unmatchable.
func ReplayStatus(actions []MatchAction) string {
	history := []string{StatusUnmatched}
	for _, a := range actions {
		switch a.Action {
		case ActionCancelUnmatchable:
			// Drop the unmatchable state and fall back to whatever
			// preceded the matching mark.
			if len(history) > 1 && history[len(history)-1] == StatusUnmatchable {
				history = history[:len(history)-1]
			}
		default:
			if next := StatusAfter(a.Action); next != "" {
				history = append(history, next)
			}
		}
	}
	return history[len(history)-1]
}
