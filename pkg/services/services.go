// Package services holds the business logic of the matching engine:
// batch matching, conflict detection, review state transitions, and
// drift detection over confirmed matches.
package services

import (
	"errors"

	"github.com/aedregistry/matching-engine/pkg/apperrors"
)

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}
