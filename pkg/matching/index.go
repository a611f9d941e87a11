package matching

import (
	"github.com/aedregistry/matching-engine/pkg/models"
	"github.com/aedregistry/matching-engine/pkg/normalize"
)

// CandidateIndex groups device records by declared administrative
// region so matching a target only scans a bounded candidate set. The
// narrowing is strictly by region, never by fuzzy name, so a true match
// is never dropped to save time. An empty result is a valid outcome
// meaning "no candidates in region".
type CandidateIndex struct {
	bySido   map[string][]*models.DeviceRecord
	byRegion map[string][]*models.DeviceRecord
}

// BuildIndex constructs an immutable index over a device inventory
// snapshot. Devices without a declared sido are unindexable and skipped.
func BuildIndex(devices []*models.DeviceRecord) *CandidateIndex {
	idx := &CandidateIndex{
		bySido:   make(map[string][]*models.DeviceRecord),
		byRegion: make(map[string][]*models.DeviceRecord),
	}
	for _, d := range devices {
		sido := normalize.Fold(d.Sido)
		if sido == "" {
			continue
		}
		idx.bySido[sido] = append(idx.bySido[sido], d)
		if gugun := normalize.Fold(d.Gugun); gugun != "" {
			key := sido + "|" + gugun
			idx.byRegion[key] = append(idx.byRegion[key], d)
		}
	}
	return idx
}

// CandidatesFor returns the devices in the target's region: sido and,
// when the target declares one, gugun. The returned slice is fresh per
// call; callers may reorder it freely.
func (idx *CandidateIndex) CandidatesFor(target *models.TargetInstitution) []*models.DeviceRecord {
	sido := normalize.Fold(target.Sido)
	gugun := normalize.Fold(target.Gugun)

	var bucket []*models.DeviceRecord
	if gugun != "" {
		bucket = idx.byRegion[sido+"|"+gugun]
	} else {
		bucket = idx.bySido[sido]
	}

	out := make([]*models.DeviceRecord, len(bucket))
	copy(out, bucket)
	return out
}
