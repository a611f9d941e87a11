package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aedregistry/matching-engine/pkg/models"
)

func device(serial, sido, gugun string) *models.DeviceRecord {
	return &models.DeviceRecord{
		EquipmentSerial:         serial,
		InstallationInstitution: "기관" + serial,
		Sido:                    sido,
		Gugun:                   gugun,
	}
}

func TestCandidatesFor_FiltersBySidoAndGugun(t *testing.T) {
	idx := BuildIndex([]*models.DeviceRecord{
		device("A-1", "대구광역시", "중구"),
		device("A-2", "대구광역시", "수성구"),
		device("B-1", "서울특별시", "중구"),
	})

	got := idx.CandidatesFor(&models.TargetInstitution{Sido: "대구광역시", Gugun: "중구"})
	require.Len(t, got, 1)
	assert.Equal(t, "A-1", got[0].EquipmentSerial)
}

func TestCandidatesFor_SidoOnlyWhenGugunMissing(t *testing.T) {
	idx := BuildIndex([]*models.DeviceRecord{
		device("A-1", "대구광역시", "중구"),
		device("A-2", "대구광역시", "수성구"),
		device("B-1", "서울특별시", "중구"),
	})

	got := idx.CandidatesFor(&models.TargetInstitution{Sido: "대구광역시"})
	assert.Len(t, got, 2)
}

func TestCandidatesFor_EmptyRegionIsValid(t *testing.T) {
	idx := BuildIndex([]*models.DeviceRecord{
		device("A-1", "대구광역시", "중구"),
	})

	got := idx.CandidatesFor(&models.TargetInstitution{Sido: "부산광역시", Gugun: "해운대구"})
	assert.Empty(t, got)
}

func TestCandidatesFor_ReturnsFreshSlice(t *testing.T) {
	idx := BuildIndex([]*models.DeviceRecord{
		device("A-2", "대구광역시", "중구"),
		device("A-1", "대구광역시", "중구"),
	})
	target := &models.TargetInstitution{Sido: "대구광역시", Gugun: "중구"}

	first := idx.CandidatesFor(target)
	first[0], first[1] = first[1], first[0]

	second := idx.CandidatesFor(target)
	assert.Equal(t, "A-2", second[0].EquipmentSerial, "caller mutation must not leak into the index")
}

func TestBuildIndex_SkipsDevicesWithoutSido(t *testing.T) {
	idx := BuildIndex([]*models.DeviceRecord{
		device("A-1", "", "중구"),
	})
	assert.Empty(t, idx.CandidatesFor(&models.TargetInstitution{Sido: "", Gugun: "중구"}))
}
