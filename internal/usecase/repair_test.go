package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

func repairOwners() []model.Owner {
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return []model.Owner{
		{ID: 3, DisplayName: "Later", Enabled: true, CreatedAt: created.Add(time.Hour)},
		{ID: 1, DisplayName: "First", Enabled: true, CreatedAt: created},
	}
}

func TestRepairConversations_DanglingReassignedToFirstOwner(t *testing.T) {
	convs := []model.Conversation{
		{ID: 10, Kind: model.KindPrivate, OwnerID: 99},
		{ID: 11, Kind: model.KindPrivate, OwnerID: 3},
		{ID: 12, Kind: model.KindPrivate},
	}

	out, repaired := RepairConversations(convs, repairOwners())
	assert.Equal(t, 2, repaired)
	assert.Equal(t, int64(1), out[0].OwnerID, "dangling reference moved to earliest-created owner")
	assert.Equal(t, int64(3), out[1].OwnerID, "valid reference untouched")
	assert.Equal(t, int64(1), out[2].OwnerID, "missing assignment filled")
}

func TestRepairConversations_LegacyHintWins(t *testing.T) {
	convs := []model.Conversation{
		{ID: 10, OwnerID: 99, LegacyManagerRef: "3"},
		{ID: 11, OwnerID: 99, LegacyManagerRef: "77"},
		{ID: 12, OwnerID: 99, LegacyManagerRef: "bogus"},
	}

	out, repaired := RepairConversations(convs, repairOwners())
	assert.Equal(t, 3, repaired)
	assert.Equal(t, int64(3), out[0].OwnerID, "hint matching a live owner honored")
	assert.Equal(t, int64(1), out[1].OwnerID, "dead hint falls back")
	assert.Equal(t, int64(1), out[2].OwnerID, "unparseable hint falls back")
}

func TestRepairConversations_EmptyOwnerSetDefers(t *testing.T) {
	convs := []model.Conversation{{ID: 10, OwnerID: 99}}
	out, repaired := RepairConversations(convs, nil)
	assert.Zero(t, repaired)
	assert.Equal(t, convs, out)
}

func TestRepairConversations_Idempotent(t *testing.T) {
	convs := []model.Conversation{
		{ID: 10, OwnerID: 99, LegacyManagerRef: "3"},
		{ID: 11, OwnerID: 0},
		{ID: 12, OwnerID: 1},
	}
	owners := repairOwners()

	once, repairedOnce := RepairConversations(convs, owners)
	require.Positive(t, repairedOnce)
	twice, repairedTwice := RepairConversations(once, owners)
	assert.Zero(t, repairedTwice, "second pass makes no further changes")
	assert.Equal(t, once, twice)

	set := model.OwnerIDSet(owners)
	for _, c := range once {
		_, ok := set[c.OwnerID]
		assert.True(t, ok, "every conversation references a live owner")
	}
}

func TestRepairContactOwners(t *testing.T) {
	contacts := []model.Contact{
		*model.NewContact(&model.Contact{ID: "a", OwnerID: 99}),
		*model.NewContact(&model.Contact{ID: "b", OwnerID: 3}),
	}
	unassigned := *model.NewContact(&model.Contact{ID: "c"})
	unassigned.OwnerID = 0
	contacts = append(contacts, unassigned)

	out, repaired := RepairContactOwners(contacts, repairOwners())
	assert.Equal(t, 1, repaired)
	assert.Equal(t, int64(1), out[0].OwnerID)
	assert.Equal(t, int64(3), out[1].OwnerID)
	assert.Zero(t, out[2].OwnerID, "never-assigned contact left alone")
}
