package usecase

import (
	"strconv"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
)

// RepairConversations restores the "owner_id references an existing Owner"
// invariant: every conversation with a missing or dangling assignment is
// reattached to the legacy hint when that hint matches a live owner, else to
// the canonical first owner. With no owners the pass is deferred and the
// input comes back unchanged. Pure and idempotent; the returned count is the
// number of rewritten assignments.
func RepairConversations(convs []model.Conversation, owners []model.Owner) ([]model.Conversation, int) {
	if len(owners) == 0 {
		return convs, 0
	}

	ownerSet := model.OwnerIDSet(owners)
	first, _ := model.FirstOwner(owners)

	out := make([]model.Conversation, len(convs))
	copy(out, convs)

	repaired := 0
	for i := range out {
		if _, ok := ownerSet[out[i].OwnerID]; ok && out[i].OwnerID != 0 {
			continue
		}
		out[i].OwnerID = first.ID
		if hint := out[i].LegacyManagerRef; hint != "" {
			if id, err := strconv.ParseInt(hint, 10, 64); err == nil {
				if _, live := ownerSet[id]; live {
					out[i].OwnerID = id
				}
			}
		}
		repaired++
	}
	return out, repaired
}

// RepairContactOwners applies the same invariant to contacts. A contact with
// no assignment at all (owner_id zero) is left alone; only dangling non-zero
// references are rewritten.
func RepairContactOwners(contacts []model.Contact, owners []model.Owner) ([]model.Contact, int) {
	if len(owners) == 0 {
		return contacts, 0
	}

	ownerSet := model.OwnerIDSet(owners)
	first, _ := model.FirstOwner(owners)

	out := make([]model.Contact, len(contacts))
	copy(out, contacts)

	repaired := 0
	for i := range out {
		if out[i].OwnerID == 0 {
			continue
		}
		if _, ok := ownerSet[out[i].OwnerID]; ok {
			continue
		}
		out[i].OwnerID = first.ID
		repaired++
	}
	return out, repaired
}
