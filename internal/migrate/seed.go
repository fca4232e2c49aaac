package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/store"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// SeedDemoData populates an empty store with a canonical owner and a small
// set of demo conversations and contacts so a fresh install is never blank.
// It is a bootstrap convenience, not a correctness requirement: it refuses to
// touch a store that already holds any owner or conversation, and it is only
// invoked when the bootstrap.seedDemoData flag is set (or via cmd/seeder).
func SeedDemoData(ctx context.Context, snapshots store.SnapshotStore, ownerName string) error {
	var owners []model.Owner
	if err := snapshots.Load(ctx, model.CollectionOwners, &owners); err != nil {
		return fmt.Errorf("checking owners before seeding: %w", err)
	}
	var convs []model.Conversation
	if err := snapshots.Load(ctx, model.CollectionConversations, &convs); err != nil {
		return fmt.Errorf("checking conversations before seeding: %w", err)
	}
	if len(owners) > 0 || len(convs) > 0 {
		logger.Log.Debug("Store already populated, skipping demo seed")
		return nil
	}

	owner := model.Owner{
		ID:          1,
		DisplayName: ownerName,
		Enabled:     true,
		CreatedAt:   utils.Now(),
	}

	seedConvs := make([]model.Conversation, 0, 3)
	seedContacts := make([]model.Contact, 0, 2)
	for i := 0; i < 2; i++ {
		conv := model.NewConversation(&model.Conversation{OwnerID: owner.ID})
		seedConvs = append(seedConvs, *conv)
		seedContacts = append(seedContacts, *model.NewContact(&model.Contact{
			ExternalUserID: conv.ID,
			FirstName:      conv.FirstName,
			LastName:       conv.LastName,
			Username:       conv.Username,
			OwnerID:        owner.ID,
		}))
	}
	seedConvs = append(seedConvs, *model.NewConversation(&model.Conversation{
		Kind:    model.KindGroup,
		Title:   "Suppliers",
		OwnerID: owner.ID,
	}))

	if err := snapshots.Save(ctx, model.CollectionOwners, []model.Owner{owner}); err != nil {
		return fmt.Errorf("seeding owners: %w", err)
	}
	if err := snapshots.Save(ctx, model.CollectionConversations, seedConvs); err != nil {
		return fmt.Errorf("seeding conversations: %w", err)
	}
	if err := snapshots.Save(ctx, model.CollectionContacts, seedContacts); err != nil {
		return fmt.Errorf("seeding contacts: %w", err)
	}

	logger.Log.Info("Seeded demo data",
		zap.String("owner", owner.DisplayName),
		zap.Int("conversations", len(seedConvs)),
		zap.Int("contacts", len(seedContacts)))
	return nil
}
