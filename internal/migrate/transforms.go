package migrate

import (
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/model"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/internal/observer"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/logger"
	"gitlab.com/timkado/api/daisi-tg-crm-sync/pkg/utils"
)

// legacyManager is the pre-v2 persisted shape of an owner record.
type legacyManager struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Username  string          `json:"username,omitempty"`
	AccountID *int64          `json:"account_id,omitempty"`
	Enabled   *bool           `json:"is_enabled,omitempty"`
	CreatedAt json.RawMessage `json:"created_at,omitempty"`
}

// managersToOwners (v1 -> v2) rewrites the legacy "managers" collection into
// the "owners" collection. Records that fail to decode are dropped, never
// fatal. An owners payload that is already present wins over the legacy one.
func (m *Migrator) managersToOwners(env *model.Envelope) *model.Envelope {
	defer env.Delete(model.CollectionLegacyManagers)

	if env.Get(model.CollectionOwners) != nil {
		return env
	}

	raw := env.Get(model.CollectionLegacyManagers)
	owners := make([]model.Owner, 0)
	if raw != nil {
		var legacy []legacyManager
		if err := json.Unmarshal(raw, &legacy); err != nil {
			logger.Log.Warn("Malformed legacy managers payload, starting with empty owners",
				zap.Error(err))
			observer.IncMalformedPayload(model.CollectionLegacyManagers)
		} else {
			for _, lm := range legacy {
				if lm.ID == 0 {
					continue
				}
				owners = append(owners, model.Owner{
					ID:          lm.ID,
					DisplayName: lm.Name,
					Username:    lm.Username,
					ExternalRef: lm.AccountID,
					Enabled:     lm.Enabled == nil || *lm.Enabled,
					CreatedAt:   parseLegacyTime(lm.CreatedAt),
				})
			}
		}
	}

	env.Set(model.CollectionOwners, utils.MustMarshalJSON(owners))
	return env
}

// stampConversationOwners (v2 -> v3) assigns an owner_id to every
// conversation that lacks one. The legacy manager hint is honored when it
// parses and matches a live owner; everything else falls back to the
// canonical first owner, which is created when no owner exists yet.
func (m *Migrator) stampConversationOwners(env *model.Envelope) *model.Envelope {
	owners := decodeOwners(env)
	convs := decodeConversations(env)

	if len(convs) == 0 {
		return env
	}

	ownerSet := model.OwnerIDSet(owners)
	stamped := 0
	for i := range convs {
		if _, ok := ownerSet[convs[i].OwnerID]; ok && convs[i].OwnerID != 0 {
			continue
		}
		if len(owners) == 0 {
			canonical := model.Owner{
				ID:          1,
				DisplayName: m.defaultOwnerName,
				Enabled:     true,
				CreatedAt:   utils.Now(),
			}
			owners = append(owners, canonical)
			ownerSet[canonical.ID] = struct{}{}
		}
		convs[i].OwnerID = resolveOwnerID(convs[i].LegacyManagerRef, ownerSet, owners)
		stamped++
	}

	env.Set(model.CollectionConversations, utils.MustMarshalJSON(convs))
	env.Set(model.CollectionOwners, utils.MustMarshalJSON(owners))
	if stamped > 0 {
		logger.Log.Info("Stamped owner assignments on conversations",
			zap.Int("count", stamped))
	}
	return env
}

// resolveOwnerID picks the owner for a conversation with a missing or
// dangling assignment: the legacy hint when it parses and is live, else the
// canonical first owner. The caller guarantees owners is non-empty.
func resolveOwnerID(legacyHint string, ownerSet map[int64]struct{}, owners []model.Owner) int64 {
	if legacyHint != "" {
		if id, err := strconv.ParseInt(legacyHint, 10, 64); err == nil {
			if _, ok := ownerSet[id]; ok {
				return id
			}
		}
	}
	first, _ := model.FirstOwner(owners)
	return first.ID
}

func decodeOwners(env *model.Envelope) []model.Owner {
	raw := env.Get(model.CollectionOwners)
	if raw == nil {
		return nil
	}
	var owners []model.Owner
	if err := json.Unmarshal(raw, &owners); err != nil {
		logger.Log.Warn("Malformed owners payload during migration, treating as empty",
			zap.Error(err))
		observer.IncMalformedPayload(model.CollectionOwners)
		return nil
	}
	return owners
}

func decodeConversations(env *model.Envelope) []model.Conversation {
	raw := env.Get(model.CollectionConversations)
	if raw == nil {
		return nil
	}
	var convs []model.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		logger.Log.Warn("Malformed conversations payload during migration, treating as empty",
			zap.Error(err))
		observer.IncMalformedPayload(model.CollectionConversations)
		return nil
	}
	return convs
}

// Numeric legacy timestamps at or above this magnitude were written by
// Date.now() in the old frontend and carry milliseconds, not seconds.
const legacyMillisThreshold = int64(1e12)

// parseLegacyTime tolerates the timestamp encodings seen in legacy payloads:
// RFC3339 strings, unix seconds, and unix milliseconds. Anything else maps to
// the zero time, which sorts the owner first and is harmless.
func parseLegacyTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, perr := time.Parse(time.RFC3339, s); perr == nil {
			return parsed.UTC()
		}
		return time.Time{}
	}
	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil {
		if unix >= legacyMillisThreshold {
			return utils.UnixToTimeWithMilliseconds(unix)
		}
		return utils.UnixToTime(unix)
	}
	return time.Time{}
}
