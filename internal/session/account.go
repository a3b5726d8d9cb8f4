package session

import (
	"fmt"

	"github.com/perchhq/perch/internal/protocol/wire"
	"github.com/perchhq/perch/pkg/types"
)

// AccountEncryption decrypts versioned account documents.
type AccountEncryption interface {
	// DecryptProfile decrypts the account profile document.
	DecryptProfile(version int64, ciphertext string) (*types.Profile, error)
	// DecryptSettings decrypts the synced settings document.
	DecryptSettings(version int64, ciphertext string) (*types.Settings, error)
}

// ApplyProfileUpdate merges an encrypted profile delta, following the same
// forward-only version rule as the session applier. Stale versions return
// the current document unchanged.
func ApplyProfileUpdate(
	current *types.Profile,
	currentVersion int64,
	update *wire.VersionedString,
	enc AccountEncryption,
) (*types.Profile, int64, error) {
	if update == nil || update.Version <= currentVersion {
		return current, currentVersion, nil
	}
	profile, err := enc.DecryptProfile(update.Version, update.Value)
	if err != nil {
		return current, currentVersion, fmt.Errorf("decrypt profile v%d: %w", update.Version, err)
	}
	return profile, update.Version, nil
}

// ApplySettingsUpdate merges an encrypted settings delta. Stale versions
// return the current document unchanged.
func ApplySettingsUpdate(
	current *types.Settings,
	currentVersion int64,
	update *wire.VersionedString,
	enc AccountEncryption,
) (*types.Settings, int64, error) {
	if update == nil || update.Version <= currentVersion {
		return current, currentVersion, nil
	}
	settings, err := enc.DecryptSettings(update.Version, update.Value)
	if err != nil {
		return current, currentVersion, fmt.Errorf("decrypt settings v%d: %w", update.Version, err)
	}
	return settings, update.Version, nil
}

// MergeFeedItem inserts a feed item into a counter-ordered feed slice,
// deduplicating by id. Returns a new slice; the input is never mutated.
func MergeFeedItem(feed []types.FeedItem, item types.FeedItem) []types.FeedItem {
	for i := range feed {
		if feed[i].ID == item.ID {
			// Duplicate delivery: keep the existing entry.
			return feed
		}
	}
	next := make([]types.FeedItem, 0, len(feed)+1)
	inserted := false
	for _, existing := range feed {
		if !inserted && item.Counter < existing.Counter {
			next = append(next, item)
			inserted = true
		}
		next = append(next, existing)
	}
	if !inserted {
		next = append(next, item)
	}
	return next
}
