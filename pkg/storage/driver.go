// Package storage defines the persistence contract for the beacon backend.
//
// The Driver is the single shared mutable resource of the system. All
// cross-record invariants (the per-owner content-fingerprint uniqueness
// constraint and the monotonic access count) are enforced here, because two
// devices may race to push the same new content simultaneously. Every
// implementation must treat MergeMemory as one atomic insert-or-merge per
// item: concurrent inserts for the same (owner, fingerprint) resolve to
// exactly one stored row, with the loser transparently falling back to the
// merge path.
package storage

import (
	"context"
	"time"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/memory"
)

// MemoryStore persists memory records and their sync bookkeeping.
type MemoryStore interface {
	// MergeMemory reconciles one incoming item against the owner's
	// records: insert when no record matches the content fingerprint,
	// otherwise last-write-wins merge. A uniqueness-constraint violation
	// is never surfaced; it re-enters the merge path.
	MergeMemory(ctx context.Context, ownerID string, in memory.Incoming) (memory.MergeOutcome, error)

	// MemoriesSince returns all records (live and tombstoned) for the
	// owner with updated-at >= since, ascending by updated-at, capped at
	// limit. The comparison is inclusive so no update is ever missed.
	MemoriesSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]memory.Record, error)

	// SoftDeleteMemory tombstones the live record matching the external
	// id. Returns false when no live record matches; that is a no-op, not
	// an error.
	SoftDeleteMemory(ctx context.Context, ownerID, externalID string, now time.Time) (bool, error)

	// PatchMemory applies a partial update to the record matching the
	// external id, refreshing updated-at. Returns NotFoundError when no
	// record matches.
	PatchMemory(ctx context.Context, ownerID, externalID string, patch memory.Patch, now time.Time) (memory.Record, error)

	// LiveMemories lists the owner's non-tombstoned records, ascending by
	// updated-at.
	LiveMemories(ctx context.Context, ownerID string, f memory.Filter) ([]memory.Record, error)

	// TouchSyncCursor upserts the per-device pull bookkeeping row. It
	// never influences what a pull returns; it exists for audit of
	// per-device sync activity.
	TouchSyncCursor(ctx context.Context, ownerID, deviceID string, now time.Time) error
}

// UserStore resolves verified identities to local user rows.
type UserStore interface {
	// FindOrCreateUser provisions a user on first login, keyed by the
	// identity provider subject.
	FindOrCreateUser(ctx context.Context, ident auth.Identity) (User, error)

	// GetUser fetches a user by internal id.
	GetUser(ctx context.Context, id string) (User, error)
}

// PreferenceStore holds per-user assistant preferences.
type PreferenceStore interface {
	// GetPreferences returns the user's preferences, or defaults when the
	// user has never saved any.
	GetPreferences(ctx context.Context, userID string) (Preferences, error)

	// UpdatePreferences upserts the supplied fields only.
	UpdatePreferences(ctx context.Context, userID string, patch PreferencesPatch, now time.Time) (Preferences, error)
}

// SubscriptionStore holds billing state mirrored from the external billing
// provider.
type SubscriptionStore interface {
	// GetSubscription returns the user's subscription, or the free/active
	// default when none is recorded.
	GetSubscription(ctx context.Context, userID string) (Subscription, error)

	// UpsertSubscription records billing state pushed by the provider,
	// keyed by user.
	UpsertSubscription(ctx context.Context, sub Subscription, now time.Time) (Subscription, error)
}

// ProviderKeyStore holds encrypted third-party API keys, unique per
// (user, provider).
type ProviderKeyStore interface {
	UpsertProviderKey(ctx context.Context, key ProviderKey, now time.Time) (ProviderKey, error)
	ListProviderKeys(ctx context.Context, userID string) ([]ProviderKey, error)
	DeleteProviderKey(ctx context.Context, userID, provider string) (bool, error)
}

// Driver is the full persistence surface. Implementations: sqlite (primary),
// postgres, inmemory (tests).
type Driver interface {
	MemoryStore
	UserStore
	PreferenceStore
	SubscriptionStore
	ProviderKeyStore

	// Close releases the underlying database resources.
	Close() error
}
