// Package inmemory implements the storage driver on plain maps. It backs
// tests and ephemeral development runs; nothing survives process exit.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
)

type syncCursor struct {
	ownerID    string
	deviceID   string
	lastSync   time.Time
	firstSeen  time.Time
	pullsTotal int
}

// Driver keeps all state in memory behind one lock. The single lock makes
// MergeMemory trivially atomic; there is no constraint-violation fallback to
// exercise here.
type Driver struct {
	mu sync.RWMutex

	memories map[string]memory.Record // by record id
	users    map[string]storage.User  // by user id
	subjects map[string]string        // identity subject -> user id
	prefs    map[string]storage.Preferences
	subs     map[string]storage.Subscription
	keys     map[string]map[string]storage.ProviderKey // user id -> provider
	cursors  map[string]syncCursor                     // owner id + "\x00" + device id
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver returns an empty in-memory store.
func NewDriver() *Driver {
	return &Driver{
		memories: make(map[string]memory.Record),
		users:    make(map[string]storage.User),
		subjects: make(map[string]string),
		prefs:    make(map[string]storage.Preferences),
		subs:     make(map[string]storage.Subscription),
		keys:     make(map[string]map[string]storage.ProviderKey),
		cursors:  make(map[string]syncCursor),
	}
}

func (d *Driver) Close() error { return nil }

// MergeMemory implements the insert-or-merge contract under the driver lock.
func (d *Driver) MergeMemory(_ context.Context, ownerID string, in memory.Incoming) (memory.MergeOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	hash := memory.Fingerprint(in.Content)
	for id, rec := range d.memories {
		if rec.OwnerID != ownerID || rec.ContentHash != hash {
			continue
		}

		merged, outcome := memory.Reconcile(rec, in)
		d.memories[id] = merged

		return outcome, nil
	}

	rec := memory.NewRecord(uuid.NewString(), ownerID, in)
	d.memories[rec.ID] = rec

	return memory.OutcomeInserted, nil
}

// MemoriesSince returns the owner's records with updated-at >= since,
// ascending, capped at limit.
func (d *Driver) MemoriesSince(_ context.Context, ownerID string, since time.Time, limit int) ([]memory.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []memory.Record
	for _, rec := range d.memories {
		if rec.OwnerID != ownerID || rec.UpdatedAt.Before(since) {
			continue
		}

		out = append(out, rec)
	}

	sortByUpdatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (d *Driver) SoftDeleteMemory(_ context.Context, ownerID, externalID string, now time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.latestByExternalID(ownerID, externalID, true)
	if !ok {
		return false, nil
	}

	deletedAt := now
	rec.DeletedAt = &deletedAt
	rec.UpdatedAt = now
	d.memories[rec.ID] = rec

	return true, nil
}

func (d *Driver) PatchMemory(_ context.Context, ownerID, externalID string, patch memory.Patch, now time.Time) (memory.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.latestByExternalID(ownerID, externalID, false)
	if !ok {
		return memory.Record{}, storage.NotFoundError{Entity: "memory", Key: externalID}
	}

	rec.Pinned = patch.Pinned.Or(rec.Pinned)
	rec.UpdatedAt = now
	d.memories[rec.ID] = rec

	return rec, nil
}

func (d *Driver) LiveMemories(_ context.Context, ownerID string, f memory.Filter) ([]memory.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []memory.Record
	for _, rec := range d.memories {
		if rec.OwnerID != ownerID || !rec.Live() {
			continue
		}
		if f.Category != "" && rec.Category != f.Category {
			continue
		}

		out = append(out, rec)
	}

	sortByUpdatedAt(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

func (d *Driver) TouchSyncCursor(_ context.Context, ownerID, deviceID string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := ownerID + "\x00" + deviceID
	cur, ok := d.cursors[key]
	if !ok {
		cur = syncCursor{ownerID: ownerID, deviceID: deviceID, firstSeen: now}
	}
	cur.lastSync = now
	cur.pullsTotal++
	d.cursors[key] = cur

	return nil
}

// SyncCursorCount reports how many (owner, device) pairs have pulled. Test
// hook; the cursor table is audit-only and has no read path in the service.
func (d *Driver) SyncCursorCount(ownerID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, cur := range d.cursors {
		if cur.ownerID == ownerID {
			n++
		}
	}

	return n
}

func (d *Driver) FindOrCreateUser(_ context.Context, ident auth.Identity) (storage.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.subjects[ident.Subject]; ok {
		return d.users[id], nil
	}

	now := time.Now().UTC()
	user := storage.User{
		ID:                 uuid.NewString(),
		IdentityProviderID: ident.Subject,
		Email:              ident.Email,
		Name:               ident.Name,
		AvatarURL:          ident.AvatarURL,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	d.users[user.ID] = user
	d.subjects[ident.Subject] = user.ID

	return user, nil
}

func (d *Driver) GetUser(_ context.Context, id string) (storage.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return storage.User{}, storage.NotFoundError{Entity: "user", Key: id}
	}

	return user, nil
}

func (d *Driver) GetPreferences(_ context.Context, userID string) (storage.Preferences, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if prefs, ok := d.prefs[userID]; ok {
		return prefs, nil
	}

	return storage.DefaultPreferences(userID), nil
}

func (d *Driver) UpdatePreferences(_ context.Context, userID string, patch storage.PreferencesPatch, now time.Time) (storage.Preferences, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prefs, ok := d.prefs[userID]
	if !ok {
		prefs = storage.DefaultPreferences(userID)
		prefs.ID = uuid.NewString()
		prefs.CreatedAt = now
	}

	if patch.DefaultPersona != nil {
		prefs.DefaultPersona = *patch.DefaultPersona
	}
	if patch.Theme != nil {
		prefs.Theme = *patch.Theme
	}
	if patch.VoiceEnabled != nil {
		prefs.VoiceEnabled = *patch.VoiceEnabled
	}
	prefs.UpdatedAt = now
	d.prefs[userID] = prefs

	return prefs, nil
}

func (d *Driver) GetSubscription(_ context.Context, userID string) (storage.Subscription, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if sub, ok := d.subs[userID]; ok {
		return sub, nil
	}

	return storage.DefaultSubscription(userID), nil
}

func (d *Driver) UpsertSubscription(_ context.Context, sub storage.Subscription, now time.Time) (storage.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.subs[sub.UserID]
	if ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.ID = uuid.NewString()
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	d.subs[sub.UserID] = sub

	return sub, nil
}

func (d *Driver) UpsertProviderKey(_ context.Context, key storage.ProviderKey, now time.Time) (storage.ProviderKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byProvider, ok := d.keys[key.UserID]
	if !ok {
		byProvider = make(map[string]storage.ProviderKey)
		d.keys[key.UserID] = byProvider
	}

	existing, ok := byProvider[key.Provider]
	if ok {
		key.ID = existing.ID
		key.CreatedAt = existing.CreatedAt
	} else {
		key.ID = uuid.NewString()
		key.CreatedAt = now
	}
	key.UpdatedAt = now
	byProvider[key.Provider] = key

	return key, nil
}

func (d *Driver) ListProviderKeys(_ context.Context, userID string) ([]storage.ProviderKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []storage.ProviderKey
	for _, key := range d.keys[userID] {
		out = append(out, key)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })

	return out, nil
}

func (d *Driver) DeleteProviderKey(_ context.Context, userID, provider string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byProvider := d.keys[userID]
	if _, ok := byProvider[provider]; !ok {
		return false, nil
	}

	delete(byProvider, provider)

	return true, nil
}

// latestByExternalID returns the owner's most recently updated record with
// the external id. External ids are not unique; the newest row wins.
func (d *Driver) latestByExternalID(ownerID, externalID string, liveOnly bool) (memory.Record, bool) {
	var (
		best  memory.Record
		found bool
	)
	for _, rec := range d.memories {
		if rec.OwnerID != ownerID || rec.ExternalID != externalID {
			continue
		}
		if liveOnly && !rec.Live() {
			continue
		}
		if !found || rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
			found = true
		}
	}

	return best, found
}

func sortByUpdatedAt(recs []memory.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].ID < recs[j].ID
		}

		return recs[i].UpdatedAt.Before(recs[j].UpdatedAt)
	})
}
