// Package sqlite implements the storage driver on SQLite. It is the primary
// backend; ":memory:" works for tests and throwaway runs.
//
// Timestamps are stored as UTC microseconds in INTEGER columns so that
// last-write-wins comparisons survive the round trip without precision loss.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
)

// mergeAttempts bounds the insert-or-merge retry loop. Each retry only
// happens when a concurrent writer won a uniqueness race, so two passes
// nearly always settle it.
const mergeAttempts = 3

// Driver implements storage.Driver using SQLite.
type Driver struct {
	db *sql.DB
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver opens (or creates) the database at dbPath and migrates the
// schema. The dbPath can be a file path or ":memory:".
func NewDriver(dbPath string) (*Driver, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection sidesteps SQLITE_BUSY between the pool's
	// connections; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &Driver{db: db}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

// migrate creates the necessary tables if they don't exist.
func (d *Driver) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		identity_provider_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		pinned INTEGER NOT NULL DEFAULT 0,
		access_count INTEGER NOT NULL DEFAULT 0,
		source_session TEXT NOT NULL DEFAULT '',
		source_channel TEXT NOT NULL DEFAULT '',
		origin_device TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		UNIQUE(user_id, content_hash)
	);

	CREATE INDEX IF NOT EXISTS idx_memories_user_updated ON memories(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_memories_user_external ON memories(user_id, external_id);

	CREATE TABLE IF NOT EXISTS sync_cursors (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		last_synced_at INTEGER NOT NULL,
		pulls_total INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, device_id)
	);

	CREATE TABLE IF NOT EXISTS preferences (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		default_persona TEXT NOT NULL,
		theme TEXT NOT NULL,
		voice_enabled INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		external_id TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL,
		status TEXT NOT NULL,
		credits_remaining INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS provider_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		encrypted_key TEXT NOT NULL,
		key_hint TEXT NOT NULL DEFAULT '',
		model_preference TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(user_id, provider)
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (d *Driver) Close() error {
	return d.db.Close()
}

const memoryColumns = `id, external_id, user_id, category, content, content_hash, tags, pinned,
	access_count, source_session, source_channel, origin_device, created_at, updated_at, deleted_at`

// MergeMemory reconciles one incoming item. Insert when the content
// fingerprint is unseen for the owner; last-write-wins merge otherwise. Races
// between concurrent writers for the same fingerprint are resolved by
// retrying: a losing insert re-enters the merge path, a losing merge re-reads
// the row.
func (d *Driver) MergeMemory(ctx context.Context, ownerID string, in memory.Incoming) (memory.MergeOutcome, error) {
	hash := memory.Fingerprint(in.Content)

	for attempt := 0; attempt < mergeAttempts; attempt++ {
		outcome, settled, err := d.tryMerge(ctx, ownerID, hash, in)
		if err != nil {
			return 0, err
		}
		if settled {
			return outcome, nil
		}
	}

	return 0, fmt.Errorf("merge for fingerprint %s did not settle after %d attempts", hash, mergeAttempts)
}

func (d *Driver) tryMerge(ctx context.Context, ownerID, hash string, in memory.Incoming) (memory.MergeOutcome, bool, error) {
	existing, found, err := d.memoryByFingerprint(ctx, ownerID, hash)
	if err != nil {
		return 0, false, err
	}

	if !found {
		rec := memory.NewRecord(uuid.NewString(), ownerID, in)

		res, err := d.db.ExecContext(ctx, `
			INSERT INTO memories (`+memoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, content_hash) DO NOTHING`,
			rec.ID, rec.ExternalID, rec.OwnerID, rec.Category, rec.Content, rec.ContentHash,
			rec.Tags, rec.Pinned, rec.AccessCount, rec.SourceSession, rec.SourceChannel,
			rec.OriginDevice, storeTime(rec.CreatedAt), storeTime(rec.UpdatedAt), nullTime(rec.DeletedAt))
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert memory: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, false, fmt.Errorf("failed to read insert result: %w", err)
		}
		if n == 0 {
			// A concurrent writer inserted the fingerprint first.
			return 0, false, nil
		}

		return memory.OutcomeInserted, true, nil
	}

	merged, outcome := memory.Reconcile(existing, in)

	if outcome == memory.OutcomeDuplicate {
		// Only the monotonic access count can move; MAX keeps it monotonic
		// even when another writer raised it in between.
		_, err := d.db.ExecContext(ctx,
			`UPDATE memories SET access_count = MAX(access_count, ?) WHERE id = ?`,
			merged.AccessCount, existing.ID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to raise access count: %w", err)
		}

		return memory.OutcomeDuplicate, true, nil
	}

	// Compare-and-swap on the previous updated_at: zero rows means another
	// writer got there first and the merge must be recomputed.
	res, err := d.db.ExecContext(ctx, `
		UPDATE memories SET
			external_id = ?, category = ?, content = ?, content_hash = ?, tags = ?,
			pinned = ?, access_count = MAX(access_count, ?), source_session = ?,
			source_channel = ?, origin_device = ?, updated_at = ?, deleted_at = ?
		WHERE id = ? AND updated_at = ?`,
		merged.ExternalID, merged.Category, merged.Content, merged.ContentHash, merged.Tags,
		merged.Pinned, merged.AccessCount, merged.SourceSession, merged.SourceChannel,
		merged.OriginDevice, storeTime(merged.UpdatedAt), nullTime(merged.DeletedAt),
		existing.ID, storeTime(existing.UpdatedAt))
	if err != nil {
		return 0, false, fmt.Errorf("failed to update memory: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return 0, false, nil
	}

	return memory.OutcomeUpdated, true, nil
}

func (d *Driver) memoryByFingerprint(ctx context.Context, ownerID, hash string) (memory.Record, bool, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND content_hash = ?`,
		ownerID, hash)

	rec, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, false, nil
	}
	if err != nil {
		return memory.Record{}, false, err
	}

	return rec, true, nil
}

// MemoriesSince returns the owner's records with updated_at >= since,
// ascending, capped at limit. The boundary is inclusive so a record updated
// exactly at the cursor is never skipped.
func (d *Driver) MemoriesSince(ctx context.Context, ownerID string, since time.Time, limit int) ([]memory.Record, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND updated_at >= ?
		ORDER BY updated_at ASC, id ASC
		LIMIT ?`,
		ownerID, storeTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// SoftDeleteMemory tombstones the newest live record with the external id.
func (d *Driver) SoftDeleteMemory(ctx context.Context, ownerID, externalID string, now time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE memories SET deleted_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM memories
			WHERE user_id = ? AND external_id = ? AND deleted_at IS NULL
			ORDER BY updated_at DESC LIMIT 1
		)`,
		storeTime(now), storeTime(now), ownerID, externalID)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}

	return n > 0, nil
}

// PatchMemory applies a partial update to the newest record with the
// external id.
func (d *Driver) PatchMemory(ctx context.Context, ownerID, externalID string, patch memory.Patch, now time.Time) (memory.Record, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND external_id = ?
		ORDER BY updated_at DESC LIMIT 1`,
		ownerID, externalID)

	rec, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, storage.NotFoundError{Entity: "memory", Key: externalID}
	}
	if err != nil {
		return memory.Record{}, err
	}

	rec.Pinned = patch.Pinned.Or(rec.Pinned)
	rec.UpdatedAt = now

	_, err = d.db.ExecContext(ctx,
		`UPDATE memories SET pinned = ?, updated_at = ? WHERE id = ?`,
		rec.Pinned, storeTime(now), rec.ID)
	if err != nil {
		return memory.Record{}, fmt.Errorf("failed to patch memory: %w", err)
	}

	return rec, nil
}

// LiveMemories lists the owner's non-tombstoned records.
func (d *Driver) LiveMemories(ctx context.Context, ownerID string, f memory.Filter) ([]memory.Record, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ? AND deleted_at IS NULL`
	args := []any{ownerID}

	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}

	query += ` ORDER BY updated_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	return scanMemories(rows)
}

// TouchSyncCursor upserts the per-device pull bookkeeping row.
func (d *Driver) TouchSyncCursor(ctx context.Context, ownerID, deviceID string, now time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (id, user_id, device_id, last_synced_at, pulls_total, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(user_id, device_id) DO UPDATE SET
			last_synced_at = excluded.last_synced_at,
			pulls_total = sync_cursors.pulls_total + 1`,
		uuid.NewString(), ownerID, deviceID, storeTime(now), storeTime(now))
	if err != nil {
		return fmt.Errorf("failed to touch sync cursor: %w", err)
	}

	return nil
}

// FindOrCreateUser provisions a user on first login, keyed by identity
// subject. Concurrent first logins resolve to one row via the uniqueness
// constraint.
func (d *Driver) FindOrCreateUser(ctx context.Context, ident auth.Identity) (storage.User, error) {
	user, found, err := d.userBySubject(ctx, ident.Subject)
	if err != nil {
		return storage.User{}, err
	}
	if found {
		return user, nil
	}

	now := storeTime(time.Now().UTC())
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO users (id, identity_provider_id, email, name, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_provider_id) DO NOTHING`,
		uuid.NewString(), ident.Subject, ident.Email, ident.Name, ident.AvatarURL, now, now)
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	user, found, err = d.userBySubject(ctx, ident.Subject)
	if err != nil {
		return storage.User{}, err
	}
	if !found {
		return storage.User{}, fmt.Errorf("user for subject %s vanished after insert", ident.Subject)
	}

	return user, nil
}

func (d *Driver) userBySubject(ctx context.Context, subject string) (storage.User, bool, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, identity_provider_id, email, name, avatar_url, created_at, updated_at
		FROM users WHERE identity_provider_id = ?`, subject)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, false, nil
	}
	if err != nil {
		return storage.User{}, false, err
	}

	return user, true, nil
}

// GetUser fetches a user by internal id.
func (d *Driver) GetUser(ctx context.Context, id string) (storage.User, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, identity_provider_id, email, name, avatar_url, created_at, updated_at
		FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, storage.NotFoundError{Entity: "user", Key: id}
	}
	if err != nil {
		return storage.User{}, err
	}

	return user, nil
}

// GetPreferences returns the user's saved preferences, or defaults.
func (d *Driver) GetPreferences(ctx context.Context, userID string) (storage.Preferences, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, default_persona, theme, voice_enabled, created_at, updated_at
		FROM preferences WHERE user_id = ?`, userID)

	var (
		prefs              storage.Preferences
		createdAt, updated int64
	)
	err := row.Scan(&prefs.ID, &prefs.UserID, &prefs.DefaultPersona, &prefs.Theme,
		&prefs.VoiceEnabled, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DefaultPreferences(userID), nil
	}
	if err != nil {
		return storage.Preferences{}, fmt.Errorf("failed to scan preferences: %w", err)
	}

	prefs.CreatedAt = loadTime(createdAt)
	prefs.UpdatedAt = loadTime(updated)

	return prefs, nil
}

// UpdatePreferences upserts the supplied fields over the current (or
// default) preferences.
func (d *Driver) UpdatePreferences(ctx context.Context, userID string, patch storage.PreferencesPatch, now time.Time) (storage.Preferences, error) {
	prefs, err := d.GetPreferences(ctx, userID)
	if err != nil {
		return storage.Preferences{}, err
	}

	if prefs.ID == "" {
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

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO preferences (id, user_id, default_persona, theme, voice_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			default_persona = excluded.default_persona,
			theme = excluded.theme,
			voice_enabled = excluded.voice_enabled,
			updated_at = excluded.updated_at`,
		prefs.ID, userID, prefs.DefaultPersona, prefs.Theme, prefs.VoiceEnabled,
		storeTime(prefs.CreatedAt), storeTime(now))
	if err != nil {
		return storage.Preferences{}, fmt.Errorf("failed to save preferences: %w", err)
	}

	return prefs, nil
}

// GetSubscription returns the user's billing state, or the free default.
func (d *Driver) GetSubscription(ctx context.Context, userID string) (storage.Subscription, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, external_id, plan, status, credits_remaining, created_at, updated_at
		FROM subscriptions WHERE user_id = ?`, userID)

	var (
		sub                storage.Subscription
		createdAt, updated int64
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ExternalID, &sub.Plan, &sub.Status,
		&sub.CreditsRemaining, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DefaultSubscription(userID), nil
	}
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("failed to scan subscription: %w", err)
	}

	sub.CreatedAt = loadTime(createdAt)
	sub.UpdatedAt = loadTime(updated)

	return sub, nil
}

// UpsertSubscription records billing state pushed by the provider.
func (d *Driver) UpsertSubscription(ctx context.Context, sub storage.Subscription, now time.Time) (storage.Subscription, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, external_id, plan, status, credits_remaining, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			external_id = excluded.external_id,
			plan = excluded.plan,
			status = excluded.status,
			credits_remaining = excluded.credits_remaining,
			updated_at = excluded.updated_at`,
		uuid.NewString(), sub.UserID, sub.ExternalID, sub.Plan, sub.Status,
		sub.CreditsRemaining, storeTime(now), storeTime(now))
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("failed to save subscription: %w", err)
	}

	return d.GetSubscription(ctx, sub.UserID)
}

// UpsertProviderKey stores an encrypted key, one row per (user, provider).
func (d *Driver) UpsertProviderKey(ctx context.Context, key storage.ProviderKey, now time.Time) (storage.ProviderKey, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO provider_keys (id, user_id, provider, encrypted_key, key_hint, model_preference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			key_hint = excluded.key_hint,
			model_preference = excluded.model_preference,
			updated_at = excluded.updated_at`,
		uuid.NewString(), key.UserID, key.Provider, key.EncryptedKey, key.KeyHint,
		key.ModelPreference, storeTime(now), storeTime(now))
	if err != nil {
		return storage.ProviderKey{}, fmt.Errorf("failed to save provider key: %w", err)
	}

	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, encrypted_key, key_hint, model_preference, created_at, updated_at
		FROM provider_keys WHERE user_id = ? AND provider = ?`,
		key.UserID, key.Provider)

	return scanProviderKey(row)
}

// ListProviderKeys lists the user's stored keys, ordered by provider.
func (d *Driver) ListProviderKeys(ctx context.Context, userID string) ([]storage.ProviderKey, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, provider, encrypted_key, key_hint, model_preference, created_at, updated_at
		FROM provider_keys WHERE user_id = ? ORDER BY provider ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider keys: %w", err)
	}
	defer rows.Close()

	var keys []storage.ProviderKey
	for rows.Next() {
		key, err := scanProviderKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider keys: %w", err)
	}

	return keys, nil
}

// DeleteProviderKey removes the key for (user, provider) if present.
func (d *Driver) DeleteProviderKey(ctx context.Context, userID, provider string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM provider_keys WHERE user_id = ? AND provider = ?`, userID, provider)
	if err != nil {
		return false, fmt.Errorf("failed to delete provider key: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}

	return n > 0, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(s scanner) (memory.Record, error) {
	var (
		rec                memory.Record
		createdAt, updated int64
		deletedAt          sql.NullInt64
	)

	err := s.Scan(&rec.ID, &rec.ExternalID, &rec.OwnerID, &rec.Category, &rec.Content,
		&rec.ContentHash, &rec.Tags, &rec.Pinned, &rec.AccessCount, &rec.SourceSession,
		&rec.SourceChannel, &rec.OriginDevice, &createdAt, &updated, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Record{}, err
	}
	if err != nil {
		return memory.Record{}, fmt.Errorf("failed to scan memory: %w", err)
	}

	rec.CreatedAt = loadTime(createdAt)
	rec.UpdatedAt = loadTime(updated)
	if deletedAt.Valid {
		t := loadTime(deletedAt.Int64)
		rec.DeletedAt = &t
	}

	return rec, nil
}

func scanMemories(rows *sql.Rows) ([]memory.Record, error) {
	var recs []memory.Record
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	return recs, nil
}

func scanUser(s scanner) (storage.User, error) {
	var (
		user               storage.User
		createdAt, updated int64
	)

	err := s.Scan(&user.ID, &user.IdentityProviderID, &user.Email, &user.Name,
		&user.AvatarURL, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, err
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("failed to scan user: %w", err)
	}

	user.CreatedAt = loadTime(createdAt)
	user.UpdatedAt = loadTime(updated)

	return user, nil
}

func scanProviderKey(s scanner) (storage.ProviderKey, error) {
	var (
		key                storage.ProviderKey
		createdAt, updated int64
	)

	err := s.Scan(&key.ID, &key.UserID, &key.Provider, &key.EncryptedKey, &key.KeyHint,
		&key.ModelPreference, &createdAt, &updated)
	if err != nil {
		return storage.ProviderKey{}, fmt.Errorf("failed to scan provider key: %w", err)
	}

	key.CreatedAt = loadTime(createdAt)
	key.UpdatedAt = loadTime(updated)

	return key, nil
}

// storeTime serializes a timestamp as UTC microseconds.
func storeTime(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func loadTime(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: storeTime(*t), Valid: true}
}
