// Package sync implements cross-device memory synchronization: batched
// push with per-item reconciliation, and cursor-based incremental pull.
//
// The protocol is deliberately at-least-once. A pull cursor is the updated-at
// timestamp of the last delivered record and the next pull re-delivers the
// boundary record; clients converge because re-applying a record they already
// hold is a no-op merge. Nothing here blocks on a device being online;
// devices pull whenever they reconnect.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
)

// DefaultPageSize caps a pull when the caller does not ask for a specific
// page size.
const DefaultPageSize = 100

// MaxPageSize bounds what a caller may ask for in one pull.
const MaxPageSize = 500

// Config assembles an Engine.
type Config struct {
	Store storage.MemoryStore

	// Logger defaults to a nop logger.
	Logger *slog.Logger

	// PageSize overrides DefaultPageSize when positive.
	PageSize int

	// Notify, when set, is called after each item that lands in storage,
	// with the outcome of its merge. It runs on the push path and must not
	// block.
	Notify func(ownerID string, in memory.Incoming, outcome memory.MergeOutcome)
}

// Engine coordinates push and pull against the memory store.
type Engine struct {
	store    storage.MemoryStore
	log      *slog.Logger
	pageSize int
	notify   func(ownerID string, in memory.Incoming, outcome memory.MergeOutcome)
	now      func() time.Time
}

// NewEngine creates an Engine from the config.
func NewEngine(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Engine{
		store:    cfg.Store,
		log:      log,
		pageSize: pageSize,
		notify:   cfg.Notify,
		now:      time.Now,
	}
}

// PushBatch reconciles a batch of device-pushed items one at a time. An item
// that fails to validate or persist is counted and skipped; it never aborts
// the rest of the batch, because devices retry whole batches and every other
// item still deserves to land.
func (e *Engine) PushBatch(ctx context.Context, ownerID string, items []memory.Incoming) (memory.PushResult, error) {
	var result memory.PushResult

	for i, in := range items {
		if in.Content == "" {
			e.log.Warn("skipping memory with empty content", "owner_id", ownerID, "index", i)
			result.Failed++
			continue
		}

		// A device that never set a timestamp still deserves a defined
		// merge order; server receipt time is the best approximation.
		if in.UpdatedAt.IsZero() {
			in.UpdatedAt = e.now().UTC()
		}

		outcome, err := e.store.MergeMemory(ctx, ownerID, in)
		if err != nil {
			e.log.Error("failed to merge memory",
				"owner_id", ownerID, "external_id", in.ExternalID, "error", err)
			result.Failed++
			continue
		}

		switch outcome {
		case memory.OutcomeInserted:
			result.Pushed++
		case memory.OutcomeUpdated:
			result.Updated++
		case memory.OutcomeDuplicate:
			result.Duplicates++
		}

		if e.notify != nil {
			e.notify(ownerID, in, outcome)
		}
	}

	return result, nil
}

// Pull returns one page of the owner's delta stream at or after since.
// Tombstoned records are included so deletions propagate. The returned cursor
// is the updated-at of the last delivered record (or the caller's since when
// the page is empty); feeding it back yields the next page.
//
// When deviceID is non-empty the per-device sync cursor is touched. That
// bookkeeping is audit-only: its failure is logged, never surfaced, and it
// never affects what a pull returns.
func (e *Engine) Pull(ctx context.Context, ownerID, deviceID string, since time.Time, pageSize int) (memory.Page, error) {
	if pageSize <= 0 {
		pageSize = e.pageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	// Fetch one extra row to learn whether another page exists without a
	// second query.
	recs, err := e.store.MemoriesSince(ctx, ownerID, since, pageSize+1)
	if err != nil {
		return memory.Page{}, fmt.Errorf("failed to pull memories: %w", err)
	}

	page := memory.Page{Cursor: since}
	if len(recs) > pageSize {
		page.HasMore = true
		recs = recs[:pageSize]
	}
	page.Items = recs
	if len(recs) > 0 {
		page.Cursor = recs[len(recs)-1].UpdatedAt
	}

	if deviceID != "" {
		if err := e.store.TouchSyncCursor(ctx, ownerID, deviceID, e.now().UTC()); err != nil {
			e.log.Warn("failed to touch sync cursor",
				"owner_id", ownerID, "device_id", deviceID, "error", err)
		}
	}

	return page, nil
}

// Delete tombstones the live record with the external id. Deleting something
// already gone reports deleted=false and no error.
func (e *Engine) Delete(ctx context.Context, ownerID, externalID string) (bool, error) {
	deleted, err := e.store.SoftDeleteMemory(ctx, ownerID, externalID, e.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}

	return deleted, nil
}

// Update applies a partial update to the record with the external id.
func (e *Engine) Update(ctx context.Context, ownerID, externalID string, patch memory.Patch) (memory.Record, error) {
	rec, err := e.store.PatchMemory(ctx, ownerID, externalID, patch, e.now().UTC())
	if err != nil {
		if storage.IsNotFound(err) {
			return memory.Record{}, err
		}
		return memory.Record{}, fmt.Errorf("failed to update memory: %w", err)
	}

	return rec, nil
}

// List returns the owner's live records, optionally filtered.
func (e *Engine) List(ctx context.Context, ownerID string, f memory.Filter) ([]memory.Record, error) {
	recs, err := e.store.LiveMemories(ctx, ownerID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	return recs, nil
}
