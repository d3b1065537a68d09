// Package memory defines the domain model for the beacon memory layer.
//
// A memory is a short fact or preference captured during an assistant
// session on some device. Devices create, update, and delete memories
// independently and push them to the backend, which reconciles them into a
// single authoritative store. Identity of a memory is its content
// fingerprint, not the device-assigned external id: two items with the same
// content for the same owner always converge to one record.
package memory

import "time"

// Record is a stored memory row, owned by exactly one user.
type Record struct {
	// ID is the server-assigned identifier. Immutable.
	ID string `json:"id"`

	// ExternalID is the identifier assigned by the originating device or
	// session. Clients reference memories by it across pushes; it is not
	// required to be globally unique.
	ExternalID string `json:"external_id"`

	// OwnerID is the user that owns this record. Immutable.
	OwnerID string `json:"owner_id"`

	// Category is a free-text classification.
	Category string `json:"category"`

	// Content is the textual payload.
	Content string `json:"content"`

	// ContentHash is the fingerprint of Content. Unique per
	// (owner, content hash), the dedup key.
	ContentHash string `json:"content_hash"`

	// Tags is an opaque serialized tag collection.
	Tags string `json:"tags"`

	// Pinned is a user-controlled flag.
	Pinned bool `json:"pinned"`

	// AccessCount never decreases across merges; conflicting versions
	// resolve to the maximum seen.
	AccessCount int `json:"access_count"`

	// Provenance, informational only.
	SourceSession string `json:"source_session,omitempty"`
	SourceChannel string `json:"source_channel,omitempty"`
	OriginDevice  string `json:"origin_device,omitempty"`

	// CreatedAt is set once at first insertion.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the logical-clock timestamp used as the last-write-wins
	// comparison key. Updated on every mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// DeletedAt is the tombstone timestamp. Nil means live. A tombstoned
	// record is retained so the deletion propagates to other devices.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the record has not been tombstoned.
func (r *Record) Live() bool {
	return r.DeletedAt == nil
}

// Incoming is one memory mutation pushed by a device.
//
// Mutable fields use Optional so that "the device omitted this field" and
// "the device wants it cleared" stay distinguishable through JSON decoding.
type Incoming struct {
	ExternalID string `json:"external_id"`
	Category   string `json:"category"`
	Content    string `json:"content"`

	Tags          Optional[string] `json:"tags"`
	Pinned        Optional[bool]   `json:"pinned"`
	AccessCount   Optional[int]    `json:"access_count"`
	SourceSession Optional[string] `json:"source_session"`
	SourceChannel Optional[string] `json:"source_channel"`
	OriginDevice  Optional[string] `json:"origin_device"`

	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	DeletedAt Optional[time.Time] `json:"deleted_at"`
}

// Patch is a partial update applied to a record located by external id.
// Only fields explicitly supplied are changed; UpdatedAt is always refreshed.
type Patch struct {
	Pinned Optional[bool] `json:"pinned"`
}

// MergeOutcome classifies what a single merge did to the store.
type MergeOutcome int

const (
	// OutcomeInserted means no record existed for the fingerprint and a new
	// row was created.
	OutcomeInserted MergeOutcome = iota

	// OutcomeUpdated means the incoming item was strictly newer and
	// overwrote the stored record's mutable fields.
	OutcomeUpdated

	// OutcomeDuplicate means the incoming item was not newer; the record
	// body was left untouched (the access count may still have been raised).
	OutcomeDuplicate
)

func (o MergeOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// PushResult reports cumulative counts for one pushed batch.
type PushResult struct {
	Pushed     int `json:"pushed"`
	Updated    int `json:"updated"`
	Duplicates int `json:"duplicates"`
	// Failed counts items that could not be processed. Failures never abort
	// the rest of the batch.
	Failed int `json:"failed,omitempty"`
}

// Page is one page of a delta pull.
type Page struct {
	Items []Record `json:"items"`

	// Cursor is the updated-at of the last item in the page, or the
	// caller's original since value when the page is empty. Callers pass it
	// back as since on the next pull. The comparison is inclusive, so the
	// boundary record is re-delivered; the delta stream is at-least-once.
	Cursor time.Time `json:"cursor"`

	HasMore bool `json:"has_more"`
}

// Filter narrows a live-memory listing.
type Filter struct {
	// Category, when non-empty, restricts results to one category.
	Category string

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}
