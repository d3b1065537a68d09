package memory

// NewRecord builds the row state for a first insertion of an incoming item.
// Unset optional fields default to empty/zero; tags default to an empty
// serialized collection. CreatedAt falls back to the item's UpdatedAt when
// the device did not supply it.
func NewRecord(id, ownerID string, in Incoming) Record {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = in.UpdatedAt
	}

	rec := Record{
		ID:            id,
		ExternalID:    in.ExternalID,
		OwnerID:       ownerID,
		Category:      in.Category,
		Content:       in.Content,
		ContentHash:   Fingerprint(in.Content),
		Tags:          in.Tags.Or("[]"),
		Pinned:        in.Pinned.Or(false),
		AccessCount:   in.AccessCount.Or(0),
		SourceSession: in.SourceSession.Or(""),
		SourceChannel: in.SourceChannel.Or(""),
		OriginDevice:  in.OriginDevice.Or(""),
		CreatedAt:     createdAt,
		UpdatedAt:     in.UpdatedAt,
	}

	if t, ok := in.DeletedAt.Get(); ok {
		rec.DeletedAt = &t
	}

	return rec
}

// Reconcile merges an incoming item into an existing record for the same
// (owner, fingerprint) and returns the resulting row state.
//
// Last-write-wins: when the incoming timestamp is strictly newer, mutable
// fields are overwritten, with unset optional fields falling back to the
// stored values. Otherwise the record body is untouched. In both cases the
// access count resolves to the maximum seen; it never decreases.
func Reconcile(existing Record, in Incoming) (Record, MergeOutcome) {
	merged := existing
	merged.AccessCount = max(in.AccessCount.Or(0), existing.AccessCount)

	if !in.UpdatedAt.After(existing.UpdatedAt) {
		return merged, OutcomeDuplicate
	}

	merged.ExternalID = in.ExternalID
	merged.Category = in.Category
	merged.Content = in.Content
	merged.ContentHash = Fingerprint(in.Content)
	merged.Tags = in.Tags.Or(existing.Tags)
	merged.Pinned = in.Pinned.Or(existing.Pinned)
	merged.SourceSession = in.SourceSession.Or(existing.SourceSession)
	merged.SourceChannel = in.SourceChannel.Or(existing.SourceChannel)
	merged.OriginDevice = in.OriginDevice.Or(existing.OriginDevice)
	merged.UpdatedAt = in.UpdatedAt

	switch {
	case in.DeletedAt.IsNull():
		// Explicit null clears the tombstone.
		merged.DeletedAt = nil
	default:
		if t, ok := in.DeletedAt.Get(); ok {
			merged.DeletedAt = &t
		}
		// Absent: keep the stored tombstone state.
	}

	return merged, OutcomeUpdated
}
