package sync

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
	"github.com/beaconhq/beacon/pkg/storage/inmemory"
)

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		store  *inmemory.Driver
		engine *Engine
		base   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		engine = NewEngine(Config{Store: store, PageSize: 3})
		base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		engine.now = func() time.Time { return base.Add(24 * time.Hour) }
	})

	incoming := func(content string, at time.Time) memory.Incoming {
		return memory.Incoming{
			ExternalID: "ext-" + content,
			Category:   "preference",
			Content:    content,
			UpdatedAt:  at,
		}
	}

	Describe("PushBatch", func() {
		It("counts inserts, updates, and duplicates separately", func() {
			result, err := engine.PushBatch(ctx, "owner", []memory.Incoming{
				incoming("likes tea", base),
				incoming("dislikes mornings", base),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pushed).To(Equal(2))

			result, err = engine.PushBatch(ctx, "owner", []memory.Incoming{
				incoming("likes tea", base.Add(time.Minute)), // newer
				incoming("dislikes mornings", base),          // replay
				incoming("enjoys hiking", base),              // new
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Pushed).To(Equal(1))
			Expect(result.Updated).To(Equal(1))
			Expect(result.Duplicates).To(Equal(1))
			Expect(result.Failed).To(BeZero())
		})

		It("skips invalid items without aborting the batch", func() {
			result, err := engine.PushBatch(ctx, "owner", []memory.Incoming{
				{ExternalID: "ext-empty", UpdatedAt: base},
				incoming("valid", base),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Failed).To(Equal(1))
			Expect(result.Pushed).To(Equal(1))
		})

		It("notifies per settled item with its merge outcome", func() {
			type note struct {
				externalID string
				outcome    memory.MergeOutcome
			}
			var notes []note
			engine = NewEngine(Config{
				Store: store,
				Notify: func(_ string, in memory.Incoming, outcome memory.MergeOutcome) {
					notes = append(notes, note{in.ExternalID, outcome})
				},
			})

			_, err := engine.PushBatch(ctx, "owner", []memory.Incoming{
				incoming("likes tea", base),
				{ExternalID: "ext-empty", UpdatedAt: base},
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = engine.PushBatch(ctx, "owner", []memory.Incoming{
				incoming("likes tea", base.Add(time.Minute)),
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(notes).To(Equal([]note{
				{"ext-likes tea", memory.OutcomeInserted},
				{"ext-likes tea", memory.OutcomeUpdated},
			}))
		})

		It("assigns a server timestamp when the device never set one", func() {
			_, err := engine.PushBatch(ctx, "owner", []memory.Incoming{
				{ExternalID: "ext-a", Content: "no clock"},
			})
			Expect(err).NotTo(HaveOccurred())

			recs, err := engine.List(ctx, "owner", memory.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].UpdatedAt).To(Equal(base.Add(24 * time.Hour)))
		})

		It("converges when two devices push the same content", func() {
			laptop := incoming("likes tea", base)
			laptop.OriginDevice = memory.Value("laptop")
			phone := incoming("likes tea", base.Add(time.Second))
			phone.OriginDevice = memory.Value("phone")

			_, err := engine.PushBatch(ctx, "owner", []memory.Incoming{laptop})
			Expect(err).NotTo(HaveOccurred())
			result, err := engine.PushBatch(ctx, "owner", []memory.Incoming{phone})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Updated).To(Equal(1))

			recs, _ := engine.List(ctx, "owner", memory.Filter{})
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].OriginDevice).To(Equal("phone"))
		})
	})

	Describe("Pull", func() {
		BeforeEach(func() {
			var items []memory.Incoming
			for _, c := range []string{"a", "b", "c", "d", "e"} {
				items = append(items, incoming(c, base))
				base = base.Add(time.Minute)
			}
			_, err := engine.PushBatch(ctx, "owner", items)
			Expect(err).NotTo(HaveOccurred())
			base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		})

		It("pages through the delta stream via the returned cursor", func() {
			page, err := engine.Pull(ctx, "owner", "laptop", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(3))
			Expect(page.HasMore).To(BeTrue())
			Expect(page.Cursor).To(Equal(page.Items[2].UpdatedAt))

			// The cursor is inclusive: the boundary record comes again.
			next, err := engine.Pull(ctx, "owner", "laptop", page.Cursor, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(next.Items).To(HaveLen(3))
			Expect(next.HasMore).To(BeFalse())
			Expect(next.Items[0].Content).To(Equal(page.Items[2].Content))
		})

		It("returns the caller's cursor unchanged on an empty page", func() {
			since := base.Add(time.Hour)
			page, err := engine.Pull(ctx, "owner", "laptop", since, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(BeEmpty())
			Expect(page.HasMore).To(BeFalse())
			Expect(page.Cursor).To(Equal(since))
		})

		It("does not report more when the page boundary lands on the last record", func() {
			page, err := engine.Pull(ctx, "owner", "", time.Time{}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(5))
			Expect(page.HasMore).To(BeFalse())
		})

		It("clamps oversized page requests", func() {
			page, err := engine.Pull(ctx, "owner", "", time.Time{}, MaxPageSize*10)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(5))
		})

		It("delivers tombstones so other devices drop the record", func() {
			deleted, err := engine.Delete(ctx, "owner", "ext-c")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			page, err := engine.Pull(ctx, "owner", "phone", base.Add(time.Hour), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(page.Items).To(HaveLen(1))
			Expect(page.Items[0].ExternalID).To(Equal("ext-c"))
			Expect(page.Items[0].DeletedAt).NotTo(BeNil())
		})

		It("records per-device cursors without affecting results", func() {
			_, err := engine.Pull(ctx, "owner", "laptop", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.Pull(ctx, "owner", "phone", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())
			_, err = engine.Pull(ctx, "owner", "", time.Time{}, 0)
			Expect(err).NotTo(HaveOccurred())

			Expect(store.SyncCursorCount("owner")).To(Equal(2))
		})
	})

	Describe("Delete", func() {
		It("is idempotent", func() {
			_, err := engine.PushBatch(ctx, "owner", []memory.Incoming{incoming("a", base)})
			Expect(err).NotTo(HaveOccurred())

			deleted, err := engine.Delete(ctx, "owner", "ext-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			deleted, err = engine.Delete(ctx, "owner", "ext-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})
	})

	Describe("Update", func() {
		It("patches by external id", func() {
			_, err := engine.PushBatch(ctx, "owner", []memory.Incoming{incoming("a", base)})
			Expect(err).NotTo(HaveOccurred())

			rec, err := engine.Update(ctx, "owner", "ext-a", memory.Patch{Pinned: memory.Value(true)})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Pinned).To(BeTrue())
		})

		It("surfaces not-found for unknown external ids", func() {
			_, err := engine.Update(ctx, "owner", "ext-missing", memory.Patch{})
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})
})
