package inmemory

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
)

var _ = Describe("Driver", func() {
	var (
		ctx    context.Context
		driver *Driver
		base   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = NewDriver()
		base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	incoming := func(content string, at time.Time) memory.Incoming {
		return memory.Incoming{
			ExternalID: "ext-" + content,
			Category:   "preference",
			Content:    content,
			UpdatedAt:  at,
		}
	}

	Describe("MergeMemory", func() {
		It("inserts a record for unseen content", func() {
			outcome, err := driver.MergeMemory(ctx, "owner", incoming("likes tea", base))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.OutcomeInserted))

			recs, err := driver.LiveMemories(ctx, "owner", memory.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].Content).To(Equal("likes tea"))
			Expect(recs[0].ContentHash).To(Equal(memory.Fingerprint("likes tea")))
			Expect(recs[0].ID).NotTo(BeEmpty())
		})

		It("merges a strictly newer version of the same content", func() {
			_, err := driver.MergeMemory(ctx, "owner", incoming("likes tea", base))
			Expect(err).NotTo(HaveOccurred())

			newer := incoming("likes tea", base.Add(time.Minute))
			newer.Pinned = memory.Value(true)

			outcome, err := driver.MergeMemory(ctx, "owner", newer)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.OutcomeUpdated))

			recs, _ := driver.LiveMemories(ctx, "owner", memory.Filter{})
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].Pinned).To(BeTrue())
			Expect(recs[0].UpdatedAt).To(Equal(base.Add(time.Minute)))
		})

		It("treats an equal timestamp as a duplicate but still raises the access count", func() {
			first := incoming("likes tea", base)
			first.AccessCount = memory.Value(3)
			_, err := driver.MergeMemory(ctx, "owner", first)
			Expect(err).NotTo(HaveOccurred())

			replay := incoming("likes tea", base)
			replay.AccessCount = memory.Value(7)

			outcome, err := driver.MergeMemory(ctx, "owner", replay)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.OutcomeDuplicate))

			recs, _ := driver.LiveMemories(ctx, "owner", memory.Filter{})
			Expect(recs[0].AccessCount).To(Equal(7))
		})

		It("keeps owners isolated", func() {
			_, err := driver.MergeMemory(ctx, "alice", incoming("likes tea", base))
			Expect(err).NotTo(HaveOccurred())

			outcome, err := driver.MergeMemory(ctx, "bob", incoming("likes tea", base))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.OutcomeInserted))
		})
	})

	Describe("MemoriesSince", func() {
		BeforeEach(func() {
			for i, content := range []string{"a", "b", "c"} {
				_, err := driver.MergeMemory(ctx, "owner", incoming(content, base.Add(time.Duration(i)*time.Minute)))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("is inclusive of the since boundary", func() {
			recs, err := driver.MemoriesSince(ctx, "owner", base.Add(time.Minute), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].Content).To(Equal("b"))
		})

		It("orders ascending by updated-at and honors the limit", func() {
			recs, err := driver.MemoriesSince(ctx, "owner", time.Time{}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(2))
			Expect(recs[0].Content).To(Equal("a"))
			Expect(recs[1].Content).To(Equal("b"))
		})

		It("includes tombstoned records so deletions propagate", func() {
			deleted, err := driver.SoftDeleteMemory(ctx, "owner", "ext-b", base.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			recs, err := driver.MemoriesSince(ctx, "owner", base.Add(time.Hour), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].DeletedAt).NotTo(BeNil())
		})
	})

	Describe("SoftDeleteMemory", func() {
		It("is a no-op when no live record matches", func() {
			deleted, err := driver.SoftDeleteMemory(ctx, "owner", "ext-missing", base)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})

		It("does not delete the same record twice", func() {
			_, err := driver.MergeMemory(ctx, "owner", incoming("a", base))
			Expect(err).NotTo(HaveOccurred())

			deleted, err := driver.SoftDeleteMemory(ctx, "owner", "ext-a", base.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			deleted, err = driver.SoftDeleteMemory(ctx, "owner", "ext-a", base.Add(2*time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})
	})

	Describe("PatchMemory", func() {
		It("updates only supplied fields and refreshes updated-at", func() {
			_, err := driver.MergeMemory(ctx, "owner", incoming("a", base))
			Expect(err).NotTo(HaveOccurred())

			rec, err := driver.PatchMemory(ctx, "owner", "ext-a", memory.Patch{Pinned: memory.Value(true)}, base.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Pinned).To(BeTrue())
			Expect(rec.Content).To(Equal("a"))
			Expect(rec.UpdatedAt).To(Equal(base.Add(time.Minute)))
		})

		It("returns a not-found error for an unknown external id", func() {
			_, err := driver.PatchMemory(ctx, "owner", "ext-missing", memory.Patch{}, base)
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("LiveMemories", func() {
		It("filters by category and excludes tombstones", func() {
			fact := incoming("water boils", base)
			fact.Category = "fact"
			_, err := driver.MergeMemory(ctx, "owner", fact)
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.MergeMemory(ctx, "owner", incoming("likes tea", base.Add(time.Minute)))
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.SoftDeleteMemory(ctx, "owner", "ext-likes tea", base.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())

			recs, err := driver.LiveMemories(ctx, "owner", memory.Filter{Category: "fact"})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
			Expect(recs[0].Content).To(Equal("water boils"))

			recs, err = driver.LiveMemories(ctx, "owner", memory.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(recs).To(HaveLen(1))
		})
	})

	Describe("TouchSyncCursor", func() {
		It("upserts one row per (owner, device)", func() {
			Expect(driver.TouchSyncCursor(ctx, "owner", "laptop", base)).To(Succeed())
			Expect(driver.TouchSyncCursor(ctx, "owner", "laptop", base.Add(time.Minute))).To(Succeed())
			Expect(driver.TouchSyncCursor(ctx, "owner", "phone", base)).To(Succeed())

			Expect(driver.SyncCursorCount("owner")).To(Equal(2))
		})
	})

	Describe("FindOrCreateUser", func() {
		It("provisions once per identity subject", func() {
			ident := auth.Identity{Subject: "auth0|abc", Email: "a@example.com"}

			first, err := driver.FindOrCreateUser(ctx, ident)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.ID).NotTo(BeEmpty())

			second, err := driver.FindOrCreateUser(ctx, ident)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))

			got, err := driver.GetUser(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Email).To(Equal("a@example.com"))
		})
	})

	Describe("Preferences", func() {
		It("returns defaults before any save", func() {
			prefs, err := driver.GetPreferences(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.DefaultPersona).To(Equal("default"))
			Expect(prefs.Theme).To(Equal("system"))
			Expect(prefs.VoiceEnabled).To(BeTrue())
		})

		It("applies only the supplied fields", func() {
			theme := "dark"
			prefs, err := driver.UpdatePreferences(ctx, "user-1", storage.PreferencesPatch{Theme: &theme}, base)
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.Theme).To(Equal("dark"))
			Expect(prefs.DefaultPersona).To(Equal("default"))

			got, err := driver.GetPreferences(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Theme).To(Equal("dark"))
		})
	})

	Describe("Subscriptions", func() {
		It("defaults to free and active", func() {
			sub, err := driver.GetSubscription(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sub.Plan).To(Equal(storage.PlanFree))
			Expect(sub.Status).To(Equal(storage.StatusActive))
		})

		It("upserts billing state keyed by user", func() {
			_, err := driver.UpsertSubscription(ctx, storage.Subscription{UserID: "user-1", Plan: storage.PlanPro, Status: storage.StatusActive}, base)
			Expect(err).NotTo(HaveOccurred())

			updated, err := driver.UpsertSubscription(ctx, storage.Subscription{UserID: "user-1", Plan: storage.PlanPro, Status: storage.StatusPastDue}, base.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(storage.StatusPastDue))

			got, err := driver.GetSubscription(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Plan).To(Equal(storage.PlanPro))
			Expect(got.Status).To(Equal(storage.StatusPastDue))
		})
	})

	Describe("ProviderKeys", func() {
		It("keeps one key per (user, provider)", func() {
			_, err := driver.UpsertProviderKey(ctx, storage.ProviderKey{UserID: "user-1", Provider: "openai", EncryptedKey: "v1"}, base)
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.UpsertProviderKey(ctx, storage.ProviderKey{UserID: "user-1", Provider: "openai", EncryptedKey: "v2"}, base.Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.UpsertProviderKey(ctx, storage.ProviderKey{UserID: "user-1", Provider: "anthropic", EncryptedKey: "v1"}, base)
			Expect(err).NotTo(HaveOccurred())

			keys, err := driver.ListProviderKeys(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(HaveLen(2))
			Expect(keys[0].Provider).To(Equal("anthropic"))
			Expect(keys[1].EncryptedKey).To(Equal("v2"))
		})

		It("reports whether a delete removed anything", func() {
			removed, err := driver.DeleteProviderKey(ctx, "user-1", "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeFalse())

			_, err = driver.UpsertProviderKey(ctx, storage.ProviderKey{UserID: "user-1", Provider: "openai"}, base)
			Expect(err).NotTo(HaveOccurred())

			removed, err = driver.DeleteProviderKey(ctx, "user-1", "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())
		})
	})
})
