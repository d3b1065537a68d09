package billing_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beaconhq/beacon/pkg/billing"
	"github.com/beaconhq/beacon/pkg/storage"
	"github.com/beaconhq/beacon/pkg/storage/inmemory"
)

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		service *billing.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		service = billing.NewService(inmemory.NewDriver(), nil)
	})

	Describe("Lookup", func() {
		It("returns the free/active default for unreported users", func() {
			sub, err := service.Lookup(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sub.Plan).To(Equal(storage.PlanFree))
			Expect(sub.Status).To(Equal(storage.StatusActive))
		})
	})

	Describe("ApplyWebhook", func() {
		It("records the provider-reported state", func() {
			sub, err := service.ApplyWebhook(ctx, billing.WebhookEvent{
				UserID:           "user-1",
				SubscriptionID:   "sub_abc",
				Plan:             storage.PlanPro,
				Status:           storage.StatusActive,
				CreditsRemaining: 250,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(sub.Plan).To(Equal(storage.PlanPro))
			Expect(sub.CreditsRemaining).To(Equal(250))

			looked, err := service.Lookup(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(looked.Plan).To(Equal(storage.PlanPro))
		})

		It("overwrites earlier state on repeated webhooks", func() {
			_, err := service.ApplyWebhook(ctx, billing.WebhookEvent{
				UserID: "user-1", Plan: storage.PlanPro, Status: storage.StatusActive,
			})
			Expect(err).NotTo(HaveOccurred())

			sub, err := service.ApplyWebhook(ctx, billing.WebhookEvent{
				UserID: "user-1", Plan: storage.PlanPro, Status: storage.StatusPastDue,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(sub.Status).To(Equal(storage.StatusPastDue))
		})

		It("defaults missing plan and status", func() {
			sub, err := service.ApplyWebhook(ctx, billing.WebhookEvent{UserID: "user-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(sub.Plan).To(Equal(storage.PlanFree))
			Expect(sub.Status).To(Equal(storage.StatusActive))
		})

		It("rejects events without a user id", func() {
			_, err := service.ApplyWebhook(ctx, billing.WebhookEvent{Plan: storage.PlanPro})
			Expect(err).To(HaveOccurred())
		})
	})
})
