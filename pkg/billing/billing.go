// Package billing mirrors subscription state from the external billing
// provider. The provider is the source of truth; this package only records
// what its webhooks report and answers lookups with a free-plan default.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/storage"
)

// WebhookEvent is the payload the billing provider posts on subscription
// changes.
type WebhookEvent struct {
	UserID           string `json:"user_id"`
	SubscriptionID   string `json:"subscription_id"`
	Plan             string `json:"plan"`
	Status           string `json:"status"`
	CreditsRemaining int    `json:"credits_remaining"`
}

// Service answers subscription lookups and applies provider webhooks.
type Service struct {
	store storage.SubscriptionStore
	log   *slog.Logger
}

// NewService creates a billing service over the subscription store.
func NewService(store storage.SubscriptionStore, log *slog.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}

	return &Service{store: store, log: log}
}

// Lookup returns the user's subscription; users the provider has never
// reported get the free/active default.
func (s *Service) Lookup(ctx context.Context, userID string) (storage.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, userID)
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("failed to look up subscription: %w", err)
	}

	return sub, nil
}

// ApplyWebhook records the provider-reported state for the user.
func (s *Service) ApplyWebhook(ctx context.Context, ev WebhookEvent) (storage.Subscription, error) {
	if ev.UserID == "" {
		return storage.Subscription{}, fmt.Errorf("webhook event missing user_id")
	}

	plan := ev.Plan
	if plan == "" {
		plan = storage.PlanFree
	}
	status := ev.Status
	if status == "" {
		status = storage.StatusActive
	}

	sub, err := s.store.UpsertSubscription(ctx, storage.Subscription{
		UserID:           ev.UserID,
		ExternalID:       ev.SubscriptionID,
		Plan:             plan,
		Status:           status,
		CreditsRemaining: ev.CreditsRemaining,
	}, time.Now().UTC())
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("failed to apply billing webhook: %w", err)
	}

	s.log.Info("applied billing webhook",
		"user_id", ev.UserID, "plan", sub.Plan, "status", sub.Status)

	return sub, nil
}
