package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/beaconhq/beacon/pkg/billing"
	"github.com/beaconhq/beacon/pkg/keys"
	"github.com/beaconhq/beacon/pkg/storage"
)

// webhookSecretHeader carries the shared secret the billing provider is
// configured to send.
const webhookSecretHeader = "X-Beacon-Webhook-Secret"

type putProviderKeyRequest struct {
	Key             string `json:"key"`
	ModelPreference string `json:"model_preference"`
}

type listProviderKeysResponse struct {
	Keys []storage.ProviderKey `json:"keys"`
}

type deleteProviderKeyResponse struct {
	Deleted bool `json:"deleted"`
}

func (s *Server) handleMe(c *fiber.Ctx) error {
	return c.JSON(s.user(c))
}

func (s *Server) handleGetPreferences(c *fiber.Ctx) error {
	user := s.user(c)

	prefs, err := s.store.GetPreferences(c.Context(), user.ID)
	if err != nil {
		s.log.Error("failed to get preferences", "user_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get preferences"})
	}

	return c.JSON(prefs)
}

func (s *Server) handlePatchPreferences(c *fiber.Ctx) error {
	user := s.user(c)

	var patch storage.PreferencesPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	prefs, err := s.store.UpdatePreferences(c.Context(), user.ID, patch, nowUTC())
	if err != nil {
		s.log.Error("failed to update preferences", "user_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to update preferences"})
	}

	return c.JSON(prefs)
}

func (s *Server) handleGetSubscription(c *fiber.Ctx) error {
	user := s.user(c)

	sub, err := s.billing.Lookup(c.Context(), user.ID)
	if err != nil {
		s.log.Error("failed to get subscription", "user_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get subscription"})
	}

	return c.JSON(sub)
}

// handleBillingWebhook ingests subscription state pushed by the billing
// provider. It is authenticated by a shared secret header, not a user token.
func (s *Server) handleBillingWebhook(c *fiber.Ctx) error {
	if s.config.WebhookSecret == "" {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "webhook not configured"})
	}

	supplied := c.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.config.WebhookSecret)) != 1 {
		return c.Status(fiber.StatusForbidden).JSON(ErrorResponse{Error: "invalid webhook secret"})
	}

	var ev billing.WebhookEvent
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	sub, err := s.billing.ApplyWebhook(c.Context(), ev)
	if err != nil {
		s.log.Error("failed to apply billing webhook", "user_id", ev.UserID, "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "failed to apply webhook"})
	}

	return c.JSON(sub)
}

func (s *Server) handleListProviderKeys(c *fiber.Ctx) error {
	user := s.user(c)

	list, err := s.store.ListProviderKeys(c.Context(), user.ID)
	if err != nil {
		s.log.Error("failed to list provider keys", "user_id", user.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list provider keys"})
	}
	if list == nil {
		list = []storage.ProviderKey{}
	}

	return c.JSON(listProviderKeysResponse{Keys: list})
}

func (s *Server) handlePutProviderKey(c *fiber.Ctx) error {
	if s.sealer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "key storage not configured"})
	}

	user := s.user(c)
	provider := c.Params("provider")

	var req putProviderKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "key must not be empty"})
	}

	sealed, err := s.sealer.Seal(req.Key)
	if err != nil {
		s.log.Error("failed to seal provider key", "user_id", user.ID, "provider", provider, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to store provider key"})
	}

	key, err := s.store.UpsertProviderKey(c.Context(), storage.ProviderKey{
		UserID:          user.ID,
		Provider:        provider,
		EncryptedKey:    sealed,
		KeyHint:         keys.Hint(req.Key),
		ModelPreference: req.ModelPreference,
	}, nowUTC())
	if err != nil {
		s.log.Error("failed to upsert provider key", "user_id", user.ID, "provider", provider, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to store provider key"})
	}

	return c.JSON(key)
}

func (s *Server) handleDeleteProviderKey(c *fiber.Ctx) error {
	user := s.user(c)
	provider := c.Params("provider")

	deleted, err := s.store.DeleteProviderKey(c.Context(), user.ID, provider)
	if err != nil {
		s.log.Error("failed to delete provider key", "user_id", user.ID, "provider", provider, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to delete provider key"})
	}

	return c.JSON(deleteProviderKeyResponse{Deleted: deleted})
}
