// Package api exposes the beacon backend over HTTP: memory push/pull for
// device sync, account and preference endpoints, encrypted provider key
// storage, and the billing webhook.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/billing"
	"github.com/beaconhq/beacon/pkg/eventstream"
	"github.com/beaconhq/beacon/pkg/flags"
	"github.com/beaconhq/beacon/pkg/keys"
	"github.com/beaconhq/beacon/pkg/logger"
	"github.com/beaconhq/beacon/pkg/storage"
	"github.com/beaconhq/beacon/pkg/sync"
	"github.com/beaconhq/beacon/pkg/worker"
)

// userLocal is the fiber locals key holding the authenticated user.
const userLocal = "beacon.user"

// ErrorResponse is the JSON body returned for every error status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Deps are the collaborators the server routes requests to. Store, Engine,
// and Verifier are required; the rest degrade gracefully when absent.
type Deps struct {
	Store    storage.Driver
	Engine   *sync.Engine
	Verifier auth.Verifier

	// Billing defaults to a service over Store.
	Billing *billing.Service

	// Sealer encrypts provider API keys. When nil the provider-key
	// endpoints respond 503.
	Sealer *keys.Sealer

	// Flags defaults to a nop client that honors fallbacks.
	Flags flags.Client

	// Events, when set, receives a memory-changed event for every
	// mutation that lands.
	Events *worker.Pool

	// Logger defaults to a nop logger.
	Logger *slog.Logger
}

// Server is the HTTP API server for the beacon backend.
type Server struct {
	config   Config
	store    storage.Driver
	engine   *sync.Engine
	verifier auth.Verifier
	billing  *billing.Service
	sealer   *keys.Sealer
	flags    flags.Client
	events   *worker.Pool
	log      *slog.Logger
	app      *fiber.App
}

// NewServer creates the API server and registers its routes. The store is
// injected so it can be shared with other components.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("verifier is required")
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	flagClient := deps.Flags
	if flagClient == nil {
		flagClient = flags.Nop()
	}

	billingSvc := deps.Billing
	if billingSvc == nil {
		billingSvc = billing.NewService(deps.Store, log)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		store:    deps.Store,
		engine:   deps.Engine,
		verifier: deps.Verifier,
		billing:  billingSvc,
		sealer:   deps.Sealer,
		flags:    flagClient,
		events:   deps.Events,
		log:      log,
		app:      app,
	}

	app.Get("/healthz", s.handleHealth)
	app.Post("/v1/billing/webhook", s.handleBillingWebhook)

	v1 := app.Group("/v1", s.requireAuth)
	v1.Post("/memories/push", s.handlePushMemories)
	v1.Get("/memories/sync", s.handleSyncMemories)
	v1.Get("/memories", s.handleListMemories)
	v1.Delete("/memories/:external_id", s.handleDeleteMemory)
	v1.Patch("/memories/:external_id", s.handlePatchMemory)
	v1.Get("/me", s.handleMe)
	v1.Get("/preferences", s.handleGetPreferences)
	v1.Patch("/preferences", s.handlePatchPreferences)
	v1.Get("/subscription", s.handleGetSubscription)
	v1.Get("/provider-keys", s.handleListProviderKeys)
	v1.Put("/provider-keys/:provider", s.handlePutProviderKey)
	v1.Delete("/provider-keys/:provider", s.handleDeleteProviderKey)

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.log.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// MountMCP mounts the MCP handler under /mcp with the same bearer
// verification as the REST routes. The wrapper runs at the net/http layer so
// the tool handlers see the owner on their request context.
func (s *Server) MountMCP(h http.Handler) {
	wrapped := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ExtractBearer(r.Header.Get("Authorization"))
		if !ok {
			writeHTTPError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		ident, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			writeHTTPError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := s.store.FindOrCreateUser(r.Context(), ident)
		if err != nil {
			s.log.Error("failed to provision user", "subject", ident.Subject, "error", err)
			writeHTTPError(w, http.StatusInternalServerError, "failed to resolve user")
			return
		}

		if !s.flags.Enabled(flags.FlagMCP, user.ID, true) {
			writeHTTPError(w, http.StatusForbidden, "mcp is disabled")
			return
		}

		h.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), user.ID)))
	})

	s.app.All("/mcp", adaptor.HTTPHandler(wrapped))
	s.app.All("/mcp/*", adaptor.HTTPHandler(wrapped))
}

func writeHTTPError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

// requireAuth verifies the bearer token, provisions the user on first
// contact, and stashes the user for handlers downstream.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token, ok := auth.ExtractBearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "missing bearer token"})
	}

	ident, err := s.verifier.Verify(c.Context(), token)
	if err != nil {
		s.log.Debug("rejected token", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "invalid token"})
	}

	user, err := s.store.FindOrCreateUser(c.Context(), ident)
	if err != nil {
		s.log.Error("failed to provision user", "subject", ident.Subject, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to resolve user"})
	}

	c.Locals(userLocal, user)
	c.SetUserContext(auth.WithOwner(c.UserContext(), user.ID))
	return c.Next()
}

// user returns the authenticated user stored by requireAuth.
func (s *Server) user(c *fiber.Ctx) storage.User {
	user, _ := c.Locals(userLocal).(storage.User)
	return user
}

// emit enqueues a memory-changed event. Delivery is best-effort and never
// blocks the request.
func (s *Server) emit(ev *eventstream.MemoryChangedEvent) {
	if s.events == nil || ev == nil {
		return
	}
	s.events.Enqueue(worker.Job{Event: ev})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
