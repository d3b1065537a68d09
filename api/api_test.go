package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beaconhq/beacon/pkg/auth"
	"github.com/beaconhq/beacon/pkg/eventstream"
	"github.com/beaconhq/beacon/pkg/keys"
	"github.com/beaconhq/beacon/pkg/memory"
	"github.com/beaconhq/beacon/pkg/storage"
	"github.com/beaconhq/beacon/pkg/storage/inmemory"
	"github.com/beaconhq/beacon/pkg/sync"
	"github.com/beaconhq/beacon/pkg/worker"
)

const testToken = "valid-token"

// staticVerifier accepts exactly one token and maps it to a fixed identity.
type staticVerifier struct {
	ident auth.Identity
}

func (v staticVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	if token != testToken {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return v.ident, nil
}

// deniedFlags disables every flag regardless of fallback.
type deniedFlags struct{}

func (deniedFlags) Enabled(_, _ string, _ bool) bool { return false }
func (deniedFlags) Close() error                     { return nil }

// capturePublisher records events delivered through the worker pool.
type capturePublisher struct {
	mu     stdsync.Mutex
	events []*eventstream.MemoryChangedEvent
}

func (p *capturePublisher) PublishMemoryChanged(_ context.Context, ev *eventstream.MemoryChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) published() []*eventstream.MemoryChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.MemoryChangedEvent(nil), p.events...)
}

var _ = Describe("Server", func() {
	var (
		server *Server
		store  *inmemory.Driver
	)

	newTestServer := func(mutate func(*Config, *Deps)) *Server {
		store = inmemory.NewDriver()
		config := Config{ListenAddr: ":0", WebhookSecret: "hook-secret"}
		deps := Deps{
			Store:    store,
			Engine:   sync.NewEngine(sync.Config{Store: store}),
			Verifier: staticVerifier{ident: auth.Identity{
				Subject: "subject-1",
				Email:   "ada@example.com",
				Name:    "Ada",
			}},
		}
		if mutate != nil {
			mutate(&config, &deps)
		}

		s, err := NewServer(config, deps)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	do := func(method, target string, body any, authed bool) *http.Response {
		var buf io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			buf = bytes.NewReader(raw)
		}

		req := httptest.NewRequest(method, target, buf)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if authed {
			req.Header.Set("Authorization", "Bearer "+testToken)
		}

		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, out any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}

	pushItems := func(items ...memory.Incoming) memory.PushResult {
		resp := do(http.MethodPost, "/v1/memories/push",
			pushMemoriesRequest{DeviceID: "device-a", Memories: items}, true)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var result memory.PushResult
		decode(resp, &result)
		return result
	}

	item := func(content string, at time.Time) memory.Incoming {
		return memory.Incoming{
			ExternalID: "ext-" + content,
			Category:   "preference",
			Content:    content,
			UpdatedAt:  at,
		}
	}

	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		server = newTestServer(nil)
	})

	Describe("healthz", func() {
		It("responds without authentication", func() {
			resp := do(http.MethodGet, "/healthz", nil, false)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("authentication", func() {
		It("rejects requests without a bearer token", func() {
			resp := do(http.MethodGet, "/v1/me", nil, false)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("rejects requests with an invalid token", func() {
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			req.Header.Set("Authorization", "Bearer nope")
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("provisions the user on first contact and reuses it after", func() {
			resp := do(http.MethodGet, "/v1/me", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var first storage.User
			decode(resp, &first)
			Expect(first.ID).NotTo(BeEmpty())
			Expect(first.Email).To(Equal("ada@example.com"))

			resp = do(http.MethodGet, "/v1/me", nil, true)
			var second storage.User
			decode(resp, &second)
			Expect(second.ID).To(Equal(first.ID))
		})
	})

	Describe("pushing memories", func() {
		It("reports per-outcome counts", func() {
			result := pushItems(item("likes tea", base), item("hates jazz", base))
			Expect(result.Pushed).To(Equal(2))

			result = pushItems(item("likes tea", base.Add(time.Minute)), item("hates jazz", base))
			Expect(result.Updated).To(Equal(1))
			Expect(result.Duplicates).To(Equal(1))
		})

		It("rejects an empty batch", func() {
			resp := do(http.MethodPost, "/v1/memories/push",
				pushMemoriesRequest{Memories: nil}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/memories/push",
				bytes.NewReader([]byte("{not json")))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+testToken)
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("responds 403 when the sync flag is off for the user", func() {
			server = newTestServer(func(_ *Config, deps *Deps) {
				deps.Flags = deniedFlags{}
			})
			resp := do(http.MethodPost, "/v1/memories/push",
				pushMemoriesRequest{Memories: []memory.Incoming{item("x", base)}}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})
	})

	Describe("syncing memories", func() {
		It("delivers pushed memories and pages with an inclusive cursor", func() {
			pushItems(item("one", base), item("two", base.Add(time.Minute)), item("three", base.Add(2*time.Minute)))

			resp := do(http.MethodGet, "/v1/memories/sync?page_size=2&device_id=device-b", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var page syncMemoriesResponse
			decode(resp, &page)
			Expect(page.Memories).To(HaveLen(2))
			Expect(page.HasMore).To(BeTrue())
			Expect(page.Cursor).To(Equal(base.Add(time.Minute)))

			target := fmt.Sprintf("/v1/memories/sync?since=%s", page.Cursor.Format(time.RFC3339Nano))
			resp = do(http.MethodGet, target, nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var rest syncMemoriesResponse
			decode(resp, &rest)
			// The boundary record is re-delivered; clients converge by
			// re-merging it.
			Expect(rest.Memories).To(HaveLen(2))
			Expect(rest.Memories[0].Content).To(Equal("two"))
			Expect(rest.HasMore).To(BeFalse())
		})

		It("rejects an unparseable since value", func() {
			resp := do(http.MethodGet, "/v1/memories/sync?since=yesterday", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a page size beyond the cap", func() {
			resp := do(http.MethodGet, "/v1/memories/sync?page_size=100000", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("listing memories", func() {
		It("filters live memories by category", func() {
			pushItems(item("alpha", base))
			fact := item("beta", base)
			fact.Category = "fact"
			pushItems(fact)

			resp := do(http.MethodGet, "/v1/memories?category=fact", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var list listMemoriesResponse
			decode(resp, &list)
			Expect(list.Count).To(Equal(1))
			Expect(list.Memories[0].Content).To(Equal("beta"))
		})
	})

	Describe("deleting memories", func() {
		It("tombstones once and reports no-op afterwards", func() {
			pushItems(item("gone-soon", base))

			resp := do(http.MethodDelete, "/v1/memories/ext-gone-soon", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var del deleteMemoryResponse
			decode(resp, &del)
			Expect(del.Deleted).To(BeTrue())

			resp = do(http.MethodDelete, "/v1/memories/ext-gone-soon", nil, true)
			decode(resp, &del)
			Expect(del.Deleted).To(BeFalse())
		})

		It("emits a change event through the worker pool", func() {
			pub := &capturePublisher{}
			pool, err := worker.NewPool(worker.Config{Publisher: pub})
			Expect(err).NotTo(HaveOccurred())
			server = newTestServer(func(_ *Config, deps *Deps) {
				deps.Events = pool
			})

			pushItems(item("observable", base))
			resp := do(http.MethodDelete, "/v1/memories/ext-observable", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			pool.Close()
			events := pub.published()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Change).To(Equal(eventstream.ChangeDeleted))
			Expect(events[0].ExternalID).To(Equal("ext-observable"))
		})
	})

	Describe("patching memories", func() {
		It("updates the pinned flag", func() {
			pushItems(item("pin-me", base))

			resp := do(http.MethodPatch, "/v1/memories/ext-pin-me",
				memory.Patch{Pinned: memory.Value(true)}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var rec memory.Record
			decode(resp, &rec)
			Expect(rec.Pinned).To(BeTrue())
		})

		It("responds 404 for an unknown external id", func() {
			resp := do(http.MethodPatch, "/v1/memories/ext-missing",
				memory.Patch{Pinned: memory.Value(true)}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("preferences", func() {
		It("returns defaults before any save, then the patched values", func() {
			resp := do(http.MethodGet, "/v1/preferences", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var prefs storage.Preferences
			decode(resp, &prefs)
			Expect(prefs.Theme).To(Equal("system"))

			theme := "dark"
			resp = do(http.MethodPatch, "/v1/preferences",
				storage.PreferencesPatch{Theme: &theme}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			decode(resp, &prefs)
			Expect(prefs.Theme).To(Equal("dark"))
			Expect(prefs.DefaultPersona).To(Equal("default"))
		})
	})

	Describe("billing", func() {
		It("returns the free default subscription", func() {
			resp := do(http.MethodGet, "/v1/subscription", nil, true)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var sub storage.Subscription
			decode(resp, &sub)
			Expect(sub.Plan).To(Equal(storage.PlanFree))
			Expect(sub.Status).To(Equal(storage.StatusActive))
		})

		It("rejects webhooks without the shared secret", func() {
			resp := do(http.MethodPost, "/v1/billing/webhook",
				map[string]string{"user_id": "u1"}, false)
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("applies a webhook carrying the shared secret", func() {
			var me storage.User
			decode(do(http.MethodGet, "/v1/me", nil, true), &me)

			body, err := json.Marshal(map[string]any{
				"user_id":           me.ID,
				"plan":              storage.PlanPro,
				"status":            storage.StatusActive,
				"credits_remaining": 500,
			})
			Expect(err).NotTo(HaveOccurred())

			req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(webhookSecretHeader, "hook-secret")
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp = do(http.MethodGet, "/v1/subscription", nil, true)
			var sub storage.Subscription
			decode(resp, &sub)
			Expect(sub.Plan).To(Equal(storage.PlanPro))
			Expect(sub.CreditsRemaining).To(Equal(500))
		})
	})

	Describe("provider keys", func() {
		It("responds 503 when no sealer is configured", func() {
			resp := do(http.MethodPut, "/v1/provider-keys/anthropic",
				putProviderKeyRequest{Key: "sk-secret"}, true)
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})

		Context("with a sealer", func() {
			BeforeEach(func() {
				sealer, err := keys.NewSealer(bytes.Repeat([]byte{7}, 32))
				Expect(err).NotTo(HaveOccurred())
				server = newTestServer(func(_ *Config, deps *Deps) {
					deps.Sealer = sealer
				})
			})

			It("stores, lists, and deletes a key without exposing it", func() {
				resp := do(http.MethodPut, "/v1/provider-keys/anthropic",
					putProviderKeyRequest{Key: "sk-secret-1234", ModelPreference: "fast"}, true)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var key storage.ProviderKey
				decode(resp, &key)
				Expect(key.KeyHint).To(Equal("1234"))
				Expect(key.EncryptedKey).To(BeEmpty()) // never serialized

				resp = do(http.MethodGet, "/v1/provider-keys", nil, true)
				var list listProviderKeysResponse
				decode(resp, &list)
				Expect(list.Keys).To(HaveLen(1))
				Expect(list.Keys[0].Provider).To(Equal("anthropic"))
				Expect(list.Keys[0].ModelPreference).To(Equal("fast"))

				resp = do(http.MethodDelete, "/v1/provider-keys/anthropic", nil, true)
				var del deleteProviderKeyResponse
				decode(resp, &del)
				Expect(del.Deleted).To(BeTrue())
			})

			It("rejects an empty key", func() {
				resp := do(http.MethodPut, "/v1/provider-keys/anthropic",
					putProviderKeyRequest{}, true)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})
})

var _ = Describe("MCP mount", func() {
	var seenOwner string

	mounted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOwner, _ = auth.OwnerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	newServer := func(mutate func(*Config, *Deps)) *Server {
		store := inmemory.NewDriver()
		config := Config{ListenAddr: ":0"}
		deps := Deps{
			Store:    store,
			Engine:   sync.NewEngine(sync.Config{Store: store}),
			Verifier: staticVerifier{ident: auth.Identity{Subject: "subject-1"}},
		}
		if mutate != nil {
			mutate(&config, &deps)
		}

		s, err := NewServer(config, deps)
		Expect(err).NotTo(HaveOccurred())
		s.MountMCP(mounted)
		return s
	}

	request := func(server *Server, authed bool) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		if authed {
			req.Header.Set("Authorization", "Bearer "+testToken)
		}
		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		seenOwner = ""
	})

	It("passes the owner to the mounted handler", func() {
		resp := request(newServer(nil), true)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(seenOwner).NotTo(BeEmpty())
	})

	It("rejects requests without a token", func() {
		resp := request(newServer(nil), false)
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(seenOwner).To(BeEmpty())
	})

	It("responds 403 when the mcp flag is off for the user", func() {
		server := newServer(func(_ *Config, deps *Deps) {
			deps.Flags = deniedFlags{}
		})
		resp := request(server, true)
		Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		Expect(seenOwner).To(BeEmpty())
	})
})
