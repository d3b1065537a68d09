// Package flags gates optional behavior behind feature toggles served by an
// Unleash instance. When no Unleash URL is configured the nop client keeps
// every flag at its default.
package flags

import (
	"fmt"
	"log/slog"
	"net/url"

	unleash "github.com/Unleash/unleash-client-go/v4"
	unleashctx "github.com/Unleash/unleash-client-go/v4/context"

	"github.com/beaconhq/beacon/pkg/logger"
)

// Flag names evaluated by the service.
const (
	// FlagMemorySync gates the push/pull sync surface per user.
	FlagMemorySync = "beacon.memory-sync"

	// FlagMCP gates the MCP mount.
	FlagMCP = "beacon.mcp"
)

// Client evaluates feature flags for a user.
type Client interface {
	// Enabled reports the flag state for the user, falling back to
	// fallback when the flag is unknown or the backend is unreachable.
	Enabled(flag, userID string, fallback bool) bool

	Close() error
}

// Nop returns a client that always answers with the fallback.
func Nop() Client { return nopClient{} }

type nopClient struct{}

func (nopClient) Enabled(_, _ string, fallback bool) bool { return fallback }
func (nopClient) Close() error                            { return nil }

// UnleashClient evaluates flags against an Unleash server.
type UnleashClient struct {
	client *unleash.Client
}

// NewUnleashClient connects to the Unleash server at rawURL.
func NewUnleashClient(rawURL, apiKey, appName string, log *slog.Logger) (*UnleashClient, error) {
	if log == nil {
		log = logger.Nop()
	}

	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid unleash url: %w", err)
	}

	client, err := unleash.NewClient(
		unleash.WithUrl(rawURL),
		unleash.WithAppName(appName),
		unleash.WithCustomHeaders(map[string][]string{"Authorization": {apiKey}}),
		unleash.WithListener(&listener{log: log}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init unleash client: %w", err)
	}

	return &UnleashClient{client: client}, nil
}

func (c *UnleashClient) Enabled(flag, userID string, fallback bool) bool {
	return c.client.IsEnabled(flag,
		unleash.WithContext(unleashctx.Context{UserId: userID}),
		unleash.WithFallback(fallback),
	)
}

func (c *UnleashClient) Close() error {
	return c.client.Close()
}

// listener routes Unleash client lifecycle events into our logs.
type listener struct {
	log *slog.Logger
}

func (l *listener) OnError(err error) {
	l.log.Warn("unleash client error", "error", err)
}

func (l *listener) OnWarning(err error) {
	l.log.Debug("unleash client warning", "error", err)
}

func (l *listener) OnReady() {
	l.log.Debug("unleash client ready")
}
