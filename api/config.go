package api

// Config holds the HTTP API server configuration.
type Config struct {
	// ListenAddr is the address for the API server to listen on,
	// e.g. ":8080".
	ListenAddr string

	// WebhookSecret guards the billing webhook endpoint. When empty the
	// endpoint rejects every request.
	WebhookSecret string
}
