package storage

import "time"

// User is a provisioned account, created on first verified request.
type User struct {
	ID                 string    `json:"id"`
	IdentityProviderID string    `json:"-"`
	Email              string    `json:"email,omitempty"`
	Name               string    `json:"name,omitempty"`
	AvatarURL          string    `json:"avatar_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"-"`
}

// Preferences are per-user assistant settings.
type Preferences struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"-"`
	DefaultPersona string    `json:"default_persona"`
	Theme          string    `json:"theme"`
	VoiceEnabled   bool      `json:"voice_enabled"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

// PreferencesPatch carries only the fields the caller wants changed.
type PreferencesPatch struct {
	DefaultPersona *string `json:"default_persona"`
	Theme          *string `json:"theme"`
	VoiceEnabled   *bool   `json:"voice_enabled"`
}

// DefaultPreferences returns the preferences applied before a user has ever
// saved any.
func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:         userID,
		DefaultPersona: "default",
		Theme:          "system",
		VoiceEnabled:   true,
	}
}

// Subscription plans and statuses mirrored from the billing provider.
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanTeam = "team"

	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusPastDue  = "past_due"
)

// Subscription is the billing state for one user.
type Subscription struct {
	ID               string    `json:"id,omitempty"`
	UserID           string    `json:"-"`
	ExternalID       string    `json:"-"`
	Plan             string    `json:"plan"`
	Status           string    `json:"status"`
	CreditsRemaining int       `json:"credits_remaining"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}

// DefaultSubscription is what a user has before the billing provider has
// ever reported anything.
func DefaultSubscription(userID string) Subscription {
	return Subscription{
		UserID: userID,
		Plan:   PlanFree,
		Status: StatusActive,
	}
}

// ProviderKey is an encrypted third-party API key, one per
// (user, provider).
type ProviderKey struct {
	ID              string    `json:"id,omitempty"`
	UserID          string    `json:"-"`
	Provider        string    `json:"provider"`
	EncryptedKey    string    `json:"-"`
	KeyHint         string    `json:"key_hint,omitempty"`
	ModelPreference string    `json:"model_preference,omitempty"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}
