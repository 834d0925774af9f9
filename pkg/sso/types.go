package sso

import "time"

// ProviderType represents the SSO protocol family
type ProviderType string

const (
	ProviderTypeSAML ProviderType = "saml"
	ProviderTypeOIDC ProviderType = "oidc"
)

// ProviderName identifies well-known identity providers with presets
type ProviderName string

const (
	ProviderAzureAD     ProviderName = "azuread"
	ProviderOkta        ProviderName = "okta"
	ProviderGoogle      ProviderName = "google"
	ProviderGenericSAML ProviderName = "generic_saml"
	ProviderGenericOIDC ProviderName = "generic_oidc"
)

// ProviderConfig represents a stored SSO provider configuration
type ProviderConfig struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"` // Unique name for this provider instance
	ProviderType     ProviderType `json:"provider_type"`
	ProviderName     ProviderName `json:"provider_name"`
	Enabled          bool         `json:"enabled"`
	SAMLConfig       *SAMLConfig  `json:"saml_config,omitempty"`
	OIDCConfig       *OIDCConfig  `json:"oidc_config,omitempty"`
	AttributeMapping AttributeMap `json:"attribute_mapping"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// SAMLConfig holds SAML 2.0 configuration
type SAMLConfig struct {
	EntityID          string `json:"entity_id"`
	SSOURL            string `json:"sso_url"`
	SLOUrl            string `json:"slo_url,omitempty"` // Single Logout URL
	Certificate       string `json:"certificate"`       // PEM encoded certificate
	PrivateKey        string `json:"-"`                 // Never expose private key in JSON
	SignRequests      bool   `json:"sign_requests"`
	AllowIDPInitiated bool   `json:"allow_idp_initiated"`
	NameIDFormat      string `json:"name_id_format,omitempty"`
}

// OIDCConfig holds OpenID Connect configuration
type OIDCConfig struct {
	ClientID        string   `json:"client_id"`
	ClientSecret    string   `json:"-"` // Never expose secret in JSON
	IssuerURL       string   `json:"issuer_url"` // Discovery endpoint
	RedirectURL     string   `json:"redirect_url"`
	Scopes          []string `json:"scopes"`
	SkipIssuerCheck bool     `json:"skip_issuer_check,omitempty"`
}

// AttributeMap defines how assertion attributes map to user fields
type AttributeMap struct {
	UserID    string `json:"user_id"` // Unique user identifier
	Username  string `json:"username"`
	Email     string `json:"email"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Groups    string `json:"groups,omitempty"` // Attribute containing group memberships
}

// SSOUser represents the verified user profile from an identity provider.
// Groups is the coerced, flat list of asserted group names; a profile
// with no usable groups field yields an empty list, never an error.
type SSOUser struct {
	ExternalID   string            `json:"external_id"` // Unique ID from provider
	Username     string            `json:"username"`
	Email        string            `json:"email"`
	FullName     string            `json:"full_name,omitempty"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	Groups       []string          `json:"groups,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"` // Raw attributes
	ProviderID   int64             `json:"provider_id"`
	ProviderName string            `json:"provider_name"`
}

// Session represents an authenticated SSO session
type Session struct {
	ID               string    `json:"id"`
	ProviderID       int64     `json:"provider_id"`
	UserID           int64     `json:"user_id"`
	ExternalUserID   string    `json:"external_user_id"`
	Role             string    `json:"role"` // Role at session creation, post-reconciliation
	SAMLSessionIndex string    `json:"saml_session_index,omitempty"` // For SAML logout
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
