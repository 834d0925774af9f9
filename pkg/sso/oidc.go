package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/ecwu/openbook/pkg/identity"
)

// OIDCProvider implements OpenID Connect sign-in
type OIDCProvider struct {
	config       *ProviderConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider creates a new OIDC provider via issuer discovery
func NewOIDCProvider(ctx context.Context, config *ProviderConfig) (*OIDCProvider, error) {
	if config.OIDCConfig == nil {
		return nil, fmt.Errorf("OIDC config is required")
	}

	provider, err := oidc.NewProvider(ctx, config.OIDCConfig.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        config.OIDCConfig.ClientID,
		SkipIssuerCheck: config.OIDCConfig.SkipIssuerCheck,
	})

	oauth2Config := &oauth2.Config{
		ClientID:     config.OIDCConfig.ClientID,
		ClientSecret: config.OIDCConfig.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.OIDCConfig.RedirectURL,
		Scopes:       config.OIDCConfig.Scopes,
	}

	return &OIDCProvider{
		config:       config,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// GetType returns the provider type
func (p *OIDCProvider) GetType() ProviderType {
	return ProviderTypeOIDC
}

// GetName returns the provider name
func (p *OIDCProvider) GetName() ProviderName {
	return p.config.ProviderName
}

// InitiateLogin redirects to the authorization endpoint
func (p *OIDCProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) error {
	authURL := p.oauth2Config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback exchanges the authorization code, verifies the ID
// token, and maps its claims to an SSOUser.
func (p *OIDCProvider) HandleCallback(w http.ResponseWriter, r *http.Request) (*SSOUser, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	ctx := r.Context()
	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	ssoUser := mapClaims(p.config, claims)

	// The userinfo response may carry claims the ID token omits,
	// groups in particular.
	if userInfo, err := p.fetchUserInfo(ctx, oauth2Token); err == nil {
		for k, v := range userInfo {
			if str, ok := v.(string); ok {
				if _, exists := ssoUser.Attributes[k]; !exists {
					ssoUser.Attributes[k] = str
				}
			}
		}
		if email := stringClaim(userInfo, "email"); email != "" {
			ssoUser.Email = email
		}
		if attr := p.config.AttributeMapping.Groups; attr != "" {
			if groups := identity.CoerceGroupNames(userInfo[attr]); len(groups) > 0 {
				ssoUser.Groups = groups
			}
		}
	}

	if ssoUser.Username == "" && ssoUser.Email != "" {
		ssoUser.Username = ssoUser.Email
	}
	if ssoUser.ExternalID == "" {
		ssoUser.ExternalID = idToken.Subject
	}

	if ssoUser.ExternalID == "" {
		return nil, fmt.Errorf("missing user ID in OIDC token")
	}
	if ssoUser.Email == "" {
		return nil, fmt.Errorf("missing email in OIDC token")
	}

	return ssoUser, nil
}

// mapClaims maps a claims document to an SSOUser using the provider's
// attribute mapping. The groups claim is coerced to a flat string list;
// any other shape counts as no groups asserted.
func mapClaims(config *ProviderConfig, claims map[string]interface{}) *SSOUser {
	ssoUser := &SSOUser{
		ProviderID:   config.ID,
		ProviderName: config.Name,
		Attributes:   make(map[string]string),
	}
	for k, v := range claims {
		if str, ok := v.(string); ok {
			ssoUser.Attributes[k] = str
		}
	}

	mapping := config.AttributeMapping
	ssoUser.ExternalID = stringClaim(claims, mapping.UserID)
	ssoUser.Username = stringClaim(claims, mapping.Username)
	ssoUser.Email = stringClaim(claims, mapping.Email)
	ssoUser.FullName = stringClaim(claims, mapping.FullName)
	ssoUser.FirstName = stringClaim(claims, mapping.FirstName)
	ssoUser.LastName = stringClaim(claims, mapping.LastName)

	if mapping.Groups != "" {
		ssoUser.Groups = identity.CoerceGroupNames(claims[mapping.Groups])
	}
	return ssoUser
}

func stringClaim(claims map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if str, ok := claims[key].(string); ok {
		return str
	}
	return ""
}

func (p *OIDCProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Logout handles OIDC logout. RP-initiated logout is not implemented;
// clearing the local session is sufficient for our providers.
func (p *OIDCProvider) Logout(w http.ResponseWriter, r *http.Request, sessionIndex string) error {
	return nil
}

// ValidateConfig validates the OIDC configuration
func (p *OIDCProvider) ValidateConfig() error {
	if p.config.OIDCConfig == nil {
		return fmt.Errorf("OIDC config is required")
	}

	cfg := p.config.OIDCConfig
	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if cfg.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if cfg.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if cfg.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}
	if len(cfg.Scopes) == 0 {
		return fmt.Errorf("scopes are required")
	}

	hasOpenID := false
	for _, scope := range cfg.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("'openid' scope is required for OIDC")
	}

	return nil
}
