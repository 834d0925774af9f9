package sso

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ecwu/openbook/pkg/audit"
	"github.com/ecwu/openbook/pkg/auth"
	"github.com/ecwu/openbook/pkg/identity"
	"github.com/ecwu/openbook/pkg/middleware"
	"github.com/ecwu/openbook/pkg/observability"
)

// SessionCookieName is the cookie carrying the SSO session id
const SessionCookieName = "openbook_session"

// Handlers handles SSO-related HTTP requests
type Handlers struct {
	storage    *Storage
	factory    *ProviderFactory
	users      *identity.Store
	reconciler *identity.Reconciler
	sessions   *SessionManager
	audit      *audit.Recorder
	logger     *observability.Logger
	metrics    *observability.Metrics
	baseURL    string
}

// NewHandlers creates the SSO handler set over a shared database handle
func NewHandlers(db *sql.DB, baseURL string, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	store := identity.NewStore(db)
	return &Handlers{
		storage:    NewStorage(db),
		factory:    NewProviderFactory(baseURL),
		users:      store,
		reconciler: identity.NewReconciler(store, logger, metrics),
		sessions:   NewSessionManager(db),
		audit:      audit.NewRecorder(db, logger),
		logger:     logger,
		metrics:    metrics,
		baseURL:    baseURL,
	}
}

// Sessions exposes the session manager for middleware and cleanup jobs
func (h *Handlers) Sessions() *SessionManager {
	return h.sessions
}

// RegisterRoutes registers SSO routes. The admin-only provider
// management routes get adminOnly applied; pass nil to skip (tests).
func (h *Handlers) RegisterRoutes(router *mux.Router, adminOnly mux.MiddlewareFunc) {
	admin := router.PathPrefix("/sso/providers").Subrouter()
	if adminOnly != nil {
		admin.Use(adminOnly)
	}
	admin.HandleFunc("", h.listProviders).Methods("GET")
	admin.HandleFunc("", h.createProvider).Methods("POST")
	admin.HandleFunc("/{name}", h.getProvider).Methods("GET")
	admin.HandleFunc("/{name}", h.updateProvider).Methods("PUT")
	admin.HandleFunc("/{name}", h.deleteProvider).Methods("DELETE")

	router.HandleFunc("/auth/sso/{provider}/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/sso/{provider}/callback", h.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/auth/sso/logout", h.logout).Methods("GET", "POST")

	// SAML metadata endpoint
	router.HandleFunc("/sso/metadata/{provider}", h.getSAMLMetadata).Methods("GET")
}

// listProviders handles GET /sso/providers
func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"

	providers, err := h.storage.ListProviders(r.Context(), enabledOnly)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, p := range providers {
		sanitizeProvider(p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(providers)
}

// createProvider handles POST /sso/providers
func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	var config ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if config.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if config.ProviderType == "" {
		http.Error(w, "provider_type is required", http.StatusBadRequest)
		return
	}

	exists, err := h.storage.ProviderExists(r.Context(), config.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if exists {
		http.Error(w, "provider with this name already exists", http.StatusConflict)
		return
	}

	provider, err := h.factory.CreateProvider(r.Context(), &config)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid provider config: %v", err), http.StatusBadRequest)
		return
	}
	if err := provider.ValidateConfig(); err != nil {
		http.Error(w, fmt.Sprintf("invalid provider config: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.storage.CreateProvider(r.Context(), &config); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.recordAdminAction(r, audit.ActionProviderCreated, "provider:"+config.Name)

	sanitizeProvider(&config)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(config)
}

// getProvider handles GET /sso/providers/{name}
func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	config, err := h.storage.GetProvider(r.Context(), name)
	if err == sql.ErrNoRows {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sanitizeProvider(config)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// updateProvider handles PUT /sso/providers/{name}
func (h *Handlers) updateProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	existing, err := h.storage.GetProvider(r.Context(), name)
	if err == sql.ErrNoRows {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var config ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	// Keep id and name from the existing record
	config.ID = existing.ID
	config.Name = existing.Name

	provider, err := h.factory.CreateProvider(r.Context(), &config)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid provider config: %v", err), http.StatusBadRequest)
		return
	}
	if err := provider.ValidateConfig(); err != nil {
		http.Error(w, fmt.Sprintf("invalid provider config: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.storage.UpdateProvider(r.Context(), &config); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.recordAdminAction(r, audit.ActionProviderUpdated, "provider:"+config.Name)

	sanitizeProvider(&config)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(config)
}

// deleteProvider handles DELETE /sso/providers/{name}
func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.storage.DeleteProvider(r.Context(), name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.recordAdminAction(r, audit.ActionProviderDeleted, "provider:"+name)
	w.WriteHeader(http.StatusNoContent)
}

// initiateLogin handles GET /auth/sso/{provider}/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	config, err := h.storage.GetProvider(r.Context(), providerName)
	if err == sql.ErrNoRows {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !config.Enabled {
		http.Error(w, "provider is disabled", http.StatusForbidden)
		return
	}

	provider, err := h.factory.CreateProvider(r.Context(), config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	setTempCookie(w, "sso_state", state)
	setTempCookie(w, "sso_provider", providerName)
	if returnURL := r.URL.Query().Get("return_url"); returnURL != "" {
		setTempCookie(w, "sso_return_url", returnURL)
	}

	if err := provider.InitiateLogin(w, r, state); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleCallback handles GET/POST /auth/sso/{provider}/callback.
//
// After the provider verifies the assertion, the local user is upserted
// by email and the reconciler runs promotion plus membership sync.
// Reconciler errors are logged but never fail the sign-in; the session
// is created with whatever role the user holds afterwards.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]
	ctx := r.Context()

	stateCookie, err := r.Cookie("sso_state")
	if err != nil {
		http.Error(w, "missing state cookie", http.StatusBadRequest)
		return
	}
	stateParam := r.URL.Query().Get("state")
	if r.Method == "POST" {
		stateParam = r.FormValue("RelayState") // SAML uses RelayState
	}
	if stateParam != stateCookie.Value {
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}

	config, err := h.storage.GetProvider(ctx, providerName)
	if err == sql.ErrNoRows {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	provider, err := h.factory.CreateProvider(ctx, config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ssoUser, err := provider.HandleCallback(w, r)
	if err != nil {
		h.logger.WithField("provider", providerName).WithError(err).
			Warn("SSO callback verification failed")
		h.observeSignIn(providerName, "failure")
		h.audit.Record(ctx, &audit.Event{
			Action:    audit.ActionSignInFailed,
			Subject:   "provider:" + providerName,
			Detail:    err.Error(),
			IPAddress: middleware.ClientIP(r),
		})
		http.Error(w, fmt.Sprintf("authentication failed: %v", err), http.StatusUnauthorized)
		return
	}

	user, err := h.upsertUser(r, ssoUser)
	if err != nil {
		h.logger.WithField("provider", providerName).WithError(err).
			Error("failed to upsert user from SSO profile")
		h.observeSignIn(providerName, "failure")
		http.Error(w, "failed to provision user", http.StatusInternalServerError)
		return
	}

	// Promotion and membership sync. Errors are contained inside the
	// reconciler; the result only reports them.
	result := h.reconciler.Reconcile(ctx, user, ssoUser.Groups)
	if result.Promoted {
		h.audit.Record(ctx, &audit.Event{
			Action:    audit.ActionPromotion,
			ActorID:   user.ID,
			Subject:   fmt.Sprintf("user:%d", user.ID),
			Detail:    "first sign-in bootstrap promotion",
			IPAddress: middleware.ClientIP(r),
		})
	}
	if len(result.Errors) > 0 {
		h.logger.WithFields(map[string]interface{}{
			"provider": providerName,
			"user_id":  user.ID,
			"errors":   len(result.Errors),
		}).Warn("sign-in reconciliation completed with errors")
	}

	session, err := h.sessions.CreateSession(ctx, config.ID, user.ID, ssoUser.ExternalID,
		string(user.Role), samlSessionIndex(ssoUser))
	if err != nil {
		h.observeSignIn(providerName, "failure")
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	h.observeSignIn(providerName, "success")
	h.audit.Record(ctx, &audit.Event{
		Action:    audit.ActionSignIn,
		ActorID:   user.ID,
		Subject:   "provider:" + providerName,
		IPAddress: middleware.ClientIP(r),
	})

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(DefaultSessionTTL.Seconds()),
	})
	clearCookie(w, "sso_state")
	clearCookie(w, "sso_provider")

	returnURL := "/"
	if returnCookie, err := r.Cookie("sso_return_url"); err == nil {
		returnURL = returnCookie.Value
		clearCookie(w, "sso_return_url")
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}

// upsertUser finds or creates the local user for a verified profile and
// records the sign-in time.
func (h *Handlers) upsertUser(r *http.Request, ssoUser *SSOUser) (*auth.User, error) {
	ctx := r.Context()

	user, err := h.users.FindUserByEmail(ctx, ssoUser.Email)
	if err == identity.ErrNotFound {
		user, err = h.users.CreateUser(ctx, ssoUser.Email, displayName(ssoUser))
		if err != nil {
			return nil, err
		}
		h.logger.WithFields(map[string]interface{}{
			"user_id": user.ID,
			"email":   user.Email,
		}).Info("provisioned new user from SSO sign-in")
		return user, nil
	}
	if err != nil {
		return nil, err
	}

	if err := h.users.TouchUserLogin(ctx, user.ID); err != nil {
		// Non-fatal; the sign-in itself succeeded
		h.logger.WithField("user_id", user.ID).WithError(err).
			Warn("failed to record login time")
	}
	return user, nil
}

// logout handles GET/POST /auth/sso/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	sessionCookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionCookie.Value)
	if err != nil {
		clearCookie(w, SessionCookieName)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if err := h.sessions.DeleteSession(r.Context(), session.ID); err != nil {
		h.logger.WithError(err).Warn("failed to delete session on logout")
	}
	clearCookie(w, SessionCookieName)
	h.audit.Record(r.Context(), &audit.Event{
		Action:    audit.ActionSignOut,
		ActorID:   session.UserID,
		IPAddress: middleware.ClientIP(r),
	})

	// Provider-side logout when supported
	config, err := h.storage.GetProviderByID(r.Context(), session.ProviderID)
	if err == nil && config.Enabled {
		provider, err := h.factory.CreateProvider(r.Context(), config)
		if err == nil {
			provider.Logout(w, r, session.SAMLSessionIndex)
			return
		}
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

// getSAMLMetadata handles GET /sso/metadata/{provider}
func (h *Handlers) getSAMLMetadata(w http.ResponseWriter, r *http.Request) {
	providerName := mux.Vars(r)["provider"]

	config, err := h.storage.GetProvider(r.Context(), providerName)
	if err == sql.ErrNoRows {
		http.Error(w, "provider not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if config.ProviderType != ProviderTypeSAML {
		http.Error(w, "provider is not SAML", http.StatusBadRequest)
		return
	}

	provider, err := h.factory.CreateProvider(r.Context(), config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	samlProvider, ok := provider.(*SAMLProvider)
	if !ok {
		http.Error(w, "provider is not SAML", http.StatusInternalServerError)
		return
	}

	metadata, err := samlProvider.GetMetadata()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(metadata)
}

// GetSessionContext resolves the request's session cookie to the
// authenticated user.
func (h *Handlers) GetSessionContext(r *http.Request) (*auth.SessionContext, error) {
	sessionCookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, fmt.Errorf("no session")
	}

	session, err := h.sessions.GetSession(r.Context(), sessionCookie.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid session")
	}

	user, err := h.users.FindUserByID(r.Context(), session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &auth.SessionContext{User: user}, nil
}

// recordAdminAction audits a provider management call, attributing it to
// the session user when the admin middleware stored one.
func (h *Handlers) recordAdminAction(r *http.Request, action audit.Action, subject string) {
	event := &audit.Event{
		Action:    action,
		Subject:   subject,
		IPAddress: middleware.ClientIP(r),
	}
	if sc := middleware.GetSessionContext(r); sc != nil && sc.User != nil {
		event.ActorID = sc.User.ID
	}
	h.audit.Record(r.Context(), event)
}

func (h *Handlers) observeSignIn(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.SignInsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// sanitizeProvider strips secrets from a config before serialization
func sanitizeProvider(config *ProviderConfig) {
	if config.SAMLConfig != nil {
		config.SAMLConfig.PrivateKey = ""
	}
	if config.OIDCConfig != nil {
		config.OIDCConfig.ClientSecret = ""
	}
}

func displayName(ssoUser *SSOUser) string {
	if ssoUser.FullName != "" {
		return ssoUser.FullName
	}
	if ssoUser.FirstName != "" || ssoUser.LastName != "" {
		name := ssoUser.FirstName
		if ssoUser.LastName != "" {
			if name != "" {
				name += " "
			}
			name += ssoUser.LastName
		}
		return name
	}
	return ssoUser.Username
}

func samlSessionIndex(ssoUser *SSOUser) string {
	return ssoUser.Attributes["SessionIndex"]
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func setTempCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, MaxAge: -1, Path: "/"})
}
