package authhandler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"evaltrack/internal/domain/audit"
	"evaltrack/internal/domain/auth"
	"evaltrack/internal/domain/errs"
	"evaltrack/internal/domain/users"
	cryptoutil "evaltrack/internal/platform/crypto"
	"evaltrack/internal/transport/http/api"
	"evaltrack/internal/transport/http/middleware"
	"evaltrack/internal/transport/http/shared"
)

const mfaIssuer = "EvalTrack"

type Handler struct {
	Users    *users.Service
	Sessions *auth.Sessions
	Secret   string
	TokenTTL time.Duration
	Crypto   *cryptoutil.Service
	Audit    shared.AuditRecorder
}

func NewHandler(userService *users.Service, sessions *auth.Sessions, secret string, ttl time.Duration, crypto *cryptoutil.Service, recorder shared.AuditRecorder) *Handler {
	return &Handler{Users: userService, Sessions: sessions, Secret: secret, TokenTTL: ttl, Crypto: crypto, Audit: recorder}
}

// RegisterRoutes mounts /auth. Login is public; everything else needs a session.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Post("/logout", h.HandleLogout)
			r.Post("/refresh", h.HandleRefresh)
			r.Get("/me", h.HandleMe)
			r.Post("/change-password", h.HandleChangePassword)
			r.Post("/mfa/setup", h.HandleMFASetup)
			r.Post("/mfa/enable", h.HandleMFAEnable)
			r.Post("/mfa/disable", h.HandleMFADisable)
		})
	})
}

type loginRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	MFACode  string `json:"mfaCode"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      *users.Profile `json:"user,omitempty"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload loginRequest
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	v.Required("id", payload.ID, "is required")
	v.Required("password", payload.Password, "is required")
	if v.Reject(w, requestID) {
		return
	}

	u, err := h.Users.Authenticate(r.Context(), payload.ID, payload.Password)
	if err != nil {
		if errors.Is(err, errs.ErrAuth) {
			shared.RecordAudit(r, h.Audit, audit.Entry{ActorID: strings.TrimSpace(payload.ID), Action: "auth.login_failed", EntityType: "user", EntityID: strings.TrimSpace(payload.ID)})
			api.Fail(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials", requestID)
			return
		}
		api.FailError(w, err, requestID)
		return
	}

	if u.MFAEnabled {
		if payload.MFACode == "" {
			api.Fail(w, http.StatusUnauthorized, "mfa_required", "mfa code required", requestID)
			return
		}
		secret, err := h.Crypto.Open(u.MFASecretEnc)
		if err != nil || secret == "" || !totp.Validate(payload.MFACode, secret) {
			api.Fail(w, http.StatusUnauthorized, "mfa_invalid", "invalid mfa code", requestID)
			return
		}
	}

	resp, err := h.issue(r, u.ID, u.Role)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	profile := u.Profile()
	resp.User = &profile
	shared.RecordAudit(r, h.Audit, audit.Entry{ActorID: u.ID, Action: "auth.login", EntityType: "user", EntityID: u.ID})
	api.Success(w, resp, requestID)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	if user.SessionID != "" {
		if err := h.Sessions.Revoke(r.Context(), user.UserID, user.SessionID); err != nil {
			api.FailError(w, err, middleware.GetRequestID(r.Context()))
			return
		}
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "auth.logout", EntityType: "user", EntityID: user.UserID})
	api.Success(w, map[string]string{"status": "logged_out"}, middleware.GetRequestID(r.Context()))
}

// HandleRefresh rotates the caller's session. The role is re-read so a role
// change takes effect on the next token.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	u, err := h.Users.Get(r.Context(), user.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestID)
			return
		}
		api.FailError(w, err, requestID)
		return
	}
	sessionID, expires, err := h.Sessions.Rotate(r.Context(), user.UserID, user.SessionID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	token, err := auth.GenerateToken(h.Secret, auth.Claims{UserID: u.ID, RoleName: u.Role, SessionID: sessionID}, h.TokenTTL)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "token_error", "failed to issue token", requestID)
		return
	}
	api.Success(w, tokenResponse{Token: token, ExpiresAt: expires}, requestID)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	u, err := h.Users.Get(r.Context(), user.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", requestID)
			return
		}
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, u.Profile(), requestID)
}

// HandleChangePassword ends every session of the user and returns a fresh token.
func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	var payload changePasswordRequest
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	v := shared.NewValidator()
	v.Required("currentPassword", payload.CurrentPassword, "is required")
	v.Required("newPassword", payload.NewPassword, "is required")
	if v.Reject(w, requestID) {
		return
	}
	if err := h.Users.ChangePassword(r.Context(), user.UserID, payload.CurrentPassword, payload.NewPassword); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	if err := h.Sessions.RevokeAll(r.Context(), user.UserID); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	resp, err := h.issue(r, user.UserID, user.RoleName)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: "auth.password_changed", EntityType: "user", EntityID: user.UserID})
	api.Success(w, resp, requestID)
}

func (h *Handler) HandleMFASetup(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	if !h.Crypto.Configured() {
		api.Fail(w, http.StatusBadRequest, "mfa_unavailable", "mfa requires encryption key", requestID)
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      mfaIssuer,
		AccountName: user.UserID,
		Period:      30,
		Digits:      otp.DigitsSix,
	})
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "mfa_setup_failed", "failed to generate mfa secret", requestID)
		return
	}
	sealed, err := h.Crypto.Seal(key.Secret())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "mfa_setup_failed", "failed to store mfa secret", requestID)
		return
	}
	if err := h.Users.SetMFASecret(r.Context(), user.UserID, sealed); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	api.Success(w, map[string]string{"secret": key.Secret(), "otpauthUrl": key.URL()}, requestID)
}

func (h *Handler) HandleMFAEnable(w http.ResponseWriter, r *http.Request) {
	h.toggleMFA(w, r, true)
}

func (h *Handler) HandleMFADisable(w http.ResponseWriter, r *http.Request) {
	h.toggleMFA(w, r, false)
}

// toggleMFA flips the flag after the caller proves possession of the secret.
func (h *Handler) toggleMFA(w http.ResponseWriter, r *http.Request, enable bool) {
	requestID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())
	if !h.Crypto.Configured() {
		api.Fail(w, http.StatusBadRequest, "mfa_unavailable", "mfa requires encryption key", requestID)
		return
	}
	var payload mfaCodeRequest
	if !shared.DecodeJSON(w, r, &payload, requestID) {
		return
	}
	u, err := h.Users.Get(r.Context(), user.UserID)
	if err != nil {
		api.FailError(w, err, requestID)
		return
	}
	if u.MFASecretEnc == "" {
		api.Fail(w, http.StatusBadRequest, "mfa_missing", "mfa setup required", requestID)
		return
	}
	secret, err := h.Crypto.Open(u.MFASecretEnc)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "mfa_invalid", "invalid mfa secret", requestID)
		return
	}
	if !totp.Validate(payload.Code, secret) {
		api.Fail(w, http.StatusBadRequest, "mfa_invalid", "invalid mfa code", requestID)
		return
	}
	if err := h.Users.SetMFAEnabled(r.Context(), user.UserID, enable); err != nil {
		api.FailError(w, err, requestID)
		return
	}
	status, action := "disabled", "auth.mfa_disabled"
	if enable {
		status, action = "enabled", "auth.mfa_enabled"
	}
	shared.RecordAudit(r, h.Audit, audit.Entry{Action: action, EntityType: "user", EntityID: user.UserID})
	api.Success(w, map[string]string{"status": status}, requestID)
}

func (h *Handler) issue(r *http.Request, userID, role string) (tokenResponse, error) {
	sessionID, expires, err := h.Sessions.Start(r.Context(), userID)
	if err != nil {
		return tokenResponse{}, err
	}
	token, err := auth.GenerateToken(h.Secret, auth.Claims{UserID: userID, RoleName: role, SessionID: sessionID}, h.TokenTTL)
	if err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{Token: token, ExpiresAt: expires}, nil
}
