package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
	"github.com/louisbranch/keyfold.space/internal/services/auth/passkey"
	"github.com/louisbranch/keyfold.space/internal/services/auth/password"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
	"github.com/louisbranch/keyfold.space/internal/services/auth/token"
)

// Server routes HTTP requests to the auth managers.
type Server struct {
	ceremonies *passkey.Ceremonies
	lifecycle  *passkey.Lifecycle
	passwords  *password.Manager
	tokens     *token.Issuer
	store      storage.Store
}

// NewServer builds an HTTP server over the auth managers. The store is used
// read-only, to load the account row that claims are computed from.
func NewServer(ceremonies *passkey.Ceremonies, lifecycle *passkey.Lifecycle, passwords *password.Manager, tokens *token.Issuer, store storage.Store) *Server {
	return &Server{
		ceremonies: ceremonies,
		lifecycle:  lifecycle,
		passwords:  passwords,
		tokens:     tokens,
		store:      store,
	}
}

// RegisterRoutes attaches all auth endpoints to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if s == nil || mux == nil {
		return
	}

	mux.HandleFunc("/up", s.handleHealth)

	mux.HandleFunc("/v1/passkeys/register/start", s.handleRegisterStart)
	mux.HandleFunc("/v1/passkeys/register/finish", s.handleRegisterFinish)
	mux.HandleFunc("/v1/passkeys/login/start", s.handleLoginStart)
	mux.HandleFunc("/v1/passkeys/login/finish", s.handleLoginFinish)
	mux.HandleFunc("/v1/passkeys/add/start", s.requireAuth(s.handleAddStart))
	mux.HandleFunc("/v1/passkeys/add/finish", s.requireAuth(s.handleAddFinish))
	mux.HandleFunc("/v1/passkeys", s.requireAuth(s.handleListPasskeys))
	mux.HandleFunc("/v1/passkeys/revoke", s.requireAuth(s.handleRevokePasskey))

	mux.HandleFunc("/v1/password/register", s.handlePasswordRegister)
	mux.HandleFunc("/v1/password/login", s.handlePasswordLogin)
	mux.HandleFunc("/v1/password/reset/request", s.handleResetRequest)
	mux.HandleFunc("/v1/password/reset/confirm", s.handleResetConfirm)

	mux.HandleFunc("/v1/tokens/refresh", s.handleRefresh)
	mux.HandleFunc("/v1/logout", s.handleLogout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authedHandler receives the validated bearer claims alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, claims token.Claims)

func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, value, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
			writeJSONError(w, http.StatusUnauthorized, string(apperrors.CodeInvalidCredentials), "bearer token is required")
			return
		}
		claims, err := s.tokens.ParseAccessToken(strings.TrimSpace(value))
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, string(apperrors.CodeInvalidCredentials), "access token is invalid")
			return
		}
		next(w, r, claims)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body is not valid json")
		return false
	}
	return true
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

// writeDomainError translates a manager error into a status and stable code.
func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		writeJSONError(w, domainErr.Code.HTTPStatus(), string(domainErr.Code), domainErr.Message)
		return
	}
	writeJSONError(w, http.StatusInternalServerError, string(apperrors.CodeUnknown), "internal error")
}
