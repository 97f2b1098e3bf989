package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/passkey"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
	"github.com/louisbranch/keyfold.space/internal/services/auth/token"
)

type registerStartRequest struct {
	PendingAccountID string `json:"pending_account_id,omitempty"`
}

type startResponse struct {
	FlowID    string          `json:"flow_id"`
	AccountID string          `json:"account_id,omitempty"`
	Options   json.RawMessage `json:"options"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type finishRequest struct {
	FlowID   string          `json:"flow_id"`
	Response json.RawMessage `json:"response"`
}

type accountView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	Scopes    []string  `json:"scopes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type credentialView struct {
	ID           string     `json:"id"`
	CredentialID string     `json:"credential_id"`
	AAGUID       string     `json:"aaguid,omitempty"`
	Transports   []string   `json:"transports,omitempty"`
	SignCount    uint32     `json:"sign_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

type sessionResponse struct {
	Account accountView   `json:"account"`
	Tokens  tokenResponse `json:"tokens"`
}

type revokeRequest struct {
	CredentialID string `json:"credential_id"`
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	// The body is optional; it only carries the pending account id.
	var req registerStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "request body is not valid json")
		return
	}

	started, err := s.ceremonies.StartRegistration(r.Context(), req.PendingAccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStartResponse(started))
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := s.ceremonies.FinishRegistration(r.Context(), req.FlowID, req.Response)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, r, owner, http.StatusCreated)
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	started, err := s.ceremonies.StartAuthentication(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStartResponse(started))
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := s.ceremonies.FinishAuthentication(r.Context(), req.FlowID, req.Response)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, r, owner, http.StatusOK)
}

func (s *Server) handleAddStart(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	started, err := s.ceremonies.StartAddCredential(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStartResponse(started))
}

func (s *Server) handleAddFinish(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	var req finishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.ceremonies.FinishAddCredential(r.Context(), req.FlowID, req.Response, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCredentialView(created))
}

func (s *Server) handleListPasskeys(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	credentials, err := s.lifecycle.ListCredentials(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]credentialView, 0, len(credentials))
	for _, credential := range credentials {
		views = append(views, newCredentialView(credential))
	}
	writeJSON(w, http.StatusOK, map[string][]credentialView{"credentials": views})
}

func (s *Server) handleRevokePasskey(w http.ResponseWriter, r *http.Request, claims token.Claims) {
	var req revokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.lifecycle.RevokeCredential(r.Context(), claims.Subject, req.CredentialID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeSession responds with the account and a fresh token pair. Passkey
// registration and login both end in an authenticated session.
func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, owner account.Account, status int) {
	pair, err := s.tokens.MintPair(r.Context(), owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, sessionResponse{
		Account: newAccountView(owner),
		Tokens:  newTokenResponse(pair),
	})
}

func newStartResponse(started passkey.StartResult) startResponse {
	return startResponse{
		FlowID:    started.FlowID,
		AccountID: started.AccountID,
		Options:   started.Options,
		ExpiresAt: started.ExpiresAt,
	}
}

func newAccountView(owner account.Account) accountView {
	return accountView{
		ID:        owner.ID,
		Email:     owner.Email,
		Role:      string(owner.Role),
		Scopes:    owner.Scopes,
		CreatedAt: owner.CreatedAt,
	}
}

func newCredentialView(credential storage.Credential) credentialView {
	return credentialView{
		ID:           credential.ID,
		CredentialID: credential.CredentialID,
		AAGUID:       credential.AAGUID,
		Transports:   credential.Transports,
		SignCount:    credential.SignCount,
		CreatedAt:    credential.CreatedAt,
		LastUsedAt:   credential.LastUsedAt,
		RevokedAt:    credential.RevokedAt,
	}
}
