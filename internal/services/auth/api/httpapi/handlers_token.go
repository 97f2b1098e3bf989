package httpapi

import (
	"net/http"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/token"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rotated, refreshExpiry, accountID, err := s.tokens.RotateRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Claims come from the current account row, not from anything the
	// client presented.
	owner, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	access, accessExpiry, err := s.tokens.IssueAccessToken(owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(token.Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     rotated,
		RefreshExpiresAt: refreshExpiry,
	}))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.tokens.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newTokenResponse(pair token.Pair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(pair.AccessExpiresAt).Seconds()),
		RefreshToken: pair.RefreshToken,
	}
}
