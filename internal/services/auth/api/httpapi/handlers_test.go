package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/passkey"
	"github.com/louisbranch/keyfold.space/internal/services/auth/password"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage/sqlite"
	"github.com/louisbranch/keyfold.space/internal/services/auth/token"
)

// stubVerifier treats the ceremony response bytes as a device name: "forged"
// fails verification, anything else maps to credential "cred-<name>".
type stubVerifier struct{}

func (stubVerifier) RegistrationOptions(string, []string) (json.RawMessage, string, error) {
	return json.RawMessage(`{"publicKey":{}}`), "stub-challenge", nil
}

func (stubVerifier) AuthenticationOptions() (json.RawMessage, string, error) {
	return json.RawMessage(`{"publicKey":{}}`), "stub-challenge", nil
}

func (stubVerifier) PeekCredentialID(response []byte) (string, error) {
	return "cred-" + string(response), nil
}

func (stubVerifier) VerifyRegistration(response []byte, _ passkey.Expectation) (passkey.RegisteredCredential, error) {
	if string(response) == `"forged"` {
		return passkey.RegisteredCredential{}, fmt.Errorf("challenge mismatch")
	}
	return passkey.RegisteredCredential{
		CredentialID: "cred-" + string(response),
		PublicKey:    []byte("public-key"),
	}, nil
}

func (stubVerifier) VerifyAuthentication(response []byte, _ passkey.Expectation, stored storage.Credential) (uint32, error) {
	if string(response) == `"forged"` {
		return 0, fmt.Errorf("challenge mismatch")
	}
	return stored.SignCount + 1, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	passkeyCfg := passkey.Config{
		RPDisplayName: "Keyfold",
		RPID:          "localhost",
		RPOrigin:      "http://localhost:8086",
		FlowTTL:       5 * time.Minute,
	}
	ceremonies := passkey.NewCeremonies(store, stubVerifier{}, passkeyCfg)
	lifecycle := passkey.NewLifecycle(store)
	passwords := password.NewManager(store, password.Config{
		ResetTokenTTL:     30 * time.Minute,
		BcryptCost:        4,
		MinPasswordLength: 8,
	})
	tokens, err := token.NewIssuer(store, token.Config{
		Issuer:          "keyfold.space",
		Algorithm:       token.AlgorithmHS256,
		SigningKey:      "test-signing-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	mux := http.NewServeMux()
	NewServer(ceremonies, lifecycle, passwords, tokens, store).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, server *httptest.Server, path, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp, decodeResponse(t, resp)
}

func getJSON(t *testing.T, server *httptest.Server, path, bearer string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp, decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var decoded map[string]any
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil
	}
	return decoded
}

func sessionTokens(t *testing.T, body map[string]any) (string, string) {
	t.Helper()
	tokens, ok := body["tokens"].(map[string]any)
	if !ok {
		t.Fatalf("response missing tokens: %v", body)
	}
	access, _ := tokens["access_token"].(string)
	refresh, _ := tokens["refresh_token"].(string)
	if access == "" || refresh == "" {
		t.Fatalf("incomplete token pair: %v", tokens)
	}
	return access, refresh
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp, err := server.Client().Get(server.URL + "/up")
	if err != nil {
		t.Fatalf("get /up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPasswordSessionLifecycle(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server, "/v1/password/register", "", map[string]string{
		"email": "a@x.com", "password": "p1-long-enough",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d: %v", resp.StatusCode, body)
	}
	_, _ = sessionTokens(t, body)

	resp, body = postJSON(t, server, "/v1/password/login", "", map[string]string{
		"email": "a@x.com", "password": "p1-long-enough",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d: %v", resp.StatusCode, body)
	}
	_, refresh := sessionTokens(t, body)

	// Rotation succeeds once; the superseded token is rejected.
	resp, body = postJSON(t, server, "/v1/tokens/refresh", "", map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d: %v", resp.StatusCode, body)
	}
	rotated, _ := body["refresh_token"].(string)
	if rotated == "" || rotated == refresh {
		t.Fatalf("rotation returned %q", rotated)
	}
	resp, body = postJSON(t, server, "/v1/tokens/refresh", "", map[string]string{"refresh_token": refresh})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d: %v", resp.StatusCode, body)
	}
	if body["error"] != "REFRESH_TOKEN_INVALID" {
		t.Fatalf("reused refresh error = %v", body["error"])
	}

	resp, _ = postJSON(t, server, "/v1/logout", "", map[string]string{"refresh_token": rotated})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = postJSON(t, server, "/v1/tokens/refresh", "", map[string]string{"refresh_token": rotated})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d", resp.StatusCode)
	}
}

func TestPasswordLoginIndistinguishableFailures(t *testing.T) {
	server := newTestServer(t)

	if resp, _ := postJSON(t, server, "/v1/password/register", "", map[string]string{
		"email": "a@x.com", "password": "p1-long-enough",
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	respUnknown, bodyUnknown := postJSON(t, server, "/v1/password/login", "", map[string]string{
		"email": "nobody@x.com", "password": "p1-long-enough",
	})
	respWrong, bodyWrong := postJSON(t, server, "/v1/password/login", "", map[string]string{
		"email": "a@x.com", "password": "wrong-password",
	})
	if respUnknown.StatusCode != http.StatusUnauthorized || respWrong.StatusCode != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d", respUnknown.StatusCode, respWrong.StatusCode)
	}
	if fmt.Sprint(bodyUnknown) != fmt.Sprint(bodyWrong) {
		t.Fatalf("failure bodies differ: %v vs %v", bodyUnknown, bodyWrong)
	}
}

func TestPasswordRegisterConflict(t *testing.T) {
	server := newTestServer(t)

	if resp, _ := postJSON(t, server, "/v1/password/register", "", map[string]string{
		"email": "a@x.com", "password": "p1-long-enough",
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp, body := postJSON(t, server, "/v1/password/register", "", map[string]string{
		"email": "a@x.com", "password": "p2-long-enough",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d: %v", resp.StatusCode, body)
	}
	if body["error"] != "EMAIL_TAKEN" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestPasswordResetFlow(t *testing.T) {
	server := newTestServer(t)

	if resp, _ := postJSON(t, server, "/v1/password/register", "", map[string]string{
		"email": "a@x.com", "password": "p1-long-enough",
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	resp, body := postJSON(t, server, "/v1/password/reset/request", "", map[string]string{"email": "a@x.com"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("reset request status = %d: %v", resp.StatusCode, body)
	}
	resetToken, _ := body["reset_token"].(string)
	if resetToken == "" {
		t.Fatal("expected a reset token")
	}

	// Unknown emails get the same response shape.
	respUnknown, bodyUnknown := postJSON(t, server, "/v1/password/reset/request", "", map[string]string{"email": "nobody@x.com"})
	if respUnknown.StatusCode != http.StatusAccepted || bodyUnknown["reset_token"] == "" {
		t.Fatalf("unknown email reset = %d: %v", respUnknown.StatusCode, bodyUnknown)
	}

	resp, body = postJSON(t, server, "/v1/password/reset/confirm", "", map[string]string{
		"token": resetToken, "new_password": "p2-long-enough",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset confirm status = %d: %v", resp.StatusCode, body)
	}

	if resp, _ := postJSON(t, server, "/v1/password/login", "", map[string]string{
		"email": "a@x.com", "password": "p2-long-enough",
	}); resp.StatusCode != http.StatusOK {
		t.Fatalf("login with new password status = %d", resp.StatusCode)
	}
}

func TestPasskeyCeremonyEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server, "/v1/passkeys/register/start", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register start status = %d: %v", resp.StatusCode, body)
	}
	flowID, _ := body["flow_id"].(string)
	if flowID == "" || body["options"] == nil {
		t.Fatalf("register start body = %v", body)
	}

	resp, body = postJSON(t, server, "/v1/passkeys/register/finish", "", map[string]any{
		"flow_id": flowID, "response": "phone",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register finish status = %d: %v", resp.StatusCode, body)
	}
	access, _ := sessionTokens(t, body)

	// Repeat finish conflicts.
	resp, body = postJSON(t, server, "/v1/passkeys/register/finish", "", map[string]any{
		"flow_id": flowID, "response": "phone",
	})
	if resp.StatusCode != http.StatusConflict || body["error"] != "FLOW_ALREADY_CONSUMED" {
		t.Fatalf("repeat finish = %d: %v", resp.StatusCode, body)
	}

	resp, body = getJSON(t, server, "/v1/passkeys", access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %v", resp.StatusCode, body)
	}
	credentials, _ := body["credentials"].([]any)
	if len(credentials) != 1 {
		t.Fatalf("credentials = %v", body)
	}

	resp, body = postJSON(t, server, "/v1/passkeys/add/start", access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add start status = %d: %v", resp.StatusCode, body)
	}
	addFlowID, _ := body["flow_id"].(string)
	resp, body = postJSON(t, server, "/v1/passkeys/add/finish", access, map[string]any{
		"flow_id": addFlowID, "response": "laptop",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add finish status = %d: %v", resp.StatusCode, body)
	}
	secondID, _ := body["id"].(string)

	loginStart, loginBody := postJSON(t, server, "/v1/passkeys/login/start", "", nil)
	if loginStart.StatusCode != http.StatusOK {
		t.Fatalf("login start status = %d: %v", loginStart.StatusCode, loginBody)
	}
	loginFlowID, _ := loginBody["flow_id"].(string)
	resp, body = postJSON(t, server, "/v1/passkeys/login/finish", "", map[string]any{
		"flow_id": loginFlowID, "response": "phone",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login finish status = %d: %v", resp.StatusCode, body)
	}

	resp, _ = postJSON(t, server, "/v1/passkeys/revoke", access, map[string]string{"credential_id": secondID})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
	resp, body = postJSON(t, server, "/v1/passkeys/revoke", access, map[string]string{"credential_id": secondID})
	if resp.StatusCode != http.StatusConflict || body["error"] != "CREDENTIAL_ALREADY_REVOKED" {
		t.Fatalf("repeat revoke = %d: %v", resp.StatusCode, body)
	}
}

func TestPasskeyForgedResponse(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server, "/v1/passkeys/register/start", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register start status = %d", resp.StatusCode)
	}
	flowID, _ := body["flow_id"].(string)

	resp, body = postJSON(t, server, "/v1/passkeys/register/finish", "", map[string]any{
		"flow_id": flowID, "response": "forged",
	})
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "VERIFICATION_FAILED" {
		t.Fatalf("forged finish = %d: %v", resp.StatusCode, body)
	}

	// The flow survives the forged attempt.
	resp, _ = postJSON(t, server, "/v1/passkeys/register/finish", "", map[string]any{
		"flow_id": flowID, "response": "phone",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("finish after forged attempt = %d", resp.StatusCode)
	}
}

func TestBearerRequired(t *testing.T) {
	server := newTestServer(t)

	resp, body := getJSON(t, server, "/v1/passkeys", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing bearer status = %d: %v", resp.StatusCode, body)
	}
	resp, body = getJSON(t, server, "/v1/passkeys", "garbage-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad bearer status = %d: %v", resp.StatusCode, body)
	}
}

func TestUnknownFlowNotFound(t *testing.T) {
	server := newTestServer(t)

	resp, body := postJSON(t, server, "/v1/passkeys/login/finish", "", map[string]any{
		"flow_id": "missing", "response": "phone",
	})
	if resp.StatusCode != http.StatusNotFound || body["error"] != "FLOW_UNKNOWN" {
		t.Fatalf("unknown flow = %d: %v", resp.StatusCode, body)
	}
}
