package passkey

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

// Expectation carries the values a ceremony response must verify against.
// Challenge, RPID and Origin come from the flow row captured at issuance,
// never from current configuration.
type Expectation struct {
	Challenge string
	RPID      string
	Origin    string
	AccountID string
}

// RegisteredCredential is the outcome of a successful registration ceremony.
type RegisteredCredential struct {
	CredentialID string
	PublicKey    []byte
	SignCount    uint32
	AAGUID       string
	Transports   []string
}

// Verifier generates ceremony options and verifies authenticator responses.
// Ceremonies treat it as a trusted collaborator; any cryptographic or
// challenge mismatch surfaces as an opaque verification error.
type Verifier interface {
	// RegistrationOptions builds credential creation options for an account,
	// excluding already-registered credential ids. Returns the serialized
	// options and the challenge they embed.
	RegistrationOptions(accountID string, exclude []string) (json.RawMessage, string, error)
	// AuthenticationOptions builds discoverable login options unbound to any
	// account. Returns the serialized options and the challenge they embed.
	AuthenticationOptions() (json.RawMessage, string, error)
	// PeekCredentialID extracts the credential id an assertion response
	// presents, without verifying it.
	PeekCredentialID(response []byte) (string, error)
	// VerifyRegistration validates an attestation response against the
	// expectation and returns the new credential's material.
	VerifyRegistration(response []byte, expected Expectation) (RegisteredCredential, error)
	// VerifyAuthentication validates an assertion response against the
	// expectation and the stored credential, enforcing that the presented
	// signature counter is strictly greater than the stored one. Returns the
	// new counter.
	VerifyAuthentication(response []byte, expected Expectation, stored storage.Credential) (uint32, error)
}

// WebAuthnVerifier implements Verifier with the go-webauthn library.
type WebAuthnVerifier struct {
	config Config
}

var _ Verifier = (*WebAuthnVerifier)(nil)

// NewWebAuthnVerifier returns a verifier using cfg for option generation.
// Finish-side verification uses the expectation instead, so options handed
// out before a configuration change stay verifiable.
func NewWebAuthnVerifier(cfg Config) *WebAuthnVerifier {
	return &WebAuthnVerifier{config: cfg}
}

func (v *WebAuthnVerifier) relyingParty(rpID, origin string) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName: v.config.RPDisplayName,
		RPID:          rpID,
		RPOrigins:     []string{origin},
	})
}

func (v *WebAuthnVerifier) RegistrationOptions(accountID string, exclude []string) (json.RawMessage, string, error) {
	rp, err := v.relyingParty(v.config.RPID, v.config.RPOrigin)
	if err != nil {
		return nil, "", fmt.Errorf("configure relying party: %w", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(exclude) > 0 {
		descriptors := make([]protocol.CredentialDescriptor, 0, len(exclude))
		for _, externalID := range exclude {
			raw, err := decodeCredentialID(externalID)
			if err != nil {
				return nil, "", fmt.Errorf("decode excluded credential id: %w", err)
			}
			descriptors = append(descriptors, protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: raw,
			})
		}
		options = append(options, webauthn.WithExclusions(descriptors))
	}

	creation, session, err := rp.BeginRegistration(&ceremonyAccount{id: accountID}, options...)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	payload, err := json.Marshal(creation)
	if err != nil {
		return nil, "", fmt.Errorf("encode creation options: %w", err)
	}
	return payload, session.Challenge, nil
}

func (v *WebAuthnVerifier) AuthenticationOptions() (json.RawMessage, string, error) {
	rp, err := v.relyingParty(v.config.RPID, v.config.RPOrigin)
	if err != nil {
		return nil, "", fmt.Errorf("configure relying party: %w", err)
	}
	assertion, session, err := rp.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("begin discoverable login: %w", err)
	}
	payload, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", fmt.Errorf("encode request options: %w", err)
	}
	return payload, session.Challenge, nil
}

func (v *WebAuthnVerifier) PeekCredentialID(response []byte) (string, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return "", fmt.Errorf("parse assertion response: %w", err)
	}
	return encodeCredentialID(parsed.RawID), nil
}

func (v *WebAuthnVerifier) VerifyRegistration(response []byte, expected Expectation) (RegisteredCredential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return RegisteredCredential{}, fmt.Errorf("parse attestation response: %w", err)
	}
	rp, err := v.relyingParty(expected.RPID, expected.Origin)
	if err != nil {
		return RegisteredCredential{}, fmt.Errorf("configure relying party: %w", err)
	}
	session := webauthn.SessionData{
		Challenge: expected.Challenge,
		UserID:    []byte(expected.AccountID),
	}
	credential, err := rp.CreateCredential(&ceremonyAccount{id: expected.AccountID}, session, parsed)
	if err != nil {
		return RegisteredCredential{}, fmt.Errorf("validate attestation: %w", err)
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return RegisteredCredential{
		CredentialID: encodeCredentialID(credential.ID),
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		AAGUID:       hex.EncodeToString(credential.Authenticator.AAGUID),
		Transports:   transports,
	}, nil
}

func (v *WebAuthnVerifier) VerifyAuthentication(response []byte, expected Expectation, stored storage.Credential) (uint32, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return 0, fmt.Errorf("parse assertion response: %w", err)
	}
	rp, err := v.relyingParty(expected.RPID, expected.Origin)
	if err != nil {
		return 0, fmt.Errorf("configure relying party: %w", err)
	}

	rawID, err := decodeCredentialID(stored.CredentialID)
	if err != nil {
		return 0, fmt.Errorf("decode stored credential id: %w", err)
	}
	holder := &ceremonyAccount{
		id: stored.AccountID,
		credentials: []webauthn.Credential{{
			ID:        rawID,
			PublicKey: stored.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: stored.SignCount,
			},
		}},
	}
	handler := func(_, _ []byte) (webauthn.User, error) {
		return holder, nil
	}

	session := webauthn.SessionData{Challenge: expected.Challenge}
	_, credential, err := rp.ValidatePasskeyLogin(handler, session, parsed)
	if err != nil {
		return 0, fmt.Errorf("validate assertion: %w", err)
	}
	// A clone warning means the presented counter did not move past the
	// stored one, so the assertion may be a replay.
	if credential.Authenticator.CloneWarning {
		return 0, fmt.Errorf("signature counter did not advance")
	}
	return credential.Authenticator.SignCount, nil
}

// ceremonyAccount adapts an account id and stored credentials to the
// webauthn.User interface the library verifies against.
type ceremonyAccount struct {
	id          string
	credentials []webauthn.Credential
}

func (a *ceremonyAccount) WebAuthnID() []byte {
	return []byte(a.id)
}

func (a *ceremonyAccount) WebAuthnName() string {
	return a.id
}

func (a *ceremonyAccount) WebAuthnDisplayName() string {
	return a.id
}

func (a *ceremonyAccount) WebAuthnIcon() string {
	return ""
}

func (a *ceremonyAccount) WebAuthnCredentials() []webauthn.Credential {
	return a.credentials
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}
