// Package auth defines the identity boundary for keyfold.space.
//
// It owns account lifecycle, credential ceremonies, and token issuance so
// callers can depend on stable account IDs and signed claims instead of
// re-implementing identity rules.
//
// Subpackages:
//   - account: identity records shared by every credential path
//   - passkey: WebAuthn ceremonies and credential lifecycle
//   - password: password registration, login, and reset tokens
//   - token: access token signing and refresh rotation
//   - storage: persistence interfaces and the SQLite implementation
//   - api/httpapi: JSON HTTP boundary
//   - app: auth server wiring and lifecycle
package auth
