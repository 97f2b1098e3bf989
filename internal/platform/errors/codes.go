package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Flow errors
	CodeFlowUnknown         Code = "FLOW_UNKNOWN"
	CodeFlowKindMismatch    Code = "FLOW_KIND_MISMATCH"
	CodeFlowConsumed        Code = "FLOW_ALREADY_CONSUMED"
	CodeFlowExpired         Code = "FLOW_EXPIRED"
	CodeFlowAccountMismatch Code = "FLOW_ACCOUNT_MISMATCH"

	// Credential errors
	CodeCredentialUnknownOrRevoked Code = "CREDENTIAL_UNKNOWN_OR_REVOKED"
	CodeCredentialNotFound         Code = "CREDENTIAL_NOT_FOUND"
	CodeCredentialAlreadyRevoked   Code = "CREDENTIAL_ALREADY_REVOKED"
	CodeCredentialLastActive       Code = "CREDENTIAL_LAST_ACTIVE"
	CodeVerificationFailed         Code = "VERIFICATION_FAILED"

	// Password errors
	CodeEmailInvalid       Code = "EMAIL_INVALID"
	CodeEmailTaken         Code = "EMAIL_TAKEN"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeResetTokenInvalid  Code = "RESET_TOKEN_INVALID"

	// Refresh token errors
	CodeRefreshTokenInvalid Code = "REFRESH_TOKEN_INVALID"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes at the API boundary.
func (c Code) HTTPStatus() int {
	switch c {
	// BadRequest - validation failures, stale or malformed artifacts
	case CodeFlowKindMismatch,
		CodeFlowExpired,
		CodeFlowAccountMismatch,
		CodeEmailInvalid,
		CodeResetTokenInvalid:
		return http.StatusBadRequest

	// Unauthorized - credential checks that must not leak detail
	case CodeCredentialUnknownOrRevoked,
		CodeVerificationFailed,
		CodeInvalidCredentials,
		CodeRefreshTokenInvalid:
		return http.StatusUnauthorized

	// NotFound - missing resources
	case CodeFlowUnknown,
		CodeCredentialNotFound,
		CodeNotFound:
		return http.StatusNotFound

	// Conflict - state no longer allows the operation
	case CodeFlowConsumed,
		CodeCredentialAlreadyRevoked,
		CodeCredentialLastActive,
		CodeEmailTaken:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
