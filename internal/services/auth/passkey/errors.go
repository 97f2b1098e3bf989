package passkey

import (
	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
)

var (
	// ErrUnknownFlow indicates the flow id does not resolve to any ceremony.
	ErrUnknownFlow = apperrors.New(apperrors.CodeFlowUnknown, "challenge flow not found")
	// ErrFlowKindMismatch indicates the flow belongs to a different ceremony kind.
	ErrFlowKindMismatch = apperrors.New(apperrors.CodeFlowKindMismatch, "challenge flow kind mismatch")
	// ErrFlowConsumed indicates the flow was already finished.
	ErrFlowConsumed = apperrors.New(apperrors.CodeFlowConsumed, "challenge flow already consumed")
	// ErrFlowExpired indicates the flow passed its expiry before finishing.
	ErrFlowExpired = apperrors.New(apperrors.CodeFlowExpired, "challenge flow expired")
	// ErrFlowAccountMismatch indicates the flow is bound to a different account.
	ErrFlowAccountMismatch = apperrors.New(apperrors.CodeFlowAccountMismatch, "challenge flow belongs to a different account")
	// ErrUnknownOrRevokedCredential indicates the presented credential id does
	// not resolve to an active credential.
	ErrUnknownOrRevokedCredential = apperrors.New(apperrors.CodeCredentialUnknownOrRevoked, "credential unknown or revoked")
	// ErrCredentialNotFound indicates the credential is absent or owned by a
	// different account.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")
	// ErrAlreadyRevoked indicates the credential was revoked earlier.
	ErrAlreadyRevoked = apperrors.New(apperrors.CodeCredentialAlreadyRevoked, "credential already revoked")
	// ErrLastCredential indicates revoking would leave the account with no
	// active credential.
	ErrLastCredential = apperrors.New(apperrors.CodeCredentialLastActive, "cannot revoke the last active credential")
	// ErrVerificationFailed indicates the authenticator response failed
	// cryptographic or challenge verification.
	ErrVerificationFailed = apperrors.New(apperrors.CodeVerificationFailed, "ceremony verification failed")
)
