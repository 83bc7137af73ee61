package icauth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeProviderUnavailable = "auth_provider_unavailable"
	TextCodeUserCancelled       = "auth_user_cancelled"
	TextCodeMalformedDelegation = "auth_malformed_delegation"
	TextCodeSessionExpired      = "auth_session_expired"
	TextCodePrincipalMismatch   = "auth_principal_mismatch"
	TextCodeNotAuthenticated    = "auth_not_authenticated"
	TextCodeUnknownLoginType    = "auth_unknown_login_type"
)

// ErrProviderUnavailable is returned when a wallet or signer extension
// is not installed or the provider rejects the attempt up front. Fatal
// to the attempt, never retried automatically.
var ErrProviderUnavailable = goerrors.New("identity provider unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeProviderUnavailable).
	WithCode(goerrors.CodeInternal)

// ErrUserCancelled is returned when the user aborts an interactive
// flow. Callers return to LoggedOut without surfacing a notification.
var ErrUserCancelled = goerrors.New("login cancelled by user", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserCancelled).
	WithCode(goerrors.CodeUnauthorized)

// ErrMalformedDelegation is returned for byte-format problems in a
// provider-issued delegation. Retrying with the same bytes cannot
// succeed, so the interactive flow must be restarted.
var ErrMalformedDelegation = goerrors.New("malformed delegation", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMalformedDelegation).
	WithCode(goerrors.CodeBadRequest)

// ErrSessionExpired is returned when restore or refresh detects a
// lapsed session. The persisted record is cleared and the user gets an
// explicit "please log in again" notice.
var ErrSessionExpired = goerrors.New("session expired, please log in again", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrPrincipalMismatch indicates the provider resolved a different
// principal than the one recorded for the active session. This is a
// client-side bug, not a revoked credential: the call is aborted and
// logged with both principals, but the session is left standing.
var ErrPrincipalMismatch = goerrors.New("identity principal does not match active session", goerrors.CategoryInternal).
	WithTextCode(TextCodePrincipalMismatch).
	WithCode(goerrors.CodeInternal)

// ErrNotAuthenticated is returned by accessors that need an active
// session when the manager is logged out.
var ErrNotAuthenticated = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnknownLoginType is returned when a persisted record names a
// provider variant this manager has no provider for.
var ErrUnknownLoginType = goerrors.New("unknown login type", goerrors.CategoryBadInput).
	WithTextCode(TextCodeUnknownLoginType).
	WithCode(goerrors.CodeBadRequest)

// WithMeta returns a copy of sentinel carrying meta. WithMetadata
// mutates its receiver, so attaching metadata directly to a
// package-level sentinel would leak it across unrelated failures and
// race between concurrent ones; the copy keeps sentinels immutable
// while errors.Is still matches through Source.
func WithMeta(sentinel *goerrors.Error, meta map[string]any) error {
	clone := sentinel.Clone()
	if clone == nil {
		return sentinel
	}
	clone.Source = sentinel
	return clone.WithMetadata(meta)
}
