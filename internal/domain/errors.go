package domain

import "errors"

// PermissionDeniedMessage is shown in place of log contents when a read is
// refused.
const PermissionDeniedMessage = "You do not have permission to perform this action"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the acting user lacks the capability for
	// the requested action.
	ErrPermissionDenied = errors.New(PermissionDeniedMessage)

	// ErrInvalidCredentials covers both unknown identifiers and credential
	// mismatches so responses cannot be used to probe which emails exist.
	ErrInvalidCredentials = errors.New("invalid email or passphrase")

	// ErrAccountLocked denies authentication against a locked account.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountSuspended denies authentication against a suspended account.
	ErrAccountSuspended = errors.New("account suspended")

	// ErrInvalidTransition rejects state changes the account's current
	// status does not allow, e.g. unlocking an account that is not locked.
	ErrInvalidTransition = errors.New("invalid account state transition")

	// ErrInvalidResetToken denies reset flows for unknown, expired or
	// already-consumed tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")

	// ErrInvalidSession denies requests whose bearer token does not resolve
	// to a live session.
	ErrInvalidSession = errors.New("invalid session")
)

// ValidationError carries the user-facing messages of a rejected passphrase
// submission.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return "validation failed"
	}
	msg := e.Messages[0]
	for _, m := range e.Messages[1:] {
		msg += ", " + m
	}
	return msg
}
