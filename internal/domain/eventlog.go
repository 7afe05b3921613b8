package domain

import (
	"fmt"
	"time"
)

// EventType enumerates the security-relevant occurrences recorded against an
// account. IDs are stable and stored; keys are stable API identifiers;
// descriptions are what a viewer sees.
type EventType struct {
	ID          int
	Key         string
	Description string
}

var (
	EventSuccessfulLogin                    = EventType{1, "successful_login", "successful login"}
	EventUnsuccessfulLogin                  = EventType{2, "unsuccessful_login", "unsuccessful login"}
	EventAccountLocked                      = EventType{3, "account_locked", "account locked"}
	EventManualAccountUnlock                = EventType{4, "manual_account_unlock", "manual account unlock"}
	EventAccountSuspended                   = EventType{5, "account_suspended", "account suspended"}
	EventAccountUnsuspended                 = EventType{6, "account_unsuspended", "account unsuspended"}
	EventSuspendedAccountAuthenticatedLogin = EventType{7, "suspended_account_authenticated_login", "suspended account authenticated with correct credentials"}
	EventPassphraseResetRequest             = EventType{8, "passphrase_reset_request", "passphrase reset request"}
	EventPassphraseResetLoaded              = EventType{9, "passphrase_reset_loaded", "passphrase reset page loaded"}
	EventPassphraseResetFailure             = EventType{10, "passphrase_reset_failure", "passphrase reset failure"}
	EventSuccessfulPassphraseChange         = EventType{11, "successful_passphrase_change", "successful passphrase change"}
	EventUnsuccessfulPassphraseChange       = EventType{12, "unsuccessful_passphrase_change", "unsuccessful passphrase change"}
	EventPassphraseExpired                  = EventType{13, "passphrase_expired", "passphrase expired"}
)

var eventTypes = []EventType{
	EventSuccessfulLogin,
	EventUnsuccessfulLogin,
	EventAccountLocked,
	EventManualAccountUnlock,
	EventAccountSuspended,
	EventAccountUnsuspended,
	EventSuspendedAccountAuthenticatedLogin,
	EventPassphraseResetRequest,
	EventPassphraseResetLoaded,
	EventPassphraseResetFailure,
	EventSuccessfulPassphraseChange,
	EventUnsuccessfulPassphraseChange,
	EventPassphraseExpired,
}

// EventTypeByID resolves a stored event type id.
func EventTypeByID(id int) (EventType, bool) {
	for _, et := range eventTypes {
		if et.ID == id {
			return et, true
		}
	}
	return EventType{}, false
}

// EventLogEntry is an immutable record of a security-relevant occurrence tied
// to an account. Entries are append-only; multiple entries may share a
// timestamp, in which case insertion order (the id) is the tie-breaker.
type EventLogEntry struct {
	ID              int64
	UserID          int64
	Event           EventType
	InitiatorID     *int64
	InitiatorName   string
	TrailingMessage string
	CreatedAt       time.Time
}

// FullDescription renders the entry the way the access log displays it,
// appending "by <initiator name>" for admin-performed actions.
func (e EventLogEntry) FullDescription() string {
	if e.InitiatorID != nil && e.InitiatorName != "" {
		return fmt.Sprintf("%s by %s", e.Event.Description, e.InitiatorName)
	}
	return e.Event.Description
}
