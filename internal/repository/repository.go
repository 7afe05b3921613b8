package repository

import (
	"context"

	"github.com/tadast/signonotron2/internal/domain"
)

// UserRepository loads and mutates user accounts. ForUpdate variants take a
// row lock so concurrent state transitions against the same account
// serialize.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByEmailForUpdate(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
	GetByIDForUpdate(ctx context.Context, id int64) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) error
}

// EventLogRepository appends and reads the per-account security event log.
// Entries are never updated or deleted.
type EventLogRepository interface {
	Insert(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.EventLogEntry, error)
}

// SessionRepository persists signed-in sessions keyed by token hash.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) (domain.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (domain.Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
}

// PassphraseResetRepository persists pending reset links keyed by token hash.
type PassphraseResetRepository interface {
	Create(ctx context.Context, reset domain.PassphraseReset) (domain.PassphraseReset, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (domain.PassphraseReset, error)
	MarkConsumed(ctx context.Context, id int64) error
}

// OrganisationRepository loads organisations referenced by users.
type OrganisationRepository interface {
	GetByID(ctx context.Context, id int64) (domain.Organisation, error)
	Create(ctx context.Context, org domain.Organisation) (domain.Organisation, error)
}

// TxRunner executes fn inside a database transaction. Repository calls made
// with the context passed to fn share that transaction, so an account
// mutation and its event append commit or roll back together.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
