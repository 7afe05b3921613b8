package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tadast/signonotron2/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository            = (*PostgresUserRepo)(nil)
	_ EventLogRepository        = (*PostgresEventLogRepo)(nil)
	_ SessionRepository         = (*PostgresSessionRepo)(nil)
	_ PassphraseResetRepository = (*PostgresPassphraseResetRepo)(nil)
	_ OrganisationRepository    = (*PostgresOrganisationRepo)(nil)
	_ TxRunner                  = (*TxManager)(nil)
)

type txKey struct{}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so repositories run
// inside the ambient transaction when one is present on the context.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager starts transactions on the pool and threads them through the
// context for the Postgres repositories.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func queryFrom(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

const userColumns = `id, organisation_id, name, email, passphrase_hash, role, status, failed_attempts, suspension_reason, passphrase_changed_at, created_at, updated_at`

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresUserRepo) GetByEmailForUpdate(ctx context.Context, email string) (domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 FOR UPDATE`, email)
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresUserRepo) GetByIDForUpdate(ctx context.Context, id int64) (domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresUserRepo) getUser(ctx context.Context, sql string, arg any) (domain.User, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, sql, arg)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", mapNoRows(err))
	}
	return user, nil
}

const insertUserSQL = `INSERT INTO users (organisation_id, name, email, passphrase_hash, role, status, failed_attempts, suspension_reason, passphrase_changed_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, '', $7)
RETURNING ` + userColumns

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, insertUserSQL,
		user.OrganisationID,
		user.Name,
		user.Email,
		user.PassphraseHash,
		user.Role,
		user.Status,
		user.PassphraseChangedAt,
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

const updateUserSQL = `UPDATE users
SET status = $2, failed_attempts = $3, passphrase_hash = $4, suspension_reason = $5, passphrase_changed_at = $6, updated_at = now()
WHERE id = $1`

func (r *PostgresUserRepo) Update(ctx context.Context, user domain.User) error {
	tag, err := queryFrom(ctx, r.pool).Exec(ctx, updateUserSQL,
		user.ID,
		user.Status,
		user.FailedAttempts,
		user.PassphraseHash,
		user.SuspensionReason,
		user.PassphraseChangedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user: %w", domain.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.OrganisationID,
		&u.Name,
		&u.Email,
		&u.PassphraseHash,
		&u.Role,
		&u.Status,
		&u.FailedAttempts,
		&u.SuspensionReason,
		&u.PassphraseChangedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// PostgresEventLogRepo implements EventLogRepository.
type PostgresEventLogRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresEventLogRepo(pool *pgxpool.Pool) *PostgresEventLogRepo {
	return &PostgresEventLogRepo{pool: pool}
}

const insertEventLogSQL = `INSERT INTO event_logs (user_id, event_id, initiator_id, trailing_message)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`

func (r *PostgresEventLogRepo) Insert(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, insertEventLogSQL,
		entry.UserID,
		entry.Event.ID,
		entry.InitiatorID,
		entry.TrailingMessage,
	)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return domain.EventLogEntry{}, fmt.Errorf("insert event log: %w", err)
	}
	return entry, nil
}

// Reverse chronological; id breaks ties for entries sharing a timestamp.
const listEventLogsSQL = `SELECT e.id, e.user_id, e.event_id, e.initiator_id, COALESCE(i.name, ''), e.trailing_message, e.created_at
FROM event_logs e
LEFT JOIN users i ON i.id = e.initiator_id
WHERE e.user_id = $1
ORDER BY e.created_at DESC, e.id DESC`

func (r *PostgresEventLogRepo) ListByUser(ctx context.Context, userID int64) ([]domain.EventLogEntry, error) {
	rows, err := queryFrom(ctx, r.pool).Query(ctx, listEventLogsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.EventLogEntry
	for rows.Next() {
		var (
			entry   domain.EventLogEntry
			eventID int
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &eventID, &entry.InitiatorID, &entry.InitiatorName, &entry.TrailingMessage, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event log: %w", err)
		}
		event, ok := domain.EventTypeByID(eventID)
		if !ok {
			return nil, fmt.Errorf("list event logs: unknown event id %d", eventID)
		}
		entry.Event = event
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list event logs: %w", err)
	}
	return entries, nil
}

// PostgresSessionRepo implements SessionRepository.
type PostgresSessionRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{pool: pool}
}

const insertSessionSQL = `INSERT INTO sessions (user_id, token_hash, expires_at)
VALUES ($1, $2, $3)
RETURNING id, created_at`

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, insertSessionSQL, session.UserID, session.TokenHash, session.ExpiresAt)
	if err := row.Scan(&session.ID, &session.CreatedAt); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (r *PostgresSessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (domain.Session, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at FROM sessions WHERE token_hash = $1`, tokenHash)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt); err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", mapNoRows(err))
	}
	return s, nil
}

func (r *PostgresSessionRepo) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := queryFrom(ctx, r.pool).Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PostgresPassphraseResetRepo implements PassphraseResetRepository.
type PostgresPassphraseResetRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPassphraseResetRepo(pool *pgxpool.Pool) *PostgresPassphraseResetRepo {
	return &PostgresPassphraseResetRepo{pool: pool}
}

const insertResetSQL = `INSERT INTO passphrase_resets (user_id, token_hash, expires_at)
VALUES ($1, $2, $3)
RETURNING id, created_at`

func (r *PostgresPassphraseResetRepo) Create(ctx context.Context, reset domain.PassphraseReset) (domain.PassphraseReset, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, insertResetSQL, reset.UserID, reset.TokenHash, reset.ExpiresAt)
	if err := row.Scan(&reset.ID, &reset.CreatedAt); err != nil {
		return domain.PassphraseReset{}, fmt.Errorf("create passphrase reset: %w", err)
	}
	return reset, nil
}

func (r *PostgresPassphraseResetRepo) GetByTokenHash(ctx context.Context, tokenHash string) (domain.PassphraseReset, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at, consumed FROM passphrase_resets WHERE token_hash = $1`, tokenHash)
	var p domain.PassphraseReset
	if err := row.Scan(&p.ID, &p.UserID, &p.TokenHash, &p.CreatedAt, &p.ExpiresAt, &p.Consumed); err != nil {
		return domain.PassphraseReset{}, fmt.Errorf("get passphrase reset: %w", mapNoRows(err))
	}
	return p, nil
}

func (r *PostgresPassphraseResetRepo) MarkConsumed(ctx context.Context, id int64) error {
	if _, err := queryFrom(ctx, r.pool).Exec(ctx, `UPDATE passphrase_resets SET consumed = true WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark passphrase reset consumed: %w", err)
	}
	return nil
}

// PostgresOrganisationRepo implements OrganisationRepository.
type PostgresOrganisationRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresOrganisationRepo(pool *pgxpool.Pool) *PostgresOrganisationRepo {
	return &PostgresOrganisationRepo{pool: pool}
}

func (r *PostgresOrganisationRepo) GetByID(ctx context.Context, id int64) (domain.Organisation, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, slug, created_at, updated_at FROM organisations WHERE id = $1`, id)
	var o domain.Organisation
	if err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Organisation{}, fmt.Errorf("get organisation: %w", mapNoRows(err))
	}
	return o, nil
}

const insertOrganisationSQL = `INSERT INTO organisations (name, slug)
VALUES ($1, $2)
RETURNING id, name, slug, created_at, updated_at`

func (r *PostgresOrganisationRepo) Create(ctx context.Context, org domain.Organisation) (domain.Organisation, error) {
	row := queryFrom(ctx, r.pool).QueryRow(ctx, insertOrganisationSQL, org.Name, org.Slug)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return domain.Organisation{}, fmt.Errorf("create organisation: %w", err)
	}
	return org, nil
}
