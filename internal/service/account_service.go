package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tadast/signonotron2/internal/config"
	"github.com/tadast/signonotron2/internal/domain"
	"github.com/tadast/signonotron2/internal/policy"
	"github.com/tadast/signonotron2/internal/repository"
)

// AccountService drives all account state transitions. Each action mutates
// the account and appends its events inside one transaction; the account row
// is locked for the duration so concurrent attempts against the same account
// serialize. Denied outcomes (wrong passphrase, rejected passphrase change)
// still commit their events; only storage failures roll back.
type AccountService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	resets   repository.PassphraseResetRepository
	events   *EventLogService
	tx       repository.TxRunner
	cfg      config.Config
	logger   *zap.Logger
	now      func() time.Time
}

// AuthResult is returned on a completed authentication.
type AuthResult struct {
	User         domain.User
	SessionToken string
}

// NewAccountService creates the account state machine.
func NewAccountService(users repository.UserRepository, sessions repository.SessionRepository, resets repository.PassphraseResetRepository, events *EventLogService, tx repository.TxRunner, cfg config.Config, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		users:    users,
		sessions: sessions,
		resets:   resets,
		events:   events,
		tx:       tx,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Authenticate performs an email/passphrase sign-in attempt. An identifier
// that resolves to no account produces no event and no state change so the
// log cannot be used to probe which emails exist.
func (s *AccountService) Authenticate(ctx context.Context, email, passphrase string) (AuthResult, error) {
	ctx, span := s.startSpan(ctx, "AccountService.Authenticate")
	defer span.End()

	normalized := normalizeIdentifier(email)
	if normalized == "" {
		return AuthResult{}, domain.ErrInvalidCredentials
	}

	var (
		result AuthResult
		denial error
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByEmailForUpdate(ctx, normalized)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				denial = domain.ErrInvalidCredentials
				return nil
			}
			return err
		}

		match := bcrypt.CompareHashAndPassword([]byte(user.PassphraseHash), []byte(passphrase)) == nil

		switch {
		case user.Suspended():
			if match {
				if _, err := s.events.Record(ctx, user.ID, domain.EventSuspendedAccountAuthenticatedLogin, nil, ""); err != nil {
					return err
				}
				denial = domain.ErrAccountSuspended
				return nil
			}
			if _, err := s.events.Record(ctx, user.ID, domain.EventUnsuccessfulLogin, nil, ""); err != nil {
				return err
			}
			denial = domain.ErrInvalidCredentials
			return nil

		case user.Locked():
			if _, err := s.events.Record(ctx, user.ID, domain.EventUnsuccessfulLogin, nil, ""); err != nil {
				return err
			}
			denial = domain.ErrAccountLocked
			return nil

		case !match:
			user.FailedAttempts++
			locked := user.FailedAttempts >= s.cfg.MaxFailedAttempts
			if locked {
				user.Status = domain.StatusLocked
			}
			if err := s.users.Update(ctx, user); err != nil {
				return err
			}
			if _, err := s.events.Record(ctx, user.ID, domain.EventUnsuccessfulLogin, nil, ""); err != nil {
				return err
			}
			if locked {
				if _, err := s.events.Record(ctx, user.ID, domain.EventAccountLocked, nil, ""); err != nil {
					return err
				}
				s.logger.Warn("account locked after repeated failures",
					zap.Int64("user_id", user.ID),
					zap.Int("failed_attempts", user.FailedAttempts),
				)
				denial = domain.ErrAccountLocked
				return nil
			}
			denial = domain.ErrInvalidCredentials
			return nil
		}

		user.FailedAttempts = 0
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		if user.PassphraseExpired(s.now(), s.cfg.PassphraseMaxAge) {
			if _, err := s.events.Record(ctx, user.ID, domain.EventPassphraseExpired, nil, ""); err != nil {
				return err
			}
		}
		if _, err := s.events.Record(ctx, user.ID, domain.EventSuccessfulLogin, nil, ""); err != nil {
			return err
		}

		token, err := s.createSession(ctx, user.ID)
		if err != nil {
			return err
		}
		result = AuthResult{User: user, SessionToken: token}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return AuthResult{}, fmt.Errorf("authenticate: %w", err)
	}
	if denial != nil {
		return AuthResult{}, denial
	}

	s.logger.Info("sign in", zap.Int64("user_id", result.User.ID))
	return result, nil
}

// SignOut revokes the session behind the given token.
func (s *AccountService) SignOut(ctx context.Context, token string) error {
	if err := s.sessions.DeleteByTokenHash(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// UserFromSession resolves a bearer session token to its user.
func (s *AccountService) UserFromSession(ctx context.Context, token string) (domain.User, error) {
	session, err := s.sessions.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrInvalidSession
		}
		return domain.User{}, fmt.Errorf("load session: %w", err)
	}
	if s.now().After(session.ExpiresAt) {
		return domain.User{}, domain.ErrInvalidSession
	}
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load session user: %w", err)
	}
	return user, nil
}

// Unlock returns a locked account to active. Only admins may unlock, and the
// acting admin is recorded as the event initiator.
func (s *AccountService) Unlock(ctx context.Context, actor domain.User, userID int64) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AccountService.Unlock")
	defer span.End()

	var unlocked domain.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !policy.CanManageAccount(actor, user) {
			return domain.ErrPermissionDenied
		}
		if !user.Locked() {
			return domain.ErrInvalidTransition
		}

		user.Status = domain.StatusActive
		user.FailedAttempts = 0
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		if _, err := s.events.Record(ctx, user.ID, domain.EventManualAccountUnlock, &actor, ""); err != nil {
			return err
		}
		unlocked = user
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.User{}, wrapTransition("unlock", err)
	}

	s.logger.Info("account unlocked", zap.Int64("user_id", userID), zap.Int64("initiator_id", actor.ID))
	return unlocked, nil
}

// Suspend moves an active or locked account to suspended with a reason. The
// reason becomes the event's trailing message.
func (s *AccountService) Suspend(ctx context.Context, actor domain.User, userID int64, reason string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AccountService.Suspend")
	defer span.End()

	var suspended domain.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !policy.CanManageAccount(actor, user) {
			return domain.ErrPermissionDenied
		}
		if user.Suspended() {
			return domain.ErrInvalidTransition
		}

		user.Status = domain.StatusSuspended
		user.SuspensionReason = strings.TrimSpace(reason)
		user.FailedAttempts = 0
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		if _, err := s.events.Record(ctx, user.ID, domain.EventAccountSuspended, &actor, user.SuspensionReason); err != nil {
			return err
		}
		suspended = user
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.User{}, wrapTransition("suspend", err)
	}

	s.logger.Info("account suspended", zap.Int64("user_id", userID), zap.Int64("initiator_id", actor.ID))
	return suspended, nil
}

// Unsuspend returns a suspended account to active.
func (s *AccountService) Unsuspend(ctx context.Context, actor domain.User, userID int64) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AccountService.Unsuspend")
	defer span.End()

	var unsuspended domain.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if !policy.CanManageAccount(actor, user) {
			return domain.ErrPermissionDenied
		}
		if !user.Suspended() {
			return domain.ErrInvalidTransition
		}

		user.Status = domain.StatusActive
		user.SuspensionReason = ""
		user.FailedAttempts = 0
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		if _, err := s.events.Record(ctx, user.ID, domain.EventAccountUnsuspended, &actor, ""); err != nil {
			return err
		}
		unsuspended = user
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.User{}, wrapTransition("unsuspend", err)
	}

	s.logger.Info("account unsuspended", zap.Int64("user_id", userID), zap.Int64("initiator_id", actor.ID))
	return unsuspended, nil
}

// RequestPassphraseReset issues a reset token for the account behind email.
// Unknown emails succeed silently with no token and no event.
func (s *AccountService) RequestPassphraseReset(ctx context.Context, email string) (string, error) {
	ctx, span := s.startSpan(ctx, "AccountService.RequestPassphraseReset")
	defer span.End()

	normalized := normalizeIdentifier(email)
	if normalized == "" {
		return "", nil
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("passphrase reset requested for unknown email", zap.String("email", normalized))
			return "", nil
		}
		span.RecordError(err)
		return "", fmt.Errorf("request passphrase reset: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("request passphrase reset: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.resets.Create(ctx, domain.PassphraseReset{
			UserID:    user.ID,
			TokenHash: hashToken(token),
			ExpiresAt: s.now().Add(s.cfg.ResetTokenTTL),
		})
		if err != nil {
			return err
		}
		_, err = s.events.Record(ctx, user.ID, domain.EventPassphraseResetRequest, nil, "")
		return err
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("request passphrase reset: %w", err)
	}

	s.logger.Info("passphrase reset requested", zap.Int64("user_id", user.ID))
	return token, nil
}

// LoadPassphraseReset records that the reset link for token was opened and
// returns the account it belongs to. Unknown or dead tokens record nothing.
func (s *AccountService) LoadPassphraseReset(ctx context.Context, token string) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AccountService.LoadPassphraseReset")
	defer span.End()

	reset, err := s.liveReset(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.users.GetByID(ctx, reset.UserID)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("load reset user: %w", err)
	}
	if _, err := s.events.Record(ctx, user.ID, domain.EventPassphraseResetLoaded, nil, ""); err != nil {
		span.RecordError(err)
		return domain.User{}, err
	}
	return user, nil
}

// CompletePassphraseReset validates and applies the submitted passphrase. A
// rejected submission records the joined validation messages in a
// PASSPHRASE_RESET_FAILURE entry and returns a ValidationError.
func (s *AccountService) CompletePassphraseReset(ctx context.Context, token, passphrase, confirmation string) error {
	ctx, span := s.startSpan(ctx, "AccountService.CompletePassphraseReset")
	defer span.End()

	reset, err := s.liveReset(ctx, token)
	if err != nil {
		return err
	}

	var denial error
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByIDForUpdate(ctx, reset.UserID)
		if err != nil {
			return err
		}

		messages := s.validatePassphrase(passphrase, confirmation)
		if len(messages) > 0 {
			if _, err := s.events.Record(ctx, user.ID, domain.EventPassphraseResetFailure, nil, strings.Join(messages, ", ")); err != nil {
				return err
			}
			denial = &domain.ValidationError{Messages: messages}
			return nil
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash passphrase: %w", err)
		}
		user.PassphraseHash = string(hashed)
		user.PassphraseChangedAt = s.now()
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		if err := s.resets.MarkConsumed(ctx, reset.ID); err != nil {
			return err
		}
		_, err = s.events.Record(ctx, user.ID, domain.EventSuccessfulPassphraseChange, nil, "")
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("complete passphrase reset: %w", err)
	}
	return denial
}

// ChangePassphrase updates the signed-in user's passphrase. The current
// passphrase must verify and the new one must differ and pass validation;
// anything else records UNSUCCESSFUL_PASSPHRASE_CHANGE.
func (s *AccountService) ChangePassphrase(ctx context.Context, actor domain.User, current, passphrase, confirmation string) error {
	ctx, span := s.startSpan(ctx, "AccountService.ChangePassphrase")
	defer span.End()

	var denial error
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.GetByIDForUpdate(ctx, actor.ID)
		if err != nil {
			return err
		}

		var messages []string
		if bcrypt.CompareHashAndPassword([]byte(user.PassphraseHash), []byte(current)) != nil {
			messages = append(messages, "Current passphrase is incorrect")
		}
		messages = append(messages, s.validatePassphrase(passphrase, confirmation)...)
		if len(messages) == 0 && passphrase == current {
			messages = append(messages, "Passphrase is the same as the current passphrase")
		}

		if len(messages) > 0 {
			if _, err := s.events.Record(ctx, user.ID, domain.EventUnsuccessfulPassphraseChange, nil, strings.Join(messages, ", ")); err != nil {
				return err
			}
			denial = &domain.ValidationError{Messages: messages}
			return nil
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash passphrase: %w", err)
		}
		user.PassphraseHash = string(hashed)
		user.PassphraseChangedAt = s.now()
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		_, err = s.events.Record(ctx, user.ID, domain.EventSuccessfulPassphraseChange, nil, "")
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("change passphrase: %w", err)
	}
	return denial
}

func (s *AccountService) liveReset(ctx context.Context, token string) (domain.PassphraseReset, error) {
	reset, err := s.resets.GetByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PassphraseReset{}, domain.ErrInvalidResetToken
		}
		return domain.PassphraseReset{}, fmt.Errorf("load reset token: %w", err)
	}
	if reset.Consumed || s.now().After(reset.ExpiresAt) {
		return domain.PassphraseReset{}, domain.ErrInvalidResetToken
	}
	return reset, nil
}

func (s *AccountService) validatePassphrase(passphrase, confirmation string) []string {
	var messages []string
	if passphrase == "" {
		messages = append(messages, "Passphrase can't be blank")
	}
	if len(passphrase) < s.cfg.PassphraseMinLength {
		messages = append(messages, "Passphrase not strong enough")
	}
	if confirmation != passphrase {
		messages = append(messages, "Passphrase confirmation doesn't match")
	}
	return messages
}

func (s *AccountService) createSession(ctx context.Context, userID int64) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	_, err = s.sessions.Create(ctx, domain.Session{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: s.now().Add(s.cfg.SessionTTL),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *AccountService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("signonotron2/service").Start(ctx, name)
}

func wrapTransition(action string, err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) || errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", action, err)
}

func normalizeIdentifier(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
