package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tadast/signonotron2/internal/domain"
	"github.com/tadast/signonotron2/internal/policy"
	"github.com/tadast/signonotron2/internal/repository"
)

// AccessLog is the queryable view of an account's security event log.
type AccessLog struct {
	User             domain.User
	OrganisationName string
	Entries          []domain.EventLogEntry
}

// EventLogService appends to and reads the append-only security event log.
type EventLogService struct {
	entries repository.EventLogRepository
	users   repository.UserRepository
	orgs    repository.OrganisationRepository
	logger  *zap.Logger
}

// NewEventLogService creates the event log store.
func NewEventLogService(entries repository.EventLogRepository, users repository.UserRepository, orgs repository.OrganisationRepository, logger *zap.Logger) *EventLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLogService{entries: entries, users: users, orgs: orgs, logger: logger}
}

// Record appends one entry for the account. Failures propagate to the caller
// so the surrounding transaction rolls the triggering state change back.
func (s *EventLogService) Record(ctx context.Context, userID int64, event domain.EventType, initiator *domain.User, trailingMessage string) (domain.EventLogEntry, error) {
	entry := domain.EventLogEntry{
		UserID:          userID,
		Event:           event,
		TrailingMessage: trailingMessage,
	}
	if initiator != nil {
		entry.InitiatorID = &initiator.ID
		entry.InitiatorName = initiator.Name
	}

	created, err := s.entries.Insert(ctx, entry)
	if err != nil {
		return domain.EventLogEntry{}, fmt.Errorf("record event: %w", err)
	}

	s.logger.Info("event recorded",
		zap.Int64("user_id", userID),
		zap.String("event", event.Key),
	)
	return created, nil
}

// Query returns the account's log in reverse chronological order, ties broken
// by insertion order. It fails with domain.ErrPermissionDenied unless the
// acting user's role allows the read.
func (s *EventLogService) Query(ctx context.Context, actor domain.User, userID int64) (AccessLog, error) {
	ctx, span := s.startSpan(ctx, "EventLogService.Query")
	defer span.End()

	if !policy.CanViewAnyEventLog(actor) {
		s.denyRead(actor, userID)
		return AccessLog{}, domain.ErrPermissionDenied
	}

	target, err := s.users.GetByID(ctx, userID)
	if err != nil {
		// An organisation admin must not be able to tell an account outside
		// their organisation from one that does not exist.
		if errors.Is(err, domain.ErrNotFound) && actor.Role == domain.RoleOrganisationAdmin {
			s.denyRead(actor, userID)
			return AccessLog{}, domain.ErrPermissionDenied
		}
		span.RecordError(err)
		return AccessLog{}, fmt.Errorf("load account: %w", err)
	}

	if !policy.CanViewEventLog(actor, target) {
		s.denyRead(actor, userID)
		return AccessLog{}, domain.ErrPermissionDenied
	}

	entries, err := s.entries.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return AccessLog{}, fmt.Errorf("list entries: %w", err)
	}

	log := AccessLog{User: target, Entries: entries}
	if target.OrganisationID != nil {
		org, err := s.orgs.GetByID(ctx, *target.OrganisationID)
		if err != nil {
			span.RecordError(err)
			return AccessLog{}, fmt.Errorf("load organisation: %w", err)
		}
		log.OrganisationName = org.Name
	}
	return log, nil
}

func (s *EventLogService) denyRead(actor domain.User, userID int64) {
	s.logger.Warn("event log read denied",
		zap.Int64("actor_id", actor.ID),
		zap.String("actor_role", string(actor.Role)),
		zap.Int64("user_id", userID),
	)
}

func (s *EventLogService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("signonotron2/service").Start(ctx, name)
}
