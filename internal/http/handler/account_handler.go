package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tadast/signonotron2/internal/domain"
	"github.com/tadast/signonotron2/internal/http/middleware"
	"github.com/tadast/signonotron2/internal/service"
)

// AccountHandler exposes sign-in, passphrase and account administration
// endpoints.
type AccountHandler struct {
	Accounts *service.AccountService
	Events   *service.EventLogService
	Logger   *zap.Logger
}

// NewAccountHandler creates the handler set.
func NewAccountHandler(accounts *service.AccountService, eventLogs *service.EventLogService, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{Accounts: accounts, Events: eventLogs, Logger: logger}
}

// SignIn authenticates an email/passphrase pair and returns a session token.
// The email field is accepted as any JSON shape: posted params are sometimes
// tampered with, and a non-scalar value must behave exactly like an unknown
// account rather than fail the request.
func (h *AccountHandler) SignIn(c *gin.Context) {
	var req struct {
		Email      any    `json:"email"`
		Passphrase string `json:"passphrase"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid sign in request."})
		return
	}

	email, ok := req.Email.(string)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": domain.ErrInvalidCredentials.Error()})
		return
	}

	result, err := h.Accounts.Authenticate(c.Request.Context(), email, req.Passphrase)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_token": result.SessionToken,
		"user":          userView(result.User),
	})
}

// SignOut revokes the current session.
func (h *AccountHandler) SignOut(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := ""
	if len(header) > len("Bearer ") {
		token = header[len("Bearer "):]
	}
	if err := h.Accounts.SignOut(c.Request.Context(), token); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed_out": true})
}

// ForgotPassphrase starts the reset flow. The response does not reveal
// whether the email exists.
func (h *AccountHandler) ForgotPassphrase(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email is required."})
		return
	}

	if _, err := h.Accounts.RequestPassphraseReset(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Reset instructions sent if the email is registered."})
}

// LoadPassphraseReset handles the reset link being opened.
func (h *AccountHandler) LoadPassphraseReset(c *gin.Context) {
	user, err := h.Accounts.LoadPassphraseReset(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": user.Email})
}

// CompletePassphraseReset applies a submitted reset.
func (h *AccountHandler) CompletePassphraseReset(c *gin.Context) {
	var req struct {
		Token                  string `json:"token" binding:"required"`
		Passphrase             string `json:"passphrase"`
		PassphraseConfirmation string `json:"passphrase_confirmation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Token is required."})
		return
	}

	if err := h.Accounts.CompletePassphraseReset(c.Request.Context(), req.Token, req.Passphrase, req.PassphraseConfirmation); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Passphrase changed."})
}

// ChangePassphrase updates the signed-in user's passphrase.
func (h *AccountHandler) ChangePassphrase(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Sign in required."})
		return
	}

	var req struct {
		CurrentPassphrase      string `json:"current_passphrase"`
		Passphrase             string `json:"passphrase"`
		PassphraseConfirmation string `json:"passphrase_confirmation"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid change request."})
		return
	}

	if err := h.Accounts.ChangePassphrase(c.Request.Context(), actor, req.CurrentPassphrase, req.Passphrase, req.PassphraseConfirmation); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Passphrase changed."})
}

// EventLogs returns the account access log, subject to the viewing policy.
func (h *AccountHandler) EventLogs(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Sign in required."})
		return
	}
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	log, err := h.Events.Query(c.Request.Context(), actor, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	events := make([]gin.H, 0, len(log.Entries))
	for _, entry := range log.Entries {
		events = append(events, gin.H{
			"event":            entry.Event.Key,
			"description":      entry.FullDescription(),
			"trailing_message": entry.TrailingMessage,
			"created_at":       entry.CreatedAt.Format(time.RFC3339),
		})
	}

	view := userView(log.User)
	if log.OrganisationName != "" {
		view["organisation"] = log.OrganisationName
	}
	c.JSON(http.StatusOK, gin.H{"user": view, "events": events})
}

// Unlock returns a locked account to active.
func (h *AccountHandler) Unlock(c *gin.Context) {
	h.transition(c, func(c *gin.Context, actor domain.User, userID int64) (domain.User, error) {
		return h.Accounts.Unlock(c.Request.Context(), actor, userID)
	})
}

// Suspend suspends an account with a reason.
func (h *AccountHandler) Suspend(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Reason for suspension is required."})
		return
	}
	h.transition(c, func(c *gin.Context, actor domain.User, userID int64) (domain.User, error) {
		return h.Accounts.Suspend(c.Request.Context(), actor, userID, req.Reason)
	})
}

// Unsuspend returns a suspended account to active.
func (h *AccountHandler) Unsuspend(c *gin.Context) {
	h.transition(c, func(c *gin.Context, actor domain.User, userID int64) (domain.User, error) {
		return h.Accounts.Unsuspend(c.Request.Context(), actor, userID)
	})
}

func (h *AccountHandler) transition(c *gin.Context, fn func(*gin.Context, domain.User, int64) (domain.User, error)) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Sign in required."})
		return
	}
	userID, ok := pathUserID(c)
	if !ok {
		return
	}

	user, err := fn(c, actor, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userView(user)})
}

func (h *AccountHandler) respondError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_passphrase", "error_description": validationErr.Error(), "messages": validationErr.Messages})
	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "error_description": err.Error()})
	case errors.Is(err, domain.ErrAccountLocked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account_locked", "error_description": "This account has been locked."})
	case errors.Is(err, domain.ErrAccountSuspended):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account_suspended", "error_description": "This account has been suspended."})
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission_denied", "error_description": domain.PermissionDeniedMessage})
	case errors.Is(err, domain.ErrInvalidResetToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "error_description": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "error_description": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "User not found."})
	default:
		h.Logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Something went wrong."})
	}
}

func pathUserID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid user id."})
		return 0, false
	}
	return id, true
}

func userView(user domain.User) gin.H {
	return gin.H{
		"id":     user.ID,
		"name":   user.Name,
		"email":  user.Email,
		"role":   user.Role,
		"status": user.Status,
	}
}
