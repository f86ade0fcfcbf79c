package scrape

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sahl-financial/sahl_api/internal/attempt"
	"github.com/sahl-financial/sahl_api/internal/middleware"
)

// AttemptLister reads the attempt journal.
type AttemptLister interface {
	Recent(ctx context.Context, clientID, identity string, limit int) ([]attempt.Attempt, error)
}

// Handler exposes the engine over HTTP.
type Handler struct {
	engine   *Engine
	attempts AttemptLister
}

// NewHandler constructs a scrape handler. attempts may be nil.
func NewHandler(engine *Engine, attempts AttemptLister) *Handler {
	return &Handler{engine: engine, attempts: attempts}
}

type scrapeRequest struct {
	Identity string `json:"identity"`
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
	Otp      string `json:"otp"`
}

func (r scrapeRequest) normalized(client string) Request {
	req := Request{Client: client, Identity: r.Identity, Password: r.Password, Code: r.Code}
	if req.Identity == "" {
		req.Identity = r.Username
	}
	if req.Code == "" {
		req.Code = r.Otp
	}
	return req
}

// Scrape runs the login step or the code step depending on the body.
func (h *Handler) Scrape(c *fiber.Ctx) error {
	var body scrapeRequest
	if err := c.BodyParser(&body); err != nil {
		return writeError(c, validationError(PhaseCreated, "invalid body: %v", err))
	}

	res, err := h.engine.Scrape(c.UserContext(), body.normalized(clientID(c)))
	if err != nil {
		return writeError(c, err)
	}
	if res.Status == StatusBalance {
		// Balances must not land in any cache, the idempotency store included.
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":  res.Status,
			"balance": res.Balance,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": res.Status})
}

// Sessions lists the live sessions opened by the calling client.
func (h *Handler) Sessions(c *fiber.Ctx) error {
	infos := h.engine.Store().SnapshotOwned(clientID(c))
	out := make([]fiber.Map, 0, len(infos))
	for _, info := range infos {
		out = append(out, fiber.Map{
			"session_id":    info.ID,
			"identity":      info.Identity,
			"phase":         info.Phase,
			"created_at":    info.CreatedAt.UTC().Format(time.RFC3339Nano),
			"last_activity": info.LastActivity.UTC().Format(time.RFC3339Nano),
			"last_error":    info.LastError,
		})
	}
	return c.JSON(fiber.Map{"sessions": out})
}

// Release closes the caller's session for an identity. Releasing nothing
// succeeds.
func (h *Handler) Release(c *fiber.Ctx) error {
	identity, err := NormalizeIdentity(c.Params("identity"))
	if err != nil {
		return writeError(c, err)
	}
	wait, cancel := context.WithTimeout(c.UserContext(), h.engine.lockWait)
	defer cancel()
	if err := h.engine.Store().Release(wait, identity, clientID(c)); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Attempts lists the caller's recent journaled steps for an identity.
func (h *Handler) Attempts(c *fiber.Ctx) error {
	if h.attempts == nil {
		return fiber.NewError(http.StatusNotFound, "attempt journal disabled")
	}
	identity, err := NormalizeIdentity(c.Query("identity"))
	if err != nil {
		return writeError(c, err)
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.attempts.Recent(c.UserContext(), clientID(c), identity, limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]fiber.Map, 0, len(list))
	for _, a := range list {
		out = append(out, fiber.Map{
			"id":          a.ID,
			"session_id":  a.SessionID,
			"step":        a.Step,
			"outcome":     a.Outcome,
			"phase":       a.Phase,
			"started_at":  a.StartedAt.Format(time.RFC3339Nano),
			"duration_ms": a.Duration.Milliseconds(),
		})
	}
	return c.JSON(fiber.Map{"identity": identity, "attempts": out})
}

func clientID(c *fiber.Ctx) string {
	id, _ := c.Locals(middleware.ClientIDLocal).(string)
	return id
}

// StatusOf maps a classified error to its HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrOtpRejected):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, ErrNavigationTimeout), errors.Is(err, ErrOtpTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDriverFault):
		return http.StatusBadGateway
	case errors.Is(err, ErrBalanceNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	body := fiber.Map{
		"kind":      Code(err),
		"message":   err.Error(),
		"retryable": Transient(err),
	}
	if phase, ok := PhaseOf(err); ok {
		body["phase"] = phase
	}
	var se *StepError
	if errors.As(err, &se) && !errors.Is(err, ErrValidation) {
		// Driver detail stays in the logs.
		body["message"] = se.Kind.Error()
	}
	return c.Status(StatusOf(err)).JSON(fiber.Map{"error": body})
}
