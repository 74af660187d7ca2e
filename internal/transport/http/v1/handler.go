// Package v1 implements the public chat API.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/orchestrator"
	"github.com/revlane/assistant/internal/store"
)

// minInternalKeyLen guards against a short or empty shared credential ever
// opening the billing-bypass path.
const minInternalKeyLen = 32

// Handler serves the v1 chat endpoints.
type Handler struct {
	orch            *orchestrator.Orchestrator
	store           store.Store
	internalEvalKey string
	log             *slog.Logger
}

// NewHandler creates the v1 handler.
func NewHandler(orch *orchestrator.Orchestrator, st store.Store, internalEvalKey string, log *slog.Logger) *Handler {
	return &Handler{
		orch:            orch,
		store:           st,
		internalEvalKey: internalEvalKey,
		log:             log,
	}
}

// RegisterRoutes registers the v1 routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chat", h.Chat)
	e.GET("/v1/conversations/:id/messages", h.ListMessages)
	e.GET("/v1/balance", h.GetBalance)
}

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// Chat handles one conversation turn.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: domain.ErrCodeInternal})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "message is required", Code: domain.ErrCodeMessageRequired})
	}

	if err := h.authenticate(c, &req); err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error(), Code: domain.ErrCodeUnauthorized})
	}

	if req.Stream {
		return h.chatStream(c, &req)
	}

	resp, err := h.orch.Run(c.Request().Context(), &req, nil)
	if err != nil {
		h.log.Error("turn execution failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: domain.ErrCodeInternal})
	}
	status := http.StatusOK
	if resp.ErrorCode == domain.ErrCodeInsufficientBalance {
		status = http.StatusPaymentRequired
	}
	return c.JSON(status, resp)
}

// chatStream runs the turn with SSE emission. Every event frame is named by
// its type and carries the JSON payload.
func (h *Handler) chatStream(c echo.Context, req *domain.ChatRequest) error {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}

	emit := func(ev domain.StreamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Error("stream event marshal failed", "error", err)
			return
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			// Client went away; the orchestrator notices via context.
			return
		}
		flusher.Flush()
	}

	if _, err := h.orch.Run(c.Request().Context(), req, emit); err != nil {
		h.log.Error("streamed turn execution failed", "error", err)
	}
	return nil
}

// ListMessages returns the persisted history of a conversation, oldest first.
// GET /v1/conversations/:id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	userID, _, err := h.identity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error(), Code: domain.ErrCodeUnauthorized})
	}

	conv, err := h.store.GetConversation(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Error: "conversation not found", Code: domain.ErrCodeInternal})
		}
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "lookup failed", Code: domain.ErrCodeInternal})
	}
	if conv.UserID != userID {
		return c.JSON(http.StatusNotFound, errorBody{Error: "conversation not found", Code: domain.ErrCodeInternal})
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	// Fetch one extra row to detect whether older messages exist.
	msgs, err := h.store.GetMessages(c.Request().Context(), conv.ConversationID, limit+1)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "lookup failed", Code: domain.ErrCodeInternal})
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[len(msgs)-limit:]
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversation_id": conv.ConversationID,
		"messages":        msgs,
		"has_more":        hasMore,
	})
}

// GetBalance returns the caller's prepaid balance.
// GET /v1/balance
func (h *Handler) GetBalance(c echo.Context) error {
	userID, plan, err := h.identity(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody{Error: err.Error(), Code: domain.ErrCodeUnauthorized})
	}
	if plan == domain.PlanInternal {
		return c.JSON(http.StatusOK, domain.Balance{UserID: userID, Plan: plan})
	}

	balance, err := h.store.GetBalance(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusOK, domain.Balance{UserID: userID, Plan: plan})
		}
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "lookup failed", Code: domain.ErrCodeInternal})
	}
	return c.JSON(http.StatusOK, balance)
}

// authenticate resolves identity and plan onto the request. The plan is never
// taken from the wire.
func (h *Handler) authenticate(c echo.Context, req *domain.ChatRequest) error {
	userID, plan, err := h.identity(c)
	if err != nil {
		return err
	}
	req.UserID = userID
	req.Plan = plan
	return nil
}

// identity resolves the caller. The internal-evaluation path requires the
// configured shared credential and is unreachable when no key is configured.
func (h *Handler) identity(c echo.Context) (string, domain.Plan, error) {
	if token, ok := bearerToken(c); ok {
		if len(h.internalEvalKey) >= minInternalKeyLen && token == h.internalEvalKey {
			return "internal-eval", domain.PlanInternal, nil
		}
		return "", "", errors.New("invalid credential")
	}

	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		return "", "", errors.New("user identity is required")
	}

	plan := domain.PlanFree
	if balance, err := h.store.GetBalance(c.Request().Context(), userID); err == nil {
		plan = balance.Plan
	}
	return userID, plan, nil
}

func bearerToken(c echo.Context) (string, bool) {
	auth := c.Request().Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}
