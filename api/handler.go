package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"chainchat/messenger"
	"chainchat/models"
	"chainchat/wallet"
)

const pingInterval = 25 * time.Second

// Messenger is the controller surface the HTTP API drives.
type Messenger interface {
	Connect(ctx context.Context) (common.Address, error)
	Disconnect()
	Account() (common.Address, bool)
	Send(ctx context.Context, text string) (models.Message, error)
	Refresh(ctx context.Context) (bool, error)
	Messages(now time.Time) []models.Message
	Message(id string) (models.Message, bool)
	ExplorerURL(txHash string) string
}

// Handler serves the session, message and notice endpoints.
type Handler struct {
	messenger Messenger
	hub       *Hub
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a handler. hub may be nil when notices are not streamed.
func NewHandler(m Messenger, hub *Hub, logger *slog.Logger) *Handler {
	if hub == nil {
		hub = NewHub()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		messenger: m,
		hub:       hub,
		logger:    logger,
		now:       time.Now,
	}
}

type sessionResponse struct {
	Connected bool   `json:"connected"`
	Account   string `json:"account,omitempty"`
	Short     string `json:"short,omitempty"`
}

type messageResponse struct {
	models.Message
	ExplorerURL string `json:"explorer_url,omitempty"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type refreshResponse struct {
	Applied bool `json:"applied"`
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Session reports the connected account.
func (h *Handler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.session())
}

// Connect requests wallet access.
func (h *Handler) Connect(c *gin.Context) {
	if _, err := h.messenger.Connect(c.Request.Context()); err != nil {
		status, message := connectError(err)
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(http.StatusOK, h.session())
}

// Disconnect forgets the connected account.
func (h *Handler) Disconnect(c *gin.Context) {
	h.messenger.Disconnect()
	c.Status(http.StatusNoContent)
}

// ListMessages returns the visible timeline, newest first.
func (h *Handler) ListMessages(c *gin.Context) {
	messages := h.messenger.Messages(h.now())
	resp := listMessagesResponse{Messages: make([]messageResponse, 0, len(messages))}
	for _, msg := range messages {
		resp.Messages = append(resp.Messages, h.toResponse(msg))
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessage returns one message by id.
func (h *Handler) GetMessage(c *gin.Context) {
	msg, ok := h.messenger.Message(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, h.toResponse(msg))
}

// SendMessage accepts a message for delivery and returns the pending entry.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: content is required"})
		return
	}

	msg, err := h.messenger.Send(c.Request.Context(), req.Content)
	if err != nil {
		status, message := sendError(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(c.Request.Context(), "send message failed", "error", err)
		}
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(http.StatusAccepted, h.toResponse(msg))
}

// Refresh fetches recent history from the chain.
func (h *Handler) Refresh(c *gin.Context) {
	applied, err := h.messenger.Refresh(c.Request.Context())
	if err != nil {
		h.logger.WarnContext(c.Request.Context(), "history refresh failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, refreshResponse{Applied: applied})
}

// Notices streams controller notices as server-sent events.
func (h *Handler) Notices(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	notices, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sseWrite(c.Writer, "ping", h.now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()
		case notice := <-notices:
			sseWrite(c.Writer, "notice", notice)
			flusher.Flush()
		}
	}
}

func (h *Handler) session() sessionResponse {
	account, ok := h.messenger.Account()
	if !ok {
		return sessionResponse{}
	}
	return sessionResponse{
		Connected: true,
		Account:   account.Hex(),
		Short:     models.ShortAddress(account.Hex()),
	}
}

func (h *Handler) toResponse(msg models.Message) messageResponse {
	return messageResponse{Message: msg, ExplorerURL: h.messenger.ExplorerURL(msg.TxHash)}
}

func connectError(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "wallet required"
	case errors.Is(err, wallet.ErrUserRejected):
		return http.StatusForbidden, "connection rejected"
	default:
		return http.StatusBadGateway, "failed to connect to wallet"
	}
}

func sendError(err error) (int, string) {
	switch {
	case errors.Is(err, messenger.ErrEmptyMessage):
		return http.StatusBadRequest, "message is empty"
	case errors.Is(err, messenger.ErrMessageTooLong):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, messenger.ErrNotConnected):
		return http.StatusConflict, "wallet not connected"
	case errors.Is(err, messenger.ErrStopped):
		return http.StatusServiceUnavailable, "messenger stopped"
	default:
		return http.StatusInternalServerError, "failed to send message"
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
