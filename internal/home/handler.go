package home

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/pkg/common"
	"github.com/richxcame/konversi/pkg/middleware"
	"github.com/richxcame/konversi/pkg/validation"
	ws "github.com/richxcame/konversi/pkg/websocket"
	"go.uber.org/zap"
)

// Websocket message types.
const (
	MessageState  = "state"
	MessageInput  = "input"
	MessageSelect = "select"
	MessageSync   = "sync"
)

// SyncTrigger enqueues a background sync.
type SyncTrigger interface {
	Initialize() bool
}

// Handler serves the converter over HTTP and websocket.
type Handler struct {
	vm       *ViewModel
	trigger  SyncTrigger
	hub      *ws.Hub
	upgrader gorillaws.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a Handler and registers its websocket commands on hub.
func NewHandler(vm *ViewModel, trigger SyncTrigger, hub *ws.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		vm:      vm,
		trigger: trigger,
		hub:     hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Named("home_handler"),
	}

	hub.RegisterHandler(MessageInput, h.onInput)
	hub.RegisterHandler(MessageSelect, h.onSelect)
	hub.RegisterHandler(MessageSync, h.onSync)
	return h
}

// RegisterRoutes registers converter routes. rest applies to every route
// except the websocket, whose connection must stay hijackable.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, rest ...gin.HandlerFunc) {
	api := rg.Group("", rest...)
	{
		api.GET("/currencies", h.GetCurrencies)
		api.GET("/rates", h.GetRates)
		api.GET("/rates/:code", h.GetRate)
		api.GET("/status", h.GetStatus)
		api.POST("/input", h.UpdateInput)
		api.PUT("/selected", h.UpdateSelected)
		api.POST("/sync", h.TriggerSync)
	}

	rg.GET("/ws", h.HandleWebSocket)
}

// GetCurrencies returns the currency list state
// GET /api/v1/currencies
func (h *Handler) GetCurrencies(c *gin.Context) {
	common.SuccessResponse(c, h.vm.CurrenciesViewState().Value())
}

// GetRates returns the converted rates for the current input
// GET /api/v1/rates
func (h *Handler) GetRates(c *gin.Context) {
	common.SuccessResponse(c, gin.H{
		"input":    h.vm.InputtedValue(),
		"selected": h.vm.SelectedCurrencyCode().Value(),
		"rates":    h.vm.ConversionRatesViewState().Value(),
	})
}

// GetRate returns the converted rate of a single currency
// GET /api/v1/rates/:code
func (h *Handler) GetRate(c *gin.Context) {
	code := c.Param("code")
	if !validation.IsCurrencyCode(code) {
		common.AppErrorResponse(c, common.NewBadRequestError(fmt.Sprintf("code must be a currency code of at most %d characters without spaces", validation.MaxCurrencyCodeLen), nil))
		return
	}

	for _, r := range h.vm.ConversionRatesViewState().Value().Rates {
		if r.Currency.Code == code {
			common.SuccessResponse(c, r)
			return
		}
	}
	common.AppErrorResponse(c, common.NewNotFoundError("no rate for "+code, currency.ErrNotFound))
}

// GetStatus returns sync and connectivity status
// GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	common.SuccessResponse(c, gin.H{
		"is_syncing": h.vm.IsSyncing().Value(),
		"is_online":  h.vm.IsOnline().Value(),
		"selected":   h.vm.SelectedCurrencyCode().Value(),
		"input":      h.vm.InputtedValue(),
		"clients":    h.hub.GetClientCount(),
	})
}

// UpdateInput debounces a new amount
// POST /api/v1/input
func (h *Handler) UpdateInput(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.vm.UpdateInput(req.Text)
	common.SuccessResponseWithStatus(c, http.StatusAccepted, gin.H{"text": req.Text})
}

// UpdateSelected selects the currency the amount is expressed in
// PUT /api/v1/selected
func (h *Handler) UpdateSelected(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	h.vm.UpdateSelectedRate(req.Code)
	common.SuccessResponseWithStatus(c, http.StatusAccepted, gin.H{"selected": req.Code})
}

// TriggerSync enqueues a sync unless one is already pending
// POST /api/v1/sync
func (h *Handler) TriggerSync(c *gin.Context) {
	queued := h.trigger.Initialize()
	common.SuccessResponseWithStatus(c, http.StatusAccepted, gin.H{"queued": queued})
}

// HandleWebSocket upgrades the connection and streams view state
// GET /api/v1/ws
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("correlation_id", middleware.GetCorrelationID(c)),
			zap.Error(err),
		)
		return
	}

	client := ws.NewClient(uuid.NewString(), conn, h.hub, h.logger)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()

	client.SendMessage(h.stateMessage())
}

// Broadcast pushes the view state to every client on each change until ctx
// is done.
func (h *Handler) Broadcast(ctx context.Context) {
	for range h.vm.Changes(ctx) {
		select {
		case h.hub.Broadcast <- h.stateMessage():
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) stateMessage() *ws.Message {
	s := h.vm.Snapshot()
	return &ws.Message{
		Type: MessageState,
		Data: map[string]interface{}{
			"input":      s.Input,
			"selected":   s.Selected,
			"is_syncing": s.IsSyncing,
			"is_online":  s.IsOnline,
			"currencies": s.Currencies,
			"rates":      s.Rates,
		},
	}
}

func (h *Handler) onInput(client *ws.Client, msg *ws.Message) {
	switch v := msg.Data["value"].(type) {
	case string:
		h.vm.UpdateInput(v)
	case float64:
		h.vm.UpdateInput(fmt.Sprint(v))
	default:
		sendError(client, "input value must be a string or number")
	}
}

func (h *Handler) onSelect(client *ws.Client, msg *ws.Message) {
	code, _ := msg.Data["value"].(string)
	if !validation.IsCurrencyCode(code) {
		sendError(client, fmt.Sprintf("value must be a currency code of at most %d characters without spaces", validation.MaxCurrencyCodeLen))
		return
	}
	h.vm.UpdateSelectedRate(code)
}

func (h *Handler) onSync(client *ws.Client, _ *ws.Message) {
	h.hub.SendToUser(client.ID, &ws.Message{
		Type: MessageSync,
		Data: map[string]interface{}{"queued": h.trigger.Initialize()},
	})
}

func sendError(client *ws.Client, message string) {
	client.SendMessage(&ws.Message{
		Type: "error",
		Data: map[string]interface{}{"message": message},
	})
}

func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		common.AppErrorResponse(c, common.NewBadRequestError(validation.NewValidationError(verrs).Error(), err))
		return
	}
	common.AppErrorResponse(c, common.NewBadRequestError("invalid request body", err))
}
