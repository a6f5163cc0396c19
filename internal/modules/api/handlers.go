package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"hunter_bot/internal/broker"
	"hunter_bot/internal/executor"
	"hunter_bot/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const defaultJournalLimit = 50

type Desk interface {
	Instructions() []models.TradeInstruction
	ActiveTrades() []models.ActiveTrade
	AddInstruction(ctx context.Context, raw map[string]any) (models.TradeInstruction, error)
	RemoveInstruction(ctx context.Context, id int64) error
	CancelAllInstructions(ctx context.Context) int
	CloseTrade(ctx context.Context, ticket int64) error
	CloseAllTrades(ctx context.Context) int
}

type Quoter interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, bool)
}

type Account interface {
	AccountInfo(ctx context.Context) (models.AccountInfo, error)
}

type Journal interface {
	RecentTrades(ctx context.Context, limit int) ([]models.ClosedTrade, error)
}

type Handlers struct {
	desk    Desk
	quotes  Quoter
	account Account
	journal Journal
}

func NewHandlers(desk Desk, quotes Quoter, account Account, journal Journal) *Handlers {
	return &Handlers{desk: desk, quotes: quotes, account: account, journal: journal}
}

func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/instructions", h.ListInstructions)
	r.POST("/instructions", h.AddInstruction)
	r.DELETE("/instructions", h.CancelInstructions)
	r.DELETE("/instructions/:id", h.RemoveInstruction)
	r.GET("/trades", h.ListTrades)
	r.POST("/trades/close-all", h.CloseAllTrades)
	r.POST("/trades/:ticket/close", h.CloseTrade)
	r.GET("/quotes/:symbol", h.GetQuote)
	r.GET("/account", h.GetAccount)
	r.GET("/journal", h.GetJournal)
}

func (h *Handlers) ListInstructions(c *gin.Context) {
	c.JSON(http.StatusOK, h.desk.Instructions())
}

func (h *Handlers) AddInstruction(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid instruction payload"})
		return
	}

	in, err := h.desk.AddInstruction(c.Request.Context(), raw)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (h *Handlers) CancelInstructions(c *gin.Context) {
	n := h.desk.CancelAllInstructions(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (h *Handlers) RemoveInstruction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid instruction id"})
		return
	}
	if err := h.desk.RemoveInstruction(c.Request.Context(), id); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListTrades(c *gin.Context) {
	c.JSON(http.StatusOK, h.desk.ActiveTrades())
}

func (h *Handlers) CloseTrade(c *gin.Context) {
	ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ticket"})
		return
	}
	if err := h.desk.CloseTrade(c.Request.Context(), ticket); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": ticket})
}

func (h *Handlers) CloseAllTrades(c *gin.Context) {
	total := len(h.desk.ActiveTrades())
	closed := h.desk.CloseAllTrades(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"closed": closed, "total": total})
}

func (h *Handlers) GetQuote(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	q, ok := h.quotes.GetQuote(c.Request.Context(), symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Quote unavailable"})
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handlers) GetAccount(c *gin.Context) {
	info, err := h.account.AccountInfo(c.Request.Context())
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handlers) GetJournal(c *gin.Context) {
	limit := defaultJournalLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	trades, err := h.journal.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if trades == nil {
		trades = []models.ClosedTrade{}
	}
	c.JSON(http.StatusOK, trades)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, executor.ErrInvalidInstruction):
		return http.StatusBadRequest
	case errors.Is(err, executor.ErrInstructionNotFound), errors.Is(err, executor.ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrCloseInProgress):
		return http.StatusConflict
	case errors.Is(err, broker.ErrDisconnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, executor.ErrCloseFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
