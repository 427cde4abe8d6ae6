package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-ledger/internal/ledger"
)

type createTradeRequest struct {
	Customer      string          `json:"customer" binding:"required"`
	Direction     string          `json:"direction" binding:"required"`
	BaseCurrency  string          `json:"base_currency" binding:"required"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	Operator      string          `json:"operator"`
	Rate          decimal.Decimal `json:"rate"`
	QuoteCurrency string          `json:"quote_currency" binding:"required"`
}

type settlementRequest struct {
	Customer string          `json:"customer" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
}

type adjustmentRequest struct {
	Customer string          `json:"customer" binding:"required"`
	Currency string          `json:"currency" binding:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note"`
}

type expenseRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" binding:"required"`
	Purpose  string          `json:"purpose"`
}

type addressRequest struct {
	Address string `json:"address" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondLedgerError maps the ledger error taxonomy onto HTTP. Store failures are
// logged but never echoed to the client.
func (s *Server) respondLedgerError(c *gin.Context, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "VALIDATION_FAILED",
			"field": ve.Field,
			"error": ve.Error(),
		})
	case errors.Is(err, ledger.ErrValidation):
		respondError(c, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		respondError(c, http.StatusConflict, "CONFLICT", "concurrent update, retry the request")
	default:
		s.logger.Error("request failed",
			zap.String("request_id", c.GetString("RequestID")),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (s *Server) createTrade(c *gin.Context) {
	var req createTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Operator) == "" {
		req.Operator = string(ledger.OperatorMultiply)
	}

	trade, err := s.ledger.CreateTrade(c.Request.Context(), ledger.TradeRequest{
		Customer:      req.Customer,
		Direction:     ledger.Direction(req.Direction),
		BaseCurrency:  req.BaseCurrency,
		BaseAmount:    req.BaseAmount,
		Operator:      ledger.Operator(req.Operator),
		Rate:          req.Rate,
		QuoteCurrency: req.QuoteCurrency,
	})
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) cancelTrade(c *gin.Context) {
	trade, err := s.ledger.CancelTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func (s *Server) applyReceipt(c *gin.Context) {
	s.applySettlement(c, ledger.KindReceipt)
}

func (s *Server) applyPayment(c *gin.Context) {
	s.applySettlement(c, ledger.KindPayment)
}

func (s *Server) applySettlement(c *gin.Context, kind ledger.SettlementKind) {
	var req settlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	apply := s.ledger.ApplyReceipt
	if kind == ledger.KindPayment {
		apply = s.ledger.ApplyPayment
	}
	res, err := apply(c.Request.Context(), req.Customer, req.Currency, req.Amount)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) adjustBalance(c *gin.Context) {
	var req adjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	res, err := s.ledger.AdjustBalance(c.Request.Context(), req.Customer, req.Currency, req.Amount, req.Note)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) recordExpense(c *gin.Context) {
	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	res, err := s.ledger.RecordExpense(c.Request.Context(), req.Amount, req.Currency, req.Purpose)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) listExpenses(c *gin.Context) {
	rows, err := s.reports.Expenses(c.Request.Context())
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) deleteCustomer(c *gin.Context) {
	counts, err := s.ledger.DeleteCustomer(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customer": c.Param("name"), "deleted": counts})
}

func (s *Server) setAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}
	customer, err := s.ledger.SetSettlementAddress(c.Request.Context(), c.Param("name"), req.Address)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (s *Server) getStatement(c *gin.Context) {
	w, err := s.reports.Window(c.Query("range"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	st, err := s.reports.Statement(c.Request.Context(), c.Param("name"), w)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// getBalances defaults to the ledger owner when no customer is given.
func (s *Server) getBalances(c *gin.Context) {
	rows, err := s.reports.Balances(c.Request.Context(), c.Query("customer"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getDebts(c *gin.Context) {
	rows, err := s.reports.Debts(c.Request.Context(), c.Query("customer"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getPnL(c *gin.Context) {
	w, err := s.reports.Window(c.Query("range"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	pnl, err := s.reports.PnL(c.Request.Context(), w)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, pnl)
}

func (s *Server) getDetail(c *gin.Context) {
	w, err := s.reports.Window(c.Query("range"))
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	detail, err := s.reports.DetailReport(c.Request.Context(), w)
	if err != nil {
		s.respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) getSystemMetrics(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not initialized")
		return
	}
	c.JSON(http.StatusOK, s.metrics.GetSnapshot())
}
