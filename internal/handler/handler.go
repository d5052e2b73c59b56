package handler

import (
	"log/slog"
	"strconv"
	"time"

	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler serves the wallet, reservation, payment and pricing endpoints.
type Handler struct {
	accounts     *service.AccountService
	reservations *service.ReservationService
	topups       *service.TopUpService
	pricing      *service.PricingService
	log          *slog.Logger
}

func NewHandler(accounts *service.AccountService, reservations *service.ReservationService, topups *service.TopUpService, pricing *service.PricingService, log *slog.Logger) *Handler {
	return &Handler{
		accounts:     accounts,
		reservations: reservations,
		topups:       topups,
		pricing:      pricing,
		log:          log,
	}
}

// callerAccount resolves the authenticated user to an account, creating it on first use.
func (h *Handler) callerAccount(c *gin.Context) (int64, bool) {
	accountID, _, err := h.accounts.EnsureAccount(c.Request.Context(), c.GetString(ContextUserIDKey))
	if err != nil {
		h.writeError(c, err, 0)
		return 0, false
	}
	return accountID, true
}

// GetBalance
// GET /api/v1/wallet/balance
func (h *Handler) GetBalance(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	balance, err := h.accounts.GetBalance(c.Request.Context(), accountID)
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, balance)
}

// ListTransactions
// GET /api/v1/wallet/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		response.ParamError(c, "invalid page")
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "0"))
	if err != nil {
		response.ParamError(c, "invalid page_size")
		return
	}

	result, err := h.accounts.ListTransactions(c.Request.Context(), accountID, page, pageSize)
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, result)
}

type CreateReservationRequest struct {
	Amount         int64  `json:"amount" binding:"omitempty,gt=0"`
	Operation      string `json:"operation" binding:"max=128"`
	JobID          string `json:"job_id" binding:"required,max=128"`
	TTLMinutes     int    `json:"ttl_minutes" binding:"omitempty,gt=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=256"`
}

// CreateReservation holds credits for a job. The amount comes from the request or, when
// omitted, from the price of the named operation.
// POST /api/v1/wallet/reservations
func (h *Handler) CreateReservation(c *gin.Context) {
	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.Amount == 0 && req.Operation == "" {
		response.ParamError(c, "either amount or operation is required")
		return
	}

	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}

	amount := req.Amount
	if amount == 0 {
		var err error
		amount, err = h.pricing.Resolve(c.Request.Context(), req.Operation)
		if err != nil {
			h.writeError(c, err, 0)
			return
		}
	}

	res, err := h.reservations.CreateReservation(c.Request.Context(), service.CreateReservationInput{
		AccountID:      accountID,
		Amount:         amount,
		JobID:          req.JobID,
		TTL:            time.Duration(req.TTLMinutes) * time.Minute,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, res)
}

// GetReservation
// GET /api/v1/wallet/reservations/:id
func (h *Handler) GetReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "invalid reservation id")
		return
	}
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	res, err := h.reservations.GetReservation(c.Request.Context(), accountID, id)
	if err != nil {
		h.writeError(c, err, id)
		return
	}
	response.Success(c, res)
}

type CommitReservationRequest struct {
	ReservationID  int64  `json:"reservation_id" binding:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=256"`
}

// CommitReservation
// POST /api/v1/wallet/reservations/commit
func (h *Handler) CommitReservation(c *gin.Context) {
	var req CommitReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	amount, err := h.reservations.CommitReservation(c.Request.Context(), accountID, req.ReservationID, req.IdempotencyKey)
	if err != nil {
		h.writeError(c, err, req.ReservationID)
		return
	}
	response.Success(c, gin.H{
		"reservation_id": req.ReservationID,
		"debited":        amount,
	})
}

type ReleaseReservationRequest struct {
	ReservationID  int64  `json:"reservation_id" binding:"required,gt=0"`
	Reason         string `json:"reason" binding:"max=256"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=256"`
}

// ReleaseReservation
// POST /api/v1/wallet/reservations/release
func (h *Handler) ReleaseReservation(c *gin.Context) {
	var req ReleaseReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	amount, err := h.reservations.ReleaseReservation(c.Request.Context(), accountID, req.ReservationID, req.Reason, req.IdempotencyKey)
	if err != nil {
		h.writeError(c, err, req.ReservationID)
		return
	}
	response.Success(c, gin.H{
		"reservation_id": req.ReservationID,
		"released":       amount,
	})
}

// GetPrice
// GET /api/v1/pricing/:model
func (h *Handler) GetPrice(c *gin.Context) {
	modelKey := c.Param("model")
	amount, err := h.pricing.Resolve(c.Request.Context(), modelKey)
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, gin.H{
		"model":  modelKey,
		"amount": amount,
	})
}
