package handler

import (
	"io"

	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	HeaderSignature  = "X-Signature"
	maxWebhookBodyKB = 64
)

// ListPackages
// GET /api/v1/payment/packages
func (h *Handler) ListPackages(c *gin.Context) {
	packages, err := h.topups.ListPackages(c.Request.Context())
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, packages)
}

type CreateTopUpRequest struct {
	Amount         int64  `json:"amount" binding:"required,gt=0"`
	Provider       string `json:"provider" binding:"max=32"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=256"`
}

// CreateTopUp
// POST /api/v1/payment/topup
func (h *Handler) CreateTopUp(c *gin.Context) {
	var req CreateTopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	intent, err := h.topups.CreateTopUpIntent(c.Request.Context(), service.TopUpInput{
		AccountID:      accountID,
		Amount:         req.Amount,
		Provider:       req.Provider,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, intent)
}

type CreatePackageTopUpRequest struct {
	PackageID      int64  `json:"package_id" binding:"required,gt=0"`
	Provider       string `json:"provider" binding:"max=32"`
	IdempotencyKey string `json:"idempotency_key" binding:"max=256"`
}

// CreatePackageTopUp
// POST /api/v1/payment/topup/package
func (h *Handler) CreatePackageTopUp(c *gin.Context) {
	var req CreatePackageTopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	intent, err := h.topups.CreateTopUpIntentFromPackage(c.Request.Context(), accountID, req.PackageID, req.Provider, req.IdempotencyKey)
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, intent)
}

// GetTopUp
// GET /api/v1/payment/topup/:ref
func (h *Handler) GetTopUp(c *gin.Context) {
	accountID, ok := h.callerAccount(c)
	if !ok {
		return
	}
	intent, err := h.topups.GetIntent(c.Request.Context(), accountID, c.Param("ref"))
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, intent)
}

// ProviderWebhook is unauthenticated; deliveries are trusted through the signature header.
// POST /api/v1/payment/webhook/:provider
func (h *Handler) ProviderWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyKB<<10))
	if err != nil {
		response.ParamError(c, "unreadable body")
		return
	}
	outcome, err := h.topups.HandleProviderWebhook(c.Request.Context(), c.Param("provider"), body, c.GetHeader(HeaderSignature))
	if err != nil {
		h.writeError(c, err, 0)
		return
	}
	response.Success(c, outcome)
}
