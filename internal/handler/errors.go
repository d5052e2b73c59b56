package handler

import (
	"errors"
	"log/slog"

	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto response codes. Only insufficient balance, bad input
// and unknown ids are reported specifically; everything else is a generic processing
// failure that keeps the reservation id for support lookups.
func (h *Handler) writeError(c *gin.Context, err error, reservationID int64) {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		response.BusinessError(c, response.CodeBalanceNotEnough, "insufficient balance")
	case errors.Is(err, service.ErrInvalidArgument):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrInvalidSignature):
		response.Unauthorized(c, "invalid signature")
	case errors.Is(err, service.ErrNotFound):
		code, msg := notFound(err)
		response.Error(c, code, msg)
	default:
		level := slog.LevelWarn
		if errors.Is(err, service.ErrDependencyFailure) || !isDomainError(err) {
			level = slog.LevelError
		}
		h.log.Log(c.Request.Context(), level, "request failed",
			"path", c.FullPath(), "reservation_id", reservationID, "err", err,
			"request_id", c.GetString(ContextRequestIDKey))

		data := gin.H{"request_id": c.GetString(ContextRequestIDKey)}
		if reservationID > 0 {
			data["reservation_id"] = reservationID
		}
		response.ErrorWithData(c, response.CodeProcessingFailed, "processing failed", data)
	}
}

func notFound(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrReservationNotFound):
		return response.CodeReservationNotFound, "reservation not found"
	case errors.Is(err, repository.ErrAccountNotFound):
		return response.CodeAccountNotFound, "account not found"
	case errors.Is(err, repository.ErrPaymentNotFound):
		return response.CodePaymentNotFound, "payment not found"
	default:
		return response.CodeNotFound, "not found"
	}
}

func isDomainError(err error) bool {
	return errors.Is(err, service.ErrInvalidState) ||
		errors.Is(err, service.ErrExpired) ||
		errors.Is(err, service.ErrAlreadyCommitted) ||
		errors.Is(err, service.ErrConcurrencyConflict)
}
