package service

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"creditledger/internal/repository"
)

// Error kinds returned by every service. Callers match them with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidState        = errors.New("invalid state")
	ErrExpired             = errors.New("reservation expired")
	ErrAlreadyCommitted    = errors.New("reservation already committed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDependencyFailure   = errors.New("dependency failure")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
)

var kinds = []error{
	ErrNotFound,
	ErrInsufficientFunds,
	ErrInvalidState,
	ErrExpired,
	ErrAlreadyCommitted,
	ErrConcurrencyConflict,
	ErrDependencyFailure,
	ErrInvalidArgument,
	ErrInvalidSignature,
}

// IsRetryable reports whether err may succeed if the whole operation runs again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrDependencyFailure)
}

// classify maps store errors onto the service error kinds, keeping the original in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	switch {
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrReservationNotFound),
		errors.Is(err, repository.ErrPaymentNotFound),
		errors.Is(err, repository.ErrPackageNotFound),
		errors.Is(err, repository.ErrPriceNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrOptimisticLock),
		errors.Is(err, repository.ErrStatusChanged),
		repository.IsDuplicateKey(err):
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%w: %w", ErrDependencyFailure, err)
	}
	return err
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is locked")
}
