package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"gorm.io/gorm"
)

const (
	reasonExpired        = "reservation expired"
	reasonCallerReleased = "released by caller"
)

type CreateReservationInput struct {
	AccountID      int64         `validate:"gt=0"`
	Amount         int64         `validate:"gt=0"`
	JobID          string        `validate:"required,max=128"`
	TTL            time.Duration `validate:"gte=0"`
	IdempotencyKey string        `validate:"max=256"`
}

type ReservationResult struct {
	ReservationID int64     `json:"reservation_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	Replayed      bool      `json:"replayed"`
}

func resultOf(res *model.Reservation, replayed bool) *ReservationResult {
	return &ReservationResult{
		ReservationID: res.ID,
		Amount:        res.Amount,
		Status:        res.Status,
		ExpiresAt:     res.ExpiresAt,
		Replayed:      replayed,
	}
}

// ReservationService runs the hold, commit and release state machine. Every operation
// locks the owning account row, checks its version token on write, and is retried as a
// whole when it loses a race.
type ReservationService struct {
	ledger
}

func NewReservationService(db *gorm.DB, cfg *config.Config, opts ...Option) *ReservationService {
	return &ReservationService{ledger: newLedger(db, cfg, opts)}
}

// CreateReservation holds in.Amount against the account until commit, release or expiry.
// A repeated idempotency key returns the original reservation without a second hold.
func (s *ReservationService) CreateReservation(ctx context.Context, in CreateReservationInput) (*ReservationResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	ttl, err := s.resolveTTL(in.TTL)
	if err != nil {
		return nil, err
	}

	out, err := withRetry(ctx, s.opts.retry, s.log(), "create_reservation", func() (*ReservationResult, error) {
		var out *ReservationResult
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.lockActiveAccount(ctx, tx, in.AccountID)
			if err != nil {
				return err
			}

			if in.IdempotencyKey != "" {
				existing, err := s.reservations.GetByIdempotencyKey(ctx, tx, account.ID, in.IdempotencyKey)
				if err != nil {
					return err
				}
				if existing != nil {
					out = resultOf(existing, true)
					return nil
				}
			}

			if s.cfg.Business.ReconcileOnReserve {
				if _, err := s.reconcileLocked(ctx, tx, account); err != nil {
					return err
				}
			}

			now := s.opts.now()
			held, err := s.reservations.SumActiveHeld(ctx, tx, account.ID, now)
			if err != nil {
				return err
			}
			if available := account.Balance - held; available < in.Amount {
				return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientFunds, available, in.Amount)
			}

			res := &model.Reservation{
				AccountID:      account.ID,
				Amount:         in.Amount,
				JobID:          in.JobID,
				Status:         model.ReservationStatusActive,
				ExpiresAt:      now.Add(ttl),
				IdempotencyKey: model.StringPtr(in.IdempotencyKey),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.reservations.Create(ctx, tx, res); err != nil {
				return err
			}
			if _, err := s.appendEntry(ctx, tx, account.ID, model.TransactionTypeReserve, res.Amount,
				res.LedgerReference(), "reserve_"+strconv.FormatInt(res.ID, 10), "hold for job "+res.JobID); err != nil {
				return err
			}
			if err := s.accounts.Touch(ctx, tx, account.ID, account.Version); err != nil {
				return err
			}

			out = resultOf(res, false)
			return nil
		})
		return out, err
	})
	if err != nil {
		return nil, err
	}
	if !out.Replayed {
		s.log().Info("reservation created",
			"account_id", in.AccountID, "reservation_id", out.ReservationID, "job_id", in.JobID,
			"amount", out.Amount, "expires_at", out.ExpiresAt)
	}
	return out, nil
}

// CommitReservation settles an active hold into a debit. Committing twice returns the
// amount debited the first time.
func (s *ReservationService) CommitReservation(ctx context.Context, accountID, reservationID int64, idempotencyKey string) (int64, error) {
	if len(idempotencyKey) > 256 {
		return 0, fmt.Errorf("%w: idempotency key longer than 256", ErrInvalidArgument)
	}
	ledgerKey := "commit_" + strconv.FormatInt(reservationID, 10)
	if idempotencyKey != "" {
		ledgerKey = "commit:" + idempotencyKey
	}

	type result struct {
		amount   int64
		replayed bool
	}
	r, err := withRetry(ctx, s.opts.retry, s.log(), "commit_reservation", func() (result, error) {
		var out result
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, res, err := s.lockReservation(ctx, tx, accountID, reservationID)
			if err != nil {
				return err
			}

			if idempotencyKey != "" {
				replayed, amount, err := s.replayByKey(ctx, tx, account.ID, ledgerKey, res)
				if err != nil || replayed {
					out = result{amount: amount, replayed: replayed}
					return err
				}
			}

			switch {
			case res.Status == model.ReservationStatusCommitted:
				out = result{amount: res.Amount, replayed: true}
				return nil
			case !model.CanTransitionTo(res.Status, model.ReservationStatusCommitted):
				return fmt.Errorf("%w: reservation %d is %s", ErrInvalidState, res.ID, res.Status)
			}

			now := s.opts.now()
			if res.IsExpiredAt(now) {
				return fmt.Errorf("%w: reservation %d expired at %s", ErrExpired, res.ID, res.ExpiresAt.Format(time.RFC3339))
			}
			if account.Balance < res.Amount {
				return fmt.Errorf("%w: balance %d below reserved %d", ErrInsufficientFunds, account.Balance, res.Amount)
			}

			if err := s.reservations.UpdateStatus(ctx, tx, res.ID, model.ReservationStatusActive, model.ReservationStatusCommitted, now); err != nil {
				return err
			}
			if err := s.accounts.ApplyDelta(ctx, tx, account.ID, -res.Amount, account.Version); err != nil {
				return err
			}
			if _, err := s.appendEntry(ctx, tx, account.ID, model.TransactionTypeDebit, res.Amount,
				res.LedgerReference(), ledgerKey, "commit job "+res.JobID); err != nil {
				return err
			}
			if err := s.publish(ctx, tx, model.LedgerEvent{
				Type:          model.EventReservationCommitted,
				AccountID:     account.ID,
				UserID:        account.UserID,
				ReservationID: res.ID,
				JobID:         res.JobID,
				Amount:        res.Amount,
				Balance:       account.Balance - res.Amount,
			}); err != nil {
				return err
			}

			out = result{amount: res.Amount}
			return nil
		})
		return out, err
	})
	if err != nil {
		return 0, err
	}
	if !r.replayed {
		s.log().Info("reservation committed", "account_id", accountID, "reservation_id", reservationID, "amount", r.amount)
	}
	return r.amount, nil
}

// ReleaseReservation cancels a hold without debiting. Releasing a reservation that is
// already released or expired returns its amount again; a committed one cannot be released.
func (s *ReservationService) ReleaseReservation(ctx context.Context, accountID, reservationID int64, reason, idempotencyKey string) (int64, error) {
	if len(idempotencyKey) > 256 {
		return 0, fmt.Errorf("%w: idempotency key longer than 256", ErrInvalidArgument)
	}
	if reason == "" {
		reason = reasonCallerReleased
	}
	ledgerKey := "release_" + strconv.FormatInt(reservationID, 10)
	if idempotencyKey != "" {
		ledgerKey = "release:" + idempotencyKey
	}

	type result struct {
		amount   int64
		replayed bool
	}
	r, err := withRetry(ctx, s.opts.retry, s.log(), "release_reservation", func() (result, error) {
		var out result
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, res, err := s.lockReservation(ctx, tx, accountID, reservationID)
			if err != nil {
				return err
			}

			if idempotencyKey != "" {
				replayed, amount, err := s.replayByKey(ctx, tx, account.ID, ledgerKey, res)
				if err != nil || replayed {
					out = result{amount: amount, replayed: replayed}
					return err
				}
			}

			switch res.Status {
			case model.ReservationStatusReleased, model.ReservationStatusExpired:
				out = result{amount: res.Amount, replayed: true}
				return nil
			case model.ReservationStatusCommitted:
				return fmt.Errorf("%w: reservation %d", ErrAlreadyCommitted, res.ID)
			}

			now := s.opts.now()
			if err := s.reservations.UpdateStatus(ctx, tx, res.ID, model.ReservationStatusActive, model.ReservationStatusReleased, now); err != nil {
				return err
			}
			if _, err := s.appendEntry(ctx, tx, account.ID, model.TransactionTypeRelease, res.Amount,
				res.LedgerReference(), ledgerKey, reason); err != nil {
				return err
			}
			if err := s.accounts.Touch(ctx, tx, account.ID, account.Version); err != nil {
				return err
			}
			if err := s.publish(ctx, tx, model.LedgerEvent{
				Type:          model.EventReservationReleased,
				AccountID:     account.ID,
				UserID:        account.UserID,
				ReservationID: res.ID,
				JobID:         res.JobID,
				Amount:        res.Amount,
				Balance:       account.Balance,
				Reason:        truncate(reason, 256),
			}); err != nil {
				return err
			}

			out = result{amount: res.Amount}
			return nil
		})
		return out, err
	})
	if err != nil {
		return 0, err
	}
	if !r.replayed {
		s.log().Info("reservation released", "account_id", accountID, "reservation_id", reservationID, "amount", r.amount, "reason", reason)
	}
	return r.amount, nil
}

// ExpireStaleReservations moves every ACTIVE reservation past its TTL to EXPIRED, one
// account transaction per reservation, and returns how many it expired. A failure on one
// reservation does not stop the others; the failures are joined into the returned error.
func (s *ReservationService) ExpireStaleReservations(ctx context.Context) (int, error) {
	batchSize := s.cfg.Business.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var (
		expired int
		errs    []error
	)
	for {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		now := s.opts.now()
		stale, err := withRetry(ctx, s.opts.retry, s.log(), "list_expired", func() ([]*model.Reservation, error) {
			return s.reservations.ListExpiredActive(ctx, now, batchSize)
		})
		if err != nil {
			errs = append(errs, err)
			break
		}
		if len(stale) == 0 {
			break
		}

		round := 0
		for _, res := range stale {
			ok, err := s.expireOne(ctx, res.AccountID, res.ID)
			if err != nil {
				s.log().Error("expire reservation failed", "reservation_id", res.ID, "account_id", res.AccountID, "err", err)
				errs = append(errs, fmt.Errorf("reservation %d: %w", res.ID, err))
				continue
			}
			if ok {
				round++
			}
		}
		expired += round

		if round == 0 || len(stale) < batchSize {
			break
		}
	}

	if expired > 0 {
		s.log().Info("stale reservations expired", "count", expired)
	}
	return expired, errors.Join(errs...)
}

func (s *ReservationService) expireOne(ctx context.Context, accountID, reservationID int64) (bool, error) {
	return withRetry(ctx, s.opts.retry, s.log(), "expire_reservation", func() (bool, error) {
		var done bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
			if err != nil {
				return err
			}
			res, err := s.reservations.GetByID(ctx, tx, reservationID)
			if err != nil {
				return err
			}
			now := s.opts.now()
			if model.IsTerminal(res.Status) || !res.IsExpiredAt(now) {
				return nil
			}

			if err := s.reservations.UpdateStatus(ctx, tx, res.ID, model.ReservationStatusActive, model.ReservationStatusExpired, now); err != nil {
				return err
			}
			if _, err := s.appendEntry(ctx, tx, account.ID, model.TransactionTypeRelease, res.Amount,
				res.LedgerReference(), "expire_"+strconv.FormatInt(res.ID, 10), reasonExpired); err != nil {
				return err
			}
			if err := s.accounts.Touch(ctx, tx, account.ID, account.Version); err != nil {
				return err
			}
			if err := s.publish(ctx, tx, model.LedgerEvent{
				Type:          model.EventReservationExpired,
				AccountID:     account.ID,
				UserID:        account.UserID,
				ReservationID: res.ID,
				JobID:         res.JobID,
				Amount:        res.Amount,
				Balance:       account.Balance,
				Reason:        reasonExpired,
			}); err != nil {
				return err
			}
			done = true
			return nil
		})
		return done, err
	})
}

// GetReservation looks a reservation up for its owner.
func (s *ReservationService) GetReservation(ctx context.Context, accountID, reservationID int64) (*model.Reservation, error) {
	return withRetry(ctx, s.opts.retry, s.log(), "get_reservation", func() (*model.Reservation, error) {
		res, err := s.reservations.GetByID(ctx, nil, reservationID)
		if err != nil {
			return nil, err
		}
		if res.AccountID != accountID {
			return nil, repository.ErrReservationNotFound
		}
		return res, nil
	})
}

// lockReservation locks the owning account and loads the reservation inside tx. A
// reservation of another account is reported as not found.
func (s *ReservationService) lockReservation(ctx context.Context, tx *gorm.DB, accountID, reservationID int64) (*model.Account, *model.Reservation, error) {
	account, err := s.lockActiveAccount(ctx, tx, accountID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.reservations.GetByID(ctx, tx, reservationID)
	if err != nil {
		return nil, nil, err
	}
	if res.AccountID != account.ID {
		return nil, nil, repository.ErrReservationNotFound
	}
	return account, res, nil
}

// replayByKey finds a ledger entry already written under key. An entry for a different
// reservation means the caller reused the key.
func (s *ReservationService) replayByKey(ctx context.Context, tx *gorm.DB, accountID int64, key string, res *model.Reservation) (bool, int64, error) {
	entry, err := s.transactions.GetByIdempotencyKey(ctx, tx, accountID, key)
	if err != nil {
		return false, 0, err
	}
	if entry == nil {
		return false, 0, nil
	}
	if entry.Reference != res.LedgerReference() {
		return false, 0, fmt.Errorf("%w: idempotency key already used for %s", ErrInvalidArgument, entry.Reference)
	}
	return true, entry.Amount, nil
}

func (s *ReservationService) resolveTTL(ttl time.Duration) (time.Duration, error) {
	b := s.cfg.Business
	if ttl == 0 {
		return b.DefaultReservationTTL, nil
	}
	if ttl < b.MinReservationTTL || ttl > b.MaxReservationTTL {
		return 0, fmt.Errorf("%w: ttl %s outside [%s, %s]", ErrInvalidArgument, ttl, b.MinReservationTTL, b.MaxReservationTTL)
	}
	return ttl, nil
}
