package service

import (
	"context"
	"errors"
	"fmt"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"gorm.io/gorm"
)

// Balance is the cached balance together with the funds currently on hold.
type Balance struct {
	AccountID int64  `json:"account_id"`
	Currency  string `json:"currency"`
	Balance   int64  `json:"balance"`
	Held      int64  `json:"held"`
	Available int64  `json:"available"`
}

// MaxPage bounds the page number so the row offset stays far from overflow.
const MaxPage = 100000

// TransactionPage is one page of an account's ledger, with the page and size actually used.
type TransactionPage struct {
	List     []*model.AccountTransaction `json:"list"`
	Total    int64                       `json:"total"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
}

type AccountService struct {
	ledger
}

func NewAccountService(db *gorm.DB, cfg *config.Config, opts ...Option) *AccountService {
	return &AccountService{ledger: newLedger(db, cfg, opts)}
}

// EnsureAccount returns the user's account, creating it with the welcome credit on first use.
func (s *AccountService) EnsureAccount(ctx context.Context, userID string) (int64, bool, error) {
	if userID == "" || len(userID) > 128 {
		return 0, false, fmt.Errorf("%w: user id must be 1-128 characters", ErrInvalidArgument)
	}

	type result struct {
		id      int64
		created bool
	}
	r, err := withRetry(ctx, s.opts.retry, s.log(), "ensure_account", func() (result, error) {
		existing, err := s.accounts.GetByUserID(ctx, nil, userID)
		if err == nil {
			return result{id: existing.ID}, nil
		}
		if !errors.Is(err, repository.ErrAccountNotFound) {
			return result{}, err
		}

		var out result
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.opts.now()
			account := &model.Account{
				UserID:    userID,
				Currency:  s.currency(),
				Balance:   s.cfg.Business.WelcomeCredit,
				IsActive:  true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			created, err := s.accounts.CreateIfAbsent(ctx, tx, account)
			if err != nil {
				return err
			}
			if !created {
				winner, err := s.accounts.GetByUserID(ctx, tx, userID)
				if err != nil {
					return err
				}
				out = result{id: winner.ID}
				return nil
			}

			if s.cfg.Business.WelcomeCredit > 0 {
				_, err := s.appendEntry(ctx, tx, account.ID, model.TransactionTypeCredit, s.cfg.Business.WelcomeCredit,
					model.ReferenceWelcomeBonus, "welcome_"+userID, "welcome credit")
				if err != nil {
					return err
				}
			}
			out = result{id: account.ID, created: true}
			return nil
		})
		return out, err
	})
	if err != nil {
		return 0, false, err
	}
	if r.created {
		s.log().Info("account created", "account_id", r.id, "user_id", userID, "welcome_credit", s.cfg.Business.WelcomeCredit)
	}
	return r.id, r.created, nil
}

// GetBalance returns the cached balance and the active-hold view of it. With
// business.reconcile_on_read the balance is checked against the ledger first.
func (s *AccountService) GetBalance(ctx context.Context, accountID int64) (*Balance, error) {
	if s.cfg.Business.ReconcileOnRead {
		if _, err := s.Reconcile(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return withRetry(ctx, s.opts.retry, s.log(), "get_balance", func() (*Balance, error) {
		account, err := s.accounts.GetByID(ctx, nil, accountID)
		if err != nil {
			return nil, err
		}
		held, err := s.reservations.SumActiveHeld(ctx, nil, accountID, s.opts.now())
		if err != nil {
			return nil, err
		}
		return &Balance{
			AccountID: account.ID,
			Currency:  account.Currency,
			Balance:   account.Balance,
			Held:      held,
			Available: account.Balance - held,
		}, nil
	})
}

// ListTransactions pages the ledger newest first. page is clamped to [1, MaxPage] and the page
// size to business.max_page_size.
func (s *AccountService) ListTransactions(ctx context.Context, accountID int64, page, pageSize int) (*TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if pageSize <= 0 {
		pageSize = s.cfg.Business.DefaultPageSize
	}
	if pageSize > s.cfg.Business.MaxPageSize {
		pageSize = s.cfg.Business.MaxPageSize
	}

	return withRetry(ctx, s.opts.retry, s.log(), "list_transactions", func() (*TransactionPage, error) {
		if _, err := s.accounts.GetByID(ctx, nil, accountID); err != nil {
			return nil, err
		}
		items, total, err := s.transactions.ListByAccountID(ctx, accountID, page, pageSize)
		if err != nil {
			return nil, err
		}
		return &TransactionPage{List: items, Total: total, Page: page, PageSize: pageSize}, nil
	})
}

// Reconcile recomputes the account balance from its ledger and reports whether it had drifted.
func (s *AccountService) Reconcile(ctx context.Context, accountID int64) (bool, error) {
	return withRetry(ctx, s.opts.retry, s.log(), "reconcile", func() (bool, error) {
		var corrected bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			account, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
			if err != nil {
				return err
			}
			corrected, err = s.reconcileLocked(ctx, tx, account)
			return err
		})
		return corrected, err
	})
}

func (s *AccountService) currency() string {
	if s.cfg.Business.Currency == "" {
		return model.DefaultCurrency
	}
	return s.cfg.Business.Currency
}
