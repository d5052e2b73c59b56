package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

func validateInput(in interface{}) error {
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidArgument, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// ledger bundles the repositories that every account-scoped write goes through.
type ledger struct {
	db           *gorm.DB
	cfg          *config.Config
	accounts     *repository.AccountRepository
	transactions *repository.TransactionRepository
	reservations *repository.ReservationRepository
	outbox       *repository.OutboxRepository
	opts         options
}

func newLedger(db *gorm.DB, cfg *config.Config, opts []Option) ledger {
	return ledger{
		db:           db,
		cfg:          cfg,
		accounts:     repository.NewAccountRepository(db),
		transactions: repository.NewTransactionRepository(db),
		reservations: repository.NewReservationRepository(db),
		outbox:       repository.NewOutboxRepository(db),
		opts:         newOptions(cfg, opts),
	}
}

func (l *ledger) log() *slog.Logger {
	return l.opts.logger
}

// lockActiveAccount locks the account row and refuses deactivated accounts.
func (l *ledger) lockActiveAccount(ctx context.Context, tx *gorm.DB, accountID int64) (*model.Account, error) {
	account, err := l.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, fmt.Errorf("%w: account %d is inactive", ErrInvalidState, accountID)
	}
	return account, nil
}

// appendEntry writes one ledger row stamped with the service clock.
func (l *ledger) appendEntry(ctx context.Context, tx *gorm.DB, accountID int64, typ string, amount int64, reference, key, reason string) (*model.AccountTransaction, error) {
	entry := &model.AccountTransaction{
		TransactionNo:  idgen.TransactionNo(),
		AccountID:      accountID,
		Type:           typ,
		Amount:         amount,
		Reference:      reference,
		IdempotencyKey: model.StringPtr(key),
		Reason:         truncate(reason, 256),
		CreatedAt:      l.opts.now(),
	}
	if err := l.transactions.Create(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// reconcileLocked recomputes the balance of a locked account from its ledger and heals any
// drift. account is updated in place so later version checks in tx still hold.
func (l *ledger) reconcileLocked(ctx context.Context, tx *gorm.DB, account *model.Account) (bool, error) {
	sum, err := l.transactions.SumBalance(ctx, tx, account.ID)
	if err != nil {
		return false, err
	}
	if sum == account.Balance {
		return false, nil
	}
	if err := l.accounts.SetBalance(ctx, tx, account.ID, sum, account.Version); err != nil {
		return false, err
	}
	l.log().Warn("balance drift corrected",
		"account_id", account.ID, "cached", account.Balance, "ledger", sum)
	account.Balance = sum
	account.Version++
	return true, nil
}

// publish stores ev in the outbox within tx. Nothing is written when no broker is configured.
func (l *ledger) publish(ctx context.Context, tx *gorm.DB, ev model.LedgerEvent) error {
	if !l.cfg.Kafka.Enabled() || l.cfg.Kafka.Topic.LedgerEvents == "" {
		return nil
	}
	ev.OccurredAt = l.opts.now()
	msg, err := model.NewOutboxMessage(l.cfg.Kafka.Topic.LedgerEvents, ev)
	if err != nil {
		return fmt.Errorf("encode ledger event: %w", err)
	}
	return l.outbox.Create(ctx, tx, msg)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
