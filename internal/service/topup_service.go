package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	WebhookActionCredited = "credited"
	WebhookActionFailed   = "failed"
	WebhookActionIgnored  = "ignored"
)

type TopUpInput struct {
	AccountID      int64  `validate:"gt=0"`
	Amount         int64  `validate:"gt=0"`
	Provider       string `validate:"max=32"`
	IdempotencyKey string `validate:"max=256"`
}

// WebhookOutcome tells the provider endpoint what a delivery did.
type WebhookOutcome struct {
	IntentRef string `json:"intent_ref"`
	Status    string `json:"status"`
	Action    string `json:"action"`
}

type webhookPayload struct {
	IntentID      string `json:"intentId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// TopUpService turns confirmed external payments into ledger credits.
type TopUpService struct {
	ledger
	payments *repository.PaymentRepository
	catalog  *repository.CatalogRepository
}

func NewTopUpService(db *gorm.DB, cfg *config.Config, opts ...Option) *TopUpService {
	return &TopUpService{
		ledger:   newLedger(db, cfg, opts),
		payments: repository.NewPaymentRepository(db),
		catalog:  repository.NewCatalogRepository(db),
	}
}

// CreateTopUpIntent records a PENDING payment with a provider-facing reference. It never
// touches the balance. Replaying an idempotency key returns the first record.
func (s *TopUpService) CreateTopUpIntent(ctx context.Context, in TopUpInput) (*model.PaymentRecord, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Amount < s.cfg.Payment.MinTopUpAmount {
		return nil, fmt.Errorf("%w: amount %d below minimum %d", ErrInvalidArgument, in.Amount, s.cfg.Payment.MinTopUpAmount)
	}
	return s.createIntent(ctx, in, nil)
}

// CreateTopUpIntentFromPackage prices the intent from an active coin package and keeps a
// snapshot of its name and USD price.
func (s *TopUpService) CreateTopUpIntentFromPackage(ctx context.Context, accountID, packageID int64, provider, idempotencyKey string) (*model.PaymentRecord, error) {
	pkg, err := withRetry(ctx, s.opts.retry, s.log(), "get_package", func() (*model.CoinPackage, error) {
		return s.catalog.GetActivePackage(ctx, packageID)
	})
	if err != nil {
		return nil, err
	}
	in := TopUpInput{
		AccountID:      accountID,
		Amount:         pkg.CoinAmount,
		Provider:       provider,
		IdempotencyKey: idempotencyKey,
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	return s.createIntent(ctx, in, pkg)
}

func (s *TopUpService) createIntent(ctx context.Context, in TopUpInput, pkg *model.CoinPackage) (*model.PaymentRecord, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = strings.ToLower(s.cfg.Payment.DefaultProvider)
	}

	payment, err := withRetry(ctx, s.opts.retry, s.log(), "create_topup_intent", func() (*model.PaymentRecord, error) {
		account, err := s.accounts.GetByID(ctx, nil, in.AccountID)
		if err != nil {
			return nil, err
		}
		if in.IdempotencyKey != "" {
			existing, err := s.payments.GetByIdempotencyKey(ctx, nil, account.ID, in.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return existing, nil
			}
		}

		ref := idgen.IntentRef()
		now := s.opts.now()
		payment := &model.PaymentRecord{
			AccountID:         account.ID,
			Provider:          provider,
			ProviderIntentRef: ref,
			Status:            model.PaymentStatusPending,
			Amount:            in.Amount,
			Currency:          account.Currency,
			CheckoutURL:       s.checkoutURL(provider, ref),
			IdempotencyKey:    model.StringPtr(in.IdempotencyKey),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if pkg != nil {
			id := pkg.ID
			payment.PackageID = &id
			payment.PackageName = pkg.Name
			payment.PriceUSD = decimal.NewNullDecimal(pkg.PriceUSD)
		}
		if err := s.payments.Create(ctx, nil, payment); err != nil {
			return nil, err
		}
		s.log().Info("top-up intent created",
			"account_id", account.ID, "intent_ref", ref, "provider", provider, "amount", in.Amount)
		return payment, nil
	})
	return payment, err
}

// HandleProviderConfirmation credits the intent's account exactly once. Redelivery of a
// confirmation for a SUCCEEDED intent is a no-op.
func (s *TopUpService) HandleProviderConfirmation(ctx context.Context, providerIntentRef, rawPayload string) error {
	_, err := s.confirm(ctx, providerIntentRef, "", rawPayload)
	return err
}

func (s *TopUpService) confirm(ctx context.Context, ref, providerTxnID, rawPayload string) (bool, error) {
	if ref == "" {
		return false, fmt.Errorf("%w: provider intent reference is required", ErrInvalidArgument)
	}

	type result struct {
		credited bool
		payment  *model.PaymentRecord
		balance  int64
	}
	r, err := withRetry(ctx, s.opts.retry, s.log(), "confirm_topup", func() (result, error) {
		var out result
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.payments.GetByProviderRefForUpdate(ctx, tx, ref)
			if err != nil {
				return err
			}
			switch payment.Status {
			case model.PaymentStatusSucceeded:
				out = result{payment: payment}
				return nil
			case model.PaymentStatusFailed, model.PaymentStatusCanceled:
				return fmt.Errorf("%w: payment %s is %s", ErrInvalidState, ref, payment.Status)
			}

			account, err := s.accounts.GetByIDForUpdate(ctx, tx, payment.AccountID)
			if err != nil {
				return err
			}

			now := s.opts.now()
			fields := map[string]interface{}{
				"confirmed_at": now,
				"raw_payload":  rawPayload,
			}
			if providerTxnID != "" {
				fields["provider_txn_id"] = providerTxnID
			}
			if err := s.payments.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusPending, model.PaymentStatusSucceeded, fields); err != nil {
				return err
			}
			if err := s.accounts.ApplyDelta(ctx, tx, account.ID, payment.Amount, account.Version); err != nil {
				return err
			}
			if _, err := s.appendEntry(ctx, tx, account.ID, model.TransactionTypeCredit, payment.Amount,
				payment.LedgerReference(), "payment_"+strconv.FormatInt(payment.ID, 10),
				"top-up via "+payment.Provider); err != nil {
				return err
			}
			if err := s.publish(ctx, tx, model.LedgerEvent{
				Type:      model.EventTopUpSucceeded,
				AccountID: account.ID,
				UserID:    account.UserID,
				PaymentID: payment.ID,
				Amount:    payment.Amount,
				Balance:   account.Balance + payment.Amount,
			}); err != nil {
				return err
			}

			out = result{credited: true, payment: payment, balance: account.Balance + payment.Amount}
			return nil
		})
		return out, err
	})
	if err != nil {
		return false, err
	}
	if r.credited {
		s.log().Info("top-up credited",
			"account_id", r.payment.AccountID, "intent_ref", ref, "amount", r.payment.Amount, "balance", r.balance)
	} else {
		s.log().Info("top-up confirmation replayed", "intent_ref", ref)
	}
	return r.credited, nil
}

// MarkIntentFailed records a provider-side failure or cancellation. Only PENDING intents move.
func (s *TopUpService) MarkIntentFailed(ctx context.Context, ref, status, rawPayload string) error {
	if status != model.PaymentStatusFailed && status != model.PaymentStatusCanceled {
		return fmt.Errorf("%w: %s is not a failure status", ErrInvalidArgument, status)
	}
	_, err := withRetry(ctx, s.opts.retry, s.log(), "fail_topup", func() (struct{}, error) {
		return struct{}{}, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			payment, err := s.payments.GetByProviderRefForUpdate(ctx, tx, ref)
			if err != nil {
				return err
			}
			switch payment.Status {
			case status:
				return nil
			case model.PaymentStatusPending:
			default:
				return fmt.Errorf("%w: payment %s is %s", ErrInvalidState, ref, payment.Status)
			}
			return s.payments.UpdateStatus(ctx, tx, payment.ID, model.PaymentStatusPending, status,
				map[string]interface{}{"raw_payload": rawPayload})
		})
	})
	if err == nil {
		s.log().Warn("top-up intent not completed", "intent_ref", ref, "status", status)
	}
	return err
}

// HandleProviderWebhook verifies and decodes a provider delivery, then confirms or fails
// the referenced intent. Unknown statuses are acknowledged and ignored.
func (s *TopUpService) HandleProviderWebhook(ctx context.Context, provider string, body []byte, signature string) (*WebhookOutcome, error) {
	if err := s.verifySignature(body, signature); err != nil {
		return nil, err
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook body: %v", ErrInvalidArgument, err)
	}
	if payload.IntentID == "" {
		return nil, fmt.Errorf("%w: intentId is required", ErrInvalidArgument)
	}

	payment, err := withRetry(ctx, s.opts.retry, s.log(), "get_topup_intent", func() (*model.PaymentRecord, error) {
		return s.payments.GetByProviderRef(ctx, nil, payload.IntentID)
	})
	if err != nil {
		return nil, err
	}
	if provider != "" && !strings.EqualFold(provider, payment.Provider) {
		return nil, fmt.Errorf("%w: intent %s belongs to provider %s", ErrInvalidArgument, payload.IntentID, payment.Provider)
	}

	status := strings.ToLower(strings.TrimSpace(payload.Status))
	outcome := &WebhookOutcome{IntentRef: payload.IntentID, Status: status}
	switch status {
	case "success", "succeeded", "ok":
		if _, err := s.confirm(ctx, payload.IntentID, payload.TransactionID, string(body)); err != nil {
			return nil, err
		}
		outcome.Action = WebhookActionCredited
	case "failed", "failure":
		if err := s.MarkIntentFailed(ctx, payload.IntentID, model.PaymentStatusFailed, string(body)); err != nil {
			return nil, err
		}
		outcome.Action = WebhookActionFailed
	case "canceled", "cancelled":
		if err := s.MarkIntentFailed(ctx, payload.IntentID, model.PaymentStatusCanceled, string(body)); err != nil {
			return nil, err
		}
		outcome.Action = WebhookActionFailed
	default:
		s.log().Info("webhook status ignored", "provider", provider, "intent_ref", payload.IntentID, "status", status)
		outcome.Action = WebhookActionIgnored
	}
	return outcome, nil
}

// GetIntent returns the account's payment record for ref.
func (s *TopUpService) GetIntent(ctx context.Context, accountID int64, ref string) (*model.PaymentRecord, error) {
	return withRetry(ctx, s.opts.retry, s.log(), "get_topup_intent", func() (*model.PaymentRecord, error) {
		payment, err := s.payments.GetByProviderRef(ctx, nil, ref)
		if err != nil {
			return nil, err
		}
		if payment.AccountID != accountID {
			return nil, repository.ErrPaymentNotFound
		}
		return payment, nil
	})
}

func (s *TopUpService) ListPackages(ctx context.Context) ([]*model.CoinPackage, error) {
	return withRetry(ctx, s.opts.retry, s.log(), "list_packages", func() ([]*model.CoinPackage, error) {
		return s.catalog.ListActivePackages(ctx)
	})
}

// SignPayload is the signature a provider must send for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *TopUpService) verifySignature(body []byte, signature string) error {
	secret := s.cfg.Payment.WebhookSecret
	if secret == "" {
		if s.cfg.Payment.AllowUnsignedWebhooks {
			return nil
		}
		return fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(SignPayload(secret, body))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *TopUpService) checkoutURL(provider, ref string) string {
	base := s.cfg.Payment.CheckoutBaseURL
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		s.log().Warn("invalid checkout base url", "url", base, "err", err)
		return ""
	}
	q := u.Query()
	q.Set("intent", ref)
	q.Set("provider", provider)
	u.RawQuery = q.Encode()
	return u.String()
}
