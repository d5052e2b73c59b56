package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const priceCacheKeyPrefix = "pricing:model:"

func PriceCacheKey(modelKey string) string {
	return priceCacheKeyPrefix + modelKey
}

// PricingService resolves the amount to reserve for an operation or model key. Prices are
// read through a Redis cache when a client is configured; a cache failure falls back to the
// database.
type PricingService struct {
	catalog *repository.CatalogRepository
	rdb     *redis.Client
	ttl     time.Duration
	opts    options
}

func NewPricingService(db *gorm.DB, rdb *redis.Client, cfg *config.Config, opts ...Option) *PricingService {
	return &PricingService{
		catalog: repository.NewCatalogRepository(db),
		rdb:     rdb,
		ttl:     cfg.Pricing.CacheTTL,
		opts:    newOptions(cfg, opts),
	}
}

func (s *PricingService) Resolve(ctx context.Context, modelKey string) (int64, error) {
	modelKey = strings.TrimSpace(modelKey)
	if modelKey == "" {
		return 0, fmt.Errorf("%w: model key is required", ErrInvalidArgument)
	}

	if amount, ok := s.cached(ctx, modelKey); ok {
		return amount, nil
	}

	price, err := withRetry(ctx, s.opts.retry, s.opts.logger, "resolve_price", func() (*model.ServicePrice, error) {
		return s.catalog.GetActivePrice(ctx, modelKey)
	})
	if err != nil {
		return 0, err
	}
	if price.Amount <= 0 {
		return 0, fmt.Errorf("%w: price of %s is not positive", ErrInvalidState, modelKey)
	}

	if s.rdb != nil && s.ttl > 0 {
		if err := s.rdb.Set(ctx, PriceCacheKey(modelKey), strconv.FormatInt(price.Amount, 10), s.ttl).Err(); err != nil {
			s.opts.logger.Warn("price cache write failed", "model_key", modelKey, "err", err)
		}
	}
	return price.Amount, nil
}

func (s *PricingService) cached(ctx context.Context, modelKey string) (int64, bool) {
	if s.rdb == nil {
		return 0, false
	}
	val, err := s.rdb.Get(ctx, PriceCacheKey(modelKey)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.opts.logger.Warn("price cache read failed", "model_key", modelKey, "err", err)
		}
		return 0, false
	}
	amount, err := strconv.ParseInt(val, 10, 64)
	if err != nil || amount <= 0 {
		s.opts.logger.Warn("price cache holds invalid value", "model_key", modelKey, "value", val)
		return 0, false
	}
	return amount, true
}
