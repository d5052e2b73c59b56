package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

// CatalogRepository reads the coin package and service price tables.
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) ListActivePackages(ctx context.Context) ([]*model.CoinPackage, error) {
	var packages []*model.CoinPackage
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("display_order ASC").
		Order("price_usd ASC").
		Find(&packages).Error
	return packages, err
}

func (r *CatalogRepository) GetActivePackage(ctx context.Context, id int64) (*model.CoinPackage, error) {
	var pkg model.CoinPackage
	err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// SeedPackages inserts packages only when the table is empty. It reports whether rows were written.
func (r *CatalogRepository) SeedPackages(ctx context.Context, packages []*model.CoinPackage) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.CoinPackage{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := r.db.WithContext(ctx).Create(&packages).Error; err != nil {
		return false, wrapCreate(err)
	}
	return true, nil
}

func (r *CatalogRepository) GetActivePrice(ctx context.Context, modelKey string) (*model.ServicePrice, error) {
	var price model.ServicePrice
	err := r.db.WithContext(ctx).Where("model_key = ? AND is_active = ?", modelKey, true).First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPriceNotFound
		}
		return nil, err
	}
	return &price, nil
}

func (r *CatalogRepository) CreatePrice(ctx context.Context, price *model.ServicePrice) error {
	return wrapCreate(r.db.WithContext(ctx).Create(price).Error)
}
