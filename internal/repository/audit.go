package repository

import (
	"context"
	"farmgate/internal/model"

	"gorm.io/gorm"
)

// AuditInterface defines the interface for flag audit persistence
type AuditInterface interface {
	Create(ctx context.Context, audits []model.FlagAudit) error
	List(ctx context.Context, offset, limit int) ([]model.FlagAudit, int64, error)
	ListByKey(ctx context.Context, key string) ([]model.FlagAudit, error)
	PingContext(ctx context.Context) error
}

// AuditRepository is the gorm backed AuditInterface
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create writes all rows of one admin change in a single transaction.
func (r *AuditRepository) Create(ctx context.Context, audits []model.FlagAudit) error {
	if len(audits) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&audits).Error
	})
}

func (r *AuditRepository) List(ctx context.Context, offset, limit int) ([]model.FlagAudit, int64, error) {
	var audits []model.FlagAudit
	var total int64

	db := r.db.WithContext(ctx).Model(&model.FlagAudit{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(limit).Order("id DESC").Find(&audits).Error; err != nil {
		return nil, 0, err
	}

	return audits, total, nil
}

func (r *AuditRepository) ListByKey(ctx context.Context, key string) ([]model.FlagAudit, error) {
	var audits []model.FlagAudit
	err := r.db.WithContext(ctx).
		Where("`key` = ?", key).
		Order("created_at DESC").
		Find(&audits).Error
	return audits, err
}

func (r *AuditRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
