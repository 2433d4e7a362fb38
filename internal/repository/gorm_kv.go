package repository

import (
	"context"
	"errors"

	"farmgate/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormKV stores values in the kv_entries table.
type GormKV struct {
	db *gorm.DB
}

func NewGormKV(db *gorm.DB) *GormKV {
	return &GormKV{db: db}
}

func (r *GormKV) Get(ctx context.Context, key string) (string, bool, error) {
	var entry model.KVEntry
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.Value, true, nil
}

// Set upserts the row for key.
func (r *GormKV) Set(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model.KVEntry{Key: key, Value: value}).Error
}

func (r *GormKV) Remove(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("`key` = ?", key).Delete(&model.KVEntry{}).Error
}
