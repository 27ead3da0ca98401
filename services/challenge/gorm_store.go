package challenge

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, principalID string) (*Record, error) {
	var rec Record
	if err := s.db.WithContext(ctx).Where("principal_id = ?", principalID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Put inserts the record or replaces every mutable column of the principal's
// existing row.
func (s *GormStore) Put(ctx context.Context, rec *Record) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "principal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"nonce", "code_hash", "issued_at", "expires_at",
			"attempts", "consumed", "outcome", "consumed_at", "updated_at",
		}),
	}).Create(rec).Error
}

func (s *GormStore) Swap(ctx context.Context, prev, next *Record) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Record{}).
		Where("principal_id = ? AND nonce = ? AND attempts = ? AND consumed = ?",
			prev.PrincipalID, prev.Nonce, prev.Attempts, false).
		Updates(map[string]any{
			"attempts":    next.Attempts,
			"consumed":    next.Consumed,
			"outcome":     next.Outcome,
			"consumed_at": next.ConsumedAt,
			"updated_at":  next.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *GormStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&Record{})
	return result.RowsAffected, result.Error
}
