package database

import (
	"context"
	"errors"

	"swarmgate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	banRangeInsertBatchSize = 500
)

// AllBanRanges returns every stored range ordered by start address, the
// order the in-memory index expects.
func AllBanRanges(ctx context.Context) ([]domain.BanRange, error) {
	if DB == nil {
		return nil, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var ranges []domain.BanRange
	if err := db.Order("from_ip ASC").Find(&ranges).Error; err != nil {
		return nil, err
	}
	return ranges, nil
}

// ListBanRanges returns one page of ranges, newest first, plus the total
// row count for page metadata.
func ListBanRanges(ctx context.Context, page, limit int) ([]domain.BanRange, int64, error) {
	if DB == nil {
		return nil, 0, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var total int64
	if err := db.Model(&domain.BanRange{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ranges []domain.BanRange
	err := db.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&ranges).Error
	if err != nil {
		return nil, 0, err
	}
	return ranges, total, nil
}

// InsertBanRange persists a single range.
func InsertBanRange(ctx context.Context, r *domain.BanRange) error {
	if DB == nil {
		return errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}
	return db.Create(r).Error
}

// InsertBanRanges persists a batch, silently skipping rows that collide
// with an existing (from_ip, to_ip, reason) entry. Returns how many rows
// were actually inserted.
func InsertBanRanges(ctx context.Context, ranges []domain.BanRange) (int64, error) {
	if DB == nil {
		return 0, errors.New("database not initialised")
	}
	if len(ranges) == 0 {
		return 0, nil
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&ranges, banRangeInsertBatchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// GetBanRange fetches a single range by id. gorm.ErrRecordNotFound when
// the id is unknown.
func GetBanRange(ctx context.Context, id uint64) (domain.BanRange, error) {
	if DB == nil {
		return domain.BanRange{}, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var existing domain.BanRange
	if err := db.First(&existing, id).Error; err != nil {
		return domain.BanRange{}, err
	}
	return existing, nil
}

// UpdateBanRange applies the given column values to an existing range and
// returns the updated row. gorm.ErrRecordNotFound when the id is unknown.
func UpdateBanRange(ctx context.Context, id uint64, values map[string]any) (domain.BanRange, error) {
	if DB == nil {
		return domain.BanRange{}, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var existing domain.BanRange
	if err := db.First(&existing, id).Error; err != nil {
		return domain.BanRange{}, err
	}

	if len(values) > 0 {
		if err := db.Model(&existing).Updates(values).Error; err != nil {
			return domain.BanRange{}, err
		}
	}
	return existing, nil
}

// DeleteBanRange removes the range with the given id and returns the
// deleted row. gorm.ErrRecordNotFound when the id is unknown.
func DeleteBanRange(ctx context.Context, id uint64) (domain.BanRange, error) {
	if DB == nil {
		return domain.BanRange{}, errors.New("database not initialised")
	}

	db := DB
	if ctx != nil {
		db = db.WithContext(ctx)
	}

	var existing domain.BanRange
	if err := db.First(&existing, id).Error; err != nil {
		return domain.BanRange{}, err
	}
	if err := db.Delete(&domain.BanRange{}, id).Error; err != nil {
		return domain.BanRange{}, err
	}
	return existing, nil
}

// IsNotFound reports whether err is gorm's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
