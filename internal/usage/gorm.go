package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UsageCounter is the persisted counter row
type UsageCounter struct {
	ID        uint   `gorm:"primaryKey"`
	Caller    string `gorm:"size:255;not null;uniqueIndex:idx_usage_caller_day"`
	Day       string `gorm:"size:10;not null;uniqueIndex:idx_usage_caller_day"`
	Count     int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GormCounter stores counters in a SQL database through gorm
type GormCounter struct {
	db *gorm.DB
}

// OpenPostgres connects to PostgreSQL and prepares the counter table
func OpenPostgres(dsn string) (*GormCounter, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormCounter(db)
}

// NewGormCounter migrates the counter table on db
func NewGormCounter(db *gorm.DB) (*GormCounter, error) {
	if err := db.AutoMigrate(&UsageCounter{}); err != nil {
		return nil, fmt.Errorf("failed to migrate usage counters: %w", err)
	}
	return &GormCounter{db: db}, nil
}

// Count returns the number of extractions recorded for caller on day
func (g *GormCounter) Count(ctx context.Context, caller, day string) (int, error) {
	var row UsageCounter
	err := g.db.WithContext(ctx).
		Where("caller = ? AND day = ?", caller, day).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage counter: %w", err)
	}
	return row.Count, nil
}

// IncrementIfBelow records one extraction unless caller already has limit
// extractions on day. The conditional update is re-evaluated under the row
// lock, so concurrent callers cannot both take the last slot.
func (g *GormCounter) IncrementIfBelow(ctx context.Context, caller, day string, limit int) (int, bool, error) {
	var (
		count   int
		counted bool
	)
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&UsageCounter{Caller: caller, Day: day}).Error
		if err != nil {
			return err
		}

		update := tx.Model(&UsageCounter{}).Where("caller = ? AND day = ?", caller, day)
		if limit > 0 {
			update = update.Where("count < ?", limit)
		}
		res := update.Updates(map[string]interface{}{
			"count":      gorm.Expr("count + 1"),
			"updated_at": time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		counted = res.RowsAffected == 1

		var current UsageCounter
		if err := tx.Where("caller = ? AND day = ?", caller, day).First(&current).Error; err != nil {
			return err
		}
		count = current.Count
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment usage counter: %w", err)
	}
	return count, counted, nil
}

// Decrement takes back one recorded extraction
func (g *GormCounter) Decrement(ctx context.Context, caller, day string) error {
	err := g.db.WithContext(ctx).Model(&UsageCounter{}).
		Where("caller = ? AND day = ? AND count > 0", caller, day).
		Updates(map[string]interface{}{
			"count":      gorm.Expr("count - 1"),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to decrement usage counter: %w", err)
	}
	return nil
}

// Close releases the database connection pool
func (g *GormCounter) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
