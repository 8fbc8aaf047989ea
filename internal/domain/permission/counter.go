package permission

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

const ruleIDKey = "rule_id"

type metaRecord struct {
	Name  string `gorm:"primaryKey"`
	Value int    `gorm:"not null"`
}

func (metaRecord) TableName() string { return "meta" }

// SQLCounter persists the next free rule id in the meta table.
type SQLCounter struct {
	db *gorm.DB
}

// Next returns the stored id (1 when unset) and advances it.
func (c *SQLCounter) Next(ctx context.Context) (int, error) {
	var next int
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := loadMeta(tx)
		if err != nil {
			return err
		}
		next = m.Value
		m.Value++
		return tx.Save(&m).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate rule id: %w", err)
	}
	return next, nil
}

// Peek returns the id Next would hand out without advancing.
func (c *SQLCounter) Peek(ctx context.Context) (int, error) {
	m, err := loadMeta(c.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	return m.Value, nil
}

// Reset makes next the following id handed out.
func (c *SQLCounter) Reset(ctx context.Context, next int) error {
	if next < 1 {
		next = 1
	}
	m := metaRecord{Name: ruleIDKey, Value: next}
	if err := c.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("failed to reset rule id counter: %w", err)
	}
	return nil
}

func loadMeta(tx *gorm.DB) (metaRecord, error) {
	var m metaRecord
	err := tx.Where("name = ?", ruleIDKey).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return metaRecord{Name: ruleIDKey, Value: 1}, nil
	}
	return m, err
}

var _ Allocator = (*SQLCounter)(nil)
