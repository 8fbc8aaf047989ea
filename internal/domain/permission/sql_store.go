package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ruleRecord struct {
	ID        uint     `gorm:"primaryKey"`
	RuleID    int      `gorm:"not null;index"`
	Origin    string   `gorm:"not null;uniqueIndex"`
	AllHosts  bool     `gorm:"not null"`
	Hosts     []string `gorm:"serializer:json"`
	From      string   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ruleRecord) TableName() string { return "rules" }

func (rec *ruleRecord) toRule() *Rule {
	scope := Scope{Kind: ScopeSpecific, Hosts: rec.Hosts}
	if rec.AllHosts {
		scope = Scope{Kind: ScopeAll}
	}
	if scope.Kind == ScopeSpecific && scope.Hosts == nil {
		scope.Hosts = []string{}
	}
	return &Rule{
		ID:        rec.RuleID,
		Origin:    rec.Origin,
		Scope:     scope,
		From:      Provenance(rec.From),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func (rec *ruleRecord) apply(r *Rule) {
	rec.RuleID = r.ID
	rec.Origin = r.Origin
	rec.AllHosts = r.Scope.Kind == ScopeAll
	rec.Hosts = nil
	if !rec.AllHosts {
		rec.Hosts = append([]string{}, r.Scope.Hosts...)
	}
	rec.From = string(r.From)
}

// SQLStore keeps rules in a gorm database.
type SQLStore struct {
	db      *gorm.DB
	counter *SQLCounter
	logger  *zap.Logger
}

// NewSQLStore migrates the schema and returns a store with its own id counter.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&ruleRecord{}, &metaRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate rule tables: %w", err)
	}
	return &SQLStore{db: db, counter: &SQLCounter{db: db}, logger: logger}, nil
}

// Counter is the allocator backing this store's ids.
func (s *SQLStore) Counter() *SQLCounter {
	return s.counter
}

func (s *SQLStore) Add(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	existing, err := s.FindByOrigin(ctx, rule.Origin)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrOriginExists, rule.Origin)
	}
	if rule.ID == 0 {
		next, err := s.counter.Next(ctx)
		if err != nil {
			return err
		}
		rule.ID = next
	}

	now := time.Now()
	rec := ruleRecord{CreatedAt: now, UpdatedAt: now}
	rec.apply(rule)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert rule for %s: %w", rule.Origin, err)
	}
	rule.CreatedAt, rule.UpdatedAt = rec.CreatedAt, rec.UpdatedAt

	s.logger.Debug("rule added",
		zap.Int("id", rule.ID),
		zap.String("origin", rule.Origin),
		zap.String("scope", string(rule.Scope.Kind)),
		zap.String("from", string(rule.From)))
	return nil
}

func (s *SQLStore) Update(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec ruleRecord
		err := tx.Where("origin = ?", rule.Origin).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.Origin)
		}
		if err != nil {
			return err
		}
		rec.apply(rule)
		rec.UpdatedAt = time.Now()
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("failed to update rule for %s: %w", rule.Origin, err)
		}
		rule.CreatedAt, rule.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
		return nil
	})
}

func (s *SQLStore) FindByOrigin(ctx context.Context, origin string) (*Rule, error) {
	var rec ruleRecord
	err := s.db.WithContext(ctx).Where("origin = ?", origin).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up rule for %s: %w", origin, err)
	}
	return rec.toRule(), nil
}

func (s *SQLStore) DeleteByOrigin(ctx context.Context, origin string) (*Rule, error) {
	var deleted *Rule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec ruleRecord
		err := tx.Where("origin = ?", origin).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(&rec).Error; err != nil {
			return err
		}
		deleted = rec.toRule()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete rule for %s: %w", origin, err)
	}
	return deleted, nil
}

func (s *SQLStore) GetAll(ctx context.Context) ([]*Rule, error) {
	var recs []ruleRecord
	if err := s.db.WithContext(ctx).Order("rule_id asc, id asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	rules := make([]*Rule, 0, len(recs))
	for i := range recs {
		rules = append(rules, recs[i].toRule())
	}
	return rules, nil
}

var _ Store = (*SQLStore)(nil)
