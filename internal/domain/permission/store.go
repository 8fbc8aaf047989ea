package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
)

var (
	ErrOriginExists = errors.New("a rule for this origin already exists")
	ErrRuleNotFound = fmt.Errorf("rule %w", types.ErrNotFound)
)

// Store persists rules, at most one per origin.
type Store interface {
	// Add inserts a rule, assigning an id when ID is zero.
	Add(ctx context.Context, rule *Rule) error
	// Update replaces the rule stored for rule.Origin.
	Update(ctx context.Context, rule *Rule) error
	// FindByOrigin returns nil, nil when the origin has no rule.
	FindByOrigin(ctx context.Context, origin string) (*Rule, error)
	// DeleteByOrigin removes and returns the rule, or nil if there was none.
	DeleteByOrigin(ctx context.Context, origin string) (*Rule, error)
	// GetAll returns every rule ordered by id.
	GetAll(ctx context.Context) ([]*Rule, error)
}

// Allocator hands out rule ids. Ids are never reused until Reset.
type Allocator interface {
	Next(ctx context.Context) (int, error)
	Reset(ctx context.Context, next int) error
}
