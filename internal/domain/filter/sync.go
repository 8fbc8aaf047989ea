package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"go.uber.org/zap"
)

// Resync results reported to OnResync.
const (
	ResyncOK       = "ok"
	ResyncDegraded = "degraded"
)

// Synchronizer mirrors permission rule writes into the filter engine.
type Synchronizer struct {
	engine Engine
	store  permission.Store
	alloc  permission.Allocator
	logger *zap.Logger

	// OnResync, if set, receives the outcome of every Resync.
	OnResync func(result string)
}

func NewSynchronizer(engine Engine, store permission.Store, alloc permission.Allocator, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{engine: engine, store: store, alloc: alloc, logger: logger}
}

// Resync drops every filter rule and rebuilds them from the store. Rules
// are renumbered 1..n in store order and the store ids rewritten to match.
// If a rewrite fails, that rule and every later one keep their stored ids.
// The allocator then continues past the highest id in use even if some
// steps failed.
func (s *Synchronizer) Resync(ctx context.Context) (err error) {
	rules, err := s.store.GetAll(ctx)
	if err != nil {
		s.report(ResyncDegraded)
		return fmt.Errorf("%w: %w", types.ErrRuleSyncDegraded, err)
	}

	var failures []error
	highest := len(rules)
	defer func() {
		next := highest + 1
		if rerr := s.alloc.Reset(ctx, next); rerr != nil {
			failures = append(failures, rerr)
		}
		if len(failures) == 0 {
			s.logger.Info("filter rules resynced", zap.Int("rules", len(rules)))
			s.report(ResyncOK)
			return
		}
		joined := errors.Join(failures...)
		s.logger.Warn("filter resync degraded",
			zap.Int("rules", len(rules)),
			zap.Int("failures", len(failures)),
			zap.Error(joined))
		s.report(ResyncDegraded)
		err = fmt.Errorf("%w: %w", types.ErrRuleSyncDegraded, joined)
	}()

	current, err := s.engine.SessionRules(ctx)
	if err != nil {
		failures = append(failures, fmt.Errorf("list filter rules: %w", err))
	} else if len(current) > 0 {
		ids := make([]int, len(current))
		for i, r := range current {
			ids[i] = r.ID
		}
		if err := s.engine.UpdateSessionRules(ctx, Update{RemoveRuleIDs: ids}); err != nil {
			failures = append(failures, fmt.Errorf("clear filter rules: %w", err))
		}
	}

	renumber := true
	for i, r := range rules {
		if id := i + 1; renumber && r.ID != id {
			old := r.ID
			r.ID = id
			if err := s.store.Update(ctx, r); err != nil {
				r.ID = old
				renumber = false
				failures = append(failures, fmt.Errorf("renumber %s: %w", r.Origin, err))
			}
		}
		highest = max(highest, r.ID)
		if err := s.engine.UpdateSessionRules(ctx, Update{AddRules: []Rule{Project(r)}}); err != nil {
			failures = append(failures, fmt.Errorf("add filter rule %d for %s: %w", r.ID, r.Origin, err))
		}
	}
	return nil
}

// Add installs the filter rule for a new permission rule.
func (s *Synchronizer) Add(ctx context.Context, rule *permission.Rule) error {
	return s.apply(ctx, "add", Update{AddRules: []Rule{Project(rule)}})
}

// Replace swaps the filter rule for rule.ID in one batch.
func (s *Synchronizer) Replace(ctx context.Context, rule *permission.Rule) error {
	return s.apply(ctx, "replace", Update{
		RemoveRuleIDs: []int{rule.ID},
		AddRules:      []Rule{Project(rule)},
	})
}

// Remove drops the filter rule with id.
func (s *Synchronizer) Remove(ctx context.Context, id int) error {
	return s.apply(ctx, "remove", Update{RemoveRuleIDs: []int{id}})
}

func (s *Synchronizer) apply(ctx context.Context, op string, u Update) error {
	if err := s.engine.UpdateSessionRules(ctx, u); err != nil {
		s.logger.Warn("filter rule update failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", types.ErrRuleSyncDegraded, op, err)
	}
	return nil
}

func (s *Synchronizer) report(result string) {
	if s.OnResync != nil {
		s.OnResync(result)
	}
}
