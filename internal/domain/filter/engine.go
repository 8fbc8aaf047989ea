package filter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"go.uber.org/zap"
)

// Update is one batched change: removals are applied before additions.
type Update struct {
	RemoveRuleIDs []int
	AddRules      []Rule
}

// Engine holds the active session rules.
type Engine interface {
	SessionRules(ctx context.Context) ([]Rule, error)
	// UpdateSessionRules applies the update atomically. Adding an id that
	// is still present fails the whole update.
	UpdateSessionRules(ctx context.Context, u Update) error
}

// SessionEngine is an in-memory Engine that also filters the broker's own
// outgoing traffic through Transport.
type SessionEngine struct {
	logger   *zap.Logger
	onChange func(rules int)

	mu    sync.RWMutex
	rules map[int]Rule
	// ordered is rules sorted by descending priority, then id.
	ordered []Rule
}

// NewSessionEngine creates an empty engine. onChange, if set, receives the
// rule count after each successful update.
func NewSessionEngine(logger *zap.Logger, onChange func(rules int)) *SessionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionEngine{
		logger:   logger,
		onChange: onChange,
		rules:    make(map[int]Rule),
	}
}

func (e *SessionEngine) SessionRules(_ context.Context) ([]Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.ordered...), nil
}

func (e *SessionEngine) UpdateSessionRules(ctx context.Context, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	next := make(map[int]Rule, len(e.rules)+len(u.AddRules))
	for id, r := range e.rules {
		next[id] = r
	}
	for _, id := range u.RemoveRuleIDs {
		delete(next, id)
	}
	for _, r := range u.AddRules {
		if r.ID < 1 {
			e.mu.Unlock()
			return fmt.Errorf("%w: filter rule id %d", types.ErrInvalidRequest, r.ID)
		}
		if _, dup := next[r.ID]; dup {
			e.mu.Unlock()
			return fmt.Errorf("%w: filter rule id %d already in use", types.ErrInvalidRequest, r.ID)
		}
		next[r.ID] = r
	}
	e.rules = next
	e.ordered = sortRules(next)
	count := len(next)
	e.mu.Unlock()

	e.logger.Debug("filter rules updated",
		zap.Ints("removed", u.RemoveRuleIDs),
		zap.Int("added", len(u.AddRules)),
		zap.Int("total", count))
	if e.onChange != nil {
		e.onChange(count)
	}
	return nil
}

// Match returns the highest priority rule for the request.
func (e *SessionEngine) Match(initiatorHost string, target *url.URL, rt ResourceType) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.ordered {
		if e.ordered[i].Matches(initiatorHost, target, rt) {
			return e.ordered[i], true
		}
	}
	return Rule{}, false
}

func sortRules(rules map[int]Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

var _ Engine = (*SessionEngine)(nil)
