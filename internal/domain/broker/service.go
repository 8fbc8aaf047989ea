// Package broker serves the caller-facing operations: permission queries,
// consent prompts and forwarded requests.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/GriffinCanCode/corsbroker/internal/domain/chunk"
	"github.com/GriffinCanCode/corsbroker/internal/domain/filter"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Upstream performs a decoded request and captures the response.
type Upstream interface {
	Exchange(ctx context.Context, req *http.Request) (*wire.SerializedResponse, error)
}

// Prompt decisions.
const (
	DecisionAccept  = "accept"
	DecisionReject  = "reject"
	DecisionDismiss = "dismiss"
	DecisionExpired = "expired"
)

type Options struct {
	Store     permission.Store
	Allocator permission.Allocator
	Sync      *filter.Synchronizer
	Upstream  Upstream
	Chunks    *chunk.Store
	Board     *Board
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
}

// Service implements the broker operations.
type Service struct {
	store    permission.Store
	alloc    permission.Allocator
	sync     *filter.Synchronizer
	upstream Upstream
	chunks   *chunk.Store
	board    *Board
	metrics  *monitoring.Metrics
	logger   *zap.Logger

	notifier atomic.Value // holds notifierBox
	locks    *keyedMutex
}

type notifierBox struct{ Notifier }

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetricsWith(prometheus.NewRegistry())
	}
	chunks := opts.Chunks
	if chunks == nil {
		chunks = chunk.New(chunk.Options{Logger: logger})
	}
	board := opts.Board
	if board == nil {
		board = NewBoard(0, nil)
	}

	s := &Service{
		store:    opts.Store,
		alloc:    opts.Allocator,
		sync:     opts.Sync,
		upstream: opts.Upstream,
		chunks:   chunks,
		board:    board,
		metrics:  metrics,
		logger:   logger,
		locks:    newKeyedMutex(),
	}
	s.notifier.Store(notifierBox{nopNotifier{}})
	return s
}

// SetNotifier installs the push channel to callers.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier.Store(notifierBox{n})
}

// ExpirePrompt is the board's expiry hook: the caller sees a reject.
func (s *Service) ExpirePrompt(p Prompt) {
	s.logger.Info("consent prompt expired", zap.String("origin", p.Origin), zap.Strings("hosts", p.Hosts))
	s.signal(p, types.PushReject)
	s.metrics.PromptResolved(DecisionExpired)
}

// Init rebuilds the filter rules from the store. A degraded resync is
// logged and reported but the broker can still serve.
func (s *Service) Init(ctx context.Context) error {
	if err := s.sync.Resync(ctx); err != nil {
		if errors.Is(err, types.ErrRuleSyncDegraded) {
			s.logger.Warn("starting with degraded filter rules", zap.Error(err))
		}
		return err
	}
	return nil
}

func (s *Service) Ping() string {
	return "pong"
}

func (s *Service) GetAllowedInfo(ctx context.Context, origin string) (types.AllowedInfo, error) {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return types.AllowedInfo{}, err
	}
	rule, err := s.store.FindByOrigin(ctx, origin)
	if err != nil {
		return types.AllowedInfo{}, err
	}
	return rule.Info(), nil
}

func (s *Service) GetAllRules(ctx context.Context) ([]*permission.Rule, error) {
	return s.store.GetAll(ctx)
}

// Prompts lists the pending consent prompts.
func (s *Service) Prompts() []Prompt {
	return s.board.List()
}

// RequestHosts opens (or joins) the consent prompt for origin. connID is
// the connection to answer. Hosts that are all permitted already are
// answered immediately.
func (s *Service) RequestHosts(ctx context.Context, origin string, hosts []string, connID string) error {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	hosts = permission.SpecificHosts(hosts...).Hosts
	if len(hosts) == 0 {
		return fmt.Errorf("%w: no hosts requested", types.ErrInvalidRequest)
	}

	rule, err := s.store.FindByOrigin(ctx, origin)
	if err != nil {
		return err
	}
	if permitsAll(rule, hosts) {
		s.signal(Prompt{Origin: origin, Conns: connIDs(connID)}, types.PushAccept)
		return nil
	}

	p, opened := s.board.Open(origin, hosts, connID)
	if opened {
		s.metrics.PromptOpened()
	}
	s.logger.Info("consent requested",
		zap.String("origin", origin),
		zap.Strings("hosts", p.Hosts),
		zap.Bool("new", opened))
	return nil
}

// AcceptRequestHosts grants hosts to origin and resolves its prompt.
func (s *Service) AcceptRequestHosts(ctx context.Context, origin string, hosts []string) error {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	hosts = permission.SpecificHosts(hosts...).Hosts

	unlock := s.locks.Lock(origin)
	err = s.grant(ctx, origin, hosts)
	unlock()
	if err != nil {
		return err
	}

	s.resolvePrompt(origin, types.PushAccept, DecisionAccept)
	return nil
}

func (s *Service) grant(ctx context.Context, origin string, hosts []string) error {
	rule, err := s.store.FindByOrigin(ctx, origin)
	if err != nil {
		return err
	}

	if rule != nil {
		if !rule.MergeHosts(hosts) {
			return nil
		}
		if err := s.store.Update(ctx, rule); err != nil {
			return err
		}
		if err := s.sync.Replace(ctx, rule); err != nil {
			s.logger.Warn("filter rule not replaced", zap.Int("id", rule.ID), zap.Error(err))
		}
		s.logger.Info("hosts added to rule",
			zap.Int("id", rule.ID),
			zap.String("origin", origin),
			zap.Strings("hosts", rule.Scope.Hosts))
		return nil
	}

	if len(hosts) == 0 {
		return fmt.Errorf("%w: no hosts to grant", types.ErrInvalidRequest)
	}
	return s.create(ctx, &permission.Rule{
		Origin: origin,
		Scope:  permission.SpecificHosts(hosts...),
		From:   permission.FromWebsite,
	})
}

// create installs the filter rule first, then persists. A filter failure
// is tolerated since the next resync rebuilds it from the store.
func (s *Service) create(ctx context.Context, rule *permission.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	id, err := s.alloc.Next(ctx)
	if err != nil {
		return err
	}
	rule.ID = id

	filtered := true
	if err := s.sync.Add(ctx, rule); err != nil {
		filtered = false
		s.logger.Warn("filter rule not installed", zap.Int("id", id), zap.Error(err))
	}
	if err := s.store.Add(ctx, rule); err != nil {
		if filtered {
			_ = s.sync.Remove(ctx, id)
		}
		return err
	}
	s.logger.Info("rule created",
		zap.Int("id", id),
		zap.String("origin", rule.Origin),
		zap.String("scope", string(rule.Scope.Kind)),
		zap.String("from", string(rule.From)))
	return nil
}

// RejectRequestHosts resolves the prompt for origin as rejected.
func (s *Service) RejectRequestHosts(_ context.Context, origin string, _ []string) error {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	s.resolvePrompt(origin, types.PushReject, DecisionReject)
	return nil
}

// DismissPrompt closes the prompt without a decision; callers see a reject.
func (s *Service) DismissPrompt(_ context.Context, origin string) error {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	s.resolvePrompt(origin, types.PushReject, DecisionDismiss)
	return nil
}

// RequestAllHosts gives origin a user rule covering every host. An
// existing rule is left as it is.
func (s *Service) RequestAllHosts(ctx context.Context, origin string) error {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(origin)
	defer unlock()

	existing, err := s.store.FindByOrigin(ctx, origin)
	if err != nil {
		return err
	}
	if existing != nil {
		s.logger.Warn("origin already has a rule", zap.String("origin", origin), zap.Int("id", existing.ID))
		return nil
	}
	return s.create(ctx, &permission.Rule{Origin: origin, Scope: permission.AllHosts(), From: permission.FromUser})
}

// DeleteOrigin removes the rule for origin and its filter rule.
func (s *Service) DeleteOrigin(ctx context.Context, origin string) error {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(origin)
	defer unlock()

	deleted, err := s.store.DeleteByOrigin(ctx, origin)
	if err != nil {
		return err
	}
	if deleted == nil {
		return nil
	}
	if err := s.sync.Remove(ctx, deleted.ID); err != nil {
		s.logger.Warn("filter rule not removed", zap.Int("id", deleted.ID), zap.Error(err))
	}
	s.logger.Info("rule deleted", zap.Int("id", deleted.ID), zap.String("origin", origin))
	return nil
}

// GetResponseChunk returns one chunk of a multi-part reply.
func (s *Service) GetResponseChunk(_ context.Context, id string, index int) (string, error) {
	data, err := s.chunks.ReadChunk(id, index)
	if err != nil {
		return "", err
	}
	s.metrics.IncChunksServed()
	return data, nil
}

func (s *Service) resolvePrompt(origin, push, decision string) {
	p, ok := s.board.Take(origin)
	if !ok {
		p = Prompt{Origin: origin}
	} else {
		s.metrics.PromptResolved(decision)
	}
	s.logger.Info("consent resolved",
		zap.String("origin", origin),
		zap.String("decision", decision),
		zap.Bool("pending", ok))
	s.signal(p, push)
}

// signal notifies the prompt's connections, or every connection of the
// origin when none is recorded or reachable.
func (s *Service) signal(p Prompt, push string) {
	n := s.notifier.Load().(notifierBox).Notifier
	payload := types.SignalPayload{Origin: p.Origin}

	delivered := 0
	for _, conn := range p.Conns {
		if n.Notify(conn, push, payload) {
			delivered++
		}
	}
	if delivered == 0 {
		delivered = n.Broadcast(p.Origin, push, payload)
	}
	s.logger.Debug("signal sent",
		zap.String("origin", p.Origin),
		zap.String("type", push),
		zap.Int("connections", delivered))
}

func permitsAll(rule *permission.Rule, hosts []string) bool {
	if rule == nil {
		return false
	}
	for _, h := range hosts {
		if !rule.Permits(h) {
			return false
		}
	}
	return true
}

func connIDs(connID string) []string {
	if connID == "" {
		return nil
	}
	return []string{connID}
}

// Prompt returns the pending prompt for origin.
func (s *Service) Prompt(origin string) (Prompt, bool) {
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return Prompt{}, false
	}
	return s.board.Get(origin)
}
