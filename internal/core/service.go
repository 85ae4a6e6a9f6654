package core

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"riskguard/internal/feed"
	"riskguard/internal/obs"
	"riskguard/internal/risk"
	"riskguard/internal/schema"
	"riskguard/internal/session"
	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

// Config builds a Service.
type Config struct {
	Risk                 risk.Config
	LedgerLockTimeout    time.Duration
	SessionCheckInterval time.Duration
	// Instance tags decision IDs so several instances never hand out the
	// same ID.
	Instance uint16
	Now      func() time.Time
}

// Service is the explicitly owned risk instance. Construct it once with New,
// run it with Start and tear it down with Close.
type Service struct {
	now       func() time.Time
	metrics   *obs.Metrics
	prices    *feed.PriceCache
	feed      *feed.Adapter
	ledger    *state.Ledger
	checker   *risk.Checker
	scheduler *session.Scheduler

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// New validates cfg and wires every component.
func New(cfg Config) (*Service, error) {
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	metrics := obs.NewMetrics()
	prices := feed.NewPriceCache()
	adapter, err := feed.NewAdapter(feed.Config{
		Capacity:       cfg.Risk.FeedQueueCapacity,
		PublishTimeout: cfg.Risk.FeedPublishTimeout,
	}, prices, metrics)
	if err != nil {
		return nil, err
	}
	ledger := state.NewLedger(state.LedgerConfig{
		LockTimeout: cfg.LedgerLockTimeout,
		Now:         cfg.Now,
	}, metrics)
	checker, err := risk.NewChecker(cfg.Risk, ledger, prices, metrics)
	if err != nil {
		return nil, err
	}
	ids, err := obs.NewDecisionIDs(cfg.Instance, 0)
	if err != nil {
		return nil, err
	}
	checker.UseIDs(ids)
	scheduler, err := session.NewScheduler(session.Config{
		Boundary:      cfg.Risk.SessionReset,
		CheckInterval: cfg.SessionCheckInterval,
		Now:           cfg.Now,
	}, ledger, metrics)
	if err != nil {
		return nil, err
	}

	return &Service{
		now:       cfg.Now,
		metrics:   metrics,
		prices:    prices,
		feed:      adapter,
		ledger:    ledger,
		checker:   checker,
		scheduler: scheduler,
	}, nil
}

// Start launches the feed consumer and the reset scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return exception.ErrLedgerClosed
	}
	if s.started {
		return exception.ErrConsumerRunning
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.feed.Run(ctx); err != nil {
			logs.Errorf("feed consumer stopped, err: %+v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.scheduler.Run(ctx); err != nil {
			logs.Errorf("session scheduler stopped, err: %+v", err)
		}
	}()

	logs.Infof("risk service started, next session reset at %s", s.scheduler.NextReset().Format(time.RFC3339))
	return nil
}

// Check evaluates an order proposal.
func (s *Service) Check(ctx context.Context, order schema.OrderProposal) (schema.Decision, error) {
	return s.checker.Check(ctx, order)
}

// ApplyFill records a confirmed fill.
func (s *Service) ApplyFill(ctx context.Context, fill schema.Fill) (state.Position, error) {
	return s.ledger.ApplyFill(ctx, fill)
}

// Publish hands a tick to the feed adapter.
func (s *Service) Publish(ctx context.Context, tick schema.PriceTick) error {
	return s.feed.Publish(ctx, tick)
}

// Position returns a copy of the symbol's position.
func (s *Service) Position(ctx context.Context, symbol schema.Symbol) (state.Position, error) {
	return s.ledger.Get(ctx, symbol)
}

// Snapshot returns the ledger view marked to the cached prices.
func (s *Service) Snapshot(ctx context.Context) (state.Snapshot, error) {
	snapshot, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return state.Snapshot{}, err
	}
	return snapshot.WithUnrealized(s.prices), nil
}

// Exposure values every open position at the cached prices.
func (s *Service) Exposure(ctx context.Context) (risk.ExposureReport, error) {
	snapshot, err := s.ledger.Snapshot(ctx)
	if err != nil {
		return risk.ExposureReport{}, err
	}
	return s.checker.Exposure().Report(snapshot), nil
}

// Recover restores a prior snapshot. Session counters carry over only when
// the snapshot belongs to the current session.
func (s *Service) Recover(ctx context.Context, snapshot state.Snapshot) (state.RecoverResult, error) {
	start := s.checker.Config().SessionReset.SessionStart(s.now())
	return state.Recover(ctx, s.ledger, snapshot, start)
}

// RecoverFromFile restores the snapshot at path, if any.
func (s *Service) RecoverFromFile(ctx context.Context, path string) (state.RecoverResult, error) {
	start := s.checker.Config().SessionReset.SessionStart(s.now())
	return state.RecoverFromFile(ctx, s.ledger, path, start)
}

// ClearHalt leaves safe mode.
func (s *Service) ClearHalt(ctx context.Context) error {
	return s.ledger.ClearHalt(ctx)
}

func (s *Service) Metrics() *obs.Metrics {
	return s.metrics
}

func (s *Service) Prices() *feed.PriceCache {
	return s.prices
}

func (s *Service) Feed() *feed.Adapter {
	return s.feed
}

func (s *Service) Ledger() *state.Ledger {
	return s.ledger
}

func (s *Service) Scheduler() *session.Scheduler {
	return s.scheduler
}

// Close stops the consumer and the scheduler, closes the feed, then waits
// for in-flight ledger operations before closing the ledger.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.feed.Close()
	s.wg.Wait()
	if err := s.ledger.Close(ctx); err != nil {
		return err
	}
	logs.Info("risk service closed")
	return nil
}
