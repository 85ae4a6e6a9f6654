package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"riskguard/internal/obs"
	"riskguard/pkg/exception"
)

const defaultCheckInterval = time.Second

// State is the scheduler's position in the reset cycle.
type State uint32

const (
	StateActive State = iota
	StateResetPending
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateResetPending:
		return "reset_pending"
	default:
		return "unknown"
	}
}

// Resetter is the ledger operation invoked at each session boundary.
type Resetter interface {
	ResetDaily(ctx context.Context) error
}

// Config controls the scheduler.
type Config struct {
	Boundary Boundary
	// CheckInterval is the timer period. A failed reset is retried on the
	// next tick.
	CheckInterval time.Duration
	Now           func() time.Time
}

// Scheduler resets the session counters once per boundary. A boundary is
// never skipped: a failed reset stays pending until it succeeds.
type Scheduler struct {
	cfg     Config
	target  Resetter
	metrics *obs.Metrics
	state   atomic.Uint32
	running atomic.Bool

	mu   sync.Mutex
	next time.Time
}

// NewScheduler creates a scheduler armed for the first boundary after now.
func NewScheduler(cfg Config, target Resetter, metrics *obs.Metrics) (*Scheduler, error) {
	if err := cfg.Boundary.Validate(); err != nil {
		return nil, err
	}
	if target == nil {
		return nil, exception.ErrNilInstance
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{
		cfg:     cfg,
		target:  target,
		metrics: metrics,
	}
	s.next = cfg.Boundary.Next(cfg.Now())
	return s, nil
}

// Run drives the scheduler until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return exception.ErrSchedulerRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	logs.Infof("session scheduler started, next reset at %s", s.NextReset().Format(time.RFC3339))
	for {
		select {
		case <-ctx.Done():
			logs.Info("session scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx, s.cfg.Now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) == StateActive {
		if now.Before(s.next) {
			return
		}
		s.state.Store(uint32(StateResetPending))
	}

	if err := s.target.ResetDaily(ctx); err != nil {
		s.metrics.IncResetFailure()
		logs.Errorf("session reset for boundary %s failed, retrying next tick, err: %+v", s.next.Format(time.RFC3339), err)
		return
	}

	s.metrics.IncReset()
	logs.Infof("session reset done for boundary %s", s.next.Format(time.RFC3339))
	s.next = s.cfg.Boundary.Next(now)
	s.state.Store(uint32(StateActive))
}

// State returns the current scheduler state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// NextReset returns the boundary the scheduler is waiting for.
func (s *Scheduler) NextReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
