package chaos

import (
	"fmt"
	"math/rand"
	"time"

	"riskguard/internal/schema"
	"riskguard/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	// ReorderWindow buffers ticks and releases them in random order.
	ReorderWindow int
	// StaleRate re-emits an older tick of the same symbol after a newer one.
	StaleRate float64
}

// Engine applies chaos rules to a tick stream. It is not safe for concurrent
// use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []schema.PriceTick
	emitted map[schema.Symbol]schema.PriceTick
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		emitted: make(map[schema.Symbol]schema.PriceTick),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	for name, rate := range map[string]float64{
		"dropRate":      c.DropRate,
		"duplicateRate": c.DuplicateRate,
		"staleRate":     c.StaleRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1", exception.ErrConfig, name)
		}
	}
	if c.ReorderWindow <= 0 {
		return fmt.Errorf("%w: reorderWindow must be >= 1", exception.ErrConfig)
	}
	return nil
}

// Process applies chaos to a single tick and returns the ticks to deliver.
func (e *Engine) Process(tick schema.PriceTick) []schema.PriceTick {
	if e == nil {
		return []schema.PriceTick{tick}
	}
	if e.roll(e.cfg.DropRate) {
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.emit(tick)
	}
	e.pending = append(e.pending, tick)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.emit(e.take())
}

// Flush returns any buffered ticks after processing completes.
func (e *Engine) Flush() []schema.PriceTick {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]schema.PriceTick, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.emit(e.take())...)
	}
	return out
}

func (e *Engine) take() schema.PriceTick {
	idx := e.rng.Intn(len(e.pending))
	tick := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return tick
}

func (e *Engine) emit(tick schema.PriceTick) []schema.PriceTick {
	out := []schema.PriceTick{tick}
	if e.roll(e.cfg.DuplicateRate) {
		out = append(out, tick)
	}
	if prev, ok := e.emitted[tick.Symbol]; ok && prev.SourceTs < tick.SourceTs && e.roll(e.cfg.StaleRate) {
		out = append(out, prev)
	}
	if prev, ok := e.emitted[tick.Symbol]; !ok || prev.SourceTs < tick.SourceTs {
		e.emitted[tick.Symbol] = tick
	}
	return out
}

func (e *Engine) roll(rate float64) bool {
	return rate > 0 && e.rng.Float64() < rate
}
