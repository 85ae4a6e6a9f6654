package obs

import (
	"fmt"
	"sync/atomic"
	"time"

	"riskguard/pkg/exception"
)

const (
	decisionSeqBits = 52
	decisionSeqMask = 1<<decisionSeqBits - 1

	// MaxInstance is the largest instance tag a decision ID can carry.
	MaxInstance = 1<<(64-decisionSeqBits) - 1
)

// DecisionIDs hands out decision IDs that are unique across instances and
// restarts. The top 12 bits carry the instance tag, the low 52 bits a
// sequence seeded from the wall clock in microseconds.
type DecisionIDs struct {
	instance uint64
	seq      atomic.Uint64
}

// NewDecisionIDs returns a generator for instance. A zero seed uses the
// current time.
func NewDecisionIDs(instance uint16, seed uint64) (*DecisionIDs, error) {
	if instance > MaxInstance {
		return nil, fmt.Errorf("%w: decision instance tag %d exceeds %d", exception.ErrConfig, instance, MaxInstance)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixMicro())
	}
	g := &DecisionIDs{instance: uint64(instance) << decisionSeqBits}
	g.seq.Store(seed & decisionSeqMask)
	return g, nil
}

// Next returns the next ID. A nil generator returns 0.
func (g *DecisionIDs) Next() uint64 {
	if g == nil {
		return 0
	}
	return g.instance | g.seq.Add(1)&decisionSeqMask
}

// SplitDecisionID returns the instance tag and sequence packed into id.
func SplitDecisionID(id uint64) (instance uint16, seq uint64) {
	return uint16(id >> decisionSeqBits), id & decisionSeqMask
}
