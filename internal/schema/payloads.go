package schema

// RiskAction is the outcome of a risk check.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAccept
	RiskActionReject
)

func (a RiskAction) String() string {
	switch a {
	case RiskActionAccept:
		return "accept"
	case RiskActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// RiskReason explains a rejection. Exactly one reason is reported per decision.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonPriceUnavailable
	RiskReasonPositionSizeExceeded
	RiskReasonDailyLossLimitBreached
	RiskReasonOpenPositionLimitExceeded
	// RiskReasonSafeMode is reported only while the ledger is halted.
	RiskReasonSafeMode
)

// RiskReasons lists every rejection reason, in evaluation order.
var RiskReasons = []RiskReason{
	RiskReasonSafeMode,
	RiskReasonPriceUnavailable,
	RiskReasonPositionSizeExceeded,
	RiskReasonDailyLossLimitBreached,
	RiskReasonOpenPositionLimitExceeded,
}

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonPriceUnavailable:
		return "price_unavailable"
	case RiskReasonPositionSizeExceeded:
		return "position_size_exceeded"
	case RiskReasonDailyLossLimitBreached:
		return "daily_loss_limit_breached"
	case RiskReasonOpenPositionLimitExceeded:
		return "open_position_limit_exceeded"
	case RiskReasonSafeMode:
		return "safe_mode"
	default:
		return "unknown"
	}
}

// Decision is the result of checking an OrderProposal.
type Decision struct {
	ID     uint64
	Symbol Symbol
	Action RiskAction
	Reason RiskReason
}

// Accepted reports whether the order may be forwarded to the broker.
func (d Decision) Accepted() bool {
	return d.Action == RiskActionAccept
}

// Accept builds an accepting decision.
func Accept(symbol Symbol) Decision {
	return Decision{Symbol: symbol, Action: RiskActionAccept, Reason: RiskReasonNone}
}

// Reject builds a rejecting decision with a single reason.
func Reject(symbol Symbol, reason RiskReason) Decision {
	return Decision{Symbol: symbol, Action: RiskActionReject, Reason: reason}
}
