package exception

import "github.com/yanun0323/errors"

var (
	ErrInvalidOrder     = errors.New("risk: invalid order")
	ErrPriceUnavailable = errors.New("risk: price unavailable")
	ErrSchedulerRunning = errors.New("session: scheduler already running")
)
