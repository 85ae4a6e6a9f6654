package exception

import "github.com/yanun0323/errors"

var (
	ErrInvalidTick     = errors.New("feed: invalid tick")
	ErrBackpressure    = errors.New("feed: backpressure")
	ErrFeedClosed      = errors.New("feed: closed")
	ErrConsumerRunning = errors.New("feed: consumer already running")
)
