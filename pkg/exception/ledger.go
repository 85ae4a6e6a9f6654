package exception

import "github.com/yanun0323/errors"

var (
	ErrInvalidFill             = errors.New("ledger: invalid fill")
	ErrBusy                    = errors.New("ledger: busy")
	ErrLedgerClosed            = errors.New("ledger: closed")
	ErrStateInvariantViolation = errors.New("ledger: state invariant violation")
)
