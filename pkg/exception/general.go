package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrConfig          = errors.New("invalid configuration")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilInstance     = errors.New("nil instance")
)
