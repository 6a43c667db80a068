package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrProviderFailure = errors.New("provider failure")
	ErrNothingToUndo   = errors.New("already at earliest state")
	ErrNothingToRedo   = errors.New("already at latest state")
)
