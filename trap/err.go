// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package trap

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	ErrFatal    = errors.New(f("kernel died"))
	ErrFrozen   = errors.New(f("vector table frozen"))
	ErrTrapInit = errors.New(f("vector table setup failed"))
)

// ErrVector reports a vector outside the table.
type ErrVector int

func (err ErrVector) Error() string {
	return f("vector %d out of range", int(err))
}

// ErrBound reports a vector bound twice.
type ErrBound int

func (err ErrBound) Error() string {
	return f("vector %d already bound", int(err))
}
