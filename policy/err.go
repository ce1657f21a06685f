// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package policy

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var ErrScript = errors.New(f("policy script failed"))

// ErrValue reports a script value of the wrong kind or range.
type ErrValue string

func (err ErrValue) Error() string {
	return f("invalid value: %v", string(err))
}

// ErrTask reports a reference to an undeclared task, or a task declared
// twice.
type ErrTask int

func (err ErrTask) Error() string {
	return f("task %d: not declared exactly once", int(err))
}

// ErrRegister reports an unknown general purpose register name.
type ErrRegister string

func (err ErrRegister) Error() string {
	return f("unknown register '%v'", string(err))
}
