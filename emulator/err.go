// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"errors"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	ErrFetch   = errors.New(f("instruction fetch failed"))
	ErrPrefix  = errors.New(f("mandatory prefix mismatch"))
	ErrNative  = errors.New(f("instruction is native"))
	ErrOperand = errors.New(f("operand access failed"))
	ErrForm    = errors.New(f("operand form invalid"))
	ErrTable   = errors.New(f("opcode table"))
)

// Joined once, so a declined instruction never allocates.
var (
	errFetchFault   = errors.Join(ErrFetch, cpu.ErrFault)
	errOperandFault = errors.Join(ErrOperand, cpu.ErrFault)
)

// ErrDuplicate reports an opcode bound twice.
type ErrDuplicate string

func (err ErrDuplicate) Error() string {
	return f("opcode %v bound twice", string(err))
}
