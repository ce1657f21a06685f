// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	// Memory accessor errors
	ErrFault       = errors.New(f("bad address"))
	ErrReadOnly    = errors.New(f("write to read-only page"))
	ErrRegister    = errors.New(f("register invalid"))
	ErrOperandSize = errors.New(f("operand size invalid"))
)

// ErrAddress reports the first inaccessible address of a copy.
type ErrAddress uint64

func (ea ErrAddress) Error() string {
	return f("address 0x%x inaccessible", uint64(ea))
}

func (ea ErrAddress) Unwrap() error {
	return ErrFault
}
