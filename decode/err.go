// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package decode

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	ErrOpcodeMap     = errors.New(f("opcode map unrecognized"))
	ErrOpcodeUnknown = errors.New(f("opcode unknown"))
	ErrAddressSize   = errors.New(f("address size override unsupported"))
	ErrRegisterOnly  = errors.New(f("memory operand unsupported"))
	ErrModRM         = errors.New(f("modrm"))
	ErrSib           = errors.New(f("sib"))
	ErrDisplacement  = errors.New(f("displacement"))
	ErrImmediate     = errors.New(f("immediate"))
	ErrWindow        = errors.New(f("instruction overruns opcode window"))
)

// Joined once, so a declined instruction never allocates.
var (
	errModRMWindow        = errors.Join(ErrModRM, ErrWindow)
	errSibWindow          = errors.Join(ErrSib, ErrWindow)
	errDisplacementWindow = errors.Join(ErrDisplacement, ErrWindow)
	errImmediateWindow    = errors.Join(ErrImmediate, ErrWindow)
)
