// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package task

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	ErrFpuOwner = errors.New(f("fpu not owned by task"))
	ErrFpuState = errors.New(f("fpu state invalid"))
)
