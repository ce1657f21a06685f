// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package nmi

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	ErrUnbalanced = errors.New(f("nmi restart without stop"))
	ErrPanic      = errors.New(f("nmi panic"))
)
