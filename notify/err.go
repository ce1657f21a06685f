// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package notify

import (
	"errors"

	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

var (
	ErrRegistered    = errors.New(f("hook already registered"))
	ErrNotRegistered = errors.New(f("hook not registered"))
)
