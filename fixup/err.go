// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package fixup

import (
	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

// ErrDuplicate reports an instruction address with two fixups.
type ErrDuplicate uint64

func (err ErrDuplicate) Error() string {
	return f("fixup for 0x%x defined twice", uint64(err))
}
