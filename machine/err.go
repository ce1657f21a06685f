// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package machine

import (
	"github.com/ezrec/xtrap/translate"
)

var f = translate.From

// ErrCpus reports a CPU count that cannot run the scenario.
type ErrCpus int

func (err ErrCpus) Error() string {
	return f("%d CPUs: too few for the scenario", int(err))
}
