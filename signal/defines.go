// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package signal

import (
	"fmt"
	"iter"
	"maps"
)

var _signal_defines = map[string]string{
	"SIGINT":  fmt.Sprintf("%v", int(SIGINT)),
	"SIGILL":  fmt.Sprintf("%v", int(SIGILL)),
	"SIGTRAP": fmt.Sprintf("%v", int(SIGTRAP)),
	"SIGBUS":  fmt.Sprintf("%v", int(SIGBUS)),
	"SIGFPE":  fmt.Sprintf("%v", int(SIGFPE)),
	"SIGKILL": fmt.Sprintf("%v", int(SIGKILL)),
	"SIGSEGV": fmt.Sprintf("%v", int(SIGSEGV)),
}

// Defines returns an iterator over the signal numbers.
func Defines() iter.Seq2[string, string] {
	return maps.All(_signal_defines)
}
