// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package nmi

import (
	"fmt"
	"iter"
	"maps"
)

var _nmi_defines = map[string]string{
	"NMI_REASON_SERR":  fmt.Sprintf("%v", NMI_REASON_SERR),
	"NMI_REASON_IOCHK": fmt.Sprintf("%v", NMI_REASON_IOCHK),
}

// Defines returns an iterator over the NMI reason bits.
func Defines() iter.Seq2[string, string] {
	return maps.All(_nmi_defines)
}
