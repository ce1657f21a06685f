// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"fmt"
	"iter"
	"maps"
	"strings"

	syscpu "golang.org/x/sys/cpu"
)

// Feature is a set of instruction set extensions.
type Feature uint

const (
	FEATURE_SSSE3  = Feature(1 << 0) // ssse3
	FEATURE_SSE41  = Feature(1 << 1) // sse4.1
	FEATURE_SSE42  = Feature(1 << 2) // sse4.2
	FEATURE_POPCNT = Feature(1 << 3) // popcnt
	FEATURE_MOVBE  = Feature(1 << 4) // movbe

	FEATURE_ALL = FEATURE_SSSE3 | FEATURE_SSE41 | FEATURE_SSE42 | FEATURE_POPCNT | FEATURE_MOVBE
)

var featureNames = []struct {
	feature Feature
	name    string
}{
	{FEATURE_SSSE3, "ssse3"},
	{FEATURE_SSE41, "sse4.1"},
	{FEATURE_SSE42, "sse4.2"},
	{FEATURE_POPCNT, "popcnt"},
	{FEATURE_MOVBE, "movbe"},
}

func (ft Feature) String() string {
	var names []string
	for _, entry := range featureNames {
		if (ft & entry.feature) != 0 {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// HostFeatures returns the extensions the running processor implements.
// MOVBE is not reported by the processor feature query, and is always
// treated as missing.
func HostFeatures() (ft Feature) {
	if syscpu.X86.HasSSSE3 {
		ft |= FEATURE_SSSE3
	}
	if syscpu.X86.HasSSE41 {
		ft |= FEATURE_SSE41
	}
	if syscpu.X86.HasSSE42 {
		ft |= FEATURE_SSE42
	}
	if syscpu.X86.HasPOPCNT {
		ft |= FEATURE_POPCNT
	}
	return
}

var _feature_defines = map[string]string{
	"FEATURE_SSSE3":  fmt.Sprintf("%v", uint(FEATURE_SSSE3)),
	"FEATURE_SSE41":  fmt.Sprintf("%v", uint(FEATURE_SSE41)),
	"FEATURE_SSE42":  fmt.Sprintf("%v", uint(FEATURE_SSE42)),
	"FEATURE_POPCNT": fmt.Sprintf("%v", uint(FEATURE_POPCNT)),
	"FEATURE_MOVBE":  fmt.Sprintf("%v", uint(FEATURE_MOVBE)),
	"FEATURE_ALL":    fmt.Sprintf("%v", uint(FEATURE_ALL)),
}

// Defines returns an iterator over the feature constants.
func Defines() iter.Seq2[string, string] {
	return maps.All(_feature_defines)
}
