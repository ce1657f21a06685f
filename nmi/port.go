// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package nmi

import (
	"slices"
	"sync"
)

// System control port B, which latches the NMI reason.
const NMI_REASON_PORT = uint16(0x61)

// Reason bits, as read from NMI_REASON_PORT.
const (
	NMI_REASON_SERR  = uint8(0x80) // PCI system error.
	NMI_REASON_IOCHK = uint8(0x40) // I/O channel check.
	NMI_REASON_MASK  = NMI_REASON_SERR | NMI_REASON_IOCHK
)

// Control bits, as written to NMI_REASON_PORT.
const (
	NMI_REASON_CLEAR_SERR  = uint8(0x04) // Clear and disable SERR.
	NMI_REASON_CLEAR_IOCHK = uint8(0x08) // Clear and disable IOCHK.
	NMI_REASON_CLEAR_MASK  = uint8(0x0f)
)

// Port is byte-wide I/O port access.
type Port interface {
	In(port uint16) uint8
	Out(port uint16, value uint8)
}

// SystemPort simulates the reason latch of system control port B. The
// error lines are latched by Assert, and cleared while their disable bit
// is written as set.
type SystemPort struct {
	mutex   sync.Mutex
	control uint8
	serr    bool
	iochk   bool
	writes  []uint8
}

var _ Port = (*SystemPort)(nil)

// Assert raises the error lines in 'reason'. Disabled lines are ignored.
func (sp *SystemPort) Assert(reason uint8) {
	sp.mutex.Lock()
	defer sp.mutex.Unlock()

	if (reason&NMI_REASON_SERR) != 0 && (sp.control&NMI_REASON_CLEAR_SERR) == 0 {
		sp.serr = true
	}
	if (reason&NMI_REASON_IOCHK) != 0 && (sp.control&NMI_REASON_CLEAR_IOCHK) == 0 {
		sp.iochk = true
	}
}

// In reads the port.
func (sp *SystemPort) In(port uint16) (value uint8) {
	if port != NMI_REASON_PORT {
		value = 0xff
		return
	}

	sp.mutex.Lock()
	defer sp.mutex.Unlock()

	value = sp.control & NMI_REASON_CLEAR_MASK
	if sp.serr {
		value |= NMI_REASON_SERR
	}
	if sp.iochk {
		value |= NMI_REASON_IOCHK
	}
	return
}

// Out writes the port.
func (sp *SystemPort) Out(port uint16, value uint8) {
	if port != NMI_REASON_PORT {
		return
	}

	sp.mutex.Lock()
	defer sp.mutex.Unlock()

	sp.writes = append(sp.writes, value)
	sp.control = value & NMI_REASON_CLEAR_MASK
	if (sp.control & NMI_REASON_CLEAR_SERR) != 0 {
		sp.serr = false
	}
	if (sp.control & NMI_REASON_CLEAR_IOCHK) != 0 {
		sp.iochk = false
	}
}

// Writes returns every value written to the port.
func (sp *SystemPort) Writes() []uint8 {
	sp.mutex.Lock()
	defer sp.mutex.Unlock()

	return slices.Clone(sp.writes)
}
