// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/ezrec/xtrap/cpu"
)

const (
	OPCODE_SIZE = 16 // Bytes copied from the faulting instruction pointer.

	PREFIX_OPSIZE   = 0x66 // Operand size override
	PREFIX_REP      = 0xf3 // REP / mandatory F3
	PREFIX_ADDRSIZE = 0x67 // Address size override
	PREFIX_ESCAPE   = 0x0f // Two byte opcode map

	ESCAPE_38 = 0x38
	ESCAPE_3A = 0x3a
)

// Extension (REX) prefix bits.
const (
	REX_B = byte(1 << 0) // ModRM.rm / SIB.base extension
	REX_X = byte(1 << 1) // SIB.index extension
	REX_R = byte(1 << 2) // ModRM.reg extension
	REX_W = byte(1 << 3) // 64-bit operand size
)

// Window is the fixed-size copy of the bytes at the faulting instruction.
type Window [OPCODE_SIZE]byte

// shift drops the first byte of the window.
func (w *Window) shift() {
	copy(w[:], w[1:])
	w[OPCODE_SIZE-1] = 0
}

// Map is an opcode map selector.
type Map int

//go:generate go tool stringer -linecomment -type=Map
const (
	MAP_NONE = Map(0) // -
	MAP_0F   = Map(1) // 0f
	MAP_0F38 = Map(2) // 0f38
	MAP_0F3A = Map(3) // 0f3a
)

// Form describes what follows the opcode byte of a recognized instruction.
type Form struct {
	Imm          int  // Immediate bytes after the ModRM operand.
	RegisterOnly bool // Only the register-direct ModRM form is valid.
}

// Table tells the decoder which opcodes exist.
type Table interface {
	Lookup(m Map, opcode byte) (form Form, ok bool)
}

// Prefix holds the prefixes stripped ahead of the opcode.
type Prefix struct {
	OpSize bool // 0x66 seen.
	Rep    bool // 0xF3 seen.
	Rex    byte // Last extension prefix seen, 0 if none.
	Len    int  // Prefix bytes consumed.
}

// TestRex tests an extension prefix bit.
func (p Prefix) TestRex(bit byte) bool {
	return (p.Rex & bit) != 0
}

// StripPrefixes removes at most one 0x66, at most one 0xF3, and then any
// run of extension prefixes from the front of the window.
func StripPrefixes(w Window) (p Prefix, out Window) {
	out = w

	for {
		if out[0] == PREFIX_OPSIZE && !p.OpSize {
			p.OpSize = true
		} else if out[0] == PREFIX_REP && !p.Rep {
			p.Rep = true
		} else {
			break
		}
		out.shift()
		p.Len++
	}

	for (out[0] & 0xf0) == 0x40 {
		p.Rex = out[0]
		out.shift()
		p.Len++
	}

	return
}

// Instruction is one decoded instruction. The Reg and Rm fields are the raw
// 3-bit ModRM fields; their extension bits live in Prefix.Rex.
type Instruction struct {
	Prefix
	Map    Map    // Opcode map.
	Opcode byte   // Opcode byte within the map.
	ModRM  byte   // Raw ModRM byte.
	Reg    int    // ModRM.reg field.
	Rm     int    // ModRM.rm field, or register for register-direct forms.
	Mem    bool   // Set when the rm operand is memory.
	Ea     uint64 // Effective address of the memory operand.
	Imm    byte   // Immediate byte, if the form has one.
	Len    int    // Bytes consumed after the prefixes, -1 on failure.
}

// Size is the total instruction length, prefixes included.
func (in *Instruction) Size() int {
	return in.Prefix.Len + in.Len
}

// RegHigh is the extension bit for the ModRM.reg operand.
func (in *Instruction) RegHigh() bool {
	return in.TestRex(REX_R)
}

// RmHigh is the extension bit for a register-direct ModRM.rm operand.
func (in *Instruction) RmHigh() bool {
	return in.TestRex(REX_B)
}

// OperandSize is the general purpose operand size in bytes selected by
// the prefixes.
func (in *Instruction) OperandSize() int {
	switch {
	case in.TestRex(REX_W):
		return 8
	case in.OpSize:
		return 2
	}
	return 4
}

// String returns the decoded instruction in a compact form.
func (in *Instruction) String() string {
	operand := fmt.Sprintf("r%d", in.Rm)
	if in.Mem {
		operand = fmt.Sprintf("[0x%x]", in.Ea)
	}
	return fmt.Sprintf("%v:%02x reg:%d %v imm:%02x rex:%02x len:%d",
		in.Map, in.Opcode, in.Reg, operand, in.Imm, in.Rex, in.Size())
}

// Decode decodes the instruction at the front of the window. 'regs' is
// consulted for base/index registers and the instruction pointer. On
// failure the returned instruction has Len -1.
func Decode(w Window, regs *cpu.Regs, table Table) (in Instruction, err error) {
	defer func() {
		if err != nil {
			in = Instruction{Len: -1}
		}
	}()

	in.Prefix, w = StripPrefixes(w)
	avail := OPCODE_SIZE - in.Prefix.Len

	// 0x40-0x4f are inc/dec outside of long mode.
	if in.Rex != 0 && !regs.Long {
		err = ErrOpcodeMap
		return
	}

	if w[0] == PREFIX_ADDRSIZE {
		err = ErrAddressSize
		return
	}
	if w[0] != PREFIX_ESCAPE {
		err = ErrOpcodeMap
		return
	}

	var pos int
	switch w[1] {
	case ESCAPE_38:
		in.Map = MAP_0F38
		in.Opcode = w[2]
		pos = 3
	case ESCAPE_3A:
		in.Map = MAP_0F3A
		in.Opcode = w[2]
		pos = 3
	default:
		in.Map = MAP_0F
		in.Opcode = w[1]
		pos = 2
	}

	form, ok := table.Lookup(in.Map, in.Opcode)
	if !ok {
		err = ErrOpcodeUnknown
		return
	}

	if pos >= avail {
		err = errModRMWindow
		return
	}
	in.ModRM = w[pos]
	in.Reg = int((in.ModRM >> 3) & 7)
	in.Rm = int(in.ModRM & 7)
	pos++

	if form.RegisterOnly {
		// Register-direct only; no address decode at all.
		if in.ModRM < 0xc0 {
			err = ErrRegisterOnly
			return
		}
	} else {
		var n int
		var ripRelative bool
		n, ripRelative, err = in.address(w[pos:avail], regs)
		if err != nil {
			return
		}
		pos += n
		defer func() {
			if err == nil && ripRelative {
				in.Ea += regs.Ip + uint64(in.Size())
			}
		}()
	}

	switch form.Imm {
	case 0:
	case 1:
		if pos >= avail {
			err = errImmediateWindow
			return
		}
		in.Imm = w[pos]
		pos++
	default:
		err = ErrImmediate
		return
	}

	in.Len = pos
	return
}

// address decodes the memory operand following the ModRM byte from 'rest'.
// It returns the number of SIB and displacement bytes consumed.
func (in *Instruction) address(rest []byte, regs *cpu.Regs) (n int, ripRelative bool, err error) {
	mod := in.ModRM >> 6
	if mod == 3 {
		return
	}

	in.Mem = true

	reg := func(index int, high bool) uint64 {
		value, _ := regs.Reg(index, high, 8)
		return value
	}

	var ea uint64
	switch {
	case in.Rm == 4:
		if len(rest) < 1 {
			err = errSibWindow
			return
		}
		sib := rest[0]
		n++
		scale := sib >> 6
		index := int((sib >> 3) & 7)
		base := int(sib & 7)

		if base == 5 && mod == 0 {
			if len(rest) < n+4 {
				err = errDisplacementWindow
				return
			}
			ea = uint64(int64(int32(binary.LittleEndian.Uint32(rest[n:]))))
			n += 4
		} else {
			ea = reg(base, in.TestRex(REX_B))
		}

		// Index 4 without REX.X means no index.
		if index != 4 || in.TestRex(REX_X) {
			ea += reg(index, in.TestRex(REX_X)) << scale
		}
	case in.Rm == 5 && mod == 0:
		if len(rest) < 4 {
			err = errDisplacementWindow
			return
		}
		ea = uint64(int64(int32(binary.LittleEndian.Uint32(rest))))
		n += 4
		// Long mode resolves against the end of the instruction.
		ripRelative = regs.Long
	default:
		ea = reg(in.Rm, in.TestRex(REX_B))
	}

	switch mod {
	case 1:
		if len(rest) < n+1 {
			err = errDisplacementWindow
			return
		}
		ea += uint64(int64(int8(rest[n])))
		n++
	case 2:
		if len(rest) < n+4 {
			err = errDisplacementWindow
			return
		}
		ea += uint64(int64(int32(binary.LittleEndian.Uint32(rest[n:]))))
		n += 4
	}

	if !regs.Long {
		ea &= 0xffffffff
	}
	in.Ea = ea

	return
}
