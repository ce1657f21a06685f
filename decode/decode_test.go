package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
)

type testTable map[uint16]Form

func (tt testTable) Lookup(m Map, opcode byte) (form Form, ok bool) {
	form, ok = tt[uint16(m)<<8|uint16(opcode)]
	return
}

var sseTable = testTable{
	uint16(MAP_0F38)<<8 | 0x00: {},
	uint16(MAP_0F3A)<<8 | 0x0e: {Imm: 1},
	uint16(MAP_0F)<<8 | 0xb8:   {RegisterOnly: true},
}

func window(code ...byte) (w Window) {
	copy(w[:], code)
	return
}

func testRegs() *cpu.Regs {
	regs := &cpu.Regs{Ip: 0x1000, Long: true}
	regs.Gpr[cpu.REG_AX] = 0x10000
	regs.Gpr[cpu.REG_CX] = 0x3
	regs.Gpr[cpu.REG_BX] = 0x20000
	regs.Gpr[cpu.REG_SP] = 0x7ff0
	regs.Gpr[cpu.REG_R9] = 0x90000
	return regs
}

func TestStripPrefixes(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name   string
		code   []byte
		prefix Prefix
		first  byte
	}){
		{"none", []byte{0x0f, 0x38}, Prefix{}, 0x0f},
		{"opsize", []byte{0x66, 0x0f}, Prefix{OpSize: true, Len: 1}, 0x0f},
		{"rep", []byte{0xf3, 0x0f}, Prefix{Rep: true, Len: 1}, 0x0f},
		{"rep_opsize", []byte{0xf3, 0x66, 0x0f}, Prefix{OpSize: true, Rep: true, Len: 2}, 0x0f},
		{"opsize_once", []byte{0x66, 0x66, 0x0f}, Prefix{OpSize: true, Len: 1}, 0x66},
		{"rex_last_wins", []byte{0x66, 0x41, 0x4c, 0x0f}, Prefix{OpSize: true, Rex: 0x4c, Len: 3}, 0x0f},
		{"rex_then_opsize", []byte{0x48, 0x66, 0x0f}, Prefix{Rex: 0x48, Len: 1}, 0x66},
	}

	for _, entry := range table {
		p, out := StripPrefixes(window(entry.code...))
		assert.Equal(entry.prefix, p, entry.name)
		assert.Equal(entry.first, out[0], entry.name)
		// The window is shifted left, zero filled.
		assert.Equal(byte(0), out[OPCODE_SIZE-1], entry.name)
	}
}

func TestDecode(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name   string
		code   []byte
		long   bool
		expect Instruction
	}){
		{"pshufb_reg", []byte{0x66, 0x0f, 0x38, 0x00, 0xc1}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0xc1, Reg: 0, Rm: 1, Len: 4}},
		{"pshufb_rex", []byte{0x66, 0x41, 0x44, 0x0f, 0x38, 0x00, 0xc1}, true,
			Instruction{Prefix: Prefix{OpSize: true, Rex: 0x44, Len: 3}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0xc1, Reg: 0, Rm: 1, Len: 4}},
		{"pshufb_sib_rsp_disp8", []byte{0x66, 0x0f, 0x38, 0x00, 0x44, 0x24, 0x08}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0x44, Reg: 0, Rm: 4, Mem: true, Ea: 0x7ff8, Len: 6}},
		{"pshufb_disp8_negative", []byte{0x66, 0x0f, 0x38, 0x00, 0x40, 0xf0}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0x40, Reg: 0, Rm: 0, Mem: true, Ea: 0xfff0, Len: 5}},
		{"pshufb_disp32_absolute", []byte{0x66, 0x0f, 0x38, 0x00, 0x05, 0x78, 0x56, 0x34, 0x12}, false,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0x05, Reg: 0, Rm: 5, Mem: true, Ea: 0x12345678, Len: 8}},
		{"pshufb_rip_relative", []byte{0x66, 0x0f, 0x38, 0x00, 0x05, 0x10, 0x00, 0x00, 0x00}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0x05, Reg: 0, Rm: 5, Mem: true, Ea: 0x1000 + 9 + 0x10, Len: 8}},
		{"pshufb_sib_no_base", []byte{0x66, 0x0f, 0x38, 0x00, 0x04, 0x25, 0x00, 0x30, 0x00, 0x00}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0x04, Reg: 0, Rm: 4, Mem: true, Ea: 0x3000, Len: 9}},
		{"pshufb_rex_base_disp32", []byte{0x66, 0x41, 0x0f, 0x38, 0x00, 0x81, 0x00, 0x01, 0x00, 0x00}, true,
			Instruction{Prefix: Prefix{OpSize: true, Rex: 0x41, Len: 2}, Map: MAP_0F38, Opcode: 0x00,
				ModRM: 0x81, Reg: 0, Rm: 1, Mem: true, Ea: 0x90100, Len: 8}},
		{"pblendw_sib_scaled", []byte{0x66, 0x0f, 0x3a, 0x0e, 0x04, 0x8b, 0x55}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F3A, Opcode: 0x0e,
				ModRM: 0x04, Reg: 0, Rm: 4, Mem: true, Ea: 0x20000 + 3*4, Imm: 0x55, Len: 6}},
		{"pblendw_reg", []byte{0x66, 0x0f, 0x3a, 0x0e, 0xca, 0xf0}, true,
			Instruction{Prefix: Prefix{OpSize: true, Len: 1}, Map: MAP_0F3A, Opcode: 0x0e,
				ModRM: 0xca, Reg: 1, Rm: 2, Imm: 0xf0, Len: 5}},
		{"popcnt", []byte{0xf3, 0x48, 0x0f, 0xb8, 0xc8}, true,
			Instruction{Prefix: Prefix{Rep: true, Rex: 0x48, Len: 2}, Map: MAP_0F, Opcode: 0xb8,
				ModRM: 0xc8, Reg: 1, Rm: 0, Len: 3}},
	}

	for _, entry := range table {
		regs := testRegs()
		regs.Long = entry.long
		in, err := Decode(window(entry.code...), regs, sseTable)
		assert.NoError(err, entry.name)
		assert.Equal(entry.expect, in, entry.name)
		assert.Equal(len(entry.code), in.Size(), entry.name)
	}
}

func TestDecode_Truncate32(t *testing.T) {
	assert := assert.New(t)

	regs := testRegs()
	regs.Long = false
	regs.Gpr[cpu.REG_AX] = 0xffffffff

	in, err := Decode(window(0x66, 0x0f, 0x38, 0x00, 0x40, 0x01), regs, sseTable)
	assert.NoError(err)
	assert.Equal(uint64(0), in.Ea)

	// No extension prefixes outside of long mode.
	in, err = Decode(window(0x66, 0x41, 0x0f, 0x38, 0x00, 0xc1), regs, sseTable)
	assert.ErrorIs(err, ErrOpcodeMap)
	assert.Equal(-1, in.Len)
}

func TestDecode_Failures(t *testing.T) {
	assert := assert.New(t)

	rex := []byte{0x66}
	for range 12 {
		rex = append(rex, 0x48)
	}
	overrun := append(rex, 0x0f, 0x38, 0x00)

	table := [](struct {
		name string
		code []byte
		err  error
	}){
		{"not_escape", []byte{0x90}, ErrOpcodeMap},
		{"double_opsize", []byte{0x66, 0x66, 0x0f, 0x38, 0x00, 0xc1}, ErrOpcodeMap},
		{"address_size", []byte{0x66, 0x67, 0x0f, 0x38, 0x00, 0x00}, ErrAddressSize},
		{"ud2", []byte{0x0f, 0x0b}, ErrOpcodeUnknown},
		{"unknown_38", []byte{0x66, 0x0f, 0x38, 0xff, 0xc1}, ErrOpcodeUnknown},
		{"popcnt_memory", []byte{0xf3, 0x0f, 0xb8, 0x08}, ErrRegisterOnly},
		{"window_overrun", overrun, ErrWindow},
	}

	for _, entry := range table {
		in, err := Decode(window(entry.code...), testRegs(), sseTable)
		assert.ErrorIs(err, entry.err, entry.name)
		assert.Equal(-1, in.Len, entry.name)
		assert.Equal(-1, in.Size(), entry.name)
		assert.False(in.Mem, entry.name)
	}
}

func TestInstruction_OperandSize(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(4, (&Instruction{}).OperandSize())
	assert.Equal(2, (&Instruction{Prefix: Prefix{OpSize: true}}).OperandSize())
	assert.Equal(8, (&Instruction{Prefix: Prefix{OpSize: true, Rex: 0x48}}).OperandSize())
}

func TestMap_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("-", MAP_NONE.String())
	assert.Equal("0f38", MAP_0F38.String())
	assert.Equal("Map(4)", Map(4).String())
}
