package emulator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/decode"
	"github.com/ezrec/xtrap/simd"
)

const (
	CODE_ADDR = uint64(0x1000)
	DATA_ADDR = uint64(0x2000)
	DATA_END  = DATA_ADDR + cpu.PAGE_SIZE
)

func testMachine(t *testing.T, code ...byte) (regs *cpu.Regs, local *cpu.Local, mem *cpu.PageMemory) {
	mem = cpu.NewPageMemory()
	mem.Map(CODE_ADDR, cpu.PAGE_SIZE, false)
	mem.Map(DATA_ADDR, cpu.PAGE_SIZE, true)
	assert.NoError(t, mem.Poke(CODE_ADDR, code))

	regs = &cpu.Regs{Ip: CODE_ADDR, Cs: cpu.USER_CS, Ss: cpu.USER_SS, Long: true}
	regs.Gpr[cpu.REG_SI] = DATA_ADDR

	local = cpu.NewLocal(0)
	for i := range local.Xmm {
		for n := range 16 {
			local.Xmm[i][n] = byte(i*16 + n)
		}
	}

	return
}

func TestTable(t *testing.T) {
	assert := assert.New(t)

	tb := DefaultTable()

	table := [](struct {
		m     decode.Map
		code  byte
		name  string
		shape Shape
	}){
		{decode.MAP_0F38, 0x00, "pshufb", XMM_XMM},
		{decode.MAP_0F38, 0x10, "pblendvb", XMM_XMM_XMM0},
		{decode.MAP_0F38, 0x17, "ptest", FLAGS_XMM_XMM},
		{decode.MAP_0F38, 0x2a, "movntdqa", XMM_MEM},
		{decode.MAP_0F38, 0x37, "pcmpgtq", XMM_XMM},
		{decode.MAP_0F38, 0x41, "phminposuw", XMM_XMM},
		{decode.MAP_0F38, 0xf0, "movbe", GPR_MEM},
		{decode.MAP_0F38, 0xf1, "movbe", MEM_GPR},
		{decode.MAP_0F3A, 0x0a, "roundss", XMM_XMM_IMM},
		{decode.MAP_0F3A, 0x16, "pextrd/q", RM_XMM_IMM},
		{decode.MAP_0F3A, 0x22, "pinsrd/q", XMM_RM_IMM},
		{decode.MAP_0F3A, 0x42, "mpsadbw", XMM_XMM_IMM},
		{decode.MAP_0F, 0xb8, "popcnt", GPR_GPR},
	}

	for _, entry := range table {
		op := tb.Op(entry.m, entry.code)
		if !assert.NotNil(op, entry.name) {
			continue
		}
		assert.Equal(entry.name, op.Name)
		assert.Equal(entry.shape, op.Shape, entry.name)

		form, ok := tb.Lookup(entry.m, entry.code)
		assert.True(ok, entry.name)
		assert.Equal(entry.shape.HasImm(), form.Imm == 1, entry.name)
		assert.Equal(entry.shape == GPR_GPR, form.RegisterOnly, entry.name)
	}

	_, ok := tb.Lookup(decode.MAP_0F, 0x0b)
	assert.False(ok)
	_, ok = tb.Lookup(decode.MAP_0F38, 0x18)
	assert.False(ok)
	assert.Nil(tb.Op(decode.MAP_NONE, 0))

	count := 0
	for op := range tb.Ops() {
		count++
		switch op.Shape {
		case XMM_XMM, XMM_MEM:
			assert.NotNil(op.Vector, op.Name)
		case XMM_XMM_IMM:
			assert.NotNil(op.Immediate, op.Name)
		case XMM_XMM_XMM0:
			assert.NotNil(op.Masked, op.Name)
		case FLAGS_XMM_XMM:
			assert.NotNil(op.Test, op.Name)
		case XMM_RM_IMM:
			assert.NotNil(op.Insert, op.Name)
		case RM_XMM_IMM:
			assert.NotNil(op.Extract, op.Name)
		default:
			assert.NotNil(op.Scalar, op.Name)
		}
	}
	assert.Equal(len(opcodes), count)

	_, err := NewTable(opcodes[0], opcodes[0])
	assert.ErrorIs(err, ErrTable)
	assert.ErrorIs(err, ErrDuplicate("pshufb"))

	_, err = NewTable(&Op{Name: "bad"})
	assert.ErrorIs(err, decode.ErrOpcodeMap)
}

func TestEmulate_Vector(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	// pshufb xmm1, xmm2
	regs, local, mem := testMachine(t, 0x66, 0x0f, 0x38, 0x00, 0xca)
	expect := simd.ShuffleEpi8(local.Xmm[1], local.Xmm[2])
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(expect, local.Xmm[1])
	assert.Equal(CODE_ADDR+5, regs.Ip)

	// pshufb xmm9, xmm10
	regs, local, mem = testMachine(t, 0x66, 0x45, 0x0f, 0x38, 0x00, 0xca)
	expect = simd.ShuffleEpi8(local.Xmm[9], local.Xmm[10])
	xmm1 := local.Xmm[1]
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(expect, local.Xmm[9])
	assert.Equal(xmm1, local.Xmm[1])
	assert.Equal(CODE_ADDR+6, regs.Ip)

	// pminud xmm3, [rsi+0x10]
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x38, 0x3b, 0x5e, 0x10)
	source := cpu.XmmFromU64(0xffffffff_00000000, 0x00000001_7fffffff)
	assert.NoError(mem.CopyTo(DATA_ADDR+0x10, source[:]))
	expect = simd.MinEpu32(local.Xmm[3], source)
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(expect, local.Xmm[3])
	assert.Equal(CODE_ADDR+6, regs.Ip)
}

func TestEmulate_OperandWidth(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	// pmovsxbw xmm0, [rsi] reads exactly 8 bytes at the end of the page.
	regs, local, mem := testMachine(t, 0x66, 0x0f, 0x38, 0x20, 0x06)
	regs.Gpr[cpu.REG_SI] = DATA_END - 8
	data := []byte{0x80, 0x7f, 0xff, 0x01, 0, 0, 0, 0xfe}
	assert.NoError(mem.CopyTo(DATA_END-8, data))
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(int16(-128), local.Xmm[0].I16(0))
	assert.Equal(int16(127), local.Xmm[0].I16(1))
	assert.Equal(int16(-1), local.Xmm[0].I16(2))
	assert.Equal(int16(-2), local.Xmm[0].I16(7))

	// pmovzxbq xmm0, [rsi] reads exactly 2 bytes.
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x38, 0x32, 0x06)
	regs.Gpr[cpu.REG_SI] = DATA_END - 2
	assert.NoError(mem.CopyTo(DATA_END-2, []byte{0xff, 0x80}))
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(cpu.XmmFromU64(0xff, 0x80), local.Xmm[0])

	// pmovsxbw over the end of the page fails without side effects.
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x38, 0x20, 0x06)
	regs.Gpr[cpu.REG_SI] = DATA_END - 4
	pre_regs := *regs
	pre_local := *local
	_, _, err := emu.Execute(regs, local, mem)
	assert.ErrorIs(err, ErrOperand)
	assert.ErrorIs(err, cpu.ErrFault)
	assert.Equal(pre_regs, *regs)
	assert.Equal(pre_local, *local)

	// insertps xmm1, [rsi], 0xd0 ignores the source lane select.
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x3a, 0x21, 0x0e, 0xd0)
	regs.Gpr[cpu.REG_SI] = DATA_END - 4
	assert.NoError(mem.CopyTo(DATA_END-4, []byte{0x78, 0x56, 0x34, 0x12}))
	before := local.Xmm[1]
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(before.U32(0), local.Xmm[1].U32(0))
	assert.Equal(uint32(0x12345678), local.Xmm[1].U32(1))
	assert.Equal(CODE_ADDR+6, regs.Ip)
}

func TestEmulate_Ptest(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	table := [](struct {
		a, b  cpu.Xmm
		flags uint64
	}){
		{cpu.XmmFromU64(0xf0, 0), cpu.XmmFromU64(0x0f, 0), cpu.EFLAGS_ZF},
		{cpu.XmmFromU64(0xff, 0), cpu.XmmFromU64(0x0f, 0), cpu.EFLAGS_CF},
		{cpu.XmmFromU64(0, 0), cpu.XmmFromU64(0, 0), cpu.EFLAGS_ZF | cpu.EFLAGS_CF},
		{cpu.XmmFromU64(0x0f, 0), cpu.XmmFromU64(0xff, 1), 0},
	}

	for _, entry := range table {
		// ptest xmm0, xmm1
		regs, local, mem := testMachine(t, 0x66, 0x0f, 0x38, 0x17, 0xc1)
		regs.Flags = cpu.EFLAGS_IF | cpu.EFLAGS_OF | cpu.EFLAGS_SF | cpu.EFLAGS_PF | cpu.EFLAGS_AF
		local.Xmm[0] = entry.a
		local.Xmm[1] = entry.b
		assert.True(emu.Emulate(regs, local, mem))
		assert.Equal(cpu.EFLAGS_IF|entry.flags, regs.Flags)
		assert.Equal(entry.a, local.Xmm[0])
	}
}

func TestEmulate_Blendv(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	// pblendvb xmm1, xmm2 with xmm0 as the mask
	regs, local, mem := testMachine(t, 0x66, 0x0f, 0x38, 0x10, 0xca)
	local.Xmm[0] = cpu.XmmFromU64(0x80, 0x80000000_00000000)
	a, b := local.Xmm[1], local.Xmm[2]
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(b[0], local.Xmm[1][0])
	assert.Equal(a[1], local.Xmm[1][1])
	assert.Equal(b[15], local.Xmm[1][15])
	assert.Equal(a[14], local.Xmm[1][14])
}

func TestEmulate_Round(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	// roundss xmm1, xmm2, 4 uses MXCSR.RC
	regs, local, mem := testMachine(t, 0x66, 0x0f, 0x3a, 0x0a, 0xca, 0x04)
	local.Xmm[2].SetF32(0, 1.5)
	local.Mxcsr = cpu.MXCSR_DEFAULT | uint32(simd.ROUND_DOWN)<<simd.MXCSR_RC_SHIFT
	upper := local.Xmm[1].U32(1)
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(float32(1), local.Xmm[1].F32(0))
	assert.Equal(upper, local.Xmm[1].U32(1))
	assert.Equal(CODE_ADDR+6, regs.Ip)
}

func TestEmulate_ExtractInsert(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	// pextrd [rsi], xmm1, 2
	regs, local, mem := testMachine(t, 0x66, 0x0f, 0x3a, 0x16, 0x0e, 0x02)
	assert.True(emu.Emulate(regs, local, mem))
	var out [8]byte
	assert.NoError(mem.CopyFrom(out[:], DATA_ADDR))
	assert.Equal([8]byte{0x18, 0x19, 0x1a, 0x1b, 0, 0, 0, 0}, out)
	assert.Equal(CODE_ADDR+6, regs.Ip)

	// pextrq rax, xmm1, 1
	regs, local, mem = testMachine(t, 0x66, 0x48, 0x0f, 0x3a, 0x16, 0xc8, 0x01)
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(local.Xmm[1].U64(1), regs.Gpr[cpu.REG_AX])
	assert.Equal(CODE_ADDR+7, regs.Ip)

	// pextrb eax, xmm1, 3 zero extends
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x3a, 0x14, 0xc8, 0x03)
	regs.Gpr[cpu.REG_AX] = 0xffff_ffff_ffff_ffff
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(uint64(0x13), regs.Gpr[cpu.REG_AX])

	// pinsrq xmm2, rax, 1
	regs, local, mem = testMachine(t, 0x66, 0x48, 0x0f, 0x3a, 0x22, 0xd0, 0x01)
	regs.Gpr[cpu.REG_AX] = 0x1122334455667788
	lo := local.Xmm[2].U64(0)
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(cpu.XmmFromU64(lo, 0x1122334455667788), local.Xmm[2])

	// pinsrb xmm3, [rsi], 5
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x3a, 0x20, 0x1e, 0x05)
	assert.NoError(mem.CopyTo(DATA_ADDR, []byte{0xa5}))
	assert.True(emu.Emulate(regs, local, mem))
	assert.Equal(uint8(0xa5), local.Xmm[3].U8(5))
	assert.Equal(uint8(0x34), local.Xmm[3].U8(4))

	// Extract then insert at the same lane reproduces the source lane.
	for lane := range byte(4) {
		// pextrd eax, xmm5, lane ; pinsrd xmm6, eax, lane
		regs, local, mem = testMachine(t,
			0x66, 0x0f, 0x3a, 0x16, 0xe8, lane,
			0x66, 0x0f, 0x3a, 0x22, 0xf0, lane)
		assert.True(emu.Emulate(regs, local, mem))
		assert.True(emu.Emulate(regs, local, mem))
		assert.Equal(local.Xmm[5].U32(int(lane)), local.Xmm[6].U32(int(lane)))
		assert.Equal(CODE_ADDR+12, regs.Ip)
	}

	// pextrd to a read-only page fails without side effects.
	regs, local, mem = testMachine(t, 0x66, 0x0f, 0x3a, 0x16, 0x0e, 0x02)
	regs.Gpr[cpu.REG_SI] = CODE_ADDR + 0x100
	_, _, err := emu.Execute(regs, local, mem)
	assert.ErrorIs(err, cpu.ErrReadOnly)
	assert.Equal(CODE_ADDR, regs.Ip)
}

func TestEmulate_Movbe(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	table := [](struct {
		name  string
		load  []byte
		store []byte
		size  int
	}){
		// movbe eax, [rsi] ; movbe [rsi+8], eax
		{"32", []byte{0x0f, 0x38, 0xf0, 0x06}, []byte{0x0f, 0x38, 0xf1, 0x46, 0x08}, 4},
		// movbe rax, [rsi] ; movbe [rsi+8], rax
		{"64", []byte{0x48, 0x0f, 0x38, 0xf0, 0x06}, []byte{0x48, 0x0f, 0x38, 0xf1, 0x46, 0x08}, 8},
		// movbe ax, [rsi] ; movbe [rsi+8], ax
		{"16", []byte{0x66, 0x0f, 0x38, 0xf0, 0x06}, []byte{0x66, 0x0f, 0x38, 0xf1, 0x46, 0x08}, 2},
	}

	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	for _, entry := range table {
		code := append(append([]byte{}, entry.load...), entry.store...)
		regs, local, mem := testMachine(t, code...)
		regs.Gpr[cpu.REG_AX] = 0xaaaa_aaaa_aaaa_aaaa
		assert.NoError(mem.CopyTo(DATA_ADDR, data))

		assert.True(emu.Emulate(regs, local, mem), entry.name)
		assert.Equal(CODE_ADDR+uint64(len(entry.load)), regs.Ip, entry.name)

		switch entry.size {
		case 2:
			assert.Equal(uint64(0xaaaa_aaaa_aaaa_0102), regs.Gpr[cpu.REG_AX], entry.name)
		case 4:
			assert.Equal(uint64(0x01020304), regs.Gpr[cpu.REG_AX], entry.name)
		case 8:
			assert.Equal(uint64(0x0102030405060708), regs.Gpr[cpu.REG_AX], entry.name)
		}

		assert.True(emu.Emulate(regs, local, mem), entry.name)
		assert.Equal(CODE_ADDR+uint64(len(code)), regs.Ip, entry.name)

		// Load then store of the same value is the identity.
		out := make([]byte, entry.size)
		assert.NoError(mem.CopyFrom(out, DATA_ADDR+8))
		assert.Equal(data[:entry.size], out, entry.name)
	}

	// movbe eax, eax has no memory operand.
	regs, local, mem := testMachine(t, 0x0f, 0x38, 0xf0, 0xc0)
	_, _, err := emu.Execute(regs, local, mem)
	assert.ErrorIs(err, ErrForm)
}

func TestEmulate_Popcnt(t *testing.T) {
	assert := assert.New(t)

	emu := NewEmulator()

	table := [](struct {
		name   string
		code   []byte
		input  uint64
		output uint64
		zf     bool
	}){
		{"zero", []byte{0xf3, 0x0f, 0xb8, 0xc8}, 0, 0, true},
		{"32", []byte{0xf3, 0x0f, 0xb8, 0xc8}, 0xffff_ffff_ffff_ffff, 32, false},
		{"64", []byte{0xf3, 0x48, 0x0f, 0xb8, 0xc8}, 1 << 63, 1, false},
		{"16", []byte{0x66, 0xf3, 0x0f, 0xb8, 0xc8}, 0x0001_ffff, 0xdead_0000_0000_0010, false},
		{"high", []byte{0xf3, 0x4d, 0x0f, 0xb8, 0xc8}, 0xff, 0, false},
	}

	for _, entry := range table {
		regs, local, mem := testMachine(t, entry.code...)
		regs.Gpr[cpu.REG_AX] = entry.input
		regs.Gpr[cpu.REG_R8] = entry.input
		regs.Gpr[cpu.REG_CX] = 0xdead_0000_0000_0000
		regs.Flags = cpu.EFLAGS_CF | cpu.EFLAGS_OF
		assert.True(emu.Emulate(regs, local, mem), entry.name)
		if entry.name == "high" {
			assert.Equal(uint64(8), regs.Gpr[cpu.REG_R9], entry.name)
		} else {
			assert.Equal(entry.output, regs.Gpr[cpu.REG_CX], entry.name)
		}
		assert.Equal(entry.zf, (regs.Flags&cpu.EFLAGS_ZF) != 0, entry.name)
		assert.Zero(regs.Flags&(cpu.EFLAGS_CF|cpu.EFLAGS_OF), entry.name)
		assert.Equal(CODE_ADDR+uint64(len(entry.code)), regs.Ip, entry.name)
	}
}

func TestEmulate_Declined(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name   string
		code   []byte
		native Feature
		err    error
	}){
		{"mmx_pshufb", []byte{0x0f, 0x38, 0x00, 0xca}, 0, ErrPrefix},
		{"rep_pshufb", []byte{0xf3, 0x66, 0x0f, 0x38, 0x00, 0xca}, 0, ErrPrefix},
		{"popcnt_no_rep", []byte{0x0f, 0xb8, 0xc8}, 0, ErrPrefix},
		{"rep_movbe", []byte{0xf3, 0x0f, 0x38, 0xf0, 0x06}, 0, ErrPrefix},
		{"native_ssse3", []byte{0x66, 0x0f, 0x38, 0x00, 0xca}, FEATURE_SSSE3, ErrNative},
		{"native_popcnt", []byte{0xf3, 0x0f, 0xb8, 0xc8}, FEATURE_POPCNT, ErrNative},
		{"movntdqa_register", []byte{0x66, 0x0f, 0x38, 0x2a, 0xc1}, 0, ErrForm},
		{"popcnt_memory", []byte{0xf3, 0x0f, 0xb8, 0x06}, 0, decode.ErrRegisterOnly},
		{"ud2", []byte{0x0f, 0x0b}, 0, decode.ErrOpcodeUnknown},
		{"unmapped", []byte{0x66, 0x0f, 0x38, 0x00, 0x04, 0x25, 0x00, 0x50, 0x00, 0x00}, 0, cpu.ErrFault},
		{"address_size", []byte{0x66, 0x67, 0x0f, 0x38, 0x00, 0x06}, 0, decode.ErrAddressSize},
	}

	for _, entry := range table {
		emu := NewEmulator()
		emu.Native = entry.native

		regs, local, mem := testMachine(t, entry.code...)
		pre_regs := *regs
		pre_local := *local

		_, _, err := emu.Execute(regs, local, mem)
		assert.ErrorIs(err, entry.err, entry.name)
		assert.Equal(pre_regs, *regs, entry.name)
		assert.Equal(pre_local, *local, entry.name)

		assert.False(emu.Emulate(regs, local, mem), entry.name)
		emulated, declinedCount := emu.Stats()
		assert.Equal(uint64(0), emulated, entry.name)
		assert.Equal(uint64(1), declinedCount, entry.name)
	}

	// Instruction fetch from an unmapped address.
	emu := NewEmulator()
	regs, local, mem := testMachine(t)
	regs.Ip = 0x9000
	_, _, err := emu.Execute(regs, local, mem)
	assert.ErrorIs(err, ErrFetch)
	assert.Equal(uint64(0x9000), regs.Ip)
}

func TestEmulate_DeclinedErrors(t *testing.T) {
	assert := assert.New(t)

	// Declines report errors built at init, never wrapped per call.
	table := [](struct {
		name string
		code []byte
		ip   uint64
		err  error
	}){
		{"ud2", []byte{0x0f, 0x0b}, CODE_ADDR, decode.ErrOpcodeUnknown},
		{"movntdqa_register", []byte{0x66, 0x0f, 0x38, 0x2a, 0xc1}, CODE_ADDR, ErrForm},
		{"unmapped_operand", []byte{0x66, 0x0f, 0x38, 0x00, 0x04, 0x25, 0x00, 0x50, 0x00, 0x00}, CODE_ADDR, errOperandFault},
		{"unmapped_fetch", nil, 0x9000, errFetchFault},
	}

	emu := NewEmulator()
	for _, entry := range table {
		regs, local, mem := testMachine(t, entry.code...)
		regs.Ip = entry.ip

		_, op, err := emu.Execute(regs, local, mem)
		assert.True(err == entry.err, "%v: %v", entry.name, err)
		assert.Nil(op, entry.name)
	}
}

func TestFeature(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("-", Feature(0).String())
	assert.Equal("ssse3,popcnt", (FEATURE_SSSE3 | FEATURE_POPCNT).String())
	assert.Equal(Feature(0), HostFeatures()&FEATURE_MOVBE)
	assert.Equal(Feature(0), HostFeatures()&^FEATURE_ALL)

	defines := map[string]string{}
	for key, value := range Defines() {
		defines[key] = value
	}
	assert.Equal("2", defines["FEATURE_SSE41"])
	assert.Equal("31", defines["FEATURE_ALL"])
}

func TestShape_String(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		shape Shape
		name  string
	}){
		{XMM_XMM, "xmm,xmm/m"},
		{XMM_XMM_XMM0, "xmm,xmm/m,<xmm0>"},
		{FLAGS_XMM_XMM, "eflags,xmm,xmm/m"},
		{RM_XMM_IMM, "r/m,xmm,imm8"},
		{GPR_GPR, "r,r"},
		{Shape(10), "Shape(10)"},
	}

	for _, entry := range table {
		assert.Equal(entry.name, entry.shape.String())
	}
}
