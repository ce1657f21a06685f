package task

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
)

func TestTask_Flags(t *testing.T) {
	assert := assert.New(t)

	tsk := New(100, "init", nil)
	assert.Equal("init[100]", tsk.String())

	assert.False(tsk.TestFlag(TIF_SINGLESTEP))
	tsk.SetFlag(TIF_SINGLESTEP | TIF_BLOCKSTEP)
	assert.True(tsk.TestFlag(TIF_SINGLESTEP))
	tsk.ClearFlag(TIF_BLOCKSTEP)
	assert.False(tsk.TestFlag(TIF_BLOCKSTEP))

	assert.True(tsk.TestAndClearFlag(TIF_SINGLESTEP))
	assert.False(tsk.TestAndClearFlag(TIF_SINGLESTEP))
	assert.Equal(Flags(0), tsk.Thread.Flags)
}

func TestTask_DebugRegs(t *testing.T) {
	assert := assert.New(t)

	tsk := New(1, "a", nil)
	assert.Nil(tsk.Debug)

	dbg := tsk.DebugRegs()
	assert.NotNil(dbg)
	dbg.Dr6 = cpu.DR_STEP
	assert.Same(dbg, tsk.DebugRegs())
	assert.Equal(cpu.DR_STEP, tsk.Debug.Dr6)
}

func TestTask_SetDebug(t *testing.T) {
	assert := assert.New(t)

	tsk := New(1, "a", nil)
	tsk.SetDebug([4]uint64{0x1000, 0x2000}, 0x5)
	assert.True(tsk.TestFlag(TIF_DEBUG))
	assert.Equal([4]uint64{0x1000, 0x2000, 0, 0}, tsk.Debug.Dr)
	assert.Equal(uint64(0x5), tsk.Debug.Dr7)

	// Disabling every breakpoint drops the flag.
	tsk.SetDebug([4]uint64{}, 0)
	assert.False(tsk.TestFlag(TIF_DEBUG))
	assert.Equal(uint64(0), tsk.Debug.Dr7)
}

func TestTask_Fpu(t *testing.T) {
	assert := assert.New(t)

	local := cpu.NewLocal(0)
	tsk := New(7, "fpu", nil)

	assert.False(tsk.UsedMath())
	assert.NoError(tsk.InitFpu())
	assert.True(tsk.UsedMath())
	assert.Equal(cpu.FCW_DEFAULT, tsk.Fpu.Cwd)
	assert.Equal(cpu.MXCSR_DEFAULT, tsk.Fpu.Mxcsr)

	// Not owned yet.
	assert.ErrorIs(tsk.RestoreFpu(local), ErrFpuOwner)

	tsk.Fpu.Xmm[3] = cpu.XmmFromU64(0x1122, 0x3344)
	tsk.FpuBegin(local)
	assert.Equal(7, local.FpuOwner)
	assert.Zero(local.Cr0 & cpu.CR0_TS)

	assert.NoError(tsk.RestoreFpu(local))
	assert.Equal(cpu.XmmFromU64(0x1122, 0x3344), local.Xmm[3])

	local.Xmm[3] = cpu.XmmFromU64(1, 2)
	local.Mxcsr = 0x1f81
	local.Fsw = 0x0085
	tsk.SaveFpu(local)
	assert.False(tsk.Thread.HasFpu)
	assert.Equal(0, local.FpuOwner)
	assert.NotZero(local.Cr0 & cpu.CR0_TS)
	assert.Equal(cpu.XmmFromU64(1, 2), tsk.Fpu.Xmm[3])
	assert.Equal(uint32(0x1f81), tsk.Fpu.Mxcsr)
	assert.Equal(uint16(0x0085), tsk.Fpu.Swd)
	assert.Equal(uint16(0), local.Fsw)

	// Second save is a no-op.
	tsk.Fpu.Mxcsr = 0
	tsk.SaveFpu(local)
	assert.Equal(uint32(0), tsk.Fpu.Mxcsr)
}

func TestTask_RestoreFpuInvalid(t *testing.T) {
	assert := assert.New(t)

	local := cpu.NewLocal(0)
	tsk := New(9, "bad", nil)
	assert.NoError(tsk.InitFpu())
	tsk.Fpu.Mxcsr = 0x10000
	tsk.Fpu.Xmm[0] = cpu.XmmFromU64(5, 5)

	tsk.FpuBegin(local)
	assert.ErrorIs(tsk.RestoreFpu(local), ErrFpuState)
	assert.Equal(cpu.Xmm{}, local.Xmm[0])
	assert.Equal(cpu.MXCSR_DEFAULT, local.Mxcsr)
}
