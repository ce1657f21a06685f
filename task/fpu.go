// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package task

import (
	"github.com/ezrec/xtrap/cpu"
)

// MXCSR bits that are valid to load; fxrstor faults on any other.
const MXCSR_MASK = uint32(0xffff)

// FpuState is the saved x87 and SSE state of a task.
type FpuState struct {
	Cwd   uint16
	Swd   uint16
	Mxcsr uint32
	Xmm   [cpu.XMM_COUNT]cpu.Xmm
}

// UsedMath is true once the task has an FPU save area.
func (t *Task) UsedMath() bool {
	return t.Fpu != nil
}

// InitFpu allocates the FPU save area in its power-on state.
func (t *Task) InitFpu() (err error) {
	if t.Fpu != nil {
		return
	}

	t.Fpu = &FpuState{
		Cwd:   cpu.FCW_DEFAULT,
		Mxcsr: cpu.MXCSR_DEFAULT,
	}
	return
}

// HasFpuOn is true when this task's FPU state is live on 'local'.
func (t *Task) HasFpuOn(local *cpu.Local) bool {
	return t.Thread.HasFpu && local.FpuOwner == t.Pid
}

// FpuBegin makes the task the owner of the CPU's FPU, and clears CR0.TS.
func (t *Task) FpuBegin(local *cpu.Local) {
	t.Thread.HasFpu = true
	local.FpuOwner = t.Pid
	local.Cr0 &^= cpu.CR0_TS
}

// FpuEnd releases the CPU's FPU, and sets CR0.TS so the next use traps.
func (t *Task) FpuEnd(local *cpu.Local) {
	t.Thread.HasFpu = false
	if local.FpuOwner == t.Pid {
		local.FpuOwner = 0
	}
	local.Cr0 |= cpu.CR0_TS
}

// RestoreFpu loads the saved state into the CPU. The task must already
// own the FPU. Loading a state with reserved MXCSR bits set fails and
// leaves the CPU untouched.
func (t *Task) RestoreFpu(local *cpu.Local) (err error) {
	if !t.HasFpuOn(local) {
		err = ErrFpuOwner
		return
	}

	fpu := t.Fpu
	if fpu == nil {
		err = ErrFpuState
		return
	}

	if (fpu.Mxcsr &^ MXCSR_MASK) != 0 {
		err = ErrFpuState
		return
	}

	local.Fcw = fpu.Cwd
	local.Fsw = fpu.Swd
	local.Mxcsr = fpu.Mxcsr
	local.Xmm = fpu.Xmm
	return
}

// SaveFpu stores the live state of the CPU into the task's save area and
// releases the FPU. The pending x87 exception is cleared in the live
// state only.
func (t *Task) SaveFpu(local *cpu.Local) {
	if !t.HasFpuOn(local) {
		return
	}

	fpu := t.Fpu
	if fpu == nil {
		fpu = &FpuState{}
		t.Fpu = fpu
	}

	fpu.Cwd = local.Fcw
	fpu.Swd = local.Fsw
	fpu.Mxcsr = local.Mxcsr
	fpu.Xmm = local.Xmm

	local.Fsw &^= 0x80ff

	t.FpuEnd(local)
}
