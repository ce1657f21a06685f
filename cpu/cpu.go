// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"fmt"
	"log"
)

// Debug status register (DR6) bits.
const (
	DR_TRAP0     = uint64(1 << 0) // Breakpoint 0 condition
	DR_TRAP1     = uint64(1 << 1) // Breakpoint 1 condition
	DR_TRAP2     = uint64(1 << 2) // Breakpoint 2 condition
	DR_TRAP3     = uint64(1 << 3) // Breakpoint 3 condition
	DR_TRAP_BITS = uint64(0xf)    // All breakpoint conditions
	DR_STEP      = uint64(0x4000) // Single step
	DR6_RESERVED = uint64(0xffff0ff0)
)

// Control register 0 bits consulted by the FPU traps.
const (
	CR0_MP = uint64(1 << 1) // Monitor coprocessor
	CR0_EM = uint64(1 << 2) // Emulate coprocessor
	CR0_TS = uint64(1 << 3) // Task switched
)

const (
	FCW_DEFAULT   = uint16(0x037f) // x87 control word after finit.
	MXCSR_DEFAULT = uint32(0x1f80) // All exceptions masked, round to nearest.
	XMM_COUNT     = 16             // Architectural XMM registers.
)

// DebugRegs is the hardware debug register bank of one logical CPU.
type DebugRegs struct {
	Dr  [4]uint64 // Breakpoint addresses.
	Dr6 uint64    // Status.
	Dr7 uint64    // Control.
}

// Local is the CPU-local state of one logical processor. It is only ever
// touched by the trap currently running on that processor.
type Local struct {
	Verbose bool // Set to enable verbose logging.

	Id           int  // Logical CPU number.
	IrqEnabled   bool // Local interrupt enable flag.
	PreemptCount int  // Nested non-preemption count.
	InNmi        int  // NMI nesting depth.

	Debug DebugRegs // Hardware debug registers.
	Cr0   uint64    // Control register 0.

	Fcw      uint16         // Live x87 control word.
	Fsw      uint16         // Live x87 status word.
	Xmm      [XMM_COUNT]Xmm // Live vector registers.
	Mxcsr    uint32         // Live SIMD control/status.
	FpuOwner int            // Pid of the task whose FPU state is live, 0 if none.

	NmiCount uint64 // NMIs taken on this CPU.
}

// NewLocal creates the CPU-local state for logical CPU 'id'.
func NewLocal(id int) (local *Local) {
	local = &Local{
		Id:    id,
		Fcw:   FCW_DEFAULT,
		Mxcsr: MXCSR_DEFAULT,
		Cr0:   CR0_MP | CR0_TS,
	}

	return
}

// String returns the CPU-local state as a single line.
func (local *Local) String() string {
	return fmt.Sprintf("cpu%d: irq:%v preempt:%d nmi:%d dr6:%x dr7:%x cr0:%x",
		local.Id, local.IrqEnabled, local.PreemptCount, local.InNmi,
		local.Debug.Dr6, local.Debug.Dr7, local.Cr0)
}

// SaveIrq returns the current interrupt enable flag, and disables
// interrupts. This is what an interrupt gate does on entry.
func (local *Local) SaveIrq() (enabled bool) {
	enabled = local.IrqEnabled
	local.IrqEnabled = false
	return
}

// RestoreIrq restores the interrupt enable flag saved by SaveIrq.
func (local *Local) RestoreIrq(enabled bool) {
	local.IrqEnabled = enabled
}

// ConditionalSti enables interrupts if the faulting context had them
// enabled.
func (local *Local) ConditionalSti(regs *Regs) {
	if (regs.Flags & EFLAGS_IF) != 0 {
		local.IrqEnabled = true
	}
}

// ConditionalCli disables interrupts if ConditionalSti enabled them.
func (local *Local) ConditionalCli(regs *Regs) {
	if (regs.Flags & EFLAGS_IF) != 0 {
		local.IrqEnabled = false
	}
}

// PreemptConditionalSti disables preemption, then enables interrupts if
// the faulting context had them enabled.
func (local *Local) PreemptConditionalSti(regs *Regs) {
	local.PreemptCount++
	local.ConditionalSti(regs)
}

// PreemptConditionalCli undoes PreemptConditionalSti.
func (local *Local) PreemptConditionalCli(regs *Regs) {
	local.ConditionalCli(regs)
	if local.PreemptCount == 0 {
		panic("cpu: preempt count underflow")
	}
	local.PreemptCount--
}

// TakeDr6 reads and clears the debug status register. Must be called
// with interrupts disabled, so no other trap on this CPU can observe a
// half-updated value.
func (local *Local) TakeDr6() (dr6 uint64) {
	if local.IrqEnabled {
		panic("cpu: debug status read with interrupts enabled")
	}
	dr6 = local.Debug.Dr6
	local.Debug.Dr6 = 0

	if local.Verbose {
		log.Printf("cpu%d: dr6 %x taken", local.Id, dr6)
	}
	return
}

// XmmReg reads a vector register by 3-bit index and extension bit.
func (local *Local) XmmReg(index int, high bool) Xmm {
	return local.Xmm[gprIndex(index, high)]
}

// SetXmmReg replaces a vector register by 3-bit index and extension bit.
func (local *Local) SetXmmReg(index int, high bool, value Xmm) {
	local.Xmm[gprIndex(index, high)] = value
}
