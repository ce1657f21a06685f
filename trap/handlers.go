// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package trap

import (
	"log"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/nmi"
	"github.com/ezrec/xtrap/notify"
	"github.com/ezrec/xtrap/signal"
	"github.com/ezrec/xtrap/task"
)

// fpuLive makes the task's vector state the live state of the CPU.
func fpuLive(frame *Frame) (err error) {
	tsk := frame.Task
	local := frame.Local

	if tsk.HasFpuOn(local) {
		return
	}

	err = tsk.InitFpu()
	if err != nil {
		return
	}

	tsk.FpuBegin(local)
	err = tsk.RestoreFpu(local)
	if err != nil {
		tsk.FpuEnd(local)
	}
	return
}

func (d *Dispatcher) doInvalidOp(frame *Frame) (out Outcome) {
	regs := frame.Regs
	tsk := frame.Task

	info := &signal.Info{
		Signo: signal.SIGILL,
		Code:  signal.ILL_ILLOPN,
		Addr:  regs.Ip,
	}

	if d.Emulator != nil && tsk.Mm != nil {
		err := fpuLive(frame)
		if err == nil && d.Emulator.Emulate(regs, frame.Local, tsk.Mm) {
			out = OUTCOME_EMULATED
			return
		}
		if err != nil && d.Verbose {
			log.Printf("trap: cpu %d: invalid_op: %v", frame.Local.Id, err)
		}
	}

	if d.notifyDie(notify.DIE_TRAP, "invalid opcode", frame, X86_TRAP_UD, signal.SIGILL) {
		out = OUTCOME_HOOKED
		return
	}

	frame.Local.ConditionalSti(regs)
	out = d.doTrap(X86_TRAP_UD, signal.SIGILL, "invalid opcode", frame, info)
	return
}

func (d *Dispatcher) doInt3(frame *Frame) (out Outcome) {
	if d.notifyDie(notify.DIE_INT3, "int3", frame, X86_TRAP_BP, signal.SIGTRAP) {
		out = OUTCOME_HOOKED
		return
	}

	local := frame.Local
	local.PreemptConditionalSti(frame.Regs)
	defer local.PreemptConditionalCli(frame.Regs)

	out = d.doTrap(X86_TRAP_BP, signal.SIGTRAP, "int3", frame, nil)
	return
}

// siCode classifies a debug status.
func siCode(dr6 uint64) signal.Code {
	switch {
	case (dr6 & cpu.DR_STEP) != 0:
		return signal.TRAP_TRACE
	case (dr6 & cpu.DR_TRAP_BITS) != 0:
		return signal.TRAP_HWBKPT
	}
	return signal.TRAP_BRKPT
}

func (d *Dispatcher) sendSigtrap(frame *Frame, code signal.Code) {
	regs := frame.Regs
	tsk := frame.Task

	tsk.SetTrap(X86_TRAP_DB, frame.ErrorCode)

	info := &signal.Info{
		Signo: signal.SIGTRAP,
		Code:  code,
	}
	if regs.UserModeVm() {
		info.Addr = regs.Ip
	}

	d.raise(signal.SIGTRAP, tsk, info)
}

// doDebug snapshots and clears DR6 before interrupts may be enabled.
// A single step taken in the kernel is not signalled; it is re-armed by
// ReturnToUser instead.
func (d *Dispatcher) doDebug(frame *Frame) (out Outcome) {
	regs := frame.Regs
	tsk := frame.Task
	local := frame.Local

	dr6 := local.TakeDr6() &^ cpu.DR6_RESERVED

	// No cause at all from user mode is an icebp.
	userIcebp := dr6 == 0 && regs.UserMode()

	tsk.ClearFlag(task.TIF_BLOCKSTEP)

	dbg := tsk.DebugRegs()
	dbg.Dr6 = dr6

	if d.Chain != nil && d.Chain.Die(notify.DIE_DEBUG, "debug", regs, dr6, X86_TRAP_DB, signal.SIGTRAP).Stopped() {
		out = OUTCOME_HOOKED
		return
	}

	local.PreemptConditionalSti(regs)
	defer local.PreemptConditionalCli(regs)

	if !regs.Long && (regs.Flags&cpu.EFLAGS_VM) != 0 && d.Vm86 != nil {
		d.Vm86.HandleTrap(frame, X86_TRAP_DB)
		out = OUTCOME_VM86
		return
	}

	if (dr6&cpu.DR_STEP) != 0 && !regs.UserMode() {
		dbg.Dr6 &^= cpu.DR_STEP
		tsk.SetFlag(task.TIF_SINGLESTEP)
		regs.Flags &^= cpu.EFLAGS_TF
	}

	if (dbg.Dr6&(cpu.DR_STEP|cpu.DR_TRAP_BITS)) != 0 || userIcebp {
		d.sendSigtrap(frame, siCode(dbg.Dr6))
		out = OUTCOME_SIGNAL
		return
	}

	out = OUTCOME_HANDLED
	return
}

func (d *Dispatcher) doGeneralProtection(frame *Frame) (out Outcome) {
	regs := frame.Regs
	tsk := frame.Task
	local := frame.Local

	local.ConditionalSti(regs)

	if !regs.Long && (regs.Flags&cpu.EFLAGS_VM) != 0 && d.Vm86 != nil {
		local.IrqEnabled = true
		d.Vm86.HandleFault(frame)
		out = OUTCOME_VM86
		return
	}

	if !regs.UserModeVm() {
		if d.Fixups.Fixup(regs) {
			out = OUTCOME_FIXUP
			return
		}

		tsk.SetTrap(X86_TRAP_GP, frame.ErrorCode)
		if d.notifyDie(notify.DIE_GPF, "general protection fault", frame, X86_TRAP_GP, signal.SIGSEGV) {
			out = OUTCOME_HOOKED
			return
		}
		out = d.die("general protection fault", frame)
		return
	}

	tsk.SetTrap(X86_TRAP_GP, frame.ErrorCode)
	d.showUnhandled(frame, signal.SIGSEGV, "general protection")

	d.raise(signal.SIGSEGV, tsk, nil)
	out = OUTCOME_SIGNAL
	return
}

// doDoubleFault never returns. The fatal path is retried for as long as a
// hook claims it, or until the frame's context is done.
func (d *Dispatcher) doDoubleFault(frame *Frame) (out Outcome) {
	const str = "double fault"

	d.notifyDie(notify.DIE_TRAP, str, frame, X86_TRAP_DF, signal.SIGSEGV)

	frame.Task.SetTrap(X86_TRAP_DF, frame.ErrorCode)

	for {
		d.die(str, frame)

		if frame.Context != nil && frame.Context.Err() != nil {
			fatal := d.fatal(str, frame, int(d.dies.Load()))
			fatal.Cause = frame.Context.Err()
			panic(fatal)
		}
	}
}

func (d *Dispatcher) doNmi(frame *Frame) (out Outcome) {
	if d.Nmi == nil {
		out = OUTCOME_IGNORED
		return
	}

	switch d.Nmi.Handle(frame.Local, frame.Regs) {
	case nmi.NMI_NESTED, nmi.NMI_IGNORED:
		out = OUTCOME_IGNORED
	case nmi.NMI_HOOKED, nmi.NMI_UNKNOWN_HOOKED:
		out = OUTCOME_HOOKED
	default:
		out = OUTCOME_HANDLED
	}
	return
}

func (d *Dispatcher) doSpuriousInterruptBug(frame *Frame) Outcome {
	frame.Local.ConditionalSti(frame.Regs)
	return OUTCOME_SPURIOUS
}

// mathError classifies an x87 (vector 16) or SIMD (vector 19) floating
// point exception from the saved status. A status with no unmasked
// exception is spurious.
func (d *Dispatcher) mathError(frame *Frame, trapnr int) (out Outcome) {
	regs := frame.Regs
	tsk := frame.Task
	local := frame.Local

	str := "simd exception"
	if trapnr == X86_TRAP_MF {
		str = "fpu exception"
	}

	if d.notifyDie(notify.DIE_TRAP, str, frame, trapnr, signal.SIGFPE) {
		out = OUTCOME_HOOKED
		return
	}

	local.ConditionalSti(regs)

	if !regs.UserModeVm() {
		if d.Fixups.Fixup(regs) {
			out = OUTCOME_FIXUP
			return
		}
		tsk.SetTrap(trapnr, frame.ErrorCode)
		out = d.die(str, frame)
		return
	}

	tsk.SaveFpu(local)
	tsk.SetTrap(trapnr, frame.ErrorCode)

	var status uint32
	if fpu := tsk.Fpu; fpu != nil {
		if trapnr == X86_TRAP_MF {
			status = uint32(fpu.Swd &^ fpu.Cwd)
		} else {
			status = ^(fpu.Mxcsr >> 7) & fpu.Mxcsr
		}
	}

	info := &signal.Info{
		Signo: signal.SIGFPE,
		Addr:  regs.Ip,
	}

	switch {
	case (status & 0x001) != 0:
		info.Code = signal.FPE_FLTINV
	case (status & 0x004) != 0:
		info.Code = signal.FPE_FLTDIV
	case (status & 0x008) != 0:
		info.Code = signal.FPE_FLTOVF
	case (status & 0x012) != 0:
		info.Code = signal.FPE_FLTUND
	case (status & 0x020) != 0:
		info.Code = signal.FPE_FLTRES
	default:
		out = OUTCOME_SPURIOUS
		return
	}

	d.raise(signal.SIGFPE, tsk, info)
	out = OUTCOME_SIGNAL
	return
}

func (d *Dispatcher) doCoprocessorError(frame *Frame) Outcome {
	return d.mathError(frame, X86_TRAP_MF)
}

func (d *Dispatcher) doSimdCoprocessorError(frame *Frame) Outcome {
	return d.mathError(frame, X86_TRAP_XF)
}

// mathStateRestore gives the task the FPU, allocating its state on first
// use. A state that cannot be loaded costs the task a SIGSEGV.
func (d *Dispatcher) mathStateRestore(frame *Frame) (out Outcome) {
	tsk := frame.Task
	local := frame.Local

	if !tsk.UsedMath() {
		local.IrqEnabled = true
		err := tsk.InitFpu()
		local.IrqEnabled = false
		if err != nil {
			tsk.GroupExit(int(signal.SIGKILL))
			out = OUTCOME_SIGNAL
			return
		}
	}

	tsk.FpuBegin(local)
	err := tsk.RestoreFpu(local)
	if err != nil {
		tsk.FpuEnd(local)
		d.raise(signal.SIGSEGV, tsk, nil)
		out = OUTCOME_SIGNAL
		return
	}

	tsk.FpuCounter++
	out = OUTCOME_HANDLED
	return
}

func (d *Dispatcher) doDeviceNotAvailable(frame *Frame) (out Outcome) {
	local := frame.Local

	if (local.Cr0&cpu.CR0_EM) != 0 && d.MathEmu != nil {
		local.ConditionalSti(frame.Regs)
		d.MathEmu.MathEmulate(frame)
		out = OUTCOME_HANDLED
		return
	}

	out = d.mathStateRestore(frame)
	if !frame.Regs.Long {
		local.ConditionalSti(frame.Regs)
	}
	return
}

func (d *Dispatcher) doPageFault(frame *Frame) Outcome {
	if d.Platform == nil {
		return OUTCOME_IGNORED
	}
	return d.Platform.PageFault(frame)
}

func (d *Dispatcher) doMachineCheck(frame *Frame) Outcome {
	if d.Platform == nil {
		return OUTCOME_IGNORED
	}
	return d.Platform.MachineCheck(frame)
}

func (d *Dispatcher) doSyscall(frame *Frame) Outcome {
	if d.Platform == nil {
		return OUTCOME_IGNORED
	}
	return d.Platform.Interrupt(SYSCALL_VECTOR, frame)
}
