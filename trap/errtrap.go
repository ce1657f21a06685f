// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package trap

import (
	"github.com/ezrec/xtrap/notify"
	"github.com/ezrec/xtrap/signal"
)

// Source of the siginfo address of an error trap.
type addrSource int

const (
	ADDR_NONE = addrSource(0) // No siginfo; a plain kernel signal.
	ADDR_ZERO = addrSource(1) // Siginfo with a zero address.
	ADDR_IP   = addrSource(2) // Siginfo with the faulting instruction pointer.
)

// errorTrap describes a trap whose only policy is: hooks, then the
// generic trap path with a fixed signal.
type errorTrap struct {
	vector int
	sig    signal.Signal
	str    string
	name   string
	code   signal.Code
	addr   addrSource

	ist     Stack
	system  bool // Gate is user-invocable.
	preempt bool // Run under a non-preemption guard.
	irqOn   bool // Interrupts are enabled unconditionally before the hooks.
}

var errorTraps = []errorTrap{
	{vector: X86_TRAP_DE, sig: signal.SIGFPE, str: "divide error", name: "divide_error",
		code: signal.FPE_INTDIV, addr: ADDR_IP},
	{vector: X86_TRAP_OF, sig: signal.SIGSEGV, str: "overflow", name: "overflow",
		system: true},
	{vector: X86_TRAP_BR, sig: signal.SIGSEGV, str: "bounds", name: "bounds"},
	{vector: X86_TRAP_OLD_MF, sig: signal.SIGFPE, str: "coprocessor segment overrun", name: "coprocessor_segment_overrun"},
	{vector: X86_TRAP_TS, sig: signal.SIGSEGV, str: "invalid TSS", name: "invalid_TSS"},
	{vector: X86_TRAP_NP, sig: signal.SIGBUS, str: "segment not present", name: "segment_not_present"},
	{vector: X86_TRAP_SS, sig: signal.SIGBUS, str: "stack segment", name: "stack_segment",
		ist: STACKFAULT_STACK, preempt: true},
	{vector: X86_TRAP_AC, sig: signal.SIGBUS, str: "alignment check", name: "alignment_check",
		code: signal.BUS_ADRALN, addr: ADDR_ZERO},
	{vector: X86_TRAP_IRET, sig: signal.SIGILL, str: "iret exception", name: "iret_error",
		code: signal.ILL_BADSTK, addr: ADDR_ZERO, irqOn: true},
}

func (et errorTrap) info(frame *Frame) (info *signal.Info) {
	switch et.addr {
	case ADDR_ZERO:
		info = &signal.Info{Signo: et.sig, Code: et.code}
	case ADDR_IP:
		info = &signal.Info{Signo: et.sig, Code: et.code, Addr: frame.Regs.Ip}
	}
	return
}

func (et errorTrap) handle(d *Dispatcher, frame *Frame) (out Outcome) {
	info := et.info(frame)

	if et.irqOn {
		frame.Local.IrqEnabled = true
	}

	if d.notifyDie(notify.DIE_TRAP, et.str, frame, et.vector, et.sig) {
		out = OUTCOME_HOOKED
		return
	}

	switch {
	case et.preempt:
		frame.Local.PreemptConditionalSti(frame.Regs)
		defer frame.Local.PreemptConditionalCli(frame.Regs)
	case !et.irqOn:
		frame.Local.ConditionalSti(frame.Regs)
	}

	out = d.doTrap(et.vector, et.sig, et.str, frame, info)
	return
}

// IretError handles a fault of the return-from-interrupt instruction
// itself, raised by the exit path rather than through a gate.
func (d *Dispatcher) IretError(frame *Frame) Outcome {
	for _, et := range errorTraps {
		if et.vector == X86_TRAP_IRET {
			return d.enter(et.vector, Gate{Name: et.name, Handler: et.handle}, frame)
		}
	}
	return OUTCOME_IGNORED
}
