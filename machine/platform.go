// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package machine

import (
	"log"

	"github.com/ezrec/xtrap/signal"
	"github.com/ezrec/xtrap/trap"
)

// Page fault error code bits.
const (
	PF_PROT  = uint64(1 << 0) // Protection violation; clear if not present.
	PF_WRITE = uint64(1 << 1)
	PF_USER  = uint64(1 << 2)
)

var _ trap.Platform = (*Machine)(nil)

// PageFault handles a page fault. The simulated address space is never
// demand paged, so every fault is an access error.
func (m *Machine) PageFault(frame *trap.Frame) (out trap.Outcome) {
	regs := frame.Regs

	if !regs.UserMode() {
		if m.Dispatcher.Fixups.Fixup(regs) {
			out = trap.OUTCOME_FIXUP
			return
		}
		m.Dispatcher.Panic(frame.Local, regs, trap.X86_TRAP_PF, f("unable to handle kernel paging request at ip %x", regs.Ip))
	}

	code := signal.SEGV_MAPERR
	if (frame.ErrorCode & PF_PROT) != 0 {
		code = signal.SEGV_ACCERR
	}

	frame.Task.SetTrap(trap.X86_TRAP_PF, frame.ErrorCode)
	m.Signals.Raise(signal.SIGSEGV, frame.Task, &signal.Info{
		Signo:     signal.SIGSEGV,
		Code:      code,
		Addr:      regs.Ip,
		TrapNo:    trap.X86_TRAP_PF,
		ErrorCode: frame.ErrorCode,
	})
	out = trap.OUTCOME_SIGNAL
	return
}

// MachineCheck halts; no machine check is recoverable here.
func (m *Machine) MachineCheck(frame *trap.Frame) (out trap.Outcome) {
	m.Dispatcher.Panic(frame.Local, frame.Regs, trap.X86_TRAP_MC, f("Machine check from unknown source"))
	return
}

// Interrupt counts an external interrupt or system call.
func (m *Machine) Interrupt(vector int, frame *trap.Frame) (out trap.Outcome) {
	m.interrupts[vector].Add(1)
	if m.Verbose {
		log.Printf("machine: cpu %d: %v vector 0x%02x", frame.Local.Id, frame.Task, vector)
	}
	out = trap.OUTCOME_HANDLED
	return
}

// Interrupts returns the number of times 'vector' was delivered to the
// platform.
func (m *Machine) Interrupts(vector int) uint64 {
	if vector < 0 || vector >= trap.NR_VECTORS {
		return 0
	}
	return m.interrupts[vector].Load()
}
