// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package trap

import (
	"fmt"
	"iter"
	"log"
)

// Architectural exception vectors.
const (
	X86_TRAP_DE       = 0  // Divide error
	X86_TRAP_DB       = 1  // Debug
	X86_TRAP_NMI      = 2  // Non-maskable interrupt
	X86_TRAP_BP       = 3  // Breakpoint
	X86_TRAP_OF       = 4  // Overflow
	X86_TRAP_BR       = 5  // Bound range exceeded
	X86_TRAP_UD       = 6  // Invalid opcode
	X86_TRAP_NM       = 7  // Device not available
	X86_TRAP_DF       = 8  // Double fault
	X86_TRAP_OLD_MF   = 9  // Coprocessor segment overrun
	X86_TRAP_TS       = 10 // Invalid TSS
	X86_TRAP_NP       = 11 // Segment not present
	X86_TRAP_SS       = 12 // Stack segment
	X86_TRAP_GP       = 13 // General protection
	X86_TRAP_PF       = 14 // Page fault
	X86_TRAP_SPURIOUS = 15 // Spurious interrupt
	X86_TRAP_MF       = 16 // x87 floating point exception
	X86_TRAP_AC       = 17 // Alignment check
	X86_TRAP_MC       = 18 // Machine check
	X86_TRAP_XF       = 19 // SIMD floating point exception
	X86_TRAP_IRET     = 32 // IRET exception; raised by the return path, not a gate.
)

const (
	NR_VECTORS            = 256
	FIRST_EXTERNAL_VECTOR = 0x20
	SYSCALL_VECTOR        = 0x80
)

// Stack is an interrupt stack table slot. Handlers on an IST slot run on
// a dedicated stack that stays valid when the normal stack is corrupt.
type Stack int

// STACK_NONE is the current kernel stack.
//
//go:generate go tool stringer -linecomment -type=Stack
const (
	STACK_NONE        = Stack(0) // none
	DEBUG_STACK       = Stack(1) // debug
	NMI_STACK         = Stack(2) // nmi
	DOUBLEFAULT_STACK = Stack(3) // doublefault
	STACKFAULT_STACK  = Stack(4) // stackfault
	MCE_STACK         = Stack(5) // mce
)

const (
	EXCEPTION_STKSZ = 4096
	DEBUG_STKSZ     = 8192
)

// Size is the guaranteed size of the stack.
func (st Stack) Size() int {
	switch st {
	case STACK_NONE:
		return 0
	case DEBUG_STACK:
		return DEBUG_STKSZ
	}
	return EXCEPTION_STKSZ
}

// Handler services one vector.
type Handler func(d *Dispatcher, frame *Frame) Outcome

// Gate is one entry of the vector table.
type Gate struct {
	Name    string
	Handler Handler
	Ist     Stack // Dedicated stack, or STACK_NONE.
	System  bool  // DPL 3: user code may raise it with 'int n'.
}

// Present is true if the gate has a handler.
func (g *Gate) Present() bool {
	return g.Handler != nil
}

// Table is the vector table. It is built once at boot and frozen; lookups
// after Freeze never take a lock.
type Table struct {
	Verbose bool

	gates  [NR_VECTORS]Gate
	used   [NR_VECTORS / 64]uint64
	frozen bool
}

func (tb *Table) set(vector int, gate Gate) (err error) {
	switch {
	case tb.frozen:
		err = ErrFrozen
	case vector < 0 || vector >= NR_VECTORS:
		err = ErrVector(vector)
	case tb.gates[vector].Present():
		err = ErrBound(vector)
	}
	if err != nil {
		return
	}

	if tb.Verbose {
		log.Printf("trap: gate %d: %v ist:%v system:%v", vector, gate.Name, gate.Ist, gate.System)
	}

	tb.gates[vector] = gate
	return
}

// SetIntrGate binds a kernel-only interrupt gate.
func (tb *Table) SetIntrGate(vector int, name string, handler Handler) error {
	return tb.set(vector, Gate{Name: name, Handler: handler})
}

// SetIntrGateIst binds a kernel-only interrupt gate on a dedicated stack.
func (tb *Table) SetIntrGateIst(vector int, name string, handler Handler, ist Stack) error {
	return tb.set(vector, Gate{Name: name, Handler: handler, Ist: ist})
}

// SetSystemIntrGate binds an interrupt gate user code may invoke.
func (tb *Table) SetSystemIntrGate(vector int, name string, handler Handler) error {
	return tb.set(vector, Gate{Name: name, Handler: handler, System: true})
}

// SetSystemIntrGateIst binds a user-invocable interrupt gate on a
// dedicated stack.
func (tb *Table) SetSystemIntrGateIst(vector int, name string, handler Handler, ist Stack) error {
	return tb.set(vector, Gate{Name: name, Handler: handler, Ist: ist, System: true})
}

// Reserve marks a vector as used, so it is never handed to a device.
func (tb *Table) Reserve(vector int) (err error) {
	switch {
	case tb.frozen:
		err = ErrFrozen
	case vector < 0 || vector >= NR_VECTORS:
		err = ErrVector(vector)
	default:
		tb.used[vector/64] |= 1 << (vector % 64)
	}
	return
}

// Used is true if the vector is reserved.
func (tb *Table) Used(vector int) bool {
	if vector < 0 || vector >= NR_VECTORS {
		return false
	}
	return (tb.used[vector/64] & (1 << (vector % 64))) != 0
}

// Freeze makes the table immutable.
func (tb *Table) Freeze() {
	tb.frozen = true
}

// Frozen is true once the table is immutable.
func (tb *Table) Frozen() bool {
	return tb.frozen
}

// Gate returns the gate of a vector.
func (tb *Table) Gate(vector int) (gate Gate, ok bool) {
	if vector < 0 || vector >= NR_VECTORS {
		return
	}
	gate = tb.gates[vector]
	ok = gate.Present()
	return
}

// Gates iterates over every bound vector.
func (tb *Table) Gates() iter.Seq2[int, Gate] {
	return func(yield func(int, Gate) bool) {
		for vector, gate := range tb.gates {
			if !gate.Present() {
				continue
			}
			if !yield(vector, gate) {
				return
			}
		}
	}
}

// TrapInit builds the frozen vector table of the standard exceptions.
func TrapInit() (tb *Table, err error) {
	tb = &Table{}

	bind := func(e error) {
		if err == nil {
			err = e
		}
	}

	for _, et := range errorTraps {
		if et.vector >= FIRST_EXTERNAL_VECTOR {
			continue
		}
		handler := et.handle
		switch {
		case et.system:
			bind(tb.SetSystemIntrGate(et.vector, et.name, handler))
		case et.ist != STACK_NONE:
			bind(tb.SetIntrGateIst(et.vector, et.name, handler, et.ist))
		default:
			bind(tb.SetIntrGate(et.vector, et.name, handler))
		}
	}

	bind(tb.SetIntrGateIst(X86_TRAP_DB, "debug", (*Dispatcher).doDebug, DEBUG_STACK))
	bind(tb.SetIntrGateIst(X86_TRAP_NMI, "nmi", (*Dispatcher).doNmi, NMI_STACK))
	bind(tb.SetSystemIntrGateIst(X86_TRAP_BP, "int3", (*Dispatcher).doInt3, DEBUG_STACK))
	bind(tb.SetIntrGate(X86_TRAP_UD, "invalid_op", (*Dispatcher).doInvalidOp))
	bind(tb.SetIntrGate(X86_TRAP_NM, "device_not_available", (*Dispatcher).doDeviceNotAvailable))
	bind(tb.SetIntrGateIst(X86_TRAP_DF, "double_fault", (*Dispatcher).doDoubleFault, DOUBLEFAULT_STACK))
	bind(tb.SetIntrGate(X86_TRAP_GP, "general_protection", (*Dispatcher).doGeneralProtection))
	bind(tb.SetIntrGate(X86_TRAP_PF, "page_fault", (*Dispatcher).doPageFault))
	bind(tb.SetIntrGate(X86_TRAP_SPURIOUS, "spurious_interrupt_bug", (*Dispatcher).doSpuriousInterruptBug))
	bind(tb.SetIntrGate(X86_TRAP_MF, "coprocessor_error", (*Dispatcher).doCoprocessorError))
	bind(tb.SetIntrGateIst(X86_TRAP_MC, "machine_check", (*Dispatcher).doMachineCheck, MCE_STACK))
	bind(tb.SetIntrGate(X86_TRAP_XF, "simd_coprocessor_error", (*Dispatcher).doSimdCoprocessorError))

	for vector := range FIRST_EXTERNAL_VECTOR {
		bind(tb.Reserve(vector))
	}

	bind(tb.SetSystemIntrGate(SYSCALL_VECTOR, "ia32_syscall", (*Dispatcher).doSyscall))
	bind(tb.Reserve(SYSCALL_VECTOR))

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTrapInit, err)
		tb = nil
		return
	}

	tb.Freeze()
	return
}
