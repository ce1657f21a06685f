// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package signal names the signals and siginfo codes a trap raises, and
// the interface to whatever delivers them.
package signal

import (
	"fmt"

	"github.com/ezrec/xtrap/task"
)

// Signal is a signal number.
type Signal int

//go:generate go tool stringer -type=Signal
const (
	SIGINT  = Signal(2)
	SIGILL  = Signal(4)
	SIGTRAP = Signal(5)
	SIGBUS  = Signal(7)
	SIGFPE  = Signal(8)
	SIGKILL = Signal(9)
	SIGSEGV = Signal(11)
)

// Code is a siginfo code. Its meaning depends on the signal.
type Code int

const (
	SI_KERNEL = Code(0x80) // Sent by the kernel without further detail.

	ILL_ILLOPN = Code(2) // Illegal operand.
	ILL_BADSTK = Code(8) // Internal stack error.

	FPE_INTDIV = Code(1) // Integer divide by zero.
	FPE_FLTDIV = Code(3) // Floating point divide by zero.
	FPE_FLTOVF = Code(4) // Floating point overflow.
	FPE_FLTUND = Code(5) // Floating point underflow.
	FPE_FLTRES = Code(6) // Floating point inexact result.
	FPE_FLTINV = Code(7) // Floating point invalid operation.

	SEGV_MAPERR = Code(1) // Address not mapped.
	SEGV_ACCERR = Code(2) // Invalid permissions for a mapped address.

	BUS_ADRALN = Code(1) // Invalid address alignment.

	TRAP_BRKPT  = Code(1) // Process breakpoint.
	TRAP_TRACE  = Code(2) // Process trace trap.
	TRAP_HWBKPT = Code(4) // Hardware breakpoint or watchpoint.
)

// Info is the siginfo accompanying a signal.
type Info struct {
	Signo Signal
	Code  Code
	Addr  uint64 // Faulting address, if the code defines one.

	TrapNo    int    // Vector that raised the signal.
	ErrorCode uint64 // Error code pushed by the processor.
}

func (info *Info) String() string {
	return fmt.Sprintf("%v code:%d addr:%x trap:%d error:%x",
		info.Signo, int(info.Code), info.Addr, info.TrapNo, info.ErrorCode)
}

// Deliverer forces a signal on a task. A nil info means a plain kernel
// signal (SI_KERNEL).
type Deliverer interface {
	Raise(sig Signal, t *task.Task, info *Info)
}

// Disposer reports whether a task has no handler for a signal, so that
// the default action (usually termination) will apply.
type Disposer interface {
	Unhandled(sig Signal, t *task.Task) bool
}
