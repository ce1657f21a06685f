// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package task holds the per-task state the trap handlers read and update:
// the saved trap metadata, the virtualized debug registers and the lazily
// allocated FPU save area.
package task

import (
	"fmt"

	"github.com/ezrec/xtrap/cpu"
)

// Flags are the per-thread information flags.
type Flags uint64

const (
	TIF_SINGLESTEP = Flags(1 << 0) // Re-arm EFLAGS.TF on return to user.
	TIF_BLOCKSTEP  = Flags(1 << 1) // Branch stepping requested.
	TIF_DEBUG      = Flags(1 << 2) // Debug registers must be loaded on return.
	TIF_NOTIFY     = Flags(1 << 3) // Pending signal work.
)

// Thread is the saved trap metadata of a task.
type Thread struct {
	ErrorCode uint64 // Error code of the last trap.
	TrapNo    int    // Vector of the last trap.
	Flags     Flags  // TIF_* flags.
	HasFpu    bool   // FPU state is live on a CPU.
}

// DebugState is the virtualized debug register set of a task. It is
// allocated by the first debug trap the task takes.
type DebugState struct {
	Dr  [4]uint64 // Breakpoint addresses.
	Dr6 uint64    // Virtualized status, as seen by the last debug trap.
	Dr7 uint64    // Control, loaded on return to user.
}

// Task is a schedulable thread of execution.
type Task struct {
	Pid  int
	Comm string

	Thread     Thread
	Debug      *DebugState // Nil until the first debug trap.
	Fpu        *FpuState   // Nil until the first FPU use.
	FpuCounter int         // Consecutive FPU restores.

	Mm cpu.Memory // User address space.

	Exited   bool // Set by a group exit.
	ExitCode int
}

// New creates a task.
func New(pid int, comm string, mm cpu.Memory) (t *Task) {
	t = &Task{
		Pid:  pid,
		Comm: comm,
		Mm:   mm,
	}
	return
}

func (t *Task) String() string {
	return fmt.Sprintf("%s[%d]", t.Comm, t.Pid)
}

// SetFlag sets thread flags.
func (t *Task) SetFlag(flags Flags) {
	t.Thread.Flags |= flags
}

// ClearFlag clears thread flags.
func (t *Task) ClearFlag(flags Flags) {
	t.Thread.Flags &^= flags
}

// TestFlag is true if any of the flags are set.
func (t *Task) TestFlag(flags Flags) bool {
	return (t.Thread.Flags & flags) != 0
}

// TestAndClearFlag clears the flags, returning true if any were set.
func (t *Task) TestAndClearFlag(flags Flags) (set bool) {
	set = t.TestFlag(flags)
	t.ClearFlag(flags)
	return
}

// SetTrap records the vector and error code of a trap.
func (t *Task) SetTrap(trapNo int, errorCode uint64) {
	t.Thread.TrapNo = trapNo
	t.Thread.ErrorCode = errorCode
}

// DebugRegs returns the debug state, allocating it on first use.
func (t *Task) DebugRegs() *DebugState {
	if t.Debug == nil {
		t.Debug = &DebugState{}
	}
	return t.Debug
}

// SetDebug installs the breakpoint registers. TIF_DEBUG follows whether
// any breakpoint is enabled in 'dr7'.
func (t *Task) SetDebug(dr [4]uint64, dr7 uint64) {
	dbg := t.DebugRegs()
	dbg.Dr = dr
	dbg.Dr7 = dr7
	if dr7 != 0 {
		t.SetFlag(TIF_DEBUG)
	} else {
		t.ClearFlag(TIF_DEBUG)
	}
}

// GroupExit terminates every thread of the task with a signal.
func (t *Task) GroupExit(code int) {
	t.Exited = true
	t.ExitCode = code
}
