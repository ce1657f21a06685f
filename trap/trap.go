// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package trap dispatches processor exceptions to their handlers, and
// decides for each whether it is claimed by a hook, recovered in the
// kernel, turned into a signal for the faulting task, or fatal.
package trap

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/decode"
	"github.com/ezrec/xtrap/fixup"
	"github.com/ezrec/xtrap/nmi"
	"github.com/ezrec/xtrap/notify"
	"github.com/ezrec/xtrap/signal"
	"github.com/ezrec/xtrap/task"
)

// Outcome is how a trap was resolved.
type Outcome int

// A trap is claimed by a notifier hook (hooked), resolved by the
// virtual-8086 monitor (vm86), recovered through the fixup table (fixup),
// turned into a signal (signal), emulated (emulated) or resolved by its
// handler (handled). A floating point trap with no unmasked exception is
// spurious; a vector with nothing to do is ignored.
//
//go:generate go tool stringer -linecomment -type=Outcome
const (
	OUTCOME_HOOKED   = Outcome(0) // hooked
	OUTCOME_VM86     = Outcome(1) // vm86
	OUTCOME_FIXUP    = Outcome(2) // fixup
	OUTCOME_SIGNAL   = Outcome(3) // signal
	OUTCOME_EMULATED = Outcome(4) // emulated
	OUTCOME_HANDLED  = Outcome(5) // handled
	OUTCOME_SPURIOUS = Outcome(6) // spurious
	OUTCOME_IGNORED  = Outcome(7) // ignored
)

// Number of outcomes.
const OUTCOME_COUNT = 8

// Frame is the state handed to a trap handler: the saved registers of the
// faulting context, the error code pushed by the processor, the CPU the
// trap was taken on and the current task.
type Frame struct {
	Regs      *cpu.Regs
	ErrorCode uint64
	Local     *cpu.Local
	Task      *task.Task
	Stack     Stack           // Stack the handler runs on; set by the dispatcher.
	Context   context.Context // Abandons a looping fatal path when done; may be nil.
}

// Emulator executes an instruction the processor does not implement.
type Emulator interface {
	Emulate(regs *cpu.Regs, local *cpu.Local, mem cpu.Memory) (handled bool)
}

// Vm86 is the virtual-8086 monitor.
type Vm86 interface {
	// HandleTrap is given traps 0-5 and debug traps taken in
	// virtual-8086 mode. It returns true if the trap must instead be
	// signalled to the task.
	HandleTrap(frame *Frame, trapnr int) (signal bool)
	// HandleFault is given general protection faults.
	HandleFault(frame *Frame)
}

// MathEmulator emulates x87 instructions when CR0.EM is set.
type MathEmulator interface {
	MathEmulate(frame *Frame)
}

// Platform handles the vectors whose policy is outside the trap core.
type Platform interface {
	PageFault(frame *Frame) Outcome
	MachineCheck(frame *Frame) Outcome
	Interrupt(vector int, frame *Frame) Outcome
}

// Fatal is the panic value of a kernel death. It is never recovered on the
// CPU that died.
type Fatal struct {
	Str       string
	Vector    int
	ErrorCode uint64
	Cpu       int
	Die       int // Die counter.
	Regs      cpu.Regs
	Cause     error // Set if the fatal path was abandoned.
}

func (ft *Fatal) Error() string {
	return f("%s: %04x [#%d] cpu %d ip %x", ft.Str, ft.ErrorCode&0xffff, ft.Die, ft.Cpu, ft.Regs.Ip)
}

func (ft *Fatal) Unwrap() []error {
	if ft.Cause != nil {
		return []error{ErrFatal, ft.Cause}
	}
	return []error{ErrFatal}
}

// Dispatcher routes traps through the vector table. One dispatcher serves
// every CPU of a machine; all per-trap state is in the Frame.
type Dispatcher struct {
	Verbose bool // Set to enable verbose logging.

	Gates    *Table
	Chain    *notify.Chain
	Fixups   *fixup.Table
	Signals  signal.Deliverer
	Emulator Emulator
	Nmi      *nmi.Handler

	Platform Platform     // Required for page faults, machine checks and IRQs.
	Vm86     Vm86         // Nil if virtual-8086 mode is unsupported.
	MathEmu  MathEmulator // Nil if x87 emulation is unsupported.

	Console              io.Writer // Oops and unhandled signal reports; os.Stderr if nil.
	ShowUnhandledSignals bool

	limiter *rate.Limiter
	dies    atomic.Int32
	counts  [OUTCOME_COUNT]atomic.Uint64
}

// NewDispatcher creates a dispatcher over a frozen vector table.
func NewDispatcher(gates *Table, signals signal.Deliverer) (d *Dispatcher) {
	d = &Dispatcher{
		Gates:                gates,
		Chain:                &notify.Chain{},
		Signals:              signals,
		ShowUnhandledSignals: true,
		limiter:              rate.NewLimiter(rate.Every(5*time.Second), 10),
	}
	return
}

// AttachNmi makes 'h' the NMI handler. Its hooks are the dispatcher's,
// and its halts are kernel deaths.
func (d *Dispatcher) AttachNmi(h *nmi.Handler) {
	h.Chain = d.Chain
	h.Panic = func(local *cpu.Local, regs *cpu.Regs, msg string) {
		d.Panic(local, regs, X86_TRAP_NMI, msg)
	}
	d.Nmi = h
}

// SetRateLimit sets the unhandled signal report limit.
func (d *Dispatcher) SetRateLimit(interval time.Duration, burst int) {
	d.limiter = rate.NewLimiter(rate.Every(interval), burst)
}

// Count returns the number of traps resolved with an outcome.
func (d *Dispatcher) Count(out Outcome) uint64 {
	if out < 0 || out >= OUTCOME_COUNT {
		return 0
	}
	return d.counts[out].Load()
}

// Dies returns the number of times the fatal path was entered.
func (d *Dispatcher) Dies() int {
	return int(d.dies.Load())
}

func (d *Dispatcher) console() io.Writer {
	if d.Console == nil {
		return os.Stderr
	}
	return d.Console
}

// Dispatch runs the handler of a hardware exception or interrupt.
func (d *Dispatcher) Dispatch(vector int, frame *Frame) (out Outcome) {
	gate, ok := d.Gates.Gate(vector)
	if !ok {
		if vector >= FIRST_EXTERNAL_VECTOR && vector < NR_VECTORS && d.Platform != nil {
			gate = Gate{Name: "irq", Handler: func(d *Dispatcher, frame *Frame) Outcome {
				return d.Platform.Interrupt(vector, frame)
			}}
		} else {
			if d.Verbose {
				log.Printf("trap: cpu %d: vector %d unbound", frame.Local.Id, vector)
			}
			out = OUTCOME_IGNORED
			d.counts[out].Add(1)
			return
		}
	}

	out = d.enter(vector, gate, frame)
	return
}

// SoftInt runs an 'int n' instruction. Only system gates may be raised
// from user mode; any other vector is a general protection fault whose
// error code names the gate.
func (d *Dispatcher) SoftInt(vector int, frame *Frame) Outcome {
	gate, ok := d.Gates.Gate(vector)
	if !ok || (frame.Regs.UserMode() && !gate.System) {
		frame.ErrorCode = uint64(vector)<<3 | 2
		return d.Dispatch(X86_TRAP_GP, frame)
	}

	return d.enter(vector, gate, frame)
}

// enter is the interrupt gate: interrupts are disabled for the handler,
// and the prior state restored on return.
func (d *Dispatcher) enter(vector int, gate Gate, frame *Frame) (out Outcome) {
	local := frame.Local

	saved := local.SaveIrq()
	defer local.RestoreIrq(saved)

	frame.Stack = gate.Ist

	out = gate.Handler(d, frame)
	d.counts[out].Add(1)

	if d.Verbose {
		log.Printf("trap: cpu %d: %v (%d) %v: %v", local.Id, gate.Name, vector, frame.Regs, out)
	}

	return
}

// notifyDie calls the hooks, and returns true if one claimed the trap.
func (d *Dispatcher) notifyDie(event notify.Event, str string, frame *Frame, trapnr int, sig signal.Signal) bool {
	if d.Chain == nil {
		return false
	}
	return d.Chain.Die(event, str, frame.Regs, frame.ErrorCode, trapnr, sig).Stopped()
}

func (d *Dispatcher) raise(sig signal.Signal, tsk *task.Task, info *signal.Info) {
	if info != nil {
		info.TrapNo = tsk.Thread.TrapNo
		info.ErrorCode = tsk.Thread.ErrorCode
	}
	d.Signals.Raise(sig, tsk, info)
}

// showUnhandled reports a signal the task will not catch, rate limited.
func (d *Dispatcher) showUnhandled(frame *Frame, sig signal.Signal, str string) {
	if !d.ShowUnhandledSignals {
		return
	}

	disposer, ok := d.Signals.(signal.Disposer)
	if ok && !disposer.Unhandled(sig, frame.Task) {
		return
	}

	if !d.limiter.Allow() {
		return
	}

	regs := frame.Regs
	fmt.Fprintln(d.console(), f("%s[%d] %s ip:%x sp:%x error:%x",
		frame.Task.Comm, frame.Task.Pid, str, regs.Ip, regs.Sp(), frame.ErrorCode))
}

// doTrap is the generic trap policy: virtual-8086 routing, kernel fixup
// or death, or a signal for the user task.
func (d *Dispatcher) doTrap(trapnr int, sig signal.Signal, str string, frame *Frame, info *signal.Info) (out Outcome) {
	regs := frame.Regs
	tsk := frame.Task

	if !regs.Long && (regs.Flags&cpu.EFLAGS_VM) != 0 {
		if trapnr < 6 && d.Vm86 != nil {
			if !d.Vm86.HandleTrap(frame, trapnr) {
				out = OUTCOME_VM86
				return
			}
		}
	} else if !regs.UserMode() {
		if d.Fixups.Fixup(regs) {
			out = OUTCOME_FIXUP
			return
		}
		tsk.SetTrap(trapnr, frame.ErrorCode)
		out = d.die(str, frame)
		return
	}

	tsk.SetTrap(trapnr, frame.ErrorCode)

	if regs.Long {
		d.showUnhandled(frame, sig, "trap "+str)
	}

	d.raise(sig, tsk, info)
	out = OUTCOME_SIGNAL
	return
}

// die is the fatal path. It only returns, with OUTCOME_HOOKED, if a
// DIE_OOPS hook claimed the oops.
func (d *Dispatcher) die(str string, frame *Frame) (out Outcome) {
	n := d.dies.Add(1)
	w := d.console()

	fmt.Fprintln(w, f("%s: %04x [#%d]", str, frame.ErrorCode&0xffff, n))

	trapNo := frame.Task.Thread.TrapNo
	if d.Chain != nil && d.Chain.Die(notify.DIE_OOPS, str, frame.Regs, frame.ErrorCode, trapNo, signal.SIGSEGV).Stopped() {
		out = OUTCOME_HOOKED
		return
	}

	// The oops is fatal now; DIE_DIE only informs the chain.
	if d.Chain != nil {
		d.Chain.Die(notify.DIE_DIE, str, frame.Regs, frame.ErrorCode, trapNo, signal.SIGSEGV)
	}

	fmt.Fprintln(w, f("CPU %d pid %d comm %s", frame.Local.Id, frame.Task.Pid, frame.Task.Comm))
	frame.Regs.DumpTo(w)
	fmt.Fprintln(w, frame.Local)
	d.dumpCode(w, frame)

	panic(d.fatal(str, frame, int(n)))
}

func (d *Dispatcher) fatal(str string, frame *Frame, n int) *Fatal {
	return &Fatal{
		Str:       str,
		Vector:    frame.Task.Thread.TrapNo,
		ErrorCode: frame.ErrorCode,
		Cpu:       frame.Local.Id,
		Die:       n,
		Regs:      *frame.Regs,
	}
}

// dumpCode prints the faulting instruction, if it is readable.
func (d *Dispatcher) dumpCode(w io.Writer, frame *Frame) {
	regs := frame.Regs
	mem := frame.Task.Mm
	if mem == nil {
		return
	}

	code, err := decode.Fetch(mem, regs.Ip)
	if err != nil {
		fmt.Fprintln(w, f("Code: Unable to access opcode bytes at %x.", regs.Ip))
		return
	}

	text, size := decode.Disassemble(code[:], regs.Ip, regs.Long)
	fmt.Fprintln(w, f("Code: % x <%s>", code[:size], text))
}

// Panic halts the system from a context with no trap frame.
func (d *Dispatcher) Panic(local *cpu.Local, regs *cpu.Regs, vector int, msg string) {
	n := d.dies.Add(1)
	if d.Chain != nil {
		d.Chain.Die(notify.DIE_PANIC, msg, regs, 0, vector, 0)
	}
	fmt.Fprintln(d.console(), f("Kernel panic - not syncing: %s", msg))
	panic(&Fatal{
		Str:    msg,
		Vector: vector,
		Cpu:    local.Id,
		Die:    int(n),
		Regs:   *regs,
	})
}

// ReturnToUser prepares a user context for resumption. The task's debug
// registers are loaded when TIF_DEBUG is set, pending signal work is
// acknowledged, and a single step deferred by a kernel debug trap is
// re-armed.
func (d *Dispatcher) ReturnToUser(frame *Frame) {
	regs := frame.Regs
	tsk := frame.Task
	local := frame.Local

	if !regs.UserModeVm() {
		return
	}

	if tsk.TestFlag(task.TIF_DEBUG) {
		dbg := tsk.DebugRegs()
		local.Debug.Dr = dbg.Dr
		local.Debug.Dr7 = dbg.Dr7
	}

	if tsk.TestAndClearFlag(task.TIF_NOTIFY) && d.Verbose {
		log.Printf("trap: %v: signal work on return", tsk)
	}

	if tsk.TestFlag(task.TIF_SINGLESTEP) {
		regs.Flags |= cpu.EFLAGS_TF
	}
}
