// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package nmi handles non-maskable interrupts. It never shares the fixup
// or signal machinery of the other traps.
package nmi

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/notify"
	"github.com/ezrec/xtrap/signal"
)

// Vector of the NMI.
const NMI_VECTOR = 2

// Outcome of one NMI.
type Outcome int

// An NMI arriving inside another on the same CPU is dropped (nested), and
// one arriving while masked is ignored. A DIE_NMI hook may claim it
// (hooked). Otherwise the reason register selects a recovered PCI system
// error (serr) or I/O check (iochk). With no reason it is reported
// (unknown) unless a DIE_NMIUNKNOWN hook claims it (unknown_hooked).
//
//go:generate go tool stringer -linecomment -type=Outcome
const (
	NMI_NESTED         = Outcome(0) // nested
	NMI_IGNORED        = Outcome(1) // ignored
	NMI_HOOKED         = Outcome(2) // hooked
	NMI_SERR           = Outcome(3) // serr
	NMI_IOCHK          = Outcome(4) // iochk
	NMI_UNKNOWN        = Outcome(5) // unknown
	NMI_UNKNOWN_HOOKED = Outcome(6) // unknown_hooked
)

// Config is the NMI policy.
type Config struct {
	UnknownPanic       bool          // Halt on an NMI with no reason.
	PanicOnUnrecovered bool          // Halt on SERR or unknown NMIs.
	PanicOnIo          bool          // Halt on IOCHK NMIs.
	IoCheckWait        int           // Watchdog-touching delay loops after an IOCHK.
	IoCheckDelay       time.Duration // Length of one delay loop.
}

// DefaultConfig waits about two seconds after an IOCHK, and never halts.
func DefaultConfig() Config {
	return Config{
		IoCheckWait:  20000,
		IoCheckDelay: 100 * time.Microsecond,
	}
}

// Handler processes NMIs for every CPU of a machine.
type Handler struct {
	Verbose bool // Set to enable verbose logging.
	Config

	Port    Port          // Reason register.
	Chain   *notify.Chain // DIE_NMI and DIE_NMIUNKNOWN hooks.
	Console io.Writer     // Emergency output; os.Stderr if nil.

	Panic func(local *cpu.Local, regs *cpu.Regs, msg string) // Halts the system; never returns.
	Touch func()                                             // Touches the NMI watchdog.

	lock   cpu.SpinLock // Serializes reason register access across CPUs.
	ignore atomic.Int32
	count  atomic.Uint64
}

// NewHandler creates an NMI handler reading reasons from 'port'.
func NewHandler(port Port, chain *notify.Chain) (h *Handler) {
	h = &Handler{
		Config: DefaultConfig(),
		Port:   port,
		Chain:  chain,
	}
	return
}

// Stop masks NMI processing. Every Stop must be paired with a Restart.
func (h *Handler) Stop() {
	h.ignore.Add(1)
}

// Restart undoes one Stop.
func (h *Handler) Restart() (err error) {
	if h.ignore.Add(-1) < 0 {
		h.ignore.Add(1)
		err = ErrUnbalanced
	}
	return
}

// Masked is true while NMI processing is stopped.
func (h *Handler) Masked() bool {
	return h.ignore.Load() > 0
}

// Count returns the number of NMIs taken on all CPUs.
func (h *Handler) Count() uint64 {
	return h.count.Load()
}

func (h *Handler) console() io.Writer {
	if h.Console == nil {
		return os.Stderr
	}
	return h.Console
}

func (h *Handler) emerg(format string, args ...any) {
	fmt.Fprintln(h.console(), f(format, args...))
}

func (h *Handler) panic(local *cpu.Local, regs *cpu.Regs, msg string) {
	if h.Panic != nil {
		h.Panic(local, regs, msg)
	}
	panic(fmt.Errorf("%w: %s", ErrPanic, msg))
}

// Handle processes an NMI taken on 'local' while 'regs' was running.
func (h *Handler) Handle(local *cpu.Local, regs *cpu.Regs) (out Outcome) {
	if local.InNmi > 0 {
		out = NMI_NESTED
		if h.Verbose {
			log.Printf("nmi: cpu %d: nested NMI dropped", local.Id)
		}
		return
	}

	local.InNmi++
	defer func() { local.InNmi-- }()

	local.NmiCount++
	h.count.Add(1)

	if h.Masked() {
		out = NMI_IGNORED
		return
	}

	out = h.defaultNmi(local, regs)

	if h.Verbose {
		log.Printf("nmi: cpu %d: %v", local.Id, out)
	}

	return
}

func (h *Handler) defaultNmi(local *cpu.Local, regs *cpu.Regs) (out Outcome) {
	// CPU-specific sources first; they cannot be seen from another CPU.
	if h.Chain != nil && h.Chain.Die(notify.DIE_NMI, "nmi", regs, 0, NMI_VECTOR, signal.SIGINT).Stopped() {
		out = NMI_HOOKED
		return
	}

	reason, out, handled := h.platformNmi(local, regs)
	if handled {
		return
	}

	out = h.unknown(local, regs, reason)
	return
}

// platformNmi reads and services the reason register under the reason lock.
func (h *Handler) platformNmi(local *cpu.Local, regs *cpu.Regs) (reason uint8, out Outcome, handled bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	reason = h.Port.In(NMI_REASON_PORT)
	if (reason & NMI_REASON_MASK) == 0 {
		return
	}

	handled = true
	if (reason & NMI_REASON_SERR) != 0 {
		h.serr(local, regs, reason)
		out = NMI_SERR
	} else {
		h.iochk(local, regs, reason)
		out = NMI_IOCHK
	}
	return
}

func (h *Handler) serr(local *cpu.Local, regs *cpu.Regs, reason uint8) {
	h.emerg("NMI: PCI system error (SERR) for reason %02x on CPU %d.", reason, local.Id)

	if h.PanicOnUnrecovered {
		h.panic(local, regs, f("NMI: Not continuing"))
	}

	h.emerg("Dazed and confused, but trying to continue")

	reason = (reason & NMI_REASON_CLEAR_MASK) | NMI_REASON_CLEAR_SERR
	h.Port.Out(NMI_REASON_PORT, reason)
}

func (h *Handler) iochk(local *cpu.Local, regs *cpu.Regs, reason uint8) {
	h.emerg("NMI: IOCK error (debug interrupt?) for reason %02x on CPU %d.", reason, local.Id)
	regs.DumpTo(h.console())

	if h.PanicOnIo {
		h.panic(local, regs, f("NMI IOCK error: Not continuing"))
	}

	reason = (reason & NMI_REASON_CLEAR_MASK) | NMI_REASON_CLEAR_IOCHK
	h.Port.Out(NMI_REASON_PORT, reason)

	for range h.IoCheckWait {
		if h.Touch != nil {
			h.Touch()
		}
		delay(h.IoCheckDelay)
	}

	reason &^= NMI_REASON_CLEAR_IOCHK
	h.Port.Out(NMI_REASON_PORT, reason)
}

func (h *Handler) unknown(local *cpu.Local, regs *cpu.Regs, reason uint8) (out Outcome) {
	if h.Chain != nil && h.Chain.Die(notify.DIE_NMIUNKNOWN, "nmi", regs, uint64(reason), NMI_VECTOR, signal.SIGINT).Stopped() {
		out = NMI_UNKNOWN_HOOKED
		return
	}

	h.emerg("Uhhuh. NMI received for unknown reason %02x on CPU %d.", reason, local.Id)
	h.emerg("Do you have a strange power saving mode enabled?")

	if h.UnknownPanic || h.PanicOnUnrecovered {
		h.panic(local, regs, f("NMI: Not continuing"))
	}

	h.emerg("Dazed and confused, but trying to continue")

	out = NMI_UNKNOWN
	return
}

// delay busy-waits; NMI context cannot sleep.
func delay(d time.Duration) {
	if d <= 0 {
		return
	}
	for start := time.Now(); time.Since(start) < d; {
	}
}
