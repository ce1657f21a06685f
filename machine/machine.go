// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package machine assembles a simulated multiprocessor from a policy:
// logical CPUs sharing one memory, vector table, dispatcher, NMI handler
// and signal queue, and runs the policy's scenario on it.
package machine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/emulator"
	"github.com/ezrec/xtrap/fixup"
	"github.com/ezrec/xtrap/nmi"
	"github.com/ezrec/xtrap/policy"
	"github.com/ezrec/xtrap/signal"
	"github.com/ezrec/xtrap/task"
	"github.com/ezrec/xtrap/trap"
)

// Result is the resolution of one scenario event.
type Result struct {
	Event   policy.Event
	Outcome trap.Outcome
	Regs    cpu.Regs // Registers after the handler returned.
	Err     error    // Set if the event halted its CPU.
}

func (res *Result) String() string {
	if res.Err != nil {
		return fmt.Sprintf("%v: %v", &res.Event, res.Err)
	}
	return fmt.Sprintf("%v: %v", &res.Event, res.Outcome)
}

// Machine is the simulated system.
type Machine struct {
	Verbose bool // Set to enable verbose logging.

	Memory     *cpu.PageMemory
	Cpus       []*cpu.Local
	Tasks      map[int]*task.Task
	Signals    *signal.Queue
	Emulator   *emulator.Emulator
	Port       *nmi.SystemPort
	Nmi        *nmi.Handler
	Dispatcher *trap.Dispatcher

	events     [][]policy.Event
	results    [][]Result
	idle       []*task.Task
	current    []*task.Task
	interrupts [trap.NR_VECTORS]atomic.Uint64
}

// New builds a machine of 'ncpu' CPUs configured by 'pol'.
func New(ncpu int, pol *policy.Policy) (m *Machine, err error) {
	if ncpu < 1 || ncpu < pol.Cpus() {
		err = ErrCpus(ncpu)
		return
	}

	gates, err := trap.TrapInit()
	if err != nil {
		return
	}

	fixups, err := fixup.Build(pol.Fixups...)
	if err != nil {
		return
	}

	mem := cpu.NewPageMemory()
	for _, mapping := range pol.Maps {
		mem.Map(mapping.Addr, mapping.Size, mapping.Writable)
	}
	for _, poke := range pol.Pokes {
		err = mem.Poke(poke.Addr, poke.Data)
		if err != nil {
			return
		}
	}

	m = &Machine{
		Memory:   mem,
		Tasks:    map[int]*task.Task{},
		Signals:  signal.NewQueue(),
		Emulator: emulator.NewEmulator(),
		Port:     &nmi.SystemPort{},
		events:   make([][]policy.Event, ncpu),
		results:  make([][]Result, ncpu),
	}

	m.Emulator.Native = pol.Native

	d := trap.NewDispatcher(gates, m.Signals)
	d.Fixups = fixups
	d.Emulator = m.Emulator
	d.Platform = m
	d.ShowUnhandledSignals = pol.ShowUnhandledSignals
	m.Dispatcher = d

	m.Nmi = nmi.NewHandler(m.Port, d.Chain)
	m.Nmi.Config = pol.Nmi
	d.AttachNmi(m.Nmi)

	for _, pt := range pol.Tasks {
		tsk := task.New(pt.Pid, pt.Comm, mem)
		if len(pt.Xmm) != 0 || pt.Mxcsr != cpu.MXCSR_DEFAULT {
			err = tsk.InitFpu()
			if err != nil {
				return
			}
			tsk.Fpu.Mxcsr = pt.Mxcsr
			for index, value := range pt.Xmm {
				tsk.Fpu.Xmm[index] = value
			}
		}
		for _, sig := range pt.Catch {
			m.Signals.Catch(pt.Pid, sig)
		}
		m.Tasks[pt.Pid] = tsk
	}

	for id := range ncpu {
		m.Cpus = append(m.Cpus, cpu.NewLocal(id))
		idle := task.New(0, fmt.Sprintf("swapper/%d", id), mem)
		m.idle = append(m.idle, idle)
		m.current = append(m.current, idle)
	}

	for _, ev := range pol.Events {
		m.events[ev.Cpu] = append(m.events[ev.Cpu], ev)
	}

	return
}

// SetVerbose enables verbose logging in every component.
func (m *Machine) SetVerbose(verbose bool) {
	m.Verbose = verbose
	m.Emulator.Verbose = verbose
	m.Dispatcher.Verbose = verbose
	m.Nmi.Verbose = verbose
	for _, local := range m.Cpus {
		local.Verbose = verbose
	}
}

// SetConsole directs oops, NMI and unhandled signal reports to 'w'.
func (m *Machine) SetConsole(w io.Writer) {
	m.Dispatcher.Console = w
	m.Nmi.Console = w
}

// Results returns the resolved events of CPU 'id'. It must not be called
// while the machine runs.
func (m *Machine) Results(id int) []Result {
	if id < 0 || id >= len(m.results) {
		return nil
	}
	return m.results[id]
}

// Run executes the scenario, each CPU on its own goroutine. A kernel
// death halts every CPU; the returned error wraps its *trap.Fatal.
func (m *Machine) Run(ctx context.Context) (err error) {
	g, ctx := errgroup.WithContext(ctx)

	for id, local := range m.Cpus {
		m.results[id] = nil
		events := m.events[id]
		g.Go(func() error {
			return m.runCpu(ctx, local, events)
		})
	}

	err = g.Wait()
	return
}

func (m *Machine) runCpu(ctx context.Context, local *cpu.Local, events []policy.Event) (err error) {
	for _, ev := range events {
		err = ctx.Err()
		if err != nil {
			return
		}

		var res Result
		res, err = m.step(ctx, local, ev)
		m.results[local.Id] = append(m.results[local.Id], res)
		if err != nil {
			err = fmt.Errorf("cpu %d: %w", local.Id, err)
			return
		}

		if m.Verbose {
			log.Printf("machine: %v", &res)
		}
	}

	return
}

// switchTo makes 'tsk' current on 'local'. The FPU state of the previous
// task is saved, so the next FPU use of either task traps.
func (m *Machine) switchTo(local *cpu.Local, tsk *task.Task) {
	prev := m.current[local.Id]
	if prev == tsk {
		return
	}

	if prev.HasFpuOn(local) {
		prev.SaveFpu(local)
	}

	m.current[local.Id] = tsk
}

// step resolves one event. A kernel death is recovered into 'err'.
func (m *Machine) step(ctx context.Context, local *cpu.Local, ev policy.Event) (res Result, err error) {
	res.Event = ev
	res.Regs = ev.Regs

	tsk := m.idle[local.Id]
	if ev.Pid != 0 {
		tsk = m.Tasks[ev.Pid]
	}
	m.switchTo(local, tsk)

	frame := &trap.Frame{
		Regs:      &res.Regs,
		ErrorCode: ev.ErrorCode,
		Local:     local,
		Task:      tsk,
		Context:   ctx,
	}

	if ev.Em {
		local.Cr0 |= cpu.CR0_EM
		defer func() { local.Cr0 &^= cpu.CR0_EM }()
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fatal, ok := r.(*trap.Fatal)
		if !ok {
			panic(r)
		}
		res.Regs = fatal.Regs
		res.Err = fatal
		err = fatal
	}()

	d := m.Dispatcher
	switch ev.Kind {
	case policy.EVENT_TRAP:
		local.Debug.Dr6 |= ev.Dr6
		res.Outcome = d.Dispatch(ev.Vector, frame)
	case policy.EVENT_SOFTINT:
		res.Outcome = d.SoftInt(ev.Vector, frame)
	case policy.EVENT_IRET_ERROR:
		res.Outcome = d.IretError(frame)
	case policy.EVENT_NMI:
		if ev.Reason != 0 {
			m.Port.Assert(ev.Reason)
		}
		res.Outcome = d.Dispatch(nmi.NMI_VECTOR, frame)
	case policy.EVENT_RETURN_TO_USER:
		d.ReturnToUser(frame)
		res.Outcome = trap.OUTCOME_HANDLED
	case policy.EVENT_STOP_NMI:
		m.Nmi.Stop()
		res.Outcome = trap.OUTCOME_HANDLED
	case policy.EVENT_RESTART_NMI:
		err = m.Nmi.Restart()
		res.Err = err
		res.Outcome = trap.OUTCOME_HANDLED
	}

	return
}
