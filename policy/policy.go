// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package policy loads the boot configuration and simulation scenario of
// a machine from a Starlark script.
//
// Configuration builtins:
//
//	nmi_policy(unknown_panic=False, panic_on_unrecovered=False, panic_on_io=False,
//	           iocheck_wait=20000, iocheck_delay_us=100)
//	show_unhandled_signals(enabled)
//	native(features)                  # FEATURE_* the processor executes itself
//	fixup(insn, target)               # exception table entry
//	mmap(addr, size, writable=False)  # shared memory mapping
//	poke(addr, data)                  # data is bytes, a string or a list of ints
//	task(pid, comm, mxcsr=0x1f80)
//	xmm(pid, index, lo, hi)           # initial vector register of a task
//	catch(pid, sig)                   # task has a handler for 'sig'
//
// Scenario builtins, run in script order on their CPU:
//
//	trap(vector, ...)                 # hardware exception or interrupt
//	softint(vector, ...)              # int n instruction
//	iret_error(...)                   # fault on the return to user mode
//	nmi(reason=0, ...)                # latch 'reason' and take an NMI
//	return_to_user(...)
//	stop_nmi(cpu=0)
//	restart_nmi(cpu=0)
//
// Every scenario builtin takes the frame keywords cpu, pid, ip, flags,
// error, kernel, compat, regs (a dict of register name to value), dr6
// and em (CR0.EM set while the event runs).
package policy

import (
	"fmt"
	"log"
	"maps"
	"strconv"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/emulator"
	"github.com/ezrec/xtrap/fixup"
	"github.com/ezrec/xtrap/internal"
	"github.com/ezrec/xtrap/nmi"
	"github.com/ezrec/xtrap/signal"
	"github.com/ezrec/xtrap/trap"
)

// EventKind is what a scenario event does.
type EventKind int

//go:generate go tool stringer -linecomment -type=EventKind
const (
	EVENT_TRAP           = EventKind(0) // trap
	EVENT_SOFTINT        = EventKind(1) // softint
	EVENT_IRET_ERROR     = EventKind(2) // iret_error
	EVENT_NMI            = EventKind(3) // nmi
	EVENT_RETURN_TO_USER = EventKind(4) // return_to_user
	EVENT_STOP_NMI       = EventKind(5) // stop_nmi
	EVENT_RESTART_NMI    = EventKind(6) // restart_nmi
)

// Event is one step of the scenario.
type Event struct {
	Kind      EventKind
	Cpu       int
	Pid       int    // Task the event interrupts; 0 for the CPU's idle task.
	Vector    int    // Trap or interrupt vector.
	Reason    uint8  // NMI reason latched before an NMI.
	ErrorCode uint64 // Error code pushed by the processor.
	Dr6       uint64 // Debug status the processor latched.
	Em        bool   // CR0.EM is set.
	Regs      cpu.Regs
}

func (ev *Event) String() string {
	switch ev.Kind {
	case EVENT_TRAP, EVENT_SOFTINT:
		return fmt.Sprintf("cpu %d pid %d %v %d ip:%x", ev.Cpu, ev.Pid, ev.Kind, ev.Vector, ev.Regs.Ip)
	case EVENT_NMI:
		return fmt.Sprintf("cpu %d pid %d %v %02x", ev.Cpu, ev.Pid, ev.Kind, ev.Reason)
	}
	return fmt.Sprintf("cpu %d pid %d %v", ev.Cpu, ev.Pid, ev.Kind)
}

// Mapping is a region of the shared memory.
type Mapping struct {
	Addr     uint64
	Size     uint64
	Writable bool
}

// Poke is initial memory content.
type Poke struct {
	Addr uint64
	Data []byte
}

// Task is a user task.
type Task struct {
	Pid   int
	Comm  string
	Mxcsr uint32
	Xmm   map[int]cpu.Xmm
	Catch []signal.Signal
}

// Policy is the loaded configuration and scenario.
type Policy struct {
	Nmi                  nmi.Config
	ShowUnhandledSignals bool
	Native               emulator.Feature
	Fixups               []fixup.Entry
	Maps                 []Mapping
	Pokes                []Poke
	Tasks                []Task
	Events               []Event
}

// Default returns the policy of an empty script.
func Default() (policy *Policy) {
	policy = &Policy{
		Nmi:                  nmi.DefaultConfig(),
		ShowUnhandledSignals: true,
	}
	return
}

// Cpus returns the number of CPUs the scenario refers to.
func (policy *Policy) Cpus() (ncpu int) {
	for _, ev := range policy.Events {
		ncpu = max(ncpu, ev.Cpu+1)
	}
	return
}

// Task returns the declared task 'pid'.
func (policy *Policy) Task(pid int) (tsk *Task, ok bool) {
	for n := range policy.Tasks {
		if policy.Tasks[n].Pid == pid {
			tsk = &policy.Tasks[n]
			ok = true
			return
		}
	}
	return
}

// Defines returns every constant predeclared to a script.
func Defines() map[string]string {
	return maps.Collect(internal.IterSeq2Concat(
		cpu.Defines(),
		trap.Defines(),
		signal.Defines(),
		nmi.Defines(),
		emulator.Defines(),
	))
}

type loader struct {
	Verbose bool
	policy  *Policy
}

// Load evaluates the script 'src' (a string, []byte or io.Reader), named
// 'filename' in error messages.
func Load(filename string, src any) (policy *Policy, err error) {
	return load(filename, src, false)
}

// LoadVerbose is Load, with script print() output logged.
func LoadVerbose(filename string, src any) (policy *Policy, err error) {
	return load(filename, src, true)
}

func load(filename string, src any, verbose bool) (policy *Policy, err error) {
	ld := &loader{Verbose: verbose, policy: Default()}

	thread := starlark.Thread{
		Name: filename,
		Print: func(_ *starlark.Thread, msg string) {
			if ld.Verbose {
				log.Printf("%v: %v", filename, msg)
			}
		},
	}
	opts := syntax.FileOptions{
		TopLevelControl: true,
		While:           true,
	}
	pred := starlark.StringDict{}
	for key, str := range Defines() {
		value, perr := strconv.ParseUint(str, 0, 64)
		if perr != nil {
			continue
		}
		pred[key] = starlark.MakeUint64(value)
	}
	maps.Copy(pred, ld.builtins())

	_, err = starlark.ExecFileOptions(&opts, &thread, filename, src, pred)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrScript, err)
		return
	}

	err = ld.validate()
	if err != nil {
		return
	}

	policy = ld.policy
	return
}

// validate checks the references between tasks and events.
func (ld *loader) validate() (err error) {
	pids := map[int]int{}
	for _, tsk := range ld.policy.Tasks {
		pids[tsk.Pid]++
	}
	for pid, count := range pids {
		if count != 1 {
			err = ErrTask(pid)
			return
		}
	}

	// A task runs on a single CPU.
	owner := map[int]int{}
	for _, ev := range ld.policy.Events {
		if ev.Pid == 0 {
			continue
		}
		if pids[ev.Pid] == 0 {
			err = ErrTask(ev.Pid)
			return
		}
		id, ok := owner[ev.Pid]
		if ok && id != ev.Cpu {
			err = fmt.Errorf("%w: cpu %d and cpu %d", ErrTask(ev.Pid), id, ev.Cpu)
			return
		}
		owner[ev.Pid] = ev.Cpu
	}

	return
}

func (ld *loader) builtins() starlark.StringDict {
	return starlark.StringDict{
		"nmi_policy":             starlark.NewBuiltin("nmi_policy", ld.nmiPolicy),
		"show_unhandled_signals": starlark.NewBuiltin("show_unhandled_signals", ld.showUnhandledSignals),
		"native":                 starlark.NewBuiltin("native", ld.native),
		"fixup":                  starlark.NewBuiltin("fixup", ld.fixup),
		"mmap":                   starlark.NewBuiltin("mmap", ld.mmap),
		"poke":                   starlark.NewBuiltin("poke", ld.poke),
		"task":                   starlark.NewBuiltin("task", ld.task),
		"xmm":                    starlark.NewBuiltin("xmm", ld.xmm),
		"catch":                  starlark.NewBuiltin("catch", ld.catch),
		"trap":                   starlark.NewBuiltin("trap", ld.trap),
		"softint":                starlark.NewBuiltin("softint", ld.softint),
		"iret_error":             starlark.NewBuiltin("iret_error", ld.iretError),
		"nmi":                    starlark.NewBuiltin("nmi", ld.nmi),
		"return_to_user":         starlark.NewBuiltin("return_to_user", ld.returnToUser),
		"stop_nmi":               starlark.NewBuiltin("stop_nmi", ld.stopNmi),
		"restart_nmi":            starlark.NewBuiltin("restart_nmi", ld.restartNmi),
	}
}

// asUint64 converts a script integer; negative values wrap.
func asUint64(v starlark.Value) (value uint64, err error) {
	st_int, ok := v.(starlark.Int)
	if !ok {
		err = ErrValue(v.String())
		return
	}
	value, ok = st_int.Uint64()
	if ok {
		return
	}
	st_int64, ok := st_int.Int64()
	if !ok {
		err = ErrValue(v.String())
		return
	}
	value = uint64(st_int64)
	return
}

// asBytes converts bytes, a string, or an iterable of byte values.
func asBytes(v starlark.Value) (data []byte, err error) {
	switch v := v.(type) {
	case starlark.Bytes:
		data = []byte(string(v))
		return
	case starlark.String:
		data = []byte(string(v))
		return
	case starlark.Iterable:
		iter := v.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			var value uint64
			value, err = asUint64(item)
			if err != nil {
				return
			}
			if value > 0xff {
				err = ErrValue(item.String())
				return
			}
			data = append(data, byte(value))
		}
		return
	}
	err = ErrValue(v.String())
	return
}

func (ld *loader) nmiPolicy(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	config := &ld.policy.Nmi
	delay := int(config.IoCheckDelay / time.Microsecond)
	err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"unknown_panic?", &config.UnknownPanic,
		"panic_on_unrecovered?", &config.PanicOnUnrecovered,
		"panic_on_io?", &config.PanicOnIo,
		"iocheck_wait?", &config.IoCheckWait,
		"iocheck_delay_us?", &delay,
	)
	if err != nil {
		return nil, err
	}
	if config.IoCheckWait < 0 || delay < 0 {
		return nil, ErrValue(f("%v: negative delay", fn.Name()))
	}
	config.IoCheckDelay = time.Duration(delay) * time.Microsecond
	return starlark.None, nil
}

func (ld *loader) showUnhandledSignals(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &ld.policy.ShowUnhandledSignals)
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (ld *loader) native(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var features starlark.Value
	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &features)
	if err != nil {
		return nil, err
	}
	value, err := asUint64(features)
	if err != nil {
		return nil, err
	}
	if (emulator.Feature(value) &^ emulator.FEATURE_ALL) != 0 {
		return nil, ErrValue(features.String())
	}
	ld.policy.Native = emulator.Feature(value)
	return starlark.None, nil
}

func (ld *loader) fixup(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var st_insn, st_target starlark.Value
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "insn", &st_insn, "target", &st_target)
	if err != nil {
		return nil, err
	}
	insn, err := asUint64(st_insn)
	if err != nil {
		return nil, err
	}
	target, err := asUint64(st_target)
	if err != nil {
		return nil, err
	}
	ld.policy.Fixups = append(ld.policy.Fixups, fixup.Entry{Insn: insn, Fixup: target})
	return starlark.None, nil
}

func (ld *loader) mmap(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var st_addr, st_size starlark.Value
	var writable bool
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &st_addr, "size", &st_size, "writable?", &writable)
	if err != nil {
		return nil, err
	}
	addr, err := asUint64(st_addr)
	if err != nil {
		return nil, err
	}
	size, err := asUint64(st_size)
	if err != nil {
		return nil, err
	}
	ld.policy.Maps = append(ld.policy.Maps, Mapping{Addr: addr, Size: size, Writable: writable})
	return starlark.None, nil
}

func (ld *loader) poke(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var st_addr, st_data starlark.Value
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &st_addr, "data", &st_data)
	if err != nil {
		return nil, err
	}
	addr, err := asUint64(st_addr)
	if err != nil {
		return nil, err
	}
	data, err := asBytes(st_data)
	if err != nil {
		return nil, err
	}
	ld.policy.Pokes = append(ld.policy.Pokes, Poke{Addr: addr, Data: data})
	return starlark.None, nil
}

func (ld *loader) task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pid int
	var comm string
	var st_mxcsr starlark.Value = starlark.MakeUint64(uint64(cpu.MXCSR_DEFAULT))
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pid", &pid, "comm", &comm, "mxcsr?", &st_mxcsr)
	if err != nil {
		return nil, err
	}
	if pid <= 0 {
		return nil, ErrTask(pid)
	}
	mxcsr, err := asUint64(st_mxcsr)
	if err != nil {
		return nil, err
	}
	if mxcsr > 0xffffffff {
		return nil, ErrValue(st_mxcsr.String())
	}
	ld.policy.Tasks = append(ld.policy.Tasks, Task{
		Pid:   pid,
		Comm:  comm,
		Mxcsr: uint32(mxcsr),
		Xmm:   map[int]cpu.Xmm{},
	})
	return starlark.None, nil
}

func (ld *loader) xmm(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pid, index int
	var st_lo, st_hi starlark.Value
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pid", &pid, "index", &index, "lo", &st_lo, "hi", &st_hi)
	if err != nil {
		return nil, err
	}
	tsk, ok := ld.policy.Task(pid)
	if !ok {
		return nil, ErrTask(pid)
	}
	if index < 0 || index >= cpu.XMM_COUNT {
		return nil, ErrValue(f("xmm%d", index))
	}
	lo, err := asUint64(st_lo)
	if err != nil {
		return nil, err
	}
	hi, err := asUint64(st_hi)
	if err != nil {
		return nil, err
	}
	var value cpu.Xmm
	value.SetU64(0, lo)
	value.SetU64(1, hi)
	tsk.Xmm[index] = value
	return starlark.None, nil
}

func (ld *loader) catch(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pid, sig int
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "pid", &pid, "sig", &sig)
	if err != nil {
		return nil, err
	}
	tsk, ok := ld.policy.Task(pid)
	if !ok {
		return nil, ErrTask(pid)
	}
	tsk.Catch = append(tsk.Catch, signal.Signal(sig))
	return starlark.None, nil
}

// frameArgs are the keywords common to every scenario builtin.
type frameArgs struct {
	cpu       int
	pid       int
	ip        starlark.Value
	flags     starlark.Value
	errorCode starlark.Value
	dr6       starlark.Value
	kernel    bool
	compat    bool
	em        bool
	regs      *starlark.Dict
}

func newFrameArgs() *frameArgs {
	return &frameArgs{
		ip:        starlark.MakeInt(0),
		flags:     starlark.MakeUint64(cpu.EFLAGS_IF),
		errorCode: starlark.MakeInt(0),
		dr6:       starlark.MakeInt(0),
	}
}

func (fa *frameArgs) pairs(leading ...any) []any {
	return append(leading,
		"cpu?", &fa.cpu,
		"pid?", &fa.pid,
		"ip?", &fa.ip,
		"flags?", &fa.flags,
		"error?", &fa.errorCode,
		"dr6?", &fa.dr6,
		"kernel?", &fa.kernel,
		"compat?", &fa.compat,
		"em?", &fa.em,
		"regs?", &fa.regs,
	)
}

func (fa *frameArgs) event(kind EventKind) (ev Event, err error) {
	if fa.cpu < 0 {
		err = ErrValue(f("cpu %d", fa.cpu))
		return
	}

	ev = Event{
		Kind: kind,
		Cpu:  fa.cpu,
		Pid:  fa.pid,
		Em:   fa.em,
	}

	regs := &ev.Regs
	regs.Long = !fa.compat
	if fa.kernel {
		regs.Cs = cpu.KERNEL_CS
		regs.Ss = cpu.KERNEL_SS
	} else {
		regs.Cs = cpu.USER_CS
		regs.Ss = cpu.USER_SS
	}

	regs.Ip, err = asUint64(fa.ip)
	if err != nil {
		return
	}
	regs.Flags, err = asUint64(fa.flags)
	if err != nil {
		return
	}
	ev.ErrorCode, err = asUint64(fa.errorCode)
	if err != nil {
		return
	}
	ev.Dr6, err = asUint64(fa.dr6)
	if err != nil {
		return
	}

	if fa.regs == nil {
		return
	}
	for _, item := range fa.regs.Items() {
		name, ok := starlark.AsString(item[0])
		if !ok {
			err = ErrRegister(item[0].String())
			return
		}
		index, ok := cpu.RegIndex(name)
		if !ok {
			err = ErrRegister(name)
			return
		}
		regs.Gpr[index], err = asUint64(item[1])
		if err != nil {
			return
		}
	}

	return
}

func (ld *loader) addEvent(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, kind EventKind, leading ...any) (ev *Event, err error) {
	fa := newFrameArgs()
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, fa.pairs(leading...)...)
	if err != nil {
		return
	}
	event, err := fa.event(kind)
	if err != nil {
		return
	}
	ld.policy.Events = append(ld.policy.Events, event)
	ev = &ld.policy.Events[len(ld.policy.Events)-1]
	return
}

func (ld *loader) vectorEvent(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, kind EventKind) (starlark.Value, error) {
	var vector int
	ev, err := ld.addEvent(fn, args, kwargs, kind, "vector", &vector)
	if err != nil {
		return nil, err
	}
	if vector < 0 || vector >= trap.NR_VECTORS {
		return nil, ErrValue(f("vector %d", vector))
	}
	ev.Vector = vector
	return starlark.None, nil
}

func (ld *loader) trap(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return ld.vectorEvent(fn, args, kwargs, EVENT_TRAP)
}

func (ld *loader) softint(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return ld.vectorEvent(fn, args, kwargs, EVENT_SOFTINT)
}

func (ld *loader) iretError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ev, err := ld.addEvent(fn, args, kwargs, EVENT_IRET_ERROR)
	if err != nil {
		return nil, err
	}
	ev.Vector = trap.X86_TRAP_IRET
	return starlark.None, nil
}

func (ld *loader) nmi(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var reason int
	ev, err := ld.addEvent(fn, args, kwargs, EVENT_NMI, "reason?", &reason)
	if err != nil {
		return nil, err
	}
	if reason < 0 || reason > 0xff {
		return nil, ErrValue(f("reason %d", reason))
	}
	ev.Vector = nmi.NMI_VECTOR
	ev.Reason = uint8(reason)
	return starlark.None, nil
}

func (ld *loader) returnToUser(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	_, err := ld.addEvent(fn, args, kwargs, EVENT_RETURN_TO_USER)
	if err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (ld *loader) cpuEvent(fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, kind EventKind) (starlark.Value, error) {
	var id int
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "cpu?", &id)
	if err != nil {
		return nil, err
	}
	if id < 0 {
		return nil, ErrValue(f("cpu %d", id))
	}
	ld.policy.Events = append(ld.policy.Events, Event{Kind: kind, Cpu: id})
	return starlark.None, nil
}

func (ld *loader) stopNmi(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return ld.cpuEvent(fn, args, kwargs, EVENT_STOP_NMI)
}

func (ld *loader) restartNmi(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return ld.cpuEvent(fn, args, kwargs, EVENT_RESTART_NMI)
}
