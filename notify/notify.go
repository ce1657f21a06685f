// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package notify is the die-notifier chain: hooks that may claim a trap
// before the default policy runs.
package notify

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/signal"
)

// Event is the kind of trap a hook is told about.
type Event int

//go:generate go tool stringer -linecomment -type=Event
const (
	DIE_OOPS       = Event(1) // oops
	DIE_INT3       = Event(2) // int3
	DIE_DEBUG      = Event(3) // debug
	DIE_PANIC      = Event(4) // panic
	DIE_NMI        = Event(5) // nmi
	DIE_DIE        = Event(6) // die
	DIE_TRAP       = Event(7) // trap
	DIE_GPF        = Event(8) // gpf
	DIE_NMIUNKNOWN = Event(9) // nmi_unknown
)

// Result of a hook.
type Result int

const (
	NOTIFY_DONE      = Result(0x0000) // Not interested.
	NOTIFY_OK        = Result(0x0001) // Handled, keep walking.
	NOTIFY_STOP_MASK = Result(0x8000)
	NOTIFY_BAD       = NOTIFY_STOP_MASK | Result(0x0002)
	NOTIFY_STOP      = NOTIFY_OK | NOTIFY_STOP_MASK // Handled, stop.
)

// Stopped is true if the result ends the walk.
func (res Result) Stopped() bool {
	return (res & NOTIFY_STOP_MASK) != 0
}

// Args are passed to every hook.
type Args struct {
	Event  Event
	Str    string
	Regs   *cpu.Regs
	Err    uint64 // Error code, NMI reason or DR6, depending on Event.
	Trap   int
	Signal signal.Signal
}

// Block is a registered hook. Higher priorities are called first.
type Block struct {
	Name     string
	Priority int
	Call     func(args *Args) Result
}

// Chain is a priority ordered list of hooks. Walks never block, so they
// are safe from NMI context; registration is serialized.
type Chain struct {
	mutex  sync.Mutex
	blocks atomic.Pointer[[]*Block]
}

// Register adds a hook. Hooks of equal priority run in registration order.
func (ch *Chain) Register(block *Block) (err error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	var blocks []*Block
	if current := ch.blocks.Load(); current != nil {
		blocks = slices.Clone(*current)
	}

	if slices.Contains(blocks, block) {
		err = ErrRegistered
		return
	}

	blocks = append(blocks, block)
	slices.SortStableFunc(blocks, func(a, b *Block) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	ch.blocks.Store(&blocks)
	return
}

// Unregister removes a hook.
func (ch *Chain) Unregister(block *Block) (err error) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	current := ch.blocks.Load()
	if current == nil {
		err = ErrNotRegistered
		return
	}

	n := slices.Index(*current, block)
	if n < 0 {
		err = ErrNotRegistered
		return
	}

	blocks := slices.Delete(slices.Clone(*current), n, n+1)
	ch.blocks.Store(&blocks)
	return
}

// Len returns the number of registered hooks.
func (ch *Chain) Len() int {
	current := ch.blocks.Load()
	if current == nil {
		return 0
	}
	return len(*current)
}

// Call walks the hooks in priority order until one stops the walk, and
// returns the last result.
func (ch *Chain) Call(args *Args) (res Result) {
	current := ch.blocks.Load()
	if current == nil {
		return
	}

	for _, block := range *current {
		res = block.Call(args)
		if res.Stopped() {
			return
		}
	}

	return
}

// Die notifies the chain of a trap. It returns NOTIFY_STOP if a hook
// claimed it.
func (ch *Chain) Die(event Event, str string, regs *cpu.Regs, err uint64, trap int, sig signal.Signal) Result {
	args := &Args{
		Event:  event,
		Str:    str,
		Regs:   regs,
		Err:    err,
		Trap:   trap,
		Signal: sig,
	}
	return ch.Call(args)
}
