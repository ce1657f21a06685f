// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package signal

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/ezrec/xtrap/task"
)

// Raised is one signal recorded by a Queue.
type Raised struct {
	Signal Signal
	Pid    int
	Info   Info
}

func (r Raised) String() string {
	return fmt.Sprintf("pid %d: %v", r.Pid, &r.Info)
}

// Queue is a Deliverer that records every raised signal, in order. It is
// safe for use from multiple CPUs.
type Queue struct {
	mutex  sync.Mutex
	raised []Raised
	caught map[int]map[Signal]bool
}

// NewQueue creates an empty queue.
func NewQueue() (q *Queue) {
	q = &Queue{
		caught: map[int]map[Signal]bool{},
	}
	return
}

// Raise records the signal. A nil info is recorded as SI_KERNEL.
func (q *Queue) Raise(sig Signal, t *task.Task, info *Info) {
	r := Raised{
		Signal: sig,
		Pid:    t.Pid,
	}
	if info != nil {
		r.Info = *info
	} else {
		r.Info = Info{Code: SI_KERNEL}
	}
	r.Info.Signo = sig
	if info == nil {
		r.Info.TrapNo = t.Thread.TrapNo
		r.Info.ErrorCode = t.Thread.ErrorCode
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.raised = append(q.raised, r)
	t.SetFlag(task.TIF_NOTIFY)

	if sig == SIGKILL {
		t.GroupExit(int(sig))
	}
}

// Catch installs a handler for 'sig' in the task 'pid'.
func (q *Queue) Catch(pid int, sig Signal) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	sigs, ok := q.caught[pid]
	if !ok {
		sigs = map[Signal]bool{}
		q.caught[pid] = sigs
	}
	sigs[sig] = true
}

// Unhandled is true if the task has no handler installed for 'sig'.
func (q *Queue) Unhandled(sig Signal, t *task.Task) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return !q.caught[t.Pid][sig]
}

// Len returns the count of raised signals.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return len(q.raised)
}

// All returns a snapshot of the raised signals.
func (q *Queue) All() iter.Seq[Raised] {
	q.mutex.Lock()
	raised := slices.Clone(q.raised)
	q.mutex.Unlock()

	return slices.Values(raised)
}

// Reset discards all raised signals.
func (q *Queue) Reset() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.raised = nil
}
