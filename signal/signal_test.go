package signal

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/task"
)

func TestSignal_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("SIGSEGV", SIGSEGV.String())
	assert.Equal("SIGFPE", SIGFPE.String())
	assert.Equal("Signal(31)", Signal(31).String())
}

func TestQueue_Raise(t *testing.T) {
	assert := assert.New(t)

	q := NewQueue()
	tsk := task.New(42, "victim", nil)
	tsk.SetTrap(13, 0x10)
	assert.False(tsk.TestFlag(task.TIF_NOTIFY))

	q.Raise(SIGSEGV, tsk, nil)
	assert.True(tsk.TestFlag(task.TIF_NOTIFY))
	q.Raise(SIGILL, tsk, &Info{Code: ILL_ILLOPN, Addr: 0x1000, TrapNo: 6})

	raised := slices.Collect(q.All())
	assert.Equal(2, q.Len())
	assert.Equal(Raised{
		Signal: SIGSEGV,
		Pid:    42,
		Info:   Info{Signo: SIGSEGV, Code: SI_KERNEL, TrapNo: 13, ErrorCode: 0x10},
	}, raised[0])
	assert.Equal(Raised{
		Signal: SIGILL,
		Pid:    42,
		Info:   Info{Signo: SIGILL, Code: ILL_ILLOPN, Addr: 0x1000, TrapNo: 6},
	}, raised[1])
	assert.False(tsk.Exited)

	q.Reset()
	assert.Equal(0, q.Len())

	q.Raise(SIGKILL, tsk, nil)
	assert.True(tsk.Exited)
	assert.Equal(int(SIGKILL), tsk.ExitCode)
}

func TestQueue_Unhandled(t *testing.T) {
	assert := assert.New(t)

	q := NewQueue()
	a := task.New(1, "a", nil)
	b := task.New(2, "b", nil)

	var _ Disposer = q
	var _ Deliverer = q

	q.Catch(1, SIGSEGV)
	assert.False(q.Unhandled(SIGSEGV, a))
	assert.True(q.Unhandled(SIGBUS, a))
	assert.True(q.Unhandled(SIGSEGV, b))
}

func TestQueue_Concurrent(t *testing.T) {
	assert := assert.New(t)

	q := NewQueue()

	var wg sync.WaitGroup
	for n := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tsk := task.New(n+1, "worker", nil)
			for range 100 {
				q.Raise(SIGTRAP, tsk, &Info{Code: TRAP_BRKPT})
			}
		}()
	}
	wg.Wait()

	assert.Equal(800, q.Len())
}
