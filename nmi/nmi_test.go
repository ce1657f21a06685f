package nmi

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/notify"
)

// countingPort records every access to the reason register.
type countingPort struct {
	SystemPort
	reads int
}

func (cp *countingPort) In(port uint16) uint8 {
	cp.reads++
	return cp.SystemPort.In(port)
}

func testHandler() (h *Handler, port *countingPort, console *bytes.Buffer) {
	port = &countingPort{}
	console = &bytes.Buffer{}
	h = NewHandler(port, &notify.Chain{})
	h.Console = console
	h.IoCheckWait = 3
	h.IoCheckDelay = 0
	return
}

func TestHandler_Masked(t *testing.T) {
	assert := assert.New(t)

	h, port, console := testHandler()
	called := 0
	assert.NoError(h.Chain.Register(&notify.Block{Call: func(*notify.Args) notify.Result {
		called++
		return notify.NOTIFY_STOP
	}}))

	local := cpu.NewLocal(0)
	port.Assert(NMI_REASON_SERR)

	h.Stop()
	h.Stop()
	assert.True(h.Masked())
	assert.Equal(NMI_IGNORED, h.Handle(local, &cpu.Regs{}))
	assert.NoError(h.Restart())
	assert.Equal(NMI_IGNORED, h.Handle(local, &cpu.Regs{}))
	assert.NoError(h.Restart())
	assert.False(h.Masked())
	assert.ErrorIs(h.Restart(), ErrUnbalanced)
	assert.False(h.Masked())

	assert.Equal(0, called)
	assert.Equal(0, port.reads)
	assert.Empty(port.Writes())
	assert.Equal(0, console.Len())
	assert.Equal(uint64(2), local.NmiCount)
	assert.Equal(0, local.InNmi)

	assert.Equal(NMI_HOOKED, h.Handle(local, &cpu.Regs{}))
	assert.Equal(1, called)
	assert.Equal(0, port.reads)
}

func TestHandler_Nested(t *testing.T) {
	assert := assert.New(t)

	h, port, _ := testHandler()
	local := cpu.NewLocal(0)
	local.InNmi = 1

	assert.Equal(NMI_NESTED, h.Handle(local, &cpu.Regs{}))
	assert.Equal(1, local.InNmi)
	assert.Equal(uint64(0), local.NmiCount)
	assert.Equal(0, port.reads)
}

func TestHandler_Serr(t *testing.T) {
	assert := assert.New(t)

	h, port, console := testHandler()
	local := cpu.NewLocal(3)

	port.Assert(NMI_REASON_SERR)
	assert.Equal(NMI_SERR, h.Handle(local, &cpu.Regs{}))
	assert.Equal([]uint8{NMI_REASON_CLEAR_SERR}, port.Writes())
	assert.Contains(console.String(), "SERR")
	assert.Contains(console.String(), "CPU 3")

	// The line stays disabled.
	port.Assert(NMI_REASON_SERR)
	assert.Equal(NMI_UNKNOWN, h.Handle(local, &cpu.Regs{}))

	h.PanicOnUnrecovered = true
	assert.PanicsWithError("nmi panic: NMI: Not continuing", func() { h.Handle(local, &cpu.Regs{}) })
	assert.Equal(0, local.InNmi)
}

func TestHandler_Iochk(t *testing.T) {
	assert := assert.New(t)

	h, port, console := testHandler()
	touched := 0
	h.Touch = func() { touched++ }
	local := cpu.NewLocal(1)
	regs := &cpu.Regs{Ip: 0xdead}

	port.Assert(NMI_REASON_IOCHK)
	assert.Equal(NMI_IOCHK, h.Handle(local, regs))
	assert.Equal([]uint8{NMI_REASON_CLEAR_IOCHK, 0}, port.Writes())
	assert.Equal(3, touched)
	assert.Contains(console.String(), "IOCK")
	assert.Contains(console.String(), "000000000000dead")

	// Re-enabled: the line latches again.
	port.Assert(NMI_REASON_IOCHK)
	assert.Equal(NMI_REASON_IOCHK, port.In(NMI_REASON_PORT))

	h.PanicOnIo = true
	var halted string
	h.Panic = func(local *cpu.Local, regs *cpu.Regs, msg string) { halted = msg; panic(msg) }
	assert.Panics(func() { h.Handle(local, regs) })
	assert.Equal("NMI IOCK error: Not continuing", halted)
	assert.True(h.lock.TryLock())
}

func TestHandler_Unknown(t *testing.T) {
	assert := assert.New(t)

	h, _, console := testHandler()
	local := cpu.NewLocal(0)

	var reason uint64 = 0xff
	block := &notify.Block{Call: func(args *notify.Args) notify.Result {
		if args.Event != notify.DIE_NMIUNKNOWN {
			return notify.NOTIFY_DONE
		}
		reason = args.Err
		return notify.NOTIFY_STOP
	}}
	assert.NoError(h.Chain.Register(block))

	assert.Equal(NMI_UNKNOWN_HOOKED, h.Handle(local, &cpu.Regs{}))
	assert.Equal(uint64(0), reason)
	assert.Equal(0, console.Len())

	assert.NoError(h.Chain.Unregister(block))
	assert.Equal(NMI_UNKNOWN, h.Handle(local, &cpu.Regs{}))
	assert.Contains(console.String(), "unknown reason 00 on CPU 0")

	h.UnknownPanic = true
	assert.Panics(func() { h.Handle(local, &cpu.Regs{}) })
	assert.Equal(uint64(3), h.Count())
}

func TestHandler_ReasonLock(t *testing.T) {
	assert := assert.New(t)

	port := &SystemPort{}
	h := NewHandler(port, nil)
	h.Console = io.Discard
	h.IoCheckWait = 0

	var mutex sync.Mutex
	outcomes := map[Outcome]int{}

	var wg sync.WaitGroup
	for n := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := cpu.NewLocal(n)
			for range 50 {
				port.Assert(NMI_REASON_IOCHK)
				out := h.Handle(local, &cpu.Regs{})
				mutex.Lock()
				outcomes[out]++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(400, outcomes[NMI_IOCHK]+outcomes[NMI_UNKNOWN])
	assert.Equal(uint64(400), h.Count())
}

func TestOutcome_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("serr", NMI_SERR.String())
	assert.Equal("unknown_hooked", NMI_UNKNOWN_HOOKED.String())
	assert.Equal("Outcome(7)", Outcome(7).String())
}
