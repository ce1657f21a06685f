package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/emulator"
	"github.com/ezrec/xtrap/fixup"
	"github.com/ezrec/xtrap/nmi"
	"github.com/ezrec/xtrap/signal"
	"github.com/ezrec/xtrap/trap"
)

func TestLoad_Empty(t *testing.T) {
	assert := assert.New(t)

	policy, err := Load("empty.star", "")
	assert.NoError(err)
	assert.Equal(Default(), policy)
	assert.Equal(0, policy.Cpus())
}

func TestLoad_Config(t *testing.T) {
	assert := assert.New(t)

	src := `
nmi_policy(panic_on_io=True, iocheck_wait=3, iocheck_delay_us=5)
show_unhandled_signals(False)
native(FEATURE_SSSE3 | FEATURE_POPCNT)
fixup(0xffffffff81000010, 0xffffffff81000100)
fixup(insn=0xffffffff81000000, target=0xffffffff81000200)
mmap(0x400000, 0x2000)
mmap(0x600000, 0x1000, writable=True)
poke(0x400000, b"\x66\x0f\x38\x00\xc1")
poke(0x400010, [0x0f, 0x0b])
task(100, "a.out")
task(pid=200, comm="b.out", mxcsr=0x1f00)
xmm(100, 1, 0x0706050403020100, 0x0f0e0d0c0b0a0908)
catch(200, SIGSEGV)
`
	policy, err := Load("config.star", src)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(nmi.Config{
		PanicOnIo:    true,
		IoCheckWait:  3,
		IoCheckDelay: 5 * time.Microsecond,
	}, policy.Nmi)
	assert.False(policy.ShowUnhandledSignals)
	assert.Equal(emulator.FEATURE_SSSE3|emulator.FEATURE_POPCNT, policy.Native)
	assert.Equal([]fixup.Entry{
		{Insn: 0xffffffff81000010, Fixup: 0xffffffff81000100},
		{Insn: 0xffffffff81000000, Fixup: 0xffffffff81000200},
	}, policy.Fixups)
	assert.Equal([]Mapping{
		{Addr: 0x400000, Size: 0x2000},
		{Addr: 0x600000, Size: 0x1000, Writable: true},
	}, policy.Maps)
	assert.Equal([]Poke{
		{Addr: 0x400000, Data: []byte{0x66, 0x0f, 0x38, 0x00, 0xc1}},
		{Addr: 0x400010, Data: []byte{0x0f, 0x0b}},
	}, policy.Pokes)

	if !assert.Len(policy.Tasks, 2) {
		return
	}
	a, ok := policy.Task(100)
	assert.True(ok)
	assert.Equal("a.out", a.Comm)
	assert.Equal(cpu.MXCSR_DEFAULT, a.Mxcsr)
	assert.Equal(cpu.XmmFromU64(0x0706050403020100, 0x0f0e0d0c0b0a0908), a.Xmm[1])

	b, ok := policy.Task(200)
	assert.True(ok)
	assert.Equal(uint32(0x1f00), b.Mxcsr)
	assert.Equal([]signal.Signal{signal.SIGSEGV}, b.Catch)

	_, ok = policy.Task(300)
	assert.False(ok)
}

func TestLoad_Events(t *testing.T) {
	assert := assert.New(t)

	src := `
task(100, "a.out")
trap(X86_TRAP_UD, pid=100, ip=0x400000, regs={"si": 0x600000, "r12": -1})
trap(X86_TRAP_GP, cpu=1, kernel=True, ip=0xffffffff81000010, error=0x18)
softint(3, pid=100, compat=True)
iret_error(pid=100)
nmi(cpu=1, reason=NMI_REASON_SERR)
stop_nmi(1)
restart_nmi(cpu=1)
trap(X86_TRAP_DB, pid=100, dr6=DR_STEP, flags=EFLAGS_IF | EFLAGS_TF)
trap(X86_TRAP_NM, pid=100, em=True)
return_to_user(pid=100)
`
	policy, err := Load("events.star", src)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(2, policy.Cpus())

	kinds := []EventKind{}
	for _, ev := range policy.Events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal([]EventKind{
		EVENT_TRAP, EVENT_TRAP, EVENT_SOFTINT, EVENT_IRET_ERROR, EVENT_NMI,
		EVENT_STOP_NMI, EVENT_RESTART_NMI, EVENT_TRAP, EVENT_TRAP, EVENT_RETURN_TO_USER,
	}, kinds)

	ud := policy.Events[0]
	assert.Equal(trap.X86_TRAP_UD, ud.Vector)
	assert.Equal(100, ud.Pid)
	assert.Equal(0, ud.Cpu)
	assert.Equal(uint64(0x400000), ud.Regs.Ip)
	assert.Equal(cpu.USER_CS, ud.Regs.Cs)
	assert.Equal(cpu.EFLAGS_IF, ud.Regs.Flags)
	assert.True(ud.Regs.Long)
	assert.True(ud.Regs.UserMode())
	assert.Equal(uint64(0x600000), ud.Regs.Gpr[cpu.REG_SI])
	assert.Equal(^uint64(0), ud.Regs.Gpr[cpu.REG_R12])

	gp := policy.Events[1]
	assert.Equal(1, gp.Cpu)
	assert.Equal(0, gp.Pid)
	assert.Equal(cpu.KERNEL_CS, gp.Regs.Cs)
	assert.False(gp.Regs.UserMode())
	assert.Equal(uint64(0x18), gp.ErrorCode)
	assert.Equal(uint64(0xffffffff81000010), gp.Regs.Ip)

	assert.False(policy.Events[2].Regs.Long)
	assert.Equal(trap.X86_TRAP_IRET, policy.Events[3].Vector)

	serr := policy.Events[4]
	assert.Equal(nmi.NMI_REASON_SERR, serr.Reason)
	assert.Equal(nmi.NMI_VECTOR, serr.Vector)
	assert.Equal("cpu 1 pid 0 nmi 80", serr.String())

	assert.Equal(1, policy.Events[5].Cpu)
	assert.Equal(1, policy.Events[6].Cpu)

	db := policy.Events[7]
	assert.Equal(cpu.DR_STEP, db.Dr6)
	assert.Equal(cpu.EFLAGS_IF|cpu.EFLAGS_TF, db.Regs.Flags)

	assert.True(policy.Events[8].Em)
	assert.Equal("cpu 0 pid 100 return_to_user", policy.Events[9].String())
}

func TestLoad_Errors(t *testing.T) {
	assert := assert.New(t)

	table := [](struct {
		name string
		src  string
		err  error
	}){
		{"syntax", "trap(", ErrScript},
		{"builtin", "trap()", ErrScript},
		{"undeclared", "trap(6, pid=5)", ErrTask(5)},
		{"twice", "task(5, \"a\")\ntask(5, \"b\")", ErrTask(5)},
		{"two-cpus", "task(5, \"a\")\ntrap(6, pid=5)\ntrap(6, pid=5, cpu=1)", ErrTask(5)},
		{"xmm-task", "xmm(7, 0, 0, 0)", ErrScript},
		{"register", "trap(6, regs={\"xx\": 1})", ErrScript},
		{"vector", "trap(256)", ErrScript},
		{"feature", "native(0x1000)", ErrScript},
		{"poke", "poke(0, [0x100])", ErrScript},
		{"cpu", "stop_nmi(-1)", ErrScript},
	}

	for _, entry := range table {
		_, err := Load(entry.name, entry.src)
		assert.ErrorIs(err, entry.err, entry.name)
	}
}

func TestDefines(t *testing.T) {
	assert := assert.New(t)

	defines := Defines()
	assert.Equal("13", defines["X86_TRAP_GP"])
	assert.Equal("11", defines["SIGSEGV"])
	assert.Equal("128", defines["NMI_REASON_SERR"])
	assert.Equal("256", defines["EFLAGS_TF"])
	assert.Contains(defines, "FEATURE_ALL")
}

func TestLoad_Loops(t *testing.T) {
	assert := assert.New(t)

	src := `
for n in range(4):
    trap(X86_TRAP_BP, cpu=n % 2, kernel=True, ip=0xffffffff81000000 + n)
`
	policy, err := Load("loops.star", src)
	if !assert.NoError(err) {
		return
	}
	assert.Len(policy.Events, 4)
	assert.Equal(2, policy.Cpus())
	assert.Equal(uint64(0xffffffff81000003), policy.Events[3].Regs.Ip)
}
