// Package cpu models the state a trap handler sees on one logical x86 CPU.
//
// The saved register file of the faulting context (Regs) is distinct from
// the CPU-local state that survives across traps (Local): the interrupt
// enable flag, the preemption counter, the hardware debug registers, CR0
// and the live XMM register file. Memory is reached only through the
// Memory interface, whose copies either fully succeed or fail without
// side effects.
package cpu
