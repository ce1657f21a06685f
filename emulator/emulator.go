// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"encoding/binary"
	"errors"
	"log"
	"sync/atomic"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/decode"
)

// Arithmetic flags rewritten by ptest and popcnt.
const EFLAGS_ARITH = cpu.EFLAGS_CF | cpu.EFLAGS_PF | cpu.EFLAGS_AF |
	cpu.EFLAGS_ZF | cpu.EFLAGS_SF | cpu.EFLAGS_OF

// Emulator executes the instructions of its table on behalf of a processor
// that raised an invalid opcode trap for them. One emulator may be shared
// by every logical CPU.
type Emulator struct {
	Verbose bool    // If set, enables verbose logging.
	Table   *Table  // Emulated opcodes.
	Native  Feature // Extensions the processor executes itself; declined.

	emulated atomic.Uint64
	declined atomic.Uint64
}

// NewEmulator creates an emulator for every instruction it knows.
func NewEmulator() (emu *Emulator) {
	emu = &Emulator{
		Table: DefaultTable(),
	}
	return
}

// Stats returns the count of emulated and declined instructions.
func (emu *Emulator) Stats() (emulated, declined uint64) {
	return emu.emulated.Load(), emu.declined.Load()
}

// Emulate attempts the instruction at regs.Ip. On success the registers,
// vector state or memory hold the result and regs.Ip is advanced past the
// instruction. Otherwise nothing is modified.
func (emu *Emulator) Emulate(regs *cpu.Regs, local *cpu.Local, mem cpu.Memory) (handled bool) {
	in, op, err := emu.Execute(regs, local, mem)
	if err != nil {
		emu.declined.Add(1)
		if emu.Verbose {
			log.Printf("emulate: cpu %d: ip 0x%x: %v", local.Id, regs.Ip, err)
		}
		return
	}

	emu.emulated.Add(1)
	if emu.Verbose {
		inst := in
		log.Printf("emulate: cpu %d: %v %v", local.Id, op.Name, &inst)
	}

	handled = true
	return
}

// Execute is Emulate, reporting the decoded instruction and descriptor, or
// the reason the instruction was declined.
func (emu *Emulator) Execute(regs *cpu.Regs, local *cpu.Local, mem cpu.Memory) (in decode.Instruction, op *Op, err error) {
	defer func() {
		if err != nil {
			op = nil
		}
	}()

	w, err := decode.Fetch(mem, regs.Ip)
	if err != nil {
		err = memoryError(ErrFetch, errFetchFault, err)
		return
	}

	in, err = decode.Decode(w, regs, emu.Table)
	if err != nil {
		return
	}

	op = emu.Table.Op(in.Map, in.Opcode)

	err = emu.check(op, &in)
	if err != nil {
		return
	}

	err = op.execute(&in, regs, local, mem)
	if err != nil {
		return
	}

	regs.Ip += uint64(in.Size())
	if !regs.Long {
		regs.Ip &= 0xffffffff
	}

	return
}

// check validates prefixes, features and operand form.
func (emu *Emulator) check(op *Op, in *decode.Instruction) (err error) {
	switch op.Mandatory {
	case MANDATORY_66:
		if !in.OpSize || in.Rep {
			err = ErrPrefix
			return
		}
	case MANDATORY_F3:
		if !in.Rep {
			err = ErrPrefix
			return
		}
	default:
		if in.Rep {
			err = ErrPrefix
			return
		}
	}

	if (emu.Native & op.Feature) != 0 {
		err = ErrNative
		return
	}

	switch op.Shape {
	case XMM_MEM, GPR_MEM, MEM_GPR:
		if !in.Mem {
			err = ErrForm
			return
		}
	}

	return
}

// memoryError layers a failed copy under 'kind'. Faults use the joined
// error 'fault' built at init.
func memoryError(kind error, fault error, err error) error {
	if errors.Is(err, cpu.ErrFault) {
		return fault
	}
	return errors.Join(kind, err)
}

func loadVector(mem cpu.Memory, addr uint64, width int) (v cpu.Xmm, err error) {
	err = mem.CopyFrom(v[:width], addr)
	if err != nil {
		err = memoryError(ErrOperand, errOperandFault, err)
	}
	return
}

func loadScalar(mem cpu.Memory, addr uint64, width int) (value uint64, err error) {
	var buf [8]byte
	err = mem.CopyFrom(buf[:width], addr)
	if err != nil {
		err = memoryError(ErrOperand, errOperandFault, err)
		return
	}
	value = binary.LittleEndian.Uint64(buf[:])
	return
}

func storeScalar(mem cpu.Memory, addr uint64, width int, value uint64) (err error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	err = mem.CopyTo(addr, buf[:width])
	if err != nil {
		err = memoryError(ErrOperand, errOperandFault, err)
	}
	return
}

// source reads the xmm/m operand.
func (op *Op) source(in *decode.Instruction, local *cpu.Local, mem cpu.Memory) (b cpu.Xmm, err error) {
	if in.Mem {
		return loadVector(mem, in.Ea, op.width(in))
	}
	b = local.XmmReg(in.Rm, in.RmHigh())
	return
}

// execute computes the result into locals, then commits it.
func (op *Op) execute(in *decode.Instruction, regs *cpu.Regs, local *cpu.Local, mem cpu.Memory) (err error) {
	width := op.width(in)

	switch op.Shape {
	case XMM_XMM, XMM_MEM:
		var b cpu.Xmm
		b, err = op.source(in, local, mem)
		if err != nil {
			return
		}
		a := local.XmmReg(in.Reg, in.RegHigh())
		local.SetXmmReg(in.Reg, in.RegHigh(), op.Vector(a, b))
	case XMM_XMM_IMM:
		var b cpu.Xmm
		b, err = op.source(in, local, mem)
		if err != nil {
			return
		}
		a := local.XmmReg(in.Reg, in.RegHigh())
		env := Env{Imm: in.Imm, Mxcsr: local.Mxcsr, Mem: in.Mem}
		local.SetXmmReg(in.Reg, in.RegHigh(), op.Immediate(a, b, env))
	case XMM_XMM_XMM0:
		var b cpu.Xmm
		b, err = op.source(in, local, mem)
		if err != nil {
			return
		}
		a := local.XmmReg(in.Reg, in.RegHigh())
		mask := local.XmmReg(0, false)
		local.SetXmmReg(in.Reg, in.RegHigh(), op.Masked(a, b, mask))
	case FLAGS_XMM_XMM:
		var b cpu.Xmm
		b, err = op.source(in, local, mem)
		if err != nil {
			return
		}
		a := local.XmmReg(in.Reg, in.RegHigh())
		zf, cf := op.Test(a, b)
		flags := regs.Flags &^ EFLAGS_ARITH
		if zf {
			flags |= cpu.EFLAGS_ZF
		}
		if cf {
			flags |= cpu.EFLAGS_CF
		}
		regs.Flags = flags
	case XMM_RM_IMM:
		var value uint64
		if in.Mem {
			value, err = loadScalar(mem, in.Ea, width)
			if err != nil {
				return
			}
		} else {
			value, _ = regs.Reg(in.Rm, in.RmHigh(), 8)
		}
		a := local.XmmReg(in.Reg, in.RegHigh())
		local.SetXmmReg(in.Reg, in.RegHigh(), op.Insert(a, value, in.Imm, width))
	case RM_XMM_IMM:
		a := local.XmmReg(in.Reg, in.RegHigh())
		value := op.Extract(a, in.Imm, width)
		if in.Mem {
			err = storeScalar(mem, in.Ea, width, value)
			return
		}
		// Register destinations are zero extended.
		size := 4
		if in.TestRex(decode.REX_W) {
			size = 8
		}
		err = regs.SetReg(in.Rm, in.RmHigh(), size, value)
	case GPR_MEM:
		var value uint64
		value, err = loadScalar(mem, in.Ea, width)
		if err != nil {
			return
		}
		err = regs.SetReg(in.Reg, in.RegHigh(), width, op.Scalar(value, width))
	case MEM_GPR:
		var value uint64
		value, err = regs.Reg(in.Reg, in.RegHigh(), width)
		if err != nil {
			return
		}
		err = storeScalar(mem, in.Ea, width, op.Scalar(value, width))
	case GPR_GPR:
		var value uint64
		value, err = regs.Reg(in.Rm, in.RmHigh(), width)
		if err != nil {
			return
		}
		result := op.Scalar(value, width)
		err = regs.SetReg(in.Reg, in.RegHigh(), width, result)
		if err != nil {
			return
		}
		flags := regs.Flags &^ EFLAGS_ARITH
		if value == 0 {
			flags |= cpu.EFLAGS_ZF
		}
		regs.Flags = flags
	default:
		err = ErrForm
	}

	return
}
