package fixup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
)

func TestTable_Fixup(t *testing.T) {
	assert := assert.New(t)

	table, err := Build(
		Entry{Insn: 0xffff8000_00003000, Fixup: 0xffff8000_00009000},
		Entry{Insn: 0xffff8000_00001000, Fixup: 0xffff8000_00008000},
		Entry{Insn: 0xffff8000_00002000, Fixup: 0xffff8000_00008800},
	)
	assert.NoError(err)
	assert.Equal(3, table.Len())

	cases := [](struct {
		ip    uint64
		ok    bool
		after uint64
	}){
		{0xffff8000_00001000, true, 0xffff8000_00008000},
		{0xffff8000_00002000, true, 0xffff8000_00008800},
		{0xffff8000_00003000, true, 0xffff8000_00009000},
		{0xffff8000_00001001, false, 0xffff8000_00001001},
		{0, false, 0},
	}

	for _, entry := range cases {
		regs := &cpu.Regs{Ip: entry.ip, Cs: cpu.KERNEL_CS}
		assert.Equal(entry.ok, table.Fixup(regs), "%x", entry.ip)
		assert.Equal(entry.after, regs.Ip, "%x", entry.ip)
	}
}

func TestTable_Duplicate(t *testing.T) {
	assert := assert.New(t)

	table, err := Build(
		Entry{Insn: 0x10, Fixup: 0x20},
		Entry{Insn: 0x10, Fixup: 0x30},
	)
	assert.Nil(table)
	assert.ErrorIs(err, ErrDuplicate(0x10))
}

func TestTable_Nil(t *testing.T) {
	assert := assert.New(t)

	var table *Table
	assert.Equal(0, table.Len())
	_, ok := table.Search(0x10)
	assert.False(ok)
	assert.False(table.Fixup(&cpu.Regs{Ip: 0x10}))
}
