package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageMemory_Copy(t *testing.T) {
	assert := assert.New(t)

	mem := NewPageMemory()
	mem.Map(0x1000, 0x2000, true)

	err := mem.CopyTo(0x1ffc, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.NoError(err)

	buf := make([]byte, 8)
	err = mem.CopyFrom(buf, 0x1ffc)
	assert.NoError(err)
	assert.Equal([]byte{1, 2, 3, 4, 5, 6, 7, 8}, buf)
}

func TestPageMemory_AllOrNothing(t *testing.T) {
	assert := assert.New(t)

	mem := NewPageMemory()
	mem.Map(0x1000, 0x1000, true)

	// Straddles into the unmapped page at 0x2000.
	err := mem.CopyTo(0x1ffe, []byte{0xaa, 0xbb, 0xcc, 0xdd})
	assert.ErrorIs(err, ErrFault)
	assert.Equal(ErrAddress(0x2000), err)

	buf := []byte{0x55, 0x55}
	err = mem.CopyFrom(buf, 0x1ffe)
	assert.NoError(err)
	assert.Equal([]byte{0, 0}, buf)

	buf = []byte{0x55, 0x55, 0x55, 0x55}
	err = mem.CopyFrom(buf, 0x1ffe)
	assert.ErrorIs(err, ErrFault)
	assert.Equal([]byte{0x55, 0x55, 0x55, 0x55}, buf)
}

func TestPageMemory_ReadOnly(t *testing.T) {
	assert := assert.New(t)

	mem := NewPageMemory()
	mem.Map(0x4000, 0x10, false)

	assert.ErrorIs(mem.CopyTo(0x4000, []byte{1}), ErrReadOnly)
	assert.NoError(mem.Poke(0x4000, []byte{0x0f, 0x0b}))

	buf := make([]byte, 2)
	assert.NoError(mem.CopyFrom(buf, 0x4000))
	assert.Equal([]byte{0x0f, 0x0b}, buf)

	mem.Unmap(0x4000, 1)
	assert.ErrorIs(mem.CopyFrom(buf, 0x4000), ErrFault)
}

func TestPageMemory_Wrap(t *testing.T) {
	assert := assert.New(t)

	mem := NewPageMemory()
	buf := make([]byte, 4)
	assert.ErrorIs(mem.CopyFrom(buf, 0xfffffffffffffffe), ErrFault)
	assert.NoError(mem.CopyFrom(nil, 0xdead))
}
