package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/xtrap/cpu"
)

func TestDisassemble(t *testing.T) {
	assert := assert.New(t)

	text, size := Disassemble([]byte{0x0f, 0x0b}, 0x1000, true)
	assert.Equal("ud2", text)
	assert.Equal(2, size)

	text, size = Disassemble([]byte{0x66, 0x0f, 0x38, 0x00, 0xc1}, 0x1000, true)
	assert.Contains(text, "pshufb")
	assert.Equal(5, size)

	text, size = Disassemble(nil, 0x1000, false)
	assert.Equal("(bad)", text)
	assert.Equal(1, size)
}

func TestFetch(t *testing.T) {
	assert := assert.New(t)

	mem := cpu.NewPageMemory()
	mem.Map(0x1000, cpu.PAGE_SIZE, false)
	assert.NoError(mem.Poke(0x1000, []byte{0x0f, 0x0b}))

	w, err := Fetch(mem, 0x1000)
	assert.NoError(err)
	assert.Equal(byte(0x0f), w[0])
	assert.Equal(byte(0x0b), w[1])

	// The window would cross into an unmapped page.
	_, err = Fetch(mem, 0x1000+cpu.PAGE_SIZE-4)
	assert.ErrorIs(err, cpu.ErrFault)
}
