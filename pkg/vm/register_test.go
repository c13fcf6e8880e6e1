package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestX0Invariance(t *testing.T) {
	var r RegisterFile
	writes := []uint32{0, 1, 0xFFFFFFFF, 0x80000000, 42}
	for _, w := range writes {
		r.Set(0, w)
		assert.Equal(t, uint32(0), r.Get(0))
	}
}

func TestWriteByIndexMasksTo32Bits(t *testing.T) {
	var r RegisterFile
	r.Set(5, 0xFFFFFFFF)
	assert.Equal(t, uint32(0xFFFFFFFF), r.Get(5))
}

func TestReadWriteByName(t *testing.T) {
	var r RegisterFile
	r.SetByName("sp", 0xFFFFFFFC)
	assert.Equal(t, uint32(0xFFFFFFFC), r.GetByName("sp"))
	assert.Equal(t, uint32(0xFFFFFFFC), r.Get(2))

	r.SetByName("a0", 7)
	assert.Equal(t, uint32(7), r.GetByName("a0"))
	assert.Equal(t, uint32(7), r.Get(10))

	r.SetByName("PC", 0x1000)
	assert.Equal(t, uint32(0x1000), r.GetByName("PC"))
	assert.Equal(t, uint32(0x1000), r.Get(PC))
}

func TestRegisterNamesCoverAllIndices(t *testing.T) {
	assert.Len(t, regNames, NumRegisters+1)
}
