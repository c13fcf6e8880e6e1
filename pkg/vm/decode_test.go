package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignExtendExhaustive(t *testing.T) {
	widths := []uint{8, 12, 13, 16, 21, 32}
	for _, w := range widths {
		topBitClear := uint32(1)
		if w > 1 {
			topBitClear = uint32(1) << (w - 2)
		}
		topBitSet := uint32(1) << (w - 1)

		got := signExtend(topBitClear, w)
		assert.Equal(t, int64(topBitClear), int64(int32(got)), "width %d clear top bit", w)

		got = signExtend(topBitSet, w)
		assert.Equal(t, int64(-1)<<(w-1), int64(int32(got)), "width %d set top bit", w)

		full := (uint32(1) << w) - 1
		got = signExtend(full, w)
		assert.Equal(t, int64(-1), int64(int32(got)), "width %d all ones", w)
	}
}

func TestDecodeADDI(t *testing.T) {
	// addi x1, x0, 5
	i := Decode(0x00500093)
	assert.Equal(t, OpIMM, i.Opcode)
	assert.Equal(t, uint32(1), i.RD)
	assert.Equal(t, uint32(0), i.RS1)
	assert.Equal(t, uint32(F3ADD), i.Funct3)
	assert.Equal(t, uint32(5), i.ImmI)
}

func TestDecodeBEQ(t *testing.T) {
	// beq x1, x2, +8
	i := Decode(0x00208463)
	assert.Equal(t, OpBRANCH, i.Opcode)
	assert.Equal(t, uint32(1), i.RS1)
	assert.Equal(t, uint32(2), i.RS2)
	assert.Equal(t, uint32(BEQ), i.Funct3)
	assert.Equal(t, uint32(8), i.ImmB)
}

func TestDecodeJAL(t *testing.T) {
	// jal x1, +16
	i := Decode(0x010000ef)
	assert.Equal(t, OpJAL, i.Opcode)
	assert.Equal(t, uint32(1), i.RD)
	assert.Equal(t, uint32(16), i.ImmJ)
}

func TestIsAltDistinguishesSubFromAdd(t *testing.T) {
	add := Decode(0x00208033) // add x0, x1, x2
	assert.False(t, add.IsAlt())

	sub := Decode(0x40208033) // sub x0, x1, x2
	assert.True(t, sub.IsAlt())
}

func TestIsAltDistinguishesSraiFromSrli(t *testing.T) {
	srli := Decode(0x0020d093) // srli x1, x1, 2
	assert.False(t, srli.IsAlt())

	srai := Decode(0x4020d093) // srai x1, x1, 2
	assert.True(t, srai.IsAlt())
}
