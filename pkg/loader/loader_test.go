package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rv32emu/rv32emu/pkg/vm"
)

const (
	elfPF_R = 4
	elfPF_W = 2
	elfPF_X = 1
)

// buildMinimalELF32RISCV hand-assembles a statically linked 32-bit
// little-endian RISC-V ELF image with one executable PT_LOAD segment and one
// read-write PT_LOAD segment, with no section header table at all -- the
// loader only ever consults program headers.
func buildMinimalELF32RISCV(t *testing.T, entry uint32, code []byte, codeVaddr uint32, dataVaddr uint32, dataFilesz uint32) []byte {
	t.Helper()

	const ehsize = 52
	const phentsize = 32
	const phnum = 2
	codeOff := uint32(ehsize + phentsize*phnum)
	dataOff := codeOff + uint32(len(code))

	buf := new(bytes.Buffer)

	// e_ident
	buf.Write([]byte{0x7F, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */, 0})
	buf.Write(make([]byte, 8)) // padding to 16 bytes

	le := binary.LittleEndian
	write16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	write32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }

	write16(2)       // e_type = ET_EXEC
	write16(243)     // e_machine = EM_RISCV
	write32(1)       // e_version
	write32(entry)   // e_entry
	write32(ehsize)  // e_phoff
	write32(0)       // e_shoff
	write32(0)       // e_flags
	write16(ehsize)  // e_ehsize
	write16(phentsize)
	write16(phnum)
	write16(0) // e_shentsize
	write16(0) // e_shnum
	write16(0) // e_shstrndx

	// program header: code segment (PF_R|PF_X)
	write32(1) // PT_LOAD
	write32(codeOff)
	write32(codeVaddr)
	write32(codeVaddr)
	write32(uint32(len(code)))
	write32(uint32(len(code)))
	write32(elfPF_R | elfPF_X)
	write32(4) // p_align

	// program header: data segment (PF_R|PF_W)
	write32(1) // PT_LOAD
	write32(dataOff)
	write32(dataVaddr)
	write32(dataVaddr)
	write32(dataFilesz)
	write32(dataFilesz)
	write32(elfPF_R | elfPF_W)
	write32(4)

	buf.Write(code)
	buf.Write(make([]byte, dataFilesz))

	assert.Equal(t, int(dataOff)+int(dataFilesz), buf.Len())
	return buf.Bytes()
}

func TestLoadMapsSegmentsAndInitializesRegisters(t *testing.T) {
	code := []byte{
		0x93, 0x00, 0x50, 0x00, // addi x1, x0, 5
		0x73, 0x00, 0x00, 0x00, // ecall
	}
	image := buildMinimalELF32RISCV(t, 0x1000, code, 0x1000, 0x2000, 4)

	m := vm.NewMachine()
	m.Mem.Quiet = true
	entry, err := Load(m, bytes.NewReader(image))
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x1000), entry)
	assert.Equal(t, uint32(0x1000), m.Regs.Get(vm.PC))

	mapped, err := m.Mem.Read(0x1000, len(code))
	assert.NoError(t, err)
	assert.Equal(t, code, mapped)

	assert.Equal(t, uint32(initialStackPointer), m.Regs.GetByName("sp"))
	assert.Equal(t, uint32(0), m.Regs.GetByName("a0"))
	assert.Equal(t, uint32(0), m.Regs.GetByName("a1"))
	assert.Equal(t, uint32(0), m.Regs.GetByName("a2"))

	// A read-write PT_LOAD segment was present, so the heap break is the
	// fixed address rather than left at zero.
	assert.Equal(t, uint32(fixedHeapBreak), m.Mem.Brk(0))
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	code := []byte{0x13, 0x00, 0x00, 0x00} // nop (addi x0,x0,0)
	image := buildMinimalELF32RISCV(t, 0x1000, code, 0x1000, 0x2000, 0)

	// Flip e_machine to something other than EM_RISCV.
	binary.LittleEndian.PutUint16(image[18:20], 0x3E) // EM_X86_64

	m := vm.NewMachine()
	_, err := Load(m, bytes.NewReader(image))
	assert.ErrorIs(t, err, ErrNot32BitRISCV)
}
