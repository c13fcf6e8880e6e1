// Package loader maps a statically linked 32-bit RISC-V ELF image into a
// vm.Machine and sets up the minimal newlib-compatible bootstrap state the
// interpreter needs before it can run the guest's entry point.
//
// ELF parsing is the one external collaborator this implementation pulls
// from the standard library rather than the pack's third-party stack; see
// DESIGN.md for why.
package loader

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/rv32emu/rv32emu/pkg/vm"
)

// initialStackPointer is one word below the top of the 32-bit address
// space, matching the newlib crt0 convention of reading argc from *sp.
const initialStackPointer = 0xFFFFFFFC

// fixedHeapBreak is the heap origin used regardless of where the data
// segment's file contents end. Computing it from p_offset+p_memsz lets a
// large static buffer collide with a generously sized data segment; a fixed
// high address avoids that at the cost of a fixed-size address space split.
const fixedHeapBreak = 0xC0000000

// ErrNot32BitRISCV indicates the ELF image is not what this loader expects:
// a 32-bit, little-endian, RISC-V, statically-linked executable.
var ErrNot32BitRISCV = errors.New("loader: not a 32-bit little-endian RISC-V ELF")

// Load reads a 32-bit RISC-V ELF image from r, copies its PT_LOAD segments
// into m's memory, and initializes the register file (stack pointer, argc
// slot, argv/envp registers, and PC) so the interpreter can start executing
// at the entry point. It returns the entry point address.
func Load(m *vm.Machine, r io.ReaderAt) (uint32, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return 0, fmt.Errorf("loader: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB || f.Machine != elf.EM_RISCV {
		return 0, ErrNot32BitRISCV
	}

	haveData := false
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil && err != io.EOF {
			return 0, fmt.Errorf("loader: reading segment at 0x%x: %w", prog.Paddr, err)
		}
		if err := m.Mem.Write(uint32(prog.Paddr), data); err != nil {
			return 0, fmt.Errorf("loader: mapping segment at 0x%x: %w", prog.Paddr, err)
		}
		if prog.Flags == elf.PF_R|elf.PF_W {
			haveData = true
		}
	}
	if haveData {
		m.Mem.SetInitialBrk(fixedHeapBreak)
	}

	if err := m.Mem.Write(initialStackPointer, []byte{0, 0, 0, 0}); err != nil {
		return 0, fmt.Errorf("loader: initializing stack: %w", err)
	}
	m.Regs.SetByName("sp", initialStackPointer)
	m.Regs.SetByName("a0", 0)
	m.Regs.SetByName("a1", 0)
	m.Regs.SetByName("a2", 0)

	entry := uint32(f.Entry)
	m.Regs.Set(vm.PC, entry)
	return entry, nil
}
