package vm

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// The following errors terminate the interpreter loop. GuestExit is a
// normal termination; the rest are fatal traps the top-level driver reports
// before exiting non-zero.
var (
	// ErrGuestExit indicates the guest issued the exit syscall.
	ErrGuestExit = errors.New("vm: guest exit")

	// ErrSelfJump indicates a control-flow instruction set PC to its own
	// prior value. This is a heuristic for one guest crash signature and is
	// only checked when Machine.SelfJumpHalt is set.
	ErrSelfJump = errors.New("vm: control flow jumped to its own address")

	// ErrUnimplementedSyscall indicates a7 held a syscall number with no
	// registered handler.
	ErrUnimplementedSyscall = errors.New("vm: unimplemented syscall")
)

// SyscallHandler services an ecall trap. Handle reads the syscall number
// and argument registers from m and writes its return value back to a0. An
// error aborts the interpreter loop; recoverable syscall failures are
// reported by writing a negative value to a0 and returning nil.
type SyscallHandler interface {
	Handle(m *Machine) error
}

// Machine owns every piece of architectural state for a single hart: its
// registers, its memory, and the syscall dispatcher it calls out to on
// ecall. There is no shared mutable state beyond a Machine value, so two
// Machines can run concurrently in separate goroutines.
type Machine struct {
	Regs     RegisterFile
	Mem      *Memory
	Syscalls SyscallHandler

	// SelfJumpHalt enables the opt-in self-jump-to-self-address fatal trap
	// (REDESIGN FLAGS: off by default).
	SelfJumpHalt bool

	// Trace, if set, is called after every successfully decoded instruction,
	// before it executes.
	Trace func(m *Machine, instr Instruction)

	// Breakpoint, if set, is called when the guest executes ebreak instead
	// of the default behavior of blocking on a line of stdin.
	Breakpoint func(m *Machine)

	instCount uint64
}

// NewMachine returns a Machine with freshly constructed, empty memory.
func NewMachine() *Machine {
	return &Machine{Mem: NewMemory()}
}

// InstructionCount returns the number of instructions successfully executed
// so far. The top-level driver reports this alongside a fatal trap.
func (m *Machine) InstructionCount() uint64 {
	return m.instCount
}

// String renders the machine state for a fatal-trap dump: the register
// file plus the number of instructions executed so far.
func (m *Machine) String() string {
	s := m.Regs.String()
	s += fmt.Sprintf("\n(%d instructions executed)", m.instCount)
	return s
}

// Fetch reads the 4-byte little-endian instruction word at the current PC.
func (m *Machine) Fetch() (uint32, error) {
	raw, err := m.Mem.Read(m.Regs.Get(PC), 4)
	if err != nil {
		return 0, err
	}
	return uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24, nil
}

// Step executes exactly one fetch-decode-execute-writeback cycle. It
// returns ErrGuestExit on a normal exit and any other error as a fatal
// trap.
func (m *Machine) Step() error {
	word, err := m.Fetch()
	if err != nil {
		return err
	}
	instr := Decode(word)
	if m.Trace != nil {
		m.Trace(m, instr)
	}
	if err := m.execute(instr); err != nil {
		return err
	}
	m.instCount++
	return nil
}

// Run steps the machine until a fatal error or ErrGuestExit.
func (m *Machine) Run() error {
	for {
		if err := m.Step(); err != nil {
			return err
		}
	}
}

func leftOperand(m *Machine, i Instruction) uint32 {
	switch i.Opcode {
	case OpJAL, OpBRANCH, OpAUIPC:
		return m.Regs.Get(PC)
	case OpLUI:
		return 0
	default:
		return m.Regs.Get(i.RS1)
	}
}

func arithFunct3(i Instruction) uint32 {
	if i.Opcode == OpOP || i.Opcode == OpIMM {
		return i.Funct3
	}
	return F3ADD
}

func writesRegister(op Opcode) bool {
	switch op {
	case OpJAL, OpJALR, OpAUIPC, OpLUI, OpOP, OpIMM, OpLOAD:
		return true
	default:
		return false
	}
}

func (m *Machine) execute(i Instruction) error {
	var rightOperand uint32
	if i.Opcode == OpOP {
		rightOperand = m.Regs.Get(i.RS2)
	} else {
		rightOperand = immediateFor(i)
	}
	left := leftOperand(m, i)
	alt := i.IsAlt()

	switch i.Opcode {
	case OpLUI, OpAUIPC, OpJAL, OpJALR, OpBRANCH, OpLOAD, OpSTORE, OpIMM, OpOP, OpMISC, OpSYSTEM:
		// fall through to the shared data path below
	default:
		return fmt.Errorf("%w: opcode 0x%02x", ErrIllegalInstruction, uint32(i.Opcode))
	}

	result, err := ALU(arithFunct3(i), left, rightOperand, alt)
	if err != nil {
		return err
	}

	resultIsNewPC := i.Opcode == OpJAL || i.Opcode == OpJALR
	if i.Opcode == OpBRANCH {
		taken, err := BranchTaken(i.Funct3, m.Regs.Get(i.RS1), m.Regs.Get(i.RS2))
		if err != nil {
			return err
		}
		resultIsNewPC = taken
	}

	if i.Opcode == OpSYSTEM {
		if err := m.handleSystem(i); err != nil {
			return err
		}
	}

	if i.Opcode == OpLOAD {
		loaded, err := m.loadResult(i.Funct3, result)
		if err != nil {
			return err
		}
		result = loaded
	} else if i.Opcode == OpSTORE {
		if err := m.store(i.Funct3, result, m.Regs.Get(i.RS2)); err != nil {
			return err
		}
	}

	pc := m.Regs.Get(PC)
	if writesRegister(i.Opcode) {
		if resultIsNewPC {
			m.Regs.Set(i.RD, pc+4)
		} else {
			m.Regs.Set(i.RD, result)
		}
	}

	if resultIsNewPC {
		if result%4 != 0 {
			return fmt.Errorf("%w: misaligned jump target 0x%08x", ErrIllegalInstruction, result)
		}
		if m.SelfJumpHalt && result == pc {
			return ErrSelfJump
		}
		m.Regs.Set(PC, result)
	} else {
		m.Regs.Set(PC, pc+4)
	}
	return nil
}

// handleSystem dispatches the SYSTEM opcode: ecall (imm == 0) invokes the
// syscall handler, ebreak (imm == 1) suspends for an external signal. CSR
// instructions are not implemented and are treated as no-ops, per the
// implementer's choice the spec allows.
func (m *Machine) handleSystem(i Instruction) error {
	switch i.ImmI {
	case 0:
		if m.Syscalls == nil {
			return fmt.Errorf("%w: no syscall handler registered", ErrUnimplementedSyscall)
		}
		return m.Syscalls.Handle(m)
	case 1:
		m.breakpoint()
		return nil
	default:
		return nil
	}
}

func (m *Machine) breakpoint() {
	if m.Breakpoint != nil {
		m.Breakpoint(m)
		return
	}
	fmt.Println("vm: ebreak, press enter to continue...")
	bufio.NewReader(os.Stdin).ReadString('\n')
}

func (m *Machine) loadResult(funct3 uint32, addr uint32) (uint32, error) {
	switch funct3 {
	case F3ADD: // LB
		b, err := m.Mem.Read(addr, 1)
		if err != nil {
			return 0, err
		}
		return signExtend(uint32(b[0]), 8), nil
	case F3SLL: // LH
		b, err := m.Mem.Read(addr, 2)
		if err != nil {
			return 0, err
		}
		return signExtend(uint32(b[0])|uint32(b[1])<<8, 16), nil
	case F3SLT: // LW
		b, err := m.Mem.Read(addr, 4)
		if err != nil {
			return 0, err
		}
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
	case F3XOR: // LBU
		b, err := m.Mem.Read(addr, 1)
		if err != nil {
			return 0, err
		}
		return uint32(b[0]), nil
	case F3SRL: // LHU
		b, err := m.Mem.Read(addr, 2)
		if err != nil {
			return 0, err
		}
		return uint32(b[0]) | uint32(b[1])<<8, nil
	default:
		return 0, fmt.Errorf("%w: load funct3 %03b", ErrIllegalInstruction, funct3)
	}
}

func (m *Machine) store(funct3 uint32, addr uint32, value uint32) error {
	switch funct3 {
	case F3ADD: // SB
		return m.Mem.Write(addr, []byte{byte(value)})
	case F3SLL: // SH
		return m.Mem.Write(addr, []byte{byte(value), byte(value >> 8)})
	case F3SLT: // SW
		return m.Mem.Write(addr, []byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)})
	default:
		return fmt.Errorf("%w: store funct3 %03b", ErrIllegalInstruction, funct3)
	}
}

// Disassemble renders a single decoded instruction as a short mnemonic
// string, used by trace hooks.
func Disassemble(i Instruction) string {
	switch i.Opcode {
	case OpLUI:
		return fmt.Sprintf("lui x%d, %d", i.RD, i.ImmU>>12)
	case OpAUIPC:
		return fmt.Sprintf("auipc x%d, %d", i.RD, i.ImmU>>12)
	case OpJAL:
		return fmt.Sprintf("jal x%d, %d", i.RD, int32(i.ImmJ))
	case OpJALR:
		return fmt.Sprintf("jalr x%d, x%d, %d", i.RD, i.RS1, int32(i.ImmI))
	case OpBRANCH:
		return fmt.Sprintf("b%03b x%d, x%d, %d", i.Funct3, i.RS1, i.RS2, int32(i.ImmB))
	case OpLOAD:
		return fmt.Sprintf("l%03b x%d, %d(x%d)", i.Funct3, i.RD, int32(i.ImmI), i.RS1)
	case OpSTORE:
		return fmt.Sprintf("s%03b x%d, %d(x%d)", i.Funct3, i.RS2, int32(i.ImmS), i.RS1)
	case OpIMM:
		return fmt.Sprintf("opimm%03b x%d, x%d, %d", i.Funct3, i.RD, i.RS1, int32(i.ImmI))
	case OpOP:
		return fmt.Sprintf("op%03b x%d, x%d, x%d", i.Funct3, i.RD, i.RS1, i.RS2)
	case OpSYSTEM:
		if i.ImmI == 1 {
			return "ebreak"
		}
		return "ecall"
	case OpMISC:
		return "fence"
	default:
		return fmt.Sprintf("<illegal 0x%08x>", i.Raw)
	}
}
