package vm

// Opcode is the 7-bit opcode field of an RV32I instruction word.
type Opcode uint32

// The RV32I opcodes this interpreter implements.
const (
	OpLUI    Opcode = 0x37
	OpAUIPC  Opcode = 0x17
	OpJAL    Opcode = 0x6F
	OpJALR   Opcode = 0x67
	OpBRANCH Opcode = 0x63
	OpLOAD   Opcode = 0x03
	OpSTORE  Opcode = 0x23
	OpIMM    Opcode = 0x13
	OpOP     Opcode = 0x33
	OpMISC   Opcode = 0x0F
	OpSYSTEM Opcode = 0x73
)

// Funct3 values shared across the OP/IMM/BRANCH/LOAD/STORE formats.
const (
	F3ADD  = 0b000 // also ADDI, SUB, BEQ, LB, SB
	F3SLL  = 0b001 // also SLLI, BNE, LH, SH
	F3SLT  = 0b010 // also SLTI, LW, SW
	F3SLTU = 0b011 // also SLTIU
	F3XOR  = 0b100 // also XORI, BLT, LBU
	F3SRL  = 0b101 // also SRLI, SRAI, BGE, LHU
	F3OR   = 0b110 // also ORI, BLTU
	F3AND  = 0b111 // also ANDI, BGEU
)

// Instruction is a fully decoded instruction word: every field RV32I ever
// needs, computed unconditionally. Most fields go unused for any given
// opcode, but computing all of them up front keeps the data path a flat,
// branch-free decode stage.
type Instruction struct {
	Raw    uint32
	Opcode Opcode
	Funct3 uint32
	Funct7 uint32
	RD     uint32
	RS1    uint32
	RS2    uint32

	ImmI uint32
	ImmS uint32
	ImmB uint32
	ImmU uint32
	ImmJ uint32
}

func bits(v uint32, hi, lo uint) uint32 {
	return (v >> lo) & ((1 << (hi - lo + 1)) - 1)
}

// signExtend sign-extends the low width bits of v to a full 32-bit value.
func signExtend(v uint32, width uint) uint32 {
	shift := 32 - width
	return uint32(int32(v<<shift) >> shift)
}

// Decode extracts every RV32I field from a 32-bit instruction word.
func Decode(word uint32) Instruction {
	i := Instruction{
		Raw:    word,
		Opcode: Opcode(bits(word, 6, 0)),
		RD:     bits(word, 11, 7),
		Funct3: bits(word, 14, 12),
		RS1:    bits(word, 19, 15),
		RS2:    bits(word, 24, 20),
		Funct7: bits(word, 31, 25),
	}
	i.ImmI = signExtend(bits(word, 31, 20), 12)
	i.ImmS = signExtend(bits(word, 31, 25)<<5|bits(word, 11, 7), 12)
	i.ImmB = signExtend(bits(word, 31, 31)<<12|bits(word, 7, 7)<<11|bits(word, 30, 25)<<5|bits(word, 11, 8)<<1, 13)
	i.ImmU = bits(word, 31, 12) << 12
	i.ImmJ = signExtend(bits(word, 31, 31)<<20|bits(word, 19, 12)<<12|bits(word, 20, 20)<<11|bits(word, 30, 21)<<1, 21)
	return i
}

// IsAlt reports whether the "alternate" form of a funct3 operation applies:
// SUB instead of ADD for OP, or SRAI instead of SRLI for IMM.
func (i Instruction) IsAlt() bool {
	if i.Funct7 != 0x20 {
		return false
	}
	return i.Opcode == OpOP || (i.Opcode == OpIMM && i.Funct3 == F3SRL)
}

// immediateFor returns the immediate the given opcode consumes as its right
// operand, per the RV32I encoding tables. OP reads its second operand from a
// register instead, so it is not represented here; callers special-case it.
func immediateFor(i Instruction) uint32 {
	switch i.Opcode {
	case OpJAL:
		return i.ImmJ
	case OpJALR, OpIMM, OpLOAD, OpSYSTEM, OpMISC:
		return i.ImmI
	case OpBRANCH:
		return i.ImmB
	case OpAUIPC, OpLUI:
		return i.ImmU
	case OpSTORE:
		return i.ImmS
	default:
		return 0
	}
}
