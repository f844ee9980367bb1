package bytecode

import (
	"fmt"
	"math/big"
	"strings"
)

// Opcode identifies one VM instruction.
type Opcode uint8

const (
	OpHLT Opcode = iota // stop the machine

	// Stack
	OpPUSH // push immediate integer
	OpDUP  // duplicate top of stack
	OpPOP  // discard top of stack

	// Storage
	OpLDG // load global slot
	OpSTG // store top of stack into global slot (pops)
	OpLDL // load frame slot (parameter or local)
	OpSTL // store top of stack into frame slot (pops)

	// Arithmetic
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpMOD

	// Bitwise
	OpSHL
	OpSHR
	OpAND
	OpOR
	OpXOR
	OpNOT // bitwise complement (unary)

	// Comparison: pop two, push 0 or 1
	OpLT
	OpLE
	OpGT
	OpGE
	OpEQ
	OpNE

	// Logical: 0 is false, anything else is true; result is 0 or 1
	OpLAND
	OpLOR
	OpLNOT

	// Unary arithmetic
	OpNEG
	OpPOS // identity

	// Control
	OpJMP
	OpJZ  // pop; jump if zero
	OpJNZ // pop; jump if nonzero

	// Calls
	OpCALL // A = function index, B = argument count
	OpRET  // pop return value, tear down frame, push on caller stack

	// Builtins
	OpREAD  // read a decimal integer from standard input, push it
	OpPRINT // print top of stack with a newline; value stays as the result
)

// opNames is indexed by Opcode and holds the assembly mnemonics used by
// the disassembler.
var opNames = [...]string{
	OpHLT:   "HALT",
	OpPUSH:  "PUSH_IMM",
	OpDUP:   "DUP",
	OpPOP:   "POP",
	OpLDG:   "LOAD_GLOBAL",
	OpSTG:   "STORE_GLOBAL",
	OpLDL:   "LOAD_LOCAL",
	OpSTL:   "STORE_LOCAL",
	OpADD:   "ADD",
	OpSUB:   "SUB",
	OpMUL:   "MUL",
	OpDIV:   "DIV",
	OpMOD:   "MOD",
	OpSHL:   "SHL",
	OpSHR:   "SHR",
	OpAND:   "AND",
	OpOR:    "OR",
	OpXOR:   "XOR",
	OpNOT:   "NOT",
	OpLT:    "LT",
	OpLE:    "LE",
	OpGT:    "GT",
	OpGE:    "GE",
	OpEQ:    "EQ",
	OpNE:    "NE",
	OpLAND:  "LAND",
	OpLOR:   "LOR",
	OpLNOT:  "LNOT",
	OpNEG:   "NEG",
	OpPOS:   "POS",
	OpJMP:   "JMP",
	OpJZ:    "JZ",
	OpJNZ:   "JNZ",
	OpCALL:  "CALL",
	OpRET:   "RET",
	OpREAD:  "READ_INT",
	OpPRINT: "PRINT_INT",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// Instruction is one decoded VM instruction. A and B are small integer
// operands (slot index, jump target, function index / argument count);
// Imm carries the PUSH_IMM value.
type Instruction struct {
	Op  Opcode
	A   int
	B   int
	Imm *big.Int
}

func (in Instruction) String() string {
	switch in.Op {
	case OpPUSH:
		return fmt.Sprintf("%-12s %s", in.Op, in.Imm)
	case OpLDG, OpSTG, OpLDL, OpSTL, OpJMP, OpJZ, OpJNZ:
		return fmt.Sprintf("%-12s %d", in.Op, in.A)
	case OpCALL:
		return fmt.Sprintf("%-12s %d, %d", in.Op, in.A, in.B)
	default:
		return in.Op.String()
	}
}

// Function is one entry in the program's function table.
type Function struct {
	Name      string
	Entry     int      // absolute instruction offset of the first instruction
	NumLocals int      // locals beyond the parameters
	Params    []string // parameter names in declared order
}

// NumParams returns the function's arity.
func (f *Function) NumParams() int { return len(f.Params) }

// Program is a fully linked bytecode program: all jump targets and call
// indices are absolute. Labels exist only inside the code generator.
type Program struct {
	Instrs      []Instruction
	NumGlobals  int
	GlobalNames []string // slot order, kept for the disassembly listing
	Funcs       []Function
}

// FuncIndex returns the function-table index for name, or -1.
func (p *Program) FuncIndex(name string) int {
	for i := range p.Funcs {
		if p.Funcs[i].Name == name {
			return i
		}
	}
	return -1
}

// Disassemble renders the program as an assembly listing with absolute
// instruction offsets, function entry markers and global slot names.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	if p.NumGlobals > 0 {
		fmt.Fprintf(&sb, "; globals: %d\n", p.NumGlobals)
		for slot, name := range p.GlobalNames {
			fmt.Fprintf(&sb, ";   [%d] %s\n", slot, name)
		}
	}
	entries := make(map[int]*Function, len(p.Funcs))
	for i := range p.Funcs {
		entries[p.Funcs[i].Entry] = &p.Funcs[i]
	}
	for addr, in := range p.Instrs {
		if f, ok := entries[addr]; ok {
			fmt.Fprintf(&sb, "%s(%s):\n", f.Name, strings.Join(f.Params, ", "))
		}
		line := fmt.Sprintf("%4d    %s", addr, in)
		if in.Op == OpCALL && in.A >= 0 && in.A < len(p.Funcs) {
			line += fmt.Sprintf("    ; %s", p.Funcs[in.A].Name)
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
