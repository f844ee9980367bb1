// Package vm executes linked bytecode programs on a stack machine with
// arbitrary-precision integer cells.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"math/big"
	"os"

	"gotoy/pkg/bytecode"
)

// maxShift bounds shift counts; anything larger is almost certainly a bug
// and would exhaust memory long before producing a usable value.
const maxShift = 1 << 24

// frame is one call activation: parameter and local slots in a single
// contiguous region (parameters first), the return address, and the operand
// stack depth at entry.
type frame struct {
	locals  []*big.Int
	retAddr int
	base    int
}

// VM is a single-threaded interpreter over a bytecode.Program.
type VM struct {
	// Input is where READ_INT scans integers from. If nil, os.Stdin is used.
	Input io.Reader
	// Output is where PRINT_INT writes. If nil, os.Stdout is used.
	Output io.Writer

	Halted bool

	prog    *bytecode.Program
	in      io.Reader
	out     io.Writer
	stack   []*big.Int
	frames  []frame
	globals []*big.Int
	pc      int
	exit    *big.Int
}

// New prepares a machine for prog. Set Input/Output before calling Start or Run.
func New(prog *bytecode.Program) *VM {
	return &VM{prog: prog}
}

// Start resets the machine and enters a fresh frame for main.
func (m *VM) Start() error {
	m.out = m.Output
	if m.out == nil {
		m.out = os.Stdout
	}
	m.in = m.Input
	if m.in == nil {
		m.in = os.Stdin
	}
	if _, ok := m.in.(io.RuneScanner); !ok {
		m.in = bufio.NewReader(m.in)
	}

	m.globals = make([]*big.Int, m.prog.NumGlobals)
	for i := range m.globals {
		m.globals[i] = new(big.Int)
	}
	m.stack = m.stack[:0]
	m.frames = m.frames[:0]
	m.Halted = false
	m.exit = nil

	idx := m.prog.FuncIndex("main")
	if idx < 0 {
		return fmt.Errorf("program has no main function")
	}
	main := &m.prog.Funcs[idx]
	locals := make([]*big.Int, main.NumParams()+main.NumLocals)
	for i := range locals {
		locals[i] = new(big.Int)
	}
	m.frames = append(m.frames, frame{locals: locals, retAddr: -1, base: 0})
	m.pc = main.Entry
	return nil
}

func (m *VM) push(v *big.Int) {
	m.stack = append(m.stack, v)
}

func (m *VM) pop() (*big.Int, error) {
	if len(m.stack) == 0 {
		return nil, fmt.Errorf("stack underflow at pc %d", m.pc)
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

// pop2 pops the right then the left operand of a binary instruction.
func (m *VM) pop2() (left, right *big.Int, err error) {
	if right, err = m.pop(); err != nil {
		return nil, nil, err
	}
	if left, err = m.pop(); err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func boolInt(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// shiftCount validates a shift amount and converts it to uint.
func (m *VM) shiftCount(v *big.Int) (uint, error) {
	if v.Sign() < 0 {
		return 0, fmt.Errorf("negative shift count %s", v)
	}
	if !v.IsInt64() || v.Int64() > maxShift {
		return 0, fmt.Errorf("shift count %s exceeds limit", v)
	}
	return uint(v.Int64()), nil
}

// Step executes one instruction. Values on the stack are never mutated in
// place; every arithmetic result is a fresh big.Int, so cells may alias.
func (m *VM) Step() error {
	if m.Halted {
		return nil
	}
	if m.pc < 0 || m.pc >= len(m.prog.Instrs) {
		return fmt.Errorf("program counter %d out of range", m.pc)
	}
	in := m.prog.Instrs[m.pc]
	m.pc++

	switch in.Op {
	case bytecode.OpHLT:
		m.Halted = true
		m.exit = new(big.Int)

	case bytecode.OpPUSH:
		m.push(in.Imm)

	case bytecode.OpDUP:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.push(v)
		m.push(v)

	case bytecode.OpPOP:
		if _, err := m.pop(); err != nil {
			return err
		}

	case bytecode.OpLDG:
		m.push(m.globals[in.A])

	case bytecode.OpSTG:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.globals[in.A] = v

	case bytecode.OpLDL:
		m.push(m.frames[len(m.frames)-1].locals[in.A])

	case bytecode.OpSTL:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.frames[len(m.frames)-1].locals[in.A] = v

	case bytecode.OpADD:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Add(l, r))

	case bytecode.OpSUB:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Sub(l, r))

	case bytecode.OpMUL:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Mul(l, r))

	case bytecode.OpDIV:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		if r.Sign() == 0 {
			return fmt.Errorf("division by zero")
		}
		// Quo truncates toward zero; the remainder takes the dividend's sign.
		m.push(new(big.Int).Quo(l, r))

	case bytecode.OpMOD:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		if r.Sign() == 0 {
			return fmt.Errorf("modulo by zero")
		}
		m.push(new(big.Int).Rem(l, r))

	case bytecode.OpSHL:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		n, err := m.shiftCount(r)
		if err != nil {
			return err
		}
		m.push(new(big.Int).Lsh(l, n))

	case bytecode.OpSHR:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		n, err := m.shiftCount(r)
		if err != nil {
			return err
		}
		m.push(new(big.Int).Rsh(l, n))

	case bytecode.OpAND:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(new(big.Int).And(l, r))

	case bytecode.OpOR:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Or(l, r))

	case bytecode.OpXOR:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Xor(l, r))

	case bytecode.OpNOT:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Not(v))

	case bytecode.OpLT, bytecode.OpLE, bytecode.OpGT, bytecode.OpGE, bytecode.OpEQ, bytecode.OpNE:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		c := l.Cmp(r)
		switch in.Op {
		case bytecode.OpLT:
			m.push(boolInt(c < 0))
		case bytecode.OpLE:
			m.push(boolInt(c <= 0))
		case bytecode.OpGT:
			m.push(boolInt(c > 0))
		case bytecode.OpGE:
			m.push(boolInt(c >= 0))
		case bytecode.OpEQ:
			m.push(boolInt(c == 0))
		case bytecode.OpNE:
			m.push(boolInt(c != 0))
		}

	case bytecode.OpLAND:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(boolInt(l.Sign() != 0 && r.Sign() != 0))

	case bytecode.OpLOR:
		l, r, err := m.pop2()
		if err != nil {
			return err
		}
		m.push(boolInt(l.Sign() != 0 || r.Sign() != 0))

	case bytecode.OpLNOT:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.push(boolInt(v.Sign() == 0))

	case bytecode.OpNEG:
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.push(new(big.Int).Neg(v))

	case bytecode.OpPOS:
		// identity

	case bytecode.OpJMP:
		m.pc = in.A

	case bytecode.OpJZ:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v.Sign() == 0 {
			m.pc = in.A
		}

	case bytecode.OpJNZ:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v.Sign() != 0 {
			m.pc = in.A
		}

	case bytecode.OpCALL:
		if in.A < 0 || in.A >= len(m.prog.Funcs) {
			return fmt.Errorf("call to undefined function index %d", in.A)
		}
		f := &m.prog.Funcs[in.A]
		locals := make([]*big.Int, in.B+f.NumLocals)
		for i := in.B - 1; i >= 0; i-- {
			v, err := m.pop()
			if err != nil {
				return err
			}
			locals[i] = v
		}
		for i := in.B; i < len(locals); i++ {
			locals[i] = new(big.Int)
		}
		m.frames = append(m.frames, frame{locals: locals, retAddr: m.pc, base: len(m.stack)})
		m.pc = f.Entry

	case bytecode.OpRET:
		v, err := m.pop()
		if err != nil {
			return err
		}
		fr := m.frames[len(m.frames)-1]
		m.frames = m.frames[:len(m.frames)-1]
		if fr.base < len(m.stack) {
			// drop any temporaries left by an early return
			m.stack = m.stack[:fr.base]
		}
		if len(m.frames) == 0 {
			// main returned: execution is over and v is the program result.
			m.Halted = true
			m.exit = v
			return nil
		}
		m.push(v)
		m.pc = fr.retAddr

	case bytecode.OpREAD:
		n := new(big.Int)
		if _, err := fmt.Fscan(m.in, n); err != nil {
			return fmt.Errorf("input: %v", err)
		}
		m.push(n)

	case bytecode.OpPRINT:
		v, err := m.pop()
		if err != nil {
			return err
		}
		fmt.Fprintln(m.out, v)
		m.push(v)

	default:
		return fmt.Errorf("unknown opcode %d at pc %d", in.Op, m.pc-1)
	}
	return nil
}

// Run executes the program to completion and returns the value main
// returned, or 0 if the program halted through exit().
func (m *VM) Run() (*big.Int, error) {
	if err := m.Start(); err != nil {
		return nil, err
	}
	for !m.Halted {
		if err := m.Step(); err != nil {
			m.Halted = true
			return nil, err
		}
	}
	return m.exit, nil
}

// Global exposes a global slot; test harnesses use it to observe state
// while stepping a bounded number of instructions.
func (m *VM) Global(slot int) *big.Int {
	return m.globals[slot]
}

// ExitCode folds a program result into the process exit-code range.
func ExitCode(v *big.Int) int {
	if v == nil {
		return 0
	}
	return int(new(big.Int).Mod(v, big.NewInt(256)).Int64())
}
