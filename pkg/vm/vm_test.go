package vm

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"gotoy/pkg/bytecode"
)

// mainOnly wraps a hand-written instruction sequence as a complete program
// with a single zero-argument main.
func mainOnly(instrs ...bytecode.Instruction) *bytecode.Program {
	return &bytecode.Program{
		Instrs: instrs,
		Funcs:  []bytecode.Function{{Name: "main", Entry: 0}},
	}
}

func push(v int64) bytecode.Instruction {
	return bytecode.Instruction{Op: bytecode.OpPUSH, Imm: big.NewInt(v)}
}

func op(o bytecode.Opcode) bytecode.Instruction {
	return bytecode.Instruction{Op: o}
}

// runMain executes prog to completion and returns main's result.
func runMain(t *testing.T, prog *bytecode.Program) *big.Int {
	t.Helper()
	m := New(prog)
	m.Output = &bytes.Buffer{}
	result, err := m.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return result
}

func TestBinaryOps(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		op   bytecode.Opcode
		want int64
	}{
		{"add", 2, 3, bytecode.OpADD, 5},
		{"sub", 2, 3, bytecode.OpSUB, -1},
		{"mul", -4, 3, bytecode.OpMUL, -12},
		{"div truncates", 7, 2, bytecode.OpDIV, 3},
		{"div negative truncates toward zero", -7, 2, bytecode.OpDIV, -3},
		{"rem sign follows dividend", -7, 2, bytecode.OpMOD, -1},
		{"rem positive dividend", 7, -2, bytecode.OpMOD, 1},
		{"shl", 3, 4, bytecode.OpSHL, 48},
		{"shr", 48, 4, bytecode.OpSHR, 3},
		{"and", 12, 10, bytecode.OpAND, 8},
		{"or", 12, 10, bytecode.OpOR, 14},
		{"xor", 12, 10, bytecode.OpXOR, 6},
		{"lt", 1, 2, bytecode.OpLT, 1},
		{"le equal", 2, 2, bytecode.OpLE, 1},
		{"gt", 1, 2, bytecode.OpGT, 0},
		{"ge", 3, 2, bytecode.OpGE, 1},
		{"eq", 2, 2, bytecode.OpEQ, 1},
		{"ne", 2, 2, bytecode.OpNE, 0},
		{"land both truthy", 5, -3, bytecode.OpLAND, 1},
		{"land one zero", 5, 0, bytecode.OpLAND, 0},
		{"lor one truthy", 0, 9, bytecode.OpLOR, 1},
		{"lor both zero", 0, 0, bytecode.OpLOR, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runMain(t, mainOnly(push(tt.a), push(tt.b), op(tt.op), op(bytecode.OpRET)))
			if result.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("got %s, want %d", result, tt.want)
			}
		})
	}
}

func TestUnaryOps(t *testing.T) {
	tests := []struct {
		name string
		a    int64
		op   bytecode.Opcode
		want int64
	}{
		{"neg", 5, bytecode.OpNEG, -5},
		{"pos", -5, bytecode.OpPOS, -5},
		{"not", 0, bytecode.OpNOT, -1},
		{"lnot zero", 0, bytecode.OpLNOT, 1},
		{"lnot nonzero", 7, bytecode.OpLNOT, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runMain(t, mainOnly(push(tt.a), op(tt.op), op(bytecode.OpRET)))
			if result.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("got %s, want %d", result, tt.want)
			}
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name  string
		prog  *bytecode.Program
		want  string
	}{
		{
			"division by zero",
			mainOnly(push(1), push(0), op(bytecode.OpDIV), op(bytecode.OpRET)),
			"division by zero",
		},
		{
			"modulo by zero",
			mainOnly(push(1), push(0), op(bytecode.OpMOD), op(bytecode.OpRET)),
			"modulo by zero",
		},
		{
			"negative shift",
			mainOnly(push(1), push(-1), op(bytecode.OpSHL), op(bytecode.OpRET)),
			"negative shift count",
		},
		{
			"oversized shift",
			mainOnly(push(1), push(1<<30), op(bytecode.OpSHL), op(bytecode.OpRET)),
			"exceeds limit",
		},
		{
			"stack underflow",
			mainOnly(op(bytecode.OpRET)),
			"stack underflow",
		},
		{
			"bad call index",
			mainOnly(bytecode.Instruction{Op: bytecode.OpCALL, A: 7}, op(bytecode.OpRET)),
			"undefined function",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.prog)
			m.Output = &bytes.Buffer{}
			_, err := m.Run()
			if err == nil {
				t.Fatalf("expected error, got none")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestHaltYieldsZero(t *testing.T) {
	result := runMain(t, mainOnly(push(99), op(bytecode.OpHLT)))
	if result.Sign() != 0 {
		t.Errorf("halt result = %s, want 0", result)
	}
}

func TestReadAndPrint(t *testing.T) {
	prog := mainOnly(op(bytecode.OpREAD), op(bytecode.OpPRINT), op(bytecode.OpRET))
	m := New(prog)
	m.Input = strings.NewReader("  123456789012345678901234567890  ")
	var out bytes.Buffer
	m.Output = &out
	result, err := m.Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "123456789012345678901234567890"
	if result.String() != want {
		t.Errorf("result = %s", result)
	}
	if out.String() != want+"\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestReadFailure(t *testing.T) {
	prog := mainOnly(op(bytecode.OpREAD), op(bytecode.OpRET))
	m := New(prog)
	m.Input = strings.NewReader("not-a-number")
	m.Output = &bytes.Buffer{}
	if _, err := m.Run(); err == nil || !strings.Contains(err.Error(), "input") {
		t.Errorf("expected input error, got %v", err)
	}
}

func TestCallFrameIsolation(t *testing.T) {
	// twice(x) = x + x, called with 21; locals and parameters live in the
	// callee frame, and the result lands on the caller stack.
	prog := &bytecode.Program{
		Instrs: []bytecode.Instruction{
			// main:
			{Op: bytecode.OpPUSH, Imm: big.NewInt(21)},
			{Op: bytecode.OpCALL, A: 1, B: 1},
			{Op: bytecode.OpRET},
			// twice:
			{Op: bytecode.OpLDL, A: 0},
			{Op: bytecode.OpLDL, A: 0},
			{Op: bytecode.OpADD},
			{Op: bytecode.OpRET},
		},
		Funcs: []bytecode.Function{
			{Name: "main", Entry: 0},
			{Name: "twice", Entry: 3, Params: []string{"x"}},
		},
	}
	result := runMain(t, prog)
	if result.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("got %s, want 42", result)
	}
}

func TestGlobalsZeroInitialized(t *testing.T) {
	prog := &bytecode.Program{
		Instrs: []bytecode.Instruction{
			{Op: bytecode.OpLDG, A: 1},
			{Op: bytecode.OpRET},
		},
		NumGlobals:  2,
		GlobalNames: []string{"a", "b"},
		Funcs:       []bytecode.Function{{Name: "main", Entry: 0}},
	}
	result := runMain(t, prog)
	if result.Sign() != 0 {
		t.Errorf("fresh global = %s, want 0", result)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		in   *big.Int
		want int
	}{
		{nil, 0},
		{big.NewInt(0), 0},
		{big.NewInt(5), 5},
		{big.NewInt(255), 255},
		{big.NewInt(256), 0},
		{big.NewInt(-1), 255},
		{new(big.Int).Lsh(big.NewInt(1), 100), 0},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.in); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDeterministicRuns(t *testing.T) {
	prog := mainOnly(
		push(6), push(7), op(bytecode.OpMUL),
		op(bytecode.OpPRINT), op(bytecode.OpRET),
	)
	var first string
	for i := 0; i < 3; i++ {
		m := New(prog)
		var out bytes.Buffer
		m.Output = &out
		if _, err := m.Run(); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if i == 0 {
			first = out.String()
		} else if out.String() != first {
			t.Errorf("run %d output %q differs from %q", i, out.String(), first)
		}
	}
}
