package compiler

import (
	"fmt"
	"math/big"

	"gotoy/pkg/bytecode"
)

// binaryOps maps a binary operator token to its opcode. ASSIGN and the
// short-circuit operators are lowered separately.
var binaryOps = map[TokenType]bytecode.Opcode{
	STAR:       bytecode.OpMUL,
	SLASH:      bytecode.OpDIV,
	PERCENT:    bytecode.OpMOD,
	PLUS:       bytecode.OpADD,
	MINUS:      bytecode.OpSUB,
	SHL_OP:     bytecode.OpSHL,
	SHR_OP:     bytecode.OpSHR,
	LESS:       bytecode.OpLT,
	LESS_EQ:    bytecode.OpLE,
	GREATER:    bytecode.OpGT,
	GREATER_EQ: bytecode.OpGE,
	EQUALS:     bytecode.OpEQ,
	NOT_EQ:     bytecode.OpNE,
	AND:        bytecode.OpAND,
	CARET:      bytecode.OpXOR,
	PIPE:       bytecode.OpOR,
}

var unaryOps = map[TokenType]bytecode.Opcode{
	PLUS:  bytecode.OpPOS,
	MINUS: bytecode.OpNEG,
	TILDE: bytecode.OpNOT,
	NOT:   bytecode.OpLNOT,
}

// CodeGen lowers a bound AST to a flat instruction stream. Branch targets
// are symbolic labels (small ints in the A operand) until resolve runs.
type CodeGen struct {
	binds     *Bindings
	instrs    []bytecode.Instruction
	labels    map[int]int // label -> absolute instruction offset
	nextLabel int
}

func newCodeGen(binds *Bindings) *CodeGen {
	return &CodeGen{binds: binds, labels: make(map[int]int)}
}

func (cg *CodeGen) emit(in bytecode.Instruction) {
	cg.instrs = append(cg.instrs, in)
}

func (cg *CodeGen) op(op bytecode.Opcode) {
	cg.emit(bytecode.Instruction{Op: op})
}

func (cg *CodeGen) newLabel() int {
	l := cg.nextLabel
	cg.nextLabel++
	return l
}

// bind pins a label to the next instruction offset.
func (cg *CodeGen) bind(label int) {
	cg.labels[label] = len(cg.instrs)
}

func (cg *CodeGen) jump(op bytecode.Opcode, label int) {
	cg.emit(bytecode.Instruction{Op: op, A: label})
}

func (cg *CodeGen) genExpr(e Expr) {
	switch n := e.(type) {
	case *NumberLit:
		cg.emit(bytecode.Instruction{Op: bytecode.OpPUSH, Imm: n.Value})

	case *VarRef:
		switch n.Storage {
		case StorageGlobal:
			cg.emit(bytecode.Instruction{Op: bytecode.OpLDG, A: n.Slot})
		case StorageLocal:
			cg.emit(bytecode.Instruction{Op: bytecode.OpLDL, A: n.Slot})
		default:
			panic(fmt.Sprintf("codegen: unbound variable %q", n.Name))
		}

	case *UnaryExpr:
		cg.genExpr(n.Right)
		cg.op(unaryOps[n.Op])

	case *BinaryExpr:
		switch n.Op {
		case ASSIGN:
			cg.genAssign(n)
		case AND_LOGICAL, OR_LOGICAL:
			cg.genShortCircuit(n)
		default:
			cg.genExpr(n.Left)
			cg.genExpr(n.Right)
			cg.op(binaryOps[n.Op])
		}

	case *CallExpr:
		cg.genCall(n)

	default:
		panic(fmt.Sprintf("codegen: unhandled expression %T", e))
	}
}

// genAssign lowers "v = rhs": the value is computed once, duplicated, and
// one copy stored, leaving the other as the expression result.
func (cg *CodeGen) genAssign(n *BinaryExpr) {
	cg.genExpr(n.Right)
	cg.op(bytecode.OpDUP)
	v := n.Left.(*VarRef) // checked by the parser
	if v.Storage == StorageGlobal {
		cg.emit(bytecode.Instruction{Op: bytecode.OpSTG, A: v.Slot})
	} else {
		cg.emit(bytecode.Instruction{Op: bytecode.OpSTL, A: v.Slot})
	}
}

// genShortCircuit lowers && and || at the branch level; the right operand
// is only evaluated when the left does not decide, and the result is
// normalised to 0 or 1.
func (cg *CodeGen) genShortCircuit(n *BinaryExpr) {
	decided := cg.newLabel()
	end := cg.newLabel()
	if n.Op == AND_LOGICAL {
		cg.genExpr(n.Left)
		cg.jump(bytecode.OpJZ, decided)
		cg.genExpr(n.Right)
		cg.jump(bytecode.OpJZ, decided)
		cg.emit(bytecode.Instruction{Op: bytecode.OpPUSH, Imm: big.NewInt(1)})
		cg.jump(bytecode.OpJMP, end)
		cg.bind(decided)
		cg.emit(bytecode.Instruction{Op: bytecode.OpPUSH, Imm: big.NewInt(0)})
	} else {
		cg.genExpr(n.Left)
		cg.jump(bytecode.OpJNZ, decided)
		cg.genExpr(n.Right)
		cg.jump(bytecode.OpJNZ, decided)
		cg.emit(bytecode.Instruction{Op: bytecode.OpPUSH, Imm: big.NewInt(0)})
		cg.jump(bytecode.OpJMP, end)
		cg.bind(decided)
		cg.emit(bytecode.Instruction{Op: bytecode.OpPUSH, Imm: big.NewInt(1)})
	}
	cg.bind(end)
}

// genCall emits argument evaluations in the callee's declared parameter
// order, regardless of source order at the call site, then the call itself.
// Builtins lower to single opcodes.
func (cg *CodeGen) genCall(call *CallExpr) {
	info := cg.binds.Funcs[call.Callee]
	byName := make(map[string]Expr, len(call.Args))
	for _, arg := range call.Args {
		byName[arg.Name] = arg.Value
	}
	for _, param := range info.Params {
		cg.genExpr(byName[param])
	}
	switch info.Builtin {
	case BuiltinInput:
		cg.op(bytecode.OpREAD)
	case BuiltinPrint:
		cg.op(bytecode.OpPRINT)
	case BuiltinExit:
		cg.op(bytecode.OpHLT)
	default:
		cg.emit(bytecode.Instruction{Op: bytecode.OpCALL, A: info.Index, B: len(info.Params)})
	}
}

func (cg *CodeGen) genStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case *IfStmt:
		elseL := cg.newLabel()
		endL := cg.newLabel()
		cg.genExpr(s.Cond)
		cg.jump(bytecode.OpJZ, elseL)
		cg.genStmt(s.Then)
		cg.jump(bytecode.OpJMP, endL)
		cg.bind(elseL)
		if s.Else != nil {
			cg.genStmt(s.Else)
		}
		cg.bind(endL)

	case *WhileStmt:
		topL := cg.newLabel()
		endL := cg.newLabel()
		cg.bind(topL)
		cg.genExpr(s.Cond)
		cg.jump(bytecode.OpJZ, endL)
		cg.genStmt(s.Body)
		cg.jump(bytecode.OpJMP, topL)
		cg.bind(endL)

	case *BlockStmt:
		for _, inner := range s.Stmts {
			cg.genStmt(inner)
		}

	case *ReturnStmt:
		cg.genExpr(s.Expr)
		cg.op(bytecode.OpRET)

	case *ExprStmt:
		cg.genExpr(s.Expr)
		cg.op(bytecode.OpPOP)

	case *PassStmt:
		// no instructions

	default:
		panic(fmt.Sprintf("codegen: unhandled statement %T", stmt))
	}
}

// genFunc emits one function: its statements, then the implicit epilogue
// that returns 0 when control falls off the end.
func (cg *CodeGen) genFunc(info *FuncInfo) bytecode.Function {
	entry := len(cg.instrs)
	for _, stmt := range info.Decl.Body.Stmts {
		cg.genStmt(stmt)
	}
	cg.emit(bytecode.Instruction{Op: bytecode.OpPUSH, Imm: big.NewInt(0)})
	cg.op(bytecode.OpRET)
	return bytecode.Function{
		Name:      info.Name,
		Entry:     entry,
		NumLocals: info.NumLocals,
		Params:    info.Params,
	}
}

// resolve rewrites symbolic branch labels to absolute instruction offsets.
func (cg *CodeGen) resolve() error {
	for i := range cg.instrs {
		switch cg.instrs[i].Op {
		case bytecode.OpJMP, bytecode.OpJZ, bytecode.OpJNZ:
			addr, ok := cg.labels[cg.instrs[i].A]
			if !ok {
				return fmt.Errorf("codegen: unresolved label %d at instruction %d", cg.instrs[i].A, i)
			}
			cg.instrs[i].A = addr
		}
	}
	return nil
}

// Generate lowers a bound program to linked bytecode.
func Generate(prog *Program, binds *Bindings) (*bytecode.Program, error) {
	cg := newCodeGen(binds)
	out := &bytecode.Program{
		NumGlobals:  len(binds.GlobalNames),
		GlobalNames: binds.GlobalNames,
	}
	for _, info := range binds.Order {
		out.Funcs = append(out.Funcs, cg.genFunc(info))
	}
	if err := cg.resolve(); err != nil {
		return nil, err
	}
	out.Instrs = cg.instrs
	return out, nil
}
