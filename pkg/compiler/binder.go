package compiler

import "fmt"

// BuiltinKind tags the functions that lower to single opcodes instead of
// CALL instructions.
type BuiltinKind int

const (
	BuiltinNone  BuiltinKind = iota
	BuiltinInput             // input(): Int
	BuiltinPrint             // print(val: Int): Int
	BuiltinExit              // exit(): Int (never returns)
)

// FuncInfo is the binder's record of one callable: a user function or a
// builtin. Index is the bytecode function-table index, -1 for builtins.
type FuncInfo struct {
	Name      string
	Params    []string // declared order
	NumLocals int
	Index     int
	Builtin   BuiltinKind
	Decl      *FuncDecl // nil for builtins
}

// Bindings is the result of the binder pass: global slot assignment and the
// function signature table. VarRef nodes in the AST are annotated in place.
type Bindings struct {
	GlobalSlots map[string]int
	GlobalNames []string // slot order
	Funcs       map[string]*FuncInfo
	Order       []*FuncInfo // user functions in declaration order
}

// binder carries the per-function resolution state.
type binder struct {
	binds  *Bindings
	params map[string]int
	locals map[string]int
}

// Bind resolves every name in the program. Function signatures are collected
// before any body is resolved, so a call may precede its callee's definition.
func Bind(prog *Program) (*Bindings, error) {
	binds := &Bindings{
		GlobalSlots: make(map[string]int),
		Funcs: map[string]*FuncInfo{
			"input": {Name: "input", Builtin: BuiltinInput, Index: -1},
			"print": {Name: "print", Params: []string{"val"}, Builtin: BuiltinPrint, Index: -1},
			"exit":  {Name: "exit", Builtin: BuiltinExit, Index: -1},
		},
	}

	// Pass 1: function signatures.
	for _, fn := range prog.Funcs {
		if _, exists := binds.Funcs[fn.Name]; exists {
			return nil, fmt.Errorf("line %d: redefinition of function %q", fn.Line, fn.Name)
		}
		info := &FuncInfo{
			Name:      fn.Name,
			NumLocals: len(fn.Body.Decls),
			Index:     len(binds.Order),
			Decl:      fn,
		}
		seen := make(map[string]bool, len(fn.Params))
		for _, p := range fn.Params {
			if seen[p.Name] {
				return nil, fmt.Errorf("line %d: duplicate parameter %q in function %q", p.Line, p.Name, fn.Name)
			}
			seen[p.Name] = true
			info.Params = append(info.Params, p.Name)
		}
		binds.Funcs[fn.Name] = info
		binds.Order = append(binds.Order, info)
	}

	// Pass 2: global slots, in source order.
	for _, decl := range prog.Globals {
		if _, dup := binds.GlobalSlots[decl.Name]; dup {
			return nil, fmt.Errorf("line %d: redefinition of variable %q", decl.Line, decl.Name)
		}
		if _, isFunc := binds.Funcs[decl.Name]; isFunc {
			return nil, fmt.Errorf("line %d: %q is already declared as a function", decl.Line, decl.Name)
		}
		binds.GlobalSlots[decl.Name] = len(binds.GlobalNames)
		binds.GlobalNames = append(binds.GlobalNames, decl.Name)
	}

	// Pass 3: resolve every function body.
	for _, info := range binds.Order {
		b := &binder{
			binds:  binds,
			params: make(map[string]int, len(info.Params)),
			locals: make(map[string]int, info.NumLocals),
		}
		for slot, name := range info.Params {
			b.params[name] = slot
		}
		for i, decl := range info.Decl.Body.Decls {
			if _, dup := b.locals[decl.Name]; dup {
				return nil, fmt.Errorf("line %d: redefinition of variable %q", decl.Line, decl.Name)
			}
			b.locals[decl.Name] = len(info.Params) + i
		}
		for _, stmt := range info.Decl.Body.Stmts {
			if err := b.bindStmt(stmt); err != nil {
				return nil, err
			}
		}
	}

	// The entry point: main(): Int with no parameters.
	main, ok := binds.Funcs["main"]
	if !ok || main.Decl == nil {
		return nil, fmt.Errorf("missing function main(): Int")
	}
	if len(main.Params) != 0 {
		return nil, fmt.Errorf("line %d: main must take no parameters", main.Decl.Line)
	}
	return binds, nil
}

func (b *binder) bindStmt(stmt Stmt) error {
	switch s := stmt.(type) {
	case *IfStmt:
		if err := b.bindExpr(s.Cond); err != nil {
			return err
		}
		if err := b.bindStmt(s.Then); err != nil {
			return err
		}
		if s.Else != nil {
			return b.bindStmt(s.Else)
		}
		return nil
	case *WhileStmt:
		if err := b.bindExpr(s.Cond); err != nil {
			return err
		}
		return b.bindStmt(s.Body)
	case *BlockStmt:
		for _, inner := range s.Stmts {
			if err := b.bindStmt(inner); err != nil {
				return err
			}
		}
		return nil
	case *ReturnStmt:
		return b.bindExpr(s.Expr)
	case *ExprStmt:
		return b.bindExpr(s.Expr)
	case *PassStmt:
		return nil
	default:
		panic(fmt.Sprintf("binder: unhandled statement %T", stmt))
	}
}

func (b *binder) bindExpr(expr Expr) error {
	switch e := expr.(type) {
	case *NumberLit:
		return nil
	case *VarRef:
		// Lookup order: locals shadow parameters shadow globals.
		if slot, ok := b.locals[e.Name]; ok {
			e.Storage, e.Slot = StorageLocal, slot
			return nil
		}
		if slot, ok := b.params[e.Name]; ok {
			e.Storage, e.Slot = StorageLocal, slot
			return nil
		}
		if slot, ok := b.binds.GlobalSlots[e.Name]; ok {
			e.Storage, e.Slot = StorageGlobal, slot
			return nil
		}
		return fmt.Errorf("line %d: variable %q is not defined", e.Line, e.Name)
	case *UnaryExpr:
		return b.bindExpr(e.Right)
	case *BinaryExpr:
		if err := b.bindExpr(e.Left); err != nil {
			return err
		}
		return b.bindExpr(e.Right)
	case *CallExpr:
		return b.bindCall(e)
	default:
		panic(fmt.Sprintf("binder: unhandled expression %T", expr))
	}
}

// bindCall checks that the callee exists and that the named-argument set is
// exactly the callee's parameter-name set.
func (b *binder) bindCall(call *CallExpr) error {
	info, ok := b.binds.Funcs[call.Callee]
	if !ok {
		return fmt.Errorf("line %d: function %q is not defined", call.Line, call.Callee)
	}
	seen := make(map[string]bool, len(call.Args))
	for _, arg := range call.Args {
		if seen[arg.Name] {
			return fmt.Errorf("line %d: duplicate argument %q in call to %q", call.Line, arg.Name, call.Callee)
		}
		seen[arg.Name] = true
	}
	if len(call.Args) != len(info.Params) {
		return fmt.Errorf("line %d: function %q requires %d argument(s), but %d provided",
			call.Line, call.Callee, len(info.Params), len(call.Args))
	}
	declared := make(map[string]bool, len(info.Params))
	for _, name := range info.Params {
		declared[name] = true
	}
	for _, arg := range call.Args {
		if !declared[arg.Name] {
			return fmt.Errorf("line %d: function %q has no parameter %q", call.Line, call.Callee, arg.Name)
		}
		if err := b.bindExpr(arg.Value); err != nil {
			return err
		}
	}
	return nil
}
