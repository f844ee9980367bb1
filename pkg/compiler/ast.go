package compiler

import (
	"fmt"
	"math/big"
	"strings"
)

// opText maps an operator TokenType back to its source spelling, for AST
// dumps and diagnostics. Built from the lexer's operator table.
var opText = func() map[TokenType]string {
	m := make(map[TokenType]string, len(operators))
	for text, tt := range operators {
		m[tt] = text
	}
	return m
}()

// Storage says which table a bound variable lives in. Parameters and locals
// share one frame-slot space, so both bind as StorageLocal.
type Storage int

const (
	StorageUnresolved Storage = iota
	StorageGlobal
	StorageLocal
)

//  Expression nodes

// Expr is implemented by every node that produces a value.
type Expr interface {
	exprNode()
	String() string
}

// NumberLit is an integer literal of any base.
type NumberLit struct {
	Value *big.Int
}

func (*NumberLit) exprNode()        {}
func (n *NumberLit) String() string { return n.Value.String() }

// VarRef is a read or write of a named variable. Storage and Slot are
// filled in by the binder; the parser leaves them unresolved.
type VarRef struct {
	Name    string
	Line    int
	Storage Storage
	Slot    int
}

func (*VarRef) exprNode()        {}
func (v *VarRef) String() string { return v.Name }

// BinaryExpr represents Left Op Right. Assignment is a BinaryExpr with
// Op == ASSIGN whose Left the parser has checked to be a bare VarRef.
type BinaryExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, opText[b.Op], b.Right)
}

// UnaryExpr represents a prefix operator applied to a term.
type UnaryExpr struct {
	Op    TokenType
	Right Expr
}

func (*UnaryExpr) exprNode()        {}
func (u *UnaryExpr) String() string { return fmt.Sprintf("(%s%s)", opText[u.Op], u.Right) }

// NamedArg is one "name: expr" argument at a call site, in source order.
type NamedArg struct {
	Name  string
	Value Expr
}

func (a NamedArg) String() string { return fmt.Sprintf("%s: %s", a.Name, a.Value) }

// CallExpr represents callee(name: expr, ...). Argument order at the call
// site is not significant; the code generator re-orders evaluation to the
// callee's declared parameter order.
type CallExpr struct {
	Callee string
	Line   int
	Args   []NamedArg
}

func (*CallExpr) exprNode() {}
func (c *CallExpr) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Callee, strings.Join(parts, ", "))
}

//  Statement nodes

// Stmt is implemented by every node that does not produce a value.
type Stmt interface {
	stmtNode()
	String() string
}

// VarDecl represents "var name: Int". The language has no initializers.
type VarDecl struct {
	Name string
	Line int
}

func (*VarDecl) stmtNode()        {}
func (d *VarDecl) String() string { return fmt.Sprintf("var %s: Int", d.Name) }

// Param is one "name: Int" entry in a function's parameter list.
type Param struct {
	Name string
	Line int
}

// Body is a function body: local declarations strictly before statements.
type Body struct {
	Decls []*VarDecl
	Stmts []Stmt
}

// FuncDecl represents "func name(params): Int { body }".
type FuncDecl struct {
	Name   string
	Line   int
	Params []Param
	Body   *Body
}

func (*FuncDecl) stmtNode() {}
func (f *FuncDecl) String() string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name + ": Int"
	}
	return fmt.Sprintf("func %s(%s): Int", f.Name, strings.Join(names, ", "))
}

// IfStmt represents if (cond) body [else elseBody].
type IfStmt struct {
	Cond Expr
	Then Stmt
	Else Stmt // may be nil
}

func (*IfStmt) stmtNode() {}
func (i *IfStmt) String() string {
	if i.Else != nil {
		return fmt.Sprintf("if %s then %s else %s", i.Cond, i.Then, i.Else)
	}
	return fmt.Sprintf("if %s then %s", i.Cond, i.Then)
}

// WhileStmt represents while (cond) body.
type WhileStmt struct {
	Cond Expr
	Body Stmt
}

func (*WhileStmt) stmtNode()        {}
func (w *WhileStmt) String() string { return fmt.Sprintf("while %s do %s", w.Cond, w.Body) }

// BlockStmt represents { statement ... }.
type BlockStmt struct {
	Stmts []Stmt
}

func (*BlockStmt) stmtNode()        {}
func (b *BlockStmt) String() string { return fmt.Sprintf("block(len=%d)", len(b.Stmts)) }

// ReturnStmt represents "return expr".
type ReturnStmt struct {
	Expr Expr
}

func (*ReturnStmt) stmtNode()        {}
func (r *ReturnStmt) String() string { return fmt.Sprintf("return %s", r.Expr) }

// ExprStmt is an expression evaluated for its side effects (e.g. a call or
// an assignment); the value is discarded.
type ExprStmt struct {
	Expr Expr
}

func (*ExprStmt) stmtNode()        {}
func (e *ExprStmt) String() string { return e.Expr.String() }

// PassStmt is the empty statement. It emits no code.
type PassStmt struct{}

func (*PassStmt) stmtNode()        {}
func (*PassStmt) String() string { return "pass" }

// Program is a parsed source file: global declarations strictly before
// function declarations.
type Program struct {
	Globals []*VarDecl
	Funcs   []*FuncDecl
}
