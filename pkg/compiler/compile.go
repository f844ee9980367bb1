package compiler

import (
	"fmt"

	"gotoy/pkg/bytecode"
)

// Compile runs the whole front end over one source file: lex, parse, bind,
// generate. The returned program is fully linked and ready to execute.
func Compile(src string) (*bytecode.Program, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, fmt.Errorf("lex error: %w", err)
	}
	ast, err := Parse(tokens, src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	binds, err := Bind(ast)
	if err != nil {
		return nil, fmt.Errorf("bind error: %w", err)
	}
	return Generate(ast, binds)
}
