// Command toy compiles and runs a toy-language source file on the bundled
// virtual machine.
//
// Usage:
//
//	toy [--dump-ast] [--dump-assembly] <file>
//
// With no flag the program is executed: the process exit code is main's
// return value (mod 256), diagnostics go to stderr, and the program's
// print/input builtins use stdout/stdin.
package main

import (
	"flag"
	"fmt"
	"os"

	"gotoy/pkg/compiler"
	"gotoy/pkg/vm"
)

func main() {
	dumpAST := flag.Bool("dump-ast", false, "print a structural view of the AST and exit")
	dumpAsm := flag.Bool("dump-assembly", false, "print a disassembly of the bytecode and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	source, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	src := string(source)

	tokens, err := compiler.Lex(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lex error:", err)
		os.Exit(1)
	}
	ast, err := compiler.Parse(tokens, src)
	if err != nil {
		fmt.Fprintln(os.Stderr, "parse error:", err)
		os.Exit(1)
	}
	binds, err := compiler.Bind(ast)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bind error:", err)
		os.Exit(1)
	}
	prog, err := compiler.Generate(ast, binds)
	if err != nil {
		fmt.Fprintln(os.Stderr, "codegen error:", err)
		os.Exit(1)
	}

	if *dumpAST {
		compiler.DumpAST(os.Stdout, ast)
	}
	if *dumpAsm {
		fmt.Print(prog.Disassemble())
	}
	if *dumpAST || *dumpAsm {
		os.Exit(0)
	}

	machine := vm.New(prog)
	result, err := machine.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime error:", err)
		os.Exit(1)
	}
	os.Exit(vm.ExitCode(result))
}
