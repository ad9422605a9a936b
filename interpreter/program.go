package interpreter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// 脚本语言是面向行的，一行一条语句，一条语句是一个执行单元：
//
//	# 注释
//	let NAME = EXPR
//	print ARG...        参数是"字符串"或不含空格的表达式
//	input NAME          从控制台读一行，解析失败时为0
//	func NAME PARAM...  函数声明，和end一样不可执行
//	call NAME ARG... [-> VAR]
//	ret [EXPR]
//	if EXPR goto LINE
//	goto LINE           只能跳转到同一区域内的可执行行
//	halt
//
// 变量读取先查当前栈帧再查主程序帧，写入只写当前栈帧
type stmtKind int

const (
	stmtLet stmtKind = iota
	stmtPrint
	stmtInput
	stmtCall
	stmtRet
	stmtIf
	stmtGoto
	stmtHalt
)

type statement struct {
	kind stmtKind
	line int
	// target let和input的赋值目标，call的结果变量
	target string
	// expr let、if和ret的表达式
	expr Expr
	// printArgs print的参数列表
	printArgs []printArg
	// callee args call的函数名和实参
	callee string
	args   []Expr
	// gotoLine if和goto的跳转目标
	gotoLine int
	// next 同一区域内下一条可执行语句的行号，0表示区域结束
	next int
}

// printArg 字符串字面量或表达式，二选一
type printArg struct {
	text string
	expr Expr
}

type function struct {
	name   string
	params []string
	// first 函数体第一条可执行语句的行号，0表示空函数体
	first int
}

// Program 加载并校验过的脚本程序
// 加载之后只读，同一份Program可以反复构造运行时
type Program struct {
	path string
	name string
	// stmts 按行号索引，不可执行的行为nil
	stmts []*statement
	funcs map[string]*function
	// first 主程序第一条可执行语句的行号
	first int
}

// Load 从文件加载程序
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSource(path, string(data))
}

// LoadSource 从源码加载程序，path只用于展示和断点匹配
func LoadSource(path string, source string) (*Program, error) {
	lines := strings.Split(source, "\n")
	p := &Program{
		path:  path,
		name:  filepath.Base(path),
		stmts: make([]*statement, len(lines)+1),
		funcs: make(map[string]*function),
	}
	// region 每个可执行行所属的函数名，主程序为空串
	region := make([]string, len(lines)+1)
	var current *function
	for i, raw := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := splitQuoted(trimmed)
		switch fields[0] {
		case "func":
			if current != nil {
				return nil, fmt.Errorf("line %d: nested function declaration", lineNo)
			}
			fn, err := parseFuncDecl(lineNo, fields)
			if err != nil {
				return nil, err
			}
			if _, ok := p.funcs[fn.name]; ok {
				return nil, fmt.Errorf("line %d: duplicate function %q", lineNo, fn.name)
			}
			p.funcs[fn.name] = fn
			current = fn
		case "end":
			if current == nil {
				return nil, fmt.Errorf("line %d: end without func", lineNo)
			}
			current = nil
		default:
			st, err := parseStatement(lineNo, trimmed, fields)
			if err != nil {
				return nil, err
			}
			p.stmts[lineNo] = st
			if current != nil {
				region[lineNo] = current.name
			}
		}
	}
	if current != nil {
		return nil, fmt.Errorf("function %q is missing end", current.name)
	}
	// 主程序和每个函数体分别串起执行顺序
	last := make(map[string]int)
	for line := 1; line < len(p.stmts); line++ {
		if p.stmts[line] == nil {
			continue
		}
		r := region[line]
		if prev, ok := last[r]; ok {
			p.stmts[prev].next = line
		} else if r == "" {
			p.first = line
		} else {
			p.funcs[r].first = line
		}
		last[r] = line
	}
	// 跳转目标必须是同一区域内的可执行行
	for line := 1; line < len(p.stmts); line++ {
		st := p.stmts[line]
		if st == nil || (st.kind != stmtIf && st.kind != stmtGoto) {
			continue
		}
		target := st.gotoLine
		if target <= 0 || target >= len(p.stmts) || p.stmts[target] == nil {
			return nil, fmt.Errorf("line %d: goto target %d is not an executable line", line, target)
		}
		if region[target] != region[line] {
			return nil, fmt.Errorf("line %d: goto target %d is in a different region", line, target)
		}
	}
	return p, nil
}

// Name 程序名称，源文件的basename
func (p *Program) Name() string {
	return p.name
}

// Path 源文件路径
func (p *Program) Path() string {
	return p.path
}

// IsExecutableLine 某一行是否是可执行语句，断点校验使用
func (p *Program) IsExecutableLine(file string, line int) bool {
	if !p.matchFile(file) {
		return false
	}
	return line > 0 && line < len(p.stmts) && p.stmts[line] != nil
}

// NewRuntime 构造一个全新的运行时
// 相同的程序在相同的输入下产生相同的状态序列
func (p *Program) NewRuntime(stdin io.Reader, stdout io.Writer) *Runtime {
	return newRuntime(p, stdin, stdout)
}

func (p *Program) matchFile(file string) bool {
	if file == "" {
		return false
	}
	return file == p.path || filepath.Base(file) == p.name
}

func parseFuncDecl(lineNo int, fields []string) (*function, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("line %d: func needs a name", lineNo)
	}
	name := fields[1]
	if !validIdent(name) {
		return nil, fmt.Errorf("line %d: invalid function name %q", lineNo, name)
	}
	fn := &function{name: name}
	seen := make(map[string]bool)
	for _, param := range fields[2:] {
		if !validIdent(param) {
			return nil, fmt.Errorf("line %d: invalid parameter %q", lineNo, param)
		}
		if seen[param] {
			return nil, fmt.Errorf("line %d: duplicate parameter %q", lineNo, param)
		}
		seen[param] = true
		fn.params = append(fn.params, param)
	}
	return fn, nil
}

func parseStatement(lineNo int, line string, fields []string) (*statement, error) {
	st := &statement{line: lineNo}
	switch fields[0] {
	case "let":
		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, fmt.Errorf("line %d: let needs '='", lineNo)
		}
		left := splitQuoted(line[:eq])
		if len(left) != 2 || !validIdent(left[1]) {
			return nil, fmt.Errorf("line %d: invalid let target", lineNo)
		}
		expr, err := ParseExpr(line[eq+1:])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}
		st.kind = stmtLet
		st.target = left[1]
		st.expr = expr
	case "print":
		st.kind = stmtPrint
		for _, token := range fields[1:] {
			if strings.HasPrefix(token, `"`) {
				if len(token) < 2 || !strings.HasSuffix(token, `"`) {
					return nil, fmt.Errorf("line %d: unterminated string", lineNo)
				}
				st.printArgs = append(st.printArgs, printArg{text: token[1 : len(token)-1]})
				continue
			}
			expr, err := ParseExpr(token)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo, err)
			}
			st.printArgs = append(st.printArgs, printArg{expr: expr})
		}
	case "input":
		if len(fields) != 2 || !validIdent(fields[1]) {
			return nil, fmt.Errorf("line %d: invalid input target", lineNo)
		}
		st.kind = stmtInput
		st.target = fields[1]
	case "call":
		if len(fields) < 2 || !validIdent(fields[1]) {
			return nil, fmt.Errorf("line %d: invalid call", lineNo)
		}
		st.kind = stmtCall
		st.callee = fields[1]
		rest := fields[2:]
		for i, token := range rest {
			if token == "->" {
				if len(rest) != i+2 || !validIdent(rest[i+1]) {
					return nil, fmt.Errorf("line %d: invalid call result target", lineNo)
				}
				st.target = rest[i+1]
				rest = rest[:i]
				break
			}
		}
		for _, token := range rest {
			expr, err := ParseExpr(token)
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo, err)
			}
			st.args = append(st.args, expr)
		}
	case "ret":
		st.kind = stmtRet
		if len(fields) > 1 {
			expr, err := ParseExpr(line[len("ret"):])
			if err != nil {
				return nil, fmt.Errorf("line %d: %v", lineNo, err)
			}
			st.expr = expr
		}
	case "if":
		gi := strings.LastIndex(line, " goto ")
		if !strings.HasPrefix(line, "if ") || gi < 0 {
			return nil, fmt.Errorf("line %d: if needs 'goto'", lineNo)
		}
		expr, err := ParseExpr(line[len("if "):gi])
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", lineNo, err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(line[gi+len(" goto "):]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid goto target", lineNo)
		}
		st.kind = stmtIf
		st.expr = expr
		st.gotoLine = target
	case "goto":
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: invalid goto", lineNo)
		}
		target, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid goto target", lineNo)
		}
		st.kind = stmtGoto
		st.gotoLine = target
	case "halt":
		st.kind = stmtHalt
	default:
		return nil, fmt.Errorf("line %d: unknown statement %q", lineNo, fields[0])
	}
	return st, nil
}

// splitQuoted 把一行按空白拆成token，双引号包住的部分连同引号算一个token
func splitQuoted(line string) []string {
	var tokens []string
	var current strings.Builder
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			current.WriteRune(r)
			if inQuote {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			inQuote = !inQuote
		case !inQuote && unicode.IsSpace(r):
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func validIdent(s string) bool {
	if s == "" || isKeyword(s) {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

var keywords = map[string]bool{
	"let": true, "print": true, "input": true, "func": true, "end": true,
	"call": true, "ret": true, "if": true, "goto": true, "halt": true,
}

func isKeyword(s string) bool {
	return keywords[s]
}
