package interpreter

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// Env 表达式求值时读取变量的环境
type Env func(name string) (int64, bool)

// Expr 整数表达式，加载时解析一次，之后可以反复求值
type Expr interface {
	Eval(env Env) (int64, error)
}

type literal struct {
	value int64
}

func (l *literal) Eval(Env) (int64, error) {
	return l.value, nil
}

type varRef struct {
	name string
}

func (v *varRef) Eval(env Env) (int64, error) {
	value, ok := env(v.name)
	if !ok {
		return 0, fmt.Errorf("undefined variable %q", v.name)
	}
	return value, nil
}

type negate struct {
	operand Expr
}

func (n *negate) Eval(env Env) (int64, error) {
	value, err := n.operand.Eval(env)
	if err != nil {
		return 0, err
	}
	return -value, nil
}

type binary struct {
	op    string
	left  Expr
	right Expr
}

func (b *binary) Eval(env Env) (int64, error) {
	left, err := b.left.Eval(env)
	if err != nil {
		return 0, err
	}
	right, err := b.right.Eval(env)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, errors.New("division by zero")
		}
		return left / right, nil
	case "%":
		if right == 0 {
			return 0, errors.New("division by zero")
		}
		return left % right, nil
	case "<":
		return boolToInt(left < right), nil
	case "<=":
		return boolToInt(left <= right), nil
	case ">":
		return boolToInt(left > right), nil
	case ">=":
		return boolToInt(left >= right), nil
	case "==":
		return boolToInt(left == right), nil
	case "!=":
		return boolToInt(left != right), nil
	}
	return 0, fmt.Errorf("unknown operator %q", b.op)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ParseExpr 解析一个整数表达式
// 支持四则运算、取余、括号和不可连写的比较，比较结果是1或0
func ParseExpr(source string) (Expr, error) {
	tokens, err := lexExpr(source)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty expression")
	}
	p := &exprParser{tokens: tokens}
	expr, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected %q", p.tokens[p.pos])
	}
	return expr, nil
}

func lexExpr(source string) ([]string, error) {
	var tokens []string
	runes := []rune(source)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			name := string(runes[i:j])
			if isKeyword(name) {
				return nil, fmt.Errorf("keyword %q cannot be used in an expression", name)
			}
			tokens = append(tokens, name)
			i = j
		case r == '+' || r == '-' || r == '*' || r == '/' || r == '%' || r == '(' || r == ')':
			tokens = append(tokens, string(r))
			i++
		case r == '<' || r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, string(runes[i:i+2]))
				i += 2
			} else {
				tokens = append(tokens, string(r))
				i++
			}
		case r == '=' || r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, string(runes[i:i+2]))
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected %q", string(r))
			}
		default:
			return nil, fmt.Errorf("unexpected %q", string(r))
		}
	}
	return tokens, nil
}

type exprParser struct {
	tokens []string
	pos    int
}

func (p *exprParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *exprParser) next() string {
	token := p.peek()
	p.pos++
	return token
}

func (p *exprParser) parseCompare() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	switch p.peek() {
	case "<", "<=", ">", ">=", "==", "!=":
		op := p.next()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &binary{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *exprParser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek() == "+" || p.peek() == "-" {
		op := p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "*" || p.peek() == "/" || p.peek() == "%" {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (Expr, error) {
	if p.peek() == "-" {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negate{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (Expr, error) {
	token := p.next()
	if token == "" {
		return nil, errors.New("unexpected end of expression")
	}
	if token == "(" {
		expr, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, errors.New("missing closing parenthesis")
		}
		return expr, nil
	}
	first, _ := utf8.DecodeRuneInString(token)
	if unicode.IsDigit(first) {
		value, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", token)
		}
		return &literal{value: value}, nil
	}
	if first == '_' || unicode.IsLetter(first) {
		return &varRef{name: token}, nil
	}
	return nil, fmt.Errorf("unexpected %q", token)
}
