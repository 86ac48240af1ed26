package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Condition is a compiled `when:` expression. It is parsed once when the
// workflow file is loaded and evaluated against the workflow context before
// the step runs.
//
// Supported operators: ==, !=, >, <, >=, <=, &&, ||, !
// Literals: numbers, double-quoted strings, true, false.
// Identifiers use dot notation: review.score reads wfctx["review"]["score"].
type Condition struct {
	src  string
	root exprNode
}

// CompileCondition parses expr.
func CompileCondition(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty condition")
	}
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}
	return &Condition{src: expr, root: root}, nil
}

// Eval reports whether the condition holds for vars.
func (c *Condition) Eval(vars map[string]any) (bool, error) {
	return toBool(c.root.eval(vars)), nil
}

func (c *Condition) String() string { return c.src }

// --- AST ---

type exprNode interface {
	eval(vars map[string]any) any
}

type literalNode struct{ value any }

func (n literalNode) eval(map[string]any) any { return n.value }

type varNode struct{ path string }

func (n varNode) eval(vars map[string]any) any { return resolveVar(n.path, vars) }

type notNode struct{ operand exprNode }

func (n notNode) eval(vars map[string]any) any { return !toBool(n.operand.eval(vars)) }

type logicalNode struct {
	op          string // && or ||
	left, right exprNode
}

func (n logicalNode) eval(vars map[string]any) any {
	l := toBool(n.left.eval(vars))
	if n.op == "||" {
		return l || toBool(n.right.eval(vars))
	}
	return l && toBool(n.right.eval(vars))
}

type compareNode struct {
	op          string
	left, right exprNode
}

func (n compareNode) eval(vars map[string]any) any {
	return evalComparison(n.left.eval(vars), n.op, n.right.eval(vars))
}

// --- 词法分析 ---

type tokenKind int

const (
	tkNumber tokenKind = iota
	tkString
	tkIdent
	tkOp
	tkLParen
	tkRParen
)

type token struct {
	kind  tokenKind
	value string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)

	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			tokens = append(tokens, token{tkLParen, "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")"})
			i++
		case ch == '"':
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
		case i+1 < len(runes) && isTwoCharOp(string(runes[i:i+2])):
			tokens = append(tokens, token{tkOp, string(runes[i : i+2])})
			i += 2
		case ch == '>' || ch == '<' || ch == '!':
			tokens = append(tokens, token{tkOp, string(ch)})
			i++
		case isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && negativeAllowed(tokens)):
			start := i
			i++
			for i < len(runes) && (isDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tkNumber, string(runes[start:i])})
		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tkIdent, string(runes[start:i])})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}
	return tokens, nil
}

func isTwoCharOp(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func readString(runes []rune, start int) (string, int, error) {
	var b strings.Builder
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			}
		case '"':
			return b.String(), i + 1, nil
		default:
			b.WriteRune(runes[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

// negativeAllowed: '-' starts a negative number only at the beginning or
// after an operator or '('.
func negativeAllowed(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}

// --- 递归下降语法分析 ---

type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if p.tokens[p.pos].value == op {
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "||", left: left, right: right}
	}
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = logicalNode{op: "&&", left: left, right: right}
	}
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	p.pos++
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compareNode{op: op, left: left, right: right}, nil
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if _, ok := p.peekOp("!"); ok {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.tokens[p.pos]
	p.pos++

	switch t.kind {
	case tkNumber:
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.value)
		}
		return literalNode{f}, nil
	case tkString:
		return literalNode{t.value}, nil
	case tkIdent:
		switch t.value {
		case "true":
			return literalNode{true}, nil
		case "false":
			return literalNode{false}, nil
		}
		return varNode{path: t.value}, nil
	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// --- 求值辅助 ---

// resolveVar walks a dot-separated path through nested maps.
func resolveVar(path string, vars map[string]any) any {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[part]; !ok {
			return nil
		}
	}
	return current
}

// evalComparison compares numerically when both sides are numbers and as
// strings otherwise. nil sorts before every other value.
func evalComparison(left any, op string, right any) bool {
	if left == nil || right == nil {
		cmp := 0
		switch {
		case left == nil && right != nil:
			cmp = -1
		case left != nil && right == nil:
			cmp = 1
		}
		return compareResult(cmp, op)
	}

	if lf, ok := toFloat64(left); ok {
		if rf, ok := toFloat64(right); ok {
			switch {
			case lf < rf:
				return compareResult(-1, op)
			case lf > rf:
				return compareResult(1, op)
			}
			return compareResult(0, op)
		}
	}

	return compareResult(strings.Compare(fmt.Sprint(left), fmt.Sprint(right)), op)
}

func compareResult(cmp int, op string) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	}
	return false
}

func toBool(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return true
	}
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}
