package fhir

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// FHIR _filter expressions
//
// A small expression tree for the _filter search parameter: comparisons
// joined by and/or/not with parenthesized subexpressions. Trees are built
// programmatically by the cohort compiler and rendered to text; the parser
// reads the same text back.
// ---------------------------------------------------------------------------

// FilterExprType identifies the kind of filter expression node.
type FilterExprType int

const (
	FilterExprParam FilterExprType = iota // Leaf: paramName op value
	FilterExprAnd                         // And: left AND right
	FilterExprOr                          // Or: left OR right
	FilterExprNot                         // Not: negate child
)

// FilterExprNode is a tree node for filter expressions.
// Leaf nodes use Param/Operator/Value fields.
// And/Or nodes use Left/Right.
// Not nodes use Child.
type FilterExprNode struct {
	Type     FilterExprType
	Left     *FilterExprNode
	Right    *FilterExprNode
	Child    *FilterExprNode
	Param    string
	Operator FilterOperator
	Value    string
}

// FilterOperator is a _filter comparison operator.
type FilterOperator string

const (
	FilterOperatorEqual          FilterOperator = "eq"
	FilterOperatorNotEqual       FilterOperator = "ne"
	FilterOperatorGreaterThan    FilterOperator = "gt"
	FilterOperatorLessThan       FilterOperator = "lt"
	FilterOperatorGreaterOrEqual FilterOperator = "ge"
	FilterOperatorLessOrEqual    FilterOperator = "le"
	FilterOperatorStartsAfter    FilterOperator = "sa"
	FilterOperatorEndsBefore     FilterOperator = "eb"
	FilterOperatorPresent        FilterOperator = "pr"
)

var validFilterOperators = map[FilterOperator]bool{
	FilterOperatorEqual: true, FilterOperatorNotEqual: true,
	FilterOperatorGreaterThan: true, FilterOperatorLessThan: true,
	FilterOperatorGreaterOrEqual: true, FilterOperatorLessOrEqual: true,
	FilterOperatorStartsAfter: true, FilterOperatorEndsBefore: true,
	FilterOperatorPresent: true,
}

// AnyValue matches any value of a parameter; "not (p eq "*")" is true only
// when p is absent.
const AnyValue = "*"

// Compare builds a comparison leaf.
func Compare(param string, op FilterOperator, value string) *FilterExprNode {
	return &FilterExprNode{Type: FilterExprParam, Param: param, Operator: op, Value: value}
}

// And folds operands left to right. Nil operands are skipped; a single
// operand is returned as is.
func And(operands ...*FilterExprNode) *FilterExprNode {
	return fold(FilterExprAnd, operands)
}

// Or folds operands left to right, skipping nil operands.
func Or(operands ...*FilterExprNode) *FilterExprNode {
	return fold(FilterExprOr, operands)
}

// Not negates child.
func Not(child *FilterExprNode) *FilterExprNode {
	if child == nil {
		return nil
	}
	return &FilterExprNode{Type: FilterExprNot, Child: child}
}

func fold(t FilterExprType, operands []*FilterExprNode) *FilterExprNode {
	var out *FilterExprNode
	for _, op := range operands {
		if op == nil {
			continue
		}
		if out == nil {
			out = op
			continue
		}
		out = &FilterExprNode{Type: t, Left: out, Right: op}
	}
	return out
}

// String renders the expression. Operands of "or" and the child of "not"
// are parenthesized unless they are themselves a negation, so the grouping
// reads the same regardless of the reader's precedence rules.
func (n *FilterExprNode) String() string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case FilterExprParam:
		if n.Operator == FilterOperatorPresent {
			return n.Param + " pr"
		}
		return n.Param + " " + string(n.Operator) + " " + quoteFilterValue(n.Value)
	case FilterExprAnd:
		return andOperand(n.Left) + " and " + andOperand(n.Right)
	case FilterExprOr:
		return orOperand(n.Left) + " or " + orOperand(n.Right)
	case FilterExprNot:
		return "not (" + n.Child.String() + ")"
	}
	return ""
}

func andOperand(n *FilterExprNode) string {
	if n != nil && n.Type == FilterExprOr {
		return "(" + n.String() + ")"
	}
	return n.String()
}

func orOperand(n *FilterExprNode) string {
	if n != nil && (n.Type == FilterExprNot || n.Type == FilterExprOr) {
		return n.String()
	}
	return "(" + n.String() + ")"
}

// quoteFilterValue leaves dates, numbers and system|code tokens bare and
// quotes anything else.
func quoteFilterValue(v string) string {
	if v == "" {
		return `""`
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-.:+_|/", r):
		default:
			return fmt.Sprintf("%q", v)
		}
	}
	return v
}

// Params returns the distinct parameter names referenced by the expression
// in first-seen order.
func (n *FilterExprNode) Params() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(*FilterExprNode)
	walk = func(e *FilterExprNode) {
		if e == nil {
			return
		}
		if e.Type == FilterExprParam && !seen[e.Param] {
			seen[e.Param] = true
			out = append(out, e.Param)
		}
		walk(e.Left)
		walk(e.Right)
		walk(e.Child)
	}
	walk(n)
	return out
}

// ---------------------------------------------------------------------------
// Tokenizer
// ---------------------------------------------------------------------------

type filterTokenType int

const (
	tokenWord   filterTokenType = iota // An unquoted word
	tokenString                        // A double-quoted string (quotes stripped)
	tokenLParen
	tokenRParen
	tokenAnd
	tokenOr
	tokenNot
)

type filterToken struct {
	Type  filterTokenType
	Value string
}

func isFilterSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func tokenizeFilter(filter string) ([]filterToken, error) {
	var tokens []filterToken
	for i, n := 0, len(filter); i < n; {
		ch := filter[i]
		switch {
		case isFilterSpace(ch):
			i++
		case ch == '(':
			tokens = append(tokens, filterToken{Type: tokenLParen, Value: "("})
			i++
		case ch == ')':
			tokens = append(tokens, filterToken{Type: tokenRParen, Value: ")"})
			i++
		case ch == '"':
			j := strings.IndexByte(filter[i+1:], '"')
			if j < 0 {
				return nil, fmt.Errorf("unclosed quoted string starting at position %d", i)
			}
			tokens = append(tokens, filterToken{Type: tokenString, Value: filter[i+1 : i+1+j]})
			i += j + 2
		default:
			j := i
			for j < n && !isFilterSpace(filter[j]) && filter[j] != '(' && filter[j] != ')' && filter[j] != '"' {
				j++
			}
			word := filter[i:j]
			i = j
			switch strings.ToLower(word) {
			case "and":
				tokens = append(tokens, filterToken{Type: tokenAnd, Value: "and"})
			case "or":
				tokens = append(tokens, filterToken{Type: tokenOr, Value: "or"})
			case "not":
				tokens = append(tokens, filterToken{Type: tokenNot, Value: "not"})
			default:
				tokens = append(tokens, filterToken{Type: tokenWord, Value: word})
			}
		}
	}
	return tokens, nil
}

// ---------------------------------------------------------------------------
// Recursive descent parser
//
//   orExpr    -> andExpr ("or" andExpr)*
//   andExpr   -> unaryExpr ("and" unaryExpr)*
//   unaryExpr -> "not" unaryExpr | primary
//   primary   -> "(" orExpr ")" | paramExpr
//   paramExpr -> WORD OPERATOR (VALUE | epsilon for "pr")
// ---------------------------------------------------------------------------

type filterParser struct {
	tokens []filterToken
	pos    int
}

func (p *filterParser) peek() *filterToken {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *filterParser) advance() *filterToken {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

// ParseFilterExpression parses a _filter string into an expression tree.
func ParseFilterExpression(filter string) (*FilterExprNode, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, fmt.Errorf("empty filter expression")
	}
	tokens, err := tokenizeFilter(filter)
	if err != nil {
		return nil, err
	}

	p := &filterParser{tokens: tokens}
	expr, err := p.parseOrExpr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].Value, p.pos)
	}
	return expr, nil
}

func (p *filterParser) parseOrExpr() (*FilterExprNode, error) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t != nil && t.Type == tokenOr; t = p.peek() {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		left = &FilterExprNode{Type: FilterExprOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseAndExpr() (*FilterExprNode, error) {
	left, err := p.parseUnaryExpr()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t != nil && t.Type == tokenAnd; t = p.peek() {
		p.advance()
		right, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		left = &FilterExprNode{Type: FilterExprAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseUnaryExpr() (*FilterExprNode, error) {
	if t := p.peek(); t != nil && t.Type == tokenNot {
		p.advance()
		child, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		return &FilterExprNode{Type: FilterExprNot, Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *filterParser) parsePrimary() (*FilterExprNode, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression, expected parameter or '('")
	}
	if t.Type != tokenLParen {
		return p.parseParamExpr()
	}
	p.advance()
	expr, err := p.parseOrExpr()
	if err != nil {
		return nil, err
	}
	if t := p.advance(); t == nil || t.Type != tokenRParen {
		return nil, fmt.Errorf("expected ')' to close parenthesized expression")
	}
	return expr, nil
}

func (p *filterParser) parseParamExpr() (*FilterExprNode, error) {
	paramTok := p.advance()
	if paramTok == nil || (paramTok.Type != tokenWord && paramTok.Type != tokenString) {
		if paramTok == nil {
			return nil, fmt.Errorf("unexpected end of expression, expected parameter name")
		}
		return nil, fmt.Errorf("unexpected token %q, expected parameter name", paramTok.Value)
	}

	opTok := p.advance()
	if opTok == nil || opTok.Type != tokenWord {
		return nil, fmt.Errorf("expected operator after parameter %q", paramTok.Value)
	}
	op := FilterOperator(opTok.Value)
	if !validFilterOperators[op] {
		return nil, fmt.Errorf("unknown filter operator %q after parameter %q", op, paramTok.Value)
	}
	if op == FilterOperatorPresent {
		return Compare(paramTok.Value, op, ""), nil
	}

	valTok := p.advance()
	if valTok == nil || (valTok.Type != tokenWord && valTok.Type != tokenString) {
		return nil, fmt.Errorf("expected value after operator %q for parameter %q", op, paramTok.Value)
	}
	return Compare(paramTok.Value, op, valTok.Value), nil
}
