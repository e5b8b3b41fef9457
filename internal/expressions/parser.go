package expressions

import "github.com/rendis/assertflow/pkg/schema"

// node is an element of a parsed native condition.
type node interface {
	position() int
}

type literalNode struct {
	at    int
	value any // string, float64 or bool
}

type identNode struct {
	at   int
	name string
}

type notNode struct {
	at      int
	operand node
}

type negNode struct {
	at      int
	operand node
}

// logicalNode is an `and` / `or` connective.
type logicalNode struct {
	at          int
	op          tokenKind
	left, right node
}

type compareNode struct {
	at          int
	op          tokenKind
	left, right node
}

func (n *literalNode) position() int { return n.at }
func (n *identNode) position() int   { return n.at }
func (n *notNode) position() int     { return n.at }
func (n *negNode) position() int     { return n.at }
func (n *logicalNode) position() int { return n.at }
func (n *compareNode) position() int { return n.at }

// parser is a recursive-descent parser over the token stream:
//
//	expr       := or
//	or         := and ( "or" and )*
//	and        := not ( "and" not )*
//	not        := "not" not | comparison
//	comparison := unary ( ( "=" | "!=" | "<" | "<=" | ">" | ">=" ) unary )?
//	unary      := "-" unary | primary
//	primary    := "(" expr ")" | IDENT | NUMBER | STRING | "true" | "false"
type parser struct {
	toks []token
	pos  int
}

func parse(source string) (node, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, schema.ParseError(0, "empty expression")
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, schema.ParseError(tok.pos, "unexpected %s", describe(tok))
	}
	return root, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{at: op.pos, op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		op := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{at: op.pos, op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		op := p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{at: op.pos, operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if !isComparison(p.peek().kind) {
		return left, nil
	}
	op := p.next()
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); isComparison(tok.kind) {
		return nil, schema.ParseError(tok.pos, "comparisons cannot be chained; use 'and'")
	}
	return &compareNode{at: op.pos, op: op.kind, left: left, right: right}, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokMinus {
		op := p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*literalNode); ok {
			if f, isNum := lit.value.(float64); isNum {
				return &literalNode{at: op.pos, value: -f}, nil
			}
		}
		return &negNode{at: op.pos, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, schema.ParseError(closing.pos, "expected ')' but found %s", describe(closing))
		}
		return inner, nil
	case tokIdent:
		return &identNode{at: tok.pos, name: tok.text}, nil
	case tokNumber:
		return &literalNode{at: tok.pos, value: tok.num}, nil
	case tokString:
		return &literalNode{at: tok.pos, value: tok.text}, nil
	case tokTrue:
		return &literalNode{at: tok.pos, value: true}, nil
	case tokFalse:
		return &literalNode{at: tok.pos, value: false}, nil
	default:
		return nil, schema.ParseError(tok.pos, "unexpected %s", describe(tok))
	}
}

func isComparison(k tokenKind) bool {
	switch k {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		return true
	default:
		return false
	}
}

func describe(tok token) string {
	switch tok.kind {
	case tokIdent:
		return "identifier " + tok.text
	case tokEOF:
		return tok.kind.String()
	default:
		return "'" + tok.kind.String() + "'"
	}
}

// references returns the variable names used by the tree, in order of first
// appearance.
func references(root node) []string {
	var names []string
	seen := make(map[string]struct{})
	var walk func(n node)
	walk = func(n node) {
		switch v := n.(type) {
		case *identNode:
			if _, ok := seen[v.name]; !ok {
				seen[v.name] = struct{}{}
				names = append(names, v.name)
			}
		case *notNode:
			walk(v.operand)
		case *negNode:
			walk(v.operand)
		case *logicalNode:
			walk(v.left)
			walk(v.right)
		case *compareNode:
			walk(v.left)
			walk(v.right)
		}
	}
	walk(root)
	return names
}
