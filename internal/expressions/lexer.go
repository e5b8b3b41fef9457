package expressions

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rendis/assertflow/pkg/schema"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokMinus
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of expression",
	tokIdent:  "identifier",
	tokNumber: "number",
	tokString: "string",
	tokTrue:   "true",
	tokFalse:  "false",
	tokAnd:    "and",
	tokOr:     "or",
	tokNot:    "not",
	tokLParen: "(",
	tokRParen: ")",
	tokMinus:  "-",
	tokEq:     "=",
	tokNe:     "!=",
	tokLt:     "<",
	tokLe:     "<=",
	tokGt:     ">",
	tokGe:     ">=",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

var keywords = map[string]tokenKind{
	"true":  tokTrue,
	"false": tokFalse,
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
}

type token struct {
	kind tokenKind
	pos  int    // byte offset in the source
	text string // identifier name or decoded string literal
	num  float64
}

// lex splits source into tokens. The returned slice always ends with tokEOF.
func lex(source string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(source) {
		r, size := utf8.DecodeRuneInString(source[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case isIdentStart(r):
			start := i
			for i < len(source) {
				r, size = utf8.DecodeRuneInString(source[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			word := source[start:i]
			if strings.HasSuffix(word, ".") || strings.Contains(word, "..") {
				return nil, schema.ParseError(start, "malformed identifier %q", word)
			}
			if kw, ok := keywords[word]; ok {
				toks = append(toks, token{kind: kw, pos: start, text: word})
			} else {
				toks = append(toks, token{kind: tokIdent, pos: start, text: word})
			}
		case r >= '0' && r <= '9':
			tok, next, err := lexNumber(source, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
		case r == '"' || r == '\'':
			tok, next, err := lexString(source, i, byte(r))
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i = next
		default:
			tok, width, err := lexOperator(source, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
			i += width
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(source)}), nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lexNumber(source string, start int) (token, int, error) {
	i := start
	digits := func() {
		for i < len(source) && source[i] >= '0' && source[i] <= '9' {
			i++
		}
	}
	digits()
	if i < len(source) && source[i] == '.' {
		i++
		if i >= len(source) || source[i] < '0' || source[i] > '9' {
			return token{}, 0, schema.ParseError(i, "expected digit after decimal point")
		}
		digits()
	}
	if i < len(source) && (source[i] == 'e' || source[i] == 'E') {
		i++
		if i < len(source) && (source[i] == '+' || source[i] == '-') {
			i++
		}
		if i >= len(source) || source[i] < '0' || source[i] > '9' {
			return token{}, 0, schema.ParseError(i, "expected digit in exponent")
		}
		digits()
	}
	if i < len(source) {
		if r, _ := utf8.DecodeRuneInString(source[i:]); isIdentStart(r) {
			return token{}, 0, schema.ParseError(i, "unexpected character %q after number", r)
		}
	}
	f, err := strconv.ParseFloat(source[start:i], 64)
	if err != nil {
		return token{}, 0, schema.ParseError(start, "invalid number %q", source[start:i])
	}
	return token{kind: tokNumber, pos: start, num: f}, i, nil
}

func lexString(source string, start int, quote byte) (token, int, error) {
	var b strings.Builder
	i := start + 1
	for i < len(source) {
		c := source[i]
		switch {
		case c == quote:
			return token{kind: tokString, pos: start, text: b.String()}, i + 1, nil
		case c == '\\':
			if i+1 >= len(source) {
				return token{}, 0, schema.ParseError(i, "unterminated escape sequence")
			}
			switch esc := source[i+1]; esc {
			case '\\', '"', '\'':
				b.WriteByte(esc)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				return token{}, 0, schema.ParseError(i, "unknown escape sequence \\%c", esc)
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return token{}, 0, schema.ParseError(start, "unterminated string literal")
}

func lexOperator(source string, i int) (token, int, error) {
	two := ""
	if i+1 < len(source) {
		two = source[i : i+2]
	}
	switch two {
	case "!=":
		return token{kind: tokNe, pos: i}, 2, nil
	case "<=":
		return token{kind: tokLe, pos: i}, 2, nil
	case ">=":
		return token{kind: tokGe, pos: i}, 2, nil
	case "==":
		return token{}, 0, schema.ParseError(i, "use '=' for equality")
	}
	switch source[i] {
	case '=':
		return token{kind: tokEq, pos: i}, 1, nil
	case '<':
		return token{kind: tokLt, pos: i}, 1, nil
	case '>':
		return token{kind: tokGt, pos: i}, 1, nil
	case '(':
		return token{kind: tokLParen, pos: i}, 1, nil
	case ')':
		return token{kind: tokRParen, pos: i}, 1, nil
	case '-':
		return token{kind: tokMinus, pos: i}, 1, nil
	}
	r, _ := utf8.DecodeRuneInString(source[i:])
	return token{}, 0, schema.ParseError(i, "unexpected character %q", r)
}
