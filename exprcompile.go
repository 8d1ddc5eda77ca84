package branchscript

import (
	"fmt"
	"strconv"
	"strings"
)

// exprLexKind enumerates the flat token stream produced before the
// shunting-yard pass runs over it.
type exprLexKind uint8

const (
	lexNumber exprLexKind = iota
	lexString
	lexIdent
	lexOp
	lexLParen
	lexRParen
	lexLBracket
	lexRBracket
	lexComma
)

type exprLexTok struct {
	kind exprLexKind
	text string
}

// tokenizeExpr splits an expression source string into a flat token
// stream. It is deliberately small: the script's expression grammar has
// no user-definable operators, so a hand-rolled scanner beats pulling in
// a general lexer generator for this one job.
func tokenizeExpr(s string) ([]exprLexTok, error) {
	var toks []exprLexTok
	i, n := 0, len(s)
	for i < n {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, exprLexTok{lexLParen, "("})
			i++
		case c == ')':
			toks = append(toks, exprLexTok{lexRParen, ")"})
			i++
		case c == '[':
			toks = append(toks, exprLexTok{lexLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, exprLexTok{lexRBracket, "]"})
			i++
		case c == ',':
			toks = append(toks, exprLexTok{lexComma, ","})
			i++
		case c == '"':
			j := i + 1
			var sb strings.Builder
			closed := false
			for j < n {
				if s[j] == '\\' && j+1 < n {
					switch s[j+1] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					case '"':
						sb.WriteByte('"')
					case '\\':
						sb.WriteByte('\\')
					default:
						sb.WriteByte(s[j+1])
					}
					j += 2
					continue
				}
				if s[j] == '"' {
					closed = true
					j++
					break
				}
				sb.WriteByte(s[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, exprLexTok{lexString, sb.String()})
			i = j
		case c == '=' && i+1 < n && s[i+1] == '=':
			toks = append(toks, exprLexTok{lexOp, "=="})
			i += 2
		case c == '!' && i+1 < n && s[i+1] == '=':
			toks = append(toks, exprLexTok{lexOp, "!="})
			i += 2
		case c == '<' && i+1 < n && s[i+1] == '=':
			toks = append(toks, exprLexTok{lexOp, "<="})
			i += 2
		case c == '>' && i+1 < n && s[i+1] == '=':
			toks = append(toks, exprLexTok{lexOp, ">="})
			i += 2
		case c == '<' || c == '>' || c == '+' || c == '-' || c == '*' || c == '/':
			toks = append(toks, exprLexTok{lexOp, string(c)})
			i++
		case isDigit(c):
			j := i
			isFloat := false
			for j < n && (isDigit(s[j]) || s[j] == '.') {
				if s[j] == '.' {
					isFloat = true
				}
				j++
			}
			kind := lexNumber
			text := s[i:j]
			if isFloat {
				text += "f"
			}
			toks = append(toks, exprLexTok{kind, text})
			i = j
		case isIdentStart(c):
			j := i
			for j < n && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, exprLexTok{lexIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// exprCompiler runs a shunting-yard algorithm over a tokenized
// expression, interning any string literals / identifiers it needs into
// the owning Story's pool.
type exprCompiler struct {
	pool *stringPool
	toks []exprLexTok
	pos  int
}

// precedence table. Higher number binds tighter; unary ops are handled
// separately since they don't participate in the binary-operator
// precedence climb the same way.
var binOpPrecedence = map[string]int{
	"or":  1,
	"and": 2,
	"==":  3, "!=": 3, "<": 3, "<=": 3, ">": 3, ">=": 3,
	"+": 4, "-": 4,
	"*": 5, "/": 5, "mod": 5,
	"contains": 6, "in": 6,
}

var binOpCode = map[string]ExprOp{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "mod": OpMod,
	"==": OpEq, "!=": OpNe, "<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe,
	"and": OpAnd, "or": OpOr, "contains": OpListContains, "in": OpListContains,
}

// compileExpression parses a full expression from source text and
// returns its RPN token stream. Every non-keyword, non-function bare
// identifier becomes a push_variable token, since the language has no
// other category of name at expression scope.
func compileExpression(pool *stringPool, src string) (Expression, error) {
	toks, err := tokenizeExpr(src)
	if err != nil {
		return nil, err
	}
	c := &exprCompiler{pool: pool, toks: toks}
	expr, err := c.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if c.pos != len(c.toks) {
		return nil, fmt.Errorf("unexpected trailing token %q", c.toks[c.pos].text)
	}
	return expr, nil
}

func (c *exprCompiler) peek() (exprLexTok, bool) {
	if c.pos >= len(c.toks) {
		return exprLexTok{}, false
	}
	return c.toks[c.pos], true
}

func (c *exprCompiler) next() (exprLexTok, bool) {
	t, ok := c.peek()
	if ok {
		c.pos++
	}
	return t, ok
}

// parseExpr implements precedence climbing, producing tokens in
// postfix (RPN) order directly rather than building an AST first.
func (c *exprCompiler) parseExpr(minPrec int) (Expression, error) {
	lhs, err := c.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := c.peek()
		if !ok {
			break
		}
		opName := t.text
		if t.kind != lexOp && !(t.kind == lexIdent && isBinKeyword(t.text)) {
			break
		}
		prec, known := binOpPrecedence[opName]
		if !known || prec < minPrec {
			break
		}
		c.next()
		rhs, err := c.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		// `A in B` means "list B contains value A"; OpListContains
		// expects the list pushed before the value (see vm_eval.go), so
		// for `in` specifically the operand order is swapped relative
		// to the surface syntax. `A contains B` already has list-then-
		// value order and needs no swap.
		if opName == "in" {
			lhs, rhs = rhs, lhs
		}
		lhs = append(lhs, rhs...)
		lhs = append(lhs, ExprToken{Op: binOpCode[opName]})
	}
	return lhs, nil
}

func isBinKeyword(s string) bool {
	switch s {
	case "and", "or", "mod", "contains", "in":
		return true
	default:
		return false
	}
}

func (c *exprCompiler) parseUnary() (Expression, error) {
	if t, ok := c.peek(); ok {
		if t.kind == lexOp && t.text == "-" {
			c.next()
			operand, err := c.parseUnary()
			if err != nil {
				return nil, err
			}
			return append(operand, ExprToken{Op: OpNeg}), nil
		}
		if t.kind == lexIdent && t.text == "not" {
			c.next()
			operand, err := c.parseUnary()
			if err != nil {
				return nil, err
			}
			return append(operand, ExprToken{Op: OpNot}), nil
		}
	}
	return c.parsePrimary()
}

func (c *exprCompiler) parsePrimary() (Expression, error) {
	t, ok := c.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case lexNumber:
		if strings.HasSuffix(t.text, "f") {
			f, err := strconv.ParseFloat(strings.TrimSuffix(t.text, "f"), 32)
			if err != nil {
				return nil, err
			}
			return Expression{{Op: OpPushLiteral, Literal: floatLiteral(float32(f))}}, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 32)
		if err != nil {
			return nil, err
		}
		return Expression{{Op: OpPushLiteral, Literal: intLiteral(int32(n))}}, nil
	case lexString:
		id := c.pool.intern(t.text)
		return Expression{{Op: OpPushLiteral, Literal: stringLiteral(id)}}, nil
	case lexLParen:
		e, err := c.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if rp, ok := c.next(); !ok || rp.kind != lexRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		return e, nil
	case lexLBracket:
		var ids []int32
		for {
			if nt, ok := c.peek(); ok && nt.kind == lexRBracket {
				c.next()
				break
			}
			item, ok := c.next()
			if !ok || item.kind != lexString {
				return nil, fmt.Errorf("list literals may only contain string literals")
			}
			ids = append(ids, c.pool.intern(item.text))
			if nt, ok := c.peek(); ok && nt.kind == lexComma {
				c.next()
				continue
			}
		}
		return Expression{{Op: OpPushLiteral, Literal: listLiteral(ids)}}, nil
	case lexIdent:
		switch t.text {
		case "true":
			return Expression{{Op: OpPushLiteral, Literal: boolLiteral(true)}}, nil
		case "false":
			return Expression{{Op: OpPushLiteral, Literal: boolLiteral(false)}}, nil
		case "visit_count", "visited":
			name, err := c.parseQuotedArg()
			if err != nil {
				return nil, err
			}
			op := OpVisitCount
			if t.text == "visited" {
				op = OpVisited
			}
			return Expression{{Op: op, VarNameID: c.pool.intern(name)}}, nil
		case "len":
			name, err := c.parseIdentArg()
			if err != nil {
				return nil, err
			}
			return Expression{{Op: OpLen, VarNameID: c.pool.intern(name)}}, nil
		default:
			return Expression{{Op: OpPushVariable, VarNameID: c.pool.intern(t.text)}}, nil
		}
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// parseQuotedArg parses "(" STRING ")" for visit_count/visited.
func (c *exprCompiler) parseQuotedArg() (string, error) {
	if lp, ok := c.next(); !ok || lp.kind != lexLParen {
		return "", fmt.Errorf("expected '(' after function name")
	}
	arg, ok := c.next()
	if !ok || (arg.kind != lexString && arg.kind != lexIdent) {
		return "", fmt.Errorf("expected node name argument")
	}
	if rp, ok := c.next(); !ok || rp.kind != lexRParen {
		return "", fmt.Errorf("expected ')' to close function call")
	}
	return arg.text, nil
}

// parseIdentArg parses "(" IDENT ")" for len(listvar).
func (c *exprCompiler) parseIdentArg() (string, error) {
	return c.parseQuotedArg()
}
