package branchscript

import (
	"strconv"
	"strings"
)

// Interpolate runs the text-interpolation mini-language over text:
// `{var}` lookups, built-in function calls, and nested
// `{if …}…{else}…{endif}` conditionals. Recursion depth is bounded by
// the "vm.max_interpolation_depth" config knob to guarantee termination
// on pathological nesting.
func (vm *VM) Interpolate(text string) string {
	return vm.interpolateDepth(text, 0)
}

func (vm *VM) interpolateDepth(text string, depth int) string {
	if depth > vm.maxInterpDepth {
		return text
	}
	runes := []rune(text)
	var sb strings.Builder
	i := 0
	for i < len(runes) {
		if runes[i] != '{' {
			sb.WriteRune(runes[i])
			i++
			continue
		}
		if hasPrefixAt(runes, i, "{if ") {
			cond, trueBody, falseBody, hasElse, end, ok := scanIfBlock(runes, i+len("{if "))
			if !ok {
				// An unmatched opening brace is a literal '{' plus the
				// remainder.
				sb.WriteRune('{')
				i++
				continue
			}
			var branch string
			if evalInterpCondition(vm, cond) {
				branch = trueBody
			} else if hasElse {
				branch = falseBody
			}
			sb.WriteString(vm.interpolateDepth(branch, depth+1))
			i = end
			continue
		}
		end := indexRune(runes, i+1, '}')
		if end < 0 {
			sb.WriteRune('{')
			i++
			continue
		}
		content := strings.TrimSpace(string(runes[i+1 : end]))
		sb.WriteString(vm.resolveInterpContent(content))
		i = end + 1
	}
	return sb.String()
}

func hasPrefixAt(runes []rune, pos int, prefix string) bool {
	pr := []rune(prefix)
	if pos+len(pr) > len(runes) {
		return false
	}
	for i, r := range pr {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}

func indexRune(runes []rune, from int, target rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == target {
			return i
		}
	}
	return -1
}

// scanIfBlock scans the body of a `{if cond}…{endif}` construct
// starting right after "{if ". It tracks nested-if depth so `{else}`
// only routes at depth 1.
func scanIfBlock(runes []rune, pos int) (cond, trueBody, falseBody string, hasElse bool, end int, ok bool) {
	closeCond := indexRune(runes, pos, '}')
	if closeCond < 0 {
		return "", "", "", false, 0, false
	}
	cond = strings.TrimSpace(string(runes[pos:closeCond]))
	bodyStart := closeCond + 1
	depth := 1
	elsePos := -1
	i := bodyStart
	for i < len(runes) {
		switch {
		case hasPrefixAt(runes, i, "{if "):
			depth++
			i += len("{if ")
		case hasPrefixAt(runes, i, "{endif}"):
			depth--
			if depth == 0 {
				trueEnd := closeCond + 1
				if elsePos >= 0 {
					trueEnd = elsePos
				} else {
					trueEnd = i
				}
				trueBody = string(runes[bodyStart:trueEnd])
				if elsePos >= 0 {
					hasElse = true
					falseBody = string(runes[elsePos+len("{else}") : i])
				}
				end = i + len("{endif}")
				return cond, trueBody, falseBody, hasElse, end, true
			}
			i += len("{endif}")
		case depth == 1 && elsePos < 0 && hasPrefixAt(runes, i, "{else}"):
			elsePos = i
			i += len("{else}")
		default:
			i++
		}
	}
	return "", "", "", false, 0, false
}

// resolveInterpContent handles everything inside a non-`if` `{…}`
// directive: a bare variable lookup or a built-in function call.
func (vm *VM) resolveInterpContent(content string) string {
	if fn, arg, rest, ok := parseFuncPrefix(content); ok && rest == "" {
		return vm.evalInterpBuiltin(fn, arg).Stringify()
	}
	if isBareIdentifier(content) {
		return vm.getVariable(content).Stringify()
	}
	// Not a recognized directive shape; pass it through unchanged
	// rather than failing; interpolation never errors out.
	return "{" + content + "}"
}

func (vm *VM) evalInterpBuiltin(fn, arg string) Value {
	switch fn {
	case "visit_count":
		return IntValue(int32(vm.VisitCount(arg)))
	case "visited":
		return BoolValue(vm.VisitCount(arg) > 0)
	case "len":
		return IntValue(int32(len(vm.getVariable(arg).L)))
	default:
		return ZeroValue()
	}
}

// parseFuncPrefix recognizes `name(arg)` at the start of s, where arg is
// an optionally quoted bare token. It
// returns the remainder of s after the closing paren so callers can
// detect a trailing comparison.
func parseFuncPrefix(s string) (fn, arg, rest string, ok bool) {
	op := strings.IndexByte(s, '(')
	if op < 0 {
		return "", "", "", false
	}
	name := strings.TrimSpace(s[:op])
	if !isBareIdentifier(name) {
		return "", "", "", false
	}
	switch name {
	case "visit_count", "visited", "len":
	default:
		return "", "", "", false
	}
	cp := strings.IndexByte(s[op:], ')')
	if cp < 0 {
		return "", "", "", false
	}
	cp += op
	argRaw := strings.TrimSpace(s[op+1 : cp])
	argRaw = strings.Trim(argRaw, `"`)
	return name, argRaw, strings.TrimSpace(s[cp+1:]), true
}

func isBareIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return isIdentStart(s[0])
}

// evalInterpCondition evaluates a simplified grammar: VAR, VAR OP
// LITERAL, FUNC(...) with optional comparison, and VALUE in LISTVAR
// membership.
func evalInterpCondition(vm *VM, s string) bool {
	s = strings.TrimSpace(s)

	if idx := findTopLevelWord(s, "in"); idx >= 0 {
		leftRaw := strings.TrimSpace(s[:idx])
		rightRaw := strings.TrimSpace(s[idx+2:])
		left := evalInterpScalar(vm, leftRaw)
		list := vm.getVariable(rightRaw)
		for _, item := range list.L {
			if item == left.Stringify() {
				return true
			}
		}
		return false
	}

	if fn, arg, rest, ok := parseFuncPrefix(s); ok {
		val := vm.evalInterpBuiltin(fn, arg)
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return val.Truthy()
		}
		op, litStr, ok := splitLeadingOp(rest)
		if !ok {
			return val.Truthy()
		}
		return compareValues(val, parseInterpLiteral(litStr), op)
	}

	if name, op, litStr, ok := splitVarOpLiteral(s); ok {
		return compareValues(vm.getVariable(name), parseInterpLiteral(litStr), op)
	}

	return vm.getVariable(s).Truthy()
}

// evalInterpScalar resolves the left-hand side of a membership test: a
// quoted literal or a bare variable.
func evalInterpScalar(vm *VM, s string) Value {
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2 {
		return StringValue(s[1 : len(s)-1])
	}
	if isBareIdentifier(s) {
		return vm.getVariable(s)
	}
	return parseInterpLiteral(s)
}

// findTopLevelWord finds the first standalone occurrence of word in s
// (surrounded by spaces or string boundaries), used to split `A in B`.
func findTopLevelWord(s, word string) int {
	fields := strings.Fields(s)
	pos := 0
	for idx, f := range fields {
		start := strings.Index(s[pos:], f) + pos
		if f == word && idx > 0 && idx < len(fields)-1 {
			return start
		}
		pos = start + len(f)
	}
	return -1
}

var interpOps = []string{"==", "!=", "<=", ">=", "<", ">"}

func splitLeadingOp(s string) (ExprOp, string, bool) {
	for _, op := range interpOps {
		if strings.HasPrefix(s, op) {
			code := map[string]ExprOp{"==": OpEq, "!=": OpNe, "<=": OpLe, ">=": OpGe, "<": OpLt, ">": OpGt}[op]
			return code, strings.TrimSpace(s[len(op):]), true
		}
	}
	return 0, "", false
}

func splitVarOpLiteral(s string) (name string, op ExprOp, lit string, ok bool) {
	for _, opStr := range interpOps {
		if idx := strings.Index(s, opStr); idx >= 0 {
			name = strings.TrimSpace(s[:idx])
			if !isBareIdentifier(name) {
				continue
			}
			code := map[string]ExprOp{"==": OpEq, "!=": OpNe, "<=": OpLe, ">=": OpGe, "<": OpLt, ">": OpGt}[opStr]
			return name, code, strings.TrimSpace(s[idx+len(opStr):]), true
		}
	}
	return "", 0, "", false
}

func parseInterpLiteral(s string) Value {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2 {
		return StringValue(s[1 : len(s)-1])
	}
	if s == "true" {
		return BoolValue(true)
	}
	if s == "false" {
		return BoolValue(false)
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return FloatValue(float32(f))
		}
	}
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return IntValue(int32(n))
	}
	return StringValue(s)
}
