package branchscript

import (
	"strconv"
	"strings"
)

// Parser converts line-oriented script source into an in-memory Story
// tree. It keeps no state between files other than its own diagnostic
// list, staying pure over a single buffer.
type Parser struct {
	file   string
	lines  []string
	pos    int // 0-based index of the next line to consume
	cfg    *Config
	story  *Story
	diags  []Diagnostic
	node   *Node
	nodeNo map[string]int // per-node translatable-string ordinal counter
	seen   map[string]bool
}

// ParseSource parses a single .script source buffer into a Story. It
// never stops at the first syntax error: diagnostics accumulate and the
// caller decides whether to treat the compilation as failed.
func ParseSource(file string, src []byte, cfg *Config) (*Story, DiagnosticList) {
	if cfg == nil {
		cfg = NewConfig()
	}
	p := &Parser{
		file:   file,
		lines:  strings.Split(string(src), "\n"),
		cfg:    cfg,
		story:  newStory(),
		nodeNo: make(map[string]int),
		seen:   make(map[string]bool),
	}
	p.run()
	return p.story, p.diags
}

func (p *Parser) errorf(lineNo int, format string, args ...any) {
	p.diags = append(p.diags, newParseError(p.file, lineNo, format, args...))
}

func (p *Parser) peekRaw() (string, int, bool) {
	if p.pos >= len(p.lines) {
		return "", 0, false
	}
	return p.lines[p.pos], p.pos + 1, true
}

func (p *Parser) nextRaw() (string, int, bool) {
	line, lineNo, ok := p.peekRaw()
	if ok {
		p.pos++
	}
	return line, lineNo, ok
}

func indentOf(s string) int {
	n := 0
	for _, r := range s {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 4
		} else {
			break
		}
	}
	return n
}

func (p *Parser) run() {
	for {
		raw, lineNo, ok := p.nextRaw()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		p.parseTopLevelLine(trimmed, lineNo)
	}
	if p.story.StartNodeName == "" && len(p.story.Nodes) > 0 {
		p.story.StartNodeName = p.story.Nodes[0].Name
	}
	p.story.buildIndex()
}

func (p *Parser) emit(ins Instruction, lineNo int) {
	if p.node != nil {
		p.node.Lines = append(p.node.Lines, ins)
		p.node.LineNos = append(p.node.LineNos, lineNo)
	}
}

func (p *Parser) internText(text string, lineNo int) int32 {
	node := "__global__"
	if p.node != nil {
		node = p.node.Name
	}
	ord := p.nodeNo[node]
	p.nodeNo[node] = ord + 1
	return p.story.Pool.internTranslatable(text, node, ord)
}

func (p *Parser) parseTopLevelLine(line string, lineNo int) {
	switch {
	case strings.HasPrefix(line, "label "):
		p.parseLabel(line, lineNo)
	case strings.HasPrefix(line, "$ "):
		p.parseAssignment(line[2:], lineNo)
	case strings.HasPrefix(line, "jump "):
		p.parseJump(strings.TrimSpace(line[len("jump "):]), lineNo, false)
	case strings.HasPrefix(line, "call "):
		p.parseJump(strings.TrimSpace(line[len("call "):]), lineNo, true)
	case strings.HasPrefix(line, "return"):
		p.parseReturn(strings.TrimSpace(line[len("return"):]), lineNo)
	case line == "menu:":
		p.parseMenu(lineNo)
	case line == "random:":
		p.parseRandom(lineNo)
	case strings.HasPrefix(line, "if "):
		p.parseIfChain(line, lineNo)
	case strings.HasPrefix(line, "@"):
		p.parseCommand(line, lineNo)
	case strings.HasPrefix(line, "import "):
		p.parseImport(line, lineNo)
	case strings.HasPrefix(line, "\""):
		p.parseDialogue("", line, lineNo)
	default:
		if id, rest, ok := splitIdentAndQuote(line); ok {
			p.parseDialogue(id, rest, lineNo)
		} else {
			p.errorf(lineNo, "unrecognized line: %q", line)
		}
	}
}

// splitIdentAndQuote recognizes `ident "text" ...` used by character
// dialogue lines, returning the identifier and the remainder starting
// at the quote.
func splitIdentAndQuote(line string) (string, string, bool) {
	i := 0
	for i < len(line) && isIdentPart(line[i]) {
		i++
	}
	if i == 0 {
		return "", "", false
	}
	rest := strings.TrimSpace(line[i:])
	if !strings.HasPrefix(rest, "\"") {
		return "", "", false
	}
	return line[:i], rest, true
}

// --- label ---

func (p *Parser) parseLabel(line string, lineNo int) {
	rest := strings.TrimSpace(line[len("label "):])
	rest = strings.TrimSuffix(rest, ":")

	tagStart := strings.Index(rest, "#")
	tagsPart := ""
	if tagStart >= 0 {
		tagsPart = rest[tagStart:]
		rest = strings.TrimSpace(rest[:tagStart])
	}

	name := rest
	var params []string
	if op := strings.Index(rest, "("); op >= 0 {
		cp := strings.LastIndex(rest, ")")
		if cp < op {
			p.errorf(lineNo, "unbalanced parameter list in label")
			return
		}
		name = strings.TrimSpace(rest[:op])
		for _, part := range strings.Split(rest[op+1:cp], ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				params = append(params, part)
			}
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		p.errorf(lineNo, "label missing a name")
		return
	}
	if p.seen[name] {
		p.errorf(lineNo, "duplicate node name %q", name)
	}
	p.seen[name] = true

	node := &Node{Name: name, Params: params, Tags: parseTagString(tagsPart)}
	p.story.Nodes = append(p.story.Nodes, node)
	p.node = node
	if p.story.StartNodeName == "" {
		p.story.StartNodeName = name
	}
}

// parseTagString parses "#key:value #key2 #key3=value3" into a map.
// Bare keys map to "" (used by choice modifiers and the well-known
// `voice` key's absence check).
func parseTagString(s string) map[string]string {
	tags := make(map[string]string)
	for _, field := range strings.Fields(s) {
		field = strings.TrimPrefix(field, "#")
		if field == "" {
			continue
		}
		if idx := strings.IndexAny(field, ":="); idx >= 0 {
			tags[field[:idx]] = field[idx+1:]
		} else {
			tags[field] = ""
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// --- assignment: `$ name = expr` and `$ name = call NAME(args)` ---

func (p *Parser) parseAssignment(rest string, lineNo int) {
	eq := strings.Index(rest, "=")
	if eq < 0 {
		p.errorf(lineNo, "expected '=' in assignment")
		return
	}
	name := strings.TrimSpace(rest[:eq])
	value := strings.TrimSpace(rest[eq+1:])
	if name == "" {
		p.errorf(lineNo, "assignment missing variable name")
		return
	}

	if strings.HasPrefix(value, "call ") {
		target, args, ok := p.parseCallTarget(strings.TrimSpace(value[len("call "):]), lineNo)
		if !ok {
			return
		}
		p.emit(InsCallWithReturn{
			TargetNodeNameID: p.story.Pool.intern(target),
			ReturnVarNameID:  p.story.Pool.intern(name),
			ArgExprs:         args,
		}, lineNo)
		return
	}

	mode := SetAssign
	varName := name
	if strings.HasSuffix(name, "[]") {
		mode = SetListAppend
		varName = strings.TrimSuffix(name, "[]")
	} else if strings.HasSuffix(name, "[-]") {
		mode = SetListRemove
		varName = strings.TrimSuffix(name, "[-]")
	}

	operand, ok := p.parseOperand(value, lineNo)
	if !ok {
		return
	}
	ins := InsSetVar{VarNameID: p.story.Pool.intern(varName), Value: operand, Mode: mode}
	if p.node == nil {
		p.story.GlobalVars = append(p.story.GlobalVars, GlobalVar{Name: varName, Value: operand})
		return
	}
	p.emit(ins, lineNo)
}

// parseOperand compiles value into a Literal when it's a trivially
// literal expression (keeps the common case of `$ x = 5` cheap to
// encode), otherwise compiles it as a general Expression.
func (p *Parser) parseOperand(value string, lineNo int) (Operand, bool) {
	expr, err := compileExpression(p.story.Pool, value)
	if err != nil {
		p.errorf(lineNo, "invalid expression %q: %s", value, err)
		return Operand{}, false
	}
	if len(expr) == 1 && expr[0].Op == OpPushLiteral {
		return literalOperand(expr[0].Literal), true
	}
	return exprOperand(expr), true
}

// --- jump / call ---

// parseCallTarget parses `NAME[(arg1, arg2, ...)]`.
func (p *Parser) parseCallTarget(s string, lineNo int) (string, []Expression, bool) {
	name := s
	var rawArgs []string
	if op := strings.Index(s, "("); op >= 0 {
		cp := strings.LastIndex(s, ")")
		if cp < op {
			p.errorf(lineNo, "unbalanced argument list")
			return "", nil, false
		}
		name = strings.TrimSpace(s[:op])
		for _, a := range splitArgs(s[op+1 : cp]) {
			a = strings.TrimSpace(a)
			if a != "" {
				rawArgs = append(rawArgs, a)
			}
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		p.errorf(lineNo, "missing jump/call target")
		return "", nil, false
	}
	args := make([]Expression, 0, len(rawArgs))
	for _, a := range rawArgs {
		expr, err := compileExpression(p.story.Pool, a)
		if err != nil {
			p.errorf(lineNo, "invalid argument expression %q: %s", a, err)
			continue
		}
		args = append(args, expr)
	}
	return name, args, true
}

// splitArgs splits a comma-separated argument list, respecting nested
// parentheses and quoted strings so that e.g. visit_count("a,b") and
// show_message("hi, there") aren't split incorrectly.
func splitArgs(s string) []string {
	var out []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(s); i++ {
		if inString {
			if s[i] == '\\' && i+1 < len(s) {
				i++
				continue
			}
			if s[i] == '"' {
				inString = false
			}
			continue
		}
		switch s[i] {
		case '"':
			inString = true
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func (p *Parser) parseJump(rest string, lineNo int, isCall bool) {
	target, args, ok := p.parseCallTarget(rest, lineNo)
	if !ok {
		return
	}
	p.emit(InsJump{TargetNodeNameID: p.story.Pool.intern(target), IsCall: isCall, ArgExprs: args}, lineNo)
}

func (p *Parser) parseReturn(rest string, lineNo int) {
	if rest == "" {
		p.emit(InsReturn{HasValue: false}, lineNo)
		return
	}
	operand, ok := p.parseOperand(rest, lineNo)
	if !ok {
		return
	}
	p.emit(InsReturn{HasValue: true, Value: operand}, lineNo)
}

// --- dialogue ---

func (p *Parser) parseDialogue(characterID, rest string, lineNo int) {
	text, tail, ok := parseQuotedPrefix(rest)
	if !ok {
		p.errorf(lineNo, "expected quoted dialogue text")
		return
	}
	tags := parseTagString(tail)
	textID := p.internText(text, lineNo)
	charID := int32(-1)
	if characterID != "" {
		charID = p.story.Pool.intern(characterID)
	}
	voiceAsset := int32(-1)
	if tags != nil {
		if v, ok := tags["voice"]; ok {
			voiceAsset = p.story.Pool.intern(v)
		}
	}
	p.emit(InsLine{CharacterID: charID, TextID: textID, VoiceAssetID: voiceAsset, Tags: tags}, lineNo)
}

// parseQuotedPrefix reads a leading `"..."` literal (with backslash
// escapes) off s and returns the decoded text plus whatever follows.
func parseQuotedPrefix(s string) (string, string, bool) {
	if !strings.HasPrefix(s, "\"") {
		return "", "", false
	}
	var sb strings.Builder
	i := 1
	for i < len(s) {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(s[i+1])
			}
			i += 2
			continue
		}
		if s[i] == '"' {
			return sb.String(), strings.TrimSpace(s[i+1:]), true
		}
		sb.WriteByte(s[i])
		i++
	}
	return "", "", false
}

// --- menu ---

func (p *Parser) parseMenu(headerLineNo int) {
	headerIndent := indentOf(p.lines[headerLineNo-1])
	type choiceLine struct {
		ins    InsChoice
		lineNo int
	}
	var choices []choiceLine
	for {
		raw, lineNo, ok := p.peekRaw()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			p.pos++
			continue
		}
		if indentOf(raw) <= headerIndent {
			break
		}
		p.pos++
		ch, ok := p.parseChoiceLine(trimmed, lineNo)
		if ok {
			choices = append(choices, choiceLine{ch, lineNo})
		}
	}
	for _, c := range choices {
		p.emit(c.ins, c.lineNo)
	}
}

// parseChoiceLine parses `"text" -> NAME [if var] [#modifier]`.
func (p *Parser) parseChoiceLine(line string, lineNo int) (InsChoice, bool) {
	text, tail, ok := parseQuotedPrefix(line)
	if !ok {
		p.errorf(lineNo, "expected quoted choice text")
		return InsChoice{}, false
	}
	arrow := strings.Index(tail, "->")
	if arrow < 0 {
		p.errorf(lineNo, "expected '->' in choice line")
		return InsChoice{}, false
	}
	target := strings.TrimSpace(tail[arrow+2:])
	tagsPart := ""
	if hash := strings.Index(target, "#"); hash >= 0 {
		tagsPart = target[hash:]
		target = strings.TrimSpace(target[:hash])
	}
	condVar := ""
	if ifIdx := strings.Index(target, " if "); ifIdx >= 0 {
		condVar = strings.TrimSpace(target[ifIdx+len(" if "):])
		target = strings.TrimSpace(target[:ifIdx])
	}
	tags := parseTagString(tagsPart)
	modifier := ChoiceDefault
	switch {
	case hasTagKey(tags, "once"):
		modifier = ChoiceOnce
	case hasTagKey(tags, "sticky"):
		modifier = ChoiceSticky
	case hasTagKey(tags, "fallback"):
		modifier = ChoiceFallback
	}
	condID := int32(-1)
	if condVar != "" {
		condID = p.story.Pool.intern(condVar)
	}
	return InsChoice{
		TextID:           p.internText(text, lineNo),
		TargetNodeNameID: p.story.Pool.intern(target),
		ConditionVarID:   condID,
		Modifier:         modifier,
	}, true
}

func hasTagKey(tags map[string]string, key string) bool {
	if tags == nil {
		return false
	}
	_, ok := tags[key]
	return ok
}

// --- random ---

func (p *Parser) parseRandom(headerLineNo int) {
	headerIndent := indentOf(p.lines[headerLineNo-1])
	var branches []RandomBranch
	for {
		raw, lineNo, ok := p.peekRaw()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			p.pos++
			continue
		}
		if indentOf(raw) <= headerIndent {
			break
		}
		p.pos++
		b, ok := p.parseRandomLine(trimmed, lineNo)
		if ok {
			branches = append(branches, b)
		}
	}
	p.emit(InsRandom{Branches: branches}, headerLineNo)
}

// parseRandomLine parses `[weight] -> NAME`; a missing weight defaults
// to 1.
func (p *Parser) parseRandomLine(line string, lineNo int) (RandomBranch, bool) {
	arrow := strings.Index(line, "->")
	if arrow < 0 {
		p.errorf(lineNo, "expected '->' in random branch")
		return RandomBranch{}, false
	}
	weightPart := strings.TrimSpace(line[:arrow])
	target := strings.TrimSpace(line[arrow+2:])
	weight := int32(1)
	if weightPart != "" {
		w, err := strconv.ParseInt(weightPart, 10, 32)
		if err != nil {
			p.errorf(lineNo, "invalid weight %q: %s", weightPart, err)
			return RandomBranch{}, false
		}
		weight = int32(w)
	}
	return RandomBranch{Weight: weight, TargetNodeNameID: p.story.Pool.intern(target)}, true
}

// --- if / elif / else ---

func (p *Parser) parseIfChain(line string, lineNo int) {
	headerIndent := indentOf(p.lines[lineNo-1])
	cond, trueTarget, inlineElse, hasInline := p.parseIfLine(line[len("if "):], lineNo)
	ins := InsCondition{
		Mode:                  ConditionUnified,
		Expr:                  cond,
		TrueTargetNodeNameID:  p.story.Pool.intern(trueTarget),
		FalseTargetNodeNameID: -1,
	}
	if hasInline {
		ins.FalseTargetNodeNameID = p.story.Pool.intern(inlineElse)
	}
	p.emit(ins, lineNo)

	sawChain := false
	for {
		raw, nextLineNo, ok := p.peekRaw()
		if !ok {
			break
		}
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			p.pos++
			continue
		}
		if indentOf(raw) != headerIndent {
			break
		}
		if strings.HasPrefix(trimmed, "elif ") {
			p.pos++
			sawChain = true
			c2, t2, inl2, hasInl2 := p.parseIfLine(trimmed[len("elif "):], nextLineNo)
			if hasInl2 {
				p.errorf(nextLineNo, "elif line may not carry an inline else")
			}
			p.emit(InsCondition{
				Mode:                  ConditionUnified,
				Expr:                  c2,
				TrueTargetNodeNameID:  p.story.Pool.intern(t2),
				FalseTargetNodeNameID: -1,
			}, nextLineNo)
			continue
		}
		if strings.HasPrefix(trimmed, "else ") || trimmed == "else" {
			p.pos++
			sawChain = true
			arrow := strings.Index(trimmed, "->")
			if arrow < 0 {
				p.errorf(nextLineNo, "expected '->' in else line")
				break
			}
			target := strings.TrimSpace(trimmed[arrow+2:])
			p.emit(InsJump{TargetNodeNameID: p.story.Pool.intern(target)}, nextLineNo)
			break
		}
		break
	}
	if hasInline && sawChain {
		p.errorf(lineNo, "if line may not carry both an inline else and a following elif/else block")
	}
}

// parseIfLine parses `COND -> TRUE [else FALSE]`.
func (p *Parser) parseIfLine(s string, lineNo int) (expr Expression, trueTarget, falseTarget string, hasElse bool) {
	arrow := strings.Index(s, "->")
	if arrow < 0 {
		p.errorf(lineNo, "expected '->' in if/elif line")
		return nil, "", "", false
	}
	condSrc := strings.TrimSpace(s[:arrow])
	rest := strings.TrimSpace(s[arrow+2:])
	if elseIdx := strings.Index(rest, " else "); elseIdx >= 0 {
		trueTarget = strings.TrimSpace(rest[:elseIdx])
		falseTarget = strings.TrimSpace(rest[elseIdx+len(" else "):])
		hasElse = true
	} else {
		trueTarget = rest
	}
	var err error
	expr, err = compileExpression(p.story.Pool, condSrc)
	if err != nil {
		p.errorf(lineNo, "invalid condition %q: %s", condSrc, err)
	}
	return expr, trueTarget, falseTarget, hasElse
}

// --- command ---

func (p *Parser) parseCommand(line string, lineNo int) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "@"))
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		p.errorf(lineNo, "command missing a name")
		return
	}
	params := make([]int32, 0, len(fields)-1)
	for _, f := range fields[1:] {
		params = append(params, p.story.Pool.intern(f))
	}
	p.emit(InsCommand{TypeID: p.story.Pool.intern(fields[0]), Params: params}, lineNo)
}

// --- import ---

func (p *Parser) parseImport(line string, lineNo int) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "import "))
	if _, _, ok := parseQuotedPrefix(rest); !ok {
		p.errorf(lineNo, "expected quoted path in import")
	}
	// Resolution is left to the host build step; the parser only
	// recognizes and registers the statement syntactically.
}
