package branchscript

import (
	"fmt"
)

// storyMagic tags every .story buffer so the loader can reject garbage
// input before even attempting a field-by-field walk.
const storyMagic uint32 = 0x42525331 // "BRS1"

// EncodeStory serializes story into a self-describing binary buffer.
// The buffer is a flat tagged-union encoding with no external schema
// compiler dependency: every field is written in a fixed, documented
// order.
func EncodeStory(story *Story) []byte {
	w := &binWriter{}
	w.u32(storyMagic)
	w.str(story.Version)
	w.str(story.StartNodeName)

	w.count_(len(story.Pool.strings))
	for _, s := range story.Pool.strings {
		w.str(s)
	}
	w.count_(len(story.Pool.lineIDs))
	for _, id := range story.Pool.lineIDs {
		w.str(id)
	}

	w.count_(len(story.GlobalVars))
	for _, gv := range story.GlobalVars {
		w.str(gv.Name)
		writeOperand(w, gv.Value)
	}

	w.count_(len(story.Characters))
	for _, c := range story.Characters {
		w.str(c.ID)
		w.count_(len(c.Properties))
		for k, v := range c.Properties {
			w.str(k)
			w.str(v)
		}
	}

	w.count_(len(story.Nodes))
	for _, n := range story.Nodes {
		w.str(n.Name)
		w.count_(len(n.Params))
		for _, p := range n.Params {
			w.str(p)
		}
		w.count_(len(n.Tags))
		for k, v := range n.Tags {
			w.str(k)
			w.str(v)
		}
		w.count_(len(n.Lines))
		for _, ins := range n.Lines {
			writeInstruction(w, ins)
		}
	}
	return w.buf
}

// count_ writes a vector length. Named with a trailing underscore to
// avoid colliding with binReader's matching accessor while keeping the
// call sites symmetric between writer and reader.
func (w *binWriter) count_(n int) { w.u32(uint32(n)) }

func writeLiteral(w *binWriter, l Literal) {
	w.u8(uint8(l.Kind))
	switch l.Kind {
	case ValueBool:
		w.bool(l.Bool)
	case ValueInt:
		w.i32(l.Int)
	case ValueFloat:
		w.f32(l.Float)
	case ValueString:
		w.i32(l.StringID)
	case ValueList:
		w.count_(len(l.ListIDs))
		for _, id := range l.ListIDs {
			w.i32(id)
		}
	}
}

func writeOperand(w *binWriter, op Operand) {
	w.bool(op.IsExpr)
	if op.IsExpr {
		writeExpression(w, op.Expr)
	} else {
		writeLiteral(w, op.Lit)
	}
}

func writeExpression(w *binWriter, e Expression) {
	w.count_(len(e))
	for _, t := range e {
		w.u8(uint8(t.Op))
		switch t.Op {
		case OpPushLiteral:
			writeLiteral(w, t.Literal)
		case OpPushVariable, OpVisitCount, OpVisited, OpLen:
			w.i32(t.VarNameID)
		}
	}
}

func writeInstruction(w *binWriter, ins Instruction) {
	w.u8(uint8(ins.Kind()))
	switch v := ins.(type) {
	case InsLine:
		w.i32(v.CharacterID)
		w.i32(v.TextID)
		w.i32(v.VoiceAssetID)
		w.count_(len(v.Tags))
		for k, val := range v.Tags {
			w.str(k)
			w.str(val)
		}
	case InsChoice:
		w.i32(v.TextID)
		w.i32(v.TargetNodeNameID)
		w.i32(v.ConditionVarID)
		w.u8(uint8(v.Modifier))
	case InsJump:
		w.i32(v.TargetNodeNameID)
		w.bool(v.IsCall)
		w.count_(len(v.ArgExprs))
		for _, e := range v.ArgExprs {
			writeExpression(w, e)
		}
	case InsCallWithReturn:
		w.i32(v.TargetNodeNameID)
		w.i32(v.ReturnVarNameID)
		w.count_(len(v.ArgExprs))
		for _, e := range v.ArgExprs {
			writeExpression(w, e)
		}
	case InsReturn:
		w.bool(v.HasValue)
		if v.HasValue {
			writeOperand(w, v.Value)
		}
	case InsSetVar:
		w.i32(v.VarNameID)
		writeOperand(w, v.Value)
		w.u8(uint8(v.Mode))
	case InsCondition:
		w.u8(uint8(v.Mode))
		if v.Mode == ConditionUnified {
			writeExpression(w, v.Expr)
		} else {
			writeOperand(w, v.Left)
			writeOperand(w, v.Right)
			w.u8(uint8(v.Comparator))
		}
		w.i32(v.TrueTargetNodeNameID)
		w.i32(v.FalseTargetNodeNameID)
	case InsRandom:
		w.count_(len(v.Branches))
		for _, b := range v.Branches {
			w.i32(b.Weight)
			w.i32(b.TargetNodeNameID)
		}
	case InsCommand:
		w.i32(v.TypeID)
		w.count_(len(v.Params))
		for _, p := range v.Params {
			w.i32(p)
		}
	default:
		panic(fmt.Sprintf("branchscript: unknown instruction kind %T", ins))
	}
}

// LoadStory verifies and deserializes a .story buffer. Every offset,
// vector bound, and union discriminant is checked before
// the returned *Story is handed back; on any inconsistency it fails
// with ErrInvalidStory wrapped around the specific cause. Once loaded,
// the Story is immutable and safe to share read-only across VMs.
func LoadStory(buf []byte) (*Story, error) {
	r := newBinReader(buf)
	magic, err := r.u32()
	if err != nil || magic != storyMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidStory)
	}
	version, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}
	startNode, err := r.str()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}

	pool := newStringPool()
	strCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}
	for i := 0; i < strCount; i++ {
		s, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("%w: string pool entry %d: %s", ErrInvalidStory, i, err)
		}
		pool.strings = append(pool.strings, s)
	}
	lineIDCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}
	if lineIDCount != strCount {
		return nil, fmt.Errorf("%w: line id count %d does not match string pool count %d", ErrInvalidStory, lineIDCount, strCount)
	}
	for i := 0; i < lineIDCount; i++ {
		id, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("%w: line id %d: %s", ErrInvalidStory, i, err)
		}
		pool.lineIDs = append(pool.lineIDs, id)
	}
	pool.index = make(map[string]int32, len(pool.strings))
	for i, s := range pool.strings {
		if _, exists := pool.index[s]; !exists {
			pool.index[s] = int32(i)
		}
	}

	valid := func(id int32) bool { return id == -1 || (id >= 0 && int(id) < len(pool.strings)) }

	story := &Story{Version: version, StartNodeName: startNode, Pool: pool}

	gvCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}
	for i := 0; i < gvCount; i++ {
		name, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("%w: global var %d: %s", ErrInvalidStory, i, err)
		}
		op, err := readOperand(r, valid)
		if err != nil {
			return nil, fmt.Errorf("%w: global var %d value: %w", ErrInvalidStory, i, err)
		}
		story.GlobalVars = append(story.GlobalVars, GlobalVar{Name: name, Value: op})
	}

	charCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}
	for i := 0; i < charCount; i++ {
		id, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("%w: character %d: %s", ErrInvalidStory, i, err)
		}
		props, err := readStringMap(r)
		if err != nil {
			return nil, fmt.Errorf("%w: character %d properties: %s", ErrInvalidStory, i, err)
		}
		story.Characters = append(story.Characters, Character{ID: id, Properties: props})
	}

	nodeCount, err := r.count()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStory, err)
	}
	for i := 0; i < nodeCount; i++ {
		node, err := readNode(r, valid)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", ErrInvalidStory, i, err)
		}
		story.Nodes = append(story.Nodes, node)
	}
	if !r.atEnd() {
		return nil, fmt.Errorf("%w: trailing bytes after story", ErrInvalidStory)
	}
	story.buildIndex()
	return story, nil
}

func readStringMap(r *binReader) (map[string]string, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func readLiteral(r *binReader, valid func(int32) bool) (Literal, error) {
	kindByte, err := r.u8()
	if err != nil {
		return Literal{}, err
	}
	if kindByte > uint8(ValueList) {
		return Literal{}, fmt.Errorf("%w: literal kind %d", ErrUnknownUnionTag, kindByte)
	}
	l := Literal{Kind: ValueKind(kindByte)}
	switch l.Kind {
	case ValueBool:
		l.Bool, err = r.boolean()
	case ValueInt:
		l.Int, err = r.i32()
	case ValueFloat:
		l.Float, err = r.f32()
	case ValueString:
		l.StringID, err = r.i32()
		if err == nil && !valid(l.StringID) {
			err = fmt.Errorf("string literal id %d out of range", l.StringID)
		}
	case ValueList:
		var n int
		n, err = r.count()
		for i := 0; err == nil && i < n; i++ {
			var id int32
			id, err = r.i32()
			if err == nil && !valid(id) {
				err = fmt.Errorf("list literal id %d out of range", id)
			}
			l.ListIDs = append(l.ListIDs, id)
		}
	}
	return l, err
}

func readOperand(r *binReader, valid func(int32) bool) (Operand, error) {
	isExpr, err := r.boolean()
	if err != nil {
		return Operand{}, err
	}
	if isExpr {
		e, err := readExpression(r, valid)
		return Operand{IsExpr: true, Expr: e}, err
	}
	l, err := readLiteral(r, valid)
	return Operand{Lit: l}, err
}

func readExpression(r *binReader, valid func(int32) bool) (Expression, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	expr := make(Expression, 0, n)
	for i := 0; i < n; i++ {
		opByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		if opByte > uint8(OpListContains) {
			return nil, fmt.Errorf("%w: expr opcode %d", ErrUnknownUnionTag, opByte)
		}
		tok := ExprToken{Op: ExprOp(opByte)}
		switch tok.Op {
		case OpPushLiteral:
			tok.Literal, err = readLiteral(r, valid)
		case OpPushVariable, OpVisitCount, OpVisited, OpLen:
			tok.VarNameID, err = r.i32()
			if err == nil && !valid(tok.VarNameID) {
				err = fmt.Errorf("expr var/node id %d out of range", tok.VarNameID)
			}
		}
		if err != nil {
			return nil, err
		}
		expr = append(expr, tok)
	}
	return expr, nil
}

func readNode(r *binReader, valid func(int32) bool) (*Node, error) {
	name, err := r.str()
	if err != nil {
		return nil, err
	}
	n := &Node{Name: name}
	paramCount, err := r.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < paramCount; i++ {
		p, err := r.str()
		if err != nil {
			return nil, err
		}
		n.Params = append(n.Params, p)
	}
	n.Tags, err = readStringMap(r)
	if err != nil {
		return nil, err
	}
	lineCount, err := r.count()
	if err != nil {
		return nil, err
	}
	for i := 0; i < lineCount; i++ {
		ins, err := readInstruction(r, valid)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		n.Lines = append(n.Lines, ins)
	}
	return n, nil
}

func readInstruction(r *binReader, valid func(int32) bool) (Instruction, error) {
	kindByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	if kindByte > uint8(InstrCommand) {
		return nil, fmt.Errorf("%w: instruction kind %d", ErrUnknownUnionTag, kindByte)
	}
	switch InstrKind(kindByte) {
	case InstrLine:
		v := InsLine{}
		if v.CharacterID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.TextID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.VoiceAssetID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.Tags, err = readStringMap(r); err != nil {
			return nil, err
		}
		if !valid(v.CharacterID) || !valid(v.TextID) || !valid(v.VoiceAssetID) {
			return nil, fmt.Errorf("line instruction has out-of-range string id")
		}
		return v, nil
	case InstrChoice:
		v := InsChoice{}
		if v.TextID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.TargetNodeNameID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.ConditionVarID, err = r.i32(); err != nil {
			return nil, err
		}
		mod, err := r.u8()
		if err != nil {
			return nil, err
		}
		if mod > uint8(ChoiceFallback) {
			return nil, fmt.Errorf("%w: choice modifier %d", ErrUnknownUnionTag, mod)
		}
		v.Modifier = ChoiceModifier(mod)
		if !valid(v.TextID) || !valid(v.TargetNodeNameID) || !valid(v.ConditionVarID) {
			return nil, fmt.Errorf("choice instruction has out-of-range string id")
		}
		return v, nil
	case InstrJump:
		v := InsJump{}
		if v.TargetNodeNameID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.IsCall, err = r.boolean(); err != nil {
			return nil, err
		}
		n, err := r.count()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			e, err := readExpression(r, valid)
			if err != nil {
				return nil, err
			}
			v.ArgExprs = append(v.ArgExprs, e)
		}
		if !valid(v.TargetNodeNameID) {
			return nil, fmt.Errorf("jump instruction has out-of-range target id")
		}
		return v, nil
	case InstrCallWithReturn:
		v := InsCallWithReturn{}
		if v.TargetNodeNameID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.ReturnVarNameID, err = r.i32(); err != nil {
			return nil, err
		}
		n, err := r.count()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			e, err := readExpression(r, valid)
			if err != nil {
				return nil, err
			}
			v.ArgExprs = append(v.ArgExprs, e)
		}
		if !valid(v.TargetNodeNameID) || !valid(v.ReturnVarNameID) {
			return nil, fmt.Errorf("call instruction has out-of-range id")
		}
		return v, nil
	case InstrReturn:
		v := InsReturn{}
		if v.HasValue, err = r.boolean(); err != nil {
			return nil, err
		}
		if v.HasValue {
			if v.Value, err = readOperand(r, valid); err != nil {
				return nil, err
			}
		}
		return v, nil
	case InstrSetVar:
		v := InsSetVar{}
		if v.VarNameID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.Value, err = readOperand(r, valid); err != nil {
			return nil, err
		}
		mode, err := r.u8()
		if err != nil {
			return nil, err
		}
		if mode > uint8(SetListRemove) {
			return nil, fmt.Errorf("%w: set-var mode %d", ErrUnknownUnionTag, mode)
		}
		v.Mode = SetVarMode(mode)
		if !valid(v.VarNameID) {
			return nil, fmt.Errorf("set_var instruction has out-of-range var id")
		}
		return v, nil
	case InstrCondition:
		v := InsCondition{}
		mode, err := r.u8()
		if err != nil {
			return nil, err
		}
		if mode > uint8(ConditionDecomposed) {
			return nil, fmt.Errorf("%w: condition mode %d", ErrUnknownUnionTag, mode)
		}
		v.Mode = ConditionMode(mode)
		if v.Mode == ConditionUnified {
			if v.Expr, err = readExpression(r, valid); err != nil {
				return nil, err
			}
		} else {
			if v.Left, err = readOperand(r, valid); err != nil {
				return nil, err
			}
			if v.Right, err = readOperand(r, valid); err != nil {
				return nil, err
			}
			cmp, err := r.u8()
			if err != nil {
				return nil, err
			}
			if cmp > uint8(CmpGe) {
				return nil, fmt.Errorf("%w: comparator %d", ErrUnknownUnionTag, cmp)
			}
			v.Comparator = Comparator(cmp)
		}
		if v.TrueTargetNodeNameID, err = r.i32(); err != nil {
			return nil, err
		}
		if v.FalseTargetNodeNameID, err = r.i32(); err != nil {
			return nil, err
		}
		if !valid(v.TrueTargetNodeNameID) || !valid(v.FalseTargetNodeNameID) {
			return nil, fmt.Errorf("condition instruction has out-of-range target id")
		}
		return v, nil
	case InstrRandom:
		v := InsRandom{}
		n, err := r.count()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			weight, err := r.i32()
			if err != nil {
				return nil, err
			}
			target, err := r.i32()
			if err != nil {
				return nil, err
			}
			if !valid(target) {
				return nil, fmt.Errorf("random branch has out-of-range target id")
			}
			v.Branches = append(v.Branches, RandomBranch{Weight: weight, TargetNodeNameID: target})
		}
		return v, nil
	case InstrCommand:
		v := InsCommand{}
		if v.TypeID, err = r.i32(); err != nil {
			return nil, err
		}
		n, err := r.count()
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			p, err := r.i32()
			if err != nil {
				return nil, err
			}
			if !valid(p) {
				return nil, fmt.Errorf("command param has out-of-range string id")
			}
			v.Params = append(v.Params, p)
		}
		if !valid(v.TypeID) {
			return nil, fmt.Errorf("command instruction has out-of-range type id")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: instruction kind %d", ErrUnknownUnionTag, kindByte)
	}
}
