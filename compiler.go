package branchscript

import (
	"encoding/csv"
	"io"
)

// CompileResult bundles everything a CLI or embedding host needs after
// a compile: the binary buffer on success, or the full diagnostic list
// on failure. Exactly one of Binary/Diagnostics is meaningful depending
// on Diagnostics.HasErrors().
type CompileResult struct {
	Story       *Story
	Binary      []byte
	Diagnostics DiagnosticList
}

// Compile runs the full pipeline: source text -> parser -> story tree
// -> validator -> emitter -> binary buffer. It never stops at the first
// diagnostic: parsing and validation both run to completion and
// diagnostics accumulate.
func Compile(file string, src []byte, cfg *Config) CompileResult {
	if cfg == nil {
		cfg = NewConfig()
	}
	story, parseDiags := ParseSource(file, src, cfg)
	refDiags := ValidateReferences(file, story)

	all := append(DiagnosticList{}, parseDiags...)
	all = append(all, refDiags...)
	if all.HasErrors() {
		return CompileResult{Story: story, Diagnostics: all}
	}

	if cfg.GetBool("compiler.optimize") {
		optimizeConditions(story)
	}

	return CompileResult{Story: story, Binary: EncodeStory(story), Diagnostics: all}
}

// optimizeConditions folds a unified Condition expression that is
// exactly `<operand> <operand> <comparator>` into the decomposed
// two-operand encoding, controlled by the "compiler.optimize" config
// knob. The decomposed form lets the VM skip the general RPN evaluator
// for the overwhelmingly common case of a simple comparison.
func optimizeConditions(story *Story) {
	for _, node := range story.Nodes {
		for i, ins := range node.Lines {
			cond, ok := ins.(InsCondition)
			if !ok || cond.Mode != ConditionUnified {
				continue
			}
			left, right, cmp, ok := decompose(cond.Expr)
			if !ok {
				continue
			}
			cond.Mode = ConditionDecomposed
			cond.Left = left
			cond.Right = right
			cond.Comparator = cmp
			cond.Expr = nil
			node.Lines[i] = cond
		}
	}
}

// decompose recognizes the three-token pattern `push push cmp` and
// splits it back into two standalone operands. Anything more complex
// (nested operators, function calls, logic combinators) is left in
// unified form.
func decompose(e Expression) (left, right Operand, cmp Comparator, ok bool) {
	if len(e) != 3 {
		return Operand{}, Operand{}, 0, false
	}
	cmp, isCmp := comparatorFromOp(e[2].Op)
	if !isCmp {
		return Operand{}, Operand{}, 0, false
	}
	toOperand := func(t ExprToken) (Operand, bool) {
		switch t.Op {
		case OpPushLiteral:
			return literalOperand(t.Literal), true
		case OpPushVariable:
			return exprOperand(Expression{t}), true
		default:
			return Operand{}, false
		}
	}
	l, ok1 := toOperand(e[0])
	r, ok2 := toOperand(e[1])
	if !ok1 || !ok2 {
		return Operand{}, Operand{}, 0, false
	}
	return l, r, cmp, true
}

// ExportStringsCSV writes the compiler's --export-strings output: one
// row per translatable string, columns
// `line_id,type,node,character,text`, standard CSV quoting.
func ExportStringsCSV(w io.Writer, story *Story) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"line_id", "type", "node", "character", "text"}); err != nil {
		return err
	}
	for _, node := range story.Nodes {
		for _, ins := range node.Lines {
			switch v := ins.(type) {
			case InsLine:
				lineID := story.Pool.lineIDAt(v.TextID)
				if lineID == "" {
					continue
				}
				character := ""
				if v.CharacterID >= 0 {
					character = story.stringAt(v.CharacterID)
				}
				row := []string{lineID, "LINE", node.Name, character, story.stringAt(v.TextID)}
				if err := cw.Write(row); err != nil {
					return err
				}
			case InsChoice:
				lineID := story.Pool.lineIDAt(v.TextID)
				if lineID == "" {
					continue
				}
				row := []string{lineID, "CHOICE", node.Name, "", story.stringAt(v.TextID)}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
