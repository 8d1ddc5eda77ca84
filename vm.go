package branchscript

import (
	"fmt"
	"log"
	"math/rand"
	"os"

	"golang.org/x/exp/maps"
)

// EventKind discriminates the four observable events step() can
// return, plus EventNone, which step() returns when step mode or a
// breakpoint pauses it. Jump/Condition/SetVar/Random/Return are internal
// transitions and never surface to the caller.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventLine
	EventChoices
	EventCommand
	EventEnd
)

// ChoiceOption is one entry of a Choices event.
type ChoiceOption struct {
	Index int
	Text  string
}

// Event is the single value step() returns. Exactly the fields matching
// Kind are meaningful, mirroring the closed-union discipline used for
// Instruction and ExprOp elsewhere in this package.
type Event struct {
	Kind      EventKind
	Character string
	HasChar   bool
	Text      string
	Tags      map[string]string
	Choices   []ChoiceOption
	CmdType   string
	CmdParams []string
}

// CallFrame is a runtime subroutine-invocation record. Shadow
// entries restore, in reverse order, the variable bindings a parameter
// of the same name temporarily replaced.
type CallFrame struct {
	ReturnNode    string
	ReturnPC      int
	ReturnVarName string
	HasReturnVar  bool
	Shadowed      []shadowEntry
	ParamNames    []string
}

type shadowEntry struct {
	Name    string
	Existed bool
	Value   Value
}

// runtimeState holds the VM's full mutable runtime state, split out
// from VM itself. save.go serializes all of it except the pending return
// value, step mode, breakpoint state, and breakpoints.
type runtimeState struct {
	Variables         map[string]Value
	CurrentNode       string
	PC                int
	CallStack         []CallFrame
	PendingChoices    []pendingChoice
	VisitCounts       map[string]int
	ChosenOnce        map[string]bool
	PendingReturn     Value
	HasPendingReturn  bool
	Finished          bool
	StepMode          bool
	HitBreakpoint     bool
	Breakpoints       map[string]bool
}

type pendingChoice struct {
	Text       string
	TargetName string
	NodeName   string
	PC         int
	Modifier   ChoiceModifier
}

// VM is the step-based interpreter over a Story. It holds an immutable
// reference to a loaded Story plus the single mutable runtimeState;
// nothing else is process-wide.
type VM struct {
	story *Story
	state runtimeState

	rng            *rand.Rand
	seed           int64
	localeOverlay  map[string]string // line_id -> translated text
	notices        []Notice
	maxCallDepth   int
	maxInterpDepth int
	logger         *log.Logger
}

// NewVM constructs a VM bound to story, reading its depth limits from
// cfg's "vm.max_call_depth" and "vm.max_interpolation_depth" knobs.
func NewVM(story *Story, cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	vm := &VM{
		story:          story,
		maxCallDepth:   cfg.GetInt("vm.max_call_depth"),
		maxInterpDepth: cfg.GetInt("vm.max_interpolation_depth"),
		logger:         log.New(os.Stderr, "branchscript: ", log.LstdFlags),
	}
	vm.resetState()
	vm.SetSeed(1)
	return vm
}

// SetLogger overrides the logger soft-fail paths (unresolved jump
// targets, out-of-range choice selection) write to. Passing nil
// silences them.
func (vm *VM) SetLogger(logger *log.Logger) { vm.logger = logger }

func (vm *VM) logf(format string, args ...any) {
	if vm.logger != nil {
		vm.logger.Printf(format, args...)
	}
}

func (vm *VM) resetState() {
	vm.state = runtimeState{
		Variables:   make(map[string]Value),
		VisitCounts: make(map[string]int),
		ChosenOnce:  make(map[string]bool),
		Breakpoints: make(map[string]bool),
	}
}

// Start initializes globals and begins execution at the story's
// declared start node.
func (vm *VM) Start() {
	vm.StartAt(vm.story.StartNodeName)
}

// StartAt begins execution at a specific node, bypassing the story's
// declared start node.
func (vm *VM) StartAt(nodeName string) {
	vm.resetState()
	for _, gv := range vm.story.GlobalVars {
		vm.state.Variables[gv.Name] = vm.evalOperand(gv.Value)
	}
	vm.jumpToNode(nodeName)
}

// jumpToNode resolves name and moves the location pointer there,
// incrementing the visit count on every successful jump. An
// unresolvable name finishes the VM instead of crashing.
func (vm *VM) jumpToNode(name string) bool {
	node, ok := vm.story.NodeByName(name)
	if !ok {
		vm.logf("node %q not found, finishing story", name)
		vm.state.Finished = true
		return false
	}
	vm.state.CurrentNode = node.Name
	vm.state.PC = 0
	vm.state.VisitCounts[node.Name]++
	return true
}

// IsFinished reports whether the VM has reached the end of the story
// with an empty call stack.
func (vm *VM) IsFinished() bool { return vm.state.Finished }

// Step runs instructions until one of {Line, Choices, Command, End} is
// produced, or a breakpoint/step-mode pause fires.
func (vm *VM) Step() Event {
	if vm.state.Finished {
		return Event{Kind: EventEnd}
	}
	vm.state.HitBreakpoint = false
	for {
		node, ok := vm.story.NodeByName(vm.state.CurrentNode)
		if !ok {
			vm.state.Finished = true
			return Event{Kind: EventEnd}
		}
		if vm.state.PC >= len(node.Lines) {
			if vm.unwindFrame() {
				continue
			}
			vm.state.Finished = true
			return Event{Kind: EventEnd}
		}

		if bp, ok := vm.state.Breakpoints[fmt.Sprintf("%s:%d", node.Name, vm.state.PC)]; ok && bp {
			vm.state.HitBreakpoint = true
		}

		ins := node.Lines[vm.state.PC]
		switch v := ins.(type) {
		case InsLine:
			vm.state.PC++
			return vm.emitLine(v)
		case InsChoice:
			return vm.collectChoices(node, vm.state.PC)
		case InsJump:
			vm.execJump(v)
		case InsCallWithReturn:
			vm.execCallWithReturn(v)
		case InsSetVar:
			vm.execSetVar(v)
			vm.state.PC++
		case InsCondition:
			vm.execCondition(v)
		case InsRandom:
			vm.execRandom(v)
		case InsCommand:
			vm.state.PC++
			return vm.emitCommand(v)
		case InsReturn:
			vm.execReturn(v)
		default:
			vm.state.PC++
		}

		if vm.state.StepMode || vm.state.HitBreakpoint {
			return Event{Kind: EventNone}
		}
	}
}

func (vm *VM) emitLine(ins InsLine) Event {
	ev := Event{Kind: EventLine, Tags: ins.Tags}
	if ins.CharacterID >= 0 {
		ev.HasChar = true
		ev.Character = vm.story.stringAt(ins.CharacterID)
	}
	ev.Text = vm.Interpolate(vm.lookupText(ins.TextID))
	return ev
}

func (vm *VM) emitCommand(ins InsCommand) Event {
	params := make([]string, len(ins.Params))
	for i, id := range ins.Params {
		params[i] = vm.story.stringAt(id)
	}
	return Event{Kind: EventCommand, CmdType: vm.story.stringAt(ins.TypeID), CmdParams: params}
}

// lookupText applies the locale overlay: a line_id match replaces the
// pooled string; otherwise the pool's own text is used.
func (vm *VM) lookupText(textID int32) string {
	if vm.localeOverlay != nil {
		if lid := vm.story.Pool.lineIDAt(textID); lid != "" {
			if tr, ok := vm.localeOverlay[lid]; ok {
				return tr
			}
		}
	}
	return vm.story.stringAt(textID)
}

// collectChoices gathers the contiguous run of Choice instructions
// starting at pc, applies the visibility and modifier rules for each
// choice, and returns the Choices event.
func (vm *VM) collectChoices(node *Node, pc int) Event {
	type collected struct {
		pc   int
		ins  InsChoice
		text string
	}
	var visible []collected
	i := pc
	for i < len(node.Lines) {
		choice, ok := node.Lines[i].(InsChoice)
		if !ok {
			break
		}
		if vm.choiceVisible(node, i, choice) {
			visible = append(visible, collected{i, choice, vm.Interpolate(vm.lookupText(choice.TextID))})
		}
		i++
	}
	vm.state.PC = i

	hasNonFallback := false
	for _, c := range visible {
		if c.ins.Modifier != ChoiceFallback {
			hasNonFallback = true
			break
		}
	}

	vm.state.PendingChoices = nil
	var opts []ChoiceOption
	for _, c := range visible {
		if c.ins.Modifier == ChoiceFallback && hasNonFallback {
			continue
		}
		opts = append(opts, ChoiceOption{Index: len(opts), Text: c.text})
		vm.state.PendingChoices = append(vm.state.PendingChoices, pendingChoice{
			Text:       c.text,
			TargetName: vm.story.stringAt(c.ins.TargetNodeNameID),
			NodeName:   node.Name,
			PC:         c.pc,
			Modifier:   c.ins.Modifier,
		})
	}
	return Event{Kind: EventChoices, Choices: opts}
}

// relocatePendingChoices re-derives NodeName/PC/Modifier for a pending
// choice list that was deserialized without them (the save format only
// carries Text/TargetName). It locates the contiguous Choice block
// ending at the current PC and matches each pending entry against the
// next still-visible site with the same target, advancing past sites
// that don't match. This stays correct even when LoadState has already
// dropped some pending entries whose target no longer resolves, which
// would otherwise desync a plain positional zip.
func (vm *VM) relocatePendingChoices(pending []pendingChoice) []pendingChoice {
	if len(pending) == 0 {
		return pending
	}
	node, ok := vm.story.NodeByName(vm.state.CurrentNode)
	if !ok {
		return pending
	}
	end := vm.state.PC
	start := end
	for start > 0 {
		if _, ok := node.Lines[start-1].(InsChoice); !ok {
			break
		}
		start--
	}
	var sites []struct {
		pc     int
		ins    InsChoice
		target string
	}
	for i := start; i < end && i < len(node.Lines); i++ {
		choice, ok := node.Lines[i].(InsChoice)
		if !ok {
			continue
		}
		if vm.choiceVisible(node, i, choice) {
			sites = append(sites, struct {
				pc     int
				ins    InsChoice
				target string
			}{i, choice, vm.story.stringAt(choice.TargetNodeNameID)})
		}
	}
	out := make([]pendingChoice, len(pending))
	cursor := 0
	for i, p := range pending {
		p.NodeName = node.Name
		for cursor < len(sites) && sites[cursor].target != p.TargetName {
			cursor++
		}
		if cursor < len(sites) {
			p.PC = sites[cursor].pc
			p.Modifier = sites[cursor].ins.Modifier
			cursor++
		}
		out[i] = p
	}
	return out
}

func (vm *VM) choiceVisible(node *Node, pc int, choice InsChoice) bool {
	if choice.ConditionVarID >= 0 {
		name := vm.story.stringAt(choice.ConditionVarID)
		if !vm.getVariable(name).Truthy() {
			return false
		}
	}
	if choice.Modifier == ChoiceOnce {
		key := fmt.Sprintf("%s:%d", node.Name, pc)
		if vm.state.ChosenOnce[key] {
			return false
		}
	}
	return true
}

// Choose resolves a pending choice by index. An out-of-range index is
// logged and ignored.
func (vm *VM) Choose(index int) {
	if index < 0 || index >= len(vm.state.PendingChoices) {
		vm.logf("choice index %d out of range (%d pending), ignoring", index, len(vm.state.PendingChoices))
		return
	}
	choice := vm.state.PendingChoices[index]
	vm.markChosenOnce(choice)
	vm.state.PendingChoices = nil
	vm.jumpToNode(choice.TargetName)
}

// markChosenOnce records the chosen-once key for the selected choice
// using the site it was collected from directly, so two once choices
// with identical text in the same node never get conflated.
func (vm *VM) markChosenOnce(choice pendingChoice) {
	if choice.Modifier != ChoiceOnce {
		return
	}
	vm.state.ChosenOnce[fmt.Sprintf("%s:%d", choice.NodeName, choice.PC)] = true
}

func (vm *VM) execJump(ins InsJump) {
	if !ins.IsCall {
		vm.jumpToNode(vm.story.stringAt(ins.TargetNodeNameID))
		return
	}
	vm.pushCall(ins.TargetNodeNameID, ins.ArgExprs, "", false)
}

func (vm *VM) execCallWithReturn(ins InsCallWithReturn) {
	vm.pushCall(ins.TargetNodeNameID, ins.ArgExprs, vm.story.stringAt(ins.ReturnVarNameID), true)
}

// pushCall implements call semantics: evaluate args, push a frame,
// jump, bind parameters.
func (vm *VM) pushCall(targetID int32, argExprs []Expression, returnVar string, hasReturnVar bool) {
	if len(vm.state.CallStack) >= vm.maxCallDepth {
		vm.state.Finished = true
		return
	}
	args := make([]Value, len(argExprs))
	for i, e := range argExprs {
		args[i] = vm.evalExpression(e)
	}
	targetName := vm.story.stringAt(targetID)
	target, ok := vm.story.NodeByName(targetName)
	if !ok {
		vm.logf("node %q not found, finishing story", targetName)
		vm.state.Finished = true
		return
	}

	frame := CallFrame{
		ReturnNode:    vm.state.CurrentNode,
		ReturnPC:      vm.state.PC + 1,
		ReturnVarName: returnVar,
		HasReturnVar:  hasReturnVar,
		ParamNames:    append([]string(nil), target.Params...),
	}
	for i, pname := range target.Params {
		if prior, existed := vm.state.Variables[pname]; existed {
			frame.Shadowed = append(frame.Shadowed, shadowEntry{Name: pname, Existed: true, Value: prior})
		} else {
			frame.Shadowed = append(frame.Shadowed, shadowEntry{Name: pname, Existed: false})
		}
		if i < len(args) {
			vm.state.Variables[pname] = args[i]
		} else {
			vm.state.Variables[pname] = ZeroValue()
		}
	}
	vm.state.CallStack = append(vm.state.CallStack, frame)
	vm.jumpToNode(targetName)
}

func (vm *VM) execReturn(ins InsReturn) {
	if ins.HasValue {
		vm.state.PendingReturn = vm.evalOperand(ins.Value)
		vm.state.HasPendingReturn = true
	}
	vm.unwindFrame()
}

// unwindFrame implements the call frame unwinding protocol. It
// reports whether a frame was actually unwound (false at top level,
// meaning the caller should treat this as story end).
func (vm *VM) unwindFrame() bool {
	n := len(vm.state.CallStack)
	if n == 0 {
		return false
	}
	frame := vm.state.CallStack[n-1]
	vm.state.CallStack = vm.state.CallStack[:n-1]

	for i := len(frame.Shadowed) - 1; i >= 0; i-- {
		s := frame.Shadowed[i]
		if s.Existed {
			vm.state.Variables[s.Name] = s.Value
		} else {
			delete(vm.state.Variables, s.Name)
		}
	}
	if frame.HasReturnVar && vm.state.HasPendingReturn {
		vm.state.Variables[frame.ReturnVarName] = vm.state.PendingReturn
	}
	vm.state.HasPendingReturn = false
	vm.state.PendingReturn = Value{}

	vm.state.CurrentNode = frame.ReturnNode
	vm.state.PC = frame.ReturnPC
	return true
}

func (vm *VM) execSetVar(ins InsSetVar) {
	name := vm.story.stringAt(ins.VarNameID)
	val := vm.evalOperand(ins.Value)
	switch ins.Mode {
	case SetAssign:
		vm.state.Variables[name] = val
	case SetListAppend:
		cur := vm.getVariable(name)
		item := val.Stringify()
		for _, existing := range cur.L {
			if existing == item {
				return // idempotent add
			}
		}
		cur.L = append(append([]string(nil), cur.L...), item)
		cur.Kind = ValueList
		vm.state.Variables[name] = cur
	case SetListRemove:
		cur := vm.getVariable(name)
		item := val.Stringify()
		out := make([]string, 0, len(cur.L))
		for _, existing := range cur.L {
			if existing != item {
				out = append(out, existing)
			}
		}
		cur.L = out
		cur.Kind = ValueList
		vm.state.Variables[name] = cur
	}
}

func (vm *VM) execCondition(ins InsCondition) {
	var result bool
	if ins.Mode == ConditionUnified {
		result = vm.evalExpression(ins.Expr).Truthy()
	} else {
		left := vm.evalOperand(ins.Left)
		right := vm.evalOperand(ins.Right)
		result = compareValues(left, right, comparatorToOp(ins.Comparator))
	}
	if result {
		vm.jumpToNode(vm.story.stringAt(ins.TrueTargetNodeNameID))
		return
	}
	if ins.FalseTargetNodeNameID == noStringID {
		vm.state.PC++
		return
	}
	vm.jumpToNode(vm.story.stringAt(ins.FalseTargetNodeNameID))
}

func comparatorToOp(c Comparator) ExprOp {
	switch c {
	case CmpEq:
		return OpEq
	case CmpNe:
		return OpNe
	case CmpLt:
		return OpLt
	case CmpLe:
		return OpLe
	case CmpGt:
		return OpGt
	default:
		return OpGe
	}
}

// execRandom performs a weighted draw; an all-zero-weight block is a
// no-op that falls through.
func (vm *VM) execRandom(ins InsRandom) {
	total := int32(0)
	for _, b := range ins.Branches {
		if b.Weight > 0 {
			total += b.Weight
		}
	}
	if total <= 0 {
		vm.state.PC++
		return
	}
	roll := vm.rng.Int31n(total)
	var acc int32
	for _, b := range ins.Branches {
		if b.Weight <= 0 {
			continue
		}
		acc += b.Weight
		if roll < acc {
			vm.jumpToNode(vm.story.stringAt(b.TargetNodeNameID))
			return
		}
	}
	vm.state.PC++
}

// getVariable returns the safe-zero default for an unbound name.
func (vm *VM) getVariable(name string) Value {
	if v, ok := vm.state.Variables[name]; ok {
		return v
	}
	return ZeroValue()
}

func (vm *VM) SetVariable(name string, v Value) { vm.state.Variables[name] = v }

func (vm *VM) HasVariable(name string) bool {
	_, ok := vm.state.Variables[name]
	return ok
}

// GetVariableNames returns every bound variable name, order
// unspecified.
func (vm *VM) GetVariableNames() []string {
	return maps.Keys(vm.state.Variables)
}

// VisitCount reports how many times node has been entered.
func (vm *VM) VisitCount(node string) int { return vm.state.VisitCounts[node] }

func (vm *VM) HasVisited(node string) bool { return vm.VisitCount(node) > 0 }

// SetSeed reseeds the VM's PRNG; deterministic across VMs given the
// same seed.
func (vm *VM) SetSeed(seed int64) {
	vm.seed = seed
	vm.rng = rand.New(rand.NewSource(seed))
}

// --- debugger surface ---

func (vm *VM) AddBreakpoint(node string, pc int) {
	vm.state.Breakpoints[fmt.Sprintf("%s:%d", node, pc)] = true
}
func (vm *VM) RemoveBreakpoint(node string, pc int) {
	delete(vm.state.Breakpoints, fmt.Sprintf("%s:%d", node, pc))
}
func (vm *VM) ClearBreakpoints() { vm.state.Breakpoints = make(map[string]bool) }
func (vm *VM) HasBreakpoint(node string, pc int) bool {
	return vm.state.Breakpoints[fmt.Sprintf("%s:%d", node, pc)]
}
func (vm *VM) SetStepMode(on bool) { vm.state.StepMode = on }

func (vm *VM) GetLocation() (node string, pc int) { return vm.state.CurrentNode, vm.state.PC }

func (vm *VM) GetCallStack() []CallFrame { return append([]CallFrame(nil), vm.state.CallStack...) }

func (vm *VM) GetNodeNames() []string { return vm.story.NodeNames() }

// GetInstructionInfo returns the human-readable name of the instruction
// at node:pc, part of the debugger surface.
func (vm *VM) GetInstructionInfo(node string, pc int) (string, bool) {
	n, ok := vm.story.NodeByName(node)
	if !ok || pc < 0 || pc >= len(n.Lines) {
		return "", false
	}
	return n.Lines[pc].Name(), true
}
