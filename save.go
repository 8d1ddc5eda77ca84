package branchscript

import (
	"fmt"

	"github.com/google/uuid"
)

// saveMagic tags every save buffer, distinct from storyMagic so the two
// binary formats can never be cross-loaded by accident. A save file is
// its own schema-versioned container, separate from the story format.
const saveMagic uint32 = 0x42535631 // "BSV1"

const saveSchemaVersion = "1.0"

// valueTag is the save file's own non-ambiguous union discriminant for
// a Value: one tag per variant, with no string-pool index carried
// forward, so a save file decodes without needing the originating
// story's pool.
type valueTag uint8

const (
	tagBool valueTag = iota
	tagInt
	tagFloat
	tagString
	tagStringList
)

// SaveState is the full state snapshot a host can persist and later
// restore. SaveID stamps every snapshot with a fresh identity so a host
// can distinguish two saves taken at the same instant in wall-clock
// time without relying on a timestamp.
type SaveState struct {
	SaveID        string
	SchemaVersion string
	StoryVersion  string
	CurrentNode   string
	PC            int
	Finished      bool
	Variables     map[string]Value
	CallStack     []CallFrame
	Pending       []pendingChoice
	VisitCounts   map[string]int
	ChosenOnce    map[string]bool
}

// SaveState snapshots every part of runtime state a restore needs. The
// RNG sequence and breakpoints are not captured.
func (vm *VM) SaveState() SaveState {
	return SaveState{
		SaveID:        uuid.NewString(),
		SchemaVersion: saveSchemaVersion,
		StoryVersion:  vm.story.Version,
		CurrentNode:   vm.state.CurrentNode,
		PC:            vm.state.PC,
		Finished:      vm.state.Finished,
		Variables:     copyVarMap(vm.state.Variables),
		CallStack:     append([]CallFrame(nil), vm.state.CallStack...),
		Pending:       append([]pendingChoice(nil), vm.state.PendingChoices...),
		VisitCounts:   copyIntMap(vm.state.VisitCounts),
		ChosenOnce:    copyBoolMap(vm.state.ChosenOnce),
	}
}

// LoadState verifies the schema version, clears runtime state, then
// rebuilds variables, call stack (rejecting unresolvable node names),
// and pending choices (dropping ones whose target no longer resolves,
// to tolerate story edits between save and load).
func (vm *VM) LoadState(s SaveState) error {
	if s.SchemaVersion != saveSchemaVersion {
		return fmt.Errorf("%w: save schema %q, want %q", ErrSchemaMismatch, s.SchemaVersion, saveSchemaVersion)
	}
	if _, ok := vm.story.NodeByName(s.CurrentNode); !ok && !s.Finished {
		return fmt.Errorf("%w: current node %q not found in loaded story", ErrInvalidSaveFile, s.CurrentNode)
	}
	for _, f := range s.CallStack {
		if _, ok := vm.story.NodeByName(f.ReturnNode); !ok {
			return fmt.Errorf("%w: call frame return node %q not found", ErrInvalidSaveFile, f.ReturnNode)
		}
	}

	vm.resetState()
	vm.state.Variables = copyVarMap(s.Variables)
	vm.state.CurrentNode = s.CurrentNode
	vm.state.PC = s.PC
	vm.state.Finished = s.Finished
	vm.state.CallStack = append([]CallFrame(nil), s.CallStack...)
	vm.state.VisitCounts = copyIntMap(s.VisitCounts)
	vm.state.ChosenOnce = copyBoolMap(s.ChosenOnce)

	for _, p := range s.Pending {
		if _, ok := vm.story.NodeByName(p.TargetName); !ok {
			continue // silently drop: story no longer has this choice's target
		}
		vm.state.PendingChoices = append(vm.state.PendingChoices, p)
	}
	vm.state.PendingChoices = vm.relocatePendingChoices(vm.state.PendingChoices)
	return nil
}

func copyVarMap(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EncodeSave serializes s using the same hand-rolled binWriter codec as
// the story format (wire.go), but under its own magic/schema.
func EncodeSave(s SaveState) []byte {
	w := &binWriter{}
	w.u32(saveMagic)
	w.str(s.SaveID)
	w.str(s.SchemaVersion)
	w.str(s.StoryVersion)
	w.str(s.CurrentNode)
	w.i32(int32(s.PC))
	w.bool(s.Finished)

	w.count_(len(s.Variables))
	for name, v := range s.Variables {
		w.str(name)
		writeSaveValue(w, v)
	}

	w.count_(len(s.CallStack))
	for _, f := range s.CallStack {
		w.str(f.ReturnNode)
		w.i32(int32(f.ReturnPC))
		w.bool(f.HasReturnVar)
		w.str(f.ReturnVarName)
		w.count_(len(f.Shadowed))
		for _, sh := range f.Shadowed {
			w.str(sh.Name)
			w.bool(sh.Existed)
			if sh.Existed {
				writeSaveValue(w, sh.Value)
			}
		}
		w.count_(len(f.ParamNames))
		for _, p := range f.ParamNames {
			w.str(p)
		}
	}

	w.count_(len(s.Pending))
	for _, p := range s.Pending {
		w.str(p.Text)
		w.str(p.TargetName)
	}

	w.count_(len(s.VisitCounts))
	for name, n := range s.VisitCounts {
		w.str(name)
		w.i32(int32(n))
	}

	w.count_(len(s.ChosenOnce))
	for key := range s.ChosenOnce {
		w.str(key)
	}
	return w.buf
}

func writeSaveValue(w *binWriter, v Value) {
	switch v.Kind {
	case ValueBool:
		w.u8(uint8(tagBool))
		w.bool(v.B)
	case ValueInt:
		w.u8(uint8(tagInt))
		w.i32(v.I)
	case ValueFloat:
		w.u8(uint8(tagFloat))
		w.f32(v.F)
	case ValueString:
		w.u8(uint8(tagString))
		w.str(v.S)
	case ValueList:
		w.u8(uint8(tagStringList))
		w.count_(len(v.L))
		for _, item := range v.L {
			w.str(item)
		}
	}
}

func readSaveValue(r *binReader) (Value, error) {
	tag, err := r.u8()
	if err != nil {
		return Value{}, err
	}
	switch valueTag(tag) {
	case tagBool:
		b, err := r.boolean()
		return BoolValue(b), err
	case tagInt:
		i, err := r.i32()
		return IntValue(i), err
	case tagFloat:
		f, err := r.f32()
		return FloatValue(f), err
	case tagString:
		s, err := r.str()
		return StringValue(s), err
	case tagStringList:
		n, err := r.count()
		if err != nil {
			return Value{}, err
		}
		items := make([]string, n)
		for i := 0; i < n; i++ {
			items[i], err = r.str()
			if err != nil {
				return Value{}, err
			}
		}
		return ListValue(items), nil
	default:
		return Value{}, fmt.Errorf("%w: save value tag %d", ErrUnknownUnionTag, tag)
	}
}

// DecodeSave verifies and deserializes a save buffer. Every vector,
// including each frame's shadowed_vars and param_names, is read as a
// counted, possibly zero-length sequence, so a frame saved with empty
// lists loads with them empty. The count fields themselves are always
// read: a buffer that leaves them out entirely is not decoded.
func DecodeSave(buf []byte) (SaveState, error) {
	r := newBinReader(buf)
	magic, err := r.u32()
	if err != nil || magic != saveMagic {
		return SaveState{}, fmt.Errorf("%w: bad magic", ErrInvalidSaveFile)
	}
	var s SaveState
	if s.SaveID, err = r.str(); err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	if s.SchemaVersion, err = r.str(); err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	if s.StoryVersion, err = r.str(); err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	if s.CurrentNode, err = r.str(); err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	pc, err := r.i32()
	if err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	s.PC = int(pc)
	if s.Finished, err = r.boolean(); err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}

	varCount, err := r.count()
	if err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	s.Variables = make(map[string]Value, varCount)
	for i := 0; i < varCount; i++ {
		name, err := r.str()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: variable %d: %s", ErrInvalidSaveFile, i, err)
		}
		val, err := readSaveValue(r)
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: variable %d value: %s", ErrInvalidSaveFile, i, err)
		}
		s.Variables[name] = val
	}

	frameCount, err := r.count()
	if err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	for i := 0; i < frameCount; i++ {
		var f CallFrame
		if f.ReturnNode, err = r.str(); err != nil {
			return SaveState{}, fmt.Errorf("%w: frame %d: %s", ErrInvalidSaveFile, i, err)
		}
		rpc, err := r.i32()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: frame %d: %s", ErrInvalidSaveFile, i, err)
		}
		f.ReturnPC = int(rpc)
		if f.HasReturnVar, err = r.boolean(); err != nil {
			return SaveState{}, fmt.Errorf("%w: frame %d: %s", ErrInvalidSaveFile, i, err)
		}
		if f.ReturnVarName, err = r.str(); err != nil {
			return SaveState{}, fmt.Errorf("%w: frame %d: %s", ErrInvalidSaveFile, i, err)
		}
		shadowCount, err := r.count()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: frame %d: %s", ErrInvalidSaveFile, i, err)
		}
		for j := 0; j < shadowCount; j++ {
			var sh shadowEntry
			if sh.Name, err = r.str(); err != nil {
				return SaveState{}, fmt.Errorf("%w: frame %d shadow %d: %s", ErrInvalidSaveFile, i, j, err)
			}
			if sh.Existed, err = r.boolean(); err != nil {
				return SaveState{}, fmt.Errorf("%w: frame %d shadow %d: %s", ErrInvalidSaveFile, i, j, err)
			}
			if sh.Existed {
				if sh.Value, err = readSaveValue(r); err != nil {
					return SaveState{}, fmt.Errorf("%w: frame %d shadow %d: %s", ErrInvalidSaveFile, i, j, err)
				}
			}
			f.Shadowed = append(f.Shadowed, sh)
		}
		paramCount, err := r.count()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: frame %d: %s", ErrInvalidSaveFile, i, err)
		}
		for j := 0; j < paramCount; j++ {
			p, err := r.str()
			if err != nil {
				return SaveState{}, fmt.Errorf("%w: frame %d param %d: %s", ErrInvalidSaveFile, i, j, err)
			}
			f.ParamNames = append(f.ParamNames, p)
		}
		s.CallStack = append(s.CallStack, f)
	}

	pendingCount, err := r.count()
	if err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	for i := 0; i < pendingCount; i++ {
		var p pendingChoice
		if p.Text, err = r.str(); err != nil {
			return SaveState{}, fmt.Errorf("%w: pending choice %d: %s", ErrInvalidSaveFile, i, err)
		}
		if p.TargetName, err = r.str(); err != nil {
			return SaveState{}, fmt.Errorf("%w: pending choice %d: %s", ErrInvalidSaveFile, i, err)
		}
		s.Pending = append(s.Pending, p)
	}

	visitCount, err := r.count()
	if err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	s.VisitCounts = make(map[string]int, visitCount)
	for i := 0; i < visitCount; i++ {
		name, err := r.str()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: visit count %d: %s", ErrInvalidSaveFile, i, err)
		}
		n, err := r.i32()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: visit count %d: %s", ErrInvalidSaveFile, i, err)
		}
		s.VisitCounts[name] = int(n)
	}

	onceCount, err := r.count()
	if err != nil {
		return SaveState{}, fmt.Errorf("%w: %s", ErrInvalidSaveFile, err)
	}
	s.ChosenOnce = make(map[string]bool, onceCount)
	for i := 0; i < onceCount; i++ {
		key, err := r.str()
		if err != nil {
			return SaveState{}, fmt.Errorf("%w: chosen-once %d: %s", ErrInvalidSaveFile, i, err)
		}
		s.ChosenOnce[key] = true
	}

	if !r.atEnd() {
		return SaveState{}, fmt.Errorf("%w: trailing bytes after save", ErrInvalidSaveFile)
	}
	return s, nil
}
