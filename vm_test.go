package branchscript

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileStory(t *testing.T, src string) *Story {
	t.Helper()
	result := Compile("t.script", []byte(src), nil)
	require.False(t, result.Diagnostics.HasErrors(), "%v", result.Diagnostics)
	return result.Story
}

func TestScenarioLinearDialogue(t *testing.T) {
	story := compileStory(t, "label start:\n  hero \"hello\"\n")
	vm := NewVM(story, nil)
	vm.Start()

	ev := vm.Step()
	require.Equal(t, EventLine, ev.Kind)
	assert.Equal(t, "hero", ev.Character)
	assert.Equal(t, "hello", ev.Text)

	ev = vm.Step()
	assert.Equal(t, EventEnd, ev.Kind)
	assert.True(t, vm.IsFinished())
}

func TestScenarioMenuSelection(t *testing.T) {
	src := `label start:
  menu:
    "go a" -> a
    "go b" -> b
label a:
  "in a"
label b:
  "in b"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()

	ev := vm.Step()
	require.Equal(t, EventChoices, ev.Kind)
	require.Len(t, ev.Choices, 2)

	vm.Choose(1)
	ev = vm.Step()
	require.Equal(t, EventLine, ev.Kind)
	assert.Equal(t, "in b", ev.Text)
}

func TestScenarioCallWithReturnAndSaveRestore(t *testing.T) {
	src := `label start:
  $ r = call helper
  "r is {r}"
label helper:
  return 42
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()

	ev := vm.Step()
	require.Equal(t, EventLine, ev.Kind)
	assert.Equal(t, "r is 42", ev.Text)
	assert.EqualValues(t, 42, vm.getVariable("r").AsInt())

	ev = vm.Step()
	require.Equal(t, EventEnd, ev.Kind)

	vm2 := NewVM(story, nil)
	vm2.Start()
	vm2.Step()
	saved := vm2.SaveState()

	vm3 := NewVM(story, nil)
	require.NoError(t, vm3.LoadState(saved))
	next2 := vm2.Step()
	next3 := vm3.Step()
	assert.Equal(t, next2, next3)
}

func TestScenarioDeterministicRandom(t *testing.T) {
	src := `label start:
  random:
    1 -> a
    1 -> b
label a:
  "got a"
label b:
  "got b"
`
	story := compileStory(t, src)

	run := func(seed int64) string {
		vm := NewVM(story, nil)
		vm.SetSeed(seed)
		vm.Start()
		return vm.Step().Text
	}
	assert.Equal(t, run(1), run(1))
}

func TestScenarioInlineInterpolationWithConditional(t *testing.T) {
	src := "label start:\n  $ hp = 30\n  \"HP: {hp} {if hp<50}(low){endif}\"\n"
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	ev := vm.Step()
	assert.Equal(t, "HP: 30 (low)", ev.Text)
}

func TestScenarioLocalization(t *testing.T) {
	story := compileStory(t, "label start:\n  \"hello\"\n")
	lineID := story.Pool.lineIDAt(story.Nodes[0].Lines[0].(InsLine).TextID)
	csv := "line_id,type,node,character,text\n" + lineID + ",LINE,start,,bonjour\n"

	vm := NewVM(story, nil)
	require.NoError(t, vm.LoadLocale(strings.NewReader(csv)))
	vm.Start()
	ev := vm.Step()
	assert.Equal(t, "bonjour", ev.Text)

	vm.ClearLocale()
	vm2 := NewVM(story, nil)
	vm2.Start()
	ev2 := vm2.Step()
	assert.Equal(t, "hello", ev2.Text)
}

func TestConditionFallthroughOnFalseWithNoElse(t *testing.T) {
	src := `label start:
  if false -> never
  "fell through"
label never:
  "should not reach"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	ev := vm.Step()
	assert.Equal(t, "fell through", ev.Text)
}

func TestChoiceWithUndefinedConditionIsHidden(t *testing.T) {
	src := `label start:
  menu:
    "secret" -> a if has_key
    "open" -> b
label a:
  "a"
label b:
  "b"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	ev := vm.Step()
	require.Equal(t, EventChoices, ev.Kind)
	require.Len(t, ev.Choices, 1)
	assert.Equal(t, "open", ev.Choices[0].Text)
}

func TestAllZeroWeightRandomIsNoOp(t *testing.T) {
	src := `label start:
  random:
    0 -> a
    0 -> b
  "after random"
label a:
  "a"
label b:
  "b"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	ev := vm.Step()
	assert.Equal(t, "after random", ev.Text)
}

func TestOnceChoiceHiddenAfterSelection(t *testing.T) {
	src := `label start:
  menu:
    "take gem" -> gem #once
    "leave" -> leave
label gem:
  jump start
label leave:
  "bye"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()

	ev := vm.Step()
	require.Len(t, ev.Choices, 2)
	vm.Choose(0) // take gem -> jumps back to start

	ev = vm.Step()
	require.Equal(t, EventChoices, ev.Kind)
	require.Len(t, ev.Choices, 1)
	assert.Equal(t, "leave", ev.Choices[0].Text)
}

func TestOnceChoicesWithDuplicateTextAreIndependent(t *testing.T) {
	src := `label start:
  menu:
    "take it" -> gem #once
    "take it" -> coin #once
    "leave" -> leave
label gem:
  jump start
label coin:
  jump start
label leave:
  "bye"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()

	ev := vm.Step()
	require.Len(t, ev.Choices, 3)
	vm.Choose(0) // first "take it" -> gem, jumps back to start

	ev = vm.Step()
	require.Equal(t, EventChoices, ev.Kind)
	require.Len(t, ev.Choices, 2, "only the selected once-choice should hide, not every choice sharing its text")
	assert.Equal(t, "take it", ev.Choices[0].Text)
	assert.Equal(t, "leave", ev.Choices[1].Text)
}

func TestFallbackChoiceOnlyShownWhenNoOtherVisible(t *testing.T) {
	src := `label start:
  menu:
    "a" -> na if nope
    "default" -> nd #fallback
label na:
  "a"
label nd:
  "d"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	ev := vm.Step()
	require.Len(t, ev.Choices, 1)
	assert.Equal(t, "default", ev.Choices[0].Text)
}

func TestSoftFailsLogInsteadOfPanicking(t *testing.T) {
	story := compileStory(t, "label start:\n  \"hi\"\n")
	vm := NewVM(story, nil)
	var buf bytes.Buffer
	vm.SetLogger(log.New(&buf, "", 0))

	vm.StartAt("does-not-exist")
	assert.True(t, vm.IsFinished())
	assert.Contains(t, buf.String(), "does-not-exist")

	buf.Reset()
	vm.Start()
	vm.Step()
	vm.Choose(99)
	assert.Contains(t, buf.String(), "out of range")
}

func TestSetLoggerNilSilencesSoftFails(t *testing.T) {
	story := compileStory(t, "label start:\n  \"hi\"\n")
	vm := NewVM(story, nil)
	vm.SetLogger(nil)
	assert.NotPanics(t, func() { vm.StartAt("does-not-exist") })
	assert.True(t, vm.IsFinished())
}

func TestVisitCountMonotonic(t *testing.T) {
	src := `label start:
  jump again
label again:
  jump start
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.SetStepMode(true)
	vm.Start()
	last := vm.VisitCount("start")
	for i := 0; i < 5; i++ {
		vm.Step()
		next := vm.VisitCount("start")
		assert.GreaterOrEqual(t, next, last)
		last = next
	}
}
