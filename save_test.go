package branchscript

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveRestoreIdempotence(t *testing.T) {
	src := `label start:
  $ gold = 10
  $ inventory[] = "torch"
  menu:
    "go" -> next
label next:
  "arrived with {gold} and {inventory}"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	vm.Step() // choices event
	vm.Choose(0)

	saved := vm.SaveState()
	buf := EncodeSave(saved)
	decoded, err := DecodeSave(buf)
	require.NoError(t, err)

	restored := NewVM(story, nil)
	require.NoError(t, restored.LoadState(decoded))

	want := vm.Step()
	got := restored.Step()
	assert.Equal(t, want, got)
}

func TestSaveStateUsesNonAmbiguousValueTags(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("a", BoolValue(true))
	vm.SetVariable("b", IntValue(5))
	vm.SetVariable("c", FloatValue(1.5))
	vm.SetVariable("d", StringValue("x"))
	vm.SetVariable("e", ListValue([]string{"x", "y"}))

	saved := vm.SaveState()
	buf := EncodeSave(saved)
	decoded, err := DecodeSave(buf)
	require.NoError(t, err)

	for name, want := range saved.Variables {
		got := decoded.Variables[name]
		assert.Equal(t, want.Kind, got.Kind)
		assert.True(t, want.Equal(got), "variable %s round-tripped incorrectly", name)
	}
}

func TestLoadStateRejectsSchemaMismatch(t *testing.T) {
	vm := newTestVM(t)
	saved := vm.SaveState()
	saved.SchemaVersion = "99.0"
	err := vm.LoadState(saved)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestLoadStateDropsPendingChoiceForStaleTarget(t *testing.T) {
	src := `label start:
  menu:
    "go" -> next
label next:
  "hi"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	vm.Step()
	saved := vm.SaveState()
	saved.Pending = append(saved.Pending, pendingChoice{Text: "ghost", TargetName: "does_not_exist"})

	restored := NewVM(story, nil)
	require.NoError(t, restored.LoadState(saved))
	for _, p := range restored.state.PendingChoices {
		assert.NotEqual(t, "ghost", p.Text)
	}
}

func TestRelocatePendingChoicesAlignsAfterStaleEntryDropped(t *testing.T) {
	src := `label start:
  menu:
    "A" -> armory
    "B" -> treasury
    "Leave" -> hallway #once
label armory:
  "a"
label treasury:
  "t"
label hallway:
  "h"
`
	story := compileStory(t, src)
	vm := NewVM(story, nil)
	vm.Start()
	vm.Step()
	saved := vm.SaveState()

	// Simulate "treasury" having been removed from the story between save
	// and load: its pending entry is gone, the way LoadState's own
	// stale-target drop would leave it, but "A" and "Leave" remain.
	var kept []pendingChoice
	for _, p := range saved.Pending {
		if p.TargetName != "treasury" {
			kept = append(kept, p)
		}
	}
	saved.Pending = kept

	restored := NewVM(story, nil)
	require.NoError(t, restored.LoadState(saved))
	require.Len(t, restored.state.PendingChoices, 2)
	leave := restored.state.PendingChoices[1]
	assert.Equal(t, "Leave", leave.Text)

	restored.Choose(1)
	assert.True(t, restored.state.ChosenOnce[fmt.Sprintf("%s:%d", "start", leave.PC)],
		"the #once key recorded must belong to the selected Leave site, not the dropped B/treasury site")
}

func TestDecodeSaveRejectsBadMagic(t *testing.T) {
	_, err := DecodeSave([]byte{1, 2, 3, 4})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSaveFile)
}
