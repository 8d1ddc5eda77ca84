package branchscript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinearDialogue(t *testing.T) {
	src := "label start:\n  hero \"hello\"\n"
	story, diags := ParseSource("t.script", []byte(src), nil)
	require.False(t, diags.HasErrors())
	require.Len(t, story.Nodes, 1)

	node := story.Nodes[0]
	require.Len(t, node.Lines, 1)
	line, ok := node.Lines[0].(InsLine)
	require.True(t, ok)
	assert.Equal(t, "hero", story.stringAt(line.CharacterID))
	assert.Equal(t, "hello", story.stringAt(line.TextID))
	assert.NotEmpty(t, story.Pool.lineIDAt(line.TextID))
}

func TestParseMenuWithModifierAndCondition(t *testing.T) {
	src := `label start:
  menu:
    "go left" -> left if has_key
    "go right" -> right #once
label left:
  "you went left"
label right:
  "you went right"
`
	story, diags := ParseSource("t.script", []byte(src), nil)
	require.False(t, diags.HasErrors())

	start, ok := story.NodeByName("start")
	require.True(t, ok)
	require.Len(t, start.Lines, 2)

	c0 := start.Lines[0].(InsChoice)
	assert.Equal(t, "left", story.stringAt(c0.TargetNodeNameID))
	assert.Equal(t, "has_key", story.stringAt(c0.ConditionVarID))
	assert.Equal(t, ChoiceDefault, c0.Modifier)

	c1 := start.Lines[1].(InsChoice)
	assert.Equal(t, "right", story.stringAt(c1.TargetNodeNameID))
	assert.Equal(t, ChoiceOnce, c1.Modifier)
}

func TestParseRandomMissingWeightDefaultsToOne(t *testing.T) {
	src := `label start:
  random:
    -> a
    3 -> b
label a:
  "a"
label b:
  "b"
`
	story, diags := ParseSource("t.script", []byte(src), nil)
	require.False(t, diags.HasErrors())
	start, _ := story.NodeByName("start")
	rnd := start.Lines[0].(InsRandom)
	require.Len(t, rnd.Branches, 2)
	assert.EqualValues(t, 1, rnd.Branches[0].Weight)
	assert.EqualValues(t, 3, rnd.Branches[1].Weight)
}

func TestParseIfInlineElseAndElifExclusivity(t *testing.T) {
	src := `label start:
  if hp < 10 -> low else high
  elif hp < 50 -> mid
label low:
  "low"
label high:
  "high"
label mid:
  "mid"
`
	_, diags := ParseSource("t.script", []byte(src), nil)
	require.True(t, diags.HasErrors())
	assert.Equal(t, KindParseError, diags[0].Kind)
}

func TestParseCommandLine(t *testing.T) {
	src := "label start:\n  @shake 5 fast\n"
	story, diags := ParseSource("t.script", []byte(src), nil)
	require.False(t, diags.HasErrors())
	start, _ := story.NodeByName("start")
	cmd := start.Lines[0].(InsCommand)
	assert.Equal(t, "shake", story.stringAt(cmd.TypeID))
	require.Len(t, cmd.Params, 2)
	assert.Equal(t, "5", story.stringAt(cmd.Params[0]))
	assert.Equal(t, "fast", story.stringAt(cmd.Params[1]))
}

func TestParseDuplicateNodeNameIsDiagnostic(t *testing.T) {
	src := "label start:\n  \"a\"\nlabel start:\n  \"b\"\n"
	_, diags := ParseSource("t.script", []byte(src), nil)
	require.True(t, diags.HasErrors())
}

func TestLineIDStableAcrossRecompiles(t *testing.T) {
	src := "label start:\n  hero \"hello\"\n"
	story1, _ := ParseSource("t.script", []byte(src), nil)
	story2, _ := ParseSource("t.script", []byte(src), nil)

	line1 := story1.Nodes[0].Lines[0].(InsLine)
	line2 := story2.Nodes[0].Lines[0].(InsLine)
	assert.Equal(t, story1.Pool.lineIDAt(line1.TextID), story2.Pool.lineIDAt(line2.TextID))
}

func TestSplitArgsIgnoresCommasInsideQuotedStrings(t *testing.T) {
	got := splitArgs(`"Welcome, traveler", 5`)
	require.Len(t, got, 2)
	assert.Equal(t, `"Welcome, traveler"`, strings.TrimSpace(got[0]))
	assert.Equal(t, "5", strings.TrimSpace(got[1]))
}

func TestParseCallWithStringArgumentContainingComma(t *testing.T) {
	src := "label start:\n  call greet(\"hi, there\", 3)\nlabel greet:\n  return\n"
	story, diags := ParseSource("t.script", []byte(src), nil)
	require.False(t, diags.HasErrors(), "%v", diags)
	start, _ := story.NodeByName("start")
	call := start.Lines[0].(InsJump)
	require.True(t, call.IsCall)
	require.Len(t, call.ArgExprs, 2)
}

func TestStringPoolDedup(t *testing.T) {
	src := "label start:\n  hero \"hello\"\nlabel again:\n  hero \"hello\"\n"
	story, _ := ParseSource("t.script", []byte(src), nil)
	seen := make(map[string]bool)
	for _, s := range story.Pool.strings {
		assert.False(t, seen[s], "duplicate pool entry %q", s)
		seen[s] = true
	}
}
