package branchscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseForValidation(t *testing.T, src string) *Story {
	t.Helper()
	story, diags := ParseSource("t.script", []byte(src), nil)
	require.False(t, diags.HasErrors(), "%v", diags)
	return story
}

func TestValidateReferencesAcceptsResolvedTargets(t *testing.T) {
	src := `label start:
  menu:
    "go" -> next if seen
  jump next
  $ r = call next
label next:
  if true -> start
  "hi"
`
	story := parseForValidation(t, src)
	diags := ValidateReferences("t.script", story)
	assert.Empty(t, diags)
}

func TestValidateReferencesFlagsUnknownJumpTarget(t *testing.T) {
	story := parseForValidation(t, "label start:\n  jump nowhere\n")
	diags := ValidateReferences("t.script", story)
	require.Len(t, diags, 1)
	assert.Equal(t, KindReferenceError, diags[0].Kind)
	assert.Contains(t, diags[0].Message, "nowhere")
}

func TestValidateReferencesFlagsUnknownChoiceTarget(t *testing.T) {
	src := `label start:
  menu:
    "go" -> nowhere
`
	story := parseForValidation(t, src)
	diags := ValidateReferences("t.script", story)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "choice")
}

func TestValidateReferencesFlagsUnknownCallTarget(t *testing.T) {
	story := parseForValidation(t, "label start:\n  $ r = call nowhere\n")
	diags := ValidateReferences("t.script", story)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "call")
}

func TestValidateReferencesFlagsUnknownRandomBranch(t *testing.T) {
	src := `label start:
  random:
    1 -> nowhere
`
	story := parseForValidation(t, src)
	diags := ValidateReferences("t.script", story)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "random")
}

func TestValidateReferencesAllowsConditionWithNoElseBranch(t *testing.T) {
	src := `label start:
  if true -> start
  "fell through"
`
	story := parseForValidation(t, src)
	node, ok := story.NodeByName("start")
	require.True(t, ok)
	cond, ok := node.Lines[0].(InsCondition)
	require.True(t, ok)
	assert.EqualValues(t, -1, cond.FalseTargetNodeNameID)

	diags := ValidateReferences("t.script", story)
	assert.Empty(t, diags)
}

func TestValidateReferencesFlagsUnknownConditionBranch(t *testing.T) {
	src := `label start:
  if true -> nowhere
  "fell through"
`
	story := parseForValidation(t, src)
	diags := ValidateReferences("t.script", story)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "condition")
}

func TestValidateReferencesReportsSourceLineNumbers(t *testing.T) {
	src := "label start:\n  \"line one\"\n  jump nowhere\n"
	story := parseForValidation(t, src)
	diags := ValidateReferences("t.script", story)
	require.Len(t, diags, 1)
	assert.Equal(t, 3, diags[0].Line)
}
