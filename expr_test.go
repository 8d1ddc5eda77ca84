package branchscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileAndEval(t *testing.T, vm *VM, src string) Value {
	t.Helper()
	expr, err := compileExpression(vm.story.Pool, src)
	require.NoError(t, err)
	return vm.evalExpression(expr)
}

func newTestVM(t *testing.T) *VM {
	t.Helper()
	story, diags := ParseSource("t.script", []byte("label start:\n  \"hi\"\n"), nil)
	require.False(t, diags.HasErrors())
	vm := NewVM(story, nil)
	vm.Start()
	return vm
}

func TestExpressionPrecedence(t *testing.T) {
	vm := newTestVM(t)
	v := compileAndEval(t, vm, "1 + 2 * 3")
	assert.EqualValues(t, 7, v.AsInt())
}

func TestExpressionComparisonFamilySelection(t *testing.T) {
	vm := newTestVM(t)
	assert.True(t, compileAndEval(t, vm, "true == true").Truthy())
	assert.True(t, compileAndEval(t, vm, `"a" == "a"`).Truthy())
	assert.True(t, compileAndEval(t, vm, "1.5 > 1").Truthy())
	assert.False(t, compileAndEval(t, vm, "true < false").Truthy())
}

func TestExpressionDivisionByZeroIsSafeZero(t *testing.T) {
	vm := newTestVM(t)
	assert.EqualValues(t, 0, compileAndEval(t, vm, "5 / 0").AsInt())
	assert.EqualValues(t, 0, compileAndEval(t, vm, "5 mod 0").AsInt())
	notices := vm.DrainNotices()
	require.Len(t, notices, 2)
}

func TestExpressionFloatDivisionByZero(t *testing.T) {
	vm := newTestVM(t)
	v := compileAndEval(t, vm, "5.0 / 0")
	assert.EqualValues(t, 0, v.AsFloat())
	notices := vm.DrainNotices()
	require.Len(t, notices, 1)
}

func TestExpressionUnknownVariableDefaultsToZero(t *testing.T) {
	vm := newTestVM(t)
	assert.EqualValues(t, 0, compileAndEval(t, vm, "nonexistent").AsInt())
}

func TestExpressionContainsAndInAreSymmetric(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("inventory", ListValue([]string{"sword", "shield"}))
	assert.True(t, compileAndEval(t, vm, `inventory contains "sword"`).Truthy())
	assert.True(t, compileAndEval(t, vm, `"sword" in inventory`).Truthy())
	assert.False(t, compileAndEval(t, vm, `"bow" in inventory`).Truthy())
}

func TestExpressionLogicalOpsDoNotShortCircuit(t *testing.T) {
	vm := newTestVM(t)
	assert.True(t, compileAndEval(t, vm, "true or false").Truthy())
	assert.False(t, compileAndEval(t, vm, "true and false").Truthy())
	assert.False(t, compileAndEval(t, vm, "not true").Truthy())

	// The left operand already decides the result, yet the right operand
	// is still evaluated: its division by zero records a notice.
	assert.False(t, compileAndEval(t, vm, "false and 1 / 0 == 0").Truthy())
	assert.Len(t, vm.DrainNotices(), 1)
}

func TestExpressionVisitCountAndVisited(t *testing.T) {
	vm := newTestVM(t)
	vm.state.VisitCounts["start"] = 3
	assert.EqualValues(t, 3, compileAndEval(t, vm, `visit_count("start")`).AsInt())
	assert.True(t, compileAndEval(t, vm, `visited("start")`).Truthy())
	assert.False(t, compileAndEval(t, vm, `visited("nowhere")`).Truthy())
}

func TestExpressionLen(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("items", ListValue([]string{"a", "b", "c"}))
	assert.EqualValues(t, 3, compileAndEval(t, vm, `len(items)`).AsInt())
}
