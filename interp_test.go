package branchscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolateVariableLookup(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("name", StringValue("Ari"))
	assert.Equal(t, "hello Ari", vm.Interpolate("hello {name}"))
}

func TestInterpolateIfElse(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("hp", IntValue(30))
	assert.Equal(t, "HP: 30 (low)", vm.Interpolate("HP: {hp} {if hp<50}(low){else}(ok){endif}"))

	vm.SetVariable("hp", IntValue(90))
	assert.Equal(t, "HP: 90 (ok)", vm.Interpolate("HP: {hp} {if hp<50}(low){else}(ok){endif}"))
}

func TestInterpolateNestedIfDepthRouting(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("a", BoolValue(true))
	vm.SetVariable("b", BoolValue(false))
	text := "{if a}outer-true{if b}inner-true{else}inner-false{endif}{else}outer-false{endif}"
	assert.Equal(t, "outer-trueinner-false", vm.Interpolate(text))
}

func TestInterpolateMissingBraceIsLiteral(t *testing.T) {
	vm := newTestVM(t)
	assert.Equal(t, "cost: {5 gold", vm.Interpolate("cost: {5 gold"))
}

func TestInterpolateBuiltins(t *testing.T) {
	vm := newTestVM(t)
	vm.state.VisitCounts["start"] = 2
	assert.Equal(t, "visits: 2", vm.Interpolate(`visits: {visit_count("start")}`))
	assert.Equal(t, "seen: true", vm.Interpolate(`seen: {visited("start")}`))
}

func TestInterpolateMembership(t *testing.T) {
	vm := newTestVM(t)
	vm.SetVariable("inventory", ListValue([]string{"torch"}))
	assert.Equal(t, "lit", vm.Interpolate(`{if "torch" in inventory}lit{else}dark{endif}`))
}

func TestInterpolateRecursionDepthBounded(t *testing.T) {
	vm := newTestVM(t)
	vm.maxInterpDepth = 2
	text := "{if true}{if true}{if true}deep{endif}{endif}{endif}"
	out := vm.Interpolate(text)
	assert.LessOrEqual(t, len(out), len(text))
}
