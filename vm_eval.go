package branchscript

// evalExpression runs expr on an RPN stack machine: numeric promotion,
// comparison family selection, non-short-circuit logic, built-ins,
// unknown-variable default, empty-stack abort. This is the one place in
// the VM that produces a safe default instead of a hard failure on a
// runtime type/op mismatch.
func (vm *VM) evalExpression(expr Expression) Value {
	var stack []Value
	push := func(v Value) { stack = append(stack, v) }
	pop := func() (Value, bool) {
		if len(stack) == 0 {
			return ZeroValue(), false
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, true
	}

	for _, tok := range expr {
		switch tok.Op {
		case OpPushLiteral:
			push(tok.Literal.resolve(vm.story))
		case OpPushVariable:
			push(vm.getVariable(vm.story.stringAt(tok.VarNameID)))
		case OpVisitCount:
			push(IntValue(int32(vm.VisitCount(vm.story.stringAt(tok.VarNameID)))))
		case OpVisited:
			push(BoolValue(vm.VisitCount(vm.story.stringAt(tok.VarNameID)) > 0))
		case OpLen:
			v := vm.getVariable(vm.story.stringAt(tok.VarNameID))
			push(IntValue(int32(len(v.L))))
		case OpNeg:
			a, ok := pop()
			if !ok {
				return ZeroValue()
			}
			if a.Kind == ValueFloat {
				push(FloatValue(-float32(a.AsFloat())))
			} else {
				push(IntValue(-a.AsInt()))
			}
		case OpNot:
			a, ok := pop()
			if !ok {
				return ZeroValue()
			}
			push(BoolValue(!a.Truthy()))
		case OpListContains:
			b, ok1 := pop() // value
			a, ok2 := pop() // list
			if !ok1 || !ok2 {
				return ZeroValue()
			}
			found := false
			for _, item := range a.L {
				if item == b.Stringify() {
					found = true
					break
				}
			}
			push(BoolValue(found))
		case OpAnd, OpOr:
			b, ok1 := pop()
			a, ok2 := pop()
			if !ok1 || !ok2 {
				return ZeroValue()
			}
			if tok.Op == OpAnd {
				push(BoolValue(a.Truthy() && b.Truthy()))
			} else {
				push(BoolValue(a.Truthy() || b.Truthy()))
			}
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			b, ok1 := pop()
			a, ok2 := pop()
			if !ok1 || !ok2 {
				return ZeroValue()
			}
			push(BoolValue(compareValues(a, b, tok.Op)))
		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			b, ok1 := pop()
			a, ok2 := pop()
			if !ok1 || !ok2 {
				return ZeroValue()
			}
			push(vm.arith(a, b, tok.Op))
		}
	}
	if len(stack) == 0 {
		return ZeroValue()
	}
	return stack[len(stack)-1]
}

// arith applies numeric promotion and the safe-default behavior for
// division/modulo by zero.
func (vm *VM) arith(a, b Value, op ExprOp) Value {
	useFloat := a.Kind == ValueFloat || b.Kind == ValueFloat
	if useFloat {
		af, bf := a.AsFloat(), b.AsFloat()
		switch op {
		case OpAdd:
			return FloatValue(float32(af + bf))
		case OpSub:
			return FloatValue(float32(af - bf))
		case OpMul:
			return FloatValue(float32(af * bf))
		case OpDiv:
			if bf == 0 {
				vm.noteDivByZero()
				return FloatValue(0)
			}
			return FloatValue(float32(af / bf))
		case OpMod:
			if bf == 0 {
				vm.noteDivByZero()
				return FloatValue(0)
			}
			return FloatValue(float32(int64(af) % int64(bf)))
		}
	}
	ai, bi := a.AsInt(), b.AsInt()
	switch op {
	case OpAdd:
		return IntValue(ai + bi)
	case OpSub:
		return IntValue(ai - bi)
	case OpMul:
		return IntValue(ai * bi)
	case OpDiv:
		if bi == 0 {
			vm.noteDivByZero()
			return IntValue(0)
		}
		return IntValue(ai / bi)
	case OpMod:
		if bi == 0 {
			vm.noteDivByZero()
			return IntValue(0)
		}
		return IntValue(ai % bi)
	}
	return ZeroValue()
}

// compareValues selects a comparison family: bool compares as bool
// (only eq/ne defined), else string compares as string (only eq/ne
// defined), else float if either side is float,
// else integer.
func compareValues(a, b Value, op ExprOp) bool {
	if a.Kind == ValueBool || b.Kind == ValueBool {
		ab, bb := a.Truthy(), b.Truthy()
		switch op {
		case OpEq:
			return ab == bb
		case OpNe:
			return ab != bb
		default:
			return false
		}
	}
	if a.Kind == ValueString || b.Kind == ValueString {
		as, bs := a.Stringify(), b.Stringify()
		switch op {
		case OpEq:
			return as == bs
		case OpNe:
			return as != bs
		default:
			return false
		}
	}
	if a.Kind == ValueFloat || b.Kind == ValueFloat {
		af, bf := a.AsFloat(), b.AsFloat()
		return numericCompare(af, bf, op)
	}
	return numericCompare(float64(a.AsInt()), float64(b.AsInt()), op)
}

func numericCompare(a, b float64, op ExprOp) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	default:
		return false
	}
}

// evalOperand evaluates either a pool-backed Literal or a full
// Expression, used by SetVar and the decomposed Condition form.
func (vm *VM) evalOperand(op Operand) Value {
	if op.IsExpr {
		return vm.evalExpression(op.Expr)
	}
	return op.Lit.resolve(vm.story)
}
