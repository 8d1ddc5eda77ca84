package branchscript

// ValidateReferences walks every Jump/Call/Choice/Condition/Random
// branch in story and verifies that each referenced node name exists.
// Unresolved references become diagnostics carrying the original
// source line number; compilation fails iff the returned list is
// non-empty.
func ValidateReferences(file string, story *Story) DiagnosticList {
	var diags DiagnosticList
	exists := func(nameID int32) bool {
		if nameID < 0 {
			return true
		}
		_, ok := story.NodeByName(story.stringAt(nameID))
		return ok
	}
	check := func(nameID int32, lineNo int, what string) {
		if nameID >= 0 && !exists(nameID) {
			diags = append(diags, newReferenceError(file, lineNo, "%s references unknown node %q", what, story.stringAt(nameID)))
		}
	}

	for _, node := range story.Nodes {
		for i, ins := range node.Lines {
			lineNo := 0
			if i < len(node.LineNos) {
				lineNo = node.LineNos[i]
			}
			switch v := ins.(type) {
			case InsChoice:
				check(v.TargetNodeNameID, lineNo, "choice")
			case InsJump:
				check(v.TargetNodeNameID, lineNo, "jump")
			case InsCallWithReturn:
				check(v.TargetNodeNameID, lineNo, "call")
			case InsCondition:
				// A false_jump_node_id of -1 (no-else) is explicitly
				// allowed and means fall through.
				check(v.TrueTargetNodeNameID, lineNo, "condition true branch")
				check(v.FalseTargetNodeNameID, lineNo, "condition false branch")
			case InsRandom:
				for _, b := range v.Branches {
					check(b.TargetNodeNameID, lineNo, "random branch")
				}
			}
		}
	}
	return diags
}
