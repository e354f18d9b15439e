package tools

import (
	"fmt"

	"github.com/nextlevelbuilder/agentgate/internal/recipe"
)

// CheckPermission decides whether a call may run under mode. A refusal is
// returned as an error that callers report as a failed tool result.
//
//   - full-access:  everything runs
//   - restricted:   mutating calls are refused
//   - confirm-each: mutating and remote calls are refused (no confirmer on a headless stream)
func CheckPermission(mode recipe.PermissionMode, t Tool, args map[string]interface{}) error {
	switch mode {
	case recipe.PermissionFullAccess:
		return nil
	case recipe.PermissionRestricted:
		if isMutating(t, args) {
			return fmt.Errorf("tool %s is not permitted in %s mode: call modifies external state", t.Name(), mode)
		}
		return nil
	default:
		if isMutating(t, args) {
			return fmt.Errorf("tool %s requires confirmation (%s mode) and no confirmer is attached", t.Name(), recipe.PermissionConfirmEach)
		}
		if rt, ok := t.(RemoteTool); ok && rt.Remote() {
			return fmt.Errorf("remote tool %s requires confirmation (%s mode) and no confirmer is attached", t.Name(), recipe.PermissionConfirmEach)
		}
		return nil
	}
}

func isMutating(t Tool, args map[string]interface{}) bool {
	if mt, ok := t.(MutatingTool); ok {
		return mt.Mutating(args)
	}
	return false
}
