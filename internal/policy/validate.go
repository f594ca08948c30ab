package policy

import (
	"encoding/json"

	"github.com/ppiankov/callguard/internal/model"
)

// ValidateToolCall enforces the structural contract of a call against the
// session allowlist and the tool's policy.
//
// Check order (all data checks always run):
//  1. tool_id, ring and args present, else a call.invalid ContractError
//  2. tool_id in the session allowlist, else forbidden.tool
//  3. call ring equals policy ring, else ring.violation
//  4. args is an object, else args.invalid-type
//  5. each required arg present, else args.missing:<name> (all of them, in policy order)
func ValidateToolCall(call model.ToolCall, session *model.CapabilitySession, p model.ToolPolicy) ([]model.Violation, error) {
	if err := CheckCallContract(call); err != nil {
		return nil, err
	}

	var violations []model.Violation

	if !session.Allows(call.ToolID) {
		violations = append(violations, model.NewViolation(model.KindForbiddenTool, map[string]any{
			"tool_id": call.ToolID.String(),
		}))
	}

	if *call.Ring != p.Ring {
		violations = append(violations, model.NewViolation(model.KindRingViolation, map[string]any{
			"got":      *call.Ring,
			"required": p.Ring,
		}))
	}

	args, ok := call.Args.Map()
	if !ok {
		violations = append(violations, model.NewViolation(model.KindArgsInvalidType, map[string]any{
			"got": jsonTypeName(call.Args.Value()),
		}))
		return violations, nil
	}

	for _, name := range p.RequiredArgs {
		if _, present := args[name]; !present {
			violations = append(violations, model.NewViolation(model.ArgsMissing(name), map[string]any{
				"arg": name,
			}))
		}
	}

	return violations, nil
}

// CheckCallContract returns a ContractError when a required top-level field
// of the call is missing.
func CheckCallContract(call model.ToolCall) error {
	switch {
	case call.ToolID.IsZero():
		return model.MissingField("tool_id")
	case call.Ring == nil:
		return model.MissingField("ring")
	case !call.Args.IsSet():
		return model.MissingField("args")
	}
	return nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
