package cel

import (
	"encoding/json"

	"github.com/google/cel-go/cel"
)

// NewRuleEnvironment creates the CEL environment a Rule.Condition is
// compiled against: the tool name, the server it was invoked on, and
// the call's decoded arguments.
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("server", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// buildActivation decodes a tools/call's raw JSON arguments into a CEL
// activation map. Non-object or unparsable args evaluate as an empty map
// rather than failing the rule lookup.
func buildActivation(tool, server string, rawArgs json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	return map[string]any{
		"tool":   tool,
		"server": server,
		"args":   args,
	}
}
