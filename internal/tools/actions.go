package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nekrassov01/instancebot/internal/actions"
)

// ActionTool exposes one inventory action to the model. All three
// actions share the same parameter surface (an optional region list),
// so a single type parameterized by action name covers them.
type ActionTool struct {
	action      actions.Name
	description string
	router      *actions.Router
}

func NewActionTool(action actions.Name, description string, router *actions.Router) *ActionTool {
	return &ActionTool{action: action, description: description, router: router}
}

func (t *ActionTool) Name() string {
	return "ec2_" + strings.ReplaceAll(string(t.action), "-", "_")
}

func (t *ActionTool) Description() string {
	return t.description
}

func (t *ActionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"regions": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "AWS region codes to limit the query to, e.g. [\"ap-northeast-1\"]. Omit to query every enabled region.",
			},
		},
	}
}

func (t *ActionTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	params := actions.Params{Regions: stringSlice(args["regions"])}
	res, err := t.router.Invoke(ctx, string(t.action), params)
	if err != nil {
		return ErrorResult(fmt.Sprintf("action %s failed: %v", t.action, err)).WithError(err)
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return ErrorResult(fmt.Sprintf("action %s produced unserializable result: %v", t.action, err)).WithError(err)
	}
	return NewResult(string(payload))
}

// RegisterActionTools wires the fixed action set into the registry.
func RegisterActionTools(reg *Registry, router *actions.Router) {
	reg.Register(NewActionTool(actions.ActionCount,
		"Count EC2 instances per region, with running counts broken out. Use for questions about how many instances exist.", router))
	reg.Register(NewActionTool(actions.ActionWithoutOwner,
		"List EC2 instances missing an Owner tag, per region. Use for questions about untagged or ownerless instances.", router))
	reg.Register(NewActionTool(actions.ActionOpenPermission,
		"List EC2 instances whose security groups allow inbound traffic from 0.0.0.0/0, per region. Use for questions about publicly exposed instances.", router))
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
