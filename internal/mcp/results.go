package mcp

import (
	"fmt"
	"strings"

	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// actionList names the actions one multi-action tool accepts.
type actionList struct {
	tool  string
	names []string
}

func (a actionList) missing() error {
	return fmt.Errorf("action parameter is required for %s tool; valid actions: %s", a.tool, strings.Join(a.names, ", "))
}

func (a actionList) unknown(action string) error {
	return fmt.Errorf("unknown action '%s' for %s tool; valid actions: %s", action, a.tool, strings.Join(a.names, ", "))
}

// requiredError reports a parameter an action cannot do without.
func requiredError(param, action string) error {
	return fmt.Errorf("%s is required for %s", param, action)
}

func textResult(text string) *mcp_sdk.CallToolResult {
	return &mcp_sdk.CallToolResult{Content: []mcp_sdk.Content{&mcp_sdk.TextContent{Text: text}}}
}

func errorResult(msg string) *mcp_sdk.CallToolResult {
	res := textResult(msg)
	res.IsError = true
	return res
}

// resultText returns the first text block of a result, or "".
func resultText(res *mcp_sdk.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(*mcp_sdk.TextContent); ok {
		return tc.Text
	}
	return ""
}
