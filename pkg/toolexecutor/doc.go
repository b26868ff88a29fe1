// Package toolexecutor registers and executes the structured tools available
// to reasoning agents.
//
// Invariants:
//   - Tool names are unique.
//   - Parameters are schema-validated before execution.
//   - Every call is bounded by a wall-clock timeout and always yields a
//     ToolInvocation, never a panic or a raw error.
//   - The same tool with equal parameters runs at most MaxIdenticalCalls
//     times per Session.
//   - Results and recorded parameters are redacted and truncated.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	inv := exec.Invoke(ctx, toolexecutor.NewSession("s1", "u1", "", nil), "echo", map[string]interface{}{"text": "hi"})
package toolexecutor
