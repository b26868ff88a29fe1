package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/sigap/pkg/toolexecutor"
)

// DefaultSystemPrompt is used when the caller does not supply one
const DefaultSystemPrompt = `You are Sigap, an assistant for Indonesian government staff.
Answer accurately, cite the documents or regulations you used, and reply in the user's language.
If you cannot complete a request, say so plainly and suggest what the user can do next.`

const maxHistoryTurns = 10

// BuildPrompt renders the system prompt and the user message for one
// reasoning step.
func BuildPrompt(req GenerateRequest) (system, user string) {
	systemPrompt := strings.TrimSpace(req.SystemPrompt)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}

	if len(req.Tools) == 0 {
		return systemPrompt, buildUserBlock(req)
	}

	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString(`

You work in the ReAct pattern: Thought, Action, Observation, repeated until a Final Answer.

FORMAT (tool call):
Thought: <reasoning>
Action: <EXACT tool name from the list below>
Action Input: <JSON parameters on one line>

FORMAT (answer):
Thought: <reasoning>
Final Answer: <response to the user>

AVAILABLE TOOLS:
`)
	sb.WriteString(describeTools(req.Tools))
	sb.WriteString(`
RULES:
1. Always start with "Thought:".
2. Call at most one tool per response and stop after "Action Input:". Never write the Observation yourself.
3. Use only the tool names listed above.
4. When the observations are enough, give the "Final Answer:".
5. If a tool fails, explain the failure in the Final Answer or try a different action.`)

	return sb.String(), buildUserBlock(req)
}

func describeTools(tools []toolexecutor.ToolDefinition) string {
	var sb strings.Builder
	for _, tool := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", tool.Name, tool.Description)
		for _, p := range tool.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&sb, " [%s]", strings.Join(p.Enum, "|"))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func buildUserBlock(req GenerateRequest) string {
	var sb strings.Builder

	history := req.Context
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	if len(history) > 0 {
		sb.WriteString("CONVERSATION SO FAR:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User: %s\n", req.Query)

	for _, step := range req.Steps {
		if step.Thought != "" {
			fmt.Fprintf(&sb, "Thought: %s\n", step.Thought)
		}
		if step.Action != nil {
			input, err := json.Marshal(step.Action.Params)
			if err != nil {
				input = []byte("{}")
			}
			fmt.Fprintf(&sb, "Action: %s\nAction Input: %s\n", step.Action.Tool, input)
		}
		fmt.Fprintf(&sb, "Observation: %s\n", step.Observation)
	}

	if req.Hint != "" {
		fmt.Fprintf(&sb, "\nNOTE: %s\n", req.Hint)
	}

	return sb.String()
}
