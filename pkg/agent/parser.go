package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	finalAnswerRe = regexp.MustCompile(`(?is)Final\s*Answer:\s*(.*)`)
	thoughtRe     = regexp.MustCompile(`(?i)Thought:\s*([^\n]+)`)
	actionRe      = regexp.MustCompile(`(?i)Action:\s*([a-z][a-z0-9_]*)`)
	actionInputRe = regexp.MustCompile(`(?i)Action\s*Input:\s*`)
	observationRe = regexp.MustCompile(`(?im)^\s*Observation:`)
	flatObjectRe  = regexp.MustCompile(`\{[^}]+\}`)
)

// ParseOutput extracts Thought/Action/Action Input or Final Answer from a
// text response. Text without any marker is taken as the answer.
func ParseOutput(response string) Generation {
	gen := Generation{}

	// A model that invents its own observation is cut off there
	if loc := observationRe.FindStringIndex(response); loc != nil {
		response = response[:loc[0]]
	}

	if m := thoughtRe.FindStringSubmatch(response); len(m) > 1 {
		gen.Thought = strings.TrimSpace(m[1])
	}

	if m := finalAnswerRe.FindStringSubmatch(response); len(m) > 1 {
		gen.Answer = strings.TrimSpace(m[1])
		return gen
	}

	if m := actionRe.FindStringSubmatch(response); len(m) > 1 {
		params := extractActionInput(response)
		if params == nil {
			params = map[string]interface{}{}
		}
		gen.Action = &Action{
			Tool:   strings.TrimSpace(m[1]),
			Params: params,
		}
		return gen
	}

	if gen.Thought != "" {
		gen.Answer = gen.Thought
		return gen
	}

	gen.Answer = strings.TrimSpace(response)
	return gen
}

// extractActionInput finds the JSON object after "Action Input:" with
// brace-depth counting so nested objects survive.
func extractActionInput(response string) map[string]interface{} {
	loc := actionInputRe.FindStringIndex(response)
	if loc == nil {
		return nil
	}

	rest := response[loc[1]:]
	start := strings.Index(rest, "{")
	if start < 0 {
		return nil
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(rest); i++ {
		ch := rest[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inStr {
			escaped = true
			continue
		}
		if ch == '"' {
			inStr = !inStr
			continue
		}
		if inStr {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				raw := rest[start : i+1]
				var params map[string]interface{}
				if err := json.Unmarshal([]byte(raw), &params); err != nil {
					return map[string]interface{}{"raw": raw}
				}
				return params
			}
		}
	}

	if match := flatObjectRe.FindString(rest); match != "" {
		var params map[string]interface{}
		if err := json.Unmarshal([]byte(match), &params); err == nil {
			return params
		}
	}

	return nil
}
