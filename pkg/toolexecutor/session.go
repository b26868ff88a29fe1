package toolexecutor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MatchMode selects how the repetition guard compares parameters
type MatchMode string

const (
	// MatchExact compares parameters by value after canonical JSON encoding
	MatchExact MatchMode = "exact"
	// MatchNormalized additionally lower-cases and collapses whitespace in strings
	MatchNormalized MatchMode = "normalized"
)

// Session scopes the repetition guard and tool policy to one ReAct session
type Session struct {
	ID      string
	UserID  string
	AgentID string
	Policy  *ToolPolicy

	mu    sync.Mutex
	calls map[string]int
}

// NewSession creates a session. A nil policy allows every registered tool.
func NewSession(id, userID, agentID string, policy *ToolPolicy) *Session {
	return &Session{
		ID:      id,
		UserID:  userID,
		AgentID: agentID,
		Policy:  policy,
		calls:   make(map[string]int),
	}
}

// Calls returns how many times the call was admitted by the guard
func (s *Session) Calls(tool string, params map[string]interface{}, mode MatchMode) int {
	key := fingerprint(tool, params, mode)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// admit counts the call and reports whether it stays within limit
func (s *Session) admit(tool string, params map[string]interface{}, mode MatchMode, limit int) (int, bool) {
	key := fingerprint(tool, params, mode)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calls[key] >= limit {
		return s.calls[key], false
	}
	s.calls[key]++
	return s.calls[key], true
}

func fingerprint(tool string, params map[string]interface{}, mode MatchMode) string {
	var v interface{} = params
	if mode == MatchNormalized {
		v = normalizeValue(params)
	}
	// encoding/json sorts map keys, so equal maps encode identically
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	return tool + "\x00" + string(data)
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.Join(strings.Fields(val), " "))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return val
	}
}
