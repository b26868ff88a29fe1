package gateway

import (
	"context"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/engine"
)

// Frame types sent over the websocket
const (
	FrameResponse = "response"
	FrameRejected = "rejected"
	FrameError    = "error"
)

// Executor runs one request through the execution core
type Executor interface {
	Execute(ctx context.Context, req agent.AgentRequest) (engine.Response, error)
}

// TurnStore records the turns of answered requests
type TurnStore interface {
	AppendTurns(ctx context.Context, conversationID, userID string, turns ...agent.Turn) error
}

// StatusFunc contributes fields to /healthz
type StatusFunc func(ctx context.Context) map[string]interface{}

// ErrorBody is the JSON body of failed HTTP requests
type ErrorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Answer string `json:"answer,omitempty"`
}

// WSRequest is one websocket request frame
type WSRequest struct {
	ID string `json:"id,omitempty"`
	agent.AgentRequest
}

// Frame is one websocket reply frame
type Frame struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Response *engine.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Answer   string           `json:"answer,omitempty"`
}
