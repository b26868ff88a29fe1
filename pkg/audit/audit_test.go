package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{}
	m := NewMulti(a, nil, b)
	assert.Len(t, m, 2)

	ctx := context.Background()
	m.RecordTool(ctx, ToolRecord{Tool: "calculator"})
	m.RecordRoute(ctx, RouteRecord{Mode: "react"})
	m.RecordWorkflow(ctx, WorkflowRecord{WorkflowType: "parallel"})

	for _, r := range []*Recorder{a, b} {
		assert.Len(t, r.Tools(), 1)
		assert.Len(t, r.Routes(), 1)
		assert.Len(t, r.Workflows(), 1)
	}
}

func TestRecorder_ConcurrentWrites(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordTool(context.Background(), ToolRecord{Tool: "search"})
		}()
	}
	wg.Wait()
	assert.Len(t, r.Tools(), 50)
}

func TestNop_DoesNothing(t *testing.T) {
	var s Sink = Nop{}
	s.RecordTool(context.Background(), ToolRecord{})
	s.RecordRoute(context.Background(), RouteRecord{})
	s.RecordWorkflow(context.Background(), WorkflowRecord{})
}
