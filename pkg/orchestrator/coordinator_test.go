package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/audit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIDs = []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta"}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	configs := make([]AgentConfig, 0, len(testIDs))
	for _, id := range testIDs {
		configs = append(configs, testAgent(id))
	}
	r, err := NewRegistryFrom(configs)
	require.NoError(t, err)
	return r
}

func newTestCoordinator(t *testing.T, specialist Specialist, mutate ...func(*Config)) (*Coordinator, *audit.Recorder) {
	t.Helper()
	rec := &audit.Recorder{}
	cfg := Config{
		Registry:   testRegistry(t),
		Specialist: specialist,
		Sink:       rec,
		Logger:     zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewCoordinator(cfg)
	require.NoError(t, err)
	return c, rec
}

func echoSpecialist() SpecialistFunc {
	return func(ctx context.Context, in StepInput) StepOutcome {
		return StepOutcome{Contribution: "kontribusi " + in.Agent.ID}
	}
}

func TestNewCoordinator(t *testing.T) {
	_, err := NewCoordinator(Config{Specialist: echoSpecialist()})
	assert.ErrorContains(t, err, "registry")

	_, err = NewCoordinator(Config{Registry: NewRegistry()})
	assert.ErrorContains(t, err, "specialist")
}

func TestCoordinator_RejectsInvalidPlans(t *testing.T) {
	c, rec := newTestCoordinator(t, echoSpecialist())
	req := agent.AgentRequest{UserID: "u1", Query: "q"}

	tests := []struct {
		name    string
		plan    WorkflowPlan
		wantErr error
		want    string
	}{
		{"empty", WorkflowPlan{Type: WorkflowSequential}, ErrEmptyPlan, ""},
		{"too long", planOf(WorkflowSequential, testIDs...), ErrChainTooLong, "6 steps"},
		{"unknown agent", planOf(WorkflowParallel, "alpha", "omega"), ErrUnknownAgent, "omega"},
		{"single with two steps", planOf(WorkflowSingle, "alpha", "beta"), nil, "exactly one step"},
		{"bad type", planOf("mesh", "alpha"), nil, "invalid workflow type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.Run(context.Background(), req, tt.plan)
			require.Error(t, err)
			assert.Nil(t, result)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
	assert.Empty(t, rec.Workflows(), "rejected plans never run")

	_, err := c.NewPlan(WorkflowSequential, testIDs...)
	assert.ErrorIs(t, err, ErrChainTooLong)
}

func planOf(t WorkflowType, ids ...string) WorkflowPlan {
	plan := WorkflowPlan{Type: t}
	for _, id := range ids {
		plan.Steps = append(plan.Steps, AgentStep{AgentID: id})
	}
	return plan
}

func TestCoordinator_Single(t *testing.T) {
	c, rec := newTestCoordinator(t, echoSpecialist())
	plan, err := c.NewPlan(WorkflowSingle, "beta")
	require.NoError(t, err)

	result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	assert.Equal(t, "kontribusi beta", result.Answer)
	assert.False(t, result.Plan.Partial)
	assert.NoError(t, result.Err())
	require.Len(t, result.Plan.Steps, 1)
	assert.Equal(t, "Agent beta", result.Plan.Steps[0].DisplayName)
	assert.Equal(t, StepCompleted, result.Plan.Steps[0].Status)

	records := rec.Workflows()
	require.Len(t, records, 1)
	assert.Equal(t, plan.ID, records[0].WorkflowID)
	assert.Equal(t, "single", records[0].WorkflowType)
	assert.Equal(t, "completed", records[0].AgentSteps[0].Status)
}

func TestCoordinator_SequentialOrderAndContext(t *testing.T) {
	var mu sync.Mutex
	var inputs []StepInput
	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		mu.Lock()
		inputs = append(inputs, in)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return StepOutcome{Contribution: "hasil " + in.Agent.ID}
	})
	c, _ := newTestCoordinator(t, specialist)
	plan, err := c.NewPlan(WorkflowSequential, "alpha", "beta", "gamma")
	require.NoError(t, err)

	result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)
	require.NoError(t, result.Err())

	steps := result.Plan.Steps
	for i := 1; i < len(steps); i++ {
		assert.False(t, steps[i].StartedAt.Before(steps[i-1].EndedAt),
			"step %d started before step %d ended", i+1, i)
	}

	require.Len(t, inputs, 3)
	assert.Empty(t, inputs[0].Prior)
	require.Len(t, inputs[2].Prior, 2)
	assert.Equal(t, "hasil alpha", inputs[2].Prior[0].Contribution)
	assert.Equal(t, "hasil beta", inputs[2].Prior[1].Contribution)

	assert.Contains(t, result.Answer, "### 1. Agent alpha (selesai)\nhasil alpha")
	assert.Contains(t, result.Answer, "### 3. Agent gamma (selesai)\nhasil gamma")
	assert.NotContains(t, result.Answer, "Langkah yang gagal")
}

func TestCoordinator_SequentialMiddleFailure(t *testing.T) {
	var mu sync.Mutex
	var gammaInput StepInput
	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		switch in.Agent.ID {
		case "beta":
			return StepOutcome{Err: fmt.Errorf("%w: missing required input: tanggal (mis. 2024-08-14)", ErrAgentFailure)}
		case "gamma":
			mu.Lock()
			gammaInput = in
			mu.Unlock()
			return StepOutcome{Contribution: "draf surat tanpa jadwal"}
		default:
			return StepOutcome{Contribution: "hasil " + in.Agent.ID}
		}
	})
	c, rec := newTestCoordinator(t, specialist)
	plan, err := c.NewPlan(WorkflowSequential, "alpha", "beta", "gamma")
	require.NoError(t, err)

	result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	steps := result.Plan.Steps
	assert.Equal(t, StepCompleted, steps[0].Status)
	assert.Equal(t, StepFailed, steps[1].Status)
	assert.Equal(t, "missing required input: tanggal (mis. 2024-08-14)", steps[1].Error)

	// The third agent still runs, with the notice instead of beta's contribution
	assert.Equal(t, StepCompleted, steps[2].Status)
	assert.True(t, steps[2].UpstreamFailure)
	assert.Contains(t, steps[2].Notice, "langkah 2 (Agent beta) gagal: missing required input")
	assert.True(t, strings.HasPrefix(steps[2].Contribution, steps[2].Notice))
	assert.Equal(t, steps[2].Notice, gammaInput.Notice)
	require.Len(t, gammaInput.Prior, 1)
	assert.Equal(t, "alpha", gammaInput.Prior[0].AgentID)

	assert.True(t, result.Plan.Partial)
	assert.False(t, result.Plan.TimedOut)
	assert.ErrorIs(t, result.Err(), ErrAgentFailure)

	assert.Contains(t, result.Answer, "### 2. Agent beta (gagal)")
	assert.Contains(t, result.Answer, "### 3. Agent gamma (selesai, dengan kegagalan pada langkah sebelumnya)")
	assert.Contains(t, result.Answer, "- Langkah 2 (Agent beta): missing required input")
	assert.Contains(t, result.Answer, "Langkah berikutnya: lengkapi informasi yang diminta")

	records := rec.Workflows()
	require.Len(t, records, 1)
	assert.True(t, records[0].Partial)
	assert.Equal(t, "failed", records[0].AgentSteps[1].Status)
}

func TestCoordinator_ParallelGate(t *testing.T) {
	var running, peak int32
	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return StepOutcome{Contribution: "hasil " + in.Agent.ID}
	})
	c, _ := newTestCoordinator(t, specialist)
	plan, err := c.NewPlan(WorkflowParallel, "alpha", "beta", "gamma", "delta", "epsilon")
	require.NoError(t, err)

	result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(DefaultMaxParallel))
	assert.Equal(t, int32(DefaultMaxParallel), atomic.LoadInt32(&peak))
	for _, step := range result.Plan.Steps {
		assert.Equal(t, StepCompleted, step.Status)
	}
	assert.False(t, result.Plan.Partial)

	// Attribution keeps plan order regardless of completion order
	assert.Less(t, strings.Index(result.Answer, "Agent alpha"), strings.Index(result.Answer, "Agent epsilon"))
}

func TestCoordinator_ParallelRunningNeverExceedsGate(t *testing.T) {
	// Check the plan's own view: at no instant are more than MaxParallel steps running
	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		time.Sleep(time.Duration(10+len(in.Agent.ID)) * time.Millisecond)
		return StepOutcome{Contribution: in.Agent.ID}
	})
	c, _ := newTestCoordinator(t, specialist, func(cfg *Config) { cfg.MaxParallel = 2 })
	plan, err := c.NewPlan(WorkflowParallel, "alpha", "beta", "gamma", "delta", "epsilon")
	require.NoError(t, err)

	result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	steps := result.Plan.Steps
	for _, probe := range steps {
		at := probe.StartedAt
		active := 0
		for _, s := range steps {
			if !s.StartedAt.After(at) && s.EndedAt.After(at) {
				active++
			}
		}
		assert.LessOrEqual(t, active, 2, "running steps at %v", at)
	}
}

func TestCoordinator_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		if in.Agent.ID == "alpha" {
			return StepOutcome{Contribution: "cepat"}
		}
		// Ignores cancellation on purpose
		<-release
		return StepOutcome{Contribution: "terlambat"}
	})
	c, rec := newTestCoordinator(t, specialist, func(cfg *Config) { cfg.Timeout = 100 * time.Millisecond })

	for _, wt := range []WorkflowType{WorkflowSequential, WorkflowParallel} {
		t.Run(string(wt), func(t *testing.T) {
			plan, err := c.NewPlan(wt, "alpha", "beta", "gamma", "delta", "epsilon")
			require.NoError(t, err)

			start := time.Now()
			result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
			require.NoError(t, err)

			assert.Less(t, time.Since(start), 2*time.Second, "coordinator must not wait for stuck steps")
			assert.True(t, result.Plan.TimedOut)
			assert.True(t, result.Plan.Partial)
			assert.ErrorIs(t, result.Err(), ErrWorkflowTimeout)

			assert.Equal(t, StepCompleted, result.Plan.Steps[0].Status)
			for _, step := range result.Plan.Steps[1:] {
				assert.Equal(t, StepFailed, step.Status)
				assert.Equal(t, "workflow timeout", step.Error)
			}
			assert.Contains(t, result.Answer, "batas waktu")
		})
	}

	assert.Len(t, rec.Workflows(), 2)
}

func TestWorkflowRun_DeadlineKeepsDeliveredResults(t *testing.T) {
	c, _ := newTestCoordinator(t, echoSpecialist())
	plan, err := c.NewPlan(WorkflowParallel, "alpha", "beta")
	require.NoError(t, err)
	agents, err := c.prepare(&plan)
	require.NoError(t, err)
	for i := range plan.Steps {
		plan.Steps[i].Status = StepRunning
	}

	w := &workflowRun{coordinator: c, plan: &plan, agents: agents, parent: context.Background(), logger: zerolog.Nop()}

	// alpha finished just as the deadline fired; beta is still running
	results := make(chan stepResult, 2)
	results <- stepResult{index: 0, outcome: StepOutcome{Contribution: "tepat waktu"}}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	w.drain(results)
	w.abort(ctx)

	assert.Equal(t, StepCompleted, plan.Steps[0].Status)
	assert.Equal(t, "tepat waktu", plan.Steps[0].Contribution)
	assert.Equal(t, StepFailed, plan.Steps[1].Status)
	assert.Equal(t, "workflow timeout", plan.Steps[1].Error)
	assert.True(t, plan.TimedOut)
	assert.Empty(t, results)
}

func TestCoordinator_ParentCancelled(t *testing.T) {
	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		<-ctx.Done()
		return StepOutcome{Err: ctx.Err()}
	})
	c, _ := newTestCoordinator(t, specialist)
	plan, err := c.NewPlan(WorkflowSequential, "alpha", "beta")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	result, err := c.Run(ctx, agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	assert.False(t, result.Plan.TimedOut)
	assert.True(t, result.Plan.Partial)
	assert.Equal(t, StepFailed, result.Plan.Steps[1].Status)
}

func TestCoordinator_SpecialistPanic(t *testing.T) {
	specialist := SpecialistFunc(func(ctx context.Context, in StepInput) StepOutcome {
		if in.Agent.ID == "beta" {
			panic("boom")
		}
		return StepOutcome{Contribution: "ok"}
	})
	c, _ := newTestCoordinator(t, specialist)
	plan, err := c.NewPlan(WorkflowParallel, "alpha", "beta")
	require.NoError(t, err)

	result, err := c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	assert.Equal(t, StepCompleted, result.Plan.Steps[0].Status)
	assert.Equal(t, StepFailed, result.Plan.Steps[1].Status)
	assert.Contains(t, result.Plan.Steps[1].Error, "specialist panicked: boom")
}

func TestCoordinator_PersistsPlans(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	c, _ := newTestCoordinator(t, echoSpecialist(), func(cfg *Config) { cfg.Store = store })

	plan, err := c.NewPlan(WorkflowParallel, "alpha", "beta")
	require.NoError(t, err)
	_, err = c.Run(context.Background(), agent.AgentRequest{UserID: "u1", Query: "q"}, plan)
	require.NoError(t, err)

	saved, err := store.Get(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowParallel, saved.Type)
	assert.Equal(t, []string{"alpha", "beta"}, saved.AgentIDs())
	assert.Equal(t, "kontribusi alpha", saved.Steps[0].Contribution)
}

func TestAggregate_SingleFailure(t *testing.T) {
	answer := Aggregate(WorkflowPlan{
		Type: WorkflowSingle,
		Steps: []AgentStep{{
			AgentID:     "jadwal",
			DisplayName: "Pengelola Jadwal",
			Status:      StepFailed,
			Error:       "workflow timeout",
		}},
	})
	assert.Contains(t, answer, "Pengelola Jadwal tidak dapat menyelesaikan permintaan ini: workflow timeout")
	assert.Contains(t, answer, "batas waktu")
}

func TestWorkflowResult_Err(t *testing.T) {
	ok := &WorkflowResult{Plan: WorkflowPlan{Steps: []AgentStep{{Status: StepCompleted}}}}
	assert.NoError(t, ok.Err())

	failed := &WorkflowResult{Plan: WorkflowPlan{Steps: []AgentStep{{AgentID: "data", Status: StepFailed, Error: "x"}}}}
	assert.True(t, errors.Is(failed.Err(), ErrAgentFailure))
}
