package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/audit"
	"github.com/harun/sigap/pkg/orchestrator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRegistry(t *testing.T) *orchestrator.Registry {
	t.Helper()
	r, err := orchestrator.NewRegistryFrom(orchestrator.DefaultAgents())
	require.NoError(t, err)
	return r
}

func request(q string) agent.AgentRequest {
	return agent.AgentRequest{UserID: "u1", ConversationID: "c1", Query: q}
}

// jsonGenerator replies with a fixed classifier output and counts calls
type jsonGenerator struct {
	output string
	err    error
	calls  int32
}

func (g *jsonGenerator) Generate(ctx context.Context, req agent.GenerateRequest) (agent.Generation, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.err != nil {
		return agent.Generation{}, g.err
	}
	return agent.Generation{Answer: g.output}, nil
}

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier(defaultRegistry(t))

	tests := []struct {
		name       string
		query      string
		mode       Mode
		workflow   orchestrator.WorkflowType
		candidates []string
	}{
		{"arithmetic", "3 + 4", ModeReAct, "", nil},
		{"date math", "Tanggal berapa 10 hari kerja setelah 2024-08-14?", ModeReAct, "", nil},
		{"budget question with numbers", "Berapa sisa pagu jika realisasi 1.500.000?", ModeReAct, "", nil},
		{"single specialist", "Siapkan draf memo internal", ModeWorkflow, orchestrator.WorkflowSingle, []string{"persuratan"}},
		{"parallel by score", "Jelaskan dasar hukum cuti pegawai", ModeWorkflow, orchestrator.WorkflowParallel, []string{"kepegawaian", "hukum"}},
		{
			"sequential by mention order",
			"Rekap data cuti pegawai lalu buat surat undangan rapat",
			ModeWorkflow, orchestrator.WorkflowSequential,
			[]string{"data", "kepegawaian", "persuratan", "jadwal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := k.Classify(context.Background(), request(tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.workflow, d.WorkflowType)
			if tt.candidates == nil {
				assert.Empty(t, d.Candidates)
			} else {
				assert.Equal(t, tt.candidates, d.AgentIDs())
			}
		})
	}

	_, err := k.Classify(context.Background(), request("Apa kabar?"))
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, err = k.Classify(context.Background(), request("   "))
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestKeywordClassifier_ScoresGrowWithHits(t *testing.T) {
	k := NewKeywordClassifier(defaultRegistry(t))
	d, err := k.Classify(context.Background(), request("Jelaskan dasar hukum cuti pegawai"))
	require.NoError(t, err)

	require.Len(t, d.Candidates, 2)
	assert.Greater(t, d.Candidates[0].Score, d.Candidates[1].Score)
	assert.InDelta(t, 0.5, d.Candidates[1].Score, 0.001)
}

func newLLM(t *testing.T, gen agent.Generator, threshold float64) *LLMClassifier {
	t.Helper()
	c, err := NewLLMClassifier(LLMClassifierConfig{
		Registry:  defaultRegistry(t),
		Generator: gen,
		Threshold: threshold,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func TestLLMClassifier_ThresholdAndTieBreak(t *testing.T) {
	gen := &jsonGenerator{output: `Berikut keputusannya:
{"mode": "workflow", "workflow_type": "parallel", "agents": [
  {"id": "hukum", "score": 0.9},
  {"id": "anggaran", "score": 0.4},
  {"id": "kepegawaian", "score": 0.9},
  {"id": "ghost", "score": 0.95}
], "reason": "hukum dan kepegawaian"}`}
	c := newLLM(t, gen, 0.5)

	d, err := c.Classify(context.Background(), request("aturan cuti"))
	require.NoError(t, err)
	assert.Equal(t, ModeWorkflow, d.Mode)
	assert.Equal(t, orchestrator.WorkflowParallel, d.WorkflowType)
	// equal scores keep catalog order; unknown and low-scored agents are dropped
	assert.Equal(t, []string{"kepegawaian", "hukum"}, d.AgentIDs())
	assert.InDelta(t, 0.9, d.Confidence, 0.001)
}

func TestLLMClassifier_SequentialKeepsProposedOrder(t *testing.T) {
	gen := &jsonGenerator{output: `{"mode":"workflow","workflow_type":"sequential","agents":[{"id":"data","score":0.6},{"id":"persuratan","score":0.9}]}`}
	d, err := newLLM(t, gen, 0.5).Classify(context.Background(), request("rekap lalu surat"))
	require.NoError(t, err)
	assert.Equal(t, orchestrator.WorkflowSequential, d.WorkflowType)
	assert.Equal(t, []string{"data", "persuratan"}, d.AgentIDs())
}

func TestLLMClassifier_CapsCandidates(t *testing.T) {
	gen := &jsonGenerator{output: `{"mode":"workflow","workflow_type":"parallel","agents":[
{"id":"anggaran","score":0.6},{"id":"kepegawaian","score":0.7},{"id":"hukum","score":0.8},
{"id":"persuratan","score":0.9},{"id":"jadwal","score":0.95},{"id":"data","score":0.99}]}`}
	d, err := newLLM(t, gen, 0.5).Classify(context.Background(), request("semua"))
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "jadwal", "persuratan", "hukum", "kepegawaian"}, d.AgentIDs())
}

func TestLLMClassifier_Ambiguous(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"no json", "saya tidak yakin"},
		{"broken json", `{"mode": "workflow", "agents": [}`},
		{"unknown mode", `{"mode": "teleport"}`},
		{"all below threshold", `{"mode":"workflow","agents":[{"id":"hukum","score":0.3}]}`},
		{"low confidence react", `{"mode":"react","confidence":0.2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newLLM(t, &jsonGenerator{output: tt.output}, 0.5).Classify(context.Background(), request("q"))
			assert.ErrorIs(t, err, ErrAmbiguous)
		})
	}
}

func TestLLMClassifier_CachesByNormalizedQuery(t *testing.T) {
	gen := &jsonGenerator{output: `{"mode":"react","confidence":0.9}`}
	c := newLLM(t, gen, 0.5)

	d1, err := c.Classify(context.Background(), request("Hitung  3 + 4"))
	require.NoError(t, err)
	d2, err := c.Classify(context.Background(), request("hitung 3 +   4 "))
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))

	c.SetThreshold(0.95)
	assert.Equal(t, 0.95, c.Threshold())
	_, err = c.Classify(context.Background(), request("hitung 3 + 4"))
	assert.ErrorIs(t, err, ErrAmbiguous, "threshold change flushes the cache")
	assert.Equal(t, int32(2), atomic.LoadInt32(&gen.calls))

	c.SetThreshold(7)
	assert.Equal(t, 0.95, c.Threshold(), "out of range thresholds are ignored")
}

func TestRouter_FallsBackToDirect(t *testing.T) {
	rec := &audit.Recorder{}
	gen := &jsonGenerator{err: errors.New("provider down")}
	r, err := New(Config{
		Classifier: KindLLM,
		Registry:   defaultRegistry(t),
		Generator:  gen,
		Sink:       rec,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	d := r.Route(context.Background(), request("3 + 4"))
	assert.Equal(t, ModeDirect, d.Mode)
	assert.Equal(t, "fallback", d.Classifier)
	assert.Contains(t, d.Reason, "provider down")

	routes := rec.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "direct", routes[0].Mode)
	assert.Equal(t, "u1", routes[0].UserID)
	assert.Equal(t, "c1", routes[0].ConversationID)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Global.TotalDecisions)
	assert.Equal(t, int64(1), stats.Global.Fallbacks)
	assert.Equal(t, int64(1), stats.Global.Errors)
}

func TestRouter_Hybrid(t *testing.T) {
	gen := &jsonGenerator{output: "tidak tahu"}
	r, err := New(Config{
		Classifier: KindHybrid,
		Registry:   defaultRegistry(t),
		Generator:  gen,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	d := r.Route(context.Background(), request("3 + 4"))
	assert.Equal(t, ModeReAct, d.Mode)
	assert.Equal(t, "keyword", d.Classifier)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))

	stats := r.Stats()
	assert.Zero(t, stats.Global.Errors, "ambiguity is not an error")
	require.Len(t, stats.Modes, 1)
	assert.Equal(t, int64(1), stats.Modes[0].Classifiers["keyword"])
}

func TestRouter_KeywordDefault(t *testing.T) {
	rec := &audit.Recorder{}
	r, err := New(Config{Registry: defaultRegistry(t), Sink: rec, Logger: zerolog.Nop()})
	require.NoError(t, err)

	d := r.Route(context.Background(), request("Jelaskan dasar hukum cuti pegawai"))
	assert.Equal(t, ModeWorkflow, d.Mode)
	assert.Equal(t, "keyword", d.Classifier)

	routes := rec.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "parallel", routes[0].WorkflowType)
	assert.Equal(t, []string{"kepegawaian", "hukum"}, routes[0].Agents)

	d = r.Route(context.Background(), request("Selamat pagi"))
	assert.Equal(t, ModeDirect, d.Mode)
}

func TestRouter_Config(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorContains(t, err, "registry")

	_, err = New(Config{Classifier: "oracle", Registry: defaultRegistry(t)})
	assert.ErrorContains(t, err, "unknown classifier")

	_, err = New(Config{Classifier: KindLLM, Registry: defaultRegistry(t)})
	assert.ErrorContains(t, err, "generator")
}

// staticClassifier returns a fixed decision
type staticClassifier struct {
	d Decision
}

func (s staticClassifier) Name() string { return "static" }

func (s staticClassifier) Classify(context.Context, agent.AgentRequest) (Decision, error) {
	return s.d, nil
}

func TestRouter_EnforcesDecisionContract(t *testing.T) {
	reg := defaultRegistry(t)
	tests := []struct {
		name     string
		in       Decision
		mode     Mode
		workflow orchestrator.WorkflowType
		agents   []string
	}{
		{"empty workflow", Decision{Mode: ModeWorkflow}, ModeDirect, "", []string{}},
		{"unknown agent", Decision{Mode: ModeWorkflow, Candidates: []Candidate{{AgentID: "ghost"}}}, ModeDirect, "", []string{}},
		{"bad mode", Decision{Mode: "magic"}, ModeDirect, "", []string{}},
		{
			"single agent becomes single",
			Decision{Mode: ModeWorkflow, WorkflowType: orchestrator.WorkflowParallel, Candidates: []Candidate{{AgentID: "hukum", Score: 1}}},
			ModeWorkflow, orchestrator.WorkflowSingle, []string{"hukum"},
		},
		{
			"react drops candidates",
			Decision{Mode: ModeReAct, Candidates: []Candidate{{AgentID: "hukum"}}},
			ModeReAct, "", []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewWithClassifiers(reg, nil, zerolog.Nop(), staticClassifier{d: tt.in})
			d := r.Route(context.Background(), request("q"))
			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.workflow, d.WorkflowType)
			assert.Equal(t, tt.agents, d.AgentIDs())
		})
	}
}

func TestStatisticsTracker(t *testing.T) {
	st := NewStatisticsTracker()
	st.RecordDecision(Decision{Mode: ModeReAct, Classifier: "keyword"}, 10, false)
	st.RecordDecision(Decision{Mode: ModeReAct, Classifier: "llm"}, 30, false)
	st.RecordDecision(Decision{Mode: ModeDirect, Classifier: "fallback"}, 20, true)

	s := st.Snapshot()
	assert.Equal(t, int64(3), s.Global.TotalDecisions)
	assert.Equal(t, int64(1), s.Global.Fallbacks)
	assert.InDelta(t, 20.0, s.Global.AvgLatency, 0.001)
	assert.Equal(t, int64(30), s.Global.P95Latency)
	require.Len(t, s.Modes, 2)
	assert.Equal(t, ModeDirect, s.Modes[0].Mode)
	assert.Equal(t, int64(2), s.Modes[1].Decisions)

	st.Reset()
	assert.Zero(t, st.Snapshot().Global.TotalDecisions)
}
