package routing

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/harun/sigap/pkg/agent"
	"github.com/harun/sigap/pkg/orchestrator"
)

var (
	arithmeticRe = regexp.MustCompile(`\d[\d.,]*\s*[-+*/x×÷%]\s*\(?\s*\d|(?i)\b(hitung|berapa|jumlahkan|kalikan|bagi|persen)\b`)
	dateWordRe   = regexp.MustCompile(`(?i)\d{4}-\d{2}-\d{2}|\b(hari kerja|tanggal|besok|lusa|minggu depan|bulan depan|tenggat|deadline|hari apa)\b`)
	tableWordRe  = regexp.MustCompile(`(?i)\b(tabel|csv|kolom|baris|rata-rata|rekap)\b`)
	toolWordRe   = regexp.MustCompile(`(?i)\b(pasal|nota dinas|surat undangan|cari dokumen|carikan)\b`)
	sequenceRe   = regexp.MustCompile(`(?i)\b(lalu|kemudian|setelah itu|selanjutnya|berdasarkan hasil|then|after that|afterwards)\b`)
)

type agentMatcher struct {
	id    string
	index int
	re    *regexp.Regexp
}

// KeywordClassifier routes with per-specialist keyword rules and tool cues
type KeywordClassifier struct {
	matchers []agentMatcher
}

// NewKeywordClassifier compiles the keywords of every catalog agent
func NewKeywordClassifier(registry *orchestrator.Registry) *KeywordClassifier {
	k := &KeywordClassifier{}
	for i, cfg := range registry.List() {
		if len(cfg.Keywords) == 0 {
			continue
		}
		quoted := make([]string, len(cfg.Keywords))
		for j, kw := range cfg.Keywords {
			quoted[j] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		k.matchers = append(k.matchers, agentMatcher{
			id:    cfg.ID,
			index: i,
			re:    regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
		})
	}
	return k
}

func (k *KeywordClassifier) Name() string { return "keyword" }

type keywordHit struct {
	id    string
	index int
	hits  int
	first int
}

// Classify never calls out; it fails with ErrAmbiguous when nothing matches
func (k *KeywordClassifier) Classify(ctx context.Context, req agent.AgentRequest) (Decision, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Decision{}, ErrAmbiguous
	}

	var hits []keywordHit
	for _, m := range k.matchers {
		locs := m.re.FindAllStringIndex(query, -1)
		if len(locs) == 0 {
			continue
		}
		distinct := make(map[string]struct{}, len(locs))
		for _, loc := range locs {
			distinct[strings.ToLower(query[loc[0]:loc[1]])] = struct{}{}
		}
		hits = append(hits, keywordHit{id: m.id, index: m.index, hits: len(distinct), first: locs[0][0]})
	}

	toolCue := arithmeticRe.MatchString(query) || dateWordRe.MatchString(query) ||
		tableWordRe.MatchString(query) || toolWordRe.MatchString(query)

	switch {
	case len(hits) >= 2:
		wt := orchestrator.WorkflowParallel
		if sequenceRe.MatchString(query) {
			wt = orchestrator.WorkflowSequential
			// Chains follow the order the user mentioned the domains in
			sort.SliceStable(hits, func(i, j int) bool { return hits[i].first < hits[j].first })
		} else {
			sort.SliceStable(hits, func(i, j int) bool {
				if hits[i].hits != hits[j].hits {
					return hits[i].hits > hits[j].hits
				}
				return hits[i].index < hits[j].index
			})
		}
		if len(hits) > MaxCandidates {
			hits = hits[:MaxCandidates]
		}
		return Decision{
			Mode:         ModeWorkflow,
			Candidates:   toCandidates(hits),
			WorkflowType: wt,
			Confidence:   meanScore(hits),
			Reason:       "keywords of several specialists matched",
		}, nil

	case toolCue:
		return Decision{Mode: ModeReAct, Confidence: 0.8, Reason: "query needs a tool"}, nil

	case len(hits) == 1:
		return Decision{
			Mode:         ModeWorkflow,
			Candidates:   toCandidates(hits),
			WorkflowType: orchestrator.WorkflowSingle,
			Confidence:   hitScore(hits[0].hits),
			Reason:       "keywords of one specialist matched",
		}, nil
	}

	return Decision{}, ErrAmbiguous
}

// hitScore grows with the number of distinct keywords: 1 → 0.5, 2 → 0.67, 3 → 0.75
func hitScore(n int) float64 {
	return 1 - 1/float64(n+1)
}

func toCandidates(hits []keywordHit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{AgentID: h.id, Score: hitScore(h.hits)}
	}
	return out
}

func meanScore(hits []keywordHit) float64 {
	var sum float64
	for _, h := range hits {
		sum += hitScore(h.hits)
	}
	return sum / float64(len(hits))
}
