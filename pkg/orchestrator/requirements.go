package orchestrator

import (
	"regexp"
	"sort"
	"strings"

	"github.com/harun/sigap/pkg/agent"
)

type requirementDetector struct {
	label  string
	detect func(req agent.AgentRequest) bool
}

var (
	amountRe = regexp.MustCompile(`(?i)(rp\.?\s*\d|\d{1,3}([.,]\d{3})+|\d{4,}|\d+\s*(juta|ribu|miliar|jt|rb)\b)`)
	dateRe   = regexp.MustCompile(`(?i)(\d{4}-\d{2}-\d{2}|\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{1,2}\s+(januari|februari|maret|april|mei|juni|juli|agustus|september|oktober|november|desember|jan|feb|mar|apr|jun|jul|agu|agt|sep|okt|nov|des)\b|\b(hari ini|besok|lusa|minggu depan|bulan depan|pekan depan)\b)`)
	nipRe    = regexp.MustCompile(`\b\d{18}\b`)
	lawRe    = regexp.MustCompile(`(?i)\b(uu|undang-undang|pp|perpres|permen\w*|perda|peraturan)\b[^\n]{0,20}\d+`)
)

// requirementDetectors are the inputs a specialist may declare in requires
var requirementDetectors = map[string]requirementDetector{
	"amount": {
		label:  "nominal anggaran (mis. Rp 1.500.000)",
		detect: func(req agent.AgentRequest) bool { return amountRe.MatchString(req.Query) },
	},
	"date": {
		label:  "tanggal (mis. 2024-08-14)",
		detect: func(req agent.AgentRequest) bool { return dateRe.MatchString(req.Query) },
	},
	"employee_id": {
		label:  "NIP pegawai (18 digit)",
		detect: func(req agent.AgentRequest) bool { return nipRe.MatchString(req.Query) },
	},
	"regulation": {
		label:  "nomor peraturan (mis. UU 5/2014)",
		detect: func(req agent.AgentRequest) bool { return lawRe.MatchString(req.Query) },
	},
	"document": {
		label:  "dokumen yang dipilih",
		detect: func(req agent.AgentRequest) bool { return len(req.DocumentScope) > 0 },
	},
}

// RequirementNames lists the inputs specialists may require
func RequirementNames() []string {
	names := make([]string, 0, len(requirementDetectors))
	for name := range requirementDetectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// missingRequirements returns the human labels of required inputs absent from req
func missingRequirements(requires []string, req agent.AgentRequest) []string {
	var missing []string
	for _, name := range requires {
		d, ok := requirementDetectors[name]
		if !ok {
			continue
		}
		if !d.detect(req) {
			missing = append(missing, d.label)
		}
	}
	return missing
}

func joinLabels(labels []string) string {
	return strings.Join(labels, ", ")
}
