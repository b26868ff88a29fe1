package coretools

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/harun/sigap/pkg/toolexecutor"
)

// Tool names
const (
	ToolSearch           = "search"
	ToolCalculator       = "calculator"
	ToolDateSchedule     = "date_schedule"
	ToolTableAnalysis    = "table_analysis"
	ToolDocumentTemplate = "document_template"
	ToolLegalLookup      = "legal_lookup"
)

// Names lists every core tool in registration order
var Names = []string{
	ToolSearch,
	ToolCalculator,
	ToolDateSchedule,
	ToolTableAnalysis,
	ToolDocumentTemplate,
	ToolLegalLookup,
}

// Options configures core tool registration.
type Options struct {
	// Location used by date tools; defaults to Asia/Jakarta, then UTC
	Location *time.Location
	// Index backs the search tool; search fails without one
	Index DocumentIndex
	// Corpus backs legal_lookup; defaults to the built-in corpus
	Corpus *LegalCorpus
	// Now is overridable for tests
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Location == nil {
		loc, err := time.LoadLocation("Asia/Jakarta")
		if err != nil {
			loc = time.UTC
		}
		o.Location = loc
	}
	if o.Corpus == nil {
		o.Corpus = DefaultLegalCorpus()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// RegisterCoreTools registers the six built-in tools.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	opts.applyDefaults()

	tools := []toolexecutor.ToolDefinition{
		searchTool(opts),
		calculatorTool(),
		dateScheduleTool(opts),
		tableAnalysisTool(),
		documentTemplateTool(opts),
		legalLookupTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return strings.TrimSpace(s)
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func toStringMap(value interface{}) map[string]string {
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch typed := v.(type) {
		case string:
			out[k] = typed
		case float64:
			out[k] = formatNumber(typed)
		default:
			out[k] = fmt.Sprintf("%v", typed)
		}
	}
	return out
}

// normalizeNumber turns an Indonesian or English formatted number into a
// plain decimal literal: "1.500.000" and "1,500,000" become "1500000",
// "2,5" becomes "2.5".
func normalizeNumber(tok string) string {
	dots := strings.Count(tok, ".")
	commas := strings.Count(tok, ",")

	switch {
	case dots > 0 && commas > 0:
		// The separator that appears last is the decimal point
		if strings.LastIndex(tok, ",") > strings.LastIndex(tok, ".") {
			tok = strings.ReplaceAll(tok, ".", "")
			return strings.Replace(tok, ",", ".", 1)
		}
		return strings.ReplaceAll(tok, ",", "")
	case dots > 1:
		return strings.ReplaceAll(tok, ".", "")
	case commas > 1:
		return strings.ReplaceAll(tok, ",", "")
	case dots == 1:
		if isThousandsGroup(tok, ".") {
			return strings.ReplaceAll(tok, ".", "")
		}
		return tok
	case commas == 1:
		if isThousandsGroup(tok, ",") {
			return strings.ReplaceAll(tok, ",", "")
		}
		return strings.Replace(tok, ",", ".", 1)
	}
	return tok
}

// isThousandsGroup reports whether a single separator splits a non-zero
// integer part from exactly three digits.
func isThousandsGroup(tok, sep string) bool {
	parts := strings.SplitN(tok, sep, 2)
	return len(parts) == 2 && len(parts[1]) == 3 && strings.TrimLeft(parts[0], "0") != ""
}

// parseNumber parses a formatted number, tolerating "Rp" prefixes and spaces
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "Rp"), "rp")
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return 0, errors.New("empty number")
	}
	return strconv.ParseFloat(normalizeNumber(s), 64)
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}
