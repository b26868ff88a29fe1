package coretools

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harun/sigap/pkg/toolexecutor"
)

// maxTableRows bounds the CSV a single call may analyse
const maxTableRows = 10000

func tableAnalysisTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolTableAnalysis,
		Description: "Analyse CSV data. Computes sum, avg, min, max or count of a column, " +
			"optionally grouped by another column. The first CSV row must be the header; ';' and ',' delimiters are accepted.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "csv", Type: "string", Description: "CSV text including a header row", Required: true},
			{Name: "column", Type: "string", Description: "Column to aggregate", Required: true},
			{Name: "operation", Type: "string", Description: "Aggregation", Required: true,
				Enum: []string{"sum", "avg", "min", "max", "count"}},
			{Name: "group_by", Type: "string", Description: "Optional column to group by"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return analyseTable(
				stringParam(params, "csv"),
				stringParam(params, "column"),
				stringParam(params, "operation"),
				stringParam(params, "group_by"),
			)
		},
	}
}

type aggregate struct {
	count int
	sum   float64
	min   float64
	max   float64
}

func (a *aggregate) add(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	}
	a.count++
	a.sum += v
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
}

func (a *aggregate) value(op string) float64 {
	switch op {
	case "sum":
		return a.sum
	case "avg":
		if a.count == 0 {
			return 0
		}
		return a.sum / float64(a.count)
	case "min":
		return a.min
	case "max":
		return a.max
	default:
		return float64(a.count)
	}
}

func analyseTable(text, column, op, groupBy string) (map[string]interface{}, error) {
	if text == "" {
		return nil, fmt.Errorf("csv is empty")
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = detectDelimiter(text)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("csv needs a header row and at least one data row")
	}
	if len(rows)-1 > maxTableRows {
		return nil, fmt.Errorf("csv has %d rows, limit is %d", len(rows)-1, maxTableRows)
	}

	header := rows[0]
	colIdx := columnIndex(header, column)
	if colIdx < 0 {
		return nil, fmt.Errorf("column %q not found (available: %s)", column, strings.Join(header, ", "))
	}
	groupIdx := -1
	if groupBy != "" {
		groupIdx = columnIndex(header, groupBy)
		if groupIdx < 0 {
			return nil, fmt.Errorf("group_by column %q not found (available: %s)", groupBy, strings.Join(header, ", "))
		}
	}

	total := &aggregate{}
	groups := make(map[string]*aggregate)
	skipped := 0

	for _, row := range rows[1:] {
		if colIdx >= len(row) {
			skipped++
			continue
		}

		var v float64
		if op != "count" {
			v, err = parseNumber(row[colIdx])
			if err != nil {
				skipped++
				continue
			}
		}

		total.add(v)
		if groupIdx >= 0 && groupIdx < len(row) {
			key := strings.TrimSpace(row[groupIdx])
			if groups[key] == nil {
				groups[key] = &aggregate{}
			}
			groups[key].add(v)
		}
	}

	if total.count == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", column)
	}

	result := map[string]interface{}{
		"operation": op,
		"column":    header[colIdx],
		"rows":      total.count,
		"value":     formatNumber(total.value(op)),
	}
	if skipped > 0 {
		result["skipped_rows"] = skipped
	}

	if groupIdx >= 0 {
		keys := make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		grouped := make([]map[string]interface{}, 0, len(keys))
		for _, k := range keys {
			grouped = append(grouped, map[string]interface{}{
				"group": k,
				"value": formatNumber(groups[k].value(op)),
				"rows":  groups[k].count,
			})
		}
		result["group_by"] = header[groupIdx]
		result["groups"] = grouped
	}

	return result, nil
}

func detectDelimiter(text string) rune {
	firstLine := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		firstLine = text[:i]
	}
	if strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		return ';'
	}
	if strings.Count(firstLine, "\t") > strings.Count(firstLine, ",") {
		return '\t'
	}
	return ','
}

func columnIndex(header []string, name string) int {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i
		}
	}
	return -1
}
