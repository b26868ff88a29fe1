package coretools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/harun/sigap/pkg/toolexecutor"
)

var (
	numberToken = regexp.MustCompile(`\d[\d.,]*\d|\d`)
	allowedExpr = regexp.MustCompile(`^[0-9a-z_.,+\-*/%()\s]*$`)
)

// calculatorEnv exposes only numeric helpers; expr builtins cover
// abs, ceil, floor, round, min and max.
var calculatorEnv = map[string]interface{}{
	"percent": func(part, total float64) float64 {
		if total == 0 {
			return math.NaN()
		}
		return part / total * 100
	},
	"pow":  math.Pow,
	"sqrt": math.Sqrt,
}

func calculatorTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolCalculator,
		Description: "Evaluate an arithmetic expression. Supports + - * / %, parentheses, " +
			"percentages like 15% and the functions round, floor, ceil, abs, min, max, pow, sqrt, " +
			"percent(part, total). Numbers use Indonesian format: a dot groups thousands (1.500 is " +
			"fifteen hundred) and a comma marks decimals (2,5). Inside function calls commas separate " +
			"arguments, so write decimals there with a dot: round(2.345).",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "expression", Type: "string", Description: "Arithmetic expression, e.g. 1.500.000 * 12", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			raw := stringParam(params, "expression")
			value, err := Evaluate(raw)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"expression": raw,
				"result":     formatNumber(value),
			}, nil
		},
	}
}

// Evaluate computes an arithmetic expression
func Evaluate(raw string) (float64, error) {
	input := prepareExpression(raw)
	if input == "" {
		return 0, fmt.Errorf("expression is empty")
	}
	if !allowedExpr.MatchString(input) {
		return 0, fmt.Errorf("expression contains unsupported characters: %q", raw)
	}

	program, err := expr.Compile(input, expr.Env(calculatorEnv), expr.AsFloat64())
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q: %w", raw, err)
	}

	out, err := expr.Run(program, calculatorEnv)
	if err != nil {
		return 0, fmt.Errorf("evaluation failed: %w", err)
	}

	value, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("expression did not produce a number")
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("division by zero or undefined result")
	}
	return value, nil
}

func prepareExpression(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(
		"×", "*",
		"÷", "/",
		"−", "-",
		"rp", "",
		" x ", " * ",
		" kali ", " * ",
		" bagi ", " / ",
		" tambah ", " + ",
		" kurang ", " - ",
	).Replace(s)
	s = strings.TrimSuffix(s, "=")

	// Inside function calls a comma separates arguments, so a lone dot there
	// is a decimal point. Elsewhere numbers follow Indonesian grouping.
	var b strings.Builder
	last := 0
	for _, loc := range numberToken.FindAllStringIndex(s, -1) {
		b.WriteString(s[last:loc[0]])
		tok := s[loc[0]:loc[1]]
		if insideCall(s[:loc[0]]) {
			parts := strings.Split(tok, ",")
			for i, p := range parts {
				if strings.Count(p, ".") != 1 {
					parts[i] = normalizeNumber(p)
				}
			}
			b.WriteString(strings.Join(parts, ", "))
		} else {
			b.WriteString(normalizeNumber(tok))
		}
		last = loc[1]
	}
	b.WriteString(s[last:])
	s = b.String()

	return expandPercent(s)
}

// insideCall reports whether the end of prefix sits within the parentheses
// of a function call such as round( or max(
func insideCall(prefix string) bool {
	var open []bool
	for i, r := range prefix {
		switch r {
		case '(':
			j := i
			for j > 0 && prefix[j-1] == ' ' {
				j--
			}
			open = append(open, j > 0 && prefix[j-1] >= 'a' && prefix[j-1] <= 'z')
		case ')':
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		}
	}
	for _, call := range open {
		if call {
			return true
		}
	}
	return false
}

// expandPercent rewrites a postfix percentage (15%) into (15/100) unless the
// % is a binary modulo between two operands.
func expandPercent(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '%' || i == 0 || !isDigit(runes[i-1]) {
			b.WriteRune(r)
			continue
		}

		j := i + 1
		for j < len(runes) && runes[j] == ' ' {
			j++
		}
		if j < len(runes) && (isDigit(runes[j]) || runes[j] == '(') {
			b.WriteRune(r)
			continue
		}

		// Find the start of the number we already wrote
		written := []rune(b.String())
		k := len(written)
		for k > 0 && (isDigit(written[k-1]) || written[k-1] == '.') {
			k--
		}
		number := string(written[k:])
		b.Reset()
		b.WriteString(string(written[:k]))
		b.WriteString("(" + number + "/100)")
	}
	return b.String()
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
