package tool

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const approxBytesPerToken = 4

// TruncationPolicy limits the size of a tool result before it enters
// model context.
type TruncationPolicy struct {
	MaxTokens int
	MaxBytes  int
}

// DefaultTruncationPolicy returns the default result budget.
func DefaultTruncationPolicy() TruncationPolicy {
	return TruncationPolicy{MaxTokens: 10_000}
}

func (p TruncationPolicy) tokenBudget() int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	if p.MaxBytes > 0 {
		return p.MaxBytes / approxBytesPerToken
	}
	return 0
}

// TruncationInfo describes truncation that was applied.
type TruncationInfo struct {
	Truncated       bool
	EstimatedTokens int
	RemovedTokens   int
	OmittedItems    int
}

// TruncateResult cuts a tool result map down to the policy budget,
// walking keys in sorted order so the outcome is deterministic. Strings
// are cut in the middle with a marker; values past the budget are
// dropped and counted.
func TruncateResult(result map[string]any, policy TruncationPolicy) (map[string]any, TruncationInfo) {
	info := TruncationInfo{}
	budget := policy.tokenBudget()
	if budget <= 0 || result == nil {
		return result, info
	}
	info.EstimatedTokens = tokensOf(result)
	if info.EstimatedTokens <= budget {
		return result, info
	}

	remaining := budget
	cut := &cutter{}
	out, _ := cut.walk(result, &remaining).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	info.Truncated = true
	info.OmittedItems = cut.omitted
	info.RemovedTokens = info.EstimatedTokens - (budget - remaining)
	out["_truncated"] = fmt.Sprintf("output over %d token budget; %d tokens removed", budget, info.RemovedTokens)
	return out, info
}

type cutter struct {
	omitted int
}

func (c *cutter) walk(value any, remaining *int) any {
	if *remaining <= 0 {
		c.omitted++
		return nil
	}
	switch v := value.(type) {
	case string:
		cost := textTokens(v)
		if cost <= *remaining {
			*remaining -= cost
			return v
		}
		cutText := TruncateText(v, *remaining)
		*remaining = 0
		c.omitted++
		return cutText
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(v))
		for _, k := range keys {
			if *remaining <= 0 {
				c.omitted++
				continue
			}
			if kept := c.walk(v[k], remaining); kept != nil {
				out[k] = kept
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if *remaining <= 0 {
				c.omitted++
				continue
			}
			if kept := c.walk(item, remaining); kept != nil {
				out = append(out, kept)
			}
		}
		return out
	default:
		cost := textTokens(fmt.Sprint(value))
		if cost <= *remaining {
			*remaining -= cost
			return value
		}
		c.omitted++
		return nil
	}
}

// TruncateText cuts s in the middle to roughly maxTokens, keeping the
// head and tail, and prepends the original line count when the text was
// multi-line.
func TruncateText(s string, maxTokens int) string {
	budgetBytes := maxTokens * approxBytesPerToken
	if budgetBytes <= 0 || len(s) <= budgetBytes {
		return s
	}
	left := alignRuneBoundary(s, budgetBytes/2)
	rightStart := len(s) - budgetBytes/2
	for rightStart < len(s) && !utf8.RuneStart(s[rightStart]) {
		rightStart++
	}
	removed := rightStart - left
	marker := fmt.Sprintf("\n...%d tokens truncated...\n", (removed+approxBytesPerToken-1)/approxBytesPerToken)
	out := s[:left] + marker + s[rightStart:]
	if strings.Contains(s, "\n") {
		out = fmt.Sprintf("Total output lines: %d\n\n%s", strings.Count(s, "\n")+1, out)
	}
	return out
}

func alignRuneBoundary(s string, target int) int {
	if target >= len(s) {
		return len(s)
	}
	for target > 0 && !utf8.RuneStart(s[target]) {
		target--
	}
	return target
}

func tokensOf(value any) int {
	switch v := value.(type) {
	case string:
		return textTokens(v)
	case map[string]any:
		sum := 0
		for k, item := range v {
			sum += textTokens(k) + tokensOf(item)
		}
		return sum
	case []any:
		sum := 0
		for _, item := range v {
			sum += tokensOf(item)
		}
		return sum
	default:
		return textTokens(fmt.Sprint(value))
	}
}

func textTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + approxBytesPerToken - 1) / approxBytesPerToken
}
