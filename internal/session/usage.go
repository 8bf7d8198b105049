// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

// Usage holds normalized token and cost totals.
type Usage struct {
	Input      int64   `json:"input"`
	Output     int64   `json:"output"`
	CacheRead  int64   `json:"cacheRead"`
	CacheWrite int64   `json:"cacheWrite"`
	Total      int64   `json:"total"`
	Cost       float64 `json:"cost"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
	u.Total += other.Total
	u.Cost += other.Cost
}

// Alias tables for usage fields. Agent versions have disagreed on naming;
// this is the single place that knows every spelling.
var (
	inputAliases = []string{
		"input", "input_tokens", "inputTokens",
		"prompt", "prompt_tokens", "promptTokens",
	}
	outputAliases = []string{
		"output", "output_tokens", "outputTokens",
		"completion", "completion_tokens", "completionTokens",
	}
	cacheReadAliases = []string{
		"cacheRead", "cache_read", "cache_read_tokens", "cacheReadTokens",
		"cache_read_input_tokens", "cacheReadInputTokens",
	}
	cacheWriteAliases = []string{
		"cacheWrite", "cache_write", "cache_write_tokens", "cacheWriteTokens",
		"cache_creation_input_tokens", "cacheCreationInputTokens",
	}
	totalAliases = []string{
		"total", "totalTokens", "total_tokens", "tokens",
	}
	costAliases = []string{
		"cost", "costUSD", "total_cost", "totalCost",
	}
)

// normalizeUsage folds a raw usage object into a Usage. Unknown fields are
// ignored. If no total alias is present, the total is input + output.
func normalizeUsage(m map[string]any) Usage {
	var u Usage
	if m == nil {
		return u
	}

	u.Input = pickInt(m, inputAliases)
	u.Output = pickInt(m, outputAliases)
	u.CacheRead = pickInt(m, cacheReadAliases)
	u.CacheWrite = pickInt(m, cacheWriteAliases)

	if total, ok := lookupInt(m, totalAliases); ok {
		u.Total = total
	} else {
		u.Total = u.Input + u.Output
	}

	u.Cost = pickCost(m)
	return u
}

// pickInt returns the first alias present as a number, or 0.
func pickInt(m map[string]any, aliases []string) int64 {
	v, _ := lookupInt(m, aliases)
	return v
}

func lookupInt(m map[string]any, aliases []string) (int64, bool) {
	for _, key := range aliases {
		if raw, ok := m[key]; ok {
			if n, ok := asInt(raw); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// pickCost handles cost supplied as a plain number or as a breakdown object
// {input, output, cacheRead, cacheWrite}.
func pickCost(m map[string]any) float64 {
	for _, key := range costAliases {
		raw, ok := m[key]
		if !ok {
			continue
		}
		if f, ok := asFloat(raw); ok {
			return f
		}
		if breakdown, ok := raw.(map[string]any); ok {
			var sum float64
			for _, part := range []string{"input", "output", "cacheRead", "cache_read", "cacheWrite", "cache_write", "total"} {
				if f, ok := asFloat(breakdown[part]); ok {
					if part == "total" {
						return f
					}
					sum += f
				}
			}
			return sum
		}
	}
	return 0
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
