package runtime

import (
	"strings"
)

// staticContextWindows is the fallback table used when the provider cannot
// list models. Matched by longest prefix so dated model ids resolve.
var staticContextWindows = map[string]int{
	"claude-opus-4":     200000,
	"claude-sonnet-4":   200000,
	"claude-haiku-4":    200000,
	"claude-3-7-sonnet": 200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-5-haiku":  200000,
	"claude-3-opus":     200000,
	"claude-3-haiku":    200000,
	"gpt-4o":            128000,
	"gpt-4o-mini":       128000,
	"gpt-4-turbo":       128000,
	"gpt-4.1":           1047576,
	"gpt-4":             8192,
	"gpt-3.5-turbo":     16385,
	"o1":                200000,
	"o3":                200000,
	"o4-mini":           200000,
}

// StaticContextWindow resolves a model's context window from the fallback
// table by longest matching prefix. Returns 0 when the model is unknown.
func StaticContextWindow(model string) int {
	best := 0
	window := 0
	for prefix, limit := range staticContextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best = len(prefix)
			window = limit
		}
	}
	return window
}
