package runtime

import (
	"testing"
)

func TestStaticContextWindowPrefixMatch(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-20250514", 200000},
		{"claude-3-5-haiku-20241022", 200000},
		{"gpt-4o-2024-08-06", 128000},
		{"gpt-4o-mini", 128000},
		{"gpt-4-0613", 8192},
		{"gpt-4-turbo-2024-04-09", 128000},
		{"o3-mini", 200000},
		{"totally-unknown-model", 0},
	}
	for _, tt := range tests {
		if got := StaticContextWindow(tt.model); got != tt.want {
			t.Errorf("StaticContextWindow(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}
