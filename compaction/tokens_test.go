package compaction

import (
	"strings"
	"testing"

	"github.com/convoflow/convoflow/types"
)

func TestShouldCompact(t *testing.T) {
	tests := []struct {
		name      string
		observed  int
		threshold int
		want      bool
	}{
		{"below threshold", 999, 1000, false},
		{"at threshold", 1000, 1000, true},
		{"above threshold", 1001, 1000, true},
		{"zero threshold disables", 5000, 0, false},
		{"negative threshold disables", 5000, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldCompact(tt.observed, tt.threshold); got != tt.want {
				t.Errorf("ShouldCompact(%d, %d) = %v, want %v",
					tt.observed, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestApproximateTokens(t *testing.T) {
	if got := ApproximateTokens(""); got != 0 {
		t.Errorf("empty = %d, want 0", got)
	}
	if got := ApproximateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("400 chars = %d, want 100", got)
	}
}

func TestEstimateTokens_GrowsWithContent(t *testing.T) {
	short := []*types.Message{types.NewUserMessage("hi")}
	long := []*types.Message{types.NewUserMessage(strings.Repeat("long message ", 100))}

	if EstimateTokens(short) >= EstimateTokens(long) {
		t.Error("longer transcript should estimate more tokens")
	}
}

func TestEstimateTokens_CountsToolTraffic(t *testing.T) {
	bare := []*types.Message{types.NewAssistantMessage("ok", nil)}
	withTool := []*types.Message{types.NewAssistantMessage("ok", []types.ToolCall{{
		Name:   "search",
		Input:  []byte(`{"query":"a long query string"}`),
		Output: strings.Repeat("result ", 50),
	}})}

	if EstimateTokens(withTool) <= EstimateTokens(bare) {
		t.Error("tool inputs and outputs should count toward the estimate")
	}
}
