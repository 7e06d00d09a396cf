package orchestrator

import (
	"strings"
	"testing"

	"github.com/alunalabs/aluna/internal/llm"
)

func TestEstimateMessageTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		content string
		want    int
	}{
		{"", 4},
		{"abcd", 5},
		{"abcde", 6},
		{strings.Repeat("x", 400), 104},
		// Multibyte content counts runes, not bytes: 5 runes but 10 bytes.
		{"ñññññ", 6},
		{"qué pasó", 6},
	}
	for _, tc := range cases {
		if got := estimateMessageTokens(tc.content); got != tc.want {
			t.Errorf("estimateMessageTokens(%q) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestFitBudgetWithinBudget(t *testing.T) {
	t.Parallel()

	messages := []llm.Message{
		{Role: "system", Content: "preamble"},
		{Role: "user", Content: "hola"},
	}
	got, allowance := fitBudget(messages, 4096, 300)

	if len(got) != 2 {
		t.Fatalf("messages trimmed unnecessarily: %d left", len(got))
	}
	if allowance != 300 {
		t.Errorf("allowance = %d, want the 300 cap", allowance)
	}
	if estimatePromptTokens(got)+allowance > 4096 {
		t.Errorf("prompt %d + allowance %d exceeds budget", estimatePromptTokens(got), allowance)
	}
}

func TestFitBudgetDropsOldestNonSystem(t *testing.T) {
	t.Parallel()

	filler := strings.Repeat("a", 400) // ~104 tokens per message
	messages := []llm.Message{
		{Role: "system", Content: "preamble"},
		{Role: "user", Content: "oldest " + filler},
		{Role: "assistant", Content: "older " + filler},
		{Role: "system", Content: "context block"},
		{Role: "user", Content: "newest question"},
	}

	// Budget fits the preamble, the context block, the final message, and one
	// history entry, but not both history entries.
	budget := estimatePromptTokens(messages) - 50
	got, allowance := fitBudget(messages, budget, 300)

	if allowance <= 0 {
		t.Fatalf("allowance = %d, want positive", allowance)
	}
	if estimatePromptTokens(got)+allowance > budget {
		t.Errorf("prompt %d + allowance %d exceeds budget %d", estimatePromptTokens(got), allowance, budget)
	}

	if got[0].Content != "preamble" {
		t.Error("preamble was dropped")
	}
	if got[len(got)-1].Content != "newest question" {
		t.Error("final user message was dropped")
	}
	for _, m := range got {
		if strings.HasPrefix(m.Content, "oldest ") {
			t.Error("oldest history entry survived; it should be dropped first")
		}
		if m.Content == "context block" {
			return
		}
	}
	t.Error("system context block was dropped")
}

func TestFitBudgetFloorWhenNothingDroppable(t *testing.T) {
	t.Parallel()

	messages := []llm.Message{
		{Role: "system", Content: strings.Repeat("p", 2000)},
		{Role: "user", Content: strings.Repeat("q", 2000)},
	}
	got, allowance := fitBudget(messages, 100, 300)

	if len(got) != 2 {
		t.Fatalf("undroppable messages were dropped: %d left", len(got))
	}
	if allowance != 1 {
		t.Errorf("allowance = %d, want floor of 1", allowance)
	}
}
