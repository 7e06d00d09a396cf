package orchestrator

import (
	"unicode/utf8"

	"github.com/alunalabs/aluna/internal/llm"
)

// requestOverheadTokens is the fixed per-request cost added on top of the
// per-message estimates.
const requestOverheadTokens = 3

// estimateMessageTokens approximates the token cost of one prompt message:
// ceil(chars/4) plus a per-message framing cost of 4. Characters are runes,
// not bytes, so accented Spanish text is not double-counted.
func estimateMessageTokens(content string) int {
	return (utf8.RuneCountInString(content)+3)/4 + 4
}

// estimatePromptTokens sums the message estimates plus the request overhead.
func estimatePromptTokens(messages []llm.Message) int {
	total := requestOverheadTokens
	for _, m := range messages {
		total += estimateMessageTokens(m.Content)
	}
	return total
}

// fitBudget computes the reply-token allowance for the prompt, truncating the
// oldest non-system messages until the allowance is positive. The system
// preamble (index 0) and the final message (the newest user message) are never
// dropped. Returns the possibly-truncated prompt and the reply allowance.
func fitBudget(messages []llm.Message, totalBudget, maxReply int) ([]llm.Message, int) {
	for {
		allowance := totalBudget - estimatePromptTokens(messages)
		if allowance > maxReply {
			allowance = maxReply
		}
		if allowance > 0 {
			return messages, allowance
		}

		// Find the oldest droppable message: skip the preamble, any system
		// context blocks, and the final user message.
		dropped := false
		for i := 1; i < len(messages)-1; i++ {
			if messages[i].Role == "system" {
				continue
			}
			messages = append(messages[:i], messages[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			// Nothing left to trim; grant the floor so the call still goes out.
			return messages, 1
		}
	}
}
