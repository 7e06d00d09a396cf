package orchestrator

import (
	"fmt"
	"strings"

	"github.com/alunalabs/aluna/internal/domain"
)

// systemPreamble describes the assistant's persona and behavioral constraints.
// It is always the first prompt message and is never truncated.
const systemPreamble = `You are "Aluna", a warm, steady companion focused on emotional well-being.

Your role:
- Listen with empathy and without judgment.
- Help the user name what they feel, what they need, and one small next step.
- You are NOT a therapist or emergency service and you never give medical diagnoses.

Style:
- Answer in the same language as the user.
- Be brief: a few short paragraphs at most.
- Reflect back what you understood before suggesting anything.
- Ask at most one or two follow-up questions.

Safety:
- If the user mentions self-harm or harming others, gently encourage them to
  contact local emergency services or a trusted person right away.
- Never give instructions that could cause harm.`

// stylisticHints are behavioral nudges; one is drawn uniformly per turn so
// replies don't settle into a single register.
var stylisticHints = []string{
	"Keep this reply a little shorter than usual.",
	"Lead with validation before anything else.",
	"Offer one concrete, very small suggestion.",
	"Mirror the user's own words where it feels natural.",
	"Stay curious; favor a question over advice this turn.",
}

// enrichmentContext aggregates whatever enrichment signals survived the fetch.
type enrichmentContext struct {
	hint              string
	sentiment         *domain.SentimentSnapshot
	previousSentiment *domain.SentimentSnapshot
	goals             []domain.TherapeuticGoal
	question          string
}

func (e *enrichmentContext) empty() bool {
	return e.sentiment == nil && len(e.goals) == 0 && e.question == ""
}

// buildContextBlock renders the one extra system message summarizing the
// enrichment payloads for this turn.
func buildContextBlock(e *enrichmentContext) string {
	var b strings.Builder
	b.WriteString("Context for this reply (do not mention this block to the user):\n")
	b.WriteString("- Style: " + e.hint + "\n")

	if e.sentiment != nil {
		fmt.Fprintf(&b, "- Current mood: %s (intensity %d/10, distress %d/10)",
			e.sentiment.PrimaryEmotion, e.sentiment.Intensity, e.sentiment.Distress)
		if len(e.sentiment.Topics) > 0 {
			fmt.Fprintf(&b, ", topics: %s", strings.Join(e.sentiment.Topics, ", "))
		}
		b.WriteString("\n")
		if e.previousSentiment != nil {
			fmt.Fprintf(&b, "- Previous mood: %s (intensity %d/10, distress %d/10)\n",
				e.previousSentiment.PrimaryEmotion, e.previousSentiment.Intensity, e.previousSentiment.Distress)
		}
	}

	for _, g := range e.goals {
		fmt.Fprintf(&b, "- Active goal: %q (%d%% progress)\n", g.Description, g.Progress)
	}

	if e.question != "" {
		fmt.Fprintf(&b, "- Weave in this reflective question, word for word: %q\n", e.question)
	}

	return strings.TrimRight(b.String(), "\n")
}
