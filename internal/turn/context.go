package turn

import (
	"strings"

	"github.com/TRQoder/cofounder/internal/memory"
	"github.com/TRQoder/cofounder/internal/provider"
	"github.com/TRQoder/cofounder/internal/store"
)

// recallPreamble introduces the long-term memory block. Recalled texts
// are appended below it, newline-joined, in similarity-ranked order.
const recallPreamble = "These are some previous messages from the chat, use them to generate a response."

// DefaultPersona is the system instruction used when the configuration
// does not override it.
const DefaultPersona = `You are the user's virtual co-founder and tech buddy: part mentor,
part brainstorming partner, with garage-startup energy.

STYLE:
- Short, crisp, actionable answers with founder energy
- Code is clean and production-ready, with only essential comments
- Business questions get brainstorming mode: problem, solution, execution
- End each answer with a one-line "Founder's Tip"

FOCUS:
- Full-stack product building, trading and finance basics,
  entrepreneurship skills, productivity and mindset
- Examples come from real startups
- Avoid over-complicated theory; solutions are execution-ready`

// assembleWindow builds the ordered context window for one generation
// call: first a single synthetic user fragment carrying the long-term
// recall block, then the short-term messages mapped 1:1 onto fragments
// in chronological order. The block ordering is a fixed protocol rule.
func assembleWindow(matches []memory.Match, shortTerm []*store.Message) []provider.Message {
	var sb strings.Builder
	sb.WriteString(recallPreamble)
	for _, m := range matches {
		sb.WriteString("\n")
		sb.WriteString(m.Text)
	}

	window := make([]provider.Message, 0, len(shortTerm)+1)
	window = append(window, provider.Message{
		Role:    provider.RoleUser,
		Content: sb.String(),
	})

	for _, msg := range shortTerm {
		window = append(window, provider.Message{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return window
}

// reverseMessages flips a newest-first store result into chronological
// order, in place.
func reverseMessages(msgs []*store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
