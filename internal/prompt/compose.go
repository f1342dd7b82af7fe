// Package prompt builds the instruction and user prompts for every
// generation kind. Nothing here performs I/O.
package prompt

import (
	"fmt"
	"strings"
)

// MaxExemplars caps how many earlier outputs are quoted as style examples.
const MaxExemplars = 2

type Prompts struct {
	System string
	User   string
}

// Compose builds prompts for req. Exemplars are expected most-recent-first;
// blanks are skipped and at most MaxExemplars are quoted.
func Compose(req Request, exemplars []string) Prompts {
	req = req.Normalized()

	var system strings.Builder
	switch req.Kind {
	case KindApology:
		writeApologySystem(&system, req)
	case KindProof:
		writeProofSystem(&system, req)
	default:
		writeExcuseSystem(&system, req)
	}
	writeExemplars(&system, req.Kind, exemplars)

	return Prompts{
		System: strings.TrimSpace(system.String()),
		User:   buildUserPrompt(req),
	}
}

func writeExcuseSystem(b *strings.Builder, req Request) {
	b.WriteString("You are Alibi, an assistant that writes believable, tactful excuses.\n")
	fmt.Fprintf(b, "Respond only in %s.\n", req.Language)
	b.WriteString("Write exactly one excuse of one to three sentences that the user can send as-is.\n")
	b.WriteString("Match the urgency: low means relaxed, high means brief and pressing.\n")
	b.WriteString("Do not add commentary, explanations, alternatives, quotes, headings, or numbering.\n")
}

func writeApologySystem(b *strings.Builder, req Request) {
	b.WriteString("You are Alibi, an assistant that writes sincere, concise apologies.\n")
	fmt.Fprintf(b, "Respond only in %s.\n", req.Language)
	b.WriteString("Write exactly one apology message of two to four sentences that takes responsibility without over-explaining.\n")
	b.WriteString("Do not add commentary, explanations, alternatives, quotes, headings, or numbering.\n")
}

func writeProofSystem(b *strings.Builder, req Request) {
	b.WriteString("You are Alibi, an assistant that writes short, realistic chat transcripts that back up an excuse.\n")
	fmt.Fprintf(b, "Respond only in %s.\n", req.Language)
	b.WriteString(req.Platform.template())
	b.WriteString("\n")
	fmt.Fprintf(b, "Write between %d and %d lines.\n", MinTranscriptLines, MaxTranscriptLines)
	b.WriteString("Every line must use the exact format `Speaker: Message` on a single line.\n")
	fmt.Fprintf(b, "Use only these speakers, spelled exactly: %s.\n", strings.Join(req.Participants, ", "))
	b.WriteString("Do not add blank lines, timestamps, commentary, headings, or numbering.\n")
}

func writeExemplars(b *strings.Builder, kind Kind, exemplars []string) {
	quoted := make([]string, 0, MaxExemplars)
	for _, exemplar := range exemplars {
		trimmed := strings.TrimSpace(exemplar)
		if trimmed == "" {
			continue
		}
		quoted = append(quoted, trimmed)
		if len(quoted) == MaxExemplars {
			break
		}
	}
	if len(quoted) == 0 {
		return
	}

	fmt.Fprintf(b, "\nThis user marked these earlier %s as successful, most recent first. Match their tone and length without copying them:\n", kind.plural())
	for i, exemplar := range quoted {
		fmt.Fprintf(b, "<example %d>\n%s\n</example %d>\n", i+1, exemplar, i+1)
	}
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Situation: %s\n", req.Situation)
	fmt.Fprintf(&b, "Context: %s\n", req.Context)
	fmt.Fprintf(&b, "Urgency: %s\n", req.Urgency)

	switch req.Kind {
	case KindApology:
		if req.Excuse != "" {
			fmt.Fprintf(&b, "Excuse already given: %s\n", req.Excuse)
		}
	case KindProof:
		if req.Excuse != "" {
			fmt.Fprintf(&b, "Excuse to support: %s\n", req.Excuse)
		}
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(req.Participants, ", "))
		fmt.Fprintf(&b, "Platform: %s\n", req.Platform)
	}
	return strings.TrimSpace(b.String())
}
