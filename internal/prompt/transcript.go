package prompt

import (
	"errors"
	"regexp"
	"strings"
)

const (
	MinTranscriptLines = 3
	MaxTranscriptLines = 5
)

var (
	ErrMalformedTranscript = errors.New("generated transcript is malformed")

	// Optional list marker, a speaker without ':', then a non-empty message.
	transcriptLinePattern = regexp.MustCompile(`^(?:[-*•]\s+|\d{1,2}[.)]\s+)?([^:]{1,40}?)\s*:\s*(\S.*)$`)
)

type Line struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
}

func (l Line) String() string {
	return l.Speaker + ": " + l.Message
}

// ParseTranscript keeps the `Speaker: Message` lines of text whose speaker
// is one of participants (case-insensitive, rewritten to the canonical
// spelling). Anything else is dropped. At most MaxTranscriptLines survive;
// fewer than MinTranscriptLines is ErrMalformedTranscript.
func ParseTranscript(text string, participants []string) ([]Line, error) {
	canonical := make(map[string]string, len(participants))
	for _, name := range participants {
		trimmed := strings.TrimSpace(name)
		if trimmed != "" {
			canonical[strings.ToLower(trimmed)] = trimmed
		}
	}

	lines := make([]Line, 0, MaxTranscriptLines)
	for _, raw := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.Trim(raw, "`"))
		if trimmed == "" {
			continue
		}
		match := transcriptLinePattern.FindStringSubmatch(trimmed)
		if match == nil {
			continue
		}

		speaker := strings.Trim(strings.TrimSpace(match[1]), "*_")
		if len(canonical) > 0 {
			name, ok := canonical[strings.ToLower(speaker)]
			if !ok {
				continue
			}
			speaker = name
		}

		message := strings.TrimSpace(match[2])
		if speaker == "" || message == "" {
			continue
		}

		lines = append(lines, Line{Speaker: speaker, Message: message})
		if len(lines) == MaxTranscriptLines {
			break
		}
	}

	if len(lines) < MinTranscriptLines {
		return nil, ErrMalformedTranscript
	}
	return lines, nil
}

// FormatTranscript renders lines back to one `Speaker: Message` per line.
func FormatTranscript(lines []Line) string {
	parts := make([]string, len(lines))
	for i, line := range lines {
		parts[i] = line.String()
	}
	return strings.Join(parts, "\n")
}
