package prompt

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	defaultContext  = "general"
	defaultLanguage = "English"

	maxSituationRunes   = 2000
	maxTagRunes         = 40
	maxParticipants     = 4
	maxParticipantRunes = 40
)

var ErrSituationRequired = errors.New("situation is required")

// Kind selects the generation flavour.
type Kind int

const (
	KindExcuse Kind = iota
	KindApology
	KindProof
)

func (k Kind) String() string {
	switch k {
	case KindApology:
		return "apology"
	case KindProof:
		return "proof"
	default:
		return "excuse"
	}
}

func (k Kind) plural() string {
	switch k {
	case KindApology:
		return "apologies"
	case KindProof:
		return "chat transcripts"
	default:
		return "excuses"
	}
}

func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "excuse":
		return KindExcuse, true
	case "apology":
		return KindApology, true
	case "proof":
		return KindProof, true
	default:
		return KindExcuse, false
	}
}

type Urgency int

const (
	UrgencyMedium Urgency = iota
	UrgencyLow
	UrgencyHigh
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyHigh:
		return "high"
	default:
		return "medium"
	}
}

// ParseUrgency maps an urgency tag; empty or unknown tags are medium.
func ParseUrgency(raw string) (Urgency, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return UrgencyLow, true
	case "medium", "":
		return UrgencyMedium, true
	case "high", "urgent":
		return UrgencyHigh, true
	default:
		return UrgencyMedium, false
	}
}

// Request is one generation request. It is never persisted.
type Request struct {
	Kind         Kind
	Situation    string
	Context      string
	Urgency      Urgency
	Language     string
	Platform     Platform
	Participants []string
	// Excuse is the excuse an apology or proof should support. Optional.
	Excuse string
}

// Validate checks the caller-supplied fields. It runs before any credential
// work so a bad request never costs quota.
func (r Request) Validate() error {
	situation := strings.TrimSpace(r.Situation)
	if situation == "" {
		return ErrSituationRequired
	}
	if utf8.RuneCountInString(situation) > maxSituationRunes {
		return fmt.Errorf("situation must be at most %d characters", maxSituationRunes)
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.Context)) > maxTagRunes {
		return fmt.Errorf("context must be at most %d characters", maxTagRunes)
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.Language)) > maxTagRunes {
		return fmt.Errorf("language must be at most %d characters", maxTagRunes)
	}
	if len(r.Participants) > maxParticipants {
		return fmt.Errorf("at most %d participants are allowed", maxParticipants)
	}
	for _, name := range r.Participants {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return errors.New("participant names must not be empty")
		}
		if strings.ContainsAny(trimmed, ":\n\r") {
			return errors.New("participant names must not contain ':' or line breaks")
		}
		if utf8.RuneCountInString(trimmed) > maxParticipantRunes {
			return fmt.Errorf("participant names must be at most %d characters", maxParticipantRunes)
		}
	}
	return nil
}

// Normalized returns a copy with defaults applied and whitespace trimmed.
func (r Request) Normalized() Request {
	out := r
	out.Situation = strings.TrimSpace(r.Situation)
	out.Excuse = strings.TrimSpace(r.Excuse)
	out.Context = strings.TrimSpace(r.Context)
	if out.Context == "" {
		out.Context = defaultContext
	}
	out.Language = strings.TrimSpace(r.Language)
	if out.Language == "" {
		out.Language = defaultLanguage
	}

	out.Participants = nil
	for _, name := range r.Participants {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out.Participants = append(out.Participants, trimmed)
		}
	}
	if r.Kind == KindProof && len(out.Participants) == 0 {
		out.Participants = []string{"Me", "Friend"}
	}
	return out
}
