package prompt

import "strings"

// Platform selects the chat-log style of a proof transcript.
type Platform int

const (
	PlatformGeneric Platform = iota
	PlatformWhatsApp
	PlatformIMessage
	PlatformTelegram
	PlatformSlack
	PlatformSMS
)

func (p Platform) String() string {
	switch p {
	case PlatformWhatsApp:
		return "whatsapp"
	case PlatformIMessage:
		return "imessage"
	case PlatformTelegram:
		return "telegram"
	case PlatformSlack:
		return "slack"
	case PlatformSMS:
		return "sms"
	default:
		return "generic"
	}
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePlatform maps a platform tag. Unknown tags fall back to
// PlatformGeneric and report ok=false.
func ParsePlatform(raw string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "whatsapp":
		return PlatformWhatsApp, true
	case "imessage", "messages":
		return PlatformIMessage, true
	case "telegram":
		return PlatformTelegram, true
	case "slack":
		return PlatformSlack, true
	case "sms", "text":
		return PlatformSMS, true
	case "generic", "":
		return PlatformGeneric, true
	default:
		return PlatformGeneric, false
	}
}

func (p Platform) template() string {
	switch p {
	case PlatformWhatsApp:
		return "Style it as a WhatsApp chat: short casual messages, relaxed punctuation, an occasional emoji."
	case PlatformIMessage:
		return "Style it as an iMessage thread: brief conversational texts, sentence case, rare emoji."
	case PlatformTelegram:
		return "Style it as a Telegram chat: quick informal messages, a sticker-like emoji now and then."
	case PlatformSlack:
		return "Style it as a Slack direct message between coworkers: friendly but professional, no slang."
	case PlatformSMS:
		return "Style it as plain SMS: terse messages, common abbreviations, no emoji."
	default:
		return "Style it as an ordinary instant-messaging chat: natural, short messages."
	}
}
