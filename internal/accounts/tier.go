package accounts

import (
	"fmt"
	"strings"
)

// Tier is the account class that decides which credential and quota apply.
type Tier int

const (
	TierFree Tier = iota
	TierPro
)

func (t Tier) String() string {
	switch t {
	case TierPro:
		return "pro"
	default:
		return "free"
	}
}

// ParseTier maps a stored tier tag to a Tier. Unrecognized tags resolve to
// TierFree and report ok=false.
func ParseTier(raw string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "free":
		return TierFree, true
	case "pro":
		return TierPro, true
	default:
		return TierFree, false
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, ok := ParseTier(string(text))
	if !ok {
		return fmt.Errorf("unknown tier %q", text)
	}
	*t = parsed
	return nil
}
