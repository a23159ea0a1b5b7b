package relay

import (
	"strings"

	"nanabot/internal/domain"
)

// ExemptPhrase is never relayed, whatever its casing or surrounding spaces.
const ExemptPhrase = "What?"

// Verdict is the loop guard's decision for one event.
type Verdict struct {
	Pass   bool
	Reason string // set when Pass is false
}

// Rejection reasons.
const (
	ReasonSelf         = "own_message"
	ReasonImpersonated = "webhook_source"
	ReasonSystem       = "system_source"
	ReasonOtherChannel = "other_channel"
	ReasonExempt       = "exempt_phrase"
)

// Check decides whether ev may enter the pipeline. It has no side effects.
func Check(ev domain.InboundEvent, selfID string, route domain.Route) Verdict {
	switch {
	case selfID != "" && ev.AuthorID == selfID:
		return Verdict{Reason: ReasonSelf}
	case ev.Source == domain.SourceWebhook:
		return Verdict{Reason: ReasonImpersonated}
	case ev.Source == domain.SourceSystem:
		return Verdict{Reason: ReasonSystem}
	case !route.Matches(ev.ChannelID, ev.ChannelName):
		return Verdict{Reason: ReasonOtherChannel}
	case IsExemptPhrase(ev.Text):
		return Verdict{Reason: ReasonExempt}
	}
	return Verdict{Pass: true}
}

// ShouldProcess is Check reduced to a bool.
func ShouldProcess(ev domain.InboundEvent, selfID string, route domain.Route) bool {
	return Check(ev, selfID, route).Pass
}

// IsExemptPhrase reports whether text is exactly "What?" after trimming,
// ignoring case.
func IsExemptPhrase(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), ExemptPhrase)
}
