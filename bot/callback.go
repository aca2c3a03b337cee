package bot

import (
	"strings"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

// DecisionToken is the button payload for d applied to target, e.g.
// "approve:42".
func DecisionToken(d access.Decision, target access.Identity) string {
	return d.String() + ":" + target.String()
}

// ParsedDecision is the result of parsing an untrusted button payload.
// Valid is false for anything that is not exactly "<action>:<identity>".
type ParsedDecision struct {
	Valid    bool
	Decision access.Decision
	Target   access.Identity
}

func ParseDecisionToken(data string) ParsedDecision {
	action, rawID, ok := strings.Cut(data, ":")
	if !ok {
		return ParsedDecision{}
	}

	var d access.Decision
	switch action {
	case "approve":
		d = access.Approve
	case "reject":
		d = access.Reject
	default:
		return ParsedDecision{}
	}

	// Only the form DecisionToken writes is accepted: no sign, padding or
	// whitespace.
	id, err := access.ParseIdentity(rawID)
	if err != nil || id.String() != rawID {
		return ParsedDecision{}
	}

	return ParsedDecision{Valid: true, Decision: d, Target: id}
}
