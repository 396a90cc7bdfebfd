// Package permission provides permission evaluation and the interactive
// ask/reply gate for tool execution.
package permission

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/agentd-dev/agentd/pkg/types"
)

// Response values accepted by Reply.
const (
	ResponseOnce   = "once"
	ResponseAlways = "always"
	ResponseReject = "reject"
)

// Request describes a permission check for one tool call. Key is the
// tool-defined string evaluated against rulesets (a path for edit, a
// command pattern for bash). Patterns are the rules appended to the
// session ruleset when the user answers "always".
type Request struct {
	SessionID string
	MessageID string
	CallID    string
	Tool      string
	Title     string
	Key       string
	Patterns  []string
	Metadata  map[string]any
}

// Evaluate resolves the action for a key against layered rulesets, most
// specific first (session, then agent, then project). Within the combined
// ruleset the first rule whose pattern matches wins; with no match the
// action is ask.
func Evaluate(key string, rulesets ...[]types.PermissionRule) types.PermissionAction {
	for _, rules := range rulesets {
		for _, rule := range rules {
			ok, err := doublestar.Match(rule.Pattern, key)
			if err != nil {
				continue // malformed pattern never matches
			}
			if ok {
				return rule.Action
			}
		}
	}
	return types.ActionAsk
}

// Rejected builds the terminal error recorded when a request is denied.
func Rejected(req Request, byUser bool) *types.SessionError {
	msg := "permission denied by configuration: " + req.Key
	if byUser {
		msg = "permission rejected by user: " + req.Key
	}
	return types.NewError(types.ErrorPermissionDenied, msg)
}
