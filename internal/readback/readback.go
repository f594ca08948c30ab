// Package readback implements the proof-of-readback contract: an agent must
// echo a session-bound token before its tool calls are honored.
package readback

import (
	"strings"
	"unicode"

	"github.com/ppiankov/callguard/internal/model"
)

// TokenPrefix starts every derived token.
const TokenPrefix = "por-"

// tokenLen is the number of task id characters kept in a derived token.
const tokenLen = 8

// Derive returns the readback token for a task. The token is a short prefix
// of the task id so it can be re-derived without persisted state.
// Returns "" for a task id with no usable characters.
func Derive(taskID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(taskID) {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == tokenLen {
			break
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return TokenPrefix + b.String()
}

// Matches reports whether token is the derived token for taskID.
func Matches(taskID, token string) bool {
	derived := Derive(taskID)
	return derived != "" && derived == token
}

// Validate checks that the call echoes the session's readback token.
// A session without a token imposes no requirement.
func Validate(call model.ToolCall, session *model.CapabilitySession) []model.Violation {
	if session == nil || session.PorToken == nil {
		return nil
	}
	if call.PorToken == nil {
		return []model.Violation{model.NewViolation(model.KindMissingPoR, map[string]any{
			"reason": "absent",
		})}
	}
	if *call.PorToken != *session.PorToken {
		return []model.Violation{model.NewViolation(model.KindMissingPoR, map[string]any{
			"reason": "mismatch",
		})}
	}
	return nil
}

// Acknowledge checks the token an agent echoed in its first response and
// returns the status to store alongside the session. The session is not mutated.
func Acknowledge(session *model.CapabilitySession, echoed string) (model.PorStatus, []model.Violation) {
	if session == nil || session.PorToken == nil {
		return model.PorStatus{OK: true}, nil
	}
	want := *session.PorToken
	if strings.TrimSpace(echoed) != want {
		return model.PorStatus{OK: false, Token: want}, []model.Violation{
			model.NewViolation(model.KindPoRMismatch, map[string]any{
				"task_id": session.TaskID,
			}),
		}
	}
	return model.PorStatus{OK: true, Token: want}, nil
}
