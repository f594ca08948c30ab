package callguard

import (
	"context"
)

// ToolFunc is the function signature that Wrap guards.
type ToolFunc func(ctx context.Context, call Call) (any, error)

// Wrap returns a ToolFunc that checks each call against s before calling fn.
// fn runs only when the decision is executed; otherwise the wrapped function
// returns *BlockedError, or a contract error for a malformed call.
func (c *Client) Wrap(s *Session, fn ToolFunc) ToolFunc {
	return func(ctx context.Context, call Call) (any, error) {
		res, err := c.Check(ctx, s, call)
		if err != nil {
			return nil, err
		}
		if !res.Executed {
			return nil, &BlockedError{Call: call, Violations: res.Violations}
		}
		return fn(ctx, call)
	}
}
