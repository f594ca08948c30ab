// Package callguard provides in-process tool-call authorization for Go agent
// frameworks. It wraps tool functions, checks each proposed call against the
// task's capability session and the tool policy, and runs the function only
// when every check passes.
//
// Usage:
//
//	cg, err := callguard.New(callguard.WithPolicy("policy.yaml"))
//	sess, err := cg.Begin(callguard.SessionInput{TaskID: "task-42", AllowedToolIDs: []any{"search"}})
//	search := cg.Wrap(sess, mySearch)
//	result, err := search(ctx, callguard.Call{
//	    ToolID:   "search",
//	    Ring:     1,
//	    Args:     map[string]any{"query": "status"},
//	    PorToken: *sess.PorToken,
//	})
//
// A blocked call returns *BlockedError listing every violation. A malformed
// call returns an error matching ErrContract.
package callguard
