// Package types defines error types for the agentsh server.
package types

import "errors"

// Common errors. Call sites wrap these with the offending ID or limit
// so tool results carry a useful diagnostic.
var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateID      = errors.New("already exists")
	ErrTooManyProcesses = errors.New("too many concurrent processes")
	ErrTooManySessions  = errors.New("too many sessions")
	ErrAlreadyWaiting   = errors.New("already being waited on")
	ErrAlreadyCompleted = errors.New("already completed")
	ErrSessionDead      = errors.New("session is dead")
	ErrWaitTimeout      = errors.New("wait timed out")
)
