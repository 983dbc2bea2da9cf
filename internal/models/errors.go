// Package models defines data structures for Tiller
package models

import "errors"

// Error taxonomy. Ledger and engine errors are matched with errors.Is;
// callers decide per error whether to skip the action, fail the run, or
// halt scheduling.
var (
	// ErrInsufficientFunds rejects a buy whose spend would push cash below
	// the configured minimum buffer.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverSell rejects a sell of more shares than are held.
	ErrOverSell = errors.New("sell exceeds held shares")

	// ErrCollaboratorTimeout marks a collaborator call that exhausted its
	// deadline and retries.
	ErrCollaboratorTimeout = errors.New("collaborator timed out")

	// ErrCollaboratorUnavailable marks a collaborator call that failed for
	// a non-timeout reason after retries.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrStalePrice marks a ticker with no usable quote. Skips only that
	// ticker's action, never the whole run.
	ErrStalePrice = errors.New("no current price")

	// ErrConcurrentRunConflict rejects a trigger for a run type that is
	// already running. Triggers are rejected, not queued.
	ErrConcurrentRunConflict = errors.New("run already in progress")

	// ErrCorruptLedgerState is fatal: scheduling halts until an operator
	// intervenes.
	ErrCorruptLedgerState = errors.New("corrupt ledger state")
)
