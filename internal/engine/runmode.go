package engine

import (
	"context"
	"fmt"
)

// RunMode selects the feed depth of a post pass.
type RunMode int

const (
	// Initial is an account's first run: nothing has been flagged yet, so
	// the feed is read deeper.
	Initial RunMode = iota
	// Incremental is every later run.
	Incremental
)

func (m RunMode) String() string {
	switch m {
	case Initial:
		return "initial"
	case Incremental:
		return "incremental"
	default:
		return fmt.Sprintf("RunMode(%d)", int(m))
	}
}

// Mode derives the run mode of account from its synced flags.
func (e *Engine) Mode(ctx context.Context, account string) (RunMode, error) {
	synced, err := e.ledger.HasSynced(ctx, account)
	if err != nil {
		return Initial, fmt.Errorf("run mode %s: %w", account, err)
	}
	if synced {
		return Incremental, nil
	}
	return Initial, nil
}

func (e *Engine) limit(mode RunMode) int {
	if mode == Initial {
		return e.initialLimit
	}
	return e.incrementalLimit
}
