package engine

import "log/slog"

// Report summarizes one post pass of one account.
type Report struct {
	Account string
	Mode    RunMode

	// Pulled counts items handed out by the feed.
	Pulled int
	// Invalid counts items the normalizer rejected.
	Invalid int
	// Cached counts posts skipped because they were already flagged.
	Cached int
	// Dispatched counts posts offered to the platforms.
	Dispatched int
	// Recorded counts store entries written.
	Recorded int
	// Skipped counts platform attempts that returned no value.
	Skipped int
	// Failures counts platform attempts that failed.
	Failures int

	// CaughtUp is set when the consecutive-cache cutoff stopped the pass.
	CaughtUp bool
	// Interrupted is set when cancellation stopped the pass.
	Interrupted bool
}

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", r.Mode.String()),
		slog.Int("pulled", r.Pulled),
		slog.Int("invalid", r.Invalid),
		slog.Int("cached", r.Cached),
		slog.Int("dispatched", r.Dispatched),
		slog.Int("recorded", r.Recorded),
		slog.Int("skipped", r.Skipped),
		slog.Int("failures", r.Failures),
		slog.Bool("caught_up", r.CaughtUp),
		slog.Bool("interrupted", r.Interrupted),
	)
}
