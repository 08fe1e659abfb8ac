package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yamada-sexta/touitomamout-next/internal/feed"
	"github.com/yamada-sexta/touitomamout-next/internal/httpclient"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/profile"
)

const (
	// DefaultMaxConsecutiveCached is the number of already-synced posts in a
	// row after which an account is considered caught up.
	DefaultMaxConsecutiveCached = 2

	// DefaultInitialLimit bounds the feed depth of an account's first run.
	DefaultInitialLimit = 200

	// DefaultIncrementalLimit bounds the feed depth of later runs.
	DefaultIncrementalLimit = 50
)

// Ledger is the subset of the store the engine reads and writes.
type Ledger interface {
	GetEntry(ctx context.Context, postID, platformID string) ([]byte, bool, error)
	PutEntry(ctx context.Context, postID, platformID string, blob []byte, overwrite bool) (bool, error)
	IsSynced(ctx context.Context, postID string) (bool, error)
	MarkSynced(ctx context.Context, postID, account string) error
	HasSynced(ctx context.Context, account string) (bool, error)
}

// ProfileDiffer reports content changes of profile images.
// Implemented by *profile.Cache.
type ProfileDiffer interface {
	Evaluate(ctx context.Context, userID, pfpURL, bannerURL string) (profile.Diff, error)
}

// Account is one source handle with the platforms configured for it.
type Account struct {
	Handle   string
	Slot     int
	Registry *platform.Registry
}

// Engine orchestrates profile and post sync for a set of accounts.
type Engine struct {
	ledger   Ledger
	source   feed.Source
	profiles ProfileDiffer
	fetch    media.Fetcher
	logger   *slog.Logger
	tracer   trace.Tracer
	runIDs   RunIDGenerator

	maxCached        int
	initialLimit     int
	incrementalLimit int
	forceResync      bool
	forceRepost      bool
	parallel         bool
	profileCaps      platform.Capability
	postSync         bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConsecutiveCached sets the caught-up threshold. Values below 1 are
// ignored.
func WithMaxConsecutiveCached(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCached = n
		}
	}
}

// WithFeedLimits sets the feed depth for Initial and Incremental runs.
func WithFeedLimits(initial, incremental int) Option {
	return func(e *Engine) {
		if initial > 0 {
			e.initialLimit = initial
		}
		if incremental > 0 {
			e.incrementalLimit = incremental
		}
	}
}

// WithForceResync ignores synced flags so every pulled post is offered to the
// platforms again. Existing store entries still short-circuit adapters, which
// fills in platforms that failed or were added later.
func WithForceResync(on bool) Option {
	return func(e *Engine) { e.forceResync = on }
}

// WithForceRepost ignores synced flags and store entries and overwrites the
// entries with the new values.
func WithForceRepost(on bool) Option {
	return func(e *Engine) { e.forceRepost = on }
}

// WithParallelDispatch offers each post to all platforms concurrently.
func WithParallelDispatch(on bool) Option {
	return func(e *Engine) { e.parallel = on }
}

// WithProfileSync selects which profile capabilities are synced.
// Zero disables the profile pass.
func WithProfileSync(caps platform.Capability) Option {
	return func(e *Engine) { e.profileCaps = caps & platform.CapProfile }
}

// WithPostSync enables or disables the post pass.
func WithPostSync(on bool) Option {
	return func(e *Engine) { e.postSync = on }
}

// WithTracer sets the tracer used for cycle and account spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithFetcher sets how post media is downloaded.
func WithFetcher(f media.Fetcher) Option {
	return func(e *Engine) { e.fetch = f }
}

// New creates an Engine. profiles may be nil when picture and banner sync
// are disabled.
func New(ledger Ledger, source feed.Source, profiles ProfileDiffer, opts ...Option) *Engine {
	e := &Engine{
		ledger:           ledger,
		source:           source,
		profiles:         profiles,
		logger:           slog.Default(),
		tracer:           otel.Tracer("github.com/yamada-sexta/touitomamout-next/internal/engine"),
		runIDs:           UUIDv7Generator{},
		maxCached:        DefaultMaxConsecutiveCached,
		initialLimit:     DefaultInitialLimit,
		incrementalLimit: DefaultIncrementalLimit,
		profileCaps:      platform.CapProfile,
		postSync:         true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fetch == nil {
		e.fetch = media.HTTPFetcher(httpclient.New())
	}
	return e
}
