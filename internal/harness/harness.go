package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/yamada-sexta/touitomamout-next/internal/engine"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/store"
	"github.com/yamada-sexta/touitomamout-next/internal/testutil"
)

// account is the source handle every scenario syncs.
const account = "scenario"

// Harness holds the state shared by the runs of one scenario.
type Harness struct {
	store    *store.Store
	feed     *testutil.FakeFeed
	adapters map[string]*testutil.FakeAdapter
	acct     engine.Account
	logger   *slog.Logger

	// seen tracks how many calls of each adapter earlier runs consumed.
	seenPosted map[string]int
	seenCached map[string]int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Build the fake feed and platforms
//  3. Apply setup state
//  4. Execute runs with expect validation
//  5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}
	if err := h.applySetup(ctx, scenario.Setup); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Runs {
		snap, err := h.run(ctx, scenario, i+1, step)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		result.Runs = append(result.Runs, snap)

		got := snap.Report.fields()
		for key, want := range step.Expect {
			if !reflect.DeepEqual(got[key], want) {
				result.AddError(fmt.Sprintf("run %d: %s = %v, want %v", i+1, key, got[key], want))
			}
		}
	}

	for _, a := range scenario.Assertions {
		if err := h.check(ctx, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func newHarness(st *store.Store, s *Scenario) (*Harness, error) {
	h := &Harness{
		store:      st,
		feed:       testutil.NewFakeFeed(),
		adapters:   make(map[string]*testutil.FakeAdapter),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		seenPosted: make(map[string]int),
		seenCached: make(map[string]int),
	}

	for _, p := range s.Feed {
		raw := testutil.Raw(p.ID, p.Text)
		raw.InReplyToStatusID = p.InReplyTo
		raw.QuotedStatusID = p.Quote
		if p.Malformed {
			raw.ID = ""
		}
		h.feed.AddPosts(account, raw)
	}

	reg := platform.NewRegistry()
	for _, spec := range s.Platforms {
		a := testutil.NewFakeAdapter(platform.CapPost)
		for _, id := range spec.Fail {
			a.FailPost(id, testutil.ErrPermanent)
		}
		for _, id := range spec.Skip {
			a.SkipPost(id)
		}
		if _, err := reg.Register(testutil.FakeFactory(spec.ID, a), a); err != nil {
			return nil, err
		}
		h.adapters[spec.ID] = a
	}
	h.acct = engine.Account{Handle: account, Registry: reg}
	return h, nil
}

func (h *Harness) applySetup(ctx context.Context, setup Setup) error {
	for _, id := range setup.Synced {
		if err := h.store.MarkSynced(ctx, id, account); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	for _, e := range setup.Entries {
		if _, err := h.store.PutEntry(ctx, e.Post, e.Platform, []byte(e.Value), true); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}

func (h *Harness) run(ctx context.Context, s *Scenario, n int, step RunStep) (RunSnapshot, error) {
	if step.Heal {
		for _, spec := range s.Platforms {
			for _, id := range spec.Fail {
				h.adapters[spec.ID].FailPost(id, nil)
			}
		}
	}

	eng := engine.New(h.store, h.feed, nil,
		engine.WithLogger(h.logger),
		engine.WithRunIDs(engine.NewFixedGenerator(fmt.Sprintf("run-%d", n))),
		engine.WithFetcher(noMedia),
		engine.WithMaxConsecutiveCached(s.Config.MaxConsecutiveCached),
		engine.WithFeedLimits(s.Config.InitialLimit, s.Config.IncrementalLimit),
		engine.WithForceResync(s.Config.ForceResync || step.ForceResync),
		engine.WithForceRepost(s.Config.ForceRepost || step.ForceRepost),
	)

	mode, err := eng.Mode(ctx, account)
	if err != nil {
		return RunSnapshot{}, err
	}
	rep, err := eng.SyncPosts(ctx, h.acct, mode)
	if err != nil {
		return RunSnapshot{}, err
	}

	snap := RunSnapshot{
		Run:    n,
		Mode:   mode.String(),
		Report: snapshotReport(rep),
		Posted: make(map[string][]string),
		Cached: make(map[string][]string),
	}
	for id, a := range h.adapters {
		posted, cached := a.Posted(), a.Cached()
		snap.Posted[id] = append([]string{}, posted[h.seenPosted[id]:]...)
		snap.Cached[id] = append([]string{}, cached[h.seenCached[id]:]...)
		h.seenPosted[id], h.seenCached[id] = len(posted), len(cached)
	}
	return snap, nil
}

func noMedia(context.Context, string) (media.Blob, error) {
	return media.Blob{}, fmt.Errorf("scenarios carry no media")
}
