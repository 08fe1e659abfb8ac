package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamada-sexta/touitomamout-next/internal/feed"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
	"github.com/yamada-sexta/touitomamout-next/internal/profile"
	"github.com/yamada-sexta/touitomamout-next/internal/store"
	"github.com/yamada-sexta/touitomamout-next/internal/testutil"
)

const handle = "source"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func noFetch(context.Context, string) (media.Blob, error) {
	return media.Blob{}, errors.New("no network in tests")
}

type fixture struct {
	store *store.Store
	feed  *testutil.FakeFeed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{store: testutil.NewStore(t), feed: testutil.NewFakeFeed()}
}

func (f *fixture) engine(opts ...Option) *Engine {
	base := []Option{WithLogger(quiet), WithFetcher(noFetch), WithRunIDs(NewFixedGenerator("run-1", "run-2", "run-3", "run-4"))}
	return New(f.store, f.feed, nil, append(base, opts...)...)
}

func registry(t *testing.T, adapters map[string]*testutil.FakeAdapter, order ...string) *platform.Registry {
	t.Helper()
	reg := platform.NewRegistry()
	for _, id := range order {
		_, err := reg.Register(testutil.FakeFactory(id, adapters[id]), adapters[id])
		require.NoError(t, err)
	}
	return reg
}

func singleAccount(t *testing.T, a *testutil.FakeAdapter) Account {
	t.Helper()
	return Account{Handle: handle, Registry: registry(t, map[string]*testutil.FakeAdapter{"fake": a}, "fake")}
}

func markSynced(t *testing.T, s *store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.MarkSynced(t.Context(), id, handle))
	}
}

func isSynced(t *testing.T, s *store.Store, id string) bool {
	t.Helper()
	ok, err := s.IsSynced(t.Context(), id)
	require.NoError(t, err)
	return ok
}

func entry(t *testing.T, s *store.Store, postID, platformID string) (string, bool) {
	t.Helper()
	blob, found, err := s.GetEntry(t.Context(), postID, platformID)
	require.NoError(t, err)
	return string(blob), found
}

func TestSyncPosts_ConsecutiveCacheCutoff(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("4", "3", "2", "1")...)
	markSynced(t, f.store, "4", "3", "2")

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine(WithMaxConsecutiveCached(2)).SyncPosts(t.Context(), singleAccount(t, a), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 2, f.feed.Pulled(handle), "only the first two cached posts are pulled")
	assert.Equal(t, 2, rep.Cached)
	assert.True(t, rep.CaughtUp)
	assert.Empty(t, a.Posted())
	assert.False(t, isSynced(t, f.store, "1"))
}

func TestSyncPosts_NonCachedPostResetsCounter(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("5", "4", "3", "2", "1")...)
	markSynced(t, f.store, "5", "3", "2")

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine(WithMaxConsecutiveCached(2)).SyncPosts(t.Context(), singleAccount(t, a), Incremental)
	require.NoError(t, err)

	assert.Equal(t, 4, rep.Pulled)
	assert.Equal(t, []string{"4"}, a.Posted())
	assert.True(t, rep.CaughtUp)
}

func TestSyncPosts_RecordsEntriesAndFlags(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("2", "1")...)

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "1"}, a.Posted())
	assert.Equal(t, 2, rep.Dispatched)
	assert.Equal(t, 2, rep.Recorded)
	assert.False(t, rep.CaughtUp)

	blob, found := entry(t, f.store, "1", "fake")
	require.True(t, found)
	assert.JSONEq(t, `{"id":"1"}`, blob)
	assert.True(t, isSynced(t, f.store, "1"))
	assert.True(t, isSynced(t, f.store, "2"))
}

func TestSyncPosts_RerunMakesNoNetworkCalls(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("3", "2", "1")...)
	a := testutil.NewFakeAdapter(platform.CapPost)
	acct := singleAccount(t, a)

	_, err := f.engine().SyncPosts(t.Context(), acct, Initial)
	require.NoError(t, err)
	require.Len(t, a.Posted(), 3)

	// Even with flags ignored, stored entries short-circuit the adapter.
	rep, err := f.engine(WithForceResync(true)).SyncPosts(t.Context(), acct, Incremental)
	require.NoError(t, err)

	assert.Len(t, a.Posted(), 3, "no new network calls")
	assert.Equal(t, []string{"3", "2", "1"}, a.Cached())
	assert.Equal(t, 0, rep.Recorded)
	blob, _ := entry(t, f.store, "2", "fake")
	assert.JSONEq(t, `{"id":"2"}`, blob)
}

func TestSyncPosts_PlatformFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)

	broken := testutil.NewFakeAdapter(platform.CapPost)
	broken.FailPost("1", testutil.ErrPermanent)
	healthy := testutil.NewFakeAdapter(platform.CapPost)
	acct := Account{Handle: handle, Registry: registry(t,
		map[string]*testutil.FakeAdapter{"broken": broken, "healthy": healthy}, "broken", "healthy")}

	rep, err := f.engine().SyncPosts(t.Context(), acct, Initial)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Failures)
	assert.Equal(t, 1, rep.Recorded)
	assert.Equal(t, []string{"1"}, healthy.Posted())
	assert.True(t, isSynced(t, f.store, "1"), "flag is set regardless of platform outcome")

	_, found := entry(t, f.store, "1", "broken")
	assert.False(t, found)
	_, found = entry(t, f.store, "1", "healthy")
	assert.True(t, found)
}

func TestSyncPosts_ForceResyncFillsFailedPlatform(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)

	flaky := testutil.NewFakeAdapter(platform.CapPost)
	flaky.FailPost("1", testutil.ErrBoom)
	healthy := testutil.NewFakeAdapter(platform.CapPost)
	acct := Account{Handle: handle, Registry: registry(t,
		map[string]*testutil.FakeAdapter{"flaky": flaky, "healthy": healthy}, "flaky", "healthy")}

	_, err := f.engine().SyncPosts(t.Context(), acct, Initial)
	require.NoError(t, err)

	flaky.FailPost("1", nil)
	rep, err := f.engine(WithForceResync(true)).SyncPosts(t.Context(), acct, Incremental)
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, flaky.Posted())
	assert.Equal(t, []string{"1"}, healthy.Posted(), "healthy platform is not posted twice")
	assert.Equal(t, []string{"1"}, healthy.Cached())
	assert.Equal(t, 1, rep.Recorded)
}

func TestSyncPosts_ForceRepostOverwrites(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)
	_, err := f.store.PutEntry(t.Context(), "1", "fake", []byte(`{"id":"old"}`), false)
	require.NoError(t, err)
	markSynced(t, f.store, "1")

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine(WithForceRepost(true)).SyncPosts(t.Context(), singleAccount(t, a), Incremental)
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, a.Posted())
	assert.Equal(t, 1, rep.Recorded)
	blob, _ := entry(t, f.store, "1", "fake")
	assert.JSONEq(t, `{"id":"1"}`, blob)
}

func TestSyncPosts_SkipRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)

	a := testutil.NewFakeAdapter(platform.CapPost)
	a.SkipPost("1")
	rep, err := f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.Failures)
	_, found := entry(t, f.store, "1", "fake")
	assert.False(t, found)
	assert.True(t, isSynced(t, f.store, "1"))
}

func TestSyncPosts_InvalidStoredValueIsAMiss(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)
	_, err := f.store.PutEntry(t.Context(), "1", "fake", []byte(`{"unexpected":true}`), false)
	require.NoError(t, err)

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, a.Posted())
	assert.Equal(t, 1, rep.Recorded)
	blob, _ := entry(t, f.store, "1", "fake")
	assert.JSONEq(t, `{"id":"1"}`, blob, "invalid value is replaced")
}

func TestSyncPosts_FlagWrittenAfterAllPlatforms(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)

	first := testutil.NewFakeAdapter(platform.CapPost)
	last := testutil.NewFakeAdapter(platform.CapPost)
	var flaggedDuringDispatch bool
	last.OnSync = func(ctx context.Context, req platform.PostRequest) {
		flaggedDuringDispatch, _ = f.store.IsSynced(ctx, req.Post.ID)
	}
	acct := Account{Handle: handle, Registry: registry(t,
		map[string]*testutil.FakeAdapter{"first": first, "last": last}, "first", "last")}

	_, err := f.engine().SyncPosts(t.Context(), acct, Initial)
	require.NoError(t, err)

	assert.False(t, flaggedDuringDispatch)
	assert.True(t, isSynced(t, f.store, "1"))
}

func TestSyncPosts_ParallelDispatch(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("2", "1")...)

	adapters := map[string]*testutil.FakeAdapter{
		"a": testutil.NewFakeAdapter(platform.CapPost),
		"b": testutil.NewFakeAdapter(platform.CapPost),
		"c": testutil.NewFakeAdapter(platform.CapPost),
	}
	acct := Account{Handle: handle, Registry: registry(t, adapters, "a", "b", "c")}

	rep, err := f.engine(WithParallelDispatch(true)).SyncPosts(t.Context(), acct, Initial)
	require.NoError(t, err)

	assert.Equal(t, 6, rep.Recorded)
	for id, a := range adapters {
		assert.Equal(t, []string{"2", "1"}, a.Posted(), id)
	}
	assert.True(t, isSynced(t, f.store, "2"))
}

func TestSyncPosts_FeedErrorAbortsPass(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("3", "2", "1")...)
	f.feed.FailAt(handle, 1)

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.Error(t, err)
	assert.True(t, feed.IsFeedError(err))

	assert.Equal(t, []string{"3"}, a.Posted())
	assert.Equal(t, 1, rep.Dispatched)
	assert.True(t, isSynced(t, f.store, "3"))
}

func TestSyncPosts_CancellationFinishesInFlightPost(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("3", "2", "1")...)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	a := testutil.NewFakeAdapter(platform.CapPost)
	a.OnSync = func(ctx context.Context, _ platform.PostRequest) {
		cancel()
		assert.NoError(t, ctx.Err(), "dispatch context outlives cancellation")
	}

	rep, err := f.engine().SyncPosts(ctx, singleAccount(t, a), Initial)
	require.NoError(t, err)

	assert.True(t, rep.Interrupted)
	assert.Equal(t, []string{"3"}, a.Posted())
	assert.True(t, isSynced(t, f.store, "3"))
	assert.False(t, isSynced(t, f.store, "2"))
}

func TestSyncPosts_MalformedPostDropped(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, post.Raw{Text: "no id"}, testutil.Raw("1", "ok"))

	a := testutil.NewFakeAdapter(platform.CapPost)
	rep, err := f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Invalid)
	assert.Equal(t, []string{"1"}, a.Posted())
}

func TestSyncPosts_NoPostCapablePlatform(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)

	a := testutil.NewFakeAdapter(platform.CapBio)
	rep, err := f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.NoError(t, err)

	assert.Zero(t, f.feed.Pulled(handle))
	assert.Zero(t, rep.Pulled)
	assert.False(t, isSynced(t, f.store, "1"))
}

func TestSyncPosts_ReplyReferencesResolveThroughStore(t *testing.T) {
	f := newFixture(t)
	parent := testutil.Raw("1", "parent")
	reply := testutil.Raw("2", "reply")
	reply.InReplyToStatusID = "1"
	f.feed.AddPosts(handle, reply, parent)
	_, err := f.store.PutEntry(t.Context(), "1", "fake", []byte(`{"id":"remote-1"}`), false)
	require.NoError(t, err)

	a := testutil.NewFakeAdapter(platform.CapPost)
	var resolved platform.Entry
	a.OnSync = func(ctx context.Context, req platform.PostRequest) {
		if req.Post.IsReply() {
			resolved, _ = req.Refs.Resolve(ctx, req.Post.InReplyToID)
		}
	}

	_, err = f.engine().SyncPosts(t.Context(), singleAccount(t, a), Initial)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"remote-1"}`, string(resolved.Value))
}

func TestMode(t *testing.T) {
	f := newFixture(t)
	e := f.engine()

	mode, err := e.Mode(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, Initial, mode)

	require.NoError(t, f.store.MarkSynced(t.Context(), "1", "someone-else"))
	mode, err = e.Mode(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, Initial, mode, "other accounts do not count")

	markSynced(t, f.store, "2")
	mode, err = e.Mode(t.Context(), handle)
	require.NoError(t, err)
	assert.Equal(t, Incremental, mode)
	assert.Equal(t, "incremental", mode.String())
}

func TestSyncAccount_ModeSelectsFeedDepth(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("6", "5", "4", "3", "2", "1")...)
	a := testutil.NewFakeAdapter(platform.CapPost)
	acct := singleAccount(t, a)
	e := f.engine(WithFeedLimits(4, 1), WithProfileSync(0))

	rep, err := e.SyncAccount(t.Context(), acct)
	require.NoError(t, err)
	assert.Equal(t, Initial, rep.Mode)
	assert.Equal(t, 4, rep.Pulled)

	f.feed.ResetPulled()
	rep, err = e.SyncAccount(t.Context(), acct)
	require.NoError(t, err)
	assert.Equal(t, Incremental, rep.Mode)
	assert.Equal(t, 1, rep.Pulled)
}

func TestSyncAccount_PostSyncDisabled(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)
	a := testutil.NewFakeAdapter(platform.CapPost)

	_, err := f.engine(WithPostSync(false), WithProfileSync(0)).SyncAccount(t.Context(), singleAccount(t, a))
	require.NoError(t, err)
	assert.Zero(t, f.feed.Pulled(handle))
}

func TestRunCycle_AccountFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts("broken", testutil.Raws("b1")...)
	f.feed.FailAt("broken", 0)
	f.feed.AddPosts("fine", testutil.Raws("f1")...)

	brokenAdapter := testutil.NewFakeAdapter(platform.CapPost)
	fineAdapter := testutil.NewFakeAdapter(platform.CapPost)
	accounts := []Account{
		{Handle: "broken", Registry: registry(t, map[string]*testutil.FakeAdapter{"x": brokenAdapter}, "x")},
		{Handle: "fine", Slot: 1, Registry: registry(t, map[string]*testutil.FakeAdapter{"x": fineAdapter}, "x")},
	}

	err := f.engine(WithProfileSync(0)).RunCycle(t.Context(), accounts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account broken")
	assert.Equal(t, []string{"f1"}, fineAdapter.Posted())
}

func TestRun_SingleCycleWithoutInterval(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)
	a := testutil.NewFakeAdapter(platform.CapPost)

	err := f.engine(WithProfileSync(0)).Run(t.Context(), []Account{singleAccount(t, a)}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, a.Posted())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.feed.AddPosts(handle, testutil.Raws("1")...)

	ctx, cancel := context.WithCancel(t.Context())
	a := testutil.NewFakeAdapter(platform.CapPost)
	a.OnSync = func(context.Context, platform.PostRequest) { cancel() }

	err := f.engine(WithProfileSync(0)).Run(ctx, []Account{singleAccount(t, a)}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, a.Posted())
}

// images serves profile image bytes by URL.
type images map[string]string

func (im images) fetch(_ context.Context, url string) (media.Blob, error) {
	data, ok := im[url]
	if !ok {
		return media.Blob{}, errors.New("not found")
	}
	return media.Blob{Data: []byte(data), MIME: "image/jpeg"}, nil
}

func TestSyncProfile_PushesChangedImagesOnly(t *testing.T) {
	f := newFixture(t)
	f.feed.SetProfile(handle, post.Profile{
		UserID: "42", Name: "Source", Biography: "hello https://t.co/x",
		URLs: []string{"https://example.com"}, AvatarURL: "https://img/pfp", BannerURL: "https://img/banner",
	})
	im := images{"https://img/pfp": "pfp-v1", "https://img/banner": "banner-v1"}
	cache := profile.New(f.store, im.fetch, quiet)

	full := testutil.NewFakeAdapter(platform.CapProfile | platform.CapPost)
	bioOnly := testutil.NewFakeAdapter(platform.CapBio)
	acct := Account{Handle: handle, Registry: registry(t,
		map[string]*testutil.FakeAdapter{"full": full, "bio": bioOnly}, "full", "bio")}

	e := New(f.store, f.feed, cache, WithLogger(quiet), WithFetcher(noFetch))
	require.NoError(t, e.SyncProfile(t.Context(), acct))

	assert.ElementsMatch(t, []string{"bio", "username", "profile_pic", "banner"}, full.ProfileCalls())
	assert.Equal(t, []string{"bio"}, bioOnly.ProfileCalls())
	u, ok := full.LastUpdate()
	require.True(t, ok)
	assert.Equal(t, "hello https://example.com", u.Bio)

	require.NoError(t, e.SyncProfile(t.Context(), acct))
	calls := full.ProfileCalls()[4:]
	assert.ElementsMatch(t, []string{"bio", "username"}, calls, "unchanged images are not pushed again")

	im["https://img/banner"] = "banner-v2"
	require.NoError(t, e.SyncProfile(t.Context(), acct))
	calls = full.ProfileCalls()[6:]
	assert.ElementsMatch(t, []string{"bio", "username", "banner"}, calls)
}

func TestSyncProfile_FailureIsReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	f.feed.SetProfile(handle, post.Profile{UserID: "42", Name: "Source"})

	broken := testutil.NewFakeAdapter(platform.CapBio)
	broken.FailProfile(errors.New("denied"))
	healthy := testutil.NewFakeAdapter(platform.CapBio | platform.CapUserName)
	acct := Account{Handle: handle, Registry: registry(t,
		map[string]*testutil.FakeAdapter{"broken": broken, "healthy": healthy}, "broken", "healthy")}

	err := f.engine().SyncProfile(t.Context(), acct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken bio")
	assert.ElementsMatch(t, []string{"bio", "username"}, healthy.ProfileCalls())
}

func TestSyncProfile_Disabled(t *testing.T) {
	f := newFixture(t)
	a := testutil.NewFakeAdapter(platform.CapProfile)

	require.NoError(t, f.engine(WithProfileSync(0)).SyncProfile(t.Context(), singleAccount(t, a)))
	assert.Empty(t, a.ProfileCalls())
}

func TestSyncProfile_UnknownHandle(t *testing.T) {
	f := newFixture(t)
	a := testutil.NewFakeAdapter(platform.CapBio)

	err := f.engine().SyncProfile(t.Context(), singleAccount(t, a))
	require.Error(t, err)
	assert.True(t, feed.IsFeedError(err))
}
