package store

import (
	"testing"
)

func TestEntries_InsertIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	if _, found, err := s.GetEntry(ctx, "p1", "mastodon"); err != nil || found {
		t.Fatalf("GetEntry() on empty ledger: found=%v err=%v", found, err)
	}

	inserted, err := s.PutEntry(ctx, "p1", "mastodon", []byte(`{"tootIds":["1"]}`), false)
	if err != nil || !inserted {
		t.Fatalf("first PutEntry(): inserted=%v err=%v", inserted, err)
	}

	inserted, err = s.PutEntry(ctx, "p1", "mastodon", []byte(`{"tootIds":["2"]}`), false)
	if err != nil {
		t.Fatalf("second PutEntry() failed: %v", err)
	}
	if inserted {
		t.Error("second PutEntry() without overwrite should not insert")
	}

	blob, found, err := s.GetEntry(ctx, "p1", "mastodon")
	if err != nil || !found {
		t.Fatalf("GetEntry(): found=%v err=%v", found, err)
	}
	if got := string(blob); got != `{"tootIds":["1"]}` {
		t.Errorf("entry = %s, want first write preserved", got)
	}
}

func TestEntries_Overwrite(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	if _, err := s.PutEntry(ctx, "p1", "bluesky", []byte(`{"cid":"a","rkey":"1"}`), false); err != nil {
		t.Fatal(err)
	}
	inserted, err := s.PutEntry(ctx, "p1", "bluesky", []byte(`{"cid":"b","rkey":"2"}`), true)
	if err != nil || !inserted {
		t.Fatalf("overwrite PutEntry(): inserted=%v err=%v", inserted, err)
	}

	blob, _, err := s.GetEntry(ctx, "p1", "bluesky")
	if err != nil {
		t.Fatal(err)
	}
	if got := string(blob); got != `{"cid":"b","rkey":"2"}` {
		t.Errorf("entry = %s, want overwritten value", got)
	}
}

func TestEntries_PerPlatform(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	if _, err := s.PutEntry(ctx, "p1", "mastodon", []byte(`{"tootIds":["1"]}`), false); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetEntry(ctx, "p1", "misskey"); found {
		t.Error("entry leaked across platforms")
	}
	if _, found, _ := s.GetEntry(ctx, "p2", "mastodon"); found {
		t.Error("entry leaked across posts")
	}
}

func TestEntries_EmptyBlobRejected(t *testing.T) {
	s := createTestStore(t)
	if _, err := s.PutEntry(t.Context(), "p1", "x", nil, false); err == nil {
		t.Error("expected error for empty blob")
	}
}

func TestSyncedFlags(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	synced, err := s.IsSynced(ctx, "p1")
	if err != nil || synced {
		t.Fatalf("IsSynced() on unknown post: synced=%v err=%v", synced, err)
	}
	has, err := s.HasSynced(ctx, "alice")
	if err != nil || has {
		t.Fatalf("HasSynced() on empty ledger: has=%v err=%v", has, err)
	}

	if err := s.MarkSynced(ctx, "p1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkSynced(ctx, "p1", "alice"); err != nil {
		t.Fatalf("MarkSynced() twice should be a no-op: %v", err)
	}

	if synced, _ := s.IsSynced(ctx, "p1"); !synced {
		t.Error("IsSynced() = false after MarkSynced()")
	}
	if has, _ := s.HasSynced(ctx, "alice"); !has {
		t.Error("HasSynced(alice) = false after MarkSynced()")
	}
	if has, _ := s.HasSynced(ctx, "bob"); has {
		t.Error("HasSynced(bob) = true, want false")
	}
}

func TestProfileCache(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	p, found, err := s.GetProfile(ctx, "42")
	if err != nil || found {
		t.Fatalf("GetProfile() on empty cache: found=%v err=%v", found, err)
	}
	if p.UserID != "42" || p.PfpHash != "" {
		t.Errorf("empty profile = %+v", p)
	}

	want := ProfileEntry{UserID: "42", PfpHash: "h1", PfpURL: "u1", BannerHash: "h2", BannerURL: "u2"}
	if err := s.PutProfile(ctx, want); err != nil {
		t.Fatal(err)
	}
	want.PfpHash = "h3"
	want.BannerURL = ""
	if err := s.PutProfile(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, found, err := s.GetProfile(ctx, "42")
	if err != nil || !found {
		t.Fatalf("GetProfile(): found=%v err=%v", found, err)
	}
	if got != want {
		t.Errorf("GetProfile() = %+v, want %+v", got, want)
	}

	if err := s.PutProfile(ctx, ProfileEntry{}); err == nil {
		t.Error("expected error for empty user id")
	}
}

func TestSessions(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	if _, found, err := s.LoadSession(ctx, "bluesky:me"); err != nil || found {
		t.Fatalf("LoadSession() on empty table: found=%v err=%v", found, err)
	}
	if err := s.SaveSession(ctx, "bluesky:me", []byte(`{"refreshJwt":"a"}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSession(ctx, "bluesky:me", []byte(`{"refreshJwt":"b"}`)); err != nil {
		t.Fatal(err)
	}
	blob, found, err := s.LoadSession(ctx, "bluesky:me")
	if err != nil || !found || string(blob) != `{"refreshJwt":"b"}` {
		t.Errorf("LoadSession() = %s, %v, %v", blob, found, err)
	}
}

func TestStats(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	_, _ = s.PutEntry(ctx, "p1", "mastodon", []byte(`{}`), false)
	_, _ = s.PutEntry(ctx, "p2", "mastodon", []byte(`{}`), false)
	_, _ = s.PutEntry(ctx, "p1", "bluesky", []byte(`{}`), false)
	_ = s.MarkSynced(ctx, "p1", "alice")
	_ = s.PutProfile(ctx, ProfileEntry{UserID: "1"})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 3 || st.SyncedPosts != 1 || st.Profiles != 1 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.ByPlatform["mastodon"] != 2 || st.ByPlatform["bluesky"] != 1 {
		t.Errorf("ByPlatform = %v", st.ByPlatform)
	}
}
