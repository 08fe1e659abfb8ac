package bluesky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

const did = "did:plc:mirror"

// fakePDS is a minimal personal data server.
type fakePDS struct {
	mu        sync.Mutex
	logins    int
	refreshes int
	expired   bool
	records   []map[string]any
	blobs     []string
	profile   map[string]any
	parents   map[string]string
	card      string
}

func (f *fakePDS) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		authz := r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/card":
			_, _ = w.Write([]byte(f.card))
			return
		case "/xrpc/com.atproto.server.createSession":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"AuthenticationRequired"}`))
				return
			}
			f.logins++
			f.expired = false
			_, _ = fmt.Fprintf(w, `{"accessJwt":"access","refreshJwt":"refresh","handle":"mirror.test","did":%q}`, did)
			return
		case "/xrpc/com.atproto.server.refreshSession":
			require.Equal(t, "Bearer refresh", authz)
			f.refreshes++
			f.expired = false
			_, _ = fmt.Fprintf(w, `{"accessJwt":"access2","refreshJwt":"refresh","handle":"mirror.test","did":%q}`, did)
			return
		}

		if f.expired || !strings.HasPrefix(authz, "Bearer access") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"ExpiredToken"}`))
			return
		}

		switch r.URL.Path {
		case "/xrpc/com.atproto.server.getSession":
			_, _ = fmt.Fprintf(w, `{"did":%q}`, did)
		case "/xrpc/com.atproto.repo.uploadBlob":
			data, _ := io.ReadAll(r.Body)
			f.blobs = append(f.blobs, r.Header.Get("Content-Type"))
			_, _ = fmt.Fprintf(w, `{"blob":{"$type":"blob","ref":{"$link":"b%d"},"mimeType":%q,"size":%d}}`,
				len(f.blobs), r.Header.Get("Content-Type"), len(data))
		case "/xrpc/com.atproto.repo.createRecord":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.records = append(f.records, body["record"].(map[string]any))
			n := len(f.records)
			_, _ = fmt.Fprintf(w, `{"uri":"at://%s/app.bsky.feed.post/rk%d","cid":"cid%d"}`, did, n, n)
		case "/xrpc/com.atproto.repo.getRecord":
			q := r.URL.Query()
			if q.Get("collection") == profileCollection {
				if f.profile == nil {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"RecordNotFound"}`))
					return
				}
				v, _ := json.Marshal(f.profile)
				_, _ = fmt.Fprintf(w, `{"uri":"at://x/self","cid":"pcid","value":%s}`, v)
				return
			}
			value, ok := f.parents[q.Get("rkey")]
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"RecordNotFound"}`))
				return
			}
			_, _ = fmt.Fprintf(w, `{"uri":"at://%s/app.bsky.feed.post/%s","cid":"c","value":%s}`, did, q.Get("rkey"), value)
		case "/xrpc/com.atproto.repo.putRecord":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.profile = body["record"].(map[string]any)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type memSessions struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memSessions) LoadSession(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	return b, ok, nil
}

func (m *memSessions) SaveSession(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	m.blobs[key] = blob
	return nil
}

func newAdapter(t *testing.T, cfg Config) (*Adapter, *fakePDS, *httptest.Server) {
	t.Helper()
	pds := &fakePDS{card: `{"error":"no card"}`}
	srv := httptest.NewServer(pds.handler(t))
	t.Cleanup(srv.Close)

	cfg.Instance = srv.URL
	cfg.Identifier = "mirror.test"
	if cfg.Password == "" {
		cfg.Password = "pw"
	}
	cfg.CardURL = srv.URL + "/card"
	a, err := New(t.Context(), cfg, srv.Client(), nil, nil)
	require.NoError(t, err)
	return a, pds, srv
}

func record(t *testing.T, raw post.Raw) post.Record {
	t.Helper()
	rec, err := post.Normalize(raw)
	require.NoError(t, err)
	return rec
}

func refs(values map[string]string) platform.RefResolver {
	return platform.RefFunc(func(_ context.Context, id string) (platform.Entry, error) {
		return platform.Entry{Value: json.RawMessage(values[id])}, nil
	})
}

func TestNew_BadPassword(t *testing.T) {
	srv := httptest.NewServer((&fakePDS{}).handler(t))
	defer srv.Close()

	_, err := New(t.Context(), Config{Instance: srv.URL, Identifier: "x", Password: "nope"}, srv.Client(), nil, nil)
	require.Error(t, err)
	assert.True(t, platform.IsAuthentication(err))
}

func TestNew_ReusesStoredSession(t *testing.T) {
	pds := &fakePDS{}
	srv := httptest.NewServer(pds.handler(t))
	defer srv.Close()
	sessions := &memSessions{}
	cfg := Config{Instance: srv.URL, Identifier: "mirror.test", Password: "pw"}

	_, err := New(t.Context(), cfg, srv.Client(), sessions, nil)
	require.NoError(t, err)
	_, err = New(t.Context(), cfg, srv.Client(), sessions, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, pds.logins, "second adapter resumes the stored session")
	assert.Len(t, sessions.blobs, 1)
}

func TestCall_RefreshesExpiredToken(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})
	pds.expired = true

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: "hello"})})
	require.NoError(t, err)
	assert.Equal(t, 1, pds.refreshes)
	require.Len(t, pds.records, 1)
}

func TestSyncPost_SinglePost(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})

	value, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: "hello #go"})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cid":"cid1","rkey":"rk1"}`, string(value))

	require.Len(t, pds.records, 1)
	r := pds.records[0]
	assert.Equal(t, postCollection, r["$type"])
	assert.Equal(t, "hello #go", r["text"])
	assert.Nil(t, r["reply"])
	assert.Len(t, r["facets"], 1)
}

func TestSyncPost_BackdatesWhenEnabled(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{Backdate: true})
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: "old", Timestamp: ts.Unix()})})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:00:00.000Z", pds.records[0]["createdAt"])
}

func TestSyncPost_ThreadKeepsRoot(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})
	text := strings.TrimSpace(strings.Repeat("word ", 130))

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: text})})
	require.NoError(t, err)

	require.Len(t, pds.records, 3)
	reply := pds.records[2]["reply"].(map[string]any)
	assert.Equal(t, "cid1", reply["root"].(map[string]any)["cid"])
	assert.Equal(t, "cid2", reply["parent"].(map[string]any)["cid"])
}

func TestSyncPost_ReplyUsesParentRoot(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})
	pds.parents = map[string]string{
		"parent": `{"text":"p","reply":{"root":{"uri":"at://x/app.bsky.feed.post/top","cid":"topcid"},"parent":{"uri":"u","cid":"c"}}}`,
	}
	rec := record(t, post.Raw{ID: "2", Text: "answer", InReplyToStatusID: "1"})

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: rec, Refs: refs(map[string]string{"1": `{"cid":"pcid","rkey":"parent"}`})})
	require.NoError(t, err)

	reply := pds.records[0]["reply"].(map[string]any)
	assert.Equal(t, "topcid", reply["root"].(map[string]any)["cid"])
	assert.Equal(t, "pcid", reply["parent"].(map[string]any)["cid"])
	assert.Equal(t, "at://"+did+"/app.bsky.feed.post/parent", reply["parent"].(map[string]any)["uri"])
}

func TestSyncPost_QuoteWithMedia(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})
	rec := record(t, post.Raw{
		ID: "3", Text: "look", QuotedStatusID: "2",
		Photos: []post.RawPhoto{{ID: "p", URL: "https://img/a.png", AltText: "alt"}},
	})
	fetch := func(context.Context, string) (media.Blob, error) {
		return media.Blob{Data: []byte("\x89PNG\r\n\x1a\n"), MIME: "image/png"}, nil
	}

	_, err := a.SyncPost(t.Context(), platform.PostRequest{
		Post:  rec,
		Media: media.NewSet(fetch, rec),
		Refs:  refs(map[string]string{"2": `{"cid":"qcid","rkey":"q"}`}),
	})
	require.NoError(t, err)

	embed := pds.records[0]["embed"].(map[string]any)
	assert.Equal(t, "app.bsky.embed.recordWithMedia", embed["$type"])
	quoted := embed["record"].(map[string]any)["record"].(map[string]any)
	assert.Equal(t, "qcid", quoted["cid"])
	images := embed["media"].(map[string]any)["images"].([]any)
	require.Len(t, images, 1)
	assert.Equal(t, "alt", images[0].(map[string]any)["alt"])
	assert.Equal(t, []string{"image/png"}, pds.blobs)
}

func TestSyncPost_LinkCard(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})
	pds.card = `{"title":"Example","description":"desc","url":"https://example.com/a","image":""}`

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: "read https://example.com/a"})})
	require.NoError(t, err)

	embed := pds.records[0]["embed"].(map[string]any)
	assert.Equal(t, "app.bsky.embed.external", embed["$type"])
	assert.Equal(t, "Example", embed["external"].(map[string]any)["title"])
}

func TestSyncPost_SkipsAndReusesEntry(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})

	value, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1"})})
	require.NoError(t, err)
	assert.Nil(t, value)

	stored := json.RawMessage(`{"cid":"c","rkey":"r"}`)
	value, err = a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "2", Text: "x"}), Entry: platform.Entry{Value: stored}})
	require.NoError(t, err)
	assert.Equal(t, stored, value)
	assert.Empty(t, pds.records)
}

func TestSyncProfile_MergesRecord(t *testing.T) {
	a, pds, _ := newAdapter(t, Config{})
	ctx := t.Context()
	u := platform.ProfileUpdate{
		Profile: post.Profile{Name: "Source"},
		Bio:     "bio",
		Picture: media.Blob{Data: []byte("\x89PNG\r\n\x1a\n"), MIME: "image/png"},
	}

	require.NoError(t, a.SyncBio(ctx, u))
	require.NoError(t, a.SyncUserName(ctx, u))
	require.NoError(t, a.SyncProfilePic(ctx, u))
	require.NoError(t, a.SyncBanner(ctx, u))

	assert.Equal(t, "bio", pds.profile["description"])
	assert.Equal(t, "Source", pds.profile["displayName"])
	assert.NotNil(t, pds.profile["avatar"])
	assert.Nil(t, pds.profile["banner"])
	assert.Equal(t, profileCollection, pds.profile["$type"])
}

func TestDetectFacets(t *testing.T) {
	text := "café https://example.com/x, #tag and #"
	facets := DetectFacets(text)
	require.Len(t, facets, 2)

	link := facets[0]
	assert.Equal(t, "https://example.com/x", link.Features[0].URI)
	assert.Equal(t, "https://example.com/x", text[link.Index.ByteStart:link.Index.ByteEnd])

	tag := facets[1]
	assert.Equal(t, "tag", tag.Features[0].Tag)
	assert.Equal(t, "#tag", text[tag.Index.ByteStart:tag.Index.ByteEnd])
}

func TestFactory(t *testing.T) {
	f := Factory()
	s, err := platform.CompileSchema(f.Schema)
	require.NoError(t, err)
	require.NoError(t, s.Validate([]byte(`{"cid":"c","rkey":"r"}`)))
	require.Error(t, s.Validate([]byte(`{"cid":"c"}`)))

	env, err := platform.ResolveEnv(f, 0, func(k string) (string, bool) {
		v, ok := map[string]string{"BLUESKY_IDENTIFIER": "me", "BLUESKY_PASSWORD": "pw"}[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, "bsky.social", env["BLUESKY_INSTANCE"])
}
