package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

func record(t *testing.T, raw post.Raw) post.Record {
	t.Helper()
	rec, err := post.Normalize(raw)
	require.NoError(t, err)
	return rec
}

func newAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a, err := New(srv.URL+"/api/webhooks/1/token", srv.Client())
	require.NoError(t, err)
	a.client.Policy = platform.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond}
	return a
}

func TestSyncPost_SendsEmbeds(t *testing.T) {
	var got Message
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/webhooks/1/token", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	})

	rec := record(t, post.Raw{
		ID: "7", Text: "hello", Username: "src", Name: "Source", Timestamp: 1700000000,
		Photos: []post.RawPhoto{{ID: "p1", URL: "https://img/1.jpg"}, {ID: "p2", URL: "https://img/2.jpg"}},
		Videos: []post.RawVideo{{ID: "v1", URL: "https://vid/1.mp4"}},
		QuotedStatusID: "3", Hashtags: []string{"go"}, Likes: 4,
	})
	value, err := a.SyncPost(t.Context(), platform.PostRequest{Post: rec})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7"}`, string(value))

	require.Len(t, got.Embeds, 4)
	main := got.Embeds[0]
	assert.Equal(t, "hello", main.Description)
	assert.Equal(t, "Source (@src)", main.Author.Name)
	assert.Equal(t, "https://x.com/src/status/7", main.URL)
	assert.Equal(t, "https://img/1.jpg", main.Image.URL)
	assert.Equal(t, "2023-11-14T22:13:20Z", main.Timestamp)
	assert.Contains(t, main.Footer.Text, "❤️ 4")
	assert.Equal(t, []Field{{Name: "Tags", Value: "🏷 #go"}}, main.Fields)
	assert.Equal(t, "https://img/2.jpg", got.Embeds[1].Image.URL)
	assert.Contains(t, got.Embeds[2].Description, "https://vid/1.mp4")
	assert.Equal(t, "https://x.com/i/status/3", got.Embeds[3].URL)
}

func TestSyncPost_ExistingEntryMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	stored := json.RawMessage(`{"id":"7"}`)
	value, err := a.SyncPost(t.Context(), platform.PostRequest{
		Post:  record(t, post.Raw{ID: "7", Text: "x"}),
		Entry: platform.Entry{Value: stored},
	})
	require.NoError(t, err)
	assert.Equal(t, stored, value)
	assert.Zero(t, calls.Load())
}

func TestSyncPost_RateLimitRetried(t *testing.T) {
	var calls atomic.Int32
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 0.005}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: "x"})})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSyncPost_RejectedIsPermanent(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: "x"})})
	require.Error(t, err)
	assert.True(t, platform.IsPermanent(err))
}

func TestFormat_Sensitive(t *testing.T) {
	msg := Format(record(t, post.Raw{ID: "1", Text: "careful", SensitiveContent: true, PermanentURL: "https://x.com/a/status/1"}))
	assert.Equal(t, "⚠️ **Sensitive Content**\n\ncareful", msg.Embeds[0].Description)
	assert.Equal(t, "https://x.com/a/status/1", msg.Embeds[0].URL)
	assert.Nil(t, msg.Embeds[0].Image)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("not a url", nil)
	require.Error(t, err)
	assert.True(t, platform.IsConfiguration(err))
}

func TestFactory_Registers(t *testing.T) {
	f := Factory()
	a, err := f.New(t.Context(), platform.CreateArgs{Env: map[string]string{"DISCORD_WEBHOOK_URL": "https://discord.test/api/webhooks/1/x"}})
	require.NoError(t, err)

	reg := platform.NewRegistry()
	h, err := reg.Register(f, a)
	require.NoError(t, err)
	assert.Equal(t, platform.CapPost, h.Caps)

	_, err = h.Entry([]byte(`{"id":"1"}`), true)
	require.NoError(t, err)
	_, err = h.Entry([]byte(`{"id":""}`), true)
	require.Error(t, err)
}

func TestFormat_TagsAndMentions(t *testing.T) {
	msg := Format(record(t, post.Raw{ID: "1", Text: "hi", Hashtags: []string{"go", "sqlite"}, Mentions: []string{"alice", "@bob"}}))
	assert.Equal(t, []Field{{Name: "Tags", Value: "🏷 #go #sqlite\n👤 @alice @bob"}}, msg.Embeds[0].Fields)

	msg = Format(record(t, post.Raw{ID: "1", Text: "hi", Mentions: []string{"alice"}}))
	assert.Equal(t, []Field{{Name: "Tags", Value: "👤 @alice"}}, msg.Embeds[0].Fields)
}

func TestFormat_ThreadPreview(t *testing.T) {
	long := strings.Repeat("é", 120)
	msg := Format(record(t, post.Raw{
		ID:   "1",
		Text: "head",
		Thread: []post.RawRef{
			{ID: "1", Text: "head"},
			{ID: "2", Text: "second"},
			{ID: "3", Text: long},
			{ID: "4", Text: "fourth"},
		},
	}))

	require.Len(t, msg.Embeds[0].Fields, 1)
	f := msg.Embeds[0].Fields[0]
	assert.Equal(t, "Thread", f.Name)
	assert.Equal(t, "↳ second\n↳ "+strings.Repeat("é", 100)+"…\n…more", f.Value)

	msg = Format(record(t, post.Raw{ID: "1", Text: "head", Thread: []post.RawRef{{ID: "2", Text: "only"}}}))
	assert.Equal(t, "↳ only", msg.Embeds[0].Fields[0].Value)

	msg = Format(record(t, post.Raw{ID: "1", Text: "head", Thread: []post.RawRef{{ID: "1"}}}))
	assert.Empty(t, msg.Embeds[0].Fields, "a thread of one is no thread")
}

func TestFormat_QuotedPostSummary(t *testing.T) {
	msg := Format(record(t, post.Raw{
		ID:   "5",
		Text: "look",
		QuotedStatus: &post.RawRef{
			ID: "4", Text: "the original", Username: "orig", Name: "Orig",
			PermanentURL: "https://x.com/orig/status/4",
		},
	}))

	require.Len(t, msg.Embeds, 2)
	q := msg.Embeds[1]
	assert.Equal(t, colorQuote, q.Color)
	assert.Equal(t, "Orig (@orig)", q.Author.Name)
	assert.Equal(t, "https://x.com/orig", q.Author.URL)
	assert.Equal(t, "the original", q.Description)
	assert.Equal(t, "https://x.com/orig/status/4", q.URL)
}

func TestFormat_RetweetMarkerLeads(t *testing.T) {
	msg := Format(record(t, post.Raw{ID: "9", Text: "rt", RetweetedStatus: &post.RawRef{ID: "8", Username: "orig"}}))

	require.Len(t, msg.Embeds, 2)
	assert.Equal(t, "🔁 Retweeted [@orig](https://x.com/orig/status/8)", msg.Embeds[0].Description)
	assert.Equal(t, "rt", msg.Embeds[1].Description)
}

func TestFormat_LocationAndVideoPreview(t *testing.T) {
	msg := Format(record(t, post.Raw{
		ID:     "1",
		Text:   "here",
		Place:  &post.RawPlace{Name: "Paris", FullName: "Paris, France"},
		Videos: []post.RawVideo{{ID: "v", URL: "https://vid/1.mp4", Preview: "https://vid/1.jpg"}},
	}))

	assert.Equal(t, []Field{{Name: "📍 Location", Value: "Paris, France"}}, msg.Embeds[0].Fields)
	require.Len(t, msg.Embeds, 2)
	require.NotNil(t, msg.Embeds[1].Thumbnail)
	assert.Equal(t, "https://vid/1.jpg", msg.Embeds[1].Thumbnail.URL)
}

func TestSyncPost_EmptyPostIsSkipped(t *testing.T) {
	var calls atomic.Int32
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	value, err := a.SyncPost(t.Context(), platform.PostRequest{Post: record(t, post.Raw{ID: "1", Text: " "})})
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.Zero(t, calls.Load())
}
