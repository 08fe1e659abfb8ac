// Package bluesky mirrors posts and profile fields to a Bluesky account over
// XRPC.
//
// Long posts become a self-reply thread. The first post carries the
// attachments, a quote embed when the quoted post was mirrored before, or
// else a link card for its first link. Sessions are cached through
// platform.SessionStore so restarts do not log in again.
package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

// ID is the platform id used in the store.
const ID = "bluesky"

const (
	// MaxPostLength is the post length limit in characters.
	MaxPostLength = 300
	// MaxImages is the per-post image limit.
	MaxImages = 4
	// ImageBudget is the blob size limit for images.
	ImageBudget = 976_560
	// VideoBudget is the blob size limit for videos.
	VideoBudget = 50 << 20
	// DefaultCardURL is the link card extractor.
	DefaultCardURL = "https://cardyb.bsky.app/v1/extract"
)

const (
	postCollection    = "app.bsky.feed.post"
	profileCollection = "app.bsky.actor.profile"
)

// StoreValue points at the first record created for a post.
type StoreValue struct {
	CID  string `json:"cid"`
	RKey string `json:"rkey"`
}

// Config holds the account settings.
type Config struct {
	// Instance is the PDS host or base URL.
	Instance   string
	Identifier string
	Password   string
	// Backdate stamps records with the source post time instead of now.
	Backdate bool
	// CardURL overrides DefaultCardURL.
	CardURL string
}

// Factory returns the Bluesky platform factory.
func Factory() platform.Factory {
	return platform.Factory{
		ID:          ID,
		DisplayName: "Bluesky",
		Emoji:       "☁️",
		EnvKeys:     []string{"BLUESKY_INSTANCE", "BLUESKY_IDENTIFIER", "BLUESKY_PASSWORD"},
		Fallback:    map[string]string{"BLUESKY_INSTANCE": "bsky.social"},
		Optional:    []string{"BACKDATE_BLUESKY_POSTS"},
		Schema: `
cid:  string & !=""
rkey: string & !=""
`,
		New: func(ctx context.Context, args platform.CreateArgs) (platform.Adapter, error) {
			backdate, _ := strconv.ParseBool(args.Env["BACKDATE_BLUESKY_POSTS"])
			return New(ctx, Config{
				Instance:   args.Env["BLUESKY_INSTANCE"],
				Identifier: args.Env["BLUESKY_IDENTIFIER"],
				Password:   args.Env["BLUESKY_PASSWORD"],
				Backdate:   backdate,
			}, args.HTTP, args.Sessions, args.Log)
		},
	}
}

type session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// Adapter talks to one Bluesky account.
type Adapter struct {
	cfg      Config
	base     string
	client   *platform.Client
	fetch    media.Fetcher
	trans    *media.Transcoder
	sessions platform.SessionStore
	log      *slog.Logger

	mu   sync.RWMutex
	sess session

	// profileMu serialises read-modify-write of the profile record.
	profileMu sync.Mutex
}

// New resumes a cached session or logs in, and returns an Adapter.
func New(ctx context.Context, cfg Config, hc *http.Client, sessions platform.SessionStore, log *slog.Logger) (*Adapter, error) {
	base := cfg.Instance
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, platform.NewError(platform.CodeConfiguration, ID, "invalid instance "+cfg.Instance, err)
	}
	if cfg.CardURL == "" {
		cfg.CardURL = DefaultCardURL
	}
	if log == nil {
		log = slog.Default()
	}
	client := platform.NewClient(ID, hc)

	a := &Adapter{
		cfg:      cfg,
		base:     strings.TrimRight(u.String(), "/"),
		client:   client,
		fetch:    media.HTTPFetcher(client.HTTP),
		trans:    media.DefaultTranscoder(),
		sessions: sessions,
		log:      log,
	}
	if err := a.login(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Capabilities() platform.Capability {
	return platform.CapProfile | platform.CapPost
}

func (a *Adapter) sessionKey() string {
	return "bluesky:" + a.cfg.Identifier + "@" + a.base
}

// login reuses a stored session when the server still accepts it.
func (a *Adapter) login(ctx context.Context) error {
	if a.sessions != nil {
		blob, ok, err := a.sessions.LoadSession(ctx, a.sessionKey())
		if err != nil {
			a.log.Warn("load session failed", "error", err)
		}
		var cached session
		if ok && json.Unmarshal(blob, &cached) == nil && cached.AccessJwt != "" {
			a.setSession(cached)
			err := a.call(ctx, http.MethodGet, "com.atproto.server.getSession", nil, nil, nil)
			if err == nil {
				a.log.Debug("resumed session", "handle", cached.Handle)
				return nil
			}
			a.log.Info("cached session rejected, logging in", "error", err)
		}
	}

	var s session
	body := map[string]string{"identifier": a.cfg.Identifier, "password": a.cfg.Password}
	if err := a.client.JSON(ctx, http.MethodPost, a.xrpcURL("com.atproto.server.createSession", nil), nil, body, &s); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	a.setSession(s)
	a.saveSession(ctx)
	return nil
}

func (a *Adapter) refresh(ctx context.Context) error {
	a.mu.RLock()
	token := a.sess.RefreshJwt
	a.mu.RUnlock()

	var s session
	hdr := http.Header{"Authorization": {"Bearer " + token}}
	if err := a.client.JSON(ctx, http.MethodPost, a.xrpcURL("com.atproto.server.refreshSession", nil), hdr, nil, &s); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	a.setSession(s)
	a.saveSession(ctx)
	return nil
}

func (a *Adapter) setSession(s session) {
	a.mu.Lock()
	a.sess = s
	a.mu.Unlock()
}

func (a *Adapter) saveSession(ctx context.Context) {
	if a.sessions == nil {
		return
	}
	a.mu.RLock()
	blob, err := json.Marshal(a.sess)
	a.mu.RUnlock()
	if err == nil {
		err = a.sessions.SaveSession(ctx, a.sessionKey(), blob)
	}
	if err != nil {
		a.log.Warn("save session failed", "error", err)
	}
}

func (a *Adapter) did() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sess.DID
}

func (a *Adapter) auth() http.Header {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return http.Header{"Authorization": {"Bearer " + a.sess.AccessJwt}}
}

func (a *Adapter) xrpcURL(nsid string, query url.Values) string {
	u := a.base + "/xrpc/" + nsid
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// call performs an authenticated XRPC call, refreshing the session once
// when the access token expired.
func (a *Adapter) call(ctx context.Context, method, nsid string, query url.Values, body, out any) error {
	err := a.client.JSON(ctx, method, a.xrpcURL(nsid, query), a.auth(), body, out)
	if !isExpired(err) {
		return err
	}
	if rerr := a.refresh(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return a.client.JSON(ctx, method, a.xrpcURL(nsid, query), a.auth(), body, out)
}

func isExpired(err error) bool {
	var e *platform.Error
	return errors.As(err, &e) && strings.Contains(e.Message, "ExpiredToken")
}

// uploadBlob stores blob on the PDS and returns the blob reference.
func (a *Adapter) uploadBlob(ctx context.Context, blob media.Blob) (json.RawMessage, error) {
	var out struct {
		Blob json.RawMessage `json:"blob"`
	}
	upload := func() error {
		return a.client.Raw(ctx, a.xrpcURL("com.atproto.repo.uploadBlob", nil), a.auth(), blob.MIME, blob.Data, &out)
	}
	err := upload()
	if isExpired(err) {
		if rerr := a.refresh(ctx); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		err = upload()
	}
	if err != nil {
		return nil, err
	}
	return out.Blob, nil
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type recordView struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

func (a *Adapter) getRecord(ctx context.Context, collection, rkey string) (recordView, error) {
	var rv recordView
	q := url.Values{"repo": {a.did()}, "collection": {collection}, "rkey": {rkey}}
	err := a.call(ctx, http.MethodGet, "com.atproto.repo.getRecord", q, nil, &rv)
	return rv, err
}

func (a *Adapter) createRecord(ctx context.Context, record any) (strongRef, error) {
	var ref strongRef
	body := map[string]any{"repo": a.did(), "collection": postCollection, "record": record}
	err := a.call(ctx, http.MethodPost, "com.atproto.repo.createRecord", nil, body, &ref)
	return ref, err
}

func (a *Adapter) postURI(rkey string) string {
	return "at://" + a.did() + "/" + postCollection + "/" + rkey
}

func rkeyOf(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}
