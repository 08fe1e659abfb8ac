// Package mastodon mirrors posts and profile fields to a Mastodon account.
//
// Long posts become a self-reply thread of toots. Every link counts as 23
// characters, as Mastodon counts them. A quoted post that was mirrored
// before is linked at the end of the first toot.
package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/yamada-sexta/touitomamout-next/internal/chunk"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

// ID is the platform id used in the store.
const ID = "mastodon"

const (
	// MaxPostLength is the toot length limit.
	MaxPostLength = 500
	// URLLength is the length Mastodon charges for any link.
	URLLength = 23
	// MaxAttachments is the per-toot media limit.
	MaxAttachments = 4
	// ImageBudget is the upload size limit for images.
	ImageBudget = 16 << 20
	// VideoBudget is the upload size limit for videos.
	VideoBudget = 99 << 20
)

// StoreValue lists the toots created for one post, in thread order.
type StoreValue struct {
	TootIDs []string `json:"tootIds"`
}

// Factory returns the Mastodon platform factory.
func Factory() platform.Factory {
	return platform.Factory{
		ID:          ID,
		DisplayName: "Mastodon",
		Emoji:       "🦣",
		EnvKeys:     []string{"MASTODON_INSTANCE", "MASTODON_ACCESS_TOKEN"},
		Fallback:    map[string]string{"MASTODON_INSTANCE": "mastodon.social"},
		Schema:      `tootIds: [string, ...string]`,
		New: func(ctx context.Context, args platform.CreateArgs) (platform.Adapter, error) {
			return New(ctx, args.Env["MASTODON_INSTANCE"], args.Env["MASTODON_ACCESS_TOKEN"], args.HTTP, args.Log)
		},
	}
}

// Adapter talks to one Mastodon account.
type Adapter struct {
	base     string
	host     string
	username string
	auth     http.Header
	client   *platform.Client
	trans    *media.Transcoder
	log      *slog.Logger
}

// New verifies the token against instance and returns an Adapter. instance
// is a host name or a full base URL.
func New(ctx context.Context, instance, token string, hc *http.Client, log *slog.Logger) (*Adapter, error) {
	base := instance
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, platform.NewError(platform.CodeConfiguration, ID, "invalid instance "+instance, err)
	}
	if log == nil {
		log = slog.Default()
	}

	a := &Adapter{
		base:   strings.TrimRight(u.String(), "/"),
		host:   u.Host,
		auth:   http.Header{"Authorization": {"Bearer " + token}},
		client: platform.NewClient(ID, hc),
		trans:  media.DefaultTranscoder(),
		log:    log,
	}

	var account struct {
		Username string `json:"username"`
	}
	if err := a.client.JSON(ctx, http.MethodGet, a.base+"/api/v1/accounts/verify_credentials", a.auth, nil, &account); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	a.username = account.Username
	return a, nil
}

func (a *Adapter) Capabilities() platform.Capability {
	return platform.CapProfile | platform.CapPost
}

func (a *Adapter) SyncBio(ctx context.Context, u platform.ProfileUpdate) error {
	return a.updateCredentials(ctx, map[string]string{"note": u.Bio})
}

func (a *Adapter) SyncUserName(ctx context.Context, u platform.ProfileUpdate) error {
	return a.updateCredentials(ctx, map[string]string{"display_name": u.Profile.Name})
}

func (a *Adapter) SyncProfilePic(ctx context.Context, u platform.ProfileUpdate) error {
	return a.uploadCredential(ctx, "avatar", u.Picture)
}

func (a *Adapter) SyncBanner(ctx context.Context, u platform.ProfileUpdate) error {
	return a.uploadCredential(ctx, "header", u.Banner)
}

func (a *Adapter) updateCredentials(ctx context.Context, fields map[string]string) error {
	return a.client.JSON(ctx, http.MethodPatch, a.base+"/api/v1/accounts/update_credentials", a.auth, fields, nil)
}

func (a *Adapter) uploadCredential(ctx context.Context, field string, blob media.Blob) error {
	if blob.Size() == 0 {
		return nil
	}
	blob = blob.Sniff()
	if blob.Name == "" {
		blob.Name = field
	}
	return a.client.Upload(ctx, http.MethodPatch, a.base+"/api/v1/accounts/update_credentials", a.auth, nil, field, blob, nil)
}

// SyncPost publishes req.Post as a toot thread.
func (a *Adapter) SyncPost(ctx context.Context, req platform.PostRequest) (json.RawMessage, error) {
	if req.Entry.Found() {
		return req.Entry.Value, nil
	}
	log := req.Log
	if log == nil {
		log = a.log
	}
	rec := req.Post
	if rec.IsEmpty() {
		log.Debug("nothing to post")
		return nil, nil
	}
	refs := req.Refs
	if refs == nil {
		refs = platform.NoRefs
	}

	chunks := chunk.Split(rec.Text, chunk.Options{
		MaxChunkSize:    MaxPostLength,
		URLs:            rec.URLs(),
		URLLength:       URLLength,
		QuotedID:        rec.QuotedID,
		AppendQuoteLink: true,
		QuoteLinkSuffix: a.quoteLink(ctx, refs, rec.QuotedID),
	})

	var replyTo string
	if rec.IsReply() {
		if v, ok := a.lookup(ctx, refs, rec.InReplyToID); ok {
			replyTo = v.TootIDs[0]
		}
	}

	mediaIDs, err := a.uploadMedia(ctx, req.Media, log)
	if err != nil {
		return nil, err
	}
	if len(mediaIDs) == 0 && strings.TrimSpace(strings.Join(chunks, "")) == "" {
		log.Warn("no text and no compatible media, skipping")
		return nil, nil
	}

	var tootIDs []string
	for i, text := range chunks {
		body := map[string]any{
			"status":     text,
			"visibility": "public",
			"sensitive":  rec.Sensitive,
		}
		if i == 0 {
			if len(mediaIDs) > 0 {
				body["media_ids"] = mediaIDs
			}
			if replyTo != "" {
				body["in_reply_to_id"] = replyTo
			}
		} else {
			body["in_reply_to_id"] = tootIDs[i-1]
		}

		hdr := a.auth.Clone()
		hdr.Set("Idempotency-Key", fmt.Sprintf("%s-%d", rec.ID, i))

		var status struct {
			ID string `json:"id"`
		}
		if err := a.client.JSON(ctx, http.MethodPost, a.base+"/api/v1/statuses", hdr, body, &status); err != nil {
			return nil, err
		}
		tootIDs = append(tootIDs, status.ID)
		log.Debug("toot sent", "index", i, "total", len(chunks))
	}

	return platform.Encode(StoreValue{TootIDs: tootIDs})
}

// quoteLink returns the link suffix for a quoted post that was mirrored
// here before, or "".
func (a *Adapter) quoteLink(ctx context.Context, refs platform.RefResolver, quotedID string) string {
	if quotedID == "" {
		return ""
	}
	v, ok := a.lookup(ctx, refs, quotedID)
	if !ok {
		return ""
	}
	return fmt.Sprintf("\n\nhttps://%s/@%s/%s", a.host, a.username, v.TootIDs[len(v.TootIDs)-1])
}

func (a *Adapter) lookup(ctx context.Context, refs platform.RefResolver, postID string) (StoreValue, bool) {
	e, err := refs.Resolve(ctx, postID)
	if err != nil {
		return StoreValue{}, false
	}
	v, ok := platform.Decode[StoreValue](e)
	if !ok || len(v.TootIDs) == 0 {
		return StoreValue{}, false
	}
	return v, true
}

func (a *Adapter) uploadMedia(ctx context.Context, set *media.Set, log *slog.Logger) ([]string, error) {
	photos := platform.Photos(ctx, set, a.trans, ImageBudget, MaxAttachments, log)
	videos := platform.Videos(ctx, set, VideoBudget, MaxAttachments-len(photos), log)

	var ids []string
	for _, att := range append(photos, videos...) {
		fields := map[string]string{}
		if att.Ref.AltText != "" {
			fields["description"] = att.Ref.AltText
		}
		blob := att.Blob
		if blob.Name == "" {
			blob.Name = "upload"
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := a.client.Upload(ctx, http.MethodPost, a.base+"/api/v2/media", a.auth, fields, "file", blob, &out); err != nil {
			if platform.IsPermanent(err) {
				log.Warn("media upload rejected, dropping item", "url", att.Ref.URL, "error", err)
				continue
			}
			return nil, err
		}
		ids = append(ids, out.ID)
	}
	return ids, nil
}
