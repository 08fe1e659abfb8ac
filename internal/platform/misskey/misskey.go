// Package misskey mirrors posts and profile fields to a Misskey account.
package misskey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yamada-sexta/touitomamout-next/internal/chunk"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

// ID is the platform id used in the store.
const ID = "misskey"

const (
	// MaxNoteLength is the default note length limit of Misskey instances.
	MaxNoteLength = 3000
	// MaxFiles is the per-note attachment limit.
	MaxFiles = 16
	// ImageBudget bounds uploaded image size.
	ImageBudget = 10 << 20
)

// StoreValue holds the notes created for one post. ID is the first note,
// IDs the whole thread in order.
type StoreValue struct {
	ID  string   `json:"id"`
	IDs []string `json:"ids,omitempty"`
}

func (v StoreValue) last() string {
	if len(v.IDs) > 0 {
		return v.IDs[len(v.IDs)-1]
	}
	return v.ID
}

// Factory returns the Misskey platform factory.
func Factory() platform.Factory {
	return platform.Factory{
		ID:          ID,
		DisplayName: "Misskey",
		Emoji:       "Ⓜ️",
		EnvKeys:     []string{"MISSKEY_INSTANCE", "MISSKEY_ACCESS_CODE"},
		Schema: `
id:   string & !=""
ids?: [...string]
`,
		New: func(ctx context.Context, args platform.CreateArgs) (platform.Adapter, error) {
			return New(ctx, args.Env["MISSKEY_INSTANCE"], args.Env["MISSKEY_ACCESS_CODE"], args.HTTP, args.Log)
		},
	}
}

// Adapter talks to one Misskey account.
type Adapter struct {
	base   string
	token  string
	client *platform.Client
	trans  *media.Transcoder
	log    *slog.Logger
}

// New checks the access token against instance and returns an Adapter.
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

	c := platform.NewClient(ID, hc)
	c.Hint = rateLimitReset
	a := &Adapter{
		base:   strings.TrimRight(u.String(), "/"),
		token:  token,
		client: c,
		trans:  media.DefaultTranscoder(),
		log:    log,
	}

	var me struct {
		Username string `json:"username"`
	}
	if err := a.call(ctx, "i", nil, &me); err != nil {
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	return a, nil
}

func (a *Adapter) Capabilities() platform.Capability {
	return platform.CapProfile | platform.CapPost
}

// call invokes an API endpoint. The token travels in the body as "i".
func (a *Adapter) call(ctx context.Context, endpoint string, body map[string]any, out any) error {
	payload := map[string]any{"i": a.token}
	for k, v := range body {
		payload[k] = v
	}
	return a.client.JSON(ctx, http.MethodPost, a.base+"/api/"+endpoint, nil, payload, out)
}

func (a *Adapter) upload(ctx context.Context, blob media.Blob, comment string, sensitive bool) (string, error) {
	fields := map[string]string{"i": a.token}
	if comment != "" {
		fields["comment"] = comment
	}
	if sensitive {
		fields["isSensitive"] = "true"
	}
	if blob.Name == "" {
		blob.Name = "upload"
	}
	var file struct {
		ID string `json:"id"`
	}
	if err := a.client.Upload(ctx, http.MethodPost, a.base+"/api/drive/files/create", nil, fields, "file", blob, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

func (a *Adapter) SyncBio(ctx context.Context, u platform.ProfileUpdate) error {
	return a.call(ctx, "i/update", map[string]any{"description": u.Bio}, nil)
}

func (a *Adapter) SyncUserName(ctx context.Context, u platform.ProfileUpdate) error {
	return a.call(ctx, "i/update", map[string]any{"name": u.Profile.Name}, nil)
}

func (a *Adapter) SyncProfilePic(ctx context.Context, u platform.ProfileUpdate) error {
	if u.Picture.Size() == 0 {
		return nil
	}
	id, err := a.upload(ctx, u.Picture.Sniff(), "", false)
	if err != nil {
		return err
	}
	return a.call(ctx, "i/update", map[string]any{"avatarId": id}, nil)
}

func (a *Adapter) SyncBanner(ctx context.Context, u platform.ProfileUpdate) error {
	if u.Banner.Size() == 0 {
		return nil
	}
	id, err := a.upload(ctx, u.Banner.Sniff(), "", false)
	if err != nil {
		return err
	}
	return a.call(ctx, "i/update", map[string]any{"bannerId": id}, nil)
}

// SyncPost publishes req.Post as a note, continued as replies when it is
// longer than MaxNoteLength. A quoted post mirrored before becomes a quote
// renote.
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

	var fileIDs []string
	photos := platform.Photos(ctx, req.Media, a.trans, ImageBudget, MaxFiles, log)
	videos := platform.Videos(ctx, req.Media, 0, MaxFiles-len(photos), log)
	for _, att := range append(photos, videos...) {
		id, err := a.upload(ctx, att.Blob, att.Ref.AltText, rec.Sensitive)
		if err != nil {
			if platform.IsPermanent(err) {
				log.Warn("drive upload rejected, dropping item", "url", att.Ref.URL, "error", err)
				continue
			}
			return nil, err
		}
		fileIDs = append(fileIDs, id)
	}

	if strings.TrimSpace(rec.Text) == "" && len(fileIDs) == 0 {
		log.Warn("no text and no compatible media, skipping")
		return nil, nil
	}

	var replyID, renoteID string
	if rec.IsReply() {
		if v, ok := lookup(ctx, refs, rec.InReplyToID); ok {
			replyID = v.last()
		}
	}
	if rec.IsQuote() {
		if v, ok := lookup(ctx, refs, rec.QuotedID); ok {
			renoteID = v.ID
		}
	}

	chunks := chunk.Split(rec.Text, chunk.Options{MaxChunkSize: MaxNoteLength, URLs: rec.URLs()})
	var ids []string
	for i, text := range chunks {
		body := map[string]any{"visibility": "public"}
		if text != "" {
			body["text"] = text
		}
		if i == 0 {
			if len(fileIDs) > 0 {
				body["fileIds"] = fileIDs
			}
			if replyID != "" {
				body["replyId"] = replyID
			}
			if renoteID != "" {
				body["renoteId"] = renoteID
			}
		} else {
			body["replyId"] = ids[i-1]
		}

		var res struct {
			CreatedNote struct {
				ID string `json:"id"`
			} `json:"createdNote"`
		}
		if err := a.call(ctx, "notes/create", body, &res); err != nil {
			return nil, err
		}
		ids = append(ids, res.CreatedNote.ID)
	}

	v := StoreValue{ID: ids[0]}
	if len(ids) > 1 {
		v.IDs = ids
	}
	return platform.Encode(v)
}

func lookup(ctx context.Context, refs platform.RefResolver, postID string) (StoreValue, bool) {
	e, err := refs.Resolve(ctx, postID)
	if err != nil {
		return StoreValue{}, false
	}
	v, ok := platform.Decode[StoreValue](e)
	return v, ok && v.ID != ""
}

// rateLimitReset reads the reset time of a RATE_LIMIT_EXCEEDED error.
func rateLimitReset(_ http.Header, body []byte) time.Duration {
	var v struct {
		Error struct {
			Code string `json:"code"`
			Info struct {
				ResetMs float64 `json:"resetMs"`
			} `json:"info"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &v) != nil || v.Error.Code != "RATE_LIMIT_EXCEEDED" {
		return 0
	}
	wait := time.Until(time.UnixMilli(int64(v.Error.Info.ResetMs)))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}
