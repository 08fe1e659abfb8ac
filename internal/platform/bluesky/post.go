package bluesky

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/yamada-sexta/touitomamout-next/internal/chunk"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

var allowedMIME = map[string]bool{
	"image/gif":  true,
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"video/mp4":  true,
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type feedPost struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	Facets    []Facet   `json:"facets,omitempty"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
	Embed     any       `json:"embed,omitempty"`
}

// SyncPost publishes req.Post as a thread of records.
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

	var quote map[string]any
	if rec.IsQuote() {
		if v, ok := lookup(ctx, refs, rec.QuotedID); ok {
			quote = map[string]any{
				"$type":  "app.bsky.embed.record",
				"record": strongRef{URI: a.postURI(v.RKey), CID: v.CID},
			}
		}
	}
	var reply *replyRef
	if rec.IsReply() {
		if v, ok := lookup(ctx, refs, rec.InReplyToID); ok {
			reply = a.replyTo(ctx, v, log)
		}
	}

	attachments, err := a.attachments(ctx, req, log)
	if err != nil {
		return nil, err
	}
	if attachments == nil && strings.TrimSpace(rec.Text) == "" {
		log.Warn("no text and no compatible media, skipping")
		return nil, nil
	}

	var first any
	switch {
	case quote != nil && attachments != nil:
		first = map[string]any{"$type": "app.bsky.embed.recordWithMedia", "record": quote, "media": attachments}
	case quote != nil:
		first = quote
	case attachments != nil:
		first = attachments
	}

	createdAt := time.Now().UTC()
	if a.cfg.Backdate && !rec.Timestamp.IsZero() {
		createdAt = rec.Timestamp.UTC()
	}

	chunks := chunk.Split(rec.Text, chunk.Options{MaxChunkSize: MaxPostLength, URLs: rec.URLs()})
	var created []strongRef
	for i, text := range chunks {
		p := feedPost{
			Type:      postCollection,
			Text:      text,
			Facets:    DetectFacets(text),
			CreatedAt: createdAt.Format("2006-01-02T15:04:05.000Z"),
		}
		if i == 0 && first != nil {
			p.Embed = first
		} else if card := a.linkCard(ctx, p.Facets, log); card != nil {
			p.Embed = card
		}

		switch {
		case i == 0:
			p.Reply = reply
		case reply != nil:
			p.Reply = &replyRef{Root: reply.Root, Parent: created[i-1]}
		default:
			p.Reply = &replyRef{Root: created[0], Parent: created[i-1]}
		}

		ref, err := a.createRecord(ctx, p)
		if err != nil {
			return nil, err
		}
		created = append(created, ref)
		log.Debug("post sent", "index", i, "total", len(chunks))
	}

	return platform.Encode(StoreValue{CID: created[0].CID, RKey: rkeyOf(created[0].URI)})
}

// replyTo builds the reply reference for a mirrored parent, keeping the
// parent's own thread root when it has one.
func (a *Adapter) replyTo(ctx context.Context, parent StoreValue, log *slog.Logger) *replyRef {
	ref := strongRef{URI: a.postURI(parent.RKey), CID: parent.CID}
	r := &replyRef{Root: ref, Parent: ref}

	rv, err := a.getRecord(ctx, postCollection, parent.RKey)
	if err != nil {
		log.Warn("reply parent lookup failed, using it as root", "rkey", parent.RKey, "error", err)
		return r
	}
	var value struct {
		Reply *replyRef `json:"reply"`
	}
	if json.Unmarshal(rv.Value, &value) == nil && value.Reply != nil && value.Reply.Root.URI != "" {
		r.Root = value.Reply.Root
	}
	return r
}

// attachments uploads the media of req and returns the embed, or nil. A
// video takes precedence over photos.
func (a *Adapter) attachments(ctx context.Context, req platform.PostRequest, log *slog.Logger) (any, error) {
	for _, v := range platform.Videos(ctx, req.Media, VideoBudget, 0, log) {
		blob := v.Blob.Sniff()
		if !allowedMIME[blob.MIME] {
			log.Warn("video type not supported", "url", v.Ref.URL, "mime", blob.MIME)
			continue
		}
		ref, err := a.uploadBlob(ctx, blob)
		if err != nil {
			if platform.IsPermanent(err) {
				log.Warn("video upload rejected", "url", v.Ref.URL, "error", err)
				continue
			}
			return nil, err
		}
		return map[string]any{"$type": "app.bsky.embed.video", "video": ref}, nil
	}

	var images []map[string]any
	for _, p := range platform.Photos(ctx, req.Media, a.trans, ImageBudget, MaxImages, log) {
		if !allowedMIME[p.Blob.MIME] {
			log.Warn("image type not supported", "url", p.Ref.URL, "mime", p.Blob.MIME)
			continue
		}
		ref, err := a.uploadBlob(ctx, p.Blob)
		if err != nil {
			if platform.IsPermanent(err) {
				log.Warn("image upload rejected", "url", p.Ref.URL, "error", err)
				continue
			}
			return nil, err
		}
		images = append(images, map[string]any{"alt": p.Ref.AltText, "image": ref})
	}
	if len(images) == 0 {
		return nil, nil
	}
	return map[string]any{"$type": "app.bsky.embed.images", "images": images}, nil
}

func lookup(ctx context.Context, refs platform.RefResolver, postID string) (StoreValue, bool) {
	e, err := refs.Resolve(ctx, postID)
	if err != nil {
		return StoreValue{}, false
	}
	v, ok := platform.Decode[StoreValue](e)
	return v, ok && v.CID != "" && v.RKey != ""
}
