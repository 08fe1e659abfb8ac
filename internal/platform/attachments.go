package platform

import (
	"context"
	"log/slog"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// Attachment is a downloaded media item ready for upload.
type Attachment struct {
	Ref  post.Media
	Blob media.Blob
}

// Photos returns up to limit photos of set, each fitted to budget bytes.
// Items that failed to download or have an unsupported type are logged and
// dropped; the rest of the post is unaffected. A nil set yields nothing.
func Photos(ctx context.Context, set *media.Set, t *media.Transcoder, budget, limit int, log *slog.Logger) []Attachment {
	if set == nil {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	var out []Attachment
	for _, item := range set.Photos(ctx) {
		if limit > 0 && len(out) >= limit {
			log.Info("photo limit reached, dropping the rest", "limit", limit)
			break
		}
		if item.Err != nil {
			log.Warn("photo download failed", "url", item.Ref.URL, "error", item.Err)
			continue
		}
		blob := item.Blob.Sniff()
		if !blob.IsImage() {
			log.Warn("photo is not an image, dropped", "url", item.Ref.URL, "mime", blob.MIME)
			continue
		}
		res, err := t.Fit(blob, budget)
		if err != nil {
			log.Warn("photo dropped", "url", item.Ref.URL, "error", err)
			continue
		}
		if !res.Fits(budget) {
			log.Warn("photo still over budget after compression", "url", item.Ref.URL, "size", res.Blob.Size(), "budget", budget)
		}
		out = append(out, Attachment{Ref: item.Ref, Blob: res.Blob})
	}
	return out
}

// Videos returns up to limit videos of set no larger than budget bytes.
// A budget of zero accepts any size. Payloads that are not videos, such as
// an HTML error page, are dropped.
func Videos(ctx context.Context, set *media.Set, budget, limit int, log *slog.Logger) []Attachment {
	if set == nil {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	var out []Attachment
	for _, item := range set.Videos(ctx) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if item.Err != nil {
			log.Warn("video download failed", "url", item.Ref.URL, "error", item.Err)
			continue
		}
		blob := item.Blob.Sniff()
		if !blob.IsVideo() {
			log.Warn("video is not a video, dropped", "url", item.Ref.URL, "mime", blob.MIME)
			continue
		}
		if budget > 0 && blob.Size() > budget {
			log.Warn("video too large, dropped", "url", item.Ref.URL, "size", blob.Size(), "budget", budget)
			continue
		}
		out = append(out, Attachment{Ref: item.Ref, Blob: blob})
	}
	return out
}
