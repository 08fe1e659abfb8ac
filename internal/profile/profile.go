// Package profile detects avatar and banner changes by content.
//
// A URL change alone never counts as a change: the image behind the new URL
// is downloaded and hashed, and only a differing hash is reported. The cache
// row is rewritten after every evaluation.
package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/store"
)

// Ledger is the subset of the store used by Cache.
type Ledger interface {
	GetProfile(ctx context.Context, userID string) (store.ProfileEntry, bool, error)
	PutProfile(ctx context.Context, p store.ProfileEntry) error
}

// Diff reports which profile images changed since the last evaluation.
// Pfp and Banner hold the downloaded bytes of changed images.
type Diff struct {
	PfpChanged    bool
	BannerChanged bool
	Pfp           media.Blob
	Banner        media.Blob
}

// Cache compares profile images against the last recorded hashes.
type Cache struct {
	ledger Ledger
	fetch  media.Fetcher
	logger *slog.Logger
}

// New returns a Cache backed by ledger that downloads through fetch.
func New(ledger Ledger, fetch media.Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{ledger: ledger, fetch: fetch, logger: logger}
}

// Evaluate downloads both images, compares their hashes to the cached ones
// and records the new state.
func (c *Cache) Evaluate(ctx context.Context, userID, pfpURL, bannerURL string) (Diff, error) {
	prev, _, err := c.ledger.GetProfile(ctx, userID)
	if err != nil {
		return Diff{}, fmt.Errorf("evaluate profile %s: %w", userID, err)
	}

	next := store.ProfileEntry{UserID: userID}
	var diff Diff

	next.PfpURL, next.PfpHash, diff.Pfp, diff.PfpChanged = c.check(ctx, "avatar", pfpURL, prev.PfpURL, prev.PfpHash)
	next.BannerURL, next.BannerHash, diff.Banner, diff.BannerChanged = c.check(ctx, "banner", bannerURL, prev.BannerURL, prev.BannerHash)

	if err := c.ledger.PutProfile(ctx, next); err != nil {
		return Diff{}, fmt.Errorf("evaluate profile %s: %w", userID, err)
	}
	return diff, nil
}

// check fetches one image. On download failure the previous url and hash are
// kept and no change is reported.
func (c *Cache) check(ctx context.Context, field, url, prevURL, prevHash string) (string, string, media.Blob, bool) {
	if url == "" {
		return "", "", media.Blob{}, false
	}

	blob, err := c.fetch(ctx, url)
	if err != nil {
		c.logger.Warn("profile image download failed", "field", field, "url", url, "error", err)
		return prevURL, prevHash, media.Blob{}, false
	}

	hash := media.Hash(blob.Data)
	if hash == prevHash {
		return url, hash, media.Blob{}, false
	}
	return url, hash, blob, true
}
