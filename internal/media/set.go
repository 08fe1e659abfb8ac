package media

import (
	"context"
	"sync"

	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// Item is one attachment of a post with its downloaded payload. Err is set
// when the download failed; other items are unaffected.
type Item struct {
	Ref  post.Media
	Blob Blob
	Err  error
}

// Set downloads a post's attachments on first use and shares the results.
// It is safe for concurrent use.
type Set struct {
	fetch  Fetcher
	photos []post.Media
	videos []post.Media

	photoOnce  sync.Once
	videoOnce  sync.Once
	photoItems []Item
	videoItems []Item
}

// NewSet prepares a lazy attachment set for rec.
func NewSet(fetch Fetcher, rec post.Record) *Set {
	return &Set{fetch: fetch, photos: rec.Photos(), videos: rec.Videos()}
}

// Photos returns the photo attachments, downloading them on the first call.
func (s *Set) Photos(ctx context.Context) []Item {
	s.photoOnce.Do(func() { s.photoItems = s.load(ctx, s.photos) })
	return s.photoItems
}

// Videos returns the video attachments, downloading them on the first call.
func (s *Set) Videos(ctx context.Context) []Item {
	s.videoOnce.Do(func() { s.videoItems = s.load(ctx, s.videos) })
	return s.videoItems
}

func (s *Set) load(ctx context.Context, refs []post.Media) []Item {
	items := make([]Item, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob, err := s.fetch(ctx, ref.URL)
			items[i] = Item{Ref: ref, Blob: blob, Err: err}
		}()
	}
	wg.Wait()
	return items
}
