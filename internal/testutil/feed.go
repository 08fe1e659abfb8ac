package testutil

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/yamada-sexta/touitomamout-next/internal/feed"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// FakeFeed serves fixed posts and profiles per handle.
//
// Thread-safety: FakeFeed is safe for concurrent use via internal mutex.
type FakeFeed struct {
	mu       sync.Mutex
	posts    map[string][]post.Raw
	profiles map[string]post.Profile
	failAt   map[string]int
	pulled   map[string]int
}

// NewFakeFeed returns an empty feed.
func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		posts:    map[string][]post.Raw{},
		profiles: map[string]post.Profile{},
		failAt:   map[string]int{},
		pulled:   map[string]int{},
	}
}

// AddPosts appends posts to handle's timeline, newest first.
func (f *FakeFeed) AddPosts(handle string, posts ...post.Raw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[handle] = append(f.posts[handle], posts...)
}

// SetProfile sets the profile returned for handle.
func (f *FakeFeed) SetProfile(handle string, p post.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[handle] = p
}

// FailAt makes the sequence for handle yield an error instead of item index i.
func (f *FakeFeed) FailAt(handle string, i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt[handle] = i
}

// Pulled returns how many items were handed out for handle.
func (f *FakeFeed) Pulled(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled[handle]
}

// ResetPulled clears the pull counters.
func (f *FakeFeed) ResetPulled() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = map[string]int{}
}

// Profile implements feed.Source.
func (f *FakeFeed) Profile(_ context.Context, handle string) (post.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[handle]
	if !ok {
		return post.Profile{}, &feed.Error{Handle: handle, Op: "profile", Err: fmt.Errorf("unknown handle")}
	}
	return p, nil
}

// Posts implements feed.Source.
func (f *FakeFeed) Posts(ctx context.Context, handle string, limit int) iter.Seq2[post.Raw, error] {
	return func(yield func(post.Raw, error) bool) {
		f.mu.Lock()
		items := append([]post.Raw(nil), f.posts[handle]...)
		failAt, fails := f.failAt[handle]
		f.mu.Unlock()

		for i, raw := range items {
			if i >= limit {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(post.Raw{}, &feed.Error{Handle: handle, Op: "posts", Err: err})
				return
			}
			if fails && i == failAt {
				yield(post.Raw{}, &feed.Error{Handle: handle, Op: "posts", Err: fmt.Errorf("scrape failed at %d", i)})
				return
			}
			f.mu.Lock()
			f.pulled[handle]++
			f.mu.Unlock()
			if !yield(raw, nil) {
				return
			}
		}
	}
}
