package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/yamada-sexta/touitomamout-next/internal/platform"
)

// FakeAdapter records calls and answers SyncPost with {"id": <post id>}.
//
// A found entry is returned unchanged without counting a network call.
//
// Thread-safety: FakeAdapter is safe for concurrent use via internal mutex.
type FakeAdapter struct {
	Caps platform.Capability

	mu       sync.Mutex
	fail     map[string]error
	skip     map[string]bool
	posted   []string
	cached   []string
	profile  []string
	updates  []platform.ProfileUpdate
	OnSync   func(ctx context.Context, req platform.PostRequest)
	failProf error
}

// NewFakeAdapter returns an adapter declaring caps.
func NewFakeAdapter(caps platform.Capability) *FakeAdapter {
	return &FakeAdapter{Caps: caps, fail: map[string]error{}, skip: map[string]bool{}}
}

// FailPost makes SyncPost fail for postID with err.
func (a *FakeAdapter) FailPost(postID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[postID] = err
}

// SkipPost makes SyncPost return a nil value for postID.
func (a *FakeAdapter) SkipPost(postID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skip[postID] = true
}

// FailProfile makes every profile call fail with err.
func (a *FakeAdapter) FailProfile(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failProf = err
}

// Posted returns the post IDs that reached the network, in call order.
func (a *FakeAdapter) Posted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.posted...)
}

// Cached returns the post IDs answered from a found entry.
func (a *FakeAdapter) Cached() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cached...)
}

// ProfileCalls returns the profile fields pushed, in call order.
func (a *FakeAdapter) ProfileCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.profile...)
}

// LastUpdate returns the most recent profile update.
func (a *FakeAdapter) LastUpdate() (platform.ProfileUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.updates) == 0 {
		return platform.ProfileUpdate{}, false
	}
	return a.updates[len(a.updates)-1], true
}

func (a *FakeAdapter) Capabilities() platform.Capability { return a.Caps }

func (a *FakeAdapter) SyncPost(ctx context.Context, req platform.PostRequest) (json.RawMessage, error) {
	if a.OnSync != nil {
		a.OnSync(ctx, req)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Entry.Found() {
		a.cached = append(a.cached, req.Post.ID)
		return req.Entry.Value, nil
	}
	if err := a.fail[req.Post.ID]; err != nil {
		return nil, err
	}
	if a.skip[req.Post.ID] {
		return nil, nil
	}
	a.posted = append(a.posted, req.Post.ID)
	return platform.Encode(map[string]string{"id": req.Post.ID})
}

func (a *FakeAdapter) recordProfile(field string, u platform.ProfileUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failProf != nil {
		return a.failProf
	}
	a.profile = append(a.profile, field)
	a.updates = append(a.updates, u)
	return nil
}

func (a *FakeAdapter) SyncBio(_ context.Context, u platform.ProfileUpdate) error {
	return a.recordProfile("bio", u)
}

func (a *FakeAdapter) SyncUserName(_ context.Context, u platform.ProfileUpdate) error {
	return a.recordProfile("username", u)
}

func (a *FakeAdapter) SyncProfilePic(_ context.Context, u platform.ProfileUpdate) error {
	return a.recordProfile("profile_pic", u)
}

func (a *FakeAdapter) SyncBanner(_ context.Context, u platform.ProfileUpdate) error {
	return a.recordProfile("banner", u)
}

// FakeSchema is the store schema FakeAdapter values satisfy.
const FakeSchema = `id: string & !=""`

// FakeFactory returns a factory that hands out a.
func FakeFactory(id string, a *FakeAdapter) platform.Factory {
	return platform.Factory{
		ID:          id,
		DisplayName: id,
		Schema:      FakeSchema,
		New: func(context.Context, platform.CreateArgs) (platform.Adapter, error) {
			return a, nil
		},
	}
}

// ErrPermanent is a convenience permanent platform error.
var ErrPermanent = &platform.Error{Code: platform.CodePermanent, Message: "rejected"}

// ErrBoom is an unclassified error.
var ErrBoom = errors.New("boom")
