package platform

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// Adapter is a constructed destination for one account.
type Adapter interface {
	Capabilities() Capability
}

// ProfileUpdate carries the profile fields to push. Picture and Banner are
// only populated when the profile cache reported a change.
type ProfileUpdate struct {
	Profile post.Profile
	// Bio is the biography with short links expanded.
	Bio     string
	Picture media.Blob
	Banner  media.Blob
}

// BioSyncer pushes the biography.
type BioSyncer interface {
	SyncBio(ctx context.Context, update ProfileUpdate) error
}

// UserNameSyncer pushes the display name.
type UserNameSyncer interface {
	SyncUserName(ctx context.Context, update ProfileUpdate) error
}

// ProfilePicSyncer pushes a changed avatar.
type ProfilePicSyncer interface {
	SyncProfilePic(ctx context.Context, update ProfileUpdate) error
}

// BannerSyncer pushes a changed banner.
type BannerSyncer interface {
	SyncBanner(ctx context.Context, update ProfileUpdate) error
}

// PostSyncer publishes posts. A nil value with a nil error means the post was
// deliberately skipped and nothing is recorded.
type PostSyncer interface {
	SyncPost(ctx context.Context, req PostRequest) (json.RawMessage, error)
}

// Entry is the validated store value for one (post, platform) pair.
type Entry struct {
	Value json.RawMessage
}

// Found reports whether a usable store value exists.
func (e Entry) Found() bool { return len(e.Value) > 0 }

// Decode unmarshals a found entry into T. ok is false for a missing or
// undecodable entry.
func Decode[T any](e Entry) (v T, ok bool) {
	if !e.Found() {
		return v, false
	}
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, false
	}
	return v, true
}

// Encode marshals a store value.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// RefResolver looks up this platform's store value for another post, used for
// reply and quote references.
type RefResolver interface {
	Resolve(ctx context.Context, postID string) (Entry, error)
}

// RefFunc adapts a function to RefResolver.
type RefFunc func(ctx context.Context, postID string) (Entry, error)

func (f RefFunc) Resolve(ctx context.Context, postID string) (Entry, error) { return f(ctx, postID) }

// NoRefs resolves every reference as missing.
var NoRefs RefResolver = RefFunc(func(context.Context, string) (Entry, error) { return Entry{}, nil })

// PostRequest is the input to SyncPost.
type PostRequest struct {
	Post  post.Record
	Entry Entry
	Media *media.Set
	Refs  RefResolver
	Log   *slog.Logger
}

// SessionStore persists adapter sessions between runs.
type SessionStore interface {
	LoadSession(ctx context.Context, key string) ([]byte, bool, error)
	SaveSession(ctx context.Context, key string, blob []byte) error
}

// CreateArgs is passed to Factory.New.
type CreateArgs struct {
	// Env holds the resolved values of Factory.EnvKeys, keyed by the
	// unsuffixed key name.
	Env map[string]string
	// Slot is the account index the credentials were resolved for.
	Slot     int
	Handle   string
	Log      *slog.Logger
	HTTP     *http.Client
	Sessions SessionStore
}

// Factory describes a destination platform and builds adapters for it.
type Factory struct {
	ID          string
	DisplayName string
	Emoji       string
	// EnvKeys are required unless Fallback has a default for them.
	EnvKeys  []string
	Fallback map[string]string
	// Optional keys are passed through when set and never required.
	Optional []string
	// Schema is CUE source every store value of this platform must satisfy.
	Schema string
	New    func(ctx context.Context, args CreateArgs) (Adapter, error)
}
