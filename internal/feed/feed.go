// Package feed reads source posts and profiles.
//
// Posts are delivered newest first as a lazy sequence: pages are requested
// only as the consumer ranges further, so stopping early (for example after
// the consecutive-cached cutoff) never fetches more than needed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// Source is a feed of posts and profile data for source handles.
type Source interface {
	Profile(ctx context.Context, handle string) (post.Profile, error)
	// Posts yields up to limit items, newest first. A non-nil error ends the
	// sequence.
	Posts(ctx context.Context, handle string, limit int) iter.Seq2[post.Raw, error]
}

// Error reports a feed failure. It aborts the current account's post pass.
type Error struct {
	Handle string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("feed %s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFeedError reports whether err is a feed Error.
func IsFeedError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}
