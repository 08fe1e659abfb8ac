package post

import (
	"slices"
	"strings"
	"time"
)

// MediaKind distinguishes photo and video attachments.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Media references an attachment by source URL. Bytes are fetched lazily by
// the media package.
type Media struct {
	ID      string
	URL     string
	AltText string
	Kind    MediaKind
	// Preview is a still frame for videos; empty for photos.
	Preview string
}

// Record is the normalized, read-only form of one source post.
type Record struct {
	ID          string
	Text        string
	RawText     string
	QuotedID    string
	InReplyToID string
	Timestamp   time.Time
	Sensitive   bool

	Username     string
	Name         string
	PermanentURL string

	Likes   int
	Reposts int
	Replies int
	Views   int

	// Place is the display name of the attached location, if any.
	Place string

	urls      []string
	photos    []Media
	videos    []Media
	hashtags  []string
	mentions  []string
	thread    []Ref
	quoted    Ref
	retweeted Ref
}

// Ref summarizes another post: a thread member, the quoted post or the
// retweeted post.
type Ref struct {
	ID           string
	Text         string
	Username     string
	Name         string
	PermanentURL string
}

// URLs returns the expanded URLs embedded in the post.
func (r Record) URLs() []string { return slices.Clone(r.urls) }

// Photos returns the photo attachments in feed order.
func (r Record) Photos() []Media { return slices.Clone(r.photos) }

// Videos returns the video attachments in feed order.
func (r Record) Videos() []Media { return slices.Clone(r.videos) }

// Hashtags returns the hashtags without the leading '#'.
func (r Record) Hashtags() []string { return slices.Clone(r.hashtags) }

// Mentions returns the mentioned usernames without the leading '@'.
func (r Record) Mentions() []string { return slices.Clone(r.mentions) }

// Thread returns the other posts of the same self-thread in feed order.
func (r Record) Thread() []Ref { return slices.Clone(r.thread) }

// Quoted returns the quoted post. Only ID is guaranteed when the feed sent
// no summary.
func (r Record) Quoted() (Ref, bool) { return r.quoted, r.QuotedID != "" }

// Retweeted returns the retweeted post, if any.
func (r Record) Retweeted() (Ref, bool) { return r.retweeted, r.retweeted.ID != "" }

// HasMedia reports whether the post carries at least one attachment.
func (r Record) HasMedia() bool { return len(r.photos) > 0 || len(r.videos) > 0 }

// IsEmpty reports whether the post has no text, no attachments and quotes
// nothing.
func (r Record) IsEmpty() bool {
	return strings.TrimSpace(r.Text) == "" && !r.HasMedia() && !r.IsQuote()
}

// IsReply reports whether the post answers another post.
func (r Record) IsReply() bool { return r.InReplyToID != "" }

// IsQuote reports whether the post quotes another post.
func (r Record) IsQuote() bool { return r.QuotedID != "" }

// Profile is the source account's public profile as seen by the feed.
type Profile struct {
	UserID    string
	Username  string
	Name      string
	Biography string
	// URLs are expanded links used to restore shortened links in Biography.
	URLs      []string
	AvatarURL string
	BannerURL string
}

// FormattedBio returns the biography with short links expanded.
func (p Profile) FormattedBio() string {
	return FormatText(p.Biography, p.URLs)
}
