package post

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var shortLink = regexp.MustCompile(`https://t\.co/\w+`)

// InvalidError reports a feed item that cannot become a Record.
type InvalidError struct {
	ID     string
	Reason string
}

func (e *InvalidError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid post: %s", e.Reason)
	}
	return fmt.Sprintf("invalid post %s: %s", e.ID, e.Reason)
}

// IsInvalid reports whether err is an InvalidError.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}

// Normalize builds a Record from a raw feed item. Attachments without a
// source URL are dropped; an item without an ID is rejected.
func Normalize(raw Raw) (Record, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return Record{}, &InvalidError{Reason: "missing id"}
	}
	if raw.Timestamp < 0 {
		return Record{}, &InvalidError{ID: id, Reason: "negative timestamp"}
	}

	rec := Record{
		ID:           id,
		Text:         FormatText(raw.Text, raw.URLs),
		RawText:      raw.Text,
		QuotedID:     raw.QuotedStatusID,
		InReplyToID:  raw.InReplyToStatusID,
		Timestamp:    time.Unix(raw.Timestamp, 0).UTC(),
		Sensitive:    raw.SensitiveContent,
		Username:     raw.Username,
		Name:         raw.Name,
		PermanentURL: raw.PermanentURL,
		Likes:        raw.Likes,
		Reposts:      raw.Retweets,
		Replies:      raw.Replies,
		Views:        raw.Views,
		urls:         slices.Clone(raw.URLs),
		hashtags:     slices.Clone(raw.Hashtags),
	}

	for _, m := range raw.Mentions {
		if m = strings.TrimPrefix(strings.TrimSpace(m), "@"); m != "" {
			rec.mentions = append(rec.mentions, m)
		}
	}
	if raw.QuotedStatus != nil {
		rec.quoted = ref(*raw.QuotedStatus)
	}
	if rec.QuotedID == "" && rec.quoted.ID != "" {
		rec.QuotedID = rec.quoted.ID
	}
	rec.quoted.ID = rec.QuotedID
	if raw.RetweetedStatus != nil && raw.RetweetedStatus.ID != "" {
		rec.retweeted = ref(*raw.RetweetedStatus)
	}
	if raw.Place != nil {
		rec.Place = raw.Place.FullName
		if rec.Place == "" {
			rec.Place = raw.Place.Name
		}
	}

	for _, p := range raw.Photos {
		if p.URL == "" {
			continue
		}
		rec.photos = append(rec.photos, Media{ID: p.ID, URL: p.URL, AltText: p.AltText, Kind: MediaPhoto})
	}
	for _, v := range raw.Videos {
		if v.URL == "" {
			continue
		}
		rec.videos = append(rec.videos, Media{ID: v.ID, URL: v.URL, Preview: v.Preview, Kind: MediaVideo})
	}
	for _, t := range raw.Thread {
		if t.ID != "" && t.ID != id {
			rec.thread = append(rec.thread, ref(t))
		}
	}
	return rec, nil
}

func ref(r RawRef) Ref {
	return Ref{
		ID:           r.ID,
		Text:         html.UnescapeString(r.Text),
		Username:     r.Username,
		Name:         r.Name,
		PermanentURL: r.PermanentURL,
	}
}

// NormalizeProfile builds a Profile from the bridge payload. The avatar URL
// is rewritten to the full-size image.
func NormalizeProfile(raw RawProfile) Profile {
	return Profile{
		UserID:    raw.UserID,
		Username:  raw.Username,
		Name:      raw.Name,
		Biography: raw.Biography,
		URLs:      slices.Clone(raw.URLs),
		AvatarURL: strings.Replace(raw.Avatar, "_normal", "", 1),
		BannerURL: raw.Banner,
	}
}

// FormatText expands short links and decodes entities in feed text.
func FormatText(text string, urls []string) string {
	var unmatched []string
	for _, u := range urls {
		loc := shortLink.FindStringIndex(text)
		if loc == nil {
			unmatched = append(unmatched, u)
			continue
		}
		text = text[:loc[0]] + u + text[loc[1]:]
	}

	text = shortLink.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.TrimSpace(text)

	if len(unmatched) > 0 {
		if text != "" {
			text += "\n\n"
		}
		text += strings.Join(unmatched, "\n")
	}
	return norm.NFC.String(strings.TrimSpace(text))
}

// Excerpt returns a short single-line preview for log lines.
func Excerpt(text string) string {
	flat := strings.ReplaceAll(text, "\n", "")
	r := []rune(flat)
	if len(r) > 25 {
		r = r[:25]
	}
	return "« " + string(r) + "... »"
}
