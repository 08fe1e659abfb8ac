// Package webhook posts to a Discord-compatible webhook as rich embeds.
//
// Media is linked by its source URL rather than uploaded, so the adapter
// never downloads or transcodes anything.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// ID is the platform id used in the store.
const ID = "webhook-discord"

const (
	colorPost  = 0x1DA1F2
	colorQuote = 0x8899A6
)

// storeValue is what the store keeps per post.
type storeValue struct {
	ID string `json:"id"`
}

// Factory returns the webhook platform factory.
func Factory() platform.Factory {
	return platform.Factory{
		ID:          ID,
		DisplayName: "Webhook (Discord)",
		Emoji:       "🔗",
		EnvKeys:     []string{"DISCORD_WEBHOOK_URL"},
		Schema:      `id: string & !=""`,
		New: func(_ context.Context, args platform.CreateArgs) (platform.Adapter, error) {
			return New(args.Env["DISCORD_WEBHOOK_URL"], args.HTTP)
		},
	}
}

// Adapter sends posts to one webhook URL.
type Adapter struct {
	url    string
	client *platform.Client
}

// New validates webhookURL and returns an Adapter. hc may be nil.
func New(webhookURL string, hc *http.Client) (*Adapter, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, platform.NewError(platform.CodeConfiguration, ID, "invalid webhook url", err)
	}
	c := platform.NewClient(ID, hc)
	c.Hint = retryAfter
	return &Adapter{url: u.String(), client: c}, nil
}

func (a *Adapter) Capabilities() platform.Capability { return platform.CapPost }

// SyncPost sends rec as a single webhook message.
func (a *Adapter) SyncPost(ctx context.Context, req platform.PostRequest) (json.RawMessage, error) {
	if req.Entry.Found() {
		return req.Entry.Value, nil
	}
	if req.Post.IsEmpty() {
		return nil, nil
	}
	if err := a.client.JSON(ctx, http.MethodPost, a.url, nil, Format(req.Post), nil); err != nil {
		return nil, err
	}
	return platform.Encode(storeValue{ID: req.Post.ID})
}

// Message is the webhook request body.
type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds"`
}

// Embed is one Discord rich embed.
type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	Color       int     `json:"color,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"`
	Author      *Author `json:"author,omitempty"`
	Image       *Image  `json:"image,omitempty"`
	Thumbnail   *Image  `json:"thumbnail,omitempty"`
	Footer      *Footer `json:"footer,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

// Author is the embed header line.
type Author struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Image is an embed image or thumbnail.
type Image struct {
	URL string `json:"url"`
}

// Footer is the embed footer line.
type Footer struct {
	Text string `json:"text"`
}

// Field is a named embed field.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const (
	threadPreviewItems = 2
	threadPreviewRunes = 100
)

// Format renders rec as a webhook message: one main embed carrying the text
// and first photo, one embed per further photo and per video, a quote embed
// when rec quotes another post, and a leading marker for retweets.
func Format(rec post.Record) Message {
	text := rec.Text
	if rec.Sensitive {
		text = "⚠️ **Sensitive Content**\n\n" + text
	}

	link := rec.PermanentURL
	if link == "" {
		link = statusURL(rec.Username, rec.ID)
	}

	main := Embed{
		Color:       colorPost,
		Description: text,
		URL:         link,
		Author: &Author{
			Name: fmt.Sprintf("%s (@%s)", rec.Name, rec.Username),
			URL:  "https://x.com/" + rec.Username,
		},
		Footer: &Footer{
			Text: fmt.Sprintf("❤️ %d   🔁 %d   💬 %d   👀 %d", rec.Likes, rec.Reposts, rec.Replies, rec.Views),
		},
	}
	if !rec.Timestamp.IsZero() {
		main.Timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
	}

	if thread := rec.Thread(); len(thread) > 0 {
		main.Fields = append(main.Fields, Field{Name: "Thread", Value: threadPreview(thread)})
	}
	if tags := tagLines(rec); tags != "" {
		main.Fields = append(main.Fields, Field{Name: "Tags", Value: tags})
	}
	if rec.IsReply() {
		main.Fields = append(main.Fields, Field{
			Name:  "Reply",
			Value: "↳ " + statusURL("i", rec.InReplyToID),
		})
	}
	if rec.Place != "" {
		main.Fields = append(main.Fields, Field{Name: "📍 Location", Value: rec.Place})
	}

	photos := rec.Photos()
	if len(photos) > 0 {
		main.Image = &Image{URL: photos[0].URL}
	}

	var msg Message
	if rt, ok := rec.Retweeted(); ok {
		msg.Embeds = append(msg.Embeds, Embed{
			Color:       colorQuote,
			Description: fmt.Sprintf("🔁 Retweeted [@%s](%s)", rt.Username, statusURL(rt.Username, rt.ID)),
		})
	}
	msg.Embeds = append(msg.Embeds, main)
	for _, p := range photos[min(1, len(photos)):] {
		msg.Embeds = append(msg.Embeds, Embed{Color: colorPost, Image: &Image{URL: p.URL}})
	}
	for _, v := range rec.Videos() {
		e := Embed{
			Color:       colorPost,
			URL:         v.URL,
			Description: fmt.Sprintf("🎥 [Watch Video](%s)", v.URL),
		}
		if v.Preview != "" {
			e.Thumbnail = &Image{URL: v.Preview}
		}
		msg.Embeds = append(msg.Embeds, e)
	}
	if q, ok := rec.Quoted(); ok {
		msg.Embeds = append(msg.Embeds, quoteEmbed(q))
	}
	return msg
}

// quoteEmbed shows the quoted post's author and text when the feed sent
// them, and a bare link otherwise.
func quoteEmbed(q post.Ref) Embed {
	e := Embed{Color: colorQuote, URL: q.PermanentURL}
	if e.URL == "" {
		e.URL = statusURL(q.Username, q.ID)
	}
	if q.Username == "" {
		e.Description = "Quoting"
		return e
	}
	e.Author = &Author{
		Name: fmt.Sprintf("%s (@%s)", q.Name, q.Username),
		URL:  "https://x.com/" + q.Username,
	}
	e.Description = q.Text
	return e
}

func threadPreview(thread []post.Ref) string {
	lines := make([]string, 0, threadPreviewItems+1)
	for _, t := range thread[:min(threadPreviewItems, len(thread))] {
		r := []rune(t.Text)
		line := "↳ " + string(r[:min(threadPreviewRunes, len(r))])
		if len(r) > threadPreviewRunes {
			line += "…"
		}
		lines = append(lines, line)
	}
	if len(thread) > threadPreviewItems {
		lines = append(lines, "…more")
	}
	return strings.Join(lines, "\n")
}

func tagLines(rec post.Record) string {
	var lines []string
	if tags := rec.Hashtags(); len(tags) > 0 {
		for i, t := range tags {
			tags[i] = "#" + t
		}
		lines = append(lines, "🏷 "+strings.Join(tags, " "))
	}
	if mentions := rec.Mentions(); len(mentions) > 0 {
		for i, m := range mentions {
			mentions[i] = "@" + m
		}
		lines = append(lines, "👤 "+strings.Join(mentions, " "))
	}
	return strings.Join(lines, "\n")
}

// statusURL links a post; user "i" works for any author.
func statusURL(user, id string) string {
	if user == "" {
		user = "i"
	}
	return fmt.Sprintf("https://x.com/%s/status/%s", user, id)
}

// retryAfter reads Discord's retry_after (seconds) from a 429 body.
func retryAfter(_ http.Header, body []byte) time.Duration {
	var v struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &v) != nil || v.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(v.RetryAfter * float64(time.Second))
}
