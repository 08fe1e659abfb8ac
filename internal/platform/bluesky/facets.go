package bluesky

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Facet annotates a byte range of post text.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// ByteSlice is a UTF-8 byte range, end exclusive.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is a link or a hashtag.
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

const (
	linkFeature = "app.bsky.richtext.facet#link"
	tagFeature  = "app.bsky.richtext.facet#tag"
	maxTagLen   = 64
)

var (
	linkRe = regexp.MustCompile(`https?://[^\s]+`)
	tagRe  = regexp.MustCompile(`(?:^|\s)(#[^\s#]+)`)
)

// DetectFacets finds links and hashtags in text. Trailing punctuation is
// not part of a link.
func DetectFacets(text string) []Facet {
	var facets []Facet
	for _, m := range linkRe.FindAllStringIndex(text, -1) {
		uri := strings.TrimRight(text[m[0]:m[1]], ".,;:!?)\"'")
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: m[0], ByteEnd: m[0] + len(uri)},
			Features: []FacetFeature{{Type: linkFeature, URI: uri}},
		})
	}
	for _, m := range tagRe.FindAllStringSubmatchIndex(text, -1) {
		tag := strings.TrimRight(text[m[2]:m[3]], ".,;:!?)\"'")
		name := strings.TrimPrefix(tag, "#")
		if name == "" || len([]rune(name)) > maxTagLen {
			continue
		}
		facets = append(facets, Facet{
			Index:    ByteSlice{ByteStart: m[2], ByteEnd: m[2] + len(tag)},
			Features: []FacetFeature{{Type: tagFeature, Tag: name}},
		})
	}
	return facets
}

type cardData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	URL         string `json:"url"`
	Error       string `json:"error"`
}

// linkCard builds an external embed for the first link among facets. Any
// failure yields no card; a thumbnail failure yields a card without one.
func (a *Adapter) linkCard(ctx context.Context, facets []Facet, log *slog.Logger) map[string]any {
	var link string
	for _, f := range facets {
		if f.Features[0].Type == linkFeature {
			link = f.Features[0].URI
			break
		}
	}
	if link == "" {
		return nil
	}

	var card cardData
	target := a.cfg.CardURL + "?url=" + url.QueryEscape(link)
	if err := a.client.JSON(ctx, http.MethodGet, target, nil, nil, &card); err != nil {
		log.Debug("link card unavailable", "url", link, "error", err)
		return nil
	}
	if card.Error != "" || card.URL == "" {
		return nil
	}

	external := map[string]any{
		"uri":         card.URL,
		"title":       card.Title,
		"description": card.Description,
	}
	if card.Image != "" {
		if thumb, err := a.thumbnail(ctx, card.Image); err != nil {
			log.Debug("link card thumbnail dropped", "image", card.Image, "error", err)
		} else {
			external["thumb"] = thumb
		}
	}
	return map[string]any{"$type": "app.bsky.embed.external", "external": external}
}

func (a *Adapter) thumbnail(ctx context.Context, imageURL string) (any, error) {
	blob, err := a.fetch(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	res, err := a.trans.Fit(blob, ImageBudget)
	if err != nil {
		return nil, err
	}
	return a.uploadBlob(ctx, res.Blob)
}
