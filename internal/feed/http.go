package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yamada-sexta/touitomamout-next/internal/httpclient"
	"github.com/yamada-sexta/touitomamout-next/internal/post"
)

// DefaultPageSize is the number of posts requested per page.
const DefaultPageSize = 50

// HTTPSource reads a JSON feed bridge:
//
//	GET {base}/users/{handle}/profile            -> post.RawProfile
//	GET {base}/users/{handle}/posts?limit&cursor -> {"posts": [...], "next_cursor": "..."}
type HTTPSource struct {
	baseURL  string
	token    string
	client   *http.Client
	pageSize int
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) HTTPOption {
	return func(s *HTTPSource) { s.token = token }
}

// WithPageSize sets the per-request page size.
func WithPageSize(n int) HTTPOption {
	return func(s *HTTPSource) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewHTTPSource returns a Source reading from baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: DefaultPageSize,
		client:   httpclient.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type postsPage struct {
	Posts      []post.Raw `json:"posts"`
	NextCursor string     `json:"next_cursor"`
}

// Profile fetches the profile of handle.
func (s *HTTPSource) Profile(ctx context.Context, handle string) (post.Profile, error) {
	var raw post.RawProfile
	if err := s.get(ctx, "/users/"+url.PathEscape(handle)+"/profile", nil, &raw); err != nil {
		return post.Profile{}, &Error{Handle: handle, Op: "profile", Err: err}
	}
	return post.NormalizeProfile(raw), nil
}

// Posts pages through the handle's timeline.
func (s *HTTPSource) Posts(ctx context.Context, handle string, limit int) iter.Seq2[post.Raw, error] {
	return func(yield func(post.Raw, error) bool) {
		cursor := ""
		remaining := limit
		for remaining > 0 {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(min(remaining, s.pageSize)))
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			var page postsPage
			if err := s.get(ctx, "/users/"+url.PathEscape(handle)+"/posts", q, &page); err != nil {
				yield(post.Raw{}, &Error{Handle: handle, Op: "posts", Err: err})
				return
			}

			for _, p := range page.Posts {
				if remaining == 0 {
					return
				}
				remaining--
				if !yield(p, nil) {
					return
				}
			}
			if page.NextCursor == "" || len(page.Posts) == 0 {
				return
			}
			cursor = page.NextCursor
		}
	}
}

func (s *HTTPSource) get(ctx context.Context, path string, q url.Values, out any) error {
	u := s.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
