package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yamada-sexta/touitomamout-next/internal/httpclient"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
)

// RetryHint extracts a platform-specific retry delay from an error response.
type RetryHint func(header http.Header, body []byte) time.Duration

// Client performs classified, retried HTTP calls for one platform.
type Client struct {
	Platform string
	HTTP     *http.Client
	Policy   Policy
	Hint     RetryHint
}

// NewClient returns a Client for platform using hc, or httpclient.New when hc
// is nil.
func NewClient(platform string, hc *http.Client) *Client {
	if hc == nil {
		hc = httpclient.New()
	}
	return &Client{Platform: platform, HTTP: hc, Policy: DefaultPolicy}
}

// Do sends the request built by build, retrying transient failures. build is
// called once per attempt so request bodies can be recreated. A 2xx response
// body is decoded into out when out is non-nil.
func (c *Client) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) error {
	return Retry(ctx, c.Policy, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return NewError(CodePermanent, c.Platform, "build request", err)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return NewError(CodePermanent, c.Platform, "request cancelled", err)
			}
			return NewError(CodeTransient, c.Platform, "request failed", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			return c.classify(resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return NewError(CodePermanent, c.Platform, "decode response", err)
		}
		return nil
	})
}

// JSON is a convenience for Do with a JSON request body.
func (c *Client) JSON(ctx context.Context, method, url string, header http.Header, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return NewError(CodePermanent, c.Platform, "encode request", err)
		}
	}
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

func (c *Client) classify(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &Error{
		Platform: c.Platform,
		Status:   resp.StatusCode,
		Message:  fmt.Sprintf("%s %s returned %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(body))),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		e.Code = CodeTransient
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Code = CodeAuthentication
	default:
		e.Code = CodePermanent
	}

	e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	if c.Hint != nil {
		if d := c.Hint(resp.Header, body); d > 0 {
			e.RetryAfter = d
			e.Code = CodeTransient
		}
	}
	return e
}

// parseRetryAfter reads a Retry-After header in delta-seconds form.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Upload sends a multipart/form-data request carrying blob under fileField
// plus the given text fields.
func (c *Client) Upload(ctx context.Context, method, url string, header http.Header, fields map[string]string, fileField string, blob media.Blob, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return NewError(CodePermanent, c.Platform, "encode upload", err)
		}
	}

	name := blob.Name
	if name == "" {
		name = "upload"
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, name)},
		"Content-Type":        {blob.MIME},
	})
	if err != nil {
		return NewError(CodePermanent, c.Platform, "encode upload", err)
	}
	if _, err := part.Write(blob.Data); err != nil {
		return NewError(CodePermanent, c.Platform, "encode upload", err)
	}
	if err := w.Close(); err != nil {
		return NewError(CodePermanent, c.Platform, "encode upload", err)
	}

	payload, contentType := buf.Bytes(), w.FormDataContentType()
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}

// Raw posts body verbatim with the given content type.
func (c *Client) Raw(ctx context.Context, url string, header http.Header, contentType string, body []byte, out any) error {
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, out)
}
