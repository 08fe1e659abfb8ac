package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
)

// MaxDownloadBytes caps a single attachment download.
const MaxDownloadBytes = 512 << 20

// Fetcher retrieves the bytes behind a media URL.
type Fetcher func(ctx context.Context, rawURL string) (Blob, error)

// HTTPFetcher returns a Fetcher backed by client. A nil client uses
// http.DefaultClient.
func HTTPFetcher(client *http.Client) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, rawURL string) (Blob, error) {
		return Download(ctx, client, rawURL)
	}
}

// Download fetches rawURL. The returned blob's MIME comes from the
// Content-Type header, falling back to content sniffing.
func Download(ctx context.Context, client *http.Client, rawURL string) (Blob, error) {
	if rawURL == "" {
		return Blob{}, fmt.Errorf("download: empty url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Blob{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Blob{}, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return Blob{}, fmt.Errorf("download %s: read body: %w", rawURL, err)
	}
	if len(data) > MaxDownloadBytes {
		return Blob{}, fmt.Errorf("download %s: exceeds %d bytes", rawURL, MaxDownloadBytes)
	}

	blob := Blob{
		Data: data,
		MIME: resp.Header.Get("Content-Type"),
		Name: fileName(resp.Header.Get("Content-Disposition"), rawURL),
	}
	return blob.Sniff(), nil
}

func fileName(disposition, rawURL string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "downloaded-file"
}
