// Package httpclient builds the HTTP client shared by the feed reader, media
// downloads and platform adapters.
package httpclient

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Timeout bounds every request made with a client from New.
const Timeout = 30 * time.Second

// New returns a client with Timeout and a traced transport.
func New() *http.Client {
	return &http.Client{
		Timeout:   Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
