package media

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Blob is an in-memory media payload.
type Blob struct {
	Data []byte
	MIME string
	// Name is a file name suitable for multipart uploads.
	Name string
}

// Size returns the payload length in bytes.
func (b Blob) Size() int { return len(b.Data) }

// IsVideo reports whether the blob carries a video type.
func (b Blob) IsVideo() bool { return strings.HasPrefix(b.MIME, "video/") }

// IsImage reports whether the blob carries an image type.
func (b Blob) IsImage() bool { return strings.HasPrefix(b.MIME, "image/") }

// Sniff fills in MIME from the content when it is missing or generic.
func (b Blob) Sniff() Blob {
	mt := strings.TrimSpace(strings.ToLower(b.MIME))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		mt = mimetype.Detect(b.Data).String()
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
	}
	b.MIME = mt
	return b
}

// Hash returns the hex-encoded SHA-256 of data. Empty input hashes to "".
func Hash(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UnsupportedMediaTypeError reports a payload the transcoder cannot handle.
type UnsupportedMediaTypeError struct {
	MIME string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("unsupported media type %q", e.MIME)
}

// IsUnsupportedMediaType reports whether err is an UnsupportedMediaTypeError.
func IsUnsupportedMediaType(err error) bool {
	var ue *UnsupportedMediaTypeError
	return errors.As(err, &ue)
}
