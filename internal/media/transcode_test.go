package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noiseImage returns an image that compresses poorly.
func noiseImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewPCG(7, 11))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 0xff
			continue
		}
		img.Pix[i] = uint8(rng.IntN(256))
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFit_VideoPassthrough(t *testing.T) {
	data := []byte("\x00\x00\x00\x18ftypmp42 not really a video")
	res, err := DefaultTranscoder().Fit(Blob{Data: data, MIME: "video/mp4"}, 4)
	require.NoError(t, err)

	assert.Equal(t, NotApplicable, res.Outcome)
	assert.Equal(t, data, res.Blob.Data)
	assert.Equal(t, "video/mp4", res.Blob.MIME)
}

func TestFit_WithinBudgetUnchanged(t *testing.T) {
	data := encodePNG(t, image.NewGray(image.Rect(0, 0, 8, 8)))
	res, err := DefaultTranscoder().Fit(Blob{Data: data}, 1<<20)
	require.NoError(t, err)

	assert.Equal(t, Unchanged, res.Outcome)
	assert.Equal(t, data, res.Blob.Data)
	assert.Equal(t, "image/png", res.Blob.MIME, "type is sniffed when missing")
}

func TestFit_Unsupported(t *testing.T) {
	_, err := DefaultTranscoder().Fit(Blob{Data: []byte("just some text"), MIME: ""}, 1)
	require.Error(t, err)
	assert.True(t, IsUnsupportedMediaType(err))

	_, err = DefaultTranscoder().Fit(Blob{Data: []byte("%PDF-1.4"), MIME: "application/pdf"}, 1<<20)
	require.Error(t, err)
	assert.True(t, IsUnsupportedMediaType(err))
}

func TestFit_LargeJPEGFitsBudget(t *testing.T) {
	const budget = 1 << 20
	data := encodeJPEG(t, noiseImage(1400, 1400), 100)
	require.Greater(t, len(data), budget, "fixture must start over budget")

	res, err := DefaultTranscoder().Fit(Blob{Data: data, MIME: "image/jpeg", Name: "photo.jpeg"}, budget)
	require.NoError(t, err)

	assert.Equal(t, Compressed, res.Outcome)
	assert.LessOrEqual(t, res.Blob.Size(), budget)
	assert.Equal(t, "image/jpeg", res.Blob.MIME)
	assert.Equal(t, "photo.jpg", res.Blob.Name)

	_, err = jpeg.Decode(bytes.NewReader(res.Blob.Data))
	assert.NoError(t, err, "output must be a decodable image")
}

func TestFit_PNGBecomesJPEG(t *testing.T) {
	data := encodePNG(t, noiseImage(300, 300))
	budget := len(data) / 4

	res, err := DefaultTranscoder().Fit(Blob{Data: data, MIME: "image/png"}, budget)
	require.NoError(t, err)
	assert.True(t, res.Fits(budget))
	assert.Equal(t, "image/jpeg", res.Blob.MIME)
}

func TestFit_IterationCapReturnsBestAttempt(t *testing.T) {
	img := noiseImage(200, 200)
	data := encodePNG(t, img)

	tr := DefaultTranscoder()
	tr.MaxIterations = 5

	res, err := tr.Fit(Blob{Data: data, MIME: "image/png"}, 10)
	require.NoError(t, err, "exhausting the cap is not an error")

	assert.Equal(t, BestEffort, res.Outcome)
	assert.Equal(t, 5, res.Iterations)
	assert.Greater(t, res.Blob.Size(), 10)

	// The best attempt is at least as small as the first (quality 100) one.
	first := encodeJPEG(t, flatten(img), 100)
	assert.LessOrEqual(t, res.Blob.Size(), len(first))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "best_effort", BestEffort.String())
	assert.Equal(t, "Outcome(42)", Outcome(42).String())
}
