package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"math"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// Outcome describes what Fit did to a blob.
type Outcome int

const (
	// Unchanged means the input already fit the budget.
	Unchanged Outcome = iota
	// NotApplicable means the input is a video and was passed through.
	NotApplicable
	// Compressed means a re-encoded image fits the budget.
	Compressed
	// BestEffort means the iteration cap was hit; the smallest attempt is returned.
	BestEffort
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case NotApplicable:
		return "not_applicable"
	case Compressed:
		return "compressed"
	case BestEffort:
		return "best_effort"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the output of Fit.
type Result struct {
	Blob       Blob
	Outcome    Outcome
	Iterations int
}

// Fits reports whether the result is within budget.
func (r Result) Fits(budget int) bool { return r.Blob.Size() <= budget }

var supportedImages = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Transcoder shrinks images to a byte budget.
type Transcoder struct {
	InitialQuality int
	// QualityFloor is the lowest quality tried before the image is resized.
	QualityFloor  int
	QualityStep   int
	ResizeRatio   float64
	MaxIterations int
}

// DefaultTranscoder returns the standard quality ladder: 100 down to 65 in
// steps of 5, then resize by 0.95 and start over.
func DefaultTranscoder() *Transcoder {
	return &Transcoder{
		InitialQuality: 100,
		QualityFloor:   65,
		QualityStep:    5,
		ResizeRatio:    0.95,
		MaxIterations:  100,
	}
}

// Fit returns blob or a re-encoded version of it no larger than budget.
func (t *Transcoder) Fit(blob Blob, budget int) (Result, error) {
	blob = blob.Sniff()

	if blob.IsVideo() {
		return Result{Blob: blob, Outcome: NotApplicable}, nil
	}
	if !supportedImages[blob.MIME] {
		return Result{}, &UnsupportedMediaTypeError{MIME: blob.MIME}
	}
	if blob.Size() <= budget {
		return Result{Blob: blob, Outcome: Unchanged}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(blob.Data))
	if err != nil {
		return Result{}, fmt.Errorf("decode %s: %w", blob.MIME, err)
	}
	src = flatten(src)

	bounds := src.Bounds()
	width, height := float64(bounds.Dx()), float64(bounds.Dy())
	quality := t.InitialQuality

	var (
		best     []byte
		buf      bytes.Buffer
		scaled   = src
		lastW    = bounds.Dx()
		lastH    = bounds.Dy()
		attempts int
	)
	for attempts < t.MaxIterations {
		attempts++

		w := max(1, int(math.Ceil(width)))
		h := max(1, int(math.Ceil(height)))
		if w != lastW || h != lastH {
			scaled = resize(src, w, h)
			lastW, lastH = w, h
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
			return Result{}, fmt.Errorf("encode jpeg: %w", err)
		}
		if best == nil || buf.Len() < len(best) {
			best = bytes.Clone(buf.Bytes())
		}
		if buf.Len() <= budget {
			return Result{Blob: jpegBlob(blob, best), Outcome: Compressed, Iterations: attempts}, nil
		}

		if quality <= t.QualityFloor {
			quality = t.InitialQuality
			width *= t.ResizeRatio
			height *= t.ResizeRatio
		} else {
			quality -= t.QualityStep
		}
	}

	return Result{Blob: jpegBlob(blob, best), Outcome: BestEffort, Iterations: attempts}, nil
}

func jpegBlob(orig Blob, data []byte) Blob {
	name := orig.Name
	if name != "" {
		if i := strings.LastIndexByte(name, '.'); i > 0 {
			name = name[:i]
		}
		name += ".jpg"
	}
	return Blob{Data: data, MIME: "image/jpeg", Name: name}
}

// flatten composites src over white so transparent areas stay light after
// JPEG encoding drops the alpha channel.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func resize(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
