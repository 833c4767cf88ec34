package resize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"

	"exam-photo-bot/api/internal/preset"
)

// Quality schedule: 95, 90, ... 20. At most 16 encodes per image.
const (
	StartQuality = 95
	MinQuality   = 20
	QualityStep  = 5
)

// DefaultMaxPixels bounds the decoded source area; the header is checked
// before any pixel data is decoded.
const DefaultMaxPixels = 50_000_000

var ErrDecode = errors.New("decode image")

type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

type EncoderFunc func(w io.Writer, img image.Image, quality int) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image, quality int) error {
	return f(w, img, quality)
}

// JPEG is the baseline encoder used in production.
var JPEG Encoder = EncoderFunc(func(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
})

type Result struct {
	Data     []byte
	Quality  int
	Width    int
	Height   int
	Attempts int
}

func (r Result) SizeKB() float64 { return float64(len(r.Data)) / 1024 }

type Engine struct {
	Encoder   Encoder
	Filter    imaging.ResampleFilter
	MaxPixels int64 // 0 means DefaultMaxPixels
}

func New() *Engine {
	return &Engine{Encoder: JPEG, Filter: imaging.CatmullRom, MaxPixels: DefaultMaxPixels}
}

func (e *Engine) maxPixels() int64 {
	if e.MaxPixels > 0 {
		return e.MaxPixels
	}
	return DefaultMaxPixels
}

// Resize decodes src, stretches it to exactly the preset dimensions and
// compresses it under the preset ceiling. When even MinQuality is too large the
// MinQuality encoding is returned anyway.
func (e *Engine) Resize(src io.Reader, p preset.Preset) (Result, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(src, &head))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > e.maxPixels() {
		return Result{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, e.maxPixels())
	}

	img, err := imaging.Decode(io.MultiReader(&head, src))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return e.Compress(e.Fit(img, p), p.MaxKB)
}

// Fit drops alpha and resizes to width x height without keeping aspect ratio.
func (e *Engine) Fit(img image.Image, p preset.Preset) *image.NRGBA {
	return imaging.Resize(opaque(img), p.Width, p.Height, e.Filter)
}

// Compress walks the quality schedule downward and returns the first encoding
// within maxKB, or the MinQuality one.
func (e *Engine) Compress(img image.Image, maxKB float64) (Result, error) {
	b := img.Bounds()
	res := Result{Width: b.Dx(), Height: b.Dy()}

	var buf bytes.Buffer
	for q := StartQuality; ; q -= QualityStep {
		buf.Reset()
		if err := e.Encoder.Encode(&buf, img, q); err != nil {
			return Result{}, fmt.Errorf("encode at quality %d: %w", q, err)
		}
		res.Attempts++
		if float64(buf.Len())/1024 <= maxKB || q <= MinQuality {
			res.Quality = q
			res.Data = append([]byte(nil), buf.Bytes()...)
			return res, nil
		}
	}
}

// opaque copies img into 8-bit NRGBA and forces every pixel fully opaque, so
// the color channels are kept as-is and alpha is discarded.
func opaque(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
