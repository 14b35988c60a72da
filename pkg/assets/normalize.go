package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/openzim/ifixit/pkg/utils"
)

// EncoderVersion identifies the normalizer output format. Bump it whenever
// the produced bytes change so cached artifacts are rebuilt.
const EncoderVersion = 1

const (
	svgMimetype  = "image/svg+xml"
	jpegMimetype = "image/jpeg"
)

// Normalizer turns downloaded bytes into what gets stored in the archive.
type Normalizer interface {
	// BitmapMimetype is the mimetype of every non-vector output
	BitmapMimetype() string
	// Normalize converts data; target is the mimetype chosen for the asset
	Normalize(data []byte, target string) (out []byte, mime string, err error)
}

// ImageNormalizer re-encodes bitmaps as JPEG and keeps SVG untouched.
type ImageNormalizer struct {
	Quality int
}

func (n ImageNormalizer) BitmapMimetype() string { return jpegMimetype }

func (n ImageNormalizer) quality() int {
	if n.Quality <= 0 || n.Quality > 100 {
		return 85
	}
	return n.Quality
}

func (n ImageNormalizer) Normalize(data []byte, target string) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", utils.ErrImageDecode)
	}
	detected := mimetype.Detect(data)
	if target == svgMimetype || detected.Is(svgMimetype) {
		return data, svgMimetype, nil
	}
	if !strings.HasPrefix(detected.String(), "image/") {
		return nil, "", fmt.Errorf("%w: not an image (%s)", utils.ErrImageDecode, detected.String())
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decoding %s: %w", utils.ErrImageDecode, detected.String(), err)
	}
	if format == "jpeg" && detected.Is(jpegMimetype) {
		// Already in the target format; re-encoding only loses quality
		return data, jpegMimetype, nil
	}

	out, err := encodeJPEG(flatten(img), n.quality())
	if err != nil {
		return nil, "", err
	}
	return out, jpegMimetype, nil
}

// flatten composes img over a white background, dropping transparency.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: encoding JPEG: %w", utils.ErrImageDecode, err)
	}
	return buf.Bytes(), nil
}

// PlaceholderImage renders the 300x225 picture shown instead of assets that
// could not be retrieved: a light frame with a crossed box.
func PlaceholderImage() []byte {
	const w, h = 300, 225
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	fg := color.RGBA{R: 0xbb, G: 0xbb, B: 0xbb, A: 0xff}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	for x := 0; x < w; x++ {
		y := x * (h - 1) / (w - 1)
		img.Set(x, y, fg)
		img.Set(x, h-1-y, fg)
		img.Set(x, 0, fg)
		img.Set(x, h-1, fg)
	}
	for y := 0; y < h; y++ {
		img.Set(0, y, fg)
		img.Set(w-1, y, fg)
	}
	out, err := encodeJPEG(img, 85)
	if err != nil {
		panic(err) // in-memory encode of a valid RGBA image
	}
	return out
}
