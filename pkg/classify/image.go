package classify

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	"image/png"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"  // register BMP decoding
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoding
	_ "golang.org/x/image/webp" // register WebP decoding
)

// MaxEdge is the longest edge, in pixels, of an image sent to the engine.
const MaxEdge = 1500

// ErrImageUnreadable indicates an image that could not be decoded or
// re-encoded.
var ErrImageUnreadable = errors.New("image unreadable")

// Encoder normalises images for the engine: decoded, flattened onto an
// opaque background, downscaled to MaxEdge and re-encoded as PNG.
type Encoder struct {
	scratchDir string
}

// NewEncoder creates an Encoder that stages re-encoded copies in scratchDir.
func NewEncoder(scratchDir string) *Encoder {
	return &Encoder{scratchDir: scratchDir}
}

// Encode returns the image at path as a PNG data URL.
func (e *Encoder) Encode(path string) (string, error) {
	src, err := decode(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrImageUnreadable, err)
	}

	if err := os.MkdirAll(e.scratchDir, 0o755); err != nil {
		return "", err
	}
	staged := filepath.Join(e.scratchDir, "image-"+uuid.NewString()+".png")
	defer os.Remove(staged)

	if err := writePNG(staged, normalize(src)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrImageUnreadable, err)
	}
	data, err := os.ReadFile(staged)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// normalize flattens src onto black and scales it so the longest edge is at
// most MaxEdge, preserving the aspect ratio.
func normalize(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	width, height := scaledSize(bounds.Dx(), bounds.Dy(), MaxEdge)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}
	return dst
}

// scaledSize fits width x height within limit x limit.
func scaledSize(width, height, limit int) (int, int) {
	longest := max(width, height)
	if longest <= limit {
		return width, height
	}
	scale := float64(limit) / float64(longest)
	return max(1, int(float64(width)*scale+0.5)), max(1, int(float64(height)*scale+0.5))
}
