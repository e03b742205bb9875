// Package imaging prepares report photos: it reads image dimensions without a
// full decode, picks a power-of-two downsample factor for a target size,
// applies EXIF orientation, scales, and persists the result as PNG.
package imaging

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder
	_ "image/jpeg" // JPEG decoder
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "golang.org/x/image/bmp" // BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // TIFF decoder
	_ "golang.org/x/image/webp" // WebP decoder
)

// maxCollisions bounds the suffix search in PersistPNG.
const maxCollisions = 100

// Bounds returns the pixel dimensions of the image at path, reading only its
// header.
func Bounds(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening image: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("reading image header %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// DownsampleFactor returns the largest power of two that keeps both halved
// dimensions at or above the requested size. It is 1 when the image is not
// larger than the request in either dimension.
func DownsampleFactor(width, height, reqWidth, reqHeight int) int {
	if reqWidth <= 0 || reqHeight <= 0 {
		return 1
	}
	factor := 1
	if height > reqHeight || width > reqWidth {
		halfHeight := height / 2
		halfWidth := width / 2
		for halfHeight/factor >= reqHeight && halfWidth/factor >= reqWidth {
			factor *= 2
		}
	}
	return factor
}

// NeedsResize reports whether an image exceeds the requested size in either
// dimension.
func NeedsResize(width, height, reqWidth, reqHeight int) bool {
	return width > reqWidth || height > reqHeight
}

// DecodeAtScale decodes the image at path, rotates it upright according to
// its EXIF orientation, and scales it down by factor.
func DecodeAtScale(path string, factor int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer func() { _ = f.Close() }()

	orientation := readOrientation(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding image: %w", err)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}
	img = applyOrientation(img, orientation)
	return scale(img, factor), nil
}

// scale shrinks img by 1/factor using approximate bilinear interpolation.
func scale(img image.Image, factor int) image.Image {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	w := max(b.Dx()/factor, 1)
	h := max(b.Dy()/factor, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// PersistPNG writes img into dir as report_image_<unix millis>.png and returns
// the absolute path. A numeric suffix is added if the name is taken.
func PersistPNG(dir string, img image.Image, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving image directory: %w", err)
	}

	base := fmt.Sprintf("report_image_%d", now.UnixMilli())
	for i := range maxCollisions {
		name := base + ".png"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.png", base, i)
		}
		path := filepath.Join(abs, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		if err := png.Encode(f, img); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("encoding %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("closing %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", base, abs)
}

// Prepare runs the photo pipeline used when a report is created: read the
// dimensions, downsample if larger than the request, orient, and persist as
// PNG in dir. It returns the path of the new file.
func Prepare(src, dir string, reqWidth, reqHeight int, now time.Time) (string, error) {
	w, h, err := Bounds(src)
	if err != nil {
		return "", err
	}
	factor := 1
	if NeedsResize(w, h, reqWidth, reqHeight) {
		factor = DownsampleFactor(w, h, reqWidth, reqHeight)
	}
	img, err := DecodeAtScale(src, factor)
	if err != nil {
		return "", err
	}
	return PersistPNG(dir, img, now)
}
