package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

// DefaultImageName is the file name of the placeholder photo.
const DefaultImageName = "no_image_available.png"

const placeholderSize = 256

var (
	placeholderBackground = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	placeholderMark       = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
)

// DefaultImage returns the path of the placeholder photo in dir, writing it
// first if it does not exist yet.
func DefaultImage(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving image directory: %w", err)
	}
	path := filepath.Join(abs, DefaultImageName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", path, err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("creating image directory: %w", err)
	}
	tmp, err := os.CreateTemp(abs, DefaultImageName+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating placeholder: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := png.Encode(tmp, placeholder()); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("encoding placeholder: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing placeholder: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("moving placeholder into place: %w", err)
	}
	return path, nil
}

// placeholder draws a grey square crossed by two diagonals.
func placeholder() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	for y := 0; y < placeholderSize; y++ {
		for x := 0; x < placeholderSize; x++ {
			c := placeholderBackground
			if x == y || x == placeholderSize-1-y {
				c = placeholderMark
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
