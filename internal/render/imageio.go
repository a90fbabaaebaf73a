package render

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

const jpegQuality = 95

// Open decodes an image file in any registered format.
func Open(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	return image.Decode(f)
}

// Save encodes img with the encoder matching the file extension.
func Save(path string, img image.Image) error {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// CheckFormat reports whether Save can encode to path.
func CheckFormat(path string) error {
	_, err := encoderFor(path)
	return err
}

type encodeFunc func(f *os.File, img image.Image) error

func encoderFor(path string) (encodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return func(f *os.File, img image.Image) error { return png.Encode(f, img) }, nil
	case ".jpg", ".jpeg":
		return func(f *os.File, img image.Image) error {
			return jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
		}, nil
	case ".gif":
		return func(f *os.File, img image.Image) error { return gif.Encode(f, img, nil) }, nil
	case ".bmp":
		return func(f *os.File, img image.Image) error { return bmp.Encode(f, img) }, nil
	case ".tif", ".tiff":
		return func(f *os.File, img image.Image) error { return tiff.Encode(f, img, nil) }, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}
