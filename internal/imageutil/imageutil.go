package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

// Format identifies the encoding of raw image bytes.
type Format string

const (
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatWebP    Format = "webp"
	FormatUnknown Format = ""
)

// ErrUnsupportedFormat is returned when bytes carry no recognized image
// signature.
var ErrUnsupportedFormat = errors.New("imageutil: unsupported image format")

// DetectFormat inspects magic bytes and reports the image encoding.
func DetectFormat(data []byte) Format {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("\xff\xd8\xff")):
		return FormatJPEG
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWebP
	default:
		return FormatUnknown
	}
}

// Decode parses image bytes in any supported format.
func Decode(data []byte) (image.Image, Format, error) {
	format := DetectFormat(data)
	switch format {
	case FormatPNG:
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, format, fmt.Errorf("imageutil: decode png: %w", err)
		}
		return img, format, nil
	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, format, fmt.Errorf("imageutil: decode jpeg: %w", err)
		}
		return img, format, nil
	case FormatWebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, format, fmt.Errorf("imageutil: decode webp: %w", err)
		}
		return img, format, nil
	default:
		return nil, FormatUnknown, ErrUnsupportedFormat
	}
}

// Compress re-encodes data as JPEG under maxKB kilobytes, downscaling in
// steps when quality reduction alone is not enough. Input already under the
// limit is returned untouched so stored bytes stay stable across retries.
func Compress(data []byte, maxKB int) ([]byte, error) {
	if maxKB <= 0 {
		return nil, errors.New("imageutil: maxKB must be positive")
	}
	maxBytes := maxKB * 1024
	if len(data) <= maxBytes {
		if DetectFormat(data) == FormatUnknown {
			return nil, ErrUnsupportedFormat
		}
		return data, nil
	}

	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	for quality := 85; quality >= 35; quality -= 10 {
		encoded, err := encodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		if len(encoded) <= maxBytes {
			return encoded, nil
		}
	}

	// Quality floor reached, halve dimensions until it fits.
	for i := 0; i < 4; i++ {
		img = scaleHalf(img)
		encoded, err := encodeJPEG(img, 60)
		if err != nil {
			return nil, err
		}
		if len(encoded) <= maxBytes {
			return encoded, nil
		}
	}

	return encodeJPEG(img, 35)
}

// Thumbnail scales the image so its longest edge is at most maxEdge pixels
// and compresses the result under maxKB.
func Thumbnail(data []byte, maxEdge, maxKB int) ([]byte, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxEdge || h > maxEdge {
		scale := float64(maxEdge) / float64(max(w, h))
		img = scaleTo(img, int(float64(w)*scale), int(float64(h)*scale))
	}
	encoded, err := encodeJPEG(img, 75)
	if err != nil {
		return nil, err
	}
	return Compress(encoded, maxKB)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imageutil: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func scaleHalf(img image.Image) image.Image {
	bounds := img.Bounds()
	return scaleTo(img, bounds.Dx()/2, bounds.Dy()/2)
}

func scaleTo(img image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
