package imageutil

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
)

func noisyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want Format
	}{
		{"png", []byte("\x89PNG\r\n\x1a\n........"), FormatPNG},
		{"jpeg", []byte("\xff\xd8\xff\xe0........"), FormatJPEG},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBP...."), FormatWebP},
		{"text", []byte("definitely not an image"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.data); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestCompressUnderLimitUntouched(t *testing.T) {
	data := noisyPNG(t, 16, 16)
	out, err := Compress(data, 500)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("small input should be returned unchanged")
	}
}

func TestCompressShrinksLargeImage(t *testing.T) {
	data := noisyPNG(t, 512, 512)
	if len(data) <= 50*1024 {
		t.Skip("test image unexpectedly small")
	}
	out, err := Compress(data, 50)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(out) > 50*1024 {
		t.Fatalf("compressed size %d exceeds 50KB", len(out))
	}
	if DetectFormat(out) != FormatJPEG {
		t.Fatalf("expected jpeg output, got %q", DetectFormat(out))
	}
}

func TestCompressRejectsGarbage(t *testing.T) {
	if _, err := Compress(bytes.Repeat([]byte("garbage!"), 200*1024), 500); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestThumbnailBoundsEdge(t *testing.T) {
	data := noisyPNG(t, 400, 200)
	out, err := Thumbnail(data, 100, 50)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	img, _, err := Decode(out)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 100 || b.Dy() > 100 {
		t.Fatalf("thumbnail %dx%d exceeds 100px edge", b.Dx(), b.Dy())
	}
}
