package raster

import (
	"image"
	"image/color"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		in  float64
		out uint8
	}{
		{-20, 0},
		{0, 0},
		{12.4, 12},
		{12.5, 13},
		{254.6, 255},
		{300, 255},
	}
	for _, tc := range tests {
		if got := Clamp(tc.in); got != tc.out {
			t.Errorf("Clamp(%v) = %d, expected %d", tc.in, got, tc.out)
		}
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	img := New(4, 3, color.NRGBA{10, 200, 30, 255})
	buf, err := Encode(img, PNG, 0)
	if err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	url := DataURL(buf, PNG.MIME())
	back, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("decoding data url: %v", err)
	}
	dec, err := DecodeBytes(back)
	if err != nil {
		t.Fatalf("decoding png: %v", err)
	}
	if !Equal(img, dec) {
		t.Fatalf("png round trip changed pixels")
	}

	if _, err := DecodeDataURL("data:image/png;base64,***"); err == nil {
		t.Fatalf("missing error for invalid base64")
	}
}

func TestCopyInto(t *testing.T) {
	src := New(5, 5, color.NRGBA{1, 2, 3, 255})
	dst := CopyInto(nil, src)
	if !Equal(src, dst) {
		t.Fatalf("copy differs from source")
	}
	same := CopyInto(dst, New(5, 5, color.NRGBA{9, 9, 9, 255}))
	if same != dst {
		t.Fatalf("destination of equal size was reallocated")
	}
	bigger := CopyInto(dst, New(6, 5, color.NRGBA{}))
	if bigger.Bounds() != image.Rect(0, 0, 6, 5) {
		t.Fatalf("unexpected bounds %v", bigger.Bounds())
	}
}
