package session

import (
	"context"
	"errors"
	"image"
	"image/color"
	"reflect"
	"strings"
	"testing"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/composite"
	"github.com/snapbooth/photobooth-go/raster"
)

func photo(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	buf, err := raster.Encode(raster.New(40, 30, c), raster.JPEG, 0)
	if err != nil {
		t.Fatalf("encoding photo: %v", err)
	}
	return buf
}

func TestCapture(t *testing.T) {
	g, _ := composite.GridByID("4x6-2cut")
	c, err := New(g)
	if err != nil {
		t.Fatalf("new capture: %v", err)
	}
	if c.ID() == "" {
		t.Fatalf("no session id")
	}

	a, b := []byte("a"), []byte("b")
	if n, err := c.Add(a); err != nil || n != 1 {
		t.Fatalf("add, got %d, %v", n, err)
	}
	if _, err := c.Add(b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !c.Complete() {
		t.Fatalf("expected complete sequence")
	}
	if _, err := c.Add([]byte("c")); !errors.Is(err, ErrSequenceFull) {
		t.Fatalf("expected ErrSequenceFull, got %v", err)
	}

	if !c.DeleteLast() {
		t.Fatalf("delete last reported no photo")
	}
	if got := c.Photos(); !reflect.DeepEqual(got, [][]byte{a}) {
		t.Fatalf("photos after retake, got %q", got)
	}
	c.Add(b)
	if err := c.DeleteAt(0); err != nil {
		t.Fatalf("delete at: %v", err)
	}
	if got := c.Photos(); !reflect.DeepEqual(got, [][]byte{b}) {
		t.Fatalf("photos after delete, got %q", got)
	}
	if err := c.DeleteAt(3); err == nil {
		t.Fatalf("expected error deleting missing photo")
	}

	c.Reset()
	if c.Len() != 0 || c.Remaining() != 2 || c.DeleteLast() {
		t.Fatalf("reset left %d photos", c.Len())
	}
	if _, err := c.Add(nil); !errors.Is(err, photobooth.ErrAssetLoad) {
		t.Fatalf("expected ErrAssetLoad for empty photo, got %v", err)
	}
}

func TestNewInvalidGrid(t *testing.T) {
	if _, err := New(composite.GridSpec{ID: "bad"}); !errors.Is(err, photobooth.ErrInvalidGridSpec) {
		t.Fatalf("expected ErrInvalidGridSpec, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	g, _ := composite.GridByID("4x6-2cut")
	c, _ := New(g)
	c.Add(photo(t, color.NRGBA{255, 0, 0, 255}))
	if _, err := c.Finalize(nil); !errors.Is(err, photobooth.ErrInvalidPhotoCount) {
		t.Fatalf("expected ErrInvalidPhotoCount, got %v", err)
	}
	c.Add(photo(t, color.NRGBA{0, 0, 255, 255}))

	res, err := c.Finalize(&composite.Opts{DPI: 100, Gap: 5})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.Composite.Bounds().Empty() {
		t.Fatalf("empty composite")
	}
	framed, err := res.Frame(nil, nil)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if !raster.Equal(framed, res.Composite) {
		t.Fatalf("no frame changed the composite")
	}

	c.DeleteLast()
	c.Add([]byte("not a jpeg"))
	if _, err := c.Finalize(nil); !errors.Is(err, photobooth.ErrAssetLoad) {
		t.Fatalf("expected ErrAssetLoad, got %v", err)
	}
}

func TestFinalizeStrip(t *testing.T) {
	g, _ := composite.GridByID(composite.StripGridID)
	c, _ := New(g)
	for i := 0; i < composite.StripCells; i++ {
		c.Add(photo(t, color.NRGBA{0, 128, 0, 255}))
	}
	res, err := c.Finalize(&composite.Opts{DPI: 100})
	if err != nil {
		t.Fatalf("finalize strip: %v", err)
	}
	if got := res.Composite.Bounds().Size(); got != (image.Point{400, 600}) {
		t.Fatalf("strip size, got %v", got)
	}
}

func TestPayloadStore(t *testing.T) {
	g, _ := composite.GridByID("4x6-single")
	c, _ := New(g)
	c.Add([]byte{0xff, 0xd8})
	p := c.Payload([]byte{1, 2, 3}, raster.PNG, "gold-frame")
	if len(p.CapturedPhotos) != 1 || !strings.HasPrefix(p.CapturedPhotos[0], "data:image/jpeg;base64,") {
		t.Fatalf("captured photos, got %v", p.CapturedPhotos)
	}
	if !strings.HasPrefix(p.CompositeImage, "data:image/png;base64,") {
		t.Fatalf("composite image, got %q", p.CompositeImage)
	}
	if p.SelectedGrid != "4x6-single" || p.SelectedFrame != "gold-frame" {
		t.Fatalf("selection, got %+v", p)
	}

	s := NewMemoryStore()
	ctx := context.Background()
	if _, ok, _ := s.Get(ctx, c.ID()); ok {
		t.Fatalf("unexpected payload in empty store")
	}
	if err := s.Update(ctx, c.ID(), p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok, err := s.Get(ctx, c.ID())
	if err != nil || !ok || !reflect.DeepEqual(got, p) {
		t.Fatalf("get, got %+v, %v, %v", got, ok, err)
	}
}
