package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/catalog"
	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/pipeline"
	"github.com/snapbooth/photobooth-go/raster"
	"github.com/snapbooth/photobooth-go/share"
)

type fakeCamera struct {
	mu     sync.Mutex
	filter filter.ID
	adj    filter.Adjustments
	photo  []byte
}

func (f *fakeCamera) CapturePhoto(opts *pipeline.CaptureOpts) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photo == nil {
		return nil, photobooth.ErrNoFrame
	}
	return f.photo, nil
}

func (f *fakeCamera) SetFilter(id filter.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = id
}

func (f *fakeCamera) Filter() filter.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter
}

func (f *fakeCamera) SetAdjustments(u filter.AdjustmentsUpdate) filter.Adjustments {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adj = f.adj.Merge(u)
	return f.adj
}

func (f *fakeCamera) Adjustments() filter.Adjustments {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adj
}

func (f *fakeCamera) Stats() pipeline.Stats {
	return pipeline.Stats{Frames: 3}
}

func (f *fakeCamera) State() pipeline.State {
	return pipeline.Running
}

type fakeSharer struct {
	sessionID, filename string
	opts                *share.UploadOpts
}

func (f *fakeSharer) Upload(ctx context.Context, sessionID, filename string, img []byte, opts *share.UploadOpts) (string, error) {
	f.sessionID, f.filename, f.opts = sessionID, filename, opts
	return "https://share.example/" + filename, nil
}

func jpegDataURL(t *testing.T, c color.NRGBA) string {
	t.Helper()
	buf, err := raster.Encode(raster.New(60, 40, c), raster.JPEG, 0)
	if err != nil {
		t.Fatalf("encoding photo: %v", err)
	}
	return raster.DataURL(buf, raster.JPEG.MIME())
}

func newTestServer(t *testing.T, opts *Opts) *Server {
	t.Helper()
	if opts == nil {
		opts = &Opts{}
	}
	opts.Mode = gin.TestMode
	if opts.PhotosDir == "" {
		opts.PhotosDir = t.TempDir()
	}
	opts.PublicURL = "http://localhost:3001/"
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

// do performs a request and decodes the JSON response into a map.
func do(t *testing.T, s *Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r *http.Request
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response %q: %v", w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, resp := do(t, s, "GET", "/health", nil)
	if code != http.StatusOK || resp["status"] != "OK" {
		t.Fatalf("health, got %d %v", code, resp)
	}
}

func TestSavePhoto(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, &Opts{PhotosDir: dir})
	code, resp := do(t, s, "POST", "/api/save-photo", map[string]interface{}{
		"imageData": jpegDataURL(t, color.NRGBA{200, 30, 30, 255}),
		"sessionId": "abc-123",
		"filters":   map[string]interface{}{"grayscale": true},
	})
	if code != http.StatusOK || resp["success"] != true {
		t.Fatalf("save photo, got %d %v", code, resp)
	}
	filename := resp["filename"].(string)
	if !strings.HasPrefix(filename, "photo_abc-123_") || !strings.HasSuffix(filename, ".jpg") {
		t.Fatalf("filename, got %q", filename)
	}
	if resp["url"] != "http://localhost:3001/api/photos/"+filename {
		t.Fatalf("url, got %v", resp["url"])
	}
	img, err := imaging.Open(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("opening saved photo: %v", err)
	}
	c := color.NRGBAModel.Convert(img.At(30, 20)).(color.NRGBA)
	if d := int(c.R) - int(c.B); d < -8 || d > 8 {
		t.Fatalf("saved photo not grayscale, got %v", c)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/photos/"+filename, nil))
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("serving photo, got %d", w.Code)
	}
	for _, name := range []string{"missing.jpg", "..%2Fsecret", ".hidden"} {
		if code, _ := do(t, s, "GET", "/api/photos/"+name, nil); code != http.StatusNotFound {
			t.Fatalf("photo %q, got %d, expected 404", name, code)
		}
	}

	for _, body := range []map[string]interface{}{
		{"imageData": "data:image/jpeg;base64,%%%", "sessionId": "x"},
		{"imageData": jpegDataURL(t, color.NRGBA{A: 255}), "sessionId": "../x"},
		{"sessionId": "x"},
	} {
		if code, _ := do(t, s, "POST", "/api/save-photo", body); code != http.StatusBadRequest {
			t.Fatalf("bad save request %v, got %d", body["sessionId"], code)
		}
	}
}

func TestSaveFilters(t *testing.T) {
	img := raster.New(8, 8, color.NRGBA{100, 100, 100, 255})
	out := (&SaveFilters{Brightness: 1.5}).Apply(img)
	if c := out.NRGBAAt(4, 4); c != (color.NRGBA{150, 150, 150, 255}) {
		t.Fatalf("brightness, got %v", c)
	}
	if c := (*SaveFilters)(nil).Apply(img).NRGBAAt(4, 4); c != img.NRGBAAt(4, 4) {
		t.Fatalf("no filters changed the photo, got %v", c)
	}
}

func TestPrintPhoto(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, &Opts{PhotosDir: dir})
	path := filepath.Join(dir, "photo_x_1.jpg")
	if err := os.WriteFile(path, []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatal(err)
	}
	code, resp := do(t, s, "POST", "/api/print-photo", map[string]string{"filepath": path})
	if code != http.StatusOK || resp["success"] != true || resp["jobId"] == "" {
		t.Fatalf("print, got %d %v", code, resp)
	}
	code, resp = do(t, s, "POST", "/api/print-photo", map[string]string{"filepath": filepath.Join(dir, "nope.jpg")})
	if code != http.StatusNotFound || resp["success"] != false {
		t.Fatalf("print missing, got %d %v", code, resp)
	}
	code, _ = do(t, s, "POST", "/api/print-photo", map[string]string{"filepath": "/etc/photo_x_1.jpg"})
	if code != http.StatusNotFound {
		t.Fatalf("print outside photos dir, got %d", code)
	}
}

func TestPayment(t *testing.T) {
	payments := NewMemoryPayments()
	s := newTestServer(t, &Opts{Payments: payments, PaymentAmount: 500})
	code, resp := do(t, s, "POST", "/api/create-payment", map[string]interface{}{"sessionId": "s1"})
	if code != http.StatusOK || resp["paymentUrl"] != "https://payment.mock/session/s1" {
		t.Fatalf("create payment, got %d %v", code, resp)
	}
	p, _ := payments.Get(context.Background(), "s1")
	if p == nil || p.Status != PaymentPending || p.Amount != 500 {
		t.Fatalf("stored payment, got %+v", p)
	}

	code, resp = do(t, s, "GET", "/api/verify-payment/s1", nil)
	if code != http.StatusOK || resp["success"] != true || resp["sessionId"] != "s1" {
		t.Fatalf("verify payment, got %d %v", code, resp)
	}
	if p, _ := payments.Get(context.Background(), "s1"); p.Status != PaymentPaid {
		t.Fatalf("payment not paid, got %+v", p)
	}
	if code, _ := do(t, s, "GET", "/api/verify-payment/unknown", nil); code != http.StatusOK {
		t.Fatalf("verify unknown payment, got %d", code)
	}
}

func newFrames(t *testing.T) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	frame := raster.New(200, 300, color.NRGBA{0, 0, 0, 0})
	if err := imaging.Save(frame, filepath.Join(dir, "gold_frame.png")); err != nil {
		t.Fatal(err)
	}
	return catalog.New(dir, nil)
}

func TestFrames(t *testing.T) {
	s := newTestServer(t, &Opts{Frames: newFrames(t)})
	code, resp := do(t, s, "GET", "/api/frames", nil)
	frames := resp["frames"].([]interface{})
	if code != http.StatusOK || len(frames) != 2 {
		t.Fatalf("frames, got %d %v", code, resp)
	}
	gold := frames[1].(map[string]interface{})
	if gold["id"] != "gold_frame" || gold["name"] != "Gold Frame" || gold["previewUrl"] != "/api/frames/gold_frame/preview" {
		t.Fatalf("frame entry, got %v", gold)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/frames/gold_frame/preview?w=100&h=100", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("preview, got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	img, err := raster.DecodeBytes(w.Body.Bytes())
	if err != nil {
		t.Fatalf("decoding preview: %v", err)
	}
	if img.Bounds().Size() != (image.Point{66, 100}) {
		t.Fatalf("preview size, got %v", img.Bounds().Size())
	}
	if code, _ := do(t, s, "GET", "/api/frames/none/preview", nil); code != http.StatusNotFound {
		t.Fatalf("none preview, got %d", code)
	}
}

func TestComposite(t *testing.T) {
	s := newTestServer(t, &Opts{Frames: newFrames(t)})
	red := jpegDataURL(t, color.NRGBA{255, 0, 0, 255})
	code, resp := do(t, s, "POST", "/api/composite", map[string]interface{}{
		"photos": []string{red, red},
		"gridId": "4x6-2cut",
	})
	if code != http.StatusOK || !strings.HasPrefix(resp["image"].(string), "data:image/jpeg;base64,") {
		t.Fatalf("composite, got %d %v", code, resp["error"])
	}

	code, resp = do(t, s, "POST", "/api/composite", map[string]interface{}{
		"photos":  []string{red, red},
		"gridId":  "4x6-2cut",
		"frameId": "gold_frame",
	})
	if code != http.StatusOK || !strings.HasPrefix(resp["image"].(string), "data:image/png;base64,") {
		t.Fatalf("framed composite, got %d %v", code, resp["error"])
	}

	for _, body := range []map[string]interface{}{
		{"photos": []string{red}, "gridId": "4x6-2cut"},
		{"photos": []string{red}, "gridId": "nope"},
		{"photos": []string{red}, "grid": map[string]interface{}{"id": "x", "cols": 0, "rows": 2}},
		{"photos": []string{red, red}, "gridId": "4x6-2cut", "frameId": "missing"},
		{"photos": []string{red, red}, "gridId": "4x6-2cut", "policy": "stretch"},
	} {
		if code, _ := do(t, s, "POST", "/api/composite", body); code != http.StatusBadRequest {
			t.Fatalf("bad composite request %v, got %d", body, code)
		}
	}
}

func TestFilters(t *testing.T) {
	s := newTestServer(t, nil)
	if code, _ := do(t, s, "PUT", "/api/filter", map[string]string{"id": "warmTone"}); code != http.StatusServiceUnavailable {
		t.Fatalf("set filter without camera, got %d", code)
	}

	cam := &fakeCamera{adj: filter.DefaultAdjustments}
	s = newTestServer(t, &Opts{Camera: cam})
	code, resp := do(t, s, "GET", "/api/filters", nil)
	if code != http.StatusOK || len(resp["filters"].([]interface{})) != len(filter.IDs()) {
		t.Fatalf("filters, got %d %v", code, resp)
	}
	if code, _ := do(t, s, "PUT", "/api/filter", map[string]string{"id": "warmTone"}); code != http.StatusOK || cam.Filter() != filter.WarmTone {
		t.Fatalf("set filter, got %d %q", code, cam.Filter())
	}
	if code, _ := do(t, s, "PUT", "/api/filter", map[string]string{"id": "sepia"}); code != http.StatusBadRequest {
		t.Fatalf("unknown filter, got %d", code)
	}
	code, resp = do(t, s, "PUT", "/api/adjustments", map[string]float64{"contrast": 9})
	adj := resp["adjustments"].(map[string]interface{})
	if code != http.StatusOK || adj["contrast"] != 2.0 || adj["brightness"] != 1.0 {
		t.Fatalf("adjustments, got %d %v", code, resp)
	}
	code, resp = do(t, s, "GET", "/api/stats", nil)
	if code != http.StatusOK || resp["state"] != "running" {
		t.Fatalf("stats, got %d %v", code, resp)
	}
}

func TestSessionFlow(t *testing.T) {
	buf, err := raster.Encode(raster.New(60, 40, color.NRGBA{0, 0, 255, 255}), raster.JPEG, 0)
	if err != nil {
		t.Fatal(err)
	}
	cam := &fakeCamera{}
	sharer := &fakeSharer{}
	s := newTestServer(t, &Opts{Camera: cam, Sharer: sharer, Frames: newFrames(t)})

	if code, _ := do(t, s, "POST", "/api/capture", nil); code != http.StatusConflict {
		t.Fatalf("capture without session, got %d", code)
	}
	code, resp := do(t, s, "POST", "/api/session", map[string]string{"gridId": "4x6-2cut"})
	if code != http.StatusOK {
		t.Fatalf("new session, got %d %v", code, resp)
	}
	id := resp["sessionId"].(string)

	if code, _ := do(t, s, "POST", "/api/capture", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("capture before first frame, got %d", code)
	}
	cam.mu.Lock()
	cam.photo = buf
	cam.mu.Unlock()

	for i := 0; i < 2; i++ {
		code, resp := do(t, s, "POST", "/api/capture", nil)
		if code != http.StatusOK || resp["index"] != float64(i) {
			t.Fatalf("capture %d, got %d %v", i, code, resp)
		}
	}
	if code, _ := do(t, s, "POST", "/api/capture", nil); code != http.StatusConflict {
		t.Fatalf("capture past the grid, got %d", code)
	}
	if code, resp := do(t, s, "DELETE", "/api/capture", nil); code != http.StatusOK || resp["remaining"] != 1.0 {
		t.Fatalf("retake, got %d %v", code, resp)
	}
	if code, _ := do(t, s, "POST", "/api/session/finalize", nil); code != http.StatusBadRequest {
		t.Fatalf("finalize incomplete, got %d", code)
	}
	do(t, s, "POST", "/api/capture", nil)

	code, resp = do(t, s, "POST", "/api/session/finalize", map[string]string{"frameId": "gold_frame"})
	if code != http.StatusOK || resp["sessionId"] != id {
		t.Fatalf("finalize, got %d %v", code, resp)
	}
	payload, ok, _ := s.opts.Sessions.Get(context.Background(), id)
	if !ok || len(payload.CapturedPhotos) != 2 || payload.SelectedGrid != "4x6-2cut" || payload.SelectedFrame != "gold_frame" {
		t.Fatalf("session payload, got %+v", payload)
	}

	filename := resp["filename"].(string)
	code, resp = do(t, s, "POST", "/api/share", map[string]string{"filename": filename, "sessionId": id})
	if code != http.StatusOK || resp["url"] != "https://share.example/"+filename {
		t.Fatalf("share, got %d %v", code, resp)
	}
	if sharer.sessionID != id || sharer.opts.Grid != "4x6-2cut" || sharer.opts.Frame != "gold_frame" {
		t.Fatalf("shared with %+v", sharer)
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(&BroadcasterOpts{MaxWidth: 32})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	srv := httptest.NewServer(b)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := raster.New(64, 48, color.NRGBA{0, 255, 0, 255})
	got := make(chan []byte, 1)
	go func() {
		_, buf, err := conn.ReadMessage()
		if err == nil {
			got <- buf
		}
	}()
	deadline := time.After(5 * time.Second)
	for {
		b.Present(frame)
		select {
		case buf := <-got:
			img, err := raster.DecodeBytes(buf)
			if err != nil {
				t.Fatalf("decoding preview frame: %v", err)
			}
			if img.Bounds().Size() != (image.Point{32, 24}) {
				t.Fatalf("preview frame size, got %v", img.Bounds().Size())
			}
			return
		case <-deadline:
			t.Fatalf("no preview frame received")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
