// Package photobooth holds the types shared by the booth packages: face
// detections and detectors, the error taxonomy, and logging setup.
package photobooth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Detection is a detected face. A nil *Detection means no face was found.
type Detection struct {
	Box       image.Rectangle
	Landmarks []image.Point
	Score     float64
}

// Center returns the center of the detection box.
func (d *Detection) Center() image.Point {
	return image.Point{(d.Box.Min.X + d.Box.Max.X) / 2, (d.Box.Min.Y + d.Box.Max.Y) / 2}
}

// Detector finds a face in a frame. Implementations may be slow; the camera
// pipeline calls Detect off the render loop.
type Detector interface {
	// Detect returns the most prominent face in img, or nil if there is none.
	// Detect must not retain img after returning.
	Detect(ctx context.Context, img *image.NRGBA) (*Detection, error)
	Close() error
}

// DetectorParameters describes an external detector process.
type DetectorParameters struct {
	Name string `json:"name"`

	// Input size the detector expects. If zero, frames are sent at their
	// native size.
	InputWidth  int `json:"input_width"`
	InputHeight int `json:"input_height"`

	MinScore float64 `json:"min_score"`
}

// String returns a human-readable summary of the detector parameters.
func (p DetectorParameters) String() string {
	if p.InputWidth == 0 || p.InputHeight == 0 {
		return fmt.Sprintf("%s, native input size, min score %.2f", p.Name, p.MinScore)
	}
	return fmt.Sprintf("%s, input %dx%d, min score %.2f", p.Name, p.InputWidth, p.InputHeight, p.MinScore)
}

// detectorResponse represents the basic status of a response from the detector.
type detectorResponse struct {
	ID      int64  `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (r detectorResponse) status() detectorResponse {
	return r
}

type statuser interface {
	status() detectorResponse
}

type detectorHelloRequest struct {
	ID    int64 `json:"id"`
	Hello int   `json:"hello"` // 1
}

type detectorHelloResponse struct {
	detectorResponse
	Parameters DetectorParameters `json:"detector_parameters"`
}

// DetectRequest is a request to the detector process. Pixels are packed as
// 0xRRGGBB, row by row.
type DetectRequest struct {
	ID     int64    `json:"id"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Detect []uint32 `json:"detect"`
}

// DetectResponse is the response from the detector process to a DetectRequest.
type DetectResponse struct {
	detectorResponse

	Result struct {
		Faces []DetectedFace `json:"faces"`
	} `json:"result"`

	Timing struct {
		Detect float64 `json:"detect"`
	} `json:"timing"`
}

// DetectedFace is one face in a DetectResponse, in detector input coordinates.
type DetectedFace struct {
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Score     float64 `json:"score"`
	Landmarks []struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"landmarks,omitempty"`
}

// DetectorOpts contains options for starting a detector process.
type DetectorOpts struct {
	// Explicitly set a working directory. This directory is not
	// automatically removed on Close. If empty, a temporary directory is
	// created.
	WorkDir string

	// If not empty, the JSON-encoded requests and responses are written to
	// this directory.
	TraceDir string

	Logger *zap.Logger
}

// DetectorProcess is a running external face detector.
type DetectorProcess struct {
	params  DetectorParameters
	opts    DetectorOpts
	log     *zap.Logger
	tempDir string             // Temp dir created for this detector if any. Removed on close.
	cancel  context.CancelFunc // For stopping the detector process.
	conn    net.Conn           // Unix domain socket to the detector process.
	mutex   sync.Mutex         // Serializing requests to the detector process.
	closing atomic.Bool
	lastID  int64
}

// Ensure that DetectorProcess implements interface Detector.
var _ Detector = (*DetectorProcess)(nil)

// Parameters returns the parameters reported by the detector.
func (d *DetectorProcess) Parameters() DetectorParameters {
	return d.params
}

// NewDetectorProcess starts the detector executable at path and performs the
// hello handshake. Always call Close on a detector, to cleanup any temporary
// directories.
func NewDetectorProcess(path string, opts *DetectorOpts) (detector *DetectorProcess, rerr error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path for detector %q: %w", path, err)
	}

	d := &DetectorProcess{}
	if opts != nil {
		d.opts = *opts
	}
	d.log = LoggerOrNop(d.opts.Logger)

	// Make sure we cleanup on failure.
	defer func() {
		if rerr != nil {
			d.Close()
		}
	}()

	if d.opts.WorkDir == "" {
		dir, err := TempDir()
		if err != nil {
			return nil, fmt.Errorf("making temp dir: %w", err)
		}
		d.opts.WorkDir = dir
		d.tempDir = dir
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	cmd := exec.CommandContext(ctx, path, "detector.sock")
	cmd.Dir = d.opts.WorkDir
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting detector process: %w", err)
	}
	go cmd.Wait()

	sockPath := filepath.Join(d.opts.WorkDir, "detector.sock")
	for i := 0; ; i++ {
		conn, err := net.Dial("unix", sockPath)
		if err == nil {
			d.conn = conn
			break
		}
		if !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("opening detector socket: %w", err)
		}
		if i == 1000 {
			return nil, fmt.Errorf("no socket from detector")
		}
		time.Sleep(1 * time.Millisecond)
	}

	helloReq := detectorHelloRequest{ID: d.nextID(), Hello: 1}
	var helloResp detectorHelloResponse
	if err := d.transact(time.Now().Add(5*time.Second), helloReq.ID, helloReq, &helloResp); err != nil {
		return nil, fmt.Errorf("hello to detector: %w", err)
	}
	d.params = helloResp.Parameters
	d.log.Info("detector process started", zap.String("detector", d.params.String()))
	return d, nil
}

// Do a single request/response transaction.
func (d *DetectorProcess) transact(deadline time.Time, id int64, req interface{}, resp statuser) error {
	d.conn.SetDeadline(deadline)
	if d.closing.Load() {
		return fmt.Errorf("detector closed")
	}

	if err := json.NewEncoder(d.conn).Encode(req); err != nil {
		return fmt.Errorf("writing json to detector: %w", err)
	}
	d.writeTrace(fmt.Sprintf("%s/detector-%d-request.json", d.opts.TraceDir, id), req)

	dec := json.NewDecoder(d.conn)
	if err := dec.Decode(resp); err != nil {
		return fmt.Errorf("reading json from detector: %w", err)
	}
	d.writeTrace(fmt.Sprintf("%s/detector-%d-response.json", d.opts.TraceDir, id), resp)

	// The detector writes a zero byte after the JSON. It's probably already
	// buffered in the decoder, but not necessarily, so drain it.
	buf, err := io.ReadAll(dec.Buffered())
	if err == nil && len(buf) == 0 {
		d.conn.Read([]byte{0})
	}

	if st := resp.status(); !st.Success {
		return fmt.Errorf("detector: %s", st.Error)
	}
	return nil
}

func (d *DetectorProcess) writeTrace(filename string, data interface{}) {
	if d.opts.TraceDir == "" {
		return
	}

	f, err := os.Create(filename)
	if err != nil {
		d.log.Warn("trace, creating file", zap.String("file", filename), zap.Error(err))
		return
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(data); err != nil {
		d.log.Warn("trace, writing data", zap.Error(err))
	}
}

func (d *DetectorProcess) nextID() int64 {
	d.lastID++
	return d.lastID
}

// Detect sends img to the detector process and returns the highest scoring
// face above the detector's minimum score.
func (d *DetectorProcess) Detect(ctx context.Context, img *image.NRGBA) (*Detection, error) {
	size := img.Bounds().Size()
	input := img
	if d.params.InputWidth > 0 && d.params.InputHeight > 0 {
		if size.X != d.params.InputWidth || size.Y != d.params.InputHeight {
			input = imaging.Resize(img, d.params.InputWidth, d.params.InputHeight, imaging.Linear)
		}
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := PackDetectRequest(d.nextID(), input)
	var resp DetectResponse
	if err := d.transact(deadline, req.ID, req, &resp); err != nil {
		return nil, err
	}

	inSize := input.Bounds().Size()
	sx := float64(size.X) / float64(inSize.X)
	sy := float64(size.Y) / float64(inSize.Y)
	return bestFace(resp.Result.Faces, d.params.MinScore, sx, sy), nil
}

// PackDetectRequest packs the pixels of img into a DetectRequest.
func PackDetectRequest(id int64, img *image.NRGBA) DetectRequest {
	b := img.Bounds()
	data := make([]uint32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			p := img.Pix[i : i+4 : i+4]
			data = append(data, uint32(p[0])<<16|uint32(p[1])<<8|uint32(p[2]))
			i += 4
		}
	}
	return DetectRequest{ID: id, Width: b.Dx(), Height: b.Dy(), Detect: data}
}

// UnpackDetectRequest is the inverse of PackDetectRequest.
func UnpackDetectRequest(req DetectRequest) (*image.NRGBA, error) {
	if req.Width <= 0 || req.Height <= 0 || len(req.Detect) != req.Width*req.Height {
		return nil, fmt.Errorf("unexpected size (%d values for %dx%d)", len(req.Detect), req.Width, req.Height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, req.Width, req.Height))
	for i, v := range req.Detect {
		p := img.Pix[i*4 : i*4+4 : i*4+4]
		p[0] = uint8(v >> 16)
		p[1] = uint8(v >> 8)
		p[2] = uint8(v)
		p[3] = 0xff
	}
	return img, nil
}

// bestFace returns the highest scoring face with at least minScore, scaled
// back to frame coordinates.
func bestFace(faces []DetectedFace, minScore, sx, sy float64) *Detection {
	var best *DetectedFace
	for i := range faces {
		f := &faces[i]
		if f.Score < minScore {
			continue
		}
		if best == nil || f.Score > best.Score {
			best = f
		}
	}
	if best == nil {
		return nil
	}
	scale := func(x, y int) image.Point {
		return image.Point{int(float64(x)*sx + 0.5), int(float64(y)*sy + 0.5)}
	}
	det := &Detection{
		Box: image.Rectangle{
			Min: scale(best.X, best.Y),
			Max: scale(best.X+best.Width, best.Y+best.Height),
		},
		Score: best.Score,
	}
	for _, lm := range best.Landmarks {
		det.Landmarks = append(det.Landmarks, scale(lm.X, lm.Y))
	}
	return det
}

// Close shuts down the detector, stopping the detector process.
func (d *DetectorProcess) Close() error {
	// Interrupt a pending transact, it holds the mutex until its read returns.
	d.closing.Store(true)
	if d.conn != nil {
		d.conn.SetDeadline(time.Now())
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	if d.conn != nil {
		d.conn.Close()
	}
	if d.tempDir != "" {
		os.RemoveAll(d.tempDir)
	}
	return nil
}
