// Package server is the kiosk's local HTTP backend. It saves and serves
// photos, stubs printing and payment, lists frames, builds composites and
// streams the live preview to the kiosk screen over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/catalog"
	"github.com/snapbooth/photobooth-go/composite"
	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/pipeline"
	"github.com/snapbooth/photobooth-go/session"
	"github.com/snapbooth/photobooth-go/share"
)

// Camera is the part of the camera pipeline the server controls.
type Camera interface {
	CapturePhoto(opts *pipeline.CaptureOpts) ([]byte, error)
	SetFilter(id filter.ID)
	Filter() filter.ID
	SetAdjustments(u filter.AdjustmentsUpdate) filter.Adjustments
	Adjustments() filter.Adjustments
	Stats() pipeline.Stats
	State() pipeline.State
}

// Check that the pipeline can be controlled by the server.
var _ Camera = (*pipeline.Pipeline)(nil)

// Sharer uploads finished composites for sharing.
type Sharer interface {
	Upload(ctx context.Context, sessionID, filename string, img []byte, opts *share.UploadOpts) (string, error)
}

var _ Sharer = (*share.Uploader)(nil)

// MaxBodySize limits request bodies, which carry base64 photos.
const MaxBodySize = 50 << 20

// Opts are options for New.
type Opts struct {
	Logger *zap.Logger
	Mode   string // gin mode, debug if empty.

	PhotosDir string // Created if missing.
	PublicURL string // Base of photo URLs in responses, e.g. http://localhost:3001.

	// Camera is the live pipeline. Without one, the capture and filter
	// endpoints answer 503.
	Camera Camera

	Frames        *catalog.Catalog // Without a catalog, only "none" is listed.
	PreviewWidth  int              // Frame thumbnail bounds, 300x450 if 0.
	PreviewHeight int

	Composite composite.Opts
	Frame     composite.FrameOpts

	Payments      PaymentStore // MemoryPayments if nil.
	PaymentAmount int          // Default amount in cents.
	Printer       Printer      // LogPrinter if nil.
	Sessions      session.Store
	Sharer        Sharer // Sharing answers 501 if nil.

	Preview *Broadcaster // Serves /ws/preview if set.
}

// Server is the HTTP backend.
type Server struct {
	opts   Opts
	log    *zap.Logger
	engine *gin.Engine

	mu      sync.Mutex
	capture *session.Capture // Current capture sequence, nil before the first session.
}

// New sets up the routes of a new server.
func New(opts *Opts) (*Server, error) {
	s := &Server{}
	if opts != nil {
		s.opts = *opts
	}
	s.log = photobooth.LoggerOrNop(s.opts.Logger)
	if s.opts.PhotosDir == "" {
		s.opts.PhotosDir = "photos"
	}
	if err := os.MkdirAll(s.opts.PhotosDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating photos dir: %w", err)
	}
	s.opts.PublicURL = strings.TrimSuffix(s.opts.PublicURL, "/")
	if s.opts.PreviewWidth <= 0 || s.opts.PreviewHeight <= 0 {
		s.opts.PreviewWidth, s.opts.PreviewHeight = 300, 450
	}
	if s.opts.Payments == nil {
		s.opts.Payments = NewMemoryPayments()
	}
	if s.opts.Printer == nil {
		s.opts.Printer = &LogPrinter{Logger: s.log}
	}
	if s.opts.Sessions == nil {
		s.opts.Sessions = session.NewMemoryStore()
	}
	if s.opts.Frames == nil {
		s.opts.Frames = catalog.New("", &catalog.Opts{Logger: zap.NewNop()})
	}

	mode := s.opts.Mode
	if mode == "" {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(s.log))
	r.Use(CORS())
	r.Use(LimitBody(MaxBodySize))

	r.GET("/health", s.health)
	if s.opts.Preview != nil {
		r.GET("/ws/preview", func(c *gin.Context) {
			s.opts.Preview.ServeHTTP(c.Writer, c.Request)
		})
	}

	api := r.Group("/api")
	{
		api.POST("/save-photo", s.savePhoto)
		api.POST("/print-photo", s.printPhoto)
		api.GET("/photos/:filename", s.photo)

		api.POST("/create-payment", s.createPayment)
		api.GET("/verify-payment/:sessionId", s.verifyPayment)

		api.GET("/grids", s.grids)
		api.GET("/frames", s.frames)
		api.GET("/frames/:id/preview", s.framePreview)
		api.POST("/composite", s.compose)

		api.GET("/filters", s.filters)
		api.PUT("/filter", s.setFilter)
		api.PUT("/adjustments", s.setAdjustments)
		api.GET("/stats", s.stats)

		api.POST("/session", s.newSession)
		api.POST("/capture", s.capturePhoto)
		api.DELETE("/capture", s.retake)
		api.POST("/session/finalize", s.finalize)
		api.POST("/share", s.sharePhoto)
	}
	s.engine = r
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "PhotoBooth Backend API"})
}

// fail responds with {success: false, error: ...}.
func (s *Server) fail(c *gin.Context, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	c.JSON(status, gin.H{"success": false, "error": msg})
}
