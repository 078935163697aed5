package server

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/composite"
	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/raster"
	"github.com/snapbooth/photobooth-go/session"
	"github.com/snapbooth/photobooth-go/share"
)

// camera returns the pipeline, or responds 503 if there is none.
func (s *Server) camera(c *gin.Context) Camera {
	if s.opts.Camera == nil {
		s.fail(c, http.StatusServiceUnavailable, "no camera", nil)
	}
	return s.opts.Camera
}

type filterInfo struct {
	ID    filter.ID `json:"id"`
	Label string    `json:"label"`
}

func (s *Server) filters(c *gin.Context) {
	var l []filterInfo
	for _, id := range filter.IDs() {
		l = append(l, filterInfo{id, filter.Label(id)})
	}
	resp := gin.H{"filters": l}
	if s.opts.Camera != nil {
		resp["selected"] = s.opts.Camera.Filter()
		resp["adjustments"] = s.opts.Camera.Adjustments()
	}
	c.JSON(http.StatusOK, resp)
}

type setFilterRequest struct {
	ID filter.ID `json:"id" binding:"required"`
}

func (s *Server) setFilter(c *gin.Context) {
	cam := s.camera(c)
	if cam == nil {
		return
	}
	var req setFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if !filter.Known(req.ID) {
		s.fail(c, http.StatusBadRequest, "unknown filter "+string(req.ID), nil)
		return
	}
	cam.SetFilter(req.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "selected": req.ID})
}

func (s *Server) setAdjustments(c *gin.Context) {
	cam := s.camera(c)
	if cam == nil {
		return
	}
	var req filter.AdjustmentsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "adjustments": cam.SetAdjustments(req)})
}

func (s *Server) stats(c *gin.Context) {
	cam := s.camera(c)
	if cam == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": cam.State().String(), "stats": cam.Stats()})
}

type newSessionRequest struct {
	GridID string `json:"gridId" binding:"required"`
}

func (s *Server) newSession(c *gin.Context) {
	var req newSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	g, ok := composite.GridByID(req.GridID)
	if !ok {
		s.fail(c, http.StatusBadRequest, "unknown grid "+req.GridID, nil)
		return
	}
	capture, err := session.New(g)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "starting session", err)
		return
	}
	s.mu.Lock()
	s.capture = capture
	s.mu.Unlock()
	s.log.Info("session started", zap.String("session", capture.ID()), zap.String("grid", g.ID))
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": capture.ID(), "grid": g, "photos": g.TotalCells()})
}

// current returns the capture sequence, or responds 409 if there is none.
func (s *Server) current(c *gin.Context) *session.Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		s.fail(c, http.StatusConflict, "no session", nil)
	}
	return s.capture
}

func (s *Server) capturePhoto(c *gin.Context) {
	cam := s.camera(c)
	if cam == nil {
		return
	}
	capture := s.current(c)
	if capture == nil {
		return
	}
	if capture.Complete() {
		s.fail(c, http.StatusConflict, "capturing photo", session.ErrSequenceFull)
		return
	}
	buf, err := cam.CapturePhoto(nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, photobooth.ErrNoFrame) {
			status = http.StatusServiceUnavailable
		}
		s.fail(c, status, "capturing photo", err)
		return
	}
	n, err := capture.Add(buf)
	if err != nil {
		s.fail(c, http.StatusConflict, "capturing photo", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": capture.ID(),
		"index":     n - 1,
		"remaining": capture.Remaining(),
		"photo":     raster.DataURL(buf, raster.JPEG.MIME()),
	})
}

func (s *Server) retake(c *gin.Context) {
	capture := s.current(c)
	if capture == nil {
		return
	}
	if !capture.DeleteLast() {
		s.fail(c, http.StatusConflict, "no photo to retake", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "remaining": capture.Remaining()})
}

func (s *Server) finalize(c *gin.Context) {
	capture := s.current(c)
	if capture == nil {
		return
	}
	var req layoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.fail(c, http.StatusBadRequest, "invalid request", err)
			return
		}
	}
	lo, fo, err := req.opts(s)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid layout", err)
		return
	}

	res, err := capture.Finalize(lo)
	if err != nil {
		s.fail(c, compositeStatus(err), "composing photos", err)
		return
	}
	frame, err := s.loadFrame(req.FrameID)
	if err != nil {
		s.fail(c, compositeStatus(err), "loading frame", err)
		return
	}
	img, err := res.Frame(frame, fo)
	if err != nil {
		s.fail(c, compositeStatus(err), "applying frame", err)
		return
	}

	// The saved print file is JPEG, the payload image PNG if framed.
	jpeg, err := raster.Encode(img, raster.JPEG, SaveQuality)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "encoding composite", err)
		return
	}
	filename, path, err := s.writePhoto(capture.ID(), jpeg)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "saving composite", err)
		return
	}
	final, f, err := encodeResult(img, frame != nil)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "encoding composite", err)
		return
	}
	payload := capture.Payload(final, f, req.FrameID)
	if err := s.opts.Sessions.Update(c.Request.Context(), capture.ID(), payload); err != nil {
		s.fail(c, http.StatusInternalServerError, "storing session", err)
		return
	}
	s.log.Info("session finalized", zap.String("session", capture.ID()), zap.String("file", filename))
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"sessionId":      capture.ID(),
		"filename":       filename,
		"filepath":       path,
		"url":            s.photoURL(filename),
		"compositeImage": payload.CompositeImage,
	})
}

type shareRequest struct {
	Filename  string `json:"filename" binding:"required"`
	SessionID string `json:"sessionId"`
}

func (s *Server) sharePhoto(c *gin.Context) {
	if s.opts.Sharer == nil {
		s.fail(c, http.StatusNotImplemented, "sharing is not configured", nil)
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	path, ok := s.photoPath(req.Filename)
	if !ok {
		s.fail(c, http.StatusNotFound, "Photo file not found", nil)
		return
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		s.fail(c, http.StatusNotFound, "Photo file not found", nil)
		return
	}
	opts := &share.UploadOpts{}
	if p, ok, _ := s.opts.Sessions.Get(c.Request.Context(), req.SessionID); ok {
		opts.Grid, opts.Frame = p.SelectedGrid, p.SelectedFrame
	}
	url, err := s.opts.Sharer.Upload(c.Request.Context(), req.SessionID, req.Filename, buf, opts)
	if err != nil {
		var herr share.HTTPError
		status := http.StatusBadGateway
		if !errors.As(err, &herr) {
			status = http.StatusInternalServerError
		}
		s.fail(c, status, "sharing photo", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}
