package server

import (
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/snapbooth/photobooth-go/filter"
	"github.com/snapbooth/photobooth-go/raster"
)

// SaveQuality is the JPEG quality of saved photos.
const SaveQuality = 90

// SaveFilters are optional edits applied to a photo before saving.
type SaveFilters struct {
	Grayscale  bool    `json:"grayscale"`
	Blur       float64 `json:"blur"`       // Gaussian sigma, off if 0.
	Brightness float64 `json:"brightness"` // Multiplier, off if 0.
}

// Apply returns img with the filters applied, grayscale first.
func (f *SaveFilters) Apply(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	if f == nil {
		return out
	}
	if f.Grayscale {
		out = imaging.Grayscale(out)
	}
	if f.Blur > 0 {
		out = imaging.Blur(out, f.Blur)
	}
	if f.Brightness > 0 {
		adj := filter.DefaultAdjustments
		adj.Brightness = f.Brightness
		out = adj.Apply(out)
	}
	return out
}

type savePhotoRequest struct {
	ImageData string       `json:"imageData" binding:"required"`
	SessionID string       `json:"sessionId" binding:"required"`
	Filters   *SaveFilters `json:"filters"`
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func (s *Server) photoURL(filename string) string {
	return s.opts.PublicURL + "/api/photos/" + filename
}

// writePhoto saves encoded JPEG bytes as photo_<session>_<ms>.jpg.
func (s *Server) writePhoto(sessionID string, buf []byte) (filename, path string, err error) {
	filename = fmt.Sprintf("photo_%s_%d.jpg", sessionID, time.Now().UnixMilli())
	path = filepath.Join(s.opts.PhotosDir, filename)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", "", fmt.Errorf("writing photo: %w", err)
	}
	return filename, path, nil
}

func (s *Server) savePhoto(c *gin.Context) {
	var req savePhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	if !sessionIDPattern.MatchString(req.SessionID) {
		s.fail(c, http.StatusBadRequest, "invalid session id", nil)
		return
	}
	buf, err := raster.DecodeDataURL(req.ImageData)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid image data", err)
		return
	}
	img, err := raster.DecodeBytes(buf)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "decoding image", err)
		return
	}
	out, err := raster.Encode(req.Filters.Apply(img), raster.JPEG, SaveQuality)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "encoding photo", err)
		return
	}
	filename, path, err := s.writePhoto(req.SessionID, out)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "saving photo", err)
		return
	}
	s.log.Info("photo saved", zap.String("file", filename), zap.Int("size", len(out)))
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"filename": filename,
		"filepath": path,
		"url":      s.photoURL(filename),
	})
}

// photoPath returns the path of a file in the photos dir, refusing names
// that would leave it.
func (s *Server) photoPath(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return filepath.Join(s.opts.PhotosDir, name), true
}

func (s *Server) photo(c *gin.Context) {
	path, ok := s.photoPath(c.Param("filename"))
	if ok {
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			ok = false
		}
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Photo not found"})
		return
	}
	c.File(path)
}

type printPhotoRequest struct {
	Filepath string `json:"filepath" binding:"required"`
}

func (s *Server) printPhoto(c *gin.Context) {
	var req printPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	// Only photos saved by this server can be printed; a full path is
	// accepted as long as it is in the photos dir.
	path, ok := s.photoPath(filepath.Base(req.Filepath))
	if !ok || (filepath.IsAbs(req.Filepath) && filepath.Clean(req.Filepath) != mustAbs(path)) {
		s.fail(c, http.StatusNotFound, "Photo file not found", nil)
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.fail(c, http.StatusNotFound, "Photo file not found", nil)
		return
	}
	job, err := s.opts.Printer.Print(c.Request.Context(), path)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "printing photo", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Print job sent to printer", "jobId": job})
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
