package server

import (
	"errors"
	"image"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/catalog"
	"github.com/snapbooth/photobooth-go/composite"
	"github.com/snapbooth/photobooth-go/raster"
)

type gridInfo struct {
	composite.GridSpec
	Page  composite.PageSize `json:"page"`
	Cells int                `json:"cells"`
}

func (s *Server) grids(c *gin.Context) {
	var l []gridInfo
	for _, g := range composite.Grids() {
		l = append(l, gridInfo{g, composite.PageSizeFor(g), g.TotalCells()})
	}
	c.JSON(http.StatusOK, gin.H{"grids": l})
}

type frameInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

func (s *Server) frames(c *gin.Context) {
	var l []frameInfo
	for _, e := range s.opts.Frames.List() {
		fi := frameInfo{ID: e.ID, Name: e.Name}
		if e.Path != "" {
			fi.PreviewURL = "/api/frames/" + e.ID + "/preview"
		}
		l = append(l, fi)
	}
	c.JSON(http.StatusOK, gin.H{"frames": l})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func (s *Server) framePreview(c *gin.Context) {
	id := c.Param("id")
	w := queryInt(c, "w", s.opts.PreviewWidth)
	h := queryInt(c, "h", s.opts.PreviewHeight)
	img, err := s.opts.Frames.Preview(id, w, h)
	if err != nil || img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Frame not found"})
		return
	}
	buf, err := raster.Encode(img, raster.PNG, 0)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "encoding preview", err)
		return
	}
	c.Header("Cache-Control", "max-age=60")
	c.Data(http.StatusOK, raster.PNG.MIME(), buf)
}

// layoutRequest selects how a composite is built and framed. Empty fields
// take the server defaults.
type layoutRequest struct {
	FrameID   string `json:"frameId"`
	Policy    string `json:"policy"`
	Mode      string `json:"mode"`
	Alignment string `json:"alignment"`
}

func (r *layoutRequest) opts(s *Server) (*composite.Opts, *composite.FrameOpts, error) {
	lo := s.opts.Composite
	fo := s.opts.Frame
	if lo.DPI == 0 {
		lo = *composite.DefaultOpts()
	}
	fo.DPI = lo.DPI
	var err error
	if r.Policy != "" {
		if lo.Policy, err = composite.ParsePolicy(r.Policy); err != nil {
			return nil, nil, err
		}
	}
	if r.Mode != "" {
		if fo.Mode, err = composite.ParseMode(r.Mode); err != nil {
			return nil, nil, err
		}
	}
	if r.Alignment != "" {
		if fo.Alignment, err = composite.ParseAlignment(r.Alignment); err != nil {
			return nil, nil, err
		}
	}
	return &lo, &fo, nil
}

type compositeRequest struct {
	layoutRequest
	Photos []string            `json:"photos" binding:"required"`
	GridID string              `json:"gridId"`
	Grid   *composite.GridSpec `json:"grid"`
}

// compositeStatus maps composite errors to HTTP statuses.
func compositeStatus(err error) int {
	switch {
	case errors.Is(err, photobooth.ErrInvalidPhotoCount),
		errors.Is(err, photobooth.ErrInvalidGridSpec),
		errors.Is(err, photobooth.ErrAssetLoad):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// loadFrame returns the frame image for id, nil for no frame.
func (s *Server) loadFrame(id string) (image.Image, error) {
	if id == "" || id == catalog.NoneID {
		return nil, nil
	}
	img, err := s.opts.Frames.Load(id)
	if err != nil || img == nil {
		return nil, err
	}
	return img, nil
}

// encodeResult encodes a framed composite as PNG, and a plain one as JPEG.
func encodeResult(img image.Image, framed bool) ([]byte, raster.Format, error) {
	f := raster.JPEG
	if framed {
		f = raster.PNG
	}
	buf, err := raster.Encode(img, f, 0)
	return buf, f, err
}

func (s *Server) compose(c *gin.Context) {
	var req compositeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "invalid request", err)
		return
	}
	var g composite.GridSpec
	switch {
	case req.Grid != nil:
		g = *req.Grid
	case req.GridID != "":
		var ok bool
		if g, ok = composite.GridByID(req.GridID); !ok {
			s.fail(c, http.StatusBadRequest, "unknown grid "+strconv.Quote(req.GridID), nil)
			return
		}
	default:
		s.fail(c, http.StatusBadRequest, "missing grid", nil)
		return
	}
	lo, fo, err := req.opts(s)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "invalid layout", err)
		return
	}

	photos := make([]image.Image, len(req.Photos))
	for i, p := range req.Photos {
		buf, err := raster.DecodeDataURL(p)
		if err == nil {
			photos[i], err = raster.DecodeBytes(buf)
		}
		if err != nil {
			s.fail(c, http.StatusBadRequest, "decoding photo "+strconv.Itoa(i), err)
			return
		}
	}
	img, err := composite.Layout(photos, g, lo)
	if err != nil {
		s.fail(c, compositeStatus(err), "composing photos", err)
		return
	}
	frame, err := s.loadFrame(req.FrameID)
	if err != nil {
		s.fail(c, compositeStatus(err), "loading frame", err)
		return
	}
	if frame != nil {
		if img, err = composite.ApplyFrame(img, g, frame, fo); err != nil {
			s.fail(c, compositeStatus(err), "applying frame", err)
			return
		}
	}
	buf, f, err := encodeResult(img, frame != nil)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "encoding composite", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"width":   img.Bounds().Dx(),
		"height":  img.Bounds().Dy(),
		"image":   raster.DataURL(buf, f.MIME()),
	})
}
