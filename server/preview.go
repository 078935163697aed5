package server

import (
	"context"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/pipeline"
	"github.com/snapbooth/photobooth-go/raster"
)

// BroadcasterOpts are options for NewBroadcaster.
type BroadcasterOpts struct {
	Logger  *zap.Logger
	Quality int // JPEG quality, 70 if 0.

	// MaxWidth scales frames down before encoding. Full size if 0.
	MaxWidth int
}

// Broadcaster sends the displayed frames as binary JPEG websocket messages to
// every connected client. It is a pipeline Sink. Encoding happens in Run, off
// the render loop; slow clients skip frames.
type Broadcaster struct {
	opts BroadcasterOpts
	log  *zap.Logger

	upgrader websocket.Upgrader
	notify   chan struct{}

	mu      sync.Mutex
	latest  *image.NRGBA
	clients map[*previewClient]struct{}
}

var _ pipeline.Sink = (*Broadcaster)(nil)

type previewClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewBroadcaster makes a broadcaster. Call Run to start sending.
func NewBroadcaster(opts *BroadcasterOpts) *Broadcaster {
	b := &Broadcaster{
		notify:  make(chan struct{}, 1),
		clients: map[*previewClient]struct{}{},
	}
	if opts != nil {
		b.opts = *opts
	}
	if b.opts.Quality <= 0 {
		b.opts.Quality = 70
	}
	b.log = photobooth.LoggerOrNop(b.opts.Logger)
	b.upgrader = websocket.Upgrader{
		// The kiosk UI may be served from another local origin.
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 256 * 1024,
	}
	return b
}

// Present keeps frame as the next frame to send.
func (b *Broadcaster) Present(frame *image.NRGBA) {
	b.mu.Lock()
	b.latest = frame
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Run encodes presented frames and sends them to the clients until ctx is
// done. Then all clients are disconnected.
func (b *Broadcaster) Run(ctx context.Context) {
	defer func() {
		b.mu.Lock()
		for c := range b.clients {
			c.conn.Close()
		}
		b.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}

		b.mu.Lock()
		frame := b.latest
		n := len(b.clients)
		b.mu.Unlock()
		if frame == nil || n == 0 {
			continue
		}

		img := image.Image(frame)
		if b.opts.MaxWidth > 0 && frame.Rect.Dx() > b.opts.MaxWidth {
			img = imaging.Fit(frame, b.opts.MaxWidth, frame.Rect.Dy(), imaging.Linear)
		}
		buf, err := raster.Encode(img, raster.JPEG, b.opts.Quality)
		if err != nil {
			b.log.Warn("encoding preview frame", zap.Error(err))
			continue
		}

		b.mu.Lock()
		for c := range b.clients {
			select {
			case c.send <- buf:
			default:
				// Client still busy with the previous frame.
			}
		}
		b.mu.Unlock()
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &previewClient{conn: conn, send: make(chan []byte, 1)}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.log.Info("preview client connected", zap.String("addr", conn.RemoteAddr().String()))

	done := make(chan struct{})
	quit := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case buf := <-c.send:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
					conn.Close()
					return
				}
			case <-quit:
				return
			}
		}
	}()

	// Clients do not send anything, reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn("preview client", zap.Error(err))
			}
			break
		}
	}
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	close(quit)
	conn.Close()
	<-done
	b.log.Info("preview client disconnected", zap.String("addr", conn.RemoteAddr().String()))
}
