package session

import (
	"context"
	"sync"

	"github.com/snapbooth/photobooth-go/raster"
)

// Payload is the session state handed to the session layer once a composite
// is done. Images are data URLs.
type Payload struct {
	CapturedPhotos []string `json:"capturedPhotos"`
	CompositeImage string   `json:"compositeImage"`
	SelectedGrid   string   `json:"selectedGrid"`
	SelectedFrame  string   `json:"selectedFrame"`
}

// Payload builds the payload for the captured photos, the encoded final
// composite and the chosen frame ID.
func (c *Capture) Payload(final []byte, format raster.Format, frameID string) Payload {
	photos := c.Photos()
	p := Payload{
		CapturedPhotos: make([]string, len(photos)),
		SelectedGrid:   c.grid.ID,
		SelectedFrame:  frameID,
	}
	for i, buf := range photos {
		p.CapturedPhotos[i] = raster.DataURL(buf, raster.JPEG.MIME())
	}
	if len(final) > 0 {
		p.CompositeImage = raster.DataURL(final, format.MIME())
	}
	return p
}

// Store keeps session payloads by session ID.
type Store interface {
	Update(ctx context.Context, sessionID string, p Payload) error
	Get(ctx context.Context, sessionID string) (Payload, bool, error)
}

// MemoryStore is a Store in memory, for a single kiosk.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Payload
}

// Check that MemoryStore implements interface Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]Payload{}}
}

// Update replaces the payload of a session.
func (s *MemoryStore) Update(ctx context.Context, sessionID string, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = p
	return nil
}

// Get returns the payload of a session.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (Payload, bool, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[sessionID]
	return p, ok, nil
}
