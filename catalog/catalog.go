// Package catalog discovers the frame overlays available to the booth and
// loads them for compositing and previews.
package catalog

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	photobooth "github.com/snapbooth/photobooth-go"
	"github.com/snapbooth/photobooth-go/composite"
)

// NoneID is the ID of the synthetic "no frame" entry. It has no image; the
// composite is used as is.
const NoneID = "none"

// Entry is a frame in the catalog.
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path,omitempty"` // Empty for the "no frame" entry.
}

// None is the "no frame" entry listed first by List.
var None = Entry{ID: NoneID, Name: "No Frame"}

// Opts are options for a new Catalog.
type Opts struct {
	Logger *zap.Logger

	// File extensions of frame files, ".png" and ".webp" if empty.
	Extensions []string
}

// Catalog lists the frame files in a directory.
type Catalog struct {
	dir  string
	exts []string
	log  *zap.Logger

	mu      sync.Mutex
	entries []Entry
	images  map[string]*image.NRGBA // Decoded frames by ID.
}

// New scans dir for frames. A missing or unreadable directory gives a
// catalog with only the "no frame" entry, and the error is logged.
func New(dir string, opts *Opts) *Catalog {
	c := &Catalog{dir: dir}
	var o Opts
	if opts != nil {
		o = *opts
	}
	c.log = photobooth.LoggerOrNop(o.Logger)
	c.exts = o.Extensions
	if len(c.exts) == 0 {
		c.exts = []string{".png", ".webp"}
	}
	if err := c.Rescan(); err != nil {
		c.log.Warn("scanning frames", zap.String("dir", dir), zap.Error(err))
	}
	return c
}

// Dir returns the frames directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// rank returns the position of the extension of name in the configured
// extensions, or -1 if name is not a frame.
func (c *Catalog) rank(name string) int {
	ext := strings.ToLower(filepath.Ext(name))
	for i, e := range c.exts {
		if ext == e {
			return i
		}
	}
	return -1
}

// Rescan reads the frames directory again.
func (c *Catalog) Rescan() error {
	dirents, err := os.ReadDir(c.dir)
	var entries []Entry
	if err == nil {
		// Frames with the same name and different extensions share an ID,
		// the earliest configured extension wins.
		seen := map[string]int{}
		ranks := map[string]int{}
		for _, de := range dirents {
			r := c.rank(de.Name())
			if de.IsDir() || r < 0 {
				continue
			}
			id := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
			if id == NoneID {
				continue
			}
			e := Entry{
				ID:   id,
				Name: DisplayName(id),
				Path: filepath.Join(c.dir, de.Name()),
			}
			if i, ok := seen[id]; ok {
				keep := entries[i].Path
				if r < ranks[id] {
					keep = e.Path
					entries[i] = e
					ranks[id] = r
				}
				c.log.Warn("duplicate frame id", zap.String("id", id), zap.String("using", keep))
				continue
			}
			seen[id] = len(entries)
			ranks[id] = r
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			a, b := strings.ToLower(entries[i].Name), strings.ToLower(entries[j].Name)
			if a != b {
				return a < b
			}
			return entries[i].ID < entries[j].ID
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.images = map[string]*image.NRGBA{}
	if err != nil {
		return fmt.Errorf("reading frames dir: %w", err)
	}
	return nil
}

var wordStart = regexp.MustCompile(`\b\w`)

// DisplayName turns a frame file name into a display name: hyphens and
// underscores become spaces and every word starts with a capital.
func DisplayName(id string) string {
	s := strings.NewReplacer("-", " ", "_", " ").Replace(id)
	return wordStart.ReplaceAllStringFunc(s, strings.ToUpper)
}

// List returns the "no frame" entry followed by the frames sorted by name,
// ignoring case.
func (c *Catalog) List() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := make([]Entry, 0, len(c.entries)+1)
	l = append(l, None)
	return append(l, c.entries...)
}

// Lookup returns the entry with the given ID.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	if id == NoneID || id == "" {
		return None, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Load decodes the frame with the given ID. The "no frame" entry, and the
// empty ID, load as a nil image. Errors match photobooth.ErrAssetLoad.
func (c *Catalog) Load(id string) (*image.NRGBA, error) {
	e, ok := c.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: unknown frame %q", photobooth.ErrAssetLoad, id)
	}
	if e.Path == "" {
		return nil, nil
	}

	c.mu.Lock()
	img := c.images[id]
	c.mu.Unlock()
	if img != nil {
		return img, nil
	}

	src, err := imaging.Open(e.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: frame %q: %v", photobooth.ErrAssetLoad, id, err)
	}
	img = imaging.Clone(src)

	c.mu.Lock()
	if c.images != nil {
		c.images[id] = img
	}
	c.mu.Unlock()
	return img, nil
}

// Preview returns a thumbnail of the frame that fits maxW×maxH, on white.
// The "no frame" entry has no preview and returns nil.
func (c *Catalog) Preview(id string, maxW, maxH int) (*image.NRGBA, error) {
	img, err := c.Load(id)
	if err != nil || img == nil {
		return nil, err
	}
	return composite.Preview(img, maxW, maxH)
}

// Watch rescans the catalog whenever frame files are added, removed or
// changed, until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new file change watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("registering file change watcher for frames dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if c.rank(ev.Name) < 0 || ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if err := c.Rescan(); err != nil {
				c.log.Warn("rescanning frames", zap.Error(err))
				continue
			}
			c.log.Info("frames changed", zap.String("file", filepath.Base(ev.Name)), zap.Stringer("op", ev.Op))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("watching frames dir", zap.Error(err))
		}
	}
}
