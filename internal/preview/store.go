// Package preview holds the in-memory image previews handed out when a file
// is accepted, and serves them back to the browser.
package preview

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/pickabook/pickabook-agent/internal/metrics"
)

// PathPrefix is where the API mounts preview blobs.
const PathPrefix = "/previews/"

// Entry is a stored preview blob.
type Entry struct {
	ID          string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Handle is a scoped reference to a preview. Release is safe to call more
// than once and from any goroutine.
type Handle struct {
	ID   string
	Path string

	once    sync.Once
	release func(id string)
}

func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.release != nil {
			h.release(h.ID)
		}
	})
}

// Store keeps previews until they are released. Nothing expires on its own:
// the image that owns a handle may stay on screen indefinitely.
type Store struct {
	cache  *cache.Cache
	logger *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	c := cache.New(cache.NoExpiration, 0)
	c.OnEvicted(func(id string, _ interface{}) {
		metrics.PreviewsActive.Dec()
		if logger != nil {
			logger.Debug("preview released", "preview_id", id)
		}
	})

	return &Store{cache: c, logger: logger}
}

// Acquire stores data and returns a handle to it.
func (s *Store) Acquire(data []byte, contentType string) *Handle {
	id := uuid.NewString()
	s.cache.Set(id, &Entry{
		ID:          id,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}, cache.NoExpiration)
	metrics.PreviewsActive.Inc()

	return &Handle{ID: id, Path: PathPrefix + id, release: s.Release}
}

// Release drops the preview. Unknown ids are ignored.
func (s *Store) Release(id string) {
	// Delete fires OnEvicted only for present keys.
	s.cache.Delete(id)
}

func (s *Store) Get(id string) (*Entry, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// Len reports the number of live previews.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
