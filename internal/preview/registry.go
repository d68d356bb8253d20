// Package preview keeps transient, in-memory image previews addressable by
// opaque handles until they are released.
package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrEmpty is returned when Create is called without data.
var ErrEmpty = errors.New("empty preview data")

// URLPrefix is the path under which previews are rendered.
const URLPrefix = "/previews/"

// Handle identifies a live preview. The zero value refers to nothing.
type Handle string

// URL returns the render source for the handle.
func (h Handle) URL() string {
	if h == "" {
		return ""
	}
	return URLPrefix + string(h)
}

// FromURL extracts the handle from a render source produced by URL.
// Values that were not produced by this package yield ok=false.
func FromURL(src string) (Handle, bool) {
	if len(src) <= len(URLPrefix) || src[:len(URLPrefix)] != URLPrefix {
		return "", false
	}
	id := src[len(URLPrefix):]
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return Handle(id), true
}

// Blob is the renderable content behind a handle.
type Blob struct {
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

type entry struct {
	blob  Blob
	timer *time.Timer
}

// Registry is an in-memory store of preview blobs. A handle resolves until it
// is released, either explicitly or by its TTL expiring; afterwards it never
// resolves again.
type Registry struct {
	mu   sync.RWMutex
	data map[Handle]*entry
	ttl  time.Duration
	now  func() time.Time
}

// NewRegistry creates an empty registry. A positive ttl releases previews
// that were never released by their owner.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		data: make(map[Handle]*entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Create stores a copy of data and returns a new live handle. When the TTL
// releases the handle, onExpire (if not nil) is called with it so the owner
// can drop its reference; explicit releases never call it.
func (r *Registry) Create(ctx context.Context, data []byte, contentType string, onExpire func(Handle)) (Handle, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	h := Handle(uuid.NewString())

	buf := make([]byte, len(data))
	copy(buf, data)

	e := &entry{blob: Blob{Data: buf, ContentType: contentType, CreatedAt: r.now()}}

	r.mu.Lock()
	r.data[h] = e
	if r.ttl > 0 {
		e.timer = time.AfterFunc(r.ttl, func() {
			if !r.Release(context.Background(), h) {
				return
			}
			log.Debug().Str("preview", string(h)).Msg("preview expired")
			if onExpire != nil {
				onExpire(h)
			}
		})
	}
	r.mu.Unlock()

	log.Ctx(ctx).Debug().Str("preview", string(h)).Int("bytes", len(buf)).Msg("preview created")
	return h, nil
}

// Resolve returns a copy of the blob behind h.
func (r *Registry) Resolve(h Handle) (Blob, bool) {
	r.mu.RLock()
	e, ok := r.data[h]
	r.mu.RUnlock()
	if !ok {
		return Blob{}, false
	}
	out := e.blob
	out.Data = make([]byte, len(e.blob.Data))
	copy(out.Data, e.blob.Data)
	return out, true
}

// Release frees the blob behind h. It reports true only for the call that
// actually released it; releasing an unknown or already released handle is a no-op.
func (r *Registry) Release(ctx context.Context, h Handle) bool {
	r.mu.Lock()
	e, ok := r.data[h]
	if ok {
		delete(r.data, h)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	log.Ctx(ctx).Debug().Str("preview", string(h)).Int("bytes", len(e.blob.Data)).Msg("preview released")
	return true
}

// Len returns the number of live previews.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
