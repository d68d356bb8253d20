// Package upload implements the image upload control used by the admin
// editors: it validates a candidate image, turns it into a local preview and
// hands both to its caller, while owning the preview's lifetime.
//
// The control never talks to the network. Persisting the image is the
// caller's job, triggered from the change callback or later.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/folio/service/internal/notify"
	"github.com/folio/service/internal/preview"
)

// User-facing notification texts.
const (
	msgUploaded     = "Image uploaded successfully"
	msgUploadFailed = "Failed to upload image"
)

var (
	// ErrDisabled is returned when an affordance is used on a disabled control.
	ErrDisabled = errors.New("upload control is disabled")
	// ErrNoDropTarget is returned when files are dropped while a preview is shown.
	ErrNoDropTarget = errors.New("no drop target while a preview is shown")
	// ErrClosed is returned by operations on a closed control.
	ErrClosed = errors.New("upload control is closed")
)

// State is the observable state of a control.
type State string

const (
	StateEmpty      State = "empty"
	StateDragHover  State = "drag_hover"
	StateUploading  State = "uploading"
	StateHasPreview State = "has_preview"
)

// ChangeFunc receives the new preview reference and the file it was made
// from. On removal it receives an empty reference and a nil file. The
// reference stays owned by the control.
type ChangeFunc func(ref string, file *Candidate) error

// RemoveFunc is called instead of the change callback when the preview is removed.
type RemoveFunc func() error

// Previews creates and releases preview references. A preview that expires
// on its own is reported through onExpire.
type Previews interface {
	Create(ctx context.Context, data []byte, contentType string, onExpire func(preview.Handle)) (preview.Handle, error)
	Release(ctx context.Context, h preview.Handle) bool
}

// Options configure a Control.
type Options struct {
	// Value is the preview shown initially, if any.
	Value    string
	OnChange ChangeFunc
	OnRemove RemoveFunc
	Config   Config
	Notifier notify.Notifier
	Logger   *zerolog.Logger
	Previews Previews
}

// Control is a single image upload control. Its operations are serialized;
// callbacks may read the control but must not call its mutating operations.
type Control struct {
	op sync.Mutex // serializes operations

	cfg      Config
	onChange ChangeFunc
	onRemove RemoveFunc
	notifier notify.Notifier
	log      zerolog.Logger
	previews Previews

	mu         sync.RWMutex // guards the fields below
	value      string
	busy       bool
	dragActive bool
	closed     bool
}

// New creates a control. OnChange, Notifier and Previews are required.
func New(opts Options) (*Control, error) {
	if opts.OnChange == nil {
		return nil, errors.New("upload: OnChange is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("upload: Notifier is required")
	}
	if opts.Previews == nil {
		return nil, errors.New("upload: Previews is required")
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Control{
		cfg:      opts.Config.withDefaults(),
		onChange: opts.OnChange,
		onRemove: opts.OnRemove,
		notifier: opts.Notifier,
		log:      logger.With().Str("component", "image_upload").Logger(),
		previews: opts.Previews,
		value:    opts.Value,
	}, nil
}

// Config returns the effective configuration.
func (c *Control) Config() Config {
	return c.cfg
}

// Value returns the preview reference currently displayed, or "".
func (c *Control) Value() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// State returns the current state.
func (c *Control) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Control) stateLocked() State {
	switch {
	case c.busy:
		return StateUploading
	case c.value != "":
		return StateHasPreview
	case c.dragActive:
		return StateDragHover
	default:
		return StateEmpty
	}
}

// Validate checks f against the control's limits. A rejection raises one
// error notification and is returned as a *ValidationError.
func (c *Control) Validate(f Candidate) error {
	if verr := c.cfg.check(f); verr != nil {
		c.notifier.Error(verr.Message)
		return verr
	}
	return nil
}

// Select validates f and, if it passes, replaces the displayed preview with
// one made from f. Only validation and disabled errors are returned; any
// later failure is reported to the user and logged, and leaves the previous
// preview in place.
func (c *Control) Select(ctx context.Context, f Candidate) error {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.usable(); err != nil {
		return err
	}
	return c.selectLocked(ctx, f)
}

func (c *Control) selectLocked(ctx context.Context, f Candidate) error {
	if err := c.Validate(f); err != nil {
		return err
	}

	c.setBusy(true)
	defer c.setBusy(false)

	if err := c.establish(ctx, f); err != nil {
		c.notifier.Error(msgUploadFailed)
		c.log.Error().Err(err).Str("file", f.Name).Str("type", f.Type).Int64("size", f.Size).Msg("upload error")
	}
	return nil
}

// establish creates the new preview, hands it to the caller and only then
// retires the previous one.
func (c *Control) establish(ctx context.Context, f Candidate) error {
	h, err := c.previews.Create(ctx, f.Data, f.Type, c.expire)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}
	ref := h.URL()

	file := f
	if err := guard(func() error { return c.onChange(ref, &file) }); err != nil {
		c.previews.Release(ctx, h)
		return fmt.Errorf("change callback: %w", err)
	}

	c.mu.Lock()
	prev := c.value
	c.value = ref
	c.mu.Unlock()
	c.release(ctx, prev)

	c.notifier.Success(msgUploaded)
	return nil
}

// Remove releases the displayed preview, if any, and notifies the caller
// through OnRemove, or OnChange with an empty reference when OnRemove is not set.
func (c *Control) Remove(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if err := c.usable(); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.value
	c.value = ""
	c.mu.Unlock()
	c.release(ctx, prev)

	if err := c.notifyRemoved(); err != nil {
		c.log.Error().Err(err).Msg("remove callback failed")
		return fmt.Errorf("remove callback: %w", err)
	}
	return nil
}

// notifyRemoved tells the caller that no image is selected any more.
func (c *Control) notifyRemoved() error {
	if c.onRemove != nil {
		return guard(c.onRemove)
	}
	return guard(func() error { return c.onChange("", nil) })
}

// expire runs when the registry released h on its own. If h is still the
// displayed preview the control drops it and reports a removal; stale
// handles are ignored.
func (c *Control) expire(h preview.Handle) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	if c.value == "" || c.value != h.URL() {
		c.mu.Unlock()
		return
	}
	c.value = ""
	c.mu.Unlock()

	c.log.Info().Str("preview", string(h)).Msg("preview expired")
	if err := c.notifyRemoved(); err != nil {
		c.log.Error().Err(err).Msg("remove callback failed")
	}
}

// DragEnter marks the drop target as hovered when at least one item is dragged.
// It has no effect while a preview is shown.
func (c *Control) DragEnter(items int) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if items > 0 && c.value == "" && !c.closed {
		c.dragActive = true
	}
}

// DragLeave clears the hover flag.
func (c *Control) DragLeave() {
	c.op.Lock()
	defer c.op.Unlock()
	c.setDragActive(false)
}

// Drop clears the hover flag and selects the first of files. Dropping
// nothing changes nothing.
func (c *Control) Drop(ctx context.Context, files []Candidate) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.setDragActive(false)
	if len(files) == 0 {
		return nil
	}
	if err := c.usable(); err != nil {
		return err
	}
	if c.Value() != "" {
		return ErrNoDropTarget
	}
	return c.selectLocked(ctx, files[0])
}

// Close releases the displayed preview without calling back. The control
// must not be used afterwards.
func (c *Control) Close(ctx context.Context) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	prev := c.value
	c.value = ""
	c.dragActive = false
	c.closed = true
	c.mu.Unlock()
	c.release(ctx, prev)
}

func (c *Control) usable() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if c.cfg.Disabled {
		return ErrDisabled
	}
	return nil
}

// release frees ref when it is a preview reference. Values that point
// elsewhere, such as an already persisted URL, are left alone.
func (c *Control) release(ctx context.Context, ref string) {
	if h, ok := preview.FromURL(ref); ok {
		c.previews.Release(ctx, h)
	}
}

func (c *Control) setBusy(v bool) {
	c.mu.Lock()
	c.busy = v
	c.mu.Unlock()
}

func (c *Control) setDragActive(v bool) {
	c.mu.Lock()
	c.dragActive = v
	c.mu.Unlock()
}

// guard runs fn and turns a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
