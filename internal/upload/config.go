package upload

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultMaxSizeMB   = 5
	DefaultAspectRatio = "aspect-video"
)

// DefaultAcceptedFormats lists the MIME types accepted when none are configured.
var DefaultAcceptedFormats = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Candidate is a file offered to a control, either picked manually or dropped.
type Candidate struct {
	Name string
	Type string // MIME type as reported by the client
	Size int64
	Data []byte
}

// Config holds the caller-supplied limits and display hints of a control.
// It is fixed for the lifetime of the control.
type Config struct {
	MaxSizeMB       float64  `json:"maxSize,omitempty"`
	AcceptedFormats []string `json:"acceptedFormats,omitempty"`
	AspectRatio     string   `json:"aspectRatio,omitempty"`
	ClassName       string   `json:"className,omitempty"`
	Disabled        bool     `json:"disabled,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = DefaultMaxSizeMB
	}
	if len(c.AcceptedFormats) == 0 {
		c.AcceptedFormats = DefaultAcceptedFormats
	}
	c.AcceptedFormats = slices.Clone(c.AcceptedFormats)
	if c.AspectRatio == "" {
		c.AspectRatio = DefaultAspectRatio
	}
	return c
}

// MaxBytes is the largest accepted file size.
func (c Config) MaxBytes() int64 {
	return int64(c.MaxSizeMB * 1024 * 1024)
}

// Accepts reports whether mimeType is one of the accepted formats.
func (c Config) Accepts(mimeType string) bool {
	return slices.Contains(c.AcceptedFormats, mimeType)
}

// FormatNames returns the accepted formats with their MIME top-level
// category stripped, e.g. "image/png" becomes "png".
func (c Config) FormatNames() []string {
	names := make([]string, 0, len(c.AcceptedFormats))
	for _, f := range c.AcceptedFormats {
		if _, sub, ok := strings.Cut(f, "/"); ok {
			f = sub
		}
		names = append(names, f)
	}
	return names
}

func (c Config) sizeLabel() string {
	return strconv.FormatFloat(c.MaxSizeMB, 'f', -1, 64) + "MB"
}

// Reason classifies a rejected candidate.
type Reason string

const (
	ReasonType Reason = "type"
	ReasonSize Reason = "size"
)

// ValidationError reports why a candidate was rejected. Message is suitable
// for showing to the user.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// check validates f against the config without side effects.
func (c Config) check(f Candidate) *ValidationError {
	if !c.Accepts(f.Type) {
		return &ValidationError{
			Reason:  ReasonType,
			Message: "File type not supported. Accepted formats: " + strings.Join(c.FormatNames(), ", "),
		}
	}
	if f.Size > c.MaxBytes() {
		return &ValidationError{Reason: ReasonSize, Message: c.OversizeMessage()}
	}
	return nil
}

// OversizeMessage is the user-facing rejection for files above the limit.
func (c Config) OversizeMessage() string {
	return fmt.Sprintf("File size too large. Maximum size: %s", c.sizeLabel())
}
