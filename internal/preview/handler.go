package preview

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/folio/service/internal/response"
)

// Handler renders live previews.
type Handler struct {
	reg *Registry
}

// NewHandler creates a new preview Handler.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// Get godoc
//
//	@Summary		Render preview
//	@Description	Streams the bytes behind a live preview handle. Released or expired handles are never rendered again.
//	@Tags			previews
//	@Produce		image/jpeg,image/png,image/webp,image/gif
//	@Param			handle	path		string	true	"Preview handle"
//	@Success		200		{file}		binary
//	@Failure		404		{object}	response.Envelope
//	@Router			/previews/{handle} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	blob, ok := h.reg.Resolve(Handle(chi.URLParam(r, "handle")))
	if !ok {
		response.NotFound(w, "preview not found")
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob.Data)
}
