package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/folio/service/internal/middleware"
	"github.com/folio/service/internal/notify"
	"github.com/folio/service/internal/response"
	"github.com/folio/service/internal/upload"
)

// formField is the multipart field images are sent in.
const formField = "image"

// multipartOverhead leaves room for boundaries and form fields sent ahead of
// the image.
const multipartOverhead = 1 << 20

// Handler holds HTTP handlers for upload sessions and committed assets.
type Handler struct {
	svc *Service
}

// NewHandler creates a new media Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the media endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)
			r.Post("/select", h.Select)
			r.Post("/drag-enter", h.DragEnter)
			r.Post("/drag-leave", h.DragLeave)
			r.Post("/drop", h.Drop)
			r.Delete("/preview", h.Remove)
			r.Post("/commit", h.Commit)
			r.Delete("/notifications/{notificationID}", h.DismissNotification)
		})
	})
	r.Route("/assets", func(r chi.Router) {
		r.Get("/", h.ListAssets)
		r.Get("/{assetID}", h.GetAsset)
		r.Delete("/{assetID}", h.DeleteAsset)
	})
}

type openSessionRequest struct {
	Owner           string   `json:"owner"                     example:"projects"`
	Value           string   `json:"value,omitempty"           example:"https://cdn.example.com/media/projects/cover.png"`
	MaxSize         float64  `json:"maxSize,omitempty"         example:"5"`
	AcceptedFormats []string `json:"acceptedFormats,omitempty" example:"image/jpeg,image/png"`
	AspectRatio     string   `json:"aspectRatio,omitempty"     example:"aspect-video"`
	ClassName       string   `json:"className,omitempty"`
	Disabled        bool     `json:"disabled,omitempty"`
}

type dragEnterRequest struct {
	Items int `json:"items" example:"1"`
}

type pendingBody struct {
	Name string `json:"name"     example:"cover.png"`
	Type string `json:"mimeType" example:"image/png"`
	Size int64  `json:"size"     example:"204800"`
}

type sessionBody struct {
	ID            string           `json:"id"    example:"e7eedc79-0707-4fe4-8734-526b7ef13a7b"`
	Owner         string           `json:"owner" example:"projects"`
	View          upload.View      `json:"view"`
	Pending       *pendingBody     `json:"pending,omitempty"`
	Notifications []notify.Message `json:"notifications"`
}

func newSessionBody(s *Session) sessionBody {
	body := sessionBody{
		ID:            s.ID,
		Owner:         s.Owner,
		View:          s.Control.View(),
		Notifications: s.Feed.Active(),
	}
	if f, ok := s.Pending(); ok {
		body.Pending = &pendingBody{Name: f.Name, Type: f.Type, Size: f.Size}
	}
	return body
}

// OpenSession godoc
//
//	@Summary		Open upload session
//	@Description	Creates an image upload control for one editor form. Limits default to the server configuration (5MB; jpeg, png, webp, gif).
//	@Tags			media
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		openSessionRequest	true	"Control configuration"
//	@Success		201		{object}	response.Envelope{data=sessionBody}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/media/sessions [post]
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	adminID, _ := middleware.AdminID(r.Context())

	sess, err := h.svc.OpenSession(r.Context(), OpenParams{
		Owner:   req.Owner,
		AdminID: adminID,
		Value:   req.Value,
		Config: upload.Config{
			MaxSizeMB:       req.MaxSize,
			AcceptedFormats: req.AcceptedFormats,
			AspectRatio:     req.AspectRatio,
			ClassName:       req.ClassName,
			Disabled:        req.Disabled,
		},
	})
	if errors.Is(err, ErrInvalidOwner) {
		response.BadRequest(w, "owner must be a lowercase collection name, e.g. projects")
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("open session")
		response.InternalError(w)
		return
	}

	response.Created(w, newSessionBody(sess))
}

// GetSession godoc
//
//	@Summary		Get upload session
//	@Description	Returns the control's render state and its active notifications.
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Success		200			{object}	response.Envelope{data=sessionBody}
//	@Failure		404			{object}	response.Envelope
//	@Router			/media/sessions/{sessionID} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	response.OK(w, newSessionBody(sess))
}

// CloseSession godoc
//
//	@Summary		Close upload session
//	@Description	Releases the session's preview without calling back and forgets any uncommitted image.
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Success		200			{object}	response.Envelope
//	@Failure		404			{object}	response.Envelope
//	@Router			/media/sessions/{sessionID} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Sessions().Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		response.NotFound(w, "upload session not found")
		return
	}
	response.OK(w, map[string]bool{"closed": true})
}

// Select godoc
//
//	@Summary		Select image
//	@Description	Manual file selection. Only the first file in the "image" field is used. Validation failures return 422 and leave the preview unchanged.
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Param			image		formData	file	true	"Image file"
//	@Success		200			{object}	response.Envelope{data=sessionBody}
//	@Failure		400			{object}	response.Envelope
//	@Failure		409			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Failure		422			{object}	response.Envelope{data=sessionBody}
//	@Router			/media/sessions/{sessionID}/select [post]
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	file, ok := h.readFirstFile(w, r, sess)
	if !ok {
		return
	}
	if file == nil {
		response.BadRequest(w, "image file is required")
		return
	}

	h.respondControl(w, sess, sess.Control.Select(r.Context(), *file))
}

// DragEnter godoc
//
//	@Summary		Drag enters drop target
//	@Tags			media
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string				true	"Session ID"
//	@Param			request		body		dragEnterRequest	true	"Number of dragged items"
//	@Success		200			{object}	response.Envelope{data=sessionBody}
//	@Failure		400			{object}	response.Envelope
//	@Failure		404			{object}	response.Envelope
//	@Router			/media/sessions/{sessionID}/drag-enter [post]
func (h *Handler) DragEnter(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req dragEnterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	sess.Control.DragEnter(req.Items)
	response.OK(w, newSessionBody(sess))
}

// DragLeave godoc
//
//	@Summary		Drag leaves drop target
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Success		200			{object}	response.Envelope{data=sessionBody}
//	@Failure		404			{object}	response.Envelope
//	@Router			/media/sessions/{sessionID}/drag-leave [post]
func (h *Handler) DragLeave(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.Control.DragLeave()
	response.OK(w, newSessionBody(sess))
}

// Drop godoc
//
//	@Summary		Drop files
//	@Description	Drops zero or more files on the drop target. Only the first file is read and selected; dropping nothing only clears the hover state.
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Param			image		formData	file	false	"Image files"
//	@Success		200			{object}	response.Envelope{data=sessionBody}
//	@Failure		409			{object}	response.Envelope
//	@Failure		413			{object}	response.Envelope
//	@Failure		422			{object}	response.Envelope{data=sessionBody}
//	@Router			/media/sessions/{sessionID}/drop [post]
func (h *Handler) Drop(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	// Every drop ends the hover, including one whose body cannot be read.
	sess.Control.DragLeave()

	file, ok := h.readFirstFile(w, r, sess)
	if !ok {
		return
	}
	var files []upload.Candidate
	if file != nil {
		files = append(files, *file)
	}
	h.respondControl(w, sess, sess.Control.Drop(r.Context(), files))
}

// Remove godoc
//
//	@Summary		Remove preview
//	@Description	Releases the displayed preview and discards the uncommitted image.
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Success		200			{object}	response.Envelope{data=sessionBody}
//	@Failure		404			{object}	response.Envelope
//	@Failure		409			{object}	response.Envelope
//	@Router			/media/sessions/{sessionID}/preview [delete]
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respondControl(w, sess, sess.Control.Remove(r.Context()))
}

// Commit godoc
//
//	@Summary		Commit image
//	@Description	Persists the image behind the current preview to object storage and returns its public URL.
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID	path		string	true	"Session ID"
//	@Success		200			{object}	response.Envelope{data=Asset}
//	@Failure		404			{object}	response.Envelope
//	@Failure		409			{object}	response.Envelope
//	@Failure		500			{object}	response.Envelope
//	@Router			/media/sessions/{sessionID}/commit [post]
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.Commit(r.Context(), chi.URLParam(r, "sessionID"))
	switch {
	case err == nil:
		response.OKMessage(w, "Image uploaded successfully", asset)
	case h.svc.IsNotFound(err):
		response.NotFound(w, "upload session not found")
	case errors.Is(err, ErrNothingToCommit):
		response.Conflict(w, "no image selected")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("commit image")
		response.InternalError(w)
	}
}

// DismissNotification godoc
//
//	@Summary		Dismiss notification
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			sessionID		path		string	true	"Session ID"
//	@Param			notificationID	path		string	true	"Notification ID"
//	@Success		200				{object}	response.Envelope{data=sessionBody}
//	@Failure		404				{object}	response.Envelope
//	@Router			/media/sessions/{sessionID}/notifications/{notificationID} [delete]
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if !sess.Feed.Dismiss(chi.URLParam(r, "notificationID")) {
		response.NotFound(w, "notification not found")
		return
	}
	response.OK(w, newSessionBody(sess))
}

// ListAssets godoc
//
//	@Summary		List committed images
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			owner	query		string	true	"Owner collection"
//	@Success		200		{object}	response.Envelope{data=[]Asset}
//	@Failure		400		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/media/assets [get]
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.svc.ListAssets(r.Context(), r.URL.Query().Get("owner"))
	if errors.Is(err, ErrInvalidOwner) {
		response.BadRequest(w, "owner query parameter is required")
		return
	}
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("list assets")
		response.InternalError(w)
		return
	}
	response.OK(w, assets)
}

// GetAsset godoc
//
//	@Summary		Get committed image
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			assetID	path		string	true	"Asset ID"
//	@Success		200		{object}	response.Envelope{data=Asset}
//	@Failure		404		{object}	response.Envelope
//	@Router			/media/assets/{assetID} [get]
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.GetAsset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		if h.svc.IsNotFound(err) {
			response.NotFound(w, "asset not found")
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("get asset")
		response.InternalError(w)
		return
	}
	response.OK(w, asset)
}

// DeleteAsset godoc
//
//	@Summary		Delete committed image
//	@Tags			media
//	@Produce		json
//	@Security		BearerAuth
//	@Param			assetID	path		string	true	"Asset ID"
//	@Success		200		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Router			/media/assets/{assetID} [delete]
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAsset(r.Context(), chi.URLParam(r, "assetID")); err != nil {
		if h.svc.IsNotFound(err) {
			response.NotFound(w, "asset not found")
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("delete asset")
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]bool{"deleted": true})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.svc.Sessions().Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.NotFound(w, "upload session not found")
		return nil, false
	}
	return sess, true
}

// respondControl maps the outcome of a control operation onto the envelope.
func (h *Handler) respondControl(w http.ResponseWriter, sess *Session, err error) {
	var verr *upload.ValidationError
	switch {
	case err == nil:
		response.OK(w, newSessionBody(sess))
	case errors.As(err, &verr):
		response.UnprocessableEntity(w, verr.Message, newSessionBody(sess))
	case errors.Is(err, upload.ErrDisabled):
		response.Conflict(w, "image upload is disabled")
	case errors.Is(err, upload.ErrNoDropTarget):
		response.Conflict(w, "remove the current image before dropping a new one")
	case errors.Is(err, upload.ErrClosed):
		response.NotFound(w, "upload session not found")
	default:
		response.InternalError(w)
	}
}

// readFirstFile streams the multipart body and returns the first file sent
// in the image field, read up to one byte past the size limit so validation
// can reject it. Later parts are never read. A body that is not multipart
// carries no file.
func (h *Handler) readFirstFile(w http.ResponseWriter, r *http.Request, sess *Session) (*upload.Candidate, bool) {
	cfg := sess.Control.Config()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBytes()+multipartOverhead)

	mr, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		return nil, true
	}
	if err != nil {
		response.BadRequest(w, "invalid multipart body")
		return nil, false
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, true
		}
		if err != nil {
			rejectBody(w, r, sess, err)
			return nil, false
		}
		if part.FormName() != formField {
			continue
		}

		c, err := readCandidate(part, cfg.MaxBytes()+1)
		if err != nil {
			rejectBody(w, r, sess, err)
			return nil, false
		}
		return &c, true
	}
}

// rejectBody answers a request whose body could not be read.
func rejectBody(w http.ResponseWriter, r *http.Request, sess *Session, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		msg := sess.Control.Config().OversizeMessage()
		sess.Feed.Error(msg)
		response.TooLarge(w, msg)
		return
	}
	log.Ctx(r.Context()).Warn().Err(err).Msg("read multipart body")
	response.BadRequest(w, "invalid multipart body")
}

func readCandidate(part *multipart.Part, limit int64) (upload.Candidate, error) {
	data, err := io.ReadAll(io.LimitReader(part, limit))
	if err != nil {
		return upload.Candidate{}, fmt.Errorf("read %q: %w", part.FileName(), err)
	}
	return upload.Candidate{
		Name: part.FileName(),
		Type: part.Header.Get("Content-Type"),
		Size: int64(len(data)),
		Data: data,
	}, nil
}
