package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/folio/service/internal/notify"
	"github.com/folio/service/internal/preview"
	"github.com/folio/service/internal/upload"
)

// memStorage is an in-memory storage.Storage.
type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	onUpload  func()
}

func newMemStorage() *memStorage { return &memStorage{objects: map[string][]byte{}} }

func (s *memStorage) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if s.onUpload != nil {
		s.onUpload()
	}
	if s.uploadErr != nil {
		return s.uploadErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = b
	s.mu.Unlock()
	return nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *memStorage) PublicURL(key string) string { return "http://cdn.test/media/" + key }

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// memAssets is an in-memory AssetStore.
type memAssets struct {
	mu     sync.Mutex
	assets map[string]*Asset
	seq    int
}

func newMemAssets() *memAssets { return &memAssets{assets: map[string]*Asset{}} }

func (m *memAssets) Create(_ context.Context, a *Asset) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *a
	out.ID = uuid.NewString()
	m.seq++
	out.CreatedAt = time.Unix(int64(m.seq), 0)
	m.assets[out.ID] = &out
	return &out, nil
}

func (m *memAssets) GetByID(_ context.Context, id string) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (m *memAssets) ListByOwner(_ context.Context, owner string, limit int) ([]*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Asset{}
	for _, a := range m.assets {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAssets) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok {
		return ErrNotFound
	}
	delete(m.assets, id)
	return nil
}

type fixture struct {
	router   chi.Router
	svc      *Service
	previews *preview.Registry
	store    *memStorage
	assets   *memAssets
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		previews: preview.NewRegistry(0),
		store:    newMemStorage(),
		assets:   newMemAssets(),
	}
	sessions := NewSessions(f.previews, upload.Config{MaxSizeMB: 5, AcceptedFormats: upload.DefaultAcceptedFormats})
	f.svc = NewService(sessions, f.store, f.assets)

	r := chi.NewRouter()
	r.Route("/api/v1/media", NewHandler(f.svc).Routes)
	r.Get("/previews/{handle}", preview.NewHandler(f.previews).Get)
	f.router = r
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (f *fixture) openSession(t *testing.T, body string) sessionBody {
	t.Helper()
	code, env := f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/media/sessions", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, code, env.Error)
	var sb sessionBody
	require.NoError(t, json.Unmarshal(env.Data, &sb))
	return sb
}

type part struct {
	name        string
	contentType string
	data        []byte
}

func multipartRequest(t *testing.T, url string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, p.name))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// noteThenImageRequest sends a text field of noteSize bytes ahead of a small image.
func noteThenImageRequest(t *testing.T, url string, noteSize int) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", string(bytes.Repeat([]byte("a"), noteSize))))
	fw, err := mw.CreateFormFile(formField, "a.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeSession(t *testing.T, env envelope) sessionBody {
	t.Helper()
	var sb sessionBody
	require.NoError(t, json.Unmarshal(env.Data, &sb))
	return sb
}

func countSeverity(msgs []notify.Message, sev notify.Severity) int {
	n := 0
	for _, m := range msgs {
		if m.Severity == sev {
			n++
		}
	}
	return n
}

func TestSelectCommitFlow(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects"}`)
	require.Equal(t, upload.StateEmpty, sb.View.State)
	require.Equal(t, "JPEG, PNG, WEBP, GIF up to 5MB", sb.View.Hint)

	base := "/api/v1/media/sessions/" + sb.ID
	code, env := f.do(t, multipartRequest(t, base+"/select", part{"cover.png", "image/png", []byte("png-data")}))
	require.Equal(t, http.StatusOK, code, env.Error)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateHasPreview, sb.View.State)
	require.True(t, sb.View.CanRemove)
	require.NotNil(t, sb.Pending)
	require.Equal(t, "cover.png", sb.Pending.Name)
	require.Equal(t, 1, countSeverity(sb.Notifications, notify.SeveritySuccess))

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, sb.View.PreviewURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "png-data", rec.Body.String())

	code, env = f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusOK, code, env.Error)
	require.Equal(t, "Image uploaded successfully", env.Message)
	var asset Asset
	require.NoError(t, json.Unmarshal(env.Data, &asset))
	require.Equal(t, "projects", asset.Owner)
	require.Equal(t, "image/png", asset.MimeType)
	require.Equal(t, int64(len("png-data")), asset.Size)
	require.Equal(t, "http://cdn.test/media/"+asset.ObjectKey, asset.URL)
	require.Equal(t, 1, f.store.count())

	code, _ = f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusConflict, code)

	code, env = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/media/assets?owner=projects", nil))
	require.Equal(t, http.StatusOK, code)
	var listed []Asset
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	require.Len(t, listed, 1)
	require.Equal(t, asset.ID, listed[0].ID)
}

func TestSelectRejectedTypeReturns422(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects","acceptedFormats":["image/jpeg","image/png"],"maxSize":5}`)

	code, env := f.do(t, multipartRequest(t, "/api/v1/media/sessions/"+sb.ID+"/select", part{"anim.gif", "image/gif", []byte("gif")}))

	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "File type not supported. Accepted formats: jpeg, png", env.Error)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateEmpty, sb.View.State)
	require.Equal(t, 1, countSeverity(sb.Notifications, notify.SeverityError))
	require.Nil(t, sb.Pending)
}

func TestSelectOversizeFile(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects","maxSize":0.001}`)

	big := bytes.Repeat([]byte{1}, 2<<20)
	code, env := f.do(t, multipartRequest(t, "/api/v1/media/sessions/"+sb.ID+"/select", part{"huge.png", "image/png", big}))

	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "File size too large. Maximum size: 0.001MB", env.Error)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateEmpty, sb.View.State)
	require.Equal(t, 1, countSeverity(sb.Notifications, notify.SeverityError))
	require.Nil(t, sb.Pending)
}

func TestOversizeFieldsBeforeImageReturn413(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects","maxSize":0.001}`)

	code, env := f.do(t, noteThenImageRequest(t, "/api/v1/media/sessions/"+sb.ID+"/select", 2<<20))

	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	require.Equal(t, "File size too large. Maximum size: 0.001MB", env.Error)
}

func TestSelectRequiresFile(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects"}`)

	code, _ := f.do(t, multipartRequest(t, "/api/v1/media/sessions/"+sb.ID+"/select"))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestDragAndDrop(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"testimonials"}`)
	base := "/api/v1/media/sessions/" + sb.ID

	code, env := f.do(t, httptest.NewRequest(http.MethodPost, base+"/drag-enter", bytes.NewBufferString(`{"items":1}`)))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, upload.StateDragHover, decodeSession(t, env).View.State)

	// Dropping nothing returns to empty without notifications.
	code, env = f.do(t, httptest.NewRequest(http.MethodPost, base+"/drop", nil))
	require.Equal(t, http.StatusOK, code)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateEmpty, sb.View.State)
	require.Empty(t, sb.Notifications)

	code, _ = f.do(t, httptest.NewRequest(http.MethodPost, base+"/drag-enter", bytes.NewBufferString(`{"items":2}`)))
	require.Equal(t, http.StatusOK, code)
	code, env = f.do(t, multipartRequest(t, base+"/drop",
		part{"first.webp", "image/webp", []byte("webp")},
		part{"second.jpg", "image/jpeg", []byte("jpg")},
	))
	require.Equal(t, http.StatusOK, code, env.Error)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateHasPreview, sb.View.State)
	require.False(t, sb.View.DragActive)
	require.Equal(t, "first.webp", sb.Pending.Name)

	code, _ = f.do(t, multipartRequest(t, base+"/drop", part{"third.png", "image/png", []byte("png")}))
	require.Equal(t, http.StatusConflict, code)
}

func TestRemoveReleasesPreview(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"profile"}`)
	base := "/api/v1/media/sessions/" + sb.ID

	_, env := f.do(t, multipartRequest(t, base+"/select", part{"me.jpg", "image/jpeg", []byte("jpg")}))
	previewURL := decodeSession(t, env).View.PreviewURL
	require.Equal(t, 1, f.previews.Len())

	code, env := f.do(t, httptest.NewRequest(http.MethodDelete, base+"/preview", nil))
	require.Equal(t, http.StatusOK, code)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateEmpty, sb.View.State)
	require.Nil(t, sb.Pending)
	require.Zero(t, f.previews.Len())

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, previewURL, nil))
	require.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, httptest.NewRequest(http.MethodDelete, base+"/preview", nil))
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusConflict, code)
}

func TestDisabledSession(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects","disabled":true,"value":"https://cdn.example.com/a.png"}`)
	require.True(t, sb.View.ShowPreview)
	require.False(t, sb.View.CanRemove)
	require.False(t, sb.View.CanBrowse)

	code, _ := f.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/media/sessions/"+sb.ID+"/preview", nil))
	require.Equal(t, http.StatusConflict, code)
}

func TestCloseSessionReleasesPreview(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects"}`)
	base := "/api/v1/media/sessions/" + sb.ID
	f.do(t, multipartRequest(t, base+"/select", part{"a.png", "image/png", []byte("png")}))
	require.Equal(t, 1, f.previews.Len())

	code, _ := f.do(t, httptest.NewRequest(http.MethodDelete, base, nil))
	require.Equal(t, http.StatusOK, code)
	require.Zero(t, f.previews.Len())

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, base, nil))
	require.Equal(t, http.StatusNotFound, code)
}

func TestDismissNotification(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects"}`)
	base := "/api/v1/media/sessions/" + sb.ID

	_, env := f.do(t, multipartRequest(t, base+"/select", part{"a.bmp", "image/bmp", []byte("bmp")}))
	notes := decodeSession(t, env).Notifications
	require.Len(t, notes, 1)

	code, env := f.do(t, httptest.NewRequest(http.MethodDelete, base+"/notifications/"+notes[0].ID, nil))
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, decodeSession(t, env).Notifications)

	code, _ = f.do(t, httptest.NewRequest(http.MethodDelete, base+"/notifications/"+notes[0].ID, nil))
	require.Equal(t, http.StatusNotFound, code)
}

func TestOpenSessionValidatesOwner(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/media/sessions", bytes.NewBufferString(`{"owner":"../etc"}`)))
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/media/sessions", bytes.NewBufferString(`{`)))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestCommitFailureKeepsPending(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects"}`)
	base := "/api/v1/media/sessions/" + sb.ID
	f.do(t, multipartRequest(t, base+"/select", part{"a.png", "image/png", []byte("png")}))

	f.store.uploadErr = errors.New("bucket unavailable")
	code, _ := f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusInternalServerError, code)

	f.store.uploadErr = nil
	code, _ = f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusOK, code)
}

func TestAssetLifecycle(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"education"}`)
	base := "/api/v1/media/sessions/" + sb.ID
	f.do(t, multipartRequest(t, base+"/select", part{"cert.jpg", "image/jpeg", []byte("jpg")}))
	_, env := f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	var asset Asset
	require.NoError(t, json.Unmarshal(env.Data, &asset))

	code, _ := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/media/assets/"+asset.ID, nil))
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/media/assets/"+asset.ID, nil))
	require.Equal(t, http.StatusOK, code)
	require.Zero(t, f.store.count())

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/media/assets/"+asset.ID, nil))
	require.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/media/assets", nil))
	require.Equal(t, http.StatusBadRequest, code)
}

func TestSweepClosesIdleSessions(t *testing.T) {
	previews := preview.NewRegistry(0)
	sessions := NewSessions(previews, upload.Config{})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return now }
	ctx := context.Background()

	idle, err := sessions.Open(ctx, OpenParams{Owner: "projects"})
	require.NoError(t, err)
	require.NoError(t, idle.Control.Select(ctx, upload.Candidate{Name: "a.png", Type: "image/png", Size: 3, Data: []byte("png")}))
	active, err := sessions.Open(ctx, OpenParams{Owner: "projects"})
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	_, err = sessions.Get(active.ID)
	require.NoError(t, err)
	now = now.Add(30 * time.Minute)

	require.Equal(t, 1, sessions.Sweep(ctx, time.Hour))
	require.Equal(t, 1, sessions.Len())
	require.Zero(t, previews.Len())

	_, err = sessions.Get(idle.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, idle.Control.Select(ctx, upload.Candidate{Name: "b.png", Type: "image/png", Size: 3, Data: []byte("png")}), upload.ErrClosed)

	sessions.CloseAll(ctx)
	require.Zero(t, sessions.Len())
}

func TestDropAlwaysEndsHover(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects","maxSize":0.001}`)
	base := "/api/v1/media/sessions/" + sb.ID
	dragEnter := func() {
		code, env := f.do(t, httptest.NewRequest(http.MethodPost, base+"/drag-enter", bytes.NewBufferString(`{"items":1}`)))
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, upload.StateDragHover, decodeSession(t, env).View.State)
	}
	requireIdle := func() {
		code, env := f.do(t, httptest.NewRequest(http.MethodGet, base, nil))
		require.Equal(t, http.StatusOK, code)
		view := decodeSession(t, env).View
		require.Equal(t, upload.StateEmpty, view.State)
		require.False(t, view.DragActive)
	}

	dragEnter()
	code, _ := f.do(t, noteThenImageRequest(t, base+"/drop", 2<<20))
	require.Equal(t, http.StatusRequestEntityTooLarge, code)
	requireIdle()

	dragEnter()
	code, _ = f.do(t, multipartRequest(t, base+"/drop", part{"huge.png", "image/png", bytes.Repeat([]byte{1}, 2<<20)}))
	require.Equal(t, http.StatusUnprocessableEntity, code)
	requireIdle()
}

func TestDropReadsOnlyFirstFile(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects","maxSize":5}`)

	first := bytes.Repeat([]byte{1}, 3<<20)
	second := bytes.Repeat([]byte{2}, 4<<20)
	code, env := f.do(t, multipartRequest(t, "/api/v1/media/sessions/"+sb.ID+"/drop",
		part{"first.png", "image/png", first},
		part{"second.png", "image/png", second},
	))

	require.Equal(t, http.StatusOK, code, env.Error)
	sb = decodeSession(t, env)
	require.Equal(t, upload.StateHasPreview, sb.View.State)
	require.NotNil(t, sb.Pending)
	require.Equal(t, "first.png", sb.Pending.Name)
	require.Equal(t, int64(len(first)), sb.Pending.Size)
}

func TestFailedCommitDoesNotRestoreRemovedImage(t *testing.T) {
	f := newFixture(t)
	sb := f.openSession(t, `{"owner":"projects"}`)
	base := "/api/v1/media/sessions/" + sb.ID
	f.do(t, multipartRequest(t, base+"/select", part{"a.png", "image/png", []byte("png")}))

	sess, err := f.svc.Sessions().Get(sb.ID)
	require.NoError(t, err)
	f.store.onUpload = func() { require.NoError(t, sess.Control.Remove(context.Background())) }
	f.store.uploadErr = errors.New("bucket unavailable")

	code, _ := f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusInternalServerError, code)

	f.store.onUpload = nil
	f.store.uploadErr = nil
	code, _ = f.do(t, httptest.NewRequest(http.MethodPost, base+"/commit", nil))
	require.Equal(t, http.StatusConflict, code)
	require.Zero(t, f.store.count())
}
