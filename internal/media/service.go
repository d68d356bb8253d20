package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/folio/service/internal/storage"
	"github.com/folio/service/internal/upload"
)

// ErrNothingToCommit is returned when a session has no uncommitted image.
var ErrNothingToCommit = errors.New("no image selected")

// ErrInvalidOwner is returned for malformed owner names.
var ErrInvalidOwner = errors.New("invalid owner")

// ownerRegex matches collection names such as "projects" or "testimonials".
var ownerRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

const defaultListLimit = 50

// Service contains the business logic for upload sessions and committed assets.
type Service struct {
	sessions *Sessions
	store    storage.Storage
	assets   AssetStore
}

// NewService creates a new media Service.
func NewService(sessions *Sessions, store storage.Storage, assets AssetStore) *Service {
	return &Service{sessions: sessions, store: store, assets: assets}
}

// Sessions exposes the open upload sessions.
func (s *Service) Sessions() *Sessions {
	return s.sessions
}

// OpenSession starts an upload session for content of the given owner.
func (s *Service) OpenSession(ctx context.Context, p OpenParams) (*Session, error) {
	if !ownerRegex.MatchString(p.Owner) {
		return nil, ErrInvalidOwner
	}
	sess, err := s.sessions.Open(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

// Commit persists the image behind the session's current preview to object
// storage and records it. The preview stays displayed.
func (s *Service) Commit(ctx context.Context, sessionID string) (*Asset, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	file, gen, ok := sess.takePending()
	if !ok {
		return nil, ErrNothingToCommit
	}

	asset, err := s.persist(ctx, sess, file)
	if err != nil {
		sess.restorePending(file, gen)
		return nil, err
	}
	return asset, nil
}

func (s *Service) persist(ctx context.Context, sess *Session, file *upload.Candidate) (*Asset, error) {
	key := storage.ObjectKey(sess.Owner, uuid.NewString(), file.Type)
	if err := s.store.Upload(ctx, key, bytes.NewReader(file.Data), int64(len(file.Data)), file.Type); err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}

	asset, err := s.assets.Create(ctx, &Asset{
		Owner:      sess.Owner,
		ObjectKey:  key,
		URL:        s.store.PublicURL(key),
		FileName:   file.Name,
		MimeType:   file.Type,
		Size:       int64(len(file.Data)),
		UploadedBy: sess.AdminID,
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			log.Ctx(ctx).Warn().Err(delErr).Str("key", key).Msg("orphaned object after failed insert")
		}
		return nil, fmt.Errorf("record asset: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("asset", asset.ID).
		Str("owner", asset.Owner).
		Int64("bytes", asset.Size).
		Msg("image committed")
	return asset, nil
}

// GetAsset returns a committed asset.
func (s *Service) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return s.assets.GetByID(ctx, id)
}

// ListAssets returns the newest committed assets of owner.
func (s *Service) ListAssets(ctx context.Context, owner string) ([]*Asset, error) {
	if !ownerRegex.MatchString(owner) {
		return nil, ErrInvalidOwner
	}
	return s.assets.ListByOwner(ctx, owner, defaultListLimit)
}

// DeleteAsset removes a committed asset from storage and the database.
func (s *Service) DeleteAsset(ctx context.Context, id string) error {
	asset, err := s.assets.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, asset.ObjectKey); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := s.assets.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

// IsNotFound returns true when the error indicates a missing session or asset.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrSessionNotFound)
}
