// Package media hosts the image upload sessions of the admin editors and
// persists the images they commit.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Asset is a committed image stored in object storage.
type Asset struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	ObjectKey  string    `json:"objectKey"`
	URL        string    `json:"url"`
	FileName   string    `json:"fileName,omitempty"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	UploadedBy string    `json:"uploadedBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrNotFound is returned when an asset does not exist.
var ErrNotFound = errors.New("asset not found")

// ErrAlreadyExists is returned when an object key is already recorded.
var ErrAlreadyExists = errors.New("asset already exists")

// AssetStore persists asset metadata.
type AssetStore interface {
	Create(ctx context.Context, a *Asset) (*Asset, error)
	GetByID(ctx context.Context, id string) (*Asset, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]*Asset, error)
	Delete(ctx context.Context, id string) error
}

// Repository handles all asset database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const assetColumns = `id, owner, object_key, url, file_name, mime_type, size, uploaded_by, created_at`

func scanAsset(row pgx.Row) (*Asset, error) {
	a := &Asset{}
	err := row.Scan(&a.ID, &a.Owner, &a.ObjectKey, &a.URL, &a.FileName, &a.MimeType, &a.Size, &a.UploadedBy, &a.CreatedAt)
	return a, err
}

// Create inserts a new asset and returns the stored record.
func (r *Repository) Create(ctx context.Context, a *Asset) (*Asset, error) {
	out, err := scanAsset(r.db.QueryRow(ctx,
		`INSERT INTO media_assets (owner, object_key, url, file_name, mime_type, size, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+assetColumns,
		a.Owner, a.ObjectKey, a.URL, a.FileName, a.MimeType, a.Size, a.UploadedBy,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return out, nil
}

// GetByID fetches an asset by its UUID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM media_assets WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get asset by id: %w", err)
	}
	return a, nil
}

// ListByOwner returns the newest assets of owner first.
func (r *Repository) ListByOwner(ctx context.Context, owner string, limit int) ([]*Asset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+assetColumns+`
		 FROM media_assets
		 WHERE owner = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	assets := []*Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

// Delete removes the asset record.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM media_assets WHERE id = $1`, id)
	if err != nil {
		if isInvalidText(err) {
			return ErrNotFound
		}
		return fmt.Errorf("delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isInvalidText reports a malformed UUID literal (code 22P02).
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
