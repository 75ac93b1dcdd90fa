package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tryon-server/internal/domain"
)

// CatalogRepositoryPG implements domain.CatalogRepository over the garments
// and user_photos tables. Both are written by the wardrobe subsystem; this
// repository only reads image keys from them.
type CatalogRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a read-only catalog repository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepositoryPG {
	return &CatalogRepositoryPG{pool: pool}
}

// GarmentImage returns the storage key and category of a garment.
func (r *CatalogRepositoryPG) GarmentImage(ctx context.Context, id string) (string, string, error) {
	var key, category string
	err := r.pool.QueryRow(ctx, `SELECT image_key, category FROM garments WHERE id = $1;`, id).
		Scan(&key, &category)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", domain.ErrNotFound
		}
		return "", "", err
	}
	return key, category, nil
}

// UserPhotoImage returns the storage key of a user photo.
func (r *CatalogRepositoryPG) UserPhotoImage(ctx context.Context, id string) (string, error) {
	var key string
	err := r.pool.QueryRow(ctx, `SELECT image_key FROM user_photos WHERE id = $1;`, id).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return key, nil
}
