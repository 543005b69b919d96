package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/internal/model"
)

// ICatalogRepository reads the platform and game catalog.
type ICatalogRepository interface {
	ListPlatforms(ctx context.Context) ([]*model.Platform, error)
	ListGames(ctx context.Context, platformID string) ([]*model.Game, error)
	GameExists(ctx context.Context, gameID string) (bool, error)
}

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) ICatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) ListPlatforms(ctx context.Context) ([]*model.Platform, error) {
	var platforms []*model.Platform
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&platforms).Error; err != nil {
		return nil, err
	}
	return platforms, nil
}

// ListGames lists games, optionally restricted to one platform.
func (r *CatalogRepository) ListGames(ctx context.Context, platformID string) ([]*model.Game, error) {
	query := r.db.WithContext(ctx).Order("title ASC")
	if platformID != "" {
		query = query.Where("platform_id = ?", platformID)
	}
	var games []*model.Game
	if err := query.Find(&games).Error; err != nil {
		return nil, err
	}
	return games, nil
}

func (r *CatalogRepository) GameExists(ctx context.Context, gameID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Game{}).Where("id = ?", gameID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
