package service

import (
	"context"

	"github.com/Gopher0727/LobbyChat/internal/model"
	"github.com/Gopher0727/LobbyChat/internal/repository"
)

// ICatalogService exposes the read-only platform and game catalog
type ICatalogService interface {
	ListPlatforms(ctx context.Context) ([]*model.Platform, error)
	ListGames(ctx context.Context, platformID string) ([]*model.Game, error)
}

type CatalogService struct {
	catalogRepo repository.ICatalogRepository
}

func NewCatalogService(catalogRepo repository.ICatalogRepository) ICatalogService {
	return &CatalogService{catalogRepo: catalogRepo}
}

func (s *CatalogService) ListPlatforms(ctx context.Context) ([]*model.Platform, error) {
	platforms, err := s.catalogRepo.ListPlatforms(ctx)
	if err != nil {
		return nil, transient("list platforms", err)
	}
	return platforms, nil
}

// ListGames lists games of one platform, or all games when platformID is empty.
func (s *CatalogService) ListGames(ctx context.Context, platformID string) ([]*model.Game, error) {
	games, err := s.catalogRepo.ListGames(ctx, platformID)
	if err != nil {
		return nil, transient("list games", err)
	}
	return games, nil
}
