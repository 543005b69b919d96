package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	platforms, err := h.catalog.ListPlatforms(ctx)
	require.NoError(t, err)
	assert.Len(t, platforms, 2)

	games, err := h.catalog.ListGames(ctx, "")
	require.NoError(t, err)
	assert.Len(t, games, 2)

	games, err = h.catalog.ListGames(ctx, "pc")
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "wow", games[0].ID)

	games, err = h.catalog.ListGames(ctx, "switch")
	require.NoError(t, err)
	assert.Empty(t, games)
}
