package database

import (
	"context"
	"testing"

	"autoposter/internal/domain"
	"autoposter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := &models.Account{
		OwnerID:            "user-1",
		Email:              "first@example.com",
		PlatformsCSV:       "tiktok,instagram",
		FacebookPageID:     "page-1",
		FacebookPostToPage: true,
	}
	second := &models.Account{OwnerID: "user-1", Email: "second@example.com", Platform: "youtube"}
	other := &models.Account{OwnerID: "user-2", Email: "other@example.com"}
	for _, a := range []*models.Account{first, second, other} {
		require.NoError(t, db.InsertAccount(ctx, a))
	}

	got, err := db.GetAccount(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tiktok", "instagram"}, got.Platforms())
	assert.True(t, got.FacebookPostToPage)
	assert.Equal(t, "page-1", got.FacebookPageID)

	owned, err := db.ListAccountsByOwner(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, first.ID, owned[0].ID)
	assert.Equal(t, second.ID, owned[1].ID)

	none, err := db.ListAccountsByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = db.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	user := &models.User{Email: "owner@example.com", GoogleServiceAccountFile: "keys/owner.json"}
	require.NoError(t, db.InsertUser(ctx, user))

	got, err := db.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "keys/owner.json", got.GoogleServiceAccountFile)
	assert.Equal(t, "owner@example.com", got.DisplayName())

	_, err = db.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
