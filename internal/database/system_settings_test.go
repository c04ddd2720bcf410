package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	value, err := GetSystemSetting(ctx, db, "missing")
	require.NoError(t, err)
	require.Equal(t, "", value)

	require.NoError(t, UpsertSystemSetting(ctx, db, RegistrationOpenSetting, "false"))
	value, err = GetSystemSetting(ctx, db, RegistrationOpenSetting)
	require.NoError(t, err)
	require.Equal(t, "false", value)

	require.NoError(t, UpsertSystemSetting(ctx, db, RegistrationOpenSetting, "true"))
	value, err = GetSystemSetting(ctx, db, RegistrationOpenSetting)
	require.NoError(t, err)
	require.Equal(t, "true", value)
}

func TestSeedSystemSettingDoesNotOverwrite(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	require.NoError(t, SeedSystemSetting(ctx, db, "site.name", "first"))
	require.NoError(t, SeedSystemSetting(ctx, db, "site.name", "second"))

	value, err := GetSystemSetting(ctx, db, "site.name")
	require.NoError(t, err)
	require.Equal(t, "first", value)
}

func TestUpsertSystemSettingRequiresKey(t *testing.T) {
	db := openTestDB(t)
	require.Error(t, UpsertSystemSetting(context.Background(), db, "  ", "x"))
	require.Error(t, UpsertSystemSetting(context.Background(), nil, "k", "x"))
}
