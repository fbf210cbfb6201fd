package settings_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/config"
	"sitepulse/internal/settings"
	"sitepulse/internal/testsupport"
)

func TestMain(m *testing.M) {
	os.Setenv("SITEPULSE_ENV", "test")
	config.Reset()
	os.Exit(m.Run())
}

func TestSettingUpsert(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	value, err := settings.GetSetting(db, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, settings.CreateOrUpdateSetting(db, "greeting", "hello"))
	require.NoError(t, settings.CreateOrUpdateSetting(db, "greeting", "hola"))

	value, err = settings.GetSetting(db, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hola", value)
}

func TestDashboardAPIKey(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	t.Run("verify before any key is configured", func(t *testing.T) {
		ok, err := settings.VerifyDashboardAPIKey(db, "sp_whatever")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("generate and verify", func(t *testing.T) {
		key, err := settings.GenerateDashboardAPIKey(db)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, "sp_"))

		// Only the hash is stored.
		stored, err := settings.GetSetting(db, settings.KeyDashboardAPIKeyHash)
		require.NoError(t, err)
		assert.NotEqual(t, key, stored)
		assert.NotEmpty(t, stored)

		ok, err := settings.VerifyDashboardAPIKey(db, key)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = settings.VerifyDashboardAPIKey(db, "sp_wrong")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = settings.VerifyDashboardAPIKey(db, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("regeneration invalidates the old key", func(t *testing.T) {
		first, err := settings.GenerateDashboardAPIKey(db)
		require.NoError(t, err)

		second, err := settings.GenerateDashboardAPIKey(db)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		ok, err := settings.VerifyDashboardAPIKey(db, first)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = settings.VerifyDashboardAPIKey(db, second)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
