package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, DriverMemory, cfg.StoreDriver)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, time.Minute, cfg.DashboardInterval)
	require.Equal(t, 20, cfg.DashboardMaxEntries)
	require.Equal(t, 10*time.Second, cfg.CallTimeout)
	require.False(t, cfg.ReconcileOnTransition)
	require.Empty(t, cfg.DashboardChannelID)
	require.Equal(t, 50*time.Millisecond, cfg.KafkaBatchTimeout)
	require.Equal(t, time.UTC, cfg.Location())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"STORE_DRIVER":            " SQLite ",
		"SQLITE_PATH":             "/data/presence.db",
		"KAFKA_BROKERS":           "k1:9092, k2:9092,,",
		"DASHBOARD_INTERVAL":      "30s",
		"DASHBOARD_CHANNEL_ID":    "C0DASH",
		"RESET_TIMEZONE":          "Europe/Berlin",
		"RECONCILE_ON_TRANSITION": "true",
	})
	require.NoError(t, err)

	require.Equal(t, DriverSQLite, cfg.StoreDriver)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 30*time.Second, cfg.DashboardInterval)
	require.Equal(t, "C0DASH", cfg.DashboardChannelID)
	require.True(t, cfg.ReconcileOnTransition)
	require.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := LoadFrom(map[string]string{"DASHBOARD_INTERVAL": "soon"})
	require.Error(t, err)

	_, err = LoadFrom(map[string]string{
		"STORE_DRIVER":   "redis",
		"RESET_TIMEZONE": "Mars/Olympus",
		"CALL_TIMEOUT":   "0s",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "STORE_DRIVER")
	require.Contains(t, err.Error(), "RESET_TIMEZONE")
	require.Contains(t, err.Error(), "CALL_TIMEOUT")
}
