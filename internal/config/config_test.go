package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RETURN_WINDOW_DAYS", "TX_MAX_ATTEMPTS", "OFFLINE_POLL_INTERVAL", "CATALOG_CACHE_TTL_SECONDS", "PORT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 7, cfg.ReturnWindowDays)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.OfflinePollInterval)
	assert.Equal(t, 5*time.Minute, cfg.CatalogCacheTTL)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadRejectsNonsenseValues(t *testing.T) {
	t.Setenv("RETURN_WINDOW_DAYS", "-3")
	t.Setenv("TX_MAX_ATTEMPTS", "many")
	t.Setenv("OFFLINE_POLL_INTERVAL", "2m")
	t.Setenv("INVOICE_PREFIX", " pos ")

	cfg := Load()
	assert.Equal(t, 7, cfg.ReturnWindowDays)
	assert.Equal(t, 5, cfg.TxMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.OfflinePollInterval)
	assert.Equal(t, "POS", cfg.InvoicePrefix)
}
