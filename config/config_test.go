package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
http:
  address: ":8081"
database:
  host: db
  port: 5433
  user: app
  name: guards
  ssl_mode: disable
ledger:
  driver: redis
  lease: 45s
ratelimit:
  driver: redis
  policies:
    payment_attempt:
      window: 30s
      max_requests: 3
      block_duration: 2m
gateway:
  public_key: pkey_yaml
  timeout: 4s
webhook:
  processing_timeout: 3s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func setSecrets(t *testing.T) {
	t.Setenv("GATEWAY_SECRET_KEY", "skey_test")
	t.Setenv("WEBHOOK_SECRET", "whsec")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("DATABASE_PASSWORD", "s3cret")
}

func TestLoadConfig(t *testing.T) {
	setSecrets(t)

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Address)
	assert.Equal(t, ":9090", cfg.GRPC.Address, "defaults survive partial files")
	assert.Equal(t, DriverRedis, cfg.Ledger.Driver)
	assert.Equal(t, 45*time.Second, cfg.Ledger.Lease)
	assert.Equal(t, 30*24*time.Hour, cfg.Ledger.Retention)
	assert.Equal(t, 4*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, "skey_test", cfg.Gateway.SecretKey)
	assert.Equal(t, "pkey_yaml", cfg.Gateway.PublicKey)
	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Contains(t, cfg.Database.DSN(), "port=5433")
	assert.Equal(t, "pgx5://app:s3cret@db:5433/guards?sslmode=disable", cfg.Database.URL())

	assert.Equal(t, 3, cfg.RateLimit.Policies["payment_attempt"].MaxRequests)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Policies["payment_attempt"].BlockDuration)
	assert.Equal(t, 3, cfg.RateLimit.Policies["refund_request"].MaxRequests, "unlisted actions get defaults")

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_ReportsMissingSecretsAndBadDrivers(t *testing.T) {
	cfg := Default()
	cfg.fillPolicies()
	cfg.Storage.Driver = "sqlite"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway public and secret keys are required")
	assert.Contains(t, err.Error(), "WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "storage.driver")
}

func TestValidate_LedgerLeaseMustOutliveGatewayCall(t *testing.T) {
	tests := []struct {
		name    string
		lease   time.Duration
		timeout time.Duration
		wantErr bool
	}{
		{name: "defaults", lease: 2 * time.Minute, timeout: 10 * time.Second},
		{name: "equal", lease: 10 * time.Second, timeout: 10 * time.Second, wantErr: true},
		{name: "shorter lease", lease: 5 * time.Second, timeout: 30 * time.Second, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.fillPolicies()
			cfg.Gateway.PublicKey, cfg.Gateway.SecretKey = "pkey", "skey"
			cfg.Webhook.Secret, cfg.Auth.JWTSecret = "whsec", "jwt"
			cfg.Ledger.Lease = tt.lease
			cfg.Gateway.Timeout = tt.timeout

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ledger.lease")
			assert.Contains(t, err.Error(), "must exceed gateway.timeout")
		})
	}
}
