package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "event", cfg.Engine.ClaimExpiryBasis)
	assert.Equal(t, uint(5), cfg.Engine.ConflictRetries)
	assert.Equal(t, 2*time.Second, cfg.Engine.PublishTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Audit.FlushInterval)
	assert.Equal(t, RedisChanEvents, cfg.Redis.Channel)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Nil(t, cfg.Auth.PublicKey)
	assert.Empty(t, cfg.Auth.Issuer)
	assert.Equal(t, 5*time.Second, cfg.Auth.Leeway)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_PATH", "/tmp/ledger.db")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ENGINE_CLAIM_EXPIRY_BASIS", "apply")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "apply", cfg.Engine.ClaimExpiryBasis)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
server:
  port: 7000
database:
  driver: postgres
  url: postgres://ledger@localhost/ledger
logger:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"memory", Config{Database: DatabaseConfig{Driver: DriverMemory}}, true},
		{"postgres without url", Config{Database: DatabaseConfig{Driver: DriverPostgres}}, false},
		{"sqlite without path", Config{Database: DatabaseConfig{Driver: DriverSQLite}}, false},
		{"unknown driver", Config{Database: DatabaseConfig{Driver: "mongo"}}, false},
		{"kafka without brokers", Config{Database: DatabaseConfig{Driver: DriverMemory}, Kafka: KafkaConfig{Enabled: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
