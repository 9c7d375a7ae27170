package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_PASS", "secret")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("COZE_API_TOKEN", "pat_xxx")
}

func TestParse_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 3, cfg.Queue.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 100, cfg.Queue.CompletedRetention)
	assert.Equal(t, 24*time.Hour, cfg.Queue.CleanGrace)
	assert.Equal(t, time.Second, cfg.Coze.PollInterval)
	assert.Equal(t, 30, cfg.Coze.PollAttempts)
	assert.Equal(t, 3*time.Second, cfg.Relay.TypingTimeout)
	assert.True(t, cfg.Features.SendOrderConfirmation)
	assert.True(t, cfg.Features.SendWelcomeMessage)
	assert.Equal(t, "default", cfg.Features.DefaultShopID)
	assert.False(t, cfg.App.IsDevelopment())
}

func TestParse_PrefixedOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "Development")
	t.Setenv("QUEUE_ATTEMPTS", "5")
	t.Setenv("FEATURE_WELCOME_MESSAGE", "false")
	t.Setenv("EVERSHOP_WEBHOOK_SECRET", "whsec")
	t.Setenv("REDIS_ADDR", "cache:6380")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.True(t, cfg.App.IsDevelopment())
	assert.Equal(t, 5, cfg.Queue.Attempts)
	assert.False(t, cfg.Features.SendWelcomeMessage)
	assert.Equal(t, "whsec", cfg.EverShop.WebhookSecret)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestParse_MissingDBPassword(t *testing.T) {
	t.Setenv("DB_PASS", "")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("COZE_API_TOKEN", "pat")

	_, err := Parse()
	assert.ErrorContains(t, err, "DB_PASS")
}

func TestParse_JWTSecretOptionalInDevelopment(t *testing.T) {
	t.Setenv("DB_PASS", "secret")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("COZE_API_TOKEN", "pat")

	_, err := Parse()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("APP_ENV", "development")
	_, err = Parse()
	assert.NoError(t, err)
}

func TestParse_CozeCredentials(t *testing.T) {
	t.Setenv("DB_PASS", "secret")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("COZE_API_TOKEN", "")
	t.Setenv("COZE_APP_ID", "app")

	_, err := Parse()
	assert.ErrorContains(t, err, "COZE_API_TOKEN")

	t.Setenv("COZE_KEY_ID", "kid")
	t.Setenv("COZE_PRIVATE_KEY_PATH", "/keys/private.pem")
	_, err = Parse()
	assert.NoError(t, err)
}

func TestGetDSN(t *testing.T) {
	db := DBConfig{Host: "db", Port: 3307, User: "u", Password: "p", Database: "shop"}
	assert.Equal(t, "u:p@tcp(db:3307)/shop?parseTime=true&charset=utf8mb4", db.GetDSN())
}
