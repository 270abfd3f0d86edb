package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	t.Setenv("MMBOT_EXCHANGE_EMAIL", "")
	t.Setenv("MMBOT_EXCHANGE_PASSWORD", "")

	cfg, err := parseConfig()
	require.NoError(t, err)

	assert.Equal(t, "12223", cfg.AppConfig.APIPort)
	assert.Equal(t, "INBOX", cfg.MailboxConfig.Folder)
	assert.Equal(t, "push", cfg.MailboxConfig.SourceMode)
	assert.True(t, cfg.BotConfig.TrimSignature)
	assert.True(t, cfg.BotConfig.AllowImplicitCommand)
	assert.Equal(t, 10*time.Second, cfg.BotConfig.PollPeriod)
	assert.Equal(t, 10, cfg.BotConfig.RetrieveCount)
	assert.Equal(t, 100, cfg.BotConfig.MaxCachedMessages)
	assert.Equal(t, time.Hour, cfg.BotConfig.CacheWindow)
	assert.False(t, cfg.MailboxConfig.Enabled())
	assert.False(t, cfg.DatabaseConfig.Enabled())
	assert.False(t, cfg.ArchiveConfig.Enabled())
	assert.Equal(t, "s3", cfg.ArchiveConfig.Provider)
	assert.Equal(t, "0 */5 * * * *", cfg.CronConfig.CronScheduleCachePurge)
}

func TestParseConfig_MailboxFromEnvironment(t *testing.T) {
	t.Setenv("MMBOT_EXCHANGE_EMAIL", "bot@example.com")
	t.Setenv("MMBOT_EXCHANGE_PASSWORD", "secret")
	t.Setenv("MAILBOT_SOURCE_MODE", "poll")
	t.Setenv("MAILBOT_POLL_PERIOD", "30s")
	t.Setenv("MAILBOT_TRIM_SIGNATURE", "false")

	cfg, err := parseConfig()
	require.NoError(t, err)

	assert.True(t, cfg.MailboxConfig.Enabled())
	assert.Equal(t, "poll", cfg.MailboxConfig.SourceMode)
	assert.Equal(t, 30*time.Second, cfg.BotConfig.PollPeriod)
	assert.False(t, cfg.BotConfig.TrimSignature)
}

func TestParseConfig_InvalidDuration(t *testing.T) {
	t.Setenv("MAILBOT_CACHE_WINDOW", "forever")

	_, err := parseConfig()
	assert.Error(t, err)
}
