package config

import (
	"time"

	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12223"`
	APIKey      string `env:"API_KEY"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	Logger      *logger.Config
	Tracing     *tracing.JaegerConfig
}

// MailboxConfig describes the single mailbox the bot listens on.
// Address and Password are read from the same variables the old Exchange adapter used.
type MailboxConfig struct {
	Address  string `env:"MMBOT_EXCHANGE_EMAIL"`
	Password string `env:"MMBOT_EXCHANGE_PASSWORD"`
	URL      string `env:"MMBOT_EXCHANGE_URL"`
	SMTPURL  string `env:"MAILBOT_SMTP_URL"`
	Folder   string `env:"MAILBOT_MAILBOX_FOLDER" envDefault:"INBOX"`
	// push or poll
	SourceMode           string        `env:"MAILBOT_SOURCE_MODE" envDefault:"push"`
	SubscriptionLifetime time.Duration `env:"MAILBOT_SUBSCRIPTION_LIFETIME" envDefault:"25m"`
}

type BotConfig struct {
	Name                 string        `env:"MAILBOT_BOT_NAME" envDefault:"mmbot"`
	TrimSignature        bool          `env:"MAILBOT_TRIM_SIGNATURE" envDefault:"true"`
	AllowImplicitCommand bool          `env:"MAILBOT_ALLOW_IMPLICIT_COMMAND" envDefault:"true"`
	PollPeriod           time.Duration `env:"MAILBOT_POLL_PERIOD" envDefault:"10s"`
	RetrieveCount        int           `env:"MAILBOT_RETRIEVE_COUNT" envDefault:"10"`
	MaxCachedMessages    int           `env:"MAILBOT_MAX_CACHED_MESSAGES" envDefault:"100"`
	CacheWindow          time.Duration `env:"MAILBOT_CACHE_WINDOW" envDefault:"1h"`
	// empty means CRLF, the plain text mail line break
	ReplySeparator    string `env:"MAILBOT_REPLY_SEPARATOR"`
	DispatchQueueSize int    `env:"MAILBOT_DISPATCH_QUEUE_SIZE" envDefault:"64"`
}

// Enabled reports whether the mailbox adapter has what it needs to connect.
func (m *MailboxConfig) Enabled() bool {
	return m.Address != "" && m.Password != ""
}

// DatabaseConfig is optional, without a host the polling checkpoint lives in memory.
type DatabaseConfig struct {
	Host            string `env:"MAILBOT_POSTGRES_HOST"`
	Port            string `env:"MAILBOT_POSTGRES_PORT" envDefault:"5432"`
	User            string `env:"MAILBOT_POSTGRES_USER"`
	DBName          string `env:"MAILBOT_POSTGRES_DB_NAME"`
	Password        string `env:"MAILBOT_POSTGRES_PASSWORD"`
	MaxConn         int    `env:"MAILBOT_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"MAILBOT_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"MAILBOT_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"MAILBOT_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILBOT_POSTGRES_SSL_MODE" envDefault:"require"`
}

func (d *DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ArchiveConfig is optional, without a bucket accepted mail is not archived.
type ArchiveConfig struct {
	// s3 or r2
	Provider        string `env:"MAILBOT_ARCHIVE_PROVIDER" envDefault:"s3"`
	Bucket          string `env:"MAILBOT_ARCHIVE_BUCKET"`
	Prefix          string `env:"MAILBOT_ARCHIVE_PREFIX" envDefault:"mail"`
	Region          string `env:"MAILBOT_ARCHIVE_REGION" envDefault:"us-east-1"`
	AccountID       string `env:"MAILBOT_ARCHIVE_ACCOUNT_ID"`
	AccessKeyID     string `env:"MAILBOT_ARCHIVE_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"MAILBOT_ARCHIVE_ACCESS_KEY_SECRET"`
}

func (a *ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}
