package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	cronconfig "github.com/customeros/mailbot/internal/cron/config"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	MailboxConfig  *MailboxConfig
	BotConfig      *BotConfig
	DatabaseConfig *DatabaseConfig
	ArchiveConfig  *ArchiveConfig
	CronConfig     *cronconfig.Config
}

func InitConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	return parseConfig()
}

func parseConfig() (*Config, error) {
	config := &Config{
		AppConfig:      &AppConfig{},
		Logger:         &logger.Config{},
		Tracing:        &tracing.JaegerConfig{},
		MailboxConfig:  &MailboxConfig{},
		BotConfig:      &BotConfig{},
		DatabaseConfig: &DatabaseConfig{},
		ArchiveConfig:  &ArchiveConfig{},
		CronConfig:     &cronconfig.Config{},
	}

	if err := env.Parse(config); err != nil {
		return nil, err
	}

	return config, nil
}
