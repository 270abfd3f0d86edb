package database

import (
	"gorm.io/gorm"

	"github.com/customeros/mailbot/config"
)

// InitMailbotDatabase returns nil without error when no database is configured.
func InitMailbotDatabase(dbConfig *config.DatabaseConfig) (*gorm.DB, error) {
	if dbConfig == nil || !dbConfig.Enabled() {
		return nil, nil
	}
	return NewConnection(dbConfig)
}
