package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailbot/config"
	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/models"
)

type Repositories struct {
	CheckpointRepository interfaces.CheckpointRepository
}

// InitRepositories falls back to in-memory storage when db is nil.
func InitRepositories(db *gorm.DB) *Repositories {
	if db == nil {
		return &Repositories{
			CheckpointRepository: NewMemoryCheckpointRepository(),
		}
	}
	return &Repositories{
		CheckpointRepository: NewCheckpointRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, mailbotDB *gorm.DB) error {
	db, err := mailbotDB.DB()
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(5)

	err = mailbotDB.AutoMigrate(
		&models.MailboxCheckpoint{},
	)

	if dbConfig.MaxIdleConn > 0 {
		db.SetMaxIdleConns(dbConfig.MaxIdleConn)
	}
	if dbConfig.MaxConn > 0 {
		db.SetMaxOpenConns(dbConfig.MaxConn)
	}
	if dbConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)
	}

	return err
}
