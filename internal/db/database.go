package db

import (
	"vault-backend/internal/config"
	"vault-backend/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB opens the postgres connection and migrates the execution ledger
func InitDB() {
	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		logrus.Fatal("Database DSN is required")
	}

	var err error
	DB, err = gorm.Open(postgres.Open(config.AppConfig.Database.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect database")
	}

	if err := DB.AutoMigrate(
		&models.ExecutionRecord{},
		&models.BatchProposalRecord{},
	); err != nil {
		logrus.WithError(err).Fatal("AutoMigrate failed")
	}

	logrus.Info("Database connected and migrated")
}
