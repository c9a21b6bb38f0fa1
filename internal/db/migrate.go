package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/consortium/internal/config"
	"github.com/zulandar/consortium/internal/models"
)

// AllModels returns every GORM model backed by a table.
func AllModels() []interface{} {
	return []interface{}{
		&models.ConsortiumSession{},
		&models.ModelResponse{},
		&models.Evaluation{},
		&models.ModelPerformance{},
	}
}

// AutoMigrate creates or updates all tables and their indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// EnsureDatabase creates the MySQL database named by cfg if it does not
// exist. It is a no-op for SQLite, whose file is created on open.
func EnsureDatabase(cfg config.DatabaseConfig) error {
	if cfg.Driver != config.DriverMySQL {
		return nil
	}
	admin := cfg
	admin.Name = ""
	adminDB, err := Connect(admin)
	if err != nil {
		return err
	}
	defer Close(adminDB)

	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", cfg.Name, err)
	}
	return nil
}
