package db

import (
	"log"
	"time"

	"github.com/forgemedia/creator-platform/internal/generation"
	"github.com/forgemedia/creator-platform/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb
}

// Migrate creates the users table and one entity table per generation
// variant. The variant tables share a schema; only the table name differs.
func Migrate(gdb *gorm.DB, variants ...generation.Variant) error {
	if err := gdb.AutoMigrate(&models.User{}); err != nil {
		return err
	}
	for _, v := range variants {
		if err := gdb.Table(v.Table).AutoMigrate(&generation.Entity{}); err != nil {
			return err
		}
	}
	return nil
}
