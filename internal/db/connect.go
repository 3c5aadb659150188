// Package db opens and migrates the bridge's relational store.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a GORM connection for the configured driver. The default
// deployment is a single sqlite file; mysql is available for installs that
// already run a server.
func Connect(driver, path, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch driver {
	case "", "sqlite":
		if path == "" {
			return nil, fmt.Errorf("db: sqlite path is required")
		}
		gdb, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
		}
		return gdb, nil
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("db: mysql dsn is required")
		}
		gdb, err := gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open mysql: %w", err)
		}
		return gdb, nil
	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}
}
