// Package store persists webhook events and the domain model projected
// from them (repositories, commits, pull requests, issues).
package store

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	slogGorm "github.com/orandin/slog-gorm"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New opens (and optionally migrates) the sqlite database at path.
// maxConns bounds the connection pool; it is the only shared resource
// between concurrent requests and projections.
func New(path string, migrate bool, maxConns int, logger *slog.Logger) (*Store, error) {
	gormLogger := slogGorm.New()

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if migrate {
		if err := db.AutoMigrate(&Event{}, &Repository{}, &Commit{}, &PullRequest{}, &Issue{}); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
	}

	// Set pragmas for performance
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=normal;")

	if maxConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(maxConns)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}
