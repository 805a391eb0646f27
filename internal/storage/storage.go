package storage

import (
	"log/slog"

	"github.com/cuongbtq/scheduler-be/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations for the scheduling core.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance.
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}
