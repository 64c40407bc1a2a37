package app

import (
	"fmt"
	"strings"

	"github.com/shrimpsizemoose/gradebook/internal/store"
	"github.com/shrimpsizemoose/gradebook/internal/store/postgres"
	"github.com/shrimpsizemoose/gradebook/internal/store/sqlite"
)

func DetectDatabaseType(dsn string) store.DatabaseType {
	if strings.HasPrefix(dsn, "postgres") {
		return store.DBTypePostgres
	}
	return store.DBTypeSQLite
}

func NewStore(dsn, migrationsDir string) (store.GradebookStore, error) {
	switch DetectDatabaseType(dsn) {
	case store.DBTypePostgres:
		return postgres.NewPostgresStore(dsn, migrationsDir)
	case store.DBTypeSQLite:
		return sqlite.NewSQLiteStore(dsn, migrationsDir)
	default:
		return nil, fmt.Errorf("unable to determine database type from DSN: %s", dsn)
	}
}
