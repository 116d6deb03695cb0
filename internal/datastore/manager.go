// Package datastore opens the artwork ledger on SQLite or MySQL and keeps
// its schema current.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

// Manager owns one database connection.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location (file path for SQLite, host:port/db for MySQL).
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// New opens the ledger selected by settings.Type.
func New(settings *conf.DatabaseSettings, log logger.Logger) (Manager, error) {
	if log == nil {
		log = GetLogger()
	}
	threshold := settings.SlowQueryThreshold
	if threshold <= 0 {
		threshold = defaultSlowQueryThreshold
	}
	gormLog := logger.NewGormLoggerAdapter(log, threshold)

	switch settings.Type {
	case conf.DatabaseMySQL:
		return NewMySQLManager(&MySQLConfig{
			Host:     settings.MySQL.Host,
			Port:     settings.MySQL.Port,
			Username: settings.MySQL.Username,
			Password: settings.MySQL.Password,
			Database: settings.MySQL.Database,
		}, gormLog)
	case conf.DatabaseSQLite, "":
		return NewSQLiteManager(settings.SQLite.Path, gormLog)
	default:
		return nil, errors.Newf("unsupported database type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SQLiteManager handles the SQLite ledger.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens (creating if needed) the SQLite database at dbPath.
func NewSQLiteManager(dbPath string, gormLog *logger.GormLoggerAdapter) (*SQLiteManager, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_db_dir").
				Build()
		}
	}

	// WAL for concurrent readers, busy timeout for the single writer, and
	// foreign keys so album deletes cascade to ledger rows.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", dbPath)

	cfg := &gorm.Config{}
	if gormLog != nil {
		cfg.Logger = gormLog
	}
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Context("path", dbPath).
			Build()
	}

	return &SQLiteManager{db: db, dbPath: dbPath}, nil
}

// Initialize runs the auto-migrations.
func (m *SQLiteManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB { return m.db }

// Path returns the database file path.
func (m *SQLiteManager) Path() string { return m.dbPath }

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool { return false }

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	return closeDB(m.db)
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.Album{}, &entities.ArtworkCache{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
