package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
)

// MySQL connection pool limits.
const (
	mysqlMaxIdleConns    = 10
	mysqlMaxOpenConns    = 100
	mysqlConnMaxLifetime = time.Hour
)

// MySQLConfig holds MySQL connection settings.
type MySQLConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// DSN returns the go-sql-driver connection string.
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// MySQLManager handles the MySQL ledger.
type MySQLManager struct {
	db       *gorm.DB
	location string // host:port/database for display
}

// NewMySQLManager connects to MySQL and configures the pool.
func NewMySQLManager(cfg *MySQLConfig, gormLog *logger.GormLoggerAdapter) (*MySQLManager, error) {
	gcfg := &gorm.Config{}
	if gormLog != nil {
		gcfg.Logger = gormLog
	}
	location := fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(cfg.DSN()), gcfg)
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql").
			Context("location", location).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(mysqlMaxIdleConns)
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetConnMaxLifetime(mysqlConnMaxLifetime)

	return &MySQLManager{db: db, location: location}, nil
}

// Initialize runs the auto-migrations.
func (m *MySQLManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB { return m.db }

// Path returns host:port/database.
func (m *MySQLManager) Path() string { return m.location }

// IsMySQL returns true.
func (m *MySQLManager) IsMySQL() bool { return true }

// Close closes the database connection.
func (m *MySQLManager) Close() error {
	return closeDB(m.db)
}
