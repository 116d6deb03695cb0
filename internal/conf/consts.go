// conf/consts.go hard coded constants
package conf

// Supported ledger backends.
const (
	DatabaseSQLite = "sqlite"
	DatabaseMySQL  = "mysql"
)

// Environment variable prefix for the generic key binding.
const envPrefix = "TRACKLIST"
