// Package entities defines the GORM models of the artwork ledger.
//
// The albums table is owned by the album domain; this subsystem only reads
// it and maintains the artwork_cached flag and timestamp. artwork_cache
// holds one row per cached (album, variant) pair.
package entities
