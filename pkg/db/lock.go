package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock on dialects that support one. SQLite serializes
// writers per database, so the clause is left out there.
func ForUpdate(conn *gorm.DB) *gorm.DB {
	if conn.Dialector != nil && conn.Dialector.Name() == "sqlite" {
		return conn
	}
	return conn.Clauses(clause.Locking{Strength: "UPDATE"})
}
