// Package storage provides database access for the entity graph: datasets,
// canonical entities, record mappings, feature values, embeddings, analysis
// results and the provenance audit trail.
//
// Stores operate over a DBTX so the same code runs against a *sql.DB for
// standalone reads and against a *sql.Tx when a job needs all of its writes
// committed atomically.
package storage

import "database/sql"

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
