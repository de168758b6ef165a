// Package storage is the SQLite persistence layer: the schedules table, the
// append-only dispense log and a small JSON settings table.
//
// Every driver error is returned as a *feeding.PersistenceError; missing rows
// are reported as feeding.ErrNotFound.
package storage
