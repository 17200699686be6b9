// Package storage persists one record per user: the UTC offset, tags and the
// event list.
//
// Two backends are supported:
//   - "file": one JSON document per user under a data directory, replaced
//     atomically (temp file + rename)
//   - "sqlite": a single SQLite database with one row per user
//
// UserStore sits on top of a Backend and serializes read-modify-write cycles
// per user, using a revision counter to detect writes made by other processes.
package storage
