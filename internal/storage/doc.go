// Package storage persists the delivery journal.
//
// Each delivery attempt made by the relay dispatcher is appended as one
// DeliveryRecord. The pending queue itself is never persisted.
//
// Drivers:
//   - "file": JSON Lines file, with an in-memory window of recent records
//   - "sqlite": SQLite database via modernc.org/sqlite
package storage
