// Package storage keeps an optional audit trail of webhook deliveries.
//
// Backends:
//   - file: append-only JSON Lines
//   - sqlite: a single table, pure-Go driver
//
// The trail is write-mostly; RecentDeliveries only serves the ops endpoint.
package storage
